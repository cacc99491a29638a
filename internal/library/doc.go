// Package library defines the document schema shared by the favorites and
// collections engine: the users/{id} and collections/{id} field names, strict
// decoders that turn loosely typed store documents into UserProfile and
// Collection values, the Profiles helper for user document mutations, and the
// error taxonomy every component reports through.
package library
