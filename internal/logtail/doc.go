// Package logtail reads the end of Backdrop's log file.
//
// Backdrop logs through logrus with the JSON formatter, one object per line,
// into a file (the terminal UI owns stdout). This package backs the
// "backdrop logs" command and the UI's log pane.
//
// # Reading
//
// Read returns the last maxLines of a file using a ring buffer of size
// maxLines, so memory stays bounded regardless of file size. A missing file
// returns nil, nil. A non-positive maxLines reads everything.
//
// # Parsing and Filtering
//
// Parse decodes one logrus JSON line into an Entry. Lines that are not JSON
// (panics, output from older builds) are kept as Raw entries at info level
// rather than dropped. Tail combines Read and Parse and keeps entries at or
// above a minimum level.
//
// # Formatting
//
// Format renders an Entry as:
//
//	2026-01-02 03:04:05 WARNING [favorites] favorite write failed wallpaper_id=w42
//
// The component field is lifted next to the level; remaining fields are
// sorted by key so output is stable.
package logtail
