// Package remote serves a docstore.Store over a websocket and provides the
// matching client.
package remote

import (
	"errors"
	"fmt"

	"github.com/five82/backdrop/internal/docstore"
)

// Frame types. Requests flow client to server; replies and snapshots flow back.
const (
	frameGet      = "get"
	frameCreate   = "create"
	frameSet      = "set"
	frameUpdate   = "update"
	frameDelete   = "delete"
	frameWatch    = "watch"
	frameUnwatch  = "unwatch"
	frameReply    = "reply"
	frameSnapshot = "snapshot"
)

// Error codes carried in reply frames.
const (
	codeNotFound      = "not_found"
	codeAlreadyExists = "already_exists"
	codeClosed        = "closed"
	codeInvalid       = "invalid"
	codeInternal      = "internal"
	codeDisconnected  = "disconnected"
)

// ErrDisconnected is returned for requests issued or pending while the client
// has no live connection.
var ErrDisconnected = errors.New("document store disconnected")

type frame struct {
	Type    string             `json:"type"`
	ID      uint64             `json:"id,omitempty"`
	WatchID uint64             `json:"watchId,omitempty"`
	Key     docstore.Key       `json:"key"`
	Fields  docstore.Fields    `json:"fields,omitempty"`
	Ops     []docstore.Op      `json:"ops,omitempty"`
	Doc     *docstore.Document `json:"doc,omitempty"`
	Error   string             `json:"error,omitempty"`
	Code    string             `json:"code,omitempty"`
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, docstore.ErrNotFound):
		return codeNotFound
	case errors.Is(err, docstore.ErrAlreadyExists):
		return codeAlreadyExists
	case errors.Is(err, docstore.ErrClosed):
		return codeClosed
	default:
		return codeInternal
	}
}

func replyError(f frame) error {
	if f.Code == "" && f.Error == "" {
		return nil
	}
	switch f.Code {
	case codeNotFound:
		return docstore.ErrNotFound
	case codeAlreadyExists:
		return docstore.ErrAlreadyExists
	case codeClosed:
		return docstore.ErrClosed
	case codeDisconnected:
		return ErrDisconnected
	default:
		return fmt.Errorf("remote %s: %s", f.Code, f.Error)
	}
}
