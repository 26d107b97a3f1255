// Package docstore provides a minimal adapter over a multi-client, real-time
// document database: create or merge a document, append to an array field
// with set-union semantics, and subscribe to a document or a whole collection
// for live snapshots.
//
// Snapshot delivery is at-least-once. The same logical update may be observed
// several times, including a subscriber's own writes, so every consumer must
// apply snapshots idempotently.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

// Collections used by the application.
const (
	CollectionUsers    = "users"
	CollectionSessions = "sessions"
	CollectionCalls    = "calls"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// Filter narrows a collection subscription. A nil filter matches everything.
type Filter func(doc json.RawMessage) bool

// Store is the document-store adapter consumed by the hybrid store and the
// call signaling channel.
type Store interface {
	// CreateDocument writes a full document, replacing any existing content.
	CreateDocument(ctx context.Context, collection, id string, data any) error

	// UpdateDocument merges the given fields into an existing document,
	// last write wins at the field level. Returns ErrNotFound when the
	// document does not exist.
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error

	// AppendToArrayField appends a value to an array field using set-union
	// semantics: a value already present (by canonical JSON form) is not
	// appended again.
	AppendToArrayField(ctx context.Context, collection, id, field string, value any) error

	// GetDocument unmarshals the current document state into out.
	GetDocument(ctx context.Context, collection, id string, out any) error

	// ListDocuments returns every document in the collection.
	ListDocuments(ctx context.Context, collection string) ([]json.RawMessage, error)

	// SubscribeToDocument delivers the current state (when the document
	// exists) followed by every future state of the document. The returned
	// disposer stops delivery.
	SubscribeToDocument(collection, id string, fn func(json.RawMessage)) (func(), error)

	// SubscribeToCollection delivers the current contents of the collection
	// followed by the full contents after every change. Docs not matching
	// the filter are excluded.
	SubscribeToCollection(collection string, filter Filter, fn func([]json.RawMessage)) (func(), error)

	// Close releases subscriptions and backend connections.
	Close() error
}

// canonicalize re-encodes a JSON value through the generic decoder so object
// keys come out in a deterministic order. Equal values compare equal byte for
// byte regardless of how they were first encoded. Malformed input is returned
// unchanged.
func canonicalize(raw []byte) []byte {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return out
}

// change is the fan-out payload published on every document write.
type change struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Doc        json.RawMessage `json:"doc"`
}
