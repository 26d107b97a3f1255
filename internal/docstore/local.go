package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// localSchema guards the durable file against corrupt or foreign content.
// A file that fails validation is ignored and the store starts empty.
const localSchema = `{
  "type": "object",
  "properties": {
    "users": {"type": "object"},
    "sessions": {"type": "object"},
    "calls": {"type": "object"}
  },
  "additionalProperties": {"type": "object"}
}`

// LocalStore implements Store against a single durable JSON file, the
// fallback used when no remote backend is configured. A filesystem watcher
// on the file stands in for cross-tab storage events: a save made by another
// process of the same application triggers a reload and re-notifies every
// subscriber.
type LocalStore struct {
	path   string
	logger zerolog.Logger

	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	lastSaved   string

	subMu   sync.Mutex
	nextSub int
	docSubs map[int]docSubscription
	colSubs map[int]collectionSubscription

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

type docSubscription struct {
	collection string
	id         string
	fn         func(json.RawMessage)
}

type collectionSubscription struct {
	collection string
	filter     Filter
	fn         func([]json.RawMessage)
}

// NewLocalStore opens (or initialises) the durable file at path and starts
// watching it for external mutations.
func NewLocalStore(path string, logger zerolog.Logger) (*LocalStore, error) {
	s := &LocalStore{
		path:        path,
		logger:      logger.With().Str("component", "local_docstore").Logger(),
		collections: make(map[string]map[string]json.RawMessage),
		docSubs:     make(map[int]docSubscription),
		colSubs:     make(map[int]collectionSubscription),
		done:        make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s.mu.Lock()
	s.loadLocked()
	s.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory: saves go through a rename, which replaces the
	// watched inode if the file itself is watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch store directory: %w", err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *LocalStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.reloadFromDisk()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// reloadFromDisk re-reads the durable file after an external mutation and
// re-notifies all subscribers. Writes made by this process are skipped by
// comparing against the last saved content.
func (s *LocalStore) reloadFromDisk() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}

	s.mu.Lock()
	if string(raw) == s.lastSaved {
		s.mu.Unlock()
		return
	}
	s.loadLocked()
	s.mu.Unlock()

	s.notifyAll()
}

// loadLocked parses and validates the durable file. Callers hold s.mu.
func (s *LocalStore) loadLocked() {
	s.collections = make(map[string]map[string]json.RawMessage)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	s.lastSaved = string(raw)

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("durable store file is not valid json, starting empty")
		return
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("store.json", strings.NewReader(localSchema)); err == nil {
		if schema, err := compiler.Compile("store.json"); err == nil {
			if err := schema.Validate(generic); err != nil {
				s.logger.Warn().Err(err).Str("path", s.path).Msg("durable store file failed schema validation, starting empty")
				return
			}
		}
	}

	var decoded map[string]map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("durable store file has unexpected shape, starting empty")
		return
	}
	s.collections = decoded
}

// saveLocked persists the full state atomically. Callers hold s.mu.
func (s *LocalStore) saveLocked() error {
	raw, err := json.Marshal(s.collections)
	if err != nil {
		return fmt.Errorf("marshal store state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	s.lastSaved = string(raw)
	return nil
}

// CreateDocument writes a full document and persists the store.
func (s *LocalStore) CreateDocument(_ context.Context, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}

	s.mu.Lock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]json.RawMessage)
	}
	s.collections[collection][id] = raw
	err = s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifyDocument(collection, id, raw)
	s.notifyCollection(collection)
	return nil
}

// UpdateDocument merges fields into an existing document.
func (s *LocalStore) UpdateDocument(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	existing, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	doc := make(map[string]any)
	if err := json.Unmarshal(existing, &doc); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	for key, value := range fields {
		doc[key] = value
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}
	s.collections[collection][id] = raw
	err = s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifyDocument(collection, id, raw)
	s.notifyCollection(collection)
	return nil
}

// AppendToArrayField appends to an array field with set-union semantics.
func (s *LocalStore) AppendToArrayField(_ context.Context, collection, id, field string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal array value: %w", err)
	}

	s.mu.Lock()
	existing, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(existing, &doc); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}

	var current []json.RawMessage
	if rawField, ok := doc[field]; ok && len(rawField) > 0 {
		if err := json.Unmarshal(rawField, &current); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("field %s of %s/%s is not an array: %w", field, collection, id, err)
		}
	}

	canonical := canonicalize(encoded)
	for _, item := range current {
		if string(canonicalize(item)) == string(canonical) {
			s.mu.Unlock()
			return nil
		}
	}
	current = append(current, json.RawMessage(encoded))

	rawField, err := json.Marshal(current)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal field %s: %w", field, err)
	}
	doc[field] = rawField

	raw, err := json.Marshal(doc)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}
	s.collections[collection][id] = raw
	err = s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifyDocument(collection, id, raw)
	s.notifyCollection(collection)
	return nil
}

// GetDocument unmarshals the current document state into out.
func (s *LocalStore) GetDocument(_ context.Context, collection, id string, out any) error {
	s.mu.Lock()
	raw, ok := s.collections[collection][id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// ListDocuments returns every document in the collection.
func (s *LocalStore) ListDocuments(_ context.Context, collection string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]json.RawMessage, 0, len(s.collections[collection]))
	for _, raw := range s.collections[collection] {
		docs = append(docs, raw)
	}
	return docs, nil
}

// SubscribeToDocument delivers the current and every future state of one document.
func (s *LocalStore) SubscribeToDocument(collection, id string, fn func(json.RawMessage)) (func(), error) {
	s.subMu.Lock()
	s.nextSub++
	key := s.nextSub
	s.docSubs[key] = docSubscription{collection: collection, id: id, fn: fn}
	s.subMu.Unlock()

	s.mu.Lock()
	raw, ok := s.collections[collection][id]
	s.mu.Unlock()
	if ok {
		fn(raw)
	}

	return func() {
		s.subMu.Lock()
		delete(s.docSubs, key)
		s.subMu.Unlock()
	}, nil
}

// SubscribeToCollection delivers the full collection contents after every change.
func (s *LocalStore) SubscribeToCollection(collection string, filter Filter, fn func([]json.RawMessage)) (func(), error) {
	s.subMu.Lock()
	s.nextSub++
	key := s.nextSub
	s.colSubs[key] = collectionSubscription{collection: collection, filter: filter, fn: fn}
	s.subMu.Unlock()

	s.deliverCollection(collectionSubscription{collection: collection, filter: filter, fn: fn})

	return func() {
		s.subMu.Lock()
		delete(s.colSubs, key)
		s.subMu.Unlock()
	}, nil
}

func (s *LocalStore) notifyDocument(collection, id string, doc json.RawMessage) {
	s.subMu.Lock()
	subs := make([]docSubscription, 0, len(s.docSubs))
	for _, sub := range s.docSubs {
		if sub.collection == collection && sub.id == id {
			subs = append(subs, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(doc)
	}
}

func (s *LocalStore) notifyCollection(collection string) {
	s.subMu.Lock()
	subs := make([]collectionSubscription, 0, len(s.colSubs))
	for _, sub := range s.colSubs {
		if sub.collection == collection {
			subs = append(subs, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		s.deliverCollection(sub)
	}
}

func (s *LocalStore) notifyAll() {
	s.subMu.Lock()
	docSubs := make([]docSubscription, 0, len(s.docSubs))
	for _, sub := range s.docSubs {
		docSubs = append(docSubs, sub)
	}
	colSubs := make([]collectionSubscription, 0, len(s.colSubs))
	for _, sub := range s.colSubs {
		colSubs = append(colSubs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range docSubs {
		s.mu.Lock()
		raw, ok := s.collections[sub.collection][sub.id]
		s.mu.Unlock()
		if ok {
			sub.fn(raw)
		}
	}
	for _, sub := range colSubs {
		s.deliverCollection(sub)
	}
}

func (s *LocalStore) deliverCollection(sub collectionSubscription) {
	docs, _ := s.ListDocuments(context.Background(), sub.collection)
	if sub.filter != nil {
		filtered := make([]json.RawMessage, 0, len(docs))
		for _, doc := range docs {
			if sub.filter(doc) {
				filtered = append(filtered, doc)
			}
		}
		docs = filtered
	}
	sub.fn(docs)
}

// Close stops the file watcher. The durable file is left in place. Safe to
// call more than once.
func (s *LocalStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}
