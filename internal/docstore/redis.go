package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore implements Store on top of Redis. Documents are JSON values
// keyed per collection and id; change notifications fan out over a Redis
// pub/sub channel per collection and, when a NATS connection is supplied,
// a mirrored NATS subject for cross-cluster listeners.
//
// There is no compare-and-swap on writes: concurrent updates to the same
// document are resolved by write order alone, field-level last write wins.
type RedisStore struct {
	client  *redis.Client
	nats    *nats.Conn
	prefix  string
	logger  zerolog.Logger
	rootCtx context.Context
	cancel  context.CancelFunc
}

// NewRedisStore builds a Redis-backed document store. The NATS connection is
// optional and may be nil.
func NewRedisStore(client *redis.Client, natsConn *nats.Conn, prefix string, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "trust"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisStore{
		client:  client,
		nats:    natsConn,
		prefix:  prefix,
		logger:  logger.With().Str("component", "redis_docstore").Logger(),
		rootCtx: ctx,
		cancel:  cancel,
	}
}

func (s *RedisStore) docKey(collection, id string) string {
	return fmt.Sprintf("%s:doc:%s:%s", s.prefix, collection, id)
}

func (s *RedisStore) setKey(collection string) string {
	return fmt.Sprintf("%s:col:%s", s.prefix, collection)
}

func (s *RedisStore) channel(collection string) string {
	return fmt.Sprintf("%s:changes:%s", s.prefix, collection)
}

func (s *RedisStore) subject(collection string) string {
	return strings.ReplaceAll(s.prefix, ":", ".") + ".changes." + collection
}

// CreateDocument writes the full document and publishes the new state.
func (s *RedisStore) CreateDocument(ctx context.Context, collection, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.docKey(collection, id), raw, 0)
	pipe.SAdd(ctx, s.setKey(collection), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write document %s/%s: %w", collection, id, err)
	}

	s.publish(ctx, collection, id, raw)
	return nil
}

// UpdateDocument merges fields into the stored document.
func (s *RedisStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	doc, err := s.load(ctx, collection, id)
	if err != nil {
		return err
	}

	for key, value := range fields {
		doc[key] = value
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}

	if err := s.client.Set(ctx, s.docKey(collection, id), raw, 0).Err(); err != nil {
		return fmt.Errorf("write document %s/%s: %w", collection, id, err)
	}

	s.publish(ctx, collection, id, raw)
	return nil
}

// AppendToArrayField appends value to the named array field, skipping values
// already present by canonical JSON form.
func (s *RedisStore) AppendToArrayField(ctx context.Context, collection, id, field string, value any) error {
	doc, err := s.load(ctx, collection, id)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal array value: %w", err)
	}

	var current []json.RawMessage
	if existing, ok := doc[field]; ok && existing != nil {
		rawField, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("marshal field %s: %w", field, err)
		}
		if err := json.Unmarshal(rawField, &current); err != nil {
			return fmt.Errorf("field %s of %s/%s is not an array: %w", field, collection, id, err)
		}
	}

	// The stored items went through load's map round-trip, which sorts
	// object keys; the incoming value has not. Compare canonical forms or
	// identical candidates never match.
	canonical := canonicalize(encoded)
	for _, item := range current {
		if string(canonicalize(item)) == string(canonical) {
			return nil
		}
	}
	current = append(current, encoded)
	doc[field] = current

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s/%s: %w", collection, id, err)
	}

	if err := s.client.Set(ctx, s.docKey(collection, id), raw, 0).Err(); err != nil {
		return fmt.Errorf("write document %s/%s: %w", collection, id, err)
	}

	s.publish(ctx, collection, id, raw)
	return nil
}

// GetDocument unmarshals the current document state into out.
func (s *RedisStore) GetDocument(ctx context.Context, collection, id string, out any) error {
	raw, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read document %s/%s: %w", collection, id, err)
	}
	return json.Unmarshal(raw, out)
}

// ListDocuments returns every document currently in the collection.
func (s *RedisStore) ListDocuments(ctx context.Context, collection string) ([]json.RawMessage, error) {
	ids, err := s.client.SMembers(ctx, s.setKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list collection %s: %w", collection, err)
	}

	docs := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read document %s/%s: %w", collection, id, err)
		}
		docs = append(docs, json.RawMessage(raw))
	}
	return docs, nil
}

// SubscribeToDocument delivers the current and every future state of one document.
func (s *RedisStore) SubscribeToDocument(collection, id string, fn func(json.RawMessage)) (func(), error) {
	return s.subscribe(collection, func(ch change) {
		if ch.ID == id {
			fn(ch.Doc)
		}
	}, func(ctx context.Context) {
		raw, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
		if err == nil {
			fn(json.RawMessage(raw))
		}
	})
}

// SubscribeToCollection delivers the full collection contents after every change.
func (s *RedisStore) SubscribeToCollection(collection string, filter Filter, fn func([]json.RawMessage)) (func(), error) {
	deliver := func(ctx context.Context) {
		docs, err := s.ListDocuments(ctx, collection)
		if err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Msg("failed to list collection for subscriber")
			return
		}
		if filter != nil {
			filtered := docs[:0]
			for _, doc := range docs {
				if filter(doc) {
					filtered = append(filtered, doc)
				}
			}
			docs = filtered
		}
		fn(docs)
	}

	return s.subscribe(collection, func(change) {
		deliver(s.rootCtx)
	}, deliver)
}

// subscribe wires a per-subscription goroutine pair: one consuming the Redis
// channel and, when configured, one consuming the NATS subject. Duplicate
// delivery across the two transports is expected; consumers are idempotent.
func (s *RedisStore) subscribe(collection string, handle func(change), initial func(context.Context)) (func(), error) {
	ctx, cancel := context.WithCancel(s.rootCtx)

	pubsub := s.client.Subscribe(ctx, s.channel(collection))

	var natsSub *nats.Subscription
	if s.nats != nil {
		sub, err := s.nats.Subscribe(s.subject(collection), func(msg *nats.Msg) {
			s.dispatch(msg.Data, handle)
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Msg("nats subscription failed, continuing on redis only")
		} else {
			natsSub = sub
		}
	}

	go func() {
		if initial != nil {
			initial(ctx)
		}
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Error().Err(err).Str("collection", collection).Msg("docstore subscription closed")
				return
			}
			s.dispatch([]byte(msg.Payload), handle)
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
		if natsSub != nil {
			_ = natsSub.Unsubscribe()
		}
	}, nil
}

func (s *RedisStore) dispatch(payload []byte, handle func(change)) {
	var ch change
	if err := json.Unmarshal(payload, &ch); err != nil {
		s.logger.Warn().Err(err).Msg("invalid change event")
		return
	}
	handle(ch)
}

func (s *RedisStore) publish(ctx context.Context, collection, id string, doc json.RawMessage) {
	payload, err := json.Marshal(change{Collection: collection, ID: id, Doc: doc})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal change event")
		return
	}

	if err := s.client.Publish(ctx, s.channel(collection), payload).Err(); err != nil {
		s.logger.Warn().Err(err).Str("collection", collection).Msg("failed to publish change event")
	}

	if s.nats != nil {
		if err := s.nats.Publish(s.subject(collection), payload); err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Msg("failed to publish change event to nats")
		}
	}
}

func (s *RedisStore) load(ctx context.Context, collection, id string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document %s/%s: %w", collection, id, err)
	}

	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Close cancels every subscription. The Redis client is owned by the caller.
func (s *RedisStore) Close() error {
	s.cancel()
	return nil
}
