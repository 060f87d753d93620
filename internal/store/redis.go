package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisAppendRetries = 5

// Redis is a DocumentStore backed by Redis. Each collection is one hash
// (doc id -> JSON payload); every write publishes the touched doc id on a
// per-collection pub/sub channel and subscribers re-read the collection to
// deliver a full snapshot, matching the snapshot-per-write contract.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis wraps an established go-redis client. prefix namespaces all keys
// and channels, e.g. "chatsync".
func NewRedis(client *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	if prefix == "" {
		prefix = "chatsync"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

func (r *Redis) hashKey(collection string) string {
	return r.prefix + ":docs:" + collection
}

func (r *Redis) channel(collection string) string {
	return r.prefix + ":inval:" + collection
}

// Query fetches the collection hash and applies the filter client-side.
func (r *Redis) Query(ctx context.Context, collection string, filter *Filter) ([]Document, error) {
	entries, err := r.client.HGetAll(ctx, r.hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(entries))
	for id, raw := range entries {
		data := json.RawMessage(raw)
		if !matchesFilter(data, filter) {
			continue
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Subscribe delivers an initial snapshot, then a fresh snapshot after every
// write to the collection.
func (r *Redis) Subscribe(ctx context.Context, collection string, filter *Filter, fn SnapshotFunc) (UnsubscribeFunc, error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(subCtx, r.channel(collection))
	// Force the subscription to be established before the initial read so
	// no write can slip between snapshot and subscription.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", collection, err)
	}

	initial, err := r.Query(subCtx, collection, filter)
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, err
	}
	fn(Snapshot{Docs: initial})

	go func() {
		for {
			_, err := pubsub.ReceiveMessage(subCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.logger.Error().Err(err).Str("collection", collection).Msg("redis subscription closed")
				}
				return
			}
			docs, err := r.Query(subCtx, collection, filter)
			if err != nil {
				r.logger.Error().Err(err).Str("collection", collection).Msg("snapshot re-read failed")
				continue
			}
			fn(Snapshot{Docs: docs})
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}

// SubscribeDocument delivers the document's current state, then again
// whenever the published doc id matches.
func (r *Redis) SubscribeDocument(ctx context.Context, path string, fn DocumentFunc) (UnsubscribeFunc, error) {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(subCtx, r.channel(collection))
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", collection, err)
	}

	deliver := func() {
		doc, err := r.GetDocument(subCtx, path)
		if errors.Is(err, ErrNotFound) {
			fn(Document{ID: docID}, false)
			return
		}
		if err != nil {
			r.logger.Error().Err(err).Str("path", path).Msg("document re-read failed")
			return
		}
		fn(doc, true)
	}
	deliver()

	go func() {
		for {
			msg, err := pubsub.ReceiveMessage(subCtx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.logger.Error().Err(err).Str("path", path).Msg("redis subscription closed")
				}
				return
			}
			if msg.Payload != docID {
				continue
			}
			deliver()
		}
	}()

	return func() {
		cancel()
		_ = pubsub.Close()
	}, nil
}

// GetDocument fetches one document by path.
func (r *Redis) GetDocument(ctx context.Context, path string) (Document, error) {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}

	raw, err := r.client.HGet(ctx, r.hashKey(collection), docID).Result()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Document{ID: docID, Data: json.RawMessage(raw)}, nil
}

// CreateDocument writes data under a fresh id and returns it.
func (r *Redis) CreateDocument(ctx context.Context, collection string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	id := uuid.NewString()
	if err := r.client.HSet(ctx, r.hashKey(collection), id, string(raw)).Err(); err != nil {
		return "", fmt.Errorf("create in %s: %w", collection, err)
	}
	r.publish(ctx, collection, id)
	return id, nil
}

// SetDocument replaces the document at path.
func (r *Redis) SetDocument(ctx context.Context, path string, data any) error {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	if err := r.client.HSet(ctx, r.hashKey(collection), docID, string(raw)).Err(); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	r.publish(ctx, collection, docID)
	return nil
}

// UpdateDocument merges partial fields into the document at path under an
// optimistic WATCH transaction.
func (r *Redis) UpdateDocument(ctx context.Context, path string, fields map[string]any) error {
	return r.rewrite(ctx, path, func(raw json.RawMessage) (json.RawMessage, error) {
		return mergeFields(raw, fields)
	})
}

// AppendToArrayField appends one value to a document's array field under an
// optimistic WATCH transaction, so concurrent appends retry instead of
// losing writes at the primitive level.
func (r *Redis) AppendToArrayField(ctx context.Context, path string, field string, value any) error {
	return r.rewrite(ctx, path, func(raw json.RawMessage) (json.RawMessage, error) {
		return appendToArray(raw, field, value)
	})
}

func (r *Redis) rewrite(ctx context.Context, path string, mutate func(json.RawMessage) (json.RawMessage, error)) error {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return err
	}
	key := r.hashKey(collection)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, docID).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		mutated, err := mutate(json.RawMessage(raw))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, docID, string(mutated))
			return nil
		})
		return err
	}

	for i := 0; i < redisAppendRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			r.publish(ctx, collection, docID)
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("rewrite %s: %w", path, err)
	}
	return fmt.Errorf("rewrite %s: %w", path, redis.TxFailedErr)
}

func (r *Redis) publish(ctx context.Context, collection, docID string) {
	if err := r.client.Publish(ctx, r.channel(collection), docID).Err(); err != nil {
		r.logger.Warn().Err(err).Str("collection", collection).Msg("invalidation publish failed")
	}
}
