package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync/internal/observability"
)

// Gateway is the single point of access to the document store. It owns the
// registry of live subscriptions so a sign-out can tear everything down in
// one call, and it is the only way to subscribe: every subscription's
// teardown handle is registered before the subscribe call returns, so an
// untracked listener cannot exist.
type Gateway struct {
	store  DocumentStore
	logger zerolog.Logger
	schema *SchemaSet

	mu        sync.Mutex
	listeners []UnsubscribeFunc
	flags     map[string]bool
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithSchemaValidation makes the gateway validate created and replaced
// documents against the per-collection schemas before writing.
func WithSchemaValidation(set *SchemaSet) GatewayOption {
	return func(g *Gateway) {
		g.schema = set
	}
}

// NewGateway wraps a DocumentStore.
func NewGateway(ds DocumentStore, logger zerolog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:  ds,
		logger: logger.With().Str("component", "store_gateway").Logger(),
		flags:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterListener appends a teardown handle to the registry. No
// de-duplication is performed; callers must not double-register.
func (g *Gateway) RegisterListener(unsubscribe UnsubscribeFunc) {
	if unsubscribe == nil {
		return
	}
	g.mu.Lock()
	g.listeners = append(g.listeners, unsubscribe)
	g.mu.Unlock()
	observability.ActiveListeners().Inc()
}

// UnsubscribeAll invokes and clears every tracked teardown handle. A failing
// handle is logged and skipped so one bad listener cannot block the rest.
// Idempotent: calling with zero listeners registered is a no-op. All
// "subscription already active" flags are reset so the next sign-in can
// start fresh.
func (g *Gateway) UnsubscribeAll() {
	g.mu.Lock()
	listeners := g.listeners
	g.listeners = nil
	g.flags = make(map[string]bool)
	g.mu.Unlock()

	for _, unsub := range listeners {
		g.teardown(unsub)
		observability.ActiveListeners().Dec()
	}
	if len(listeners) > 0 {
		g.logger.Debug().Int("count", len(listeners)).Msg("unsubscribed all listeners")
	}
}

func (g *Gateway) teardown(unsub UnsubscribeFunc) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn().Interface("panic", r).Msg("listener teardown failed")
		}
	}()
	unsub()
}

// ListenerCount reports the number of currently tracked subscriptions.
func (g *Gateway) ListenerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.listeners)
}

// MarkActive sets a named duplicate-subscription guard. It reports false if
// the flag was already set, in which case the caller must not subscribe
// again.
func (g *Gateway) MarkActive(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flags[name] {
		return false
	}
	g.flags[name] = true
	return true
}

// ClearFlag resets a named duplicate-subscription guard so the next
// MarkActive succeeds again. Callers use it when the subscribe attempt fails
// after the flag was taken, otherwise every retry would short-circuit.
func (g *Gateway) ClearFlag(name string) {
	g.mu.Lock()
	delete(g.flags, name)
	g.mu.Unlock()
}

// SubscribeCollection starts a live query subscription and tracks its
// teardown. The callback is isolated: a panic inside it is logged and does
// not reach the store's delivery loop.
func (g *Gateway) SubscribeCollection(ctx context.Context, collection string, filter *Filter, fn SnapshotFunc) error {
	wrapped := func(snap Snapshot) {
		defer g.recoverCallback(collection)
		observability.Snapshots().WithLabelValues(collection).Inc()
		fn(snap)
	}

	unsub, err := g.store.Subscribe(ctx, collection, filter, wrapped)
	if err != nil {
		return err
	}
	g.RegisterListener(unsub)
	return nil
}

// SubscribeDocument starts a live single-document subscription and tracks
// its teardown.
func (g *Gateway) SubscribeDocument(ctx context.Context, path string, fn DocumentFunc) error {
	wrapped := func(doc Document, ok bool) {
		defer g.recoverCallback(path)
		fn(doc, ok)
	}

	unsub, err := g.store.SubscribeDocument(ctx, path, wrapped)
	if err != nil {
		return err
	}
	g.RegisterListener(unsub)
	return nil
}

func (g *Gateway) recoverCallback(source string) {
	if r := recover(); r != nil {
		g.logger.Error().Str("source", source).Interface("panic", r).Msg("snapshot callback panicked")
	}
}

// Query runs a one-shot collection query.
func (g *Gateway) Query(ctx context.Context, collection string, filter *Filter) ([]Document, error) {
	return g.store.Query(ctx, collection, filter)
}

// GetDocument fetches one document by path. ErrNotFound is a routine
// sentinel, not a failure.
func (g *Gateway) GetDocument(ctx context.Context, path string) (Document, error) {
	return g.store.GetDocument(ctx, path)
}

// CreateDocument writes a new document and returns its assigned id.
func (g *Gateway) CreateDocument(ctx context.Context, collection string, data any) (string, error) {
	if err := g.validate(collection, data); err != nil {
		observability.StoreWrites().WithLabelValues("create", "invalid").Inc()
		return "", err
	}
	start := time.Now()
	id, err := g.store.CreateDocument(ctx, collection, data)
	g.observe("create", start, err)
	return id, err
}

// SetDocument replaces the document at path.
func (g *Gateway) SetDocument(ctx context.Context, path string, data any) error {
	if collection, _, perr := SplitPath(path); perr == nil {
		if err := g.validate(collection, data); err != nil {
			observability.StoreWrites().WithLabelValues("set", "invalid").Inc()
			return err
		}
	}
	start := time.Now()
	err := g.store.SetDocument(ctx, path, data)
	g.observe("set", start, err)
	return err
}

// UpdateDocument merges partial fields into the document at path.
func (g *Gateway) UpdateDocument(ctx context.Context, path string, fields map[string]any) error {
	start := time.Now()
	err := g.store.UpdateDocument(ctx, path, fields)
	g.observe("update", start, err)
	return err
}

// AppendToArrayField appends one value to a document's array field using
// the store's array-append primitive rather than a whole-document overwrite.
func (g *Gateway) AppendToArrayField(ctx context.Context, path string, field string, value any) error {
	start := time.Now()
	err := g.store.AppendToArrayField(ctx, path, field, value)
	g.observe("append", start, err)
	return err
}

func (g *Gateway) validate(collection string, data any) error {
	if g.schema == nil {
		return nil
	}
	return g.schema.Validate(collection, data)
}

func (g *Gateway) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.StoreWrites().WithLabelValues(operation, outcome).Inc()
	observability.StoreWriteLatency().WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
