package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process DocumentStore with full subscription semantics.
// It backs local runs and tests; snapshots are delivered synchronously on
// the writer's goroutine, which keeps interleavings controllable from test
// code.
type Memory struct {
	mu          sync.Mutex
	collections map[string]map[string]json.RawMessage
	querySubs   map[int]*querySub
	docSubs     map[int]*docSub
	nextSub     int
}

type querySub struct {
	collection string
	filter     *Filter
	fn         SnapshotFunc
}

type docSub struct {
	path string
	fn   DocumentFunc
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]json.RawMessage),
		querySubs:   make(map[int]*querySub),
		docSubs:     make(map[int]*docSub),
	}
}

// Query returns the documents of a collection matching the filter, ordered
// by document id.
func (m *Memory) Query(_ context.Context, collection string, filter *Filter) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(collection, filter), nil
}

func (m *Memory) snapshotLocked(collection string, filter *Filter) []Document {
	docs := make([]Document, 0, len(m.collections[collection]))
	for id, raw := range m.collections[collection] {
		if !matchesFilter(raw, filter) {
			continue
		}
		data := make(json.RawMessage, len(raw))
		copy(data, raw)
		docs = append(docs, Document{ID: id, Data: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// Subscribe registers a query subscription and delivers the initial
// snapshot before returning.
func (m *Memory) Subscribe(_ context.Context, collection string, filter *Filter, fn SnapshotFunc) (UnsubscribeFunc, error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.querySubs[id] = &querySub{collection: collection, filter: filter, fn: fn}
	initial := m.snapshotLocked(collection, filter)
	m.mu.Unlock()

	fn(Snapshot{Docs: initial})

	return func() {
		m.mu.Lock()
		delete(m.querySubs, id)
		m.mu.Unlock()
	}, nil
}

// SubscribeDocument registers a single-document subscription and delivers
// the document's current state before returning.
func (m *Memory) SubscribeDocument(_ context.Context, path string, fn DocumentFunc) (UnsubscribeFunc, error) {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.docSubs[id] = &docSub{path: path, fn: fn}
	raw, ok := m.collections[collection][docID]
	var data json.RawMessage
	if ok {
		data = make(json.RawMessage, len(raw))
		copy(data, raw)
	}
	m.mu.Unlock()

	fn(Document{ID: docID, Data: data}, ok)

	return func() {
		m.mu.Lock()
		delete(m.docSubs, id)
		m.mu.Unlock()
	}, nil
}

// GetDocument fetches one document by path.
func (m *Memory) GetDocument(_ context.Context, path string) (Document, error) {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.collections[collection][docID]
	if !ok {
		return Document{}, ErrNotFound
	}
	data := make(json.RawMessage, len(raw))
	copy(data, raw)
	return Document{ID: docID, Data: data}, nil
}

// CreateDocument stores data under a fresh id and returns it.
func (m *Memory) CreateDocument(_ context.Context, collection string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	id := uuid.NewString()
	m.mu.Lock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]json.RawMessage)
	}
	m.collections[collection][id] = raw
	m.mu.Unlock()

	m.notify(collection, id)
	return id, nil
}

// SetDocument replaces the document at path.
func (m *Memory) SetDocument(_ context.Context, path string, data any) error {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	m.mu.Lock()
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]json.RawMessage)
	}
	m.collections[collection][docID] = raw
	m.mu.Unlock()

	m.notify(collection, docID)
	return nil
}

// UpdateDocument merges partial fields into the document at path. Updating
// a missing document fails with ErrNotFound.
func (m *Memory) UpdateDocument(_ context.Context, path string, fields map[string]any) error {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	raw, ok := m.collections[collection][docID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	merged, err := mergeFields(raw, fields)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.collections[collection][docID] = merged
	m.mu.Unlock()

	m.notify(collection, docID)
	return nil
}

// AppendToArrayField appends one value to a document's array field.
func (m *Memory) AppendToArrayField(_ context.Context, path string, field string, value any) error {
	collection, docID, err := SplitPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	raw, ok := m.collections[collection][docID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	appended, err := appendToArray(raw, field, value)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.collections[collection][docID] = appended
	m.mu.Unlock()

	m.notify(collection, docID)
	return nil
}

// notify fans the write out to every matching subscription. Callbacks run
// without the store lock held so they may issue store calls themselves.
func (m *Memory) notify(collection, docID string) {
	m.mu.Lock()
	var queryFns []func()
	for _, sub := range m.querySubs {
		if sub.collection != collection {
			continue
		}
		snap := Snapshot{Docs: m.snapshotLocked(collection, sub.filter)}
		fn := sub.fn
		queryFns = append(queryFns, func() { fn(snap) })
	}

	path := DocPath(collection, docID)
	for _, sub := range m.docSubs {
		if sub.path != path {
			continue
		}
		raw, ok := m.collections[collection][docID]
		var data json.RawMessage
		if ok {
			data = make(json.RawMessage, len(raw))
			copy(data, raw)
		}
		fn := sub.fn
		doc := Document{ID: docID, Data: data}
		exists := ok
		queryFns = append(queryFns, func() { fn(doc, exists) })
	}
	m.mu.Unlock()

	for _, fn := range queryFns {
		fn()
	}
}

func mergeFields(raw json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for k, v := range fields {
		norm, err := marshalValue(v)
		if err != nil {
			return nil, err
		}
		doc[k] = norm
	}
	return json.Marshal(doc)
}

func appendToArray(raw json.RawMessage, field string, value any) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	arr, _ := doc[field].([]any)
	norm, err := marshalValue(value)
	if err != nil {
		return nil, err
	}
	doc[field] = append(arr, norm)
	return json.Marshal(doc)
}
