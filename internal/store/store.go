package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by GetDocument when no document exists at the
// requested path. Callers treat it as a routine sentinel during cache
// warm-up, not a failure.
var ErrNotFound = errors.New("document not found")

// FilterOp enumerates the query filters offered by the backing store.
type FilterOp string

const (
	// FilterArrayContains matches documents whose named array field
	// contains the given value.
	FilterArrayContains FilterOp = "array-contains"
)

// Filter narrows a collection query. A nil *Filter selects the whole
// collection.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// ArrayContains builds an array-contains filter.
func ArrayContains(field string, value any) *Filter {
	return &Filter{Field: field, Op: FilterArrayContains, Value: value}
}

// Document is one stored document: its assigned id plus the raw JSON
// payload.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Snapshot is the full result set of a query, delivered once at subscribe
// time and again after every write that touches the collection.
type Snapshot struct {
	Docs []Document
}

// SnapshotFunc receives query snapshots for the lifetime of a subscription.
type SnapshotFunc func(Snapshot)

// DocumentFunc receives the current state of a single document. ok is false
// when the document does not (or no longer does) exist.
type DocumentFunc func(doc Document, ok bool)

// UnsubscribeFunc tears down one live subscription.
type UnsubscribeFunc func()

// DocumentStore is the narrow contract this module consumes from the
// realtime document store. Implementations must deliver an initial snapshot
// on Subscribe and a fresh full snapshot after every relevant write; there
// is no cross-collection ordering guarantee.
type DocumentStore interface {
	Query(ctx context.Context, collection string, filter *Filter) ([]Document, error)
	Subscribe(ctx context.Context, collection string, filter *Filter, fn SnapshotFunc) (UnsubscribeFunc, error)
	SubscribeDocument(ctx context.Context, path string, fn DocumentFunc) (UnsubscribeFunc, error)
	GetDocument(ctx context.Context, path string) (Document, error)
	CreateDocument(ctx context.Context, collection string, data any) (string, error)
	SetDocument(ctx context.Context, path string, data any) error
	UpdateDocument(ctx context.Context, path string, fields map[string]any) error
	AppendToArrayField(ctx context.Context, path string, field string, value any) error
}

// DocPath joins a collection name and document id into the canonical
// "<collection>/<id>" path form.
func DocPath(collection, id string) string {
	return collection + "/" + id
}

// SplitPath is the inverse of DocPath.
func SplitPath(path string) (collection, id string, err error) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed document path %q", path)
	}
	return parts[0], parts[1], nil
}

// matchesFilter applies a filter to a raw document client-side. Backends
// without native filtering reuse it after fetching the collection.
func matchesFilter(raw json.RawMessage, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Op != FilterArrayContains {
		return false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	arr, ok := fields[filter.Field]
	if !ok {
		return false
	}

	var values []any
	if err := json.Unmarshal(arr, &values); err != nil {
		return false
	}

	want := fmt.Sprintf("%v", filter.Value)
	for _, v := range values {
		if fmt.Sprintf("%v", v) == want {
			return true
		}
	}
	return false
}

// marshalValue normalizes an arbitrary Go value to the JSON shape it will
// have inside a stored document.
func marshalValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return out, nil
}
