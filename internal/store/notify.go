package store

import (
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Notifier fans collection-invalidation events out to subscribers. Backends
// without a native change feed (the GORM store) publish through one of
// these after every write; subscribers re-read and deliver fresh snapshots.
type Notifier interface {
	Publish(collection string) error
	Subscribe(collection string, fn func()) (UnsubscribeFunc, error)
}

// LocalNotifier is an in-process Notifier for single-process deployments
// and tests.
type LocalNotifier struct {
	mu     sync.Mutex
	subs   map[string]map[int]func()
	nextID int
}

// NewLocalNotifier returns an empty in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[int]func())}
}

// Publish invokes every subscriber registered for the collection.
func (n *LocalNotifier) Publish(collection string) error {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs[collection]))
	for _, fn := range n.subs[collection] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// Subscribe registers fn for a collection's invalidation events.
func (n *LocalNotifier) Subscribe(collection string, fn func()) (UnsubscribeFunc, error) {
	n.mu.Lock()
	if n.subs[collection] == nil {
		n.subs[collection] = make(map[int]func())
	}
	id := n.nextID
	n.nextID++
	n.subs[collection][id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs[collection], id)
		n.mu.Unlock()
	}, nil
}

// NATSNotifier bridges invalidation events across processes over NATS, so
// several clients sharing one database see each other's writes.
type NATSNotifier struct {
	conn        *nats.Conn
	subjectBase string
	logger      zerolog.Logger
}

// NewNATSNotifier wraps an established NATS connection. subjectBase
// namespaces the subjects, e.g. "chatsync.dev".
func NewNATSNotifier(conn *nats.Conn, subjectBase string, logger zerolog.Logger) *NATSNotifier {
	return &NATSNotifier{
		conn:        conn,
		subjectBase: strings.Trim(subjectBase, "."),
		logger:      logger.With().Str("component", "nats_notifier").Logger(),
	}
}

func (n *NATSNotifier) subject(collection string) string {
	if n.subjectBase == "" {
		return "chatsync.inval." + collection
	}
	return n.subjectBase + ".inval." + collection
}

// Publish broadcasts an invalidation for the collection.
func (n *NATSNotifier) Publish(collection string) error {
	return n.conn.Publish(n.subject(collection), nil)
}

// Subscribe invokes fn on every invalidation published for the collection.
func (n *NATSNotifier) Subscribe(collection string, fn func()) (UnsubscribeFunc, error) {
	sub, err := n.conn.Subscribe(n.subject(collection), func(_ *nats.Msg) {
		fn()
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			n.logger.Warn().Err(err).Str("collection", collection).Msg("nats unsubscribe failed")
		}
	}, nil
}
