package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "test", zerolog.Nop())
}

func TestRedisCreateAndGet(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	id, err := r.CreateDocument(ctx, "channels", map[string]any{"title": "general"})
	require.NoError(t, err)

	doc, err := r.GetDocument(ctx, DocPath("channels", id))
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"general"}`, string(doc.Data))

	_, err = r.GetDocument(ctx, "channels/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisQueryFilter(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.SetDocument(ctx, "channels/a", map[string]any{"users": []string{"u1"}}))
	require.NoError(t, r.SetDocument(ctx, "channels/b", map[string]any{"users": []string{"u2"}}))

	docs, err := r.Query(ctx, "channels", ArrayContains("users", "u2"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "b", docs[0].ID)
}

func TestRedisUpdateAndAppend(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.SetDocument(ctx, "users/u1", map[string]any{"username": "alice", "status": "offline"}))
	require.NoError(t, r.UpdateDocument(ctx, "users/u1", map[string]any{"status": "online"}))

	doc, err := r.GetDocument(ctx, "users/u1")
	require.NoError(t, err)
	require.JSONEq(t, `{"username":"alice","status":"online"}`, string(doc.Data))

	require.NoError(t, r.SetDocument(ctx, "channels/c1", map[string]any{"messages": []any{}}))
	require.NoError(t, r.AppendToArrayField(ctx, "channels/c1", "messages", map[string]any{"msgId": "m1"}))

	doc, err = r.GetDocument(ctx, "channels/c1")
	require.NoError(t, err)
	require.JSONEq(t, `{"messages":[{"msgId":"m1"}]}`, string(doc.Data))

	err = r.UpdateDocument(ctx, "users/missing", map[string]any{"status": "online"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisSubscribeDeliversSnapshots(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	var mu sync.Mutex
	var snaps []Snapshot
	unsub, err := r.Subscribe(ctx, "users", nil, func(snap Snapshot) {
		mu.Lock()
		snaps = append(snaps, snap)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	mu.Lock()
	require.Len(t, snaps, 1, "initial snapshot must arrive before Subscribe returns")
	mu.Unlock()

	require.NoError(t, r.SetDocument(ctx, "users/u1", map[string]any{"username": "alice"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 2 && len(snaps[len(snaps)-1].Docs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisSubscribeDocumentFiltersByID(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()

	var mu sync.Mutex
	var deliveries int
	unsub, err := r.SubscribeDocument(ctx, "users/u1", func(doc Document, ok bool) {
		mu.Lock()
		deliveries++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, r.SetDocument(ctx, "users/u1", map[string]any{"username": "alice"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	before := deliveries
	mu.Unlock()

	// A write to a different document publishes a different id and must not
	// reach this subscriber.
	require.NoError(t, r.SetDocument(ctx, "users/u2", map[string]any{"username": "bob"}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	require.Equal(t, before, deliveries)
	mu.Unlock()
}
