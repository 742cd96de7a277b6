package bus

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

func collect(t *testing.T, b Broker, topic string) <-chan Message {
	t.Helper()
	ch := make(chan Message, 16)
	sub, err := b.Subscribe(topic, func(m Message) { ch <- m })
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return ch
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func assertSilent(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	defer m.Close()

	sync := collect(t, m, Topic)
	other := collect(t, m, "other")

	note := core.Note{ID: "n1", Body: "hello"}
	require.NoError(t, m.Publish(ctx, Message{Topic: Topic, Kind: KindSaved, SessionID: "s1", NoteID: "n1", Note: &note}))

	got := receive(t, sync)
	assert.Equal(t, KindSaved, got.Kind)
	assert.Equal(t, "hello", got.Note.Body)
	assert.False(t, got.SentAt.IsZero())
	assertSilent(t, other)

	t.Run("Unsubscribe Stops Delivery", func(t *testing.T) {
		ch := make(chan Message, 1)
		sub, err := m.Subscribe(Topic, func(msg Message) { ch <- msg })
		require.NoError(t, err)
		sub.Unsubscribe()
		require.NoError(t, m.Publish(ctx, Message{Topic: Topic}))
		assertSilent(t, ch)
		receive(t, sync)
	})

	t.Run("Closed Broker Rejects", func(t *testing.T) {
		closed := NewMemory(nil)
		require.NoError(t, closed.Close())
		assert.ErrorIs(t, closed.Publish(ctx, Message{Topic: Topic}), ErrClosed)
		_, err := closed.Subscribe(Topic, func(Message) {})
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestDir_CrossProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	a := NewDir(DirConfig{Path: dir})
	b := NewDir(DirConfig{Path: dir})
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Close()
	defer b.Close()

	fromA := collect(t, b, Topic)
	// Give the watchers a moment to register.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, a.Publish(ctx, Message{Topic: Topic, Kind: KindEditing, SessionID: "a", NoteID: "n1"}))
	got := receive(t, fromA)
	assert.Equal(t, "a", got.SessionID)
	assert.Equal(t, KindEditing, got.Kind)
	assertSilent(t, fromA)
}

func TestDir_IgnoresHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	old := NewDir(DirConfig{Path: dir})
	require.NoError(t, old.Start(ctx))
	require.NoError(t, old.Publish(ctx, Message{Topic: Topic, NoteID: "before"}))
	require.NoError(t, old.Close())

	late := NewDir(DirConfig{Path: dir})
	require.NoError(t, late.Start(ctx))
	defer late.Close()
	ch := collect(t, late, Topic)
	assertSilent(t, ch)
}

func TestWebsocketRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a := NewClient(ClientConfig{URL: url, ReconnectDelay: 10 * time.Millisecond})
	b := NewClient(ClientConfig{URL: url, ReconnectDelay: 10 * time.Millisecond})
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))
	defer a.Close()
	defer b.Close()

	require.Eventually(t, func() bool {
		return a.Connected() && b.Connected() && hub.Clients() == 2
	}, 3*time.Second, 10*time.Millisecond)

	atB := collect(t, b, Topic)
	atHub := collect(t, hub, Topic)
	atA := collect(t, a, Topic)

	require.NoError(t, a.Publish(ctx, Message{Topic: Topic, Kind: KindSaved, SessionID: "a", NoteID: "n1"}))
	assert.Equal(t, "a", receive(t, atB).SessionID)
	assert.Equal(t, "a", receive(t, atHub).SessionID)
	assertSilent(t, atA)

	require.NoError(t, hub.Publish(ctx, Message{Topic: Topic, Kind: KindEditing, SessionID: "server"}))
	assert.Equal(t, "server", receive(t, atA).SessionID)
	assert.Equal(t, "server", receive(t, atB).SessionID)
}

func TestClient_OfflinePublish(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/v1/bus"})
	defer c.Close()
	assert.ErrorIs(t, c.Publish(context.Background(), Message{Topic: Topic}), core.ErrOffline)
}
