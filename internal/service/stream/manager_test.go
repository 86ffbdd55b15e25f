package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ConsumeOrder(t *testing.T) {
	m := NewManager(0)
	m.Reset("chat-1")

	require.NoError(t, m.Publish("chat-1", "Hel"))
	require.NoError(t, m.Publish("chat-1", "lo"))
	assert.Equal(t, "Hello", m.SnapshotText("chat-1"))
	require.NoError(t, m.End("chat-1"))

	ctx := t.Context()
	want := []Fragment{{Text: "Hel"}, {Text: "lo"}, {End: true}}
	for _, w := range want {
		assert.True(t, m.HasPending("chat-1"))
		got, err := m.Consume(ctx, "chat-1")
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
	assert.False(t, m.HasPending("chat-1"))
	assert.Equal(t, "Hello", m.SnapshotText("chat-1"))
}

func TestManager_UnknownChat(t *testing.T) {
	m := NewManager(0)

	assert.ErrorIs(t, m.Publish("nope", "x"), ErrNoStream)
	assert.ErrorIs(t, m.End("nope"), ErrNoStream)
	_, err := m.Consume(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNoStream)
	_, err = m.Subscribe("nope")
	assert.ErrorIs(t, err, ErrNoStream)
	assert.False(t, m.HasPending("nope"))
	assert.Equal(t, "", m.SnapshotText("nope"))
}

func TestManager_ConsumeBlocksUntilPublish(t *testing.T) {
	m := NewManager(0)
	topic := m.Reset("c")

	got := make(chan Fragment, 1)
	go func() {
		f, _ := m.Consume(context.Background(), "c")
		got <- f
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, topic.Publish("tok"))

	select {
	case f := <-got:
		assert.Equal(t, "tok", f.Text)
	case <-time.After(time.Second):
		t.Fatal("consumer not woken")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Consume(ctx, "c")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_FailAndClosed(t *testing.T) {
	m := NewManager(0)
	topic := m.Reset("c")
	boom := errors.New("provider down")

	require.NoError(t, topic.Publish("partial"))
	require.NoError(t, m.Fail("c", boom))
	assert.ErrorIs(t, topic.Publish("late"), ErrClosed)
	assert.ErrorIs(t, topic.End(), ErrClosed)

	sub, err := m.Subscribe("c")
	require.NoError(t, err)
	assert.Equal(t, "partial", sub.Snapshot())

	f, err := sub.Next(t.Context())
	require.NoError(t, err)
	assert.True(t, f.End)
	assert.ErrorIs(t, f.Err, boom)
}

func TestManager_ResetKeepsOldTopic(t *testing.T) {
	m := NewManager(0)
	old := m.Reset("c")
	require.NoError(t, old.Publish("first"))
	sub := old.Subscribe()

	m.Reset("c")
	require.NoError(t, m.Publish("c", "second"))
	require.NoError(t, old.End())

	assert.Equal(t, "second", m.SnapshotText("c"))
	assert.Equal(t, "first", old.Text())

	f, err := sub.Next(t.Context())
	require.NoError(t, err)
	assert.True(t, f.End)
}

func TestSubscription_Broadcast(t *testing.T) {
	m := NewManager(0)
	topic := m.Reset("c")
	require.NoError(t, topic.Publish("a"))

	subs := []*Subscription{topic.Subscribe(), topic.Subscribe()}
	for _, s := range subs {
		assert.Equal(t, "a", s.Snapshot())
	}

	var wg sync.WaitGroup
	results := make([][]string, len(subs))
	for i, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				f, err := s.Next(context.Background())
				if err != nil || f.End {
					return
				}
				results[i] = append(results[i], f.Text)
			}
		}()
	}

	for _, tok := range []string{"b", "c", "d"} {
		require.NoError(t, topic.Publish(tok))
	}
	require.NoError(t, topic.End())
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, []string{"b", "c", "d"}, r)
	}

	// The shared cursor is independent of subscribers.
	f, err := topic.Consume(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "a", f.Text)
}

func TestManager_Sweep(t *testing.T) {
	m := NewManager(time.Minute)
	m.Reset("running")
	done := m.Reset("done")
	require.NoError(t, done.End())

	assert.Equal(t, 0, m.Sweep(time.Now()))
	assert.Equal(t, 1, m.Sweep(time.Now().Add(2*time.Minute)))
	assert.True(t, m.Active("running"))
	assert.False(t, m.Active("done"))
}
