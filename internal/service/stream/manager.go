package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sandevgo/chatd/pkg/log"
)

var ErrNoStream = errors.New("no active stream")

const (
	DefaultRetention = 10 * time.Minute
	sweepInterval    = time.Minute
)

// Manager keeps one topic per chat.
type Manager struct {
	mu        sync.RWMutex
	topics    map[string]*Topic
	retention time.Duration
}

func NewManager(retention time.Duration) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		topics:    make(map[string]*Topic),
		retention: retention,
	}
}

// Reset starts a fresh topic for id. Readers of the previous topic keep it.
func (m *Manager) Reset(id string) *Topic {
	t := newTopic(id)

	m.mu.Lock()
	m.topics[id] = t
	m.mu.Unlock()

	return t
}

func (m *Manager) Topic(id string) (*Topic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[id]
	return t, ok
}

func (m *Manager) get(id string) (*Topic, error) {
	t, ok := m.Topic(id)
	if !ok {
		return nil, ErrNoStream
	}
	return t, nil
}

func (m *Manager) Active(id string) bool {
	_, ok := m.Topic(id)
	return ok
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.topics, id)
	m.mu.Unlock()
}

func (m *Manager) Publish(id, fragment string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	return t.Publish(fragment)
}

func (m *Manager) End(id string) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	return t.End()
}

func (m *Manager) Fail(id string, cause error) error {
	t, err := m.get(id)
	if err != nil {
		return err
	}
	return t.Fail(cause)
}

// Consume reads the next fragment of id with the shared cursor.
func (m *Manager) Consume(ctx context.Context, id string) (Fragment, error) {
	t, err := m.get(id)
	if err != nil {
		return Fragment{}, err
	}
	return t.Consume(ctx)
}

// SnapshotText returns the accumulated text, or "" when id has no topic.
func (m *Manager) SnapshotText(id string) string {
	t, ok := m.Topic(id)
	if !ok {
		return ""
	}
	return t.Text()
}

func (m *Manager) HasPending(id string) bool {
	t, ok := m.Topic(id)
	return ok && t.Pending()
}

func (m *Manager) Subscribe(id string) (*Subscription, error) {
	t, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return t.Subscribe(), nil
}

// Sweep evicts topics that finished longer than the retention ago.
func (m *Manager) Sweep(now time.Time) int {
	deadline := now.Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, t := range m.topics {
		if t.finishedBefore(deadline) {
			delete(m.topics, id)
			n++
		}
	}
	return n
}

// Start runs the eviction loop until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				log.FromCtx(ctx).Debug().Int("topics", n).Msg("evicted finished streams")
			}
		}
	}
}

func (m *Manager) Shutdown(context.Context) error {
	return nil
}
