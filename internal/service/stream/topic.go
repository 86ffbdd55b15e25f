package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrClosed = errors.New("stream already finished")

// Fragment is one event of a topic. End marks the completion sentinel;
// Err is set when the producer failed.
type Fragment struct {
	Text string
	End  bool
	Err  error
}

// Topic is the output of one streaming turn. Fragments are appended by a
// single producer and kept until the topic is evicted, so readers that
// attach late can replay them.
type Topic struct {
	id string

	mu       sync.Mutex
	events   []Fragment
	text     strings.Builder
	done     bool
	cursor   int
	notify   chan struct{}
	finished time.Time
}

func newTopic(id string) *Topic {
	return &Topic{id: id, notify: make(chan struct{})}
}

func (t *Topic) ID() string { return t.id }

// Publish appends a fragment. It never blocks.
func (t *Topic) Publish(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrClosed
	}
	t.events = append(t.events, Fragment{Text: text})
	t.text.WriteString(text)
	t.wake()
	return nil
}

func (t *Topic) End() error {
	return t.finish(nil)
}

// Fail ends the topic with err, which readers receive with the sentinel.
func (t *Topic) Fail(err error) error {
	if err == nil {
		err = errors.New("stream failed")
	}
	return t.finish(err)
}

func (t *Topic) finish(err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrClosed
	}
	t.done = true
	t.finished = time.Now()
	t.events = append(t.events, Fragment{End: true, Err: err})
	t.wake()
	return nil
}

// wake releases every waiter; callers hold t.mu.
func (t *Topic) wake() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// Text is the concatenation of everything published so far.
func (t *Topic) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

func (t *Topic) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Pending reports whether the shared cursor has unread events.
func (t *Topic) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor < len(t.events)
}

// Consume reads the next event with the shared cursor. Concurrent callers
// split the events between them.
func (t *Topic) Consume(ctx context.Context) (Fragment, error) {
	for {
		t.mu.Lock()
		if t.cursor < len(t.events) {
			f := t.events[t.cursor]
			t.cursor++
			t.mu.Unlock()
			return f, nil
		}
		wait := t.notify
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return Fragment{}, ctx.Err()
		case <-wait:
		}
	}
}

// Subscribe returns a reader positioned after the current text, which is
// returned as its snapshot.
func (t *Topic) Subscribe() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos := len(t.events)
	if t.done {
		// The sentinel is still delivered to late subscribers.
		pos--
	}
	return &Subscription{topic: t, pos: pos, snapshot: t.text.String()}
}

func (t *Topic) at(ctx context.Context, pos int) (Fragment, error) {
	for {
		t.mu.Lock()
		if pos < len(t.events) {
			f := t.events[pos]
			t.mu.Unlock()
			return f, nil
		}
		wait := t.notify
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return Fragment{}, ctx.Err()
		case <-wait:
		}
	}
}

func (t *Topic) finishedBefore(deadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done && t.finished.Before(deadline)
}

// Subscription is an independent reader of a topic.
type Subscription struct {
	topic    *Topic
	pos      int
	snapshot string
}

// Snapshot is the text published before the subscription was taken.
func (s *Subscription) Snapshot() string { return s.snapshot }

// Next blocks for the following event. After the End fragment it keeps
// returning it.
func (s *Subscription) Next(ctx context.Context) (Fragment, error) {
	f, err := s.topic.at(ctx, s.pos)
	if err != nil {
		return Fragment{}, err
	}
	if !f.End {
		s.pos++
	}
	return f, nil
}
