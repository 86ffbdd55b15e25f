package srv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
}

type fakeService struct {
	name     string
	rec      *recorder
	startErr error
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeService) Shutdown(context.Context) error {
	f.rec.add(f.name)
	return nil
}

func TestRun_ShutsDownInReverseOrder(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, time.Second,
			&fakeService{name: "db", rec: rec},
			&fakeService{name: "http", rec: rec},
			NewCleanup(func() error { rec.add("cleanup"); return nil }),
		)
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, []string{"cleanup", "http", "db"}, rec.order)
}

func TestRun_StartFailureStopsAll(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("listen failed")

	err := Run(t.Context(), time.Second,
		&fakeService{name: "db", rec: rec},
		&fakeService{name: "http", rec: rec, startErr: boom},
	)
	assert.ErrorIs(t, err, boom)
	assert.ElementsMatch(t, []string{"http", "db"}, rec.order)
}
