package detached

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu   sync.Mutex
	errs map[string]error
}

func (r *recorder) sink(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[name] = err
}

func TestErrorsGoToSink(t *testing.T) {
	rec := &recorder{errs: map[string]error{}}
	g := NewGroup(rec.sink)
	boom := errors.New("boom")

	g.Go(context.Background(), "fails", func(ctx context.Context) error { return boom })
	g.Go(context.Background(), "works", func(ctx context.Context) error { return nil })
	g.Go(context.Background(), "panics", func(ctx context.Context) error { panic("oops") })
	g.Wait()

	assert.ErrorIs(t, rec.errs["fails"], boom)
	assert.NotContains(t, rec.errs, "works")
	assert.ErrorContains(t, rec.errs["panics"], "oops")
}

func TestTaskOutlivesCaller(t *testing.T) {
	g := NewGroup(nil)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var taskErr error
	g.Go(ctx, "late", func(ctx context.Context) error {
		<-started
		taskErr = ctx.Err()
		return nil
	})
	cancel()
	close(started)
	g.Wait()
	assert.NoError(t, taskErr)
}
