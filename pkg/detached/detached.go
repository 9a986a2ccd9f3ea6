// Package detached runs fire-and-forget tasks.
// A task never reports back to the code that started it; its error,
// or a recovered panic, goes to the group's discard sink instead.
package detached

import (
	"context"
	"fmt"
	"sync"
)

// Sink receives the errors of failed tasks.
type Sink func(name string, err error)

// Group starts detached tasks and keeps track of the running ones.
type Group struct {
	wg   sync.WaitGroup
	sink Sink
}

// NewGroup returns a group sending task errors to sink.
// A nil sink drops them.
func NewGroup(sink Sink) *Group {
	if sink == nil {
		sink = func(string, error) {}
	}
	return &Group{sink: sink}
}

// Go runs fn in its own goroutine.
// The context passed to fn keeps the values of ctx but is never cancelled,
// so the task outlives the request that started it.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.sink(name, fmt.Errorf("panic: %v", r))
			}
		}()
		if err := fn(context.WithoutCancel(ctx)); err != nil {
			g.sink(name, err)
		}
	}()
}

// Wait blocks until all started tasks finished.
func (g *Group) Wait() {
	g.wg.Wait()
}
