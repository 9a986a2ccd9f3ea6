package strategy

import (
	"context"
	"net/http"
	"time"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/classify"
	"github.com/always-cache/offline-worker/stats"
)

type fetched struct {
	snapshot cache.Snapshot
	err      error
}

// networkFirst races the network against the timeout.
// Losing the race does not cancel the fetch: a response arriving after the
// timeout, but within the background timeout, is still written to the cache for next time.
func (e *Engine) networkFirst(ctx context.Context, r *http.Request, v classify.Verdict, key string) (Result, error) {
	network := make(chan fetched, 1)
	e.tasks.Go(ctx, "network-first "+key, func(ctx context.Context) error {
		snapshot, err := e.detachedFetch(ctx, r)
		if err != nil {
			network <- fetched{err: err}
			return nil
		}
		network <- fetched{snapshot: snapshot.Clone()}
		return e.store200(ctx, key, snapshot)
	})

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	var cause error
	select {
	case f := <-network:
		if f.err == nil {
			return Result{Snapshot: f.snapshot, Source: SourceNetwork}, nil
		}
		cause = f.err
		e.logger.Debug().Err(f.err).Str("key", key).Msg("Network failed, falling back to cache")
	case <-timer.C:
		e.stats.IncCounter(stats.MetricNetworkTimeouts, 1)
		e.logger.Debug().Str("key", key).Dur("timeout", e.timeout).Msg("Network timed out, falling back to cache")
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	snapshot, err := e.store.Match(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if snapshot != nil {
		return Result{Snapshot: *snapshot, Source: SourceCache}, nil
	}
	if v.Navigate {
		snapshot, err := e.shellDocument(ctx, e.rootDocument)
		if err != nil {
			return Result{}, err
		}
		if snapshot != nil {
			return Result{Snapshot: *snapshot, Source: SourceShell}, nil
		}
		return Result{}, noFallback(cause)
	}
	return e.offlinePage(ctx, cause)
}
