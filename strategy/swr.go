package strategy

import (
	"context"
	"net/http"
)

// staleWhileRevalidate looks up the cache and fetches at the same time.
// A stored response is served immediately, otherwise the caller waits for the network.
// The network response is stored on 200 either way.
func (e *Engine) staleWhileRevalidate(ctx context.Context, r *http.Request, key string) (Result, error) {
	network := make(chan fetched, 1)
	e.tasks.Go(ctx, "revalidate "+key, func(ctx context.Context) error {
		snapshot, err := e.detachedFetch(ctx, r)
		if err != nil {
			network <- fetched{err: err}
			return nil
		}
		network <- fetched{snapshot: snapshot.Clone()}
		return e.store200(ctx, key, snapshot)
	})

	snapshot, err := e.store.Match(ctx, key)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed, waiting for network")
	}
	if snapshot != nil {
		return Result{Snapshot: *snapshot, Source: SourceCache}, nil
	}

	select {
	case f := <-network:
		if f.err == nil {
			return Result{Snapshot: f.snapshot, Source: SourceNetwork}, nil
		}
		return e.offlinePage(ctx, f.err)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
