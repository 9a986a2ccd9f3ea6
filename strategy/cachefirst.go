package strategy

import (
	"context"
	"net/http"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/classify"
)

// cacheFirst serves a stored response right away and refreshes it in the background.
// On a miss the caller waits for the network.
func (e *Engine) cacheFirst(ctx context.Context, r *http.Request, v classify.Verdict, key string) (Result, error) {
	snapshot, err := e.store.Match(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if snapshot != nil {
		e.tasks.Go(ctx, "refresh "+key, func(ctx context.Context) error {
			fresh, err := e.detachedFetch(ctx, r)
			if err != nil {
				// the cached response was already served
				e.logger.Trace().Err(err).Str("key", key).Msg("Background refresh failed")
				return nil
			}
			return e.store200(ctx, key, fresh)
		})
		return Result{Snapshot: *snapshot, Source: SourceCache}, nil
	}

	fresh, err := e.fetch(ctx, r)
	if err != nil {
		if v.IsImage() {
			return Result{Snapshot: placeholder(), Source: SourcePlaceholder}, nil
		}
		return Result{}, err
	}
	// responses from other origins are never stored
	if fresh.StatusCode == http.StatusOK && v.SameOrigin {
		stored := fresh.Clone()
		e.tasks.Go(ctx, "store "+key, func(ctx context.Context) error {
			return e.store200(ctx, key, stored)
		})
	}
	return Result{Snapshot: fresh, Source: SourceNetwork}, nil
}

const placeholderSVG = `<svg width="400" height="300" xmlns="http://www.w3.org/2000/svg">` +
	`<rect width="400" height="300" fill="#ddd"/>` +
	`<text x="50%" y="50%" text-anchor="middle" fill="#999" font-family="sans-serif" font-size="20">Offline</text>` +
	`</svg>`

// placeholder is the image served for images that are neither cached nor reachable.
func placeholder() cache.Snapshot {
	h := http.Header{}
	h.Set("Content-Type", "image/svg+xml")
	return cache.Snapshot{StatusCode: http.StatusOK, Header: h, Body: []byte(placeholderSVG)}
}
