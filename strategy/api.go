package strategy

import (
	"context"
	"net/http"

	"github.com/always-cache/offline-worker/cache"
)

const apiOfflineBody = `{"error":"Offline"}`

// apiPassthrough always goes to the network and never touches the cache.
func (e *Engine) apiPassthrough(ctx context.Context, r *http.Request) (Result, error) {
	snapshot, err := e.fetch(ctx, r)
	if err != nil {
		e.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("API offline")
		return Result{Snapshot: apiOffline(), Source: SourceAPIOffline}, nil
	}
	return Result{Snapshot: snapshot, Source: SourceNetwork}, nil
}

func apiOffline() cache.Snapshot {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return cache.Snapshot{StatusCode: http.StatusOK, Header: h, Body: []byte(apiOfflineBody)}
}
