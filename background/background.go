// Package background runs the jobs that keep the cache fresh outside of requests:
// deferred sync, periodic refresh and push notifications.
package background

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.trai.ch/zerr"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/classify"
	"github.com/always-cache/offline-worker/control"
	"github.com/always-cache/offline-worker/fetcher"
	"github.com/always-cache/offline-worker/lifecycle"
	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
	"github.com/always-cache/offline-worker/stats"
)

const (
	TagSyncSeries   = "sync-series"
	TagUpdateSeries = "update-series"

	DefaultSeriesEndpoint = "/api/series/latest"

	ActionExplore = "explore"
	ActionClose   = "close"
)

// ErrRefreshFailed is returned when the periodic refresh could not fetch or parse the series.
var ErrRefreshFailed = zerr.New("periodic refresh failed")

// Clients is the channel to the connected clients.
type Clients interface {
	Broadcast(message any) (int, error)
	ShowNotification(n control.Notification) (string, error)
	CloseNotification(id string) bool
	OpenWindow(url string) bool
}

type Config struct {
	Store       cache.CacheStore
	Fetcher     fetcher.Fetcher
	Keyer       cachekey.CacheKeyer
	Generations *lifecycle.Generations
	Clients     Clients
	// Entries under this path prefix are revalidated by the sync. Defaults to classify.DefaultAPIPrefix.
	APIPrefix string
	// Defaults to DefaultSeriesEndpoint.
	SeriesEndpoint string
	// Interval of the periodic refresh loop. 0 disables the loop.
	PeriodicInterval time.Duration
	Stats            stats.Collector
	Logger           *zerolog.Logger
}

type Runner struct {
	store          cache.CacheStore
	fetcher        fetcher.Fetcher
	keyer          cachekey.CacheKeyer
	generations    *lifecycle.Generations
	clients        Clients
	apiPrefix      string
	seriesEndpoint string
	interval       time.Duration
	stats          stats.Collector
	logger         zerolog.Logger
	now            func() time.Time
}

func NewRunner(config Config) *Runner {
	r := &Runner{
		store:          config.Store,
		fetcher:        config.Fetcher,
		keyer:          config.Keyer,
		generations:    config.Generations,
		clients:        config.Clients,
		apiPrefix:      config.APIPrefix,
		seriesEndpoint: config.SeriesEndpoint,
		interval:       config.PeriodicInterval,
		stats:          config.Stats,
		now:            time.Now,
	}
	if r.apiPrefix == "" {
		r.apiPrefix = classify.DefaultAPIPrefix
	}
	if r.seriesEndpoint == "" {
		r.seriesEndpoint = DefaultSeriesEndpoint
	}
	if r.stats == nil {
		r.stats = stats.NewNoop()
	}
	if config.Logger != nil {
		r.logger = config.Logger.With().Str("component", "background").Logger()
	} else {
		r.logger = log.With().Str("component", "background").Logger()
	}
	return r
}

// Sync reconciles the cached API entries with the network.
// Every API entry in the dynamic generation is fetched again and
// overwritten on 200. Failing entries are logged and kept.
func (r *Runner) Sync(ctx context.Context, tag string) error {
	logger := r.logger.With().Str("tag", tag).Logger()
	if tag != TagSyncSeries {
		logger.Debug().Msg("Ignoring unknown sync tag")
		return nil
	}
	handle, err := r.store.Open(ctx, r.generations.Dynamic)
	if err != nil {
		return err
	}
	keys, err := handle.Keys(ctx)
	if err != nil {
		return err
	}
	prefix := r.keyer.PathKey(r.apiPrefix)
	synced := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		snapshot, err := r.fetchKey(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Could not sync entry")
			continue
		}
		if snapshot.StatusCode != http.StatusOK {
			logger.Debug().Int("status", snapshot.StatusCode).Str("key", key).Msg("Not updating entry")
			continue
		}
		if err := handle.Put(ctx, key, snapshot); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Could not store synced entry")
			continue
		}
		synced++
	}
	logger.Info().Int("synced", synced).Msg("Sync finished")
	return nil
}

// PeriodicSync refreshes the series data.
// The series endpoint must answer 200 with a JSON body, which is stored in the
// dynamic generation and broadcast to every client. On failure nothing is stored
// or broadcast and the error wraps ErrRefreshFailed.
func (r *Runner) PeriodicSync(ctx context.Context, tag string) error {
	logger := r.logger.With().Str("tag", tag).Logger()
	if tag != TagUpdateSeries {
		logger.Debug().Msg("Ignoring unknown periodic sync tag")
		return nil
	}
	key := r.keyer.PathKey(r.seriesEndpoint)
	snapshot, err := r.fetchKey(ctx, key)
	if err != nil {
		return r.refreshFailed(logger, errors.Join(ErrRefreshFailed, err))
	}
	if snapshot.StatusCode != http.StatusOK {
		return r.refreshFailed(logger, zerr.With(zerr.Wrap(ErrRefreshFailed, "unexpected status"), "status", snapshot.StatusCode))
	}
	data := &bytes.Buffer{}
	if err := json.Compact(data, snapshot.Body); err != nil {
		return r.refreshFailed(logger, errors.Join(ErrRefreshFailed, err))
	}

	handle, err := r.store.Open(ctx, r.generations.Dynamic)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	stored := cache.Snapshot{StatusCode: http.StatusOK, Header: header, Body: data.Bytes()}
	if err := handle.Put(ctx, key, stored); err != nil {
		return err
	}
	sent, err := r.clients.Broadcast(control.SeriesUpdated{
		Type: control.TypeSeriesUpdated,
		Data: json.RawMessage(data.Bytes()),
	})
	if err != nil {
		return err
	}
	r.stats.IncCounter(stats.MetricPeriodicRefreshes, 1)
	logger.Info().Int("clients", sent).Msg("Series updated")
	return nil
}

func (r *Runner) refreshFailed(logger zerolog.Logger, err error) error {
	logger.Warn().Err(err).Msg("Background update failed")
	return zerr.With(err, "endpoint", r.seriesEndpoint)
}

// Run triggers the periodic refresh every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	r.logger.Info().Dur("interval", r.interval).Msg("Starting periodic refresh loop")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// failures are logged by PeriodicSync, the next tick tries again
			_ = r.PeriodicSync(ctx, TagUpdateSeries)
		}
	}
}

func (r *Runner) fetchKey(ctx context.Context, key string) (cache.Snapshot, error) {
	req, err := r.keyer.GetRequestFromKey(key)
	if err != nil {
		return cache.Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := r.fetcher.Fetch(ctx, req.WithContext(ctx))
	if err != nil {
		return cache.Snapshot{}, err
	}
	return cache.NewSnapshot(res)
}
