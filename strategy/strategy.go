// Package strategy answers intercepted requests from the cache, the network, or both.
//
// Documents are fetched network first, bounded by a timeout.
// Static assets are served cache first and refreshed in the background.
// API requests always go to the network and are answered with a fixed
// JSON error when offline. The stale-while-revalidate preset serves
// every same-origin request from the cache while revalidating it.
package strategy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.trai.ch/zerr"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/classify"
	"github.com/always-cache/offline-worker/fetcher"
	"github.com/always-cache/offline-worker/lifecycle"
	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
	"github.com/always-cache/offline-worker/pkg/detached"
	"github.com/always-cache/offline-worker/stats"
)

var (
	// ErrNoFallback is returned when the network failed and no fallback entry exists.
	ErrNoFallback = zerr.New("no fallback available")
	// ErrNotIntercepted is returned for requests the preset does not handle.
	ErrNotIntercepted = zerr.New("request not intercepted")
)

const (
	DefaultTimeout           = 3000 * time.Millisecond
	DefaultBackgroundTimeout = 30 * time.Second
	DefaultRootDocument      = "/index.html"
	DefaultOfflineDocument   = "/offline.html"
)

// Preset selects the strategy per request category.
type Preset string

const (
	// PresetTimeoutRace uses network first for documents, cache first for static assets.
	PresetTimeoutRace Preset = "timeout-race"
	// PresetStaleWhileRevalidate uses stale-while-revalidate for every same-origin non-API request.
	PresetStaleWhileRevalidate Preset = "stale-while-revalidate"
)

// ParsePreset returns the preset with the given name. An empty name is PresetTimeoutRace.
func ParsePreset(name string) (Preset, error) {
	switch Preset(name) {
	case "", PresetTimeoutRace:
		return PresetTimeoutRace, nil
	case PresetStaleWhileRevalidate:
		return PresetStaleWhileRevalidate, nil
	}
	return "", zerr.With(zerr.New("unknown preset"), "preset", name)
}

// Source tells where a response came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceShell       Source = "shell"
	SourceOfflinePage Source = "offline-page"
	SourcePlaceholder Source = "placeholder"
	SourceAPIOffline  Source = "api-offline"
)

// Hit reports whether the response was produced without the network.
func (s Source) Hit() bool {
	return s != SourceNetwork
}

type Result struct {
	Snapshot cache.Snapshot
	Source   Source
}

type Config struct {
	Store       cache.CacheStore
	Fetcher     fetcher.Fetcher
	Keyer       cachekey.CacheKeyer
	Generations *lifecycle.Generations
	Preset      Preset
	// Network first timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Limit for fetches that outlive their request. Defaults to DefaultBackgroundTimeout.
	BackgroundTimeout time.Duration
	// Shell document served for navigation requests. Defaults to DefaultRootDocument.
	RootDocument string
	// Shell document served when nothing else is available. Defaults to DefaultOfflineDocument.
	OfflineDocument string
	Stats           stats.Collector
	Logger          *zerolog.Logger
}

type Engine struct {
	store             cache.CacheStore
	fetcher           fetcher.Fetcher
	keyer             cachekey.CacheKeyer
	generations       *lifecycle.Generations
	preset            Preset
	timeout           time.Duration
	backgroundTimeout time.Duration
	rootDocument      string
	offlineDocument   string
	stats             stats.Collector
	logger            zerolog.Logger
	tasks             *detached.Group
}

func NewEngine(config Config) *Engine {
	e := &Engine{
		store:             config.Store,
		fetcher:           config.Fetcher,
		keyer:             config.Keyer,
		generations:       config.Generations,
		preset:            config.Preset,
		timeout:           config.Timeout,
		backgroundTimeout: config.BackgroundTimeout,
		rootDocument:      config.RootDocument,
		offlineDocument:   config.OfflineDocument,
		stats:             config.Stats,
	}
	if e.preset == "" {
		e.preset = PresetTimeoutRace
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.backgroundTimeout <= 0 {
		e.backgroundTimeout = DefaultBackgroundTimeout
	}
	if e.rootDocument == "" {
		e.rootDocument = DefaultRootDocument
	}
	if e.offlineDocument == "" {
		e.offlineDocument = DefaultOfflineDocument
	}
	if e.stats == nil {
		e.stats = stats.NewNoop()
	}
	if config.Logger != nil {
		e.logger = config.Logger.With().Str("component", "strategy").Logger()
	} else {
		e.logger = log.With().Str("component", "strategy").Logger()
	}
	e.tasks = detached.NewGroup(e.discard)
	return e
}

func (e *Engine) Preset() Preset {
	return e.preset
}

// Intercepts reports whether the preset handles a request with the verdict.
// Requests it does not handle go to the network untouched.
func (e *Engine) Intercepts(v classify.Verdict) bool {
	if !v.Intercept {
		return false
	}
	if e.preset == PresetStaleWhileRevalidate && !v.SameOrigin {
		return false
	}
	return true
}

// Handle answers an intercepted request.
// The only errors returned are ErrNoFallback, a network error for a
// cache first miss that is not an image, and ErrNotIntercepted.
func (e *Engine) Handle(ctx context.Context, r *http.Request, v classify.Verdict) (Result, error) {
	if !e.Intercepts(v) {
		return Result{}, ErrNotIntercepted
	}
	key, err := e.keyer.GetKey(r)
	if err != nil {
		return Result{}, err
	}
	var res Result
	switch {
	case v.Category == classify.API:
		res, err = e.apiPassthrough(ctx, r)
	case e.preset == PresetStaleWhileRevalidate:
		res, err = e.staleWhileRevalidate(ctx, r, key)
	case v.Category == classify.Document:
		res, err = e.networkFirst(ctx, r, v, key)
	default:
		res, err = e.cacheFirst(ctx, r, v, key)
	}
	if err == nil {
		e.stats.IncCounter(stats.MetricResponses, 1)
		e.stats.IncCounter(stats.ResponsesBySource(string(res.Source)), 1)
	}
	return res, err
}

// Wait blocks until all background writes finished.
func (e *Engine) Wait() {
	e.tasks.Wait()
}

// fetch gets the request from the network and buffers the response.
func (e *Engine) fetch(ctx context.Context, r *http.Request) (cache.Snapshot, error) {
	start := time.Now()
	res, err := e.fetcher.Fetch(ctx, r.Clone(ctx))
	if err != nil {
		e.stats.IncCounter(stats.MetricNetworkFailures, 1)
		return cache.Snapshot{}, err
	}
	snapshot, err := cache.NewSnapshot(res)
	e.stats.ObserveHistogram(stats.MetricFetchSeconds, time.Since(start).Seconds())
	if err != nil {
		e.stats.IncCounter(stats.MetricNetworkFailures, 1)
		return cache.Snapshot{}, err
	}
	return snapshot, nil
}

// detachedFetch is fetch for tasks nobody waits on, bounded by the background timeout.
func (e *Engine) detachedFetch(ctx context.Context, r *http.Request) (cache.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.backgroundTimeout)
	defer cancel()
	return e.fetch(ctx, r)
}

// store writes the snapshot into the dynamic generation if its status is 200.
func (e *Engine) store200(ctx context.Context, key string, snapshot cache.Snapshot) error {
	if snapshot.StatusCode != http.StatusOK {
		return nil
	}
	handle, err := e.store.Open(ctx, e.generations.Dynamic)
	if err != nil {
		return err
	}
	if err := handle.Put(ctx, key, snapshot); err != nil {
		return err
	}
	e.stats.IncCounter(stats.MetricBackgroundWrites, 1)
	e.logger.Trace().Str("key", key).Msg("Cache write")
	return nil
}

// discard is the sink of detached tasks.
func (e *Engine) discard(name string, err error) {
	e.stats.IncCounter(stats.MetricDiscardedFailures, 1)
	e.logger.Warn().Err(err).Str("task", name).Msg("Background task failed")
}

// shellDocument looks a shell document up in the shell generation, then in any generation.
func (e *Engine) shellDocument(ctx context.Context, path string) (*cache.Snapshot, error) {
	key := e.keyer.PathKey(path)
	installed, err := e.store.Has(ctx, e.generations.Static)
	if err != nil {
		return nil, err
	}
	if installed {
		handle, err := e.store.Open(ctx, e.generations.Static)
		if err != nil {
			return nil, err
		}
		snapshot, err := handle.Get(ctx, key)
		if err != nil || snapshot != nil {
			return snapshot, err
		}
	}
	return e.store.Match(ctx, key)
}

// offlinePage returns the offline document or ErrNoFallback.
func (e *Engine) offlinePage(ctx context.Context, cause error) (Result, error) {
	snapshot, err := e.shellDocument(ctx, e.offlineDocument)
	if err != nil {
		return Result{}, err
	}
	if snapshot == nil {
		return Result{}, noFallback(cause)
	}
	return Result{Snapshot: *snapshot, Source: SourceOfflinePage}, nil
}

func noFallback(cause error) error {
	if cause == nil {
		return ErrNoFallback
	}
	return errors.Join(ErrNoFallback, cause)
}
