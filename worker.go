// Package offlineworker keeps a web application usable without a network.
//
// A Worker sits between the application and its origin. It answers
// requests from versioned cache generations according to a strategy preset,
// installs and activates the application shell, and runs the background
// jobs that keep cached data fresh.
package offlineworker

import (
	"context"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.trai.ch/zerr"

	"github.com/always-cache/offline-worker/background"
	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/classify"
	"github.com/always-cache/offline-worker/control"
	"github.com/always-cache/offline-worker/fetcher"
	"github.com/always-cache/offline-worker/lifecycle"
	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
	"github.com/always-cache/offline-worker/stats"
	statslogger "github.com/always-cache/offline-worker/stats/logger"
	statsprometheus "github.com/always-cache/offline-worker/stats/prometheus"
	"github.com/always-cache/offline-worker/strategy"
)

// ErrUnknownTrigger is returned when dispatching an event nobody handles.
var ErrUnknownTrigger = zerr.New("unknown trigger")

type Config struct {
	// Storage for cache generations.
	Store cache.CacheStore
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Fetcher for network requests. Defaults to an origin fetcher for OriginURL.
	Fetcher fetcher.Fetcher

	// Generation naming, see lifecycle.NewGenerations.
	Prefix  string
	Version int
	// Shell asset paths. Defaults to lifecycle.DefaultShell.
	Shell []string

	APIPrefix       string
	Preset          strategy.Preset
	Timeout         time.Duration
	RootDocument    string
	OfflineDocument string
	// Limit for fetches finishing after the response was served.
	// Defaults to strategy.DefaultBackgroundTimeout.
	BackgroundTimeout time.Duration

	SeriesEndpoint   string
	PeriodicInterval time.Duration

	// Name in the Cache-Status header. Defaults to cachestatus.DefaultCacheName.
	CacheName string
	// Metrics are registered here and served on the router if set.
	Registry *prometheus.Registry
	// Stats overrides the collector derived from Registry.
	Stats stats.Collector
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Worker struct {
	store       cache.CacheStore
	fetcher     fetcher.Fetcher
	keyer       cachekey.CacheKeyer
	classifier  classify.Classifier
	generations *lifecycle.Generations
	manager     *lifecycle.Manager
	engine      *strategy.Engine
	runner      *background.Runner
	hub         *control.Hub
	registry    *prometheus.Registry
	cacheName   string
	log         zerolog.Logger

	handlers map[Trigger]handlerFunc
}

// New wires the worker components together.
// Nothing is fetched or written until the first trigger.
func New(config Config) *Worker {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	collector := config.Stats
	if collector == nil {
		if config.Registry != nil {
			collector = statsprometheus.New(config.Registry)
		} else {
			collector = statslogger.New(&logger)
		}
	}

	f := config.Fetcher
	if f == nil {
		f = fetcher.NewOriginFetcher(fetcher.Config{
			OriginURL:  config.OriginURL,
			OriginHost: config.OriginHost,
			Logger:     &logger,
		})
	}

	w := &Worker{
		store:       config.Store,
		fetcher:     f,
		keyer:       cachekey.NewCacheKeyer(&config.OriginURL),
		generations: lifecycle.NewGenerations(config.Prefix, config.Version),
		registry:    config.Registry,
		cacheName:   config.CacheName,
		log:         logger,
	}
	w.classifier = classify.New(config.APIPrefix, w.keyer)
	w.hub = control.NewHub(&logger, collector)
	w.manager = lifecycle.NewManager(lifecycle.Config{
		Store:       w.store,
		Fetcher:     w.fetcher,
		Keyer:       w.keyer,
		Generations: w.generations,
		Shell:       config.Shell,
		Claimer:     w.hub,
		Stats:       collector,
		Logger:      &logger,
	})
	w.hub.SetCommander(w.manager)
	w.engine = strategy.NewEngine(strategy.Config{
		Store:             w.store,
		Fetcher:           w.fetcher,
		Keyer:             w.keyer,
		Generations:       w.generations,
		Preset:            config.Preset,
		Timeout:           config.Timeout,
		BackgroundTimeout: config.BackgroundTimeout,
		RootDocument:      config.RootDocument,
		OfflineDocument:   config.OfflineDocument,
		Stats:             collector,
		Logger:            &logger,
	})
	w.runner = background.NewRunner(background.Config{
		Store:            w.store,
		Fetcher:          w.fetcher,
		Keyer:            w.keyer,
		Generations:      w.generations,
		Clients:          w.hub,
		APIPrefix:        config.APIPrefix,
		SeriesEndpoint:   config.SeriesEndpoint,
		PeriodicInterval: config.PeriodicInterval,
		Stats:            collector,
		Logger:           &logger,
	})
	w.handlers = map[Trigger]handlerFunc{
		TriggerInstall:           w.install,
		TriggerActivate:          w.activate,
		TriggerFetch:             w.fetch,
		TriggerSync:              w.sync,
		TriggerPeriodicSync:      w.periodicSync,
		TriggerPush:              w.push,
		TriggerNotificationClick: w.notificationClick,
		TriggerMessage:           w.message,
	}
	return w
}

// Run starts the periodic refresh loop and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.runner.Run(ctx)
}

// Wait blocks until all detached cache writes finished.
func (w *Worker) Wait() {
	w.engine.Wait()
}

func (w *Worker) Phase() lifecycle.Phase {
	return w.manager.Phase()
}

func (w *Worker) Generations() *lifecycle.Generations {
	return w.generations
}

func (w *Worker) Hub() *control.Hub {
	return w.hub
}
