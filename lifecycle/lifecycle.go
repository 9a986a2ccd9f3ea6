// Package lifecycle installs and activates cache generations.
//
// Install pre-warms the shell generation with the shell assets, all or nothing.
// Activate deletes every generation that is not current and claims the connected clients.
package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/fetcher"
	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
	"github.com/always-cache/offline-worker/stats"
)

var (
	// ErrInstallFailed is returned when a shell asset could not be fetched or stored.
	ErrInstallFailed = zerr.New("install failed")
	// ErrNotInstalled is returned when activating without an installed shell generation.
	ErrNotInstalled = zerr.New("shell generation not installed")
)

// DefaultShell is the asset list every install pre-populates.
var DefaultShell = []string{"/", "/index.html", "/manifest.json", "/offline.html"}

// Phase of the worker.
type Phase int

const (
	Parsed Phase = iota
	Installing
	Installed
	Activating
	Activated
	// Redundant workers failed to install and never serve.
	Redundant
)

func (p Phase) String() string {
	return [...]string{"parsed", "installing", "installed", "activating", "activated", "redundant"}[p]
}

// Claimer takes control over the connected clients.
type Claimer interface {
	// Claim marks all clients controlled and returns how many there are.
	Claim() int
}

type Config struct {
	Store       cache.CacheStore
	Fetcher     fetcher.Fetcher
	Keyer       cachekey.CacheKeyer
	Generations *Generations
	// Shell asset paths. Defaults to DefaultShell.
	Shell   []string
	Claimer Claimer
	Stats   stats.Collector
	Logger  *zerolog.Logger
}

type Manager struct {
	store       cache.CacheStore
	fetcher     fetcher.Fetcher
	keyer       cachekey.CacheKeyer
	generations *Generations
	shell       []string
	claimer     Claimer
	stats       stats.Collector
	logger      zerolog.Logger

	// serializes install and activate
	transition sync.Mutex

	mu          sync.Mutex
	phase       Phase
	skipWaiting bool
}

func NewManager(config Config) *Manager {
	m := &Manager{
		store:       config.Store,
		fetcher:     config.Fetcher,
		keyer:       config.Keyer,
		generations: config.Generations,
		shell:       config.Shell,
		claimer:     config.Claimer,
		stats:       config.Stats,
	}
	if len(m.shell) == 0 {
		m.shell = DefaultShell
	}
	if m.stats == nil {
		m.stats = stats.NewNoop()
	}
	if config.Logger != nil {
		m.logger = config.Logger.With().Str("component", "lifecycle").Logger()
	} else {
		m.logger = log.With().Str("component", "lifecycle").Logger()
	}
	return m
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = p
}

// SkipWaitingRequested reports whether the installed version should activate right away.
func (m *Manager) SkipWaitingRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipWaiting
}

// Install populates the shell generation with every shell asset.
// If any asset fails to fetch, or does not answer with 200, nothing is written,
// the phase becomes Redundant and the error wraps ErrInstallFailed.
// On success the phase is Installed and skip-waiting is requested.
func (m *Manager) Install(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()

	name := m.generations.Static
	logger := m.logger.With().Str("generation", name).Logger()
	logger.Info().Strs("shell", m.shell).Msg("Installing")
	m.setPhase(Installing)
	start := time.Now()

	existed, err := m.store.Has(ctx, name)
	if err != nil {
		return m.installFailed(ctx, name, true, err)
	}
	if !existed {
		m.generations.set(name, Provisional)
	}
	handle, err := m.store.Open(ctx, name)
	if err != nil {
		return m.installFailed(ctx, name, existed, err)
	}

	snapshots := make(map[string]cache.Snapshot, len(m.shell))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range m.shell {
		g.Go(func() error {
			key := m.keyer.PathKey(asset)
			snapshot, err := m.fetchAsset(gctx, key)
			if err != nil {
				return zerr.With(zerr.With(errors.Join(ErrInstallFailed, err), "asset", asset), "generation", name)
			}
			mu.Lock()
			snapshots[key] = snapshot
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return m.installFailed(ctx, name, existed, err)
	}
	if err := handle.PutAll(ctx, snapshots); err != nil {
		return m.installFailed(ctx, name, existed, zerr.With(errors.Join(ErrInstallFailed, err), "generation", name))
	}

	m.mu.Lock()
	m.phase = Installed
	m.skipWaiting = true
	m.mu.Unlock()
	m.stats.IncCounter(stats.MetricInstalls, 1)
	logger.Info().Dur("took", time.Since(start)).Int("assets", len(snapshots)).Msg("Installed, skip waiting requested")
	return nil
}

func (m *Manager) fetchAsset(ctx context.Context, key string) (cache.Snapshot, error) {
	req, err := m.keyer.GetRequestFromKey(key)
	if err != nil {
		return cache.Snapshot{}, err
	}
	res, err := m.fetcher.Fetch(ctx, req.WithContext(ctx))
	if err != nil {
		return cache.Snapshot{}, err
	}
	snapshot, err := cache.NewSnapshot(res)
	if err != nil {
		return cache.Snapshot{}, err
	}
	if snapshot.StatusCode != http.StatusOK {
		return cache.Snapshot{}, zerr.With(zerr.New("unexpected status"), "status", snapshot.StatusCode)
	}
	return snapshot, nil
}

// installFailed marks the worker redundant.
// A generation created by this install is removed again, so nothing of it remains.
func (m *Manager) installFailed(ctx context.Context, name string, existed bool, err error) error {
	if !errors.Is(err, ErrInstallFailed) {
		err = errors.Join(ErrInstallFailed, err)
	}
	if !existed {
		if _, delErr := m.store.Delete(context.WithoutCancel(ctx), name); delErr != nil {
			m.logger.Warn().Err(delErr).Str("generation", name).Msg("Could not remove provisional generation")
		}
		m.generations.set(name, Deleted)
	}
	m.setPhase(Redundant)
	m.stats.IncCounter(stats.MetricInstallFailures, 1)
	m.logger.Error().Err(err).Str("generation", name).Msg("Install failed")
	return err
}

// Activate deletes every generation outside the allow list,
// makes sure both current generations exist, and claims the clients.
// It fails with ErrNotInstalled when the install failed,
// or when no shell generation was ever installed.
func (m *Manager) Activate(ctx context.Context) error {
	m.transition.Lock()
	defer m.transition.Unlock()
	return m.activate(ctx)
}

func (m *Manager) activate(ctx context.Context) error {
	switch m.Phase() {
	case Redundant:
		return zerr.With(zerr.Wrap(ErrNotInstalled, "activate"), "generation", m.generations.Static)
	case Parsed:
		// installed by an earlier run
		ok, err := m.store.Has(ctx, m.generations.Static)
		if err != nil {
			return err
		}
		if !ok {
			return zerr.With(zerr.Wrap(ErrNotInstalled, "activate"), "generation", m.generations.Static)
		}
	}
	m.setPhase(Activating)
	m.logger.Info().Strs("allow", m.generations.AllowList()).Msg("Activating")

	names, err := m.store.Keys(ctx)
	if err != nil {
		return zerr.Wrap(err, "list generations")
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	for _, name := range names {
		if m.generations.Allowed(name) {
			continue
		}
		m.generations.set(name, Stale)
		g.Go(func() error {
			if _, err := m.store.Delete(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, zerr.With(zerr.Wrap(err, "delete generation"), "generation", name))
				mu.Unlock()
				return nil
			}
			m.generations.set(name, Deleted)
			m.stats.IncCounter(stats.MetricDeletedGenerations, 1)
			m.logger.Info().Str("generation", name).Msg("Deleted old generation")
			return nil
		})
	}
	g.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, name := range m.generations.AllowList() {
		if _, err := m.store.Open(ctx, name); err != nil {
			return err
		}
		m.generations.set(name, Current)
	}
	m.setPhase(Activated)
	m.stats.IncCounter(stats.MetricActivations, 1)
	m.stats.SetGauge(stats.MetricGenerations, int64(len(m.generations.AllowList())))

	return m.Claim(ctx)
}

// SkipWaiting requests activation without waiting for older clients.
// An installed worker activates right away. Calling it again is a no-op.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	m.mu.Lock()
	m.skipWaiting = true
	installed := m.phase == Installed
	m.mu.Unlock()
	if !installed {
		return nil
	}
	m.transition.Lock()
	defer m.transition.Unlock()
	// another trigger may have activated in the meantime
	if m.Phase() != Installed {
		return nil
	}
	return m.activate(ctx)
}

// Claim takes control of all connected clients. Calling it again is a no-op
// for clients that are already controlled.
func (m *Manager) Claim(ctx context.Context) error {
	if m.claimer == nil {
		return nil
	}
	n := m.claimer.Claim()
	m.logger.Info().Int("clients", n).Msg("Claimed clients")
	return nil
}
