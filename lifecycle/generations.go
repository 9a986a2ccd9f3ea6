package lifecycle

import (
	"fmt"
	"sync"
)

const (
	DefaultPrefix  = "lern-oase"
	DefaultVersion = 1
)

// State of a generation.
type State int

const (
	// Unknown generations were never seen by this worker.
	Unknown State = iota
	// Provisional generations are being populated by an install.
	Provisional
	// Current generations are the ones requests are served from and written to.
	Current
	// Stale generations are about to be deleted.
	Stale
	// Deleted generations are gone for good.
	Deleted
)

func (s State) String() string {
	switch s {
	case Provisional:
		return "provisional"
	case Current:
		return "current"
	case Stale:
		return "stale"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Generations holds the names of the current generations and the state of every generation seen.
// It is created once and shared by every component that reads or writes the cache.
type Generations struct {
	// Static is the name of the shell generation, populated on install.
	Static string
	// Dynamic is the name of the runtime generation, populated by requests and background tasks.
	Dynamic string

	mu     sync.RWMutex
	states map[string]State
}

// NewGenerations returns the generations for the version.
// The shell generation is named `<prefix>-v<version>`,
// the dynamic one `<prefix>-dynamic-v<version>`.
// The version must change whenever the shell asset list changes.
// Empty prefix and versions below 1 use DefaultPrefix and DefaultVersion.
func NewGenerations(prefix string, version int) *Generations {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if version <= 0 {
		version = DefaultVersion
	}
	return &Generations{
		Static:  fmt.Sprintf("%s-v%d", prefix, version),
		Dynamic: fmt.Sprintf("%s-dynamic-v%d", prefix, version),
		states:  make(map[string]State),
	}
}

// AllowList returns the names of the generations that survive activation.
func (g *Generations) AllowList() []string {
	return []string{g.Static, g.Dynamic}
}

// Allowed reports whether name is one of the current generation names.
func (g *Generations) Allowed(name string) bool {
	return name == g.Static || name == g.Dynamic
}

func (g *Generations) State(name string) State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.states[name]
}

func (g *Generations) set(name string, state State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[name] = state
}
