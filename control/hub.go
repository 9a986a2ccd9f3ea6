// Package control keeps track of the connected clients.
// It broadcasts messages to them, presents notifications through them,
// and dispatches the commands they send.
package control

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.trai.ch/zerr"

	"github.com/always-cache/offline-worker/stats"
)

// ErrInvalidMessage is returned for client messages that are not valid JSON commands.
var ErrInvalidMessage = zerr.New("invalid message")

// Client is a single connected client.
type Client interface {
	// Send delivers the message and reports whether that worked.
	Send(message []byte) bool
	Close()
}

// Commander executes client commands. Both commands must be idempotent.
type Commander interface {
	SkipWaiting(ctx context.Context) error
	Claim(ctx context.Context) error
}

type clientState struct {
	controlled bool
}

type Hub struct {
	mu            sync.RWMutex
	clients       map[Client]*clientState
	notifications map[string]Notification
	nextID        int

	commander Commander
	stats     stats.Collector
	logger    zerolog.Logger
}

func NewHub(logger *zerolog.Logger, collector stats.Collector) *Hub {
	h := &Hub{
		clients:       make(map[Client]*clientState),
		notifications: make(map[string]Notification),
		stats:         collector,
	}
	if h.stats == nil {
		h.stats = stats.NewNoop()
	}
	if logger != nil {
		h.logger = logger.With().Str("component", "control").Logger()
	} else {
		h.logger = log.With().Str("component", "control").Logger()
	}
	return h
}

// SetCommander sets the receiver of client commands.
func (h *Hub) SetCommander(c Commander) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commander = c
}

func (h *Hub) Register(client Client) {
	h.mu.Lock()
	h.clients[client] = &clientState{}
	n := len(h.clients)
	h.mu.Unlock()
	h.stats.SetGauge(stats.MetricClients, int64(n))
}

func (h *Hub) Unregister(client Client) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()
	h.stats.SetGauge(stats.MetricClients, int64(n))
}

// Clients returns the number of connected clients and how many of them are controlled.
func (h *Hub) Clients() (connected, controlled int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, state := range h.clients {
		if state.controlled {
			controlled++
		}
	}
	return len(h.clients), controlled
}

// Broadcast sends the JSON encoded message to every client.
// It returns the number of clients that got it.
func (h *Hub) Broadcast(message any) (int, error) {
	b, err := json.Marshal(message)
	if err != nil {
		return 0, zerr.Wrap(err, "encode message")
	}
	sent := 0
	for _, c := range h.snapshot() {
		// a failed client is cleaned up by its connection handler
		if c.client.Send(b) {
			sent++
		}
	}
	return sent, nil
}

// Claim marks every connected client as controlled.
func (h *Hub) Claim() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, state := range h.clients {
		state.controlled = true
	}
	return len(h.clients)
}

// OpenWindow asks a client to open url, preferring controlled clients.
// It reports whether a client took the request.
func (h *Hub) OpenWindow(url string) bool {
	b, _ := json.Marshal(OpenWindow{Type: TypeOpenWindow, URL: url})
	clients := h.snapshot()
	for _, controlled := range []bool{true, false} {
		for _, c := range clients {
			if c.controlled == controlled && c.client.Send(b) {
				return true
			}
		}
	}
	h.logger.Debug().Str("url", url).Msg("No client to open window")
	return false
}

type connectedClient struct {
	client     Client
	controlled bool
}

// snapshot copies the clients so that sending happens without holding the lock.
func (h *Hub) snapshot() []connectedClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]connectedClient, 0, len(h.clients))
	for c, state := range h.clients {
		clients = append(clients, connectedClient{client: c, controlled: state.controlled})
	}
	return clients
}

// ShowNotification assigns an ID to the notification and broadcasts it.
// The notification stays open until it is closed.
func (h *Hub) ShowNotification(n Notification) (string, error) {
	h.mu.Lock()
	h.nextID++
	n.ID = strconv.Itoa(h.nextID)
	h.notifications[n.ID] = n
	h.mu.Unlock()
	if _, err := h.Broadcast(ShowNotification{Type: TypeShowNotification, Notification: n}); err != nil {
		return "", err
	}
	return n.ID, nil
}

// CloseNotification closes an open notification.
// It reports whether the notification was open.
func (h *Hub) CloseNotification(id string) bool {
	h.mu.Lock()
	_, open := h.notifications[id]
	delete(h.notifications, id)
	h.mu.Unlock()
	h.Broadcast(CloseNotification{Type: TypeCloseNotification, ID: id})
	return open
}

// Notifications returns the open notifications, oldest first.
func (h *Hub) Notifications() []Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	open := make([]Notification, 0, len(h.notifications))
	for _, n := range h.notifications {
		open = append(open, n)
	}
	sort.Slice(open, func(i, j int) bool {
		a, _ := strconv.Atoi(open[i].ID)
		b, _ := strconv.Atoi(open[j].ID)
		return a < b
	})
	return open
}

// HandleMessage dispatches a client command.
// Unknown command types are ignored.
func (h *Hub) HandleMessage(ctx context.Context, message []byte) error {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return zerr.With(zerr.Wrap(ErrInvalidMessage, err.Error()), "message", string(message))
	}
	h.mu.RLock()
	commander := h.commander
	h.mu.RUnlock()

	logger := h.logger.With().Str("type", cmd.Type).Logger()
	if commander == nil {
		logger.Warn().Msg("No commander, ignoring message")
		return nil
	}
	switch cmd.Type {
	case TypeSkipActivationWait, TypeSkipWaiting:
		logger.Debug().Msg("Skip waiting requested by client")
		return commander.SkipWaiting(ctx)
	case TypeClaimClients, TypeClientsClaim:
		logger.Debug().Msg("Claim requested by client")
		return commander.Claim(ctx)
	default:
		logger.Debug().Msg("Ignoring unknown message")
		return nil
	}
}
