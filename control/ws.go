package control

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// wsClient implements Client by wrapping a websocket connection.
type wsClient struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func (c *wsClient) Send(message []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, message) == nil
}

func (c *wsClient) Close() {
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the worker runs next to its clients, any page of the app may connect
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the connection and registers the client.
// Every text message received is handled as a command.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn}
	h.Register(client)
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Client connected")

	// heartbeat, the reader loop exits once pings fail
	pingTicker := time.NewTicker(pingPeriod)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		pingTicker.Stop()
		h.Unregister(client)
		client.Close()
		h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Client disconnected")
	}()

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// commands outlive the upgrade request
	ctx := context.WithoutCancel(r.Context())
	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if err := h.HandleMessage(ctx, message); err != nil {
			h.logger.Warn().Err(err).Msg("Could not handle client message")
		}
	}
}

// ServeWSHandler returns ServeWS as a http.Handler.
func (h *Hub) ServeWSHandler() http.Handler {
	return http.HandlerFunc(h.ServeWS)
}
