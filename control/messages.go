package control

import "encoding/json"

// Inbound command types.
const (
	TypeSkipActivationWait = "SKIP_ACTIVATION_WAIT"
	TypeClaimClients       = "CLAIM_CLIENTS"
	// Names used by older clients.
	TypeSkipWaiting  = "SKIP_WAITING"
	TypeClientsClaim = "CLIENTS_CLAIM"
)

// Outbound message types.
const (
	TypeSeriesUpdated     = "SERIES_UPDATED"
	TypeShowNotification  = "SHOW_NOTIFICATION"
	TypeCloseNotification = "CLOSE_NOTIFICATION"
	TypeOpenWindow        = "OPEN_WINDOW"
)

// Command is a message sent by a client.
type Command struct {
	Type string `json:"type"`
}

// SeriesUpdated is broadcast after the series data was refreshed.
type SeriesUpdated struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ShowNotification struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

type CloseNotification struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type OpenWindow struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Notification is presented to the user by the connected clients.
type Notification struct {
	ID      string               `json:"id"`
	Title   string               `json:"title"`
	Body    string               `json:"body,omitempty"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Vibrate []int                `json:"vibrate,omitempty"`
	Data    NotificationData     `json:"data"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

type NotificationData struct {
	// Unix milliseconds.
	DateOfArrival int64 `json:"dateOfArrival"`
	PrimaryKey    int   `json:"primaryKey"`
}

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}
