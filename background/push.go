package background

import (
	"context"
	"encoding/json"

	"github.com/always-cache/offline-worker/control"
	"github.com/always-cache/offline-worker/stats"
)

// PushPayload is the JSON body of a push message.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Push shows a notification for the payload.
// Empty payloads and payloads that are not JSON are dropped.
func (r *Runner) Push(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		r.logger.Debug().Msg("Dropping empty push")
		return nil
	}
	var p PushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Debug().Err(err).Msg("Dropping push that is not JSON")
		return nil
	}
	id, err := r.clients.ShowNotification(notification(p, r.now().UnixMilli()))
	if err != nil {
		return err
	}
	r.stats.IncCounter(stats.MetricNotifications, 1)
	r.logger.Debug().Str("id", id).Str("title", p.Title).Msg("Notification shown")
	return nil
}

// NotificationClick closes the notification and, for the explore action,
// opens the application root.
func (r *Runner) NotificationClick(ctx context.Context, id, action string) error {
	r.clients.CloseNotification(id)
	if action == ActionExplore {
		opened := r.clients.OpenWindow("/")
		r.logger.Debug().Str("id", id).Bool("opened", opened).Msg("Opening application")
	}
	return nil
}

func notification(p PushPayload, arrival int64) control.Notification {
	return control.Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    "/icons/icon-192x192.png",
		Badge:   "/icons/icon-96x96.png",
		Vibrate: []int{200, 100, 200},
		Data: control.NotificationData{
			DateOfArrival: arrival,
			PrimaryKey:    1,
		},
		Actions: []control.NotificationAction{
			{Action: ActionExplore, Title: "Ansehen", Icon: "/icons/checkmark.png"},
			{Action: ActionClose, Title: "Schließen", Icon: "/icons/xmark.png"},
		},
	}
}
