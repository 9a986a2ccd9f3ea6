package offlineworker

import (
	"context"
	"net/http"

	"go.trai.ch/zerr"
)

// Trigger is the kind of event the worker reacts to.
type Trigger string

const (
	TriggerInstall           Trigger = "install"
	TriggerActivate          Trigger = "activate"
	TriggerFetch             Trigger = "fetch"
	TriggerSync              Trigger = "sync"
	TriggerPeriodicSync      Trigger = "periodicsync"
	TriggerPush              Trigger = "push"
	TriggerNotificationClick Trigger = "notificationclick"
	TriggerMessage           Trigger = "message"
)

// Event carries the trigger and its arguments.
// Only the fields used by the trigger need to be set.
type Event struct {
	Trigger Trigger

	// fetch
	Request  *http.Request
	Response http.ResponseWriter

	// sync and periodicsync
	Tag string

	// push and message
	Payload []byte

	// notificationclick
	NotificationID string
	Action         string
}

type handlerFunc func(ctx context.Context, e Event) error

// Dispatch runs the handler for the event trigger.
// Install and activate run to completion before Dispatch returns.
func (w *Worker) Dispatch(ctx context.Context, e Event) error {
	handler, ok := w.handlers[e.Trigger]
	if !ok {
		return zerr.With(zerr.Wrap(ErrUnknownTrigger, "dispatch"), "trigger", string(e.Trigger))
	}
	w.log.Trace().Str("trigger", string(e.Trigger)).Msg("Dispatching event")
	if err := handler(ctx, e); err != nil {
		return zerr.With(zerr.Wrap(err, string(e.Trigger)), "trigger", string(e.Trigger))
	}
	return nil
}

func (w *Worker) install(ctx context.Context, e Event) error {
	if err := w.manager.Install(ctx); err != nil {
		return err
	}
	if w.manager.SkipWaitingRequested() {
		return w.manager.SkipWaiting(ctx)
	}
	return nil
}

func (w *Worker) activate(ctx context.Context, e Event) error {
	return w.manager.Activate(ctx)
}

func (w *Worker) fetch(ctx context.Context, e Event) error {
	if e.Request == nil || e.Response == nil {
		return zerr.New("fetch needs a request and a response writer")
	}
	w.ServeHTTP(e.Response, e.Request.WithContext(ctx))
	return nil
}

func (w *Worker) sync(ctx context.Context, e Event) error {
	return w.runner.Sync(ctx, e.Tag)
}

func (w *Worker) periodicSync(ctx context.Context, e Event) error {
	return w.runner.PeriodicSync(ctx, e.Tag)
}

func (w *Worker) push(ctx context.Context, e Event) error {
	return w.runner.Push(ctx, e.Payload)
}

func (w *Worker) notificationClick(ctx context.Context, e Event) error {
	return w.runner.NotificationClick(ctx, e.NotificationID, e.Action)
}

func (w *Worker) message(ctx context.Context, e Event) error {
	return w.hub.HandleMessage(ctx, e.Payload)
}
