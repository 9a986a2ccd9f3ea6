package offlineworker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prefix of the worker's own endpoints.
const RoutePrefix = "/.worker"

const maxEventBody = 1 << 20

// Router returns the HTTP surface of the worker:
// the control channel, event endpoints, generation listing and metrics
// under RoutePrefix, and the fetch trigger for everything else.
func (w *Worker) Router() http.Handler {
	r := chi.NewRouter()
	r.Route(RoutePrefix, func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/ws", w.hub.ServeWS)
		r.Post("/events/{trigger}", w.serveEvent)
		r.Get("/generations", w.serveGenerations)
		if w.registry != nil {
			r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{}))
		}
	})
	r.NotFound(w.ServeHTTP)
	r.MethodNotAllowed(w.ServeHTTP)
	return r
}

func (w *Worker) serveEvent(rw http.ResponseWriter, r *http.Request) {
	e := Event{
		Trigger:        Trigger(chi.URLParam(r, "trigger")),
		Tag:            r.URL.Query().Get("tag"),
		NotificationID: r.URL.Query().Get("id"),
		Action:         r.URL.Query().Get("action"),
	}
	if e.Trigger == TriggerFetch {
		http.Error(rw, "fetch is served on every other path", http.StatusNotFound)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxEventBody))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	e.Payload = payload

	if err := w.Dispatch(r.Context(), e); err != nil {
		if errors.Is(err, ErrUnknownTrigger) {
			http.Error(rw, err.Error(), http.StatusNotFound)
			return
		}
		w.log.Warn().Err(err).Str("trigger", string(e.Trigger)).Msg("Event failed")
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

type generationInfo struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type generationsResponse struct {
	Phase       string           `json:"phase"`
	Static      string           `json:"static"`
	Dynamic     string           `json:"dynamic"`
	Generations []generationInfo `json:"generations"`
}

func (w *Worker) serveGenerations(rw http.ResponseWriter, r *http.Request) {
	names, err := w.store.Keys(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	res := generationsResponse{
		Phase:       w.manager.Phase().String(),
		Static:      w.generations.Static,
		Dynamic:     w.generations.Dynamic,
		Generations: make([]generationInfo, 0, len(names)),
	}
	for _, name := range names {
		res.Generations = append(res.Generations, generationInfo{
			Name:  name,
			State: w.generations.State(name).String(),
		})
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(res)
}
