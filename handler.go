package offlineworker

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/always-cache/offline-worker/cache"
	cachestatus "github.com/always-cache/offline-worker/pkg/cache-status"
	"github.com/always-cache/offline-worker/strategy"
)

// ServeHTTP implements the http.Handler interface.
// It is the fetch trigger: every request is answered from the cache
// or the network according to the strategy preset.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer w.recover(rw, r)
	w.handle(rw, r)
}

// recover recovers from panics and sends the request to the escape hatch.
func (w *Worker) recover(rw http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		w.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in worker handler")
		w.escapeHatch(rw, r)
	}
}

// escapeHatch is a fallback handler that just proxies the request to the origin.
func (w *Worker) escapeHatch(rw http.ResponseWriter, r *http.Request) {
	w.passthrough(rw, r, w.status().Forward(cachestatus.FwdRequest).Detail("escape-hatch"))
}

func (w *Worker) handle(rw http.ResponseWriter, r *http.Request) {
	v := w.classifier.Classify(r)
	if !w.engine.Intercepts(v) {
		reason := cachestatus.FwdBypass
		if r.Method != http.MethodGet {
			reason = cachestatus.FwdMethod
		}
		w.passthrough(rw, r, w.status().Forward(reason))
		return
	}

	res, err := w.engine.Handle(r.Context(), r, v)
	if errors.Is(err, strategy.ErrNotIntercepted) {
		w.passthrough(rw, r, w.status().Forward(cachestatus.FwdBypass))
		return
	}
	if err != nil {
		w.log.Warn().Err(err).Str("url", r.URL.String()).Msg("No response available")
		w.fail(rw, r, w.status().Forward(cachestatus.FwdMiss).Detail("offline"))
		return
	}

	cs := w.status()
	if res.Source.Hit() {
		cs.Hit()
	} else {
		cs.Forward(cachestatus.FwdUriMiss)
	}
	cs.Detail(string(res.Source))
	w.send(rw, r, res.Snapshot, cs)
}

// passthrough sends the request to the network unchanged.
func (w *Worker) passthrough(rw http.ResponseWriter, r *http.Request, cs *cachestatus.CacheStatus) {
	w.log.Trace().Msgf("proxying %s", r.URL.String())
	res, err := w.fetcher.Fetch(r.Context(), r)
	if err != nil {
		w.log.Error().Err(err).Msg("Error connecting to origin")
		w.fail(rw, r, cs.Detail("offline"))
		return
	}
	snapshot, err := cache.NewSnapshot(res)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not read origin response")
		w.fail(rw, r, cs.Detail("offline"))
		return
	}
	w.send(rw, r, snapshot, cs)
}

func (w *Worker) fail(rw http.ResponseWriter, r *http.Request, cs *cachestatus.CacheStatus) {
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
	w.logRequest(r, http.StatusBadGateway, cs)
}

func (w *Worker) send(rw http.ResponseWriter, r *http.Request, snapshot cache.Snapshot, cs *cachestatus.CacheStatus) {
	res := snapshot.Response(r)
	defer res.Body.Close()
	copyHeader(rw.Header(), res.Header)
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, res.StatusCode, cs)
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (w *Worker) status() *cachestatus.CacheStatus {
	return cachestatus.New(w.cacheName)
}

func (w *Worker) logRequest(r *http.Request, statusCode int, cs *cachestatus.CacheStatus) {
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", statusCode).
		Str("cacheStatus", cs.String()).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
