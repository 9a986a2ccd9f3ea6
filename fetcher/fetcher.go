// Package fetcher provides the network capability of the worker.
package fetcher

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.trai.ch/zerr"

	tee "github.com/always-cache/offline-worker/pkg/response-writer-tee"
)

// Fetcher performs a network request.
// A returned error means no response was received at all,
// any HTTP status is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f Func) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

type Config struct {
	// Relative requests are sent here.
	OriginURL url.URL
	// Host header and TLS server name for the origin, if different from the URL.
	OriginHost string
	Logger     *zerolog.Logger
}

// OriginFetcher fetches requests from the origin server.
// Absolute requests for other hosts are fetched as they are.
type OriginFetcher struct {
	originURL  url.URL
	originHost string
	httpClient http.Client
	logger     zerolog.Logger
}

func NewOriginFetcher(config Config) *OriginFetcher {
	f := &OriginFetcher{
		originURL:  config.OriginURL,
		originHost: config.OriginHost,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	// use provided hostname for origin if configured
	if f.originHost != "" {
		f.httpClient.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: f.originHost,
			},
		}
	}
	if config.Logger != nil {
		f.logger = config.Logger.With().Str("component", "fetcher").Logger()
	} else {
		f.logger = log.With().Str("component", "fetcher").Logger()
	}
	return f
}

func (f *OriginFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	uri := f.originURL.String() + r.URL.RequestURI()
	crossOrigin := r.URL.IsAbs() && !strings.EqualFold(r.URL.Host, f.originURL.Host)
	if crossOrigin {
		uri = r.URL.String()
	}
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, body)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "create request"), "uri", uri)
	}
	if !crossOrigin && f.originHost != "" {
		req.Host = f.originHost
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	f.logger.Trace().Str("method", req.Method).Str("uri", uri).Msg("Fetching")

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "fetch"), "uri", uri)
	}
	return res, nil
}

// HandlerFetcher fetches requests by running them through an in-process handler.
// It is used to serve an origin embedded in the same binary, and in tests.
type HandlerFetcher struct {
	Handler http.Handler
}

func (f HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	req := r.Clone(ctx)
	if req.URL.IsAbs() {
		req.Host = req.URL.Host
	}
	if req.RequestURI == "" {
		req.RequestURI = req.URL.RequestURI()
	}
	done := make(chan *http.Response, 1)
	go func() {
		rs := tee.NewResponseSaver(nil)
		f.Handler.ServeHTTP(rs, req)
		done <- rs.Response(r)
	}()
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return nil, zerr.With(zerr.Wrap(ctx.Err(), "fetch"), "uri", r.URL.String())
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// remove default headers sent by an upstream proxy
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
