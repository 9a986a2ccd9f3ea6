package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrorMethodNotSupported = fmt.Errorf("Method not supported")
	ErrorMalformedKey       = fmt.Errorf("Malformed key")
)

const methodSeparator = ":"

// CacheKeyer creates cache keys from requests.
// A key is the method and the absolute request URL without fragment,
// e.g. `GET:https://example.com/index.html`.
// Relative request URLs are resolved against the origin.
type CacheKeyer struct {
	// The origin the application is served from.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{
		Origin: &url.URL{Scheme: origin.Scheme, Host: origin.Host},
	}
}

// MethodPrefix gets the key prefix for the given method.
// E.g. prefix for all GET requests in the cache.
func (c CacheKeyer) MethodPrefix(method string) string {
	return method + methodSeparator
}

// GetKey returns the cache key for the request.
// Only GET requests can be cached, other methods return ErrorMethodNotSupported.
func (c CacheKeyer) GetKey(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	return c.MethodPrefix(r.Method) + c.AbsoluteURL(r.URL).String(), nil
}

// PathKey returns the key of a GET request for the given origin path.
// It is used for the entries written without an incoming request, such as shell assets.
func (c CacheKeyer) PathKey(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		// not a valid reference, use it verbatim
		return c.MethodPrefix(http.MethodGet) + c.Origin.String() + path
	}
	return c.MethodPrefix(http.MethodGet) + c.AbsoluteURL(ref).String()
}

// AbsoluteURL resolves u against the origin and drops the fragment.
func (c CacheKeyer) AbsoluteURL(u *url.URL) *url.URL {
	abs := c.Origin.ResolveReference(u)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs
}

// SameOrigin reports whether the request targets the origin.
// Requests with a relative URL always do.
func (c CacheKeyer) SameOrigin(r *http.Request) bool {
	if !r.URL.IsAbs() {
		return true
	}
	return strings.EqualFold(r.URL.Scheme, c.Origin.Scheme) && strings.EqualFold(r.URL.Host, c.Origin.Host)
}

// GetRequestFromKey creates a GET request equal to the one that resulted in the provided key.
// It returns an error if the key is not a GET key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, rawURL, found := strings.Cut(key, methodSeparator)
	if !found || method != http.MethodGet {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	return req, nil
}
