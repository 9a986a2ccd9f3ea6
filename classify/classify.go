// Package classify decides which requests the worker intercepts
// and which strategy handles them.
package classify

import (
	"net/http"
	"strings"

	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
)

// DefaultAPIPrefix is the reserved API namespace.
const DefaultAPIPrefix = "/api/"

type Category int

const (
	// Ignored requests go to the network untouched.
	Ignored Category = iota
	API
	Document
	Static
)

func (c Category) String() string {
	switch c {
	case API:
		return "api"
	case Document:
		return "document"
	case Static:
		return "static"
	default:
		return "ignored"
	}
}

// DestinationImage is the destination of image requests.
const DestinationImage = "image"

type Verdict struct {
	Intercept bool
	Category  Category
	// Navigate is true for top level navigation requests.
	Navigate bool
	// Destination is the kind of resource requested, e.g. `image` or `script`.
	Destination string
	SameOrigin  bool
}

// IsImage reports whether the request asks for an image.
func (v Verdict) IsImage() bool {
	return v.Destination == DestinationImage
}

type Classifier struct {
	apiPrefix string
	keyer     cachekey.CacheKeyer
}

// New returns a classifier for the origin of keyer.
// An empty apiPrefix uses DefaultAPIPrefix.
func New(apiPrefix string, keyer cachekey.CacheKeyer) Classifier {
	if apiPrefix == "" {
		apiPrefix = DefaultAPIPrefix
	}
	return Classifier{apiPrefix: apiPrefix, keyer: keyer}
}

// Classify maps a request to a verdict.
// It has no side effects and is total: every request gets a verdict.
func (c Classifier) Classify(r *http.Request) Verdict {
	v := Verdict{
		Navigate:    r.Header.Get("Sec-Fetch-Mode") == "navigate",
		Destination: destination(r),
		SameOrigin:  c.keyer.SameOrigin(r),
	}
	if r.Method != http.MethodGet {
		return v
	}
	v.Intercept = true
	switch {
	case strings.HasPrefix(r.URL.Path, c.apiPrefix):
		v.Category = API
	case acceptsHTML(r):
		v.Category = Document
	default:
		v.Category = Static
	}
	return v
}

func acceptsHTML(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(accept, "text/html") {
			return true
		}
	}
	return false
}

func destination(r *http.Request) string {
	if dest := r.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest
	}
	if strings.HasPrefix(r.Header.Get("Accept"), "image/") {
		return DestinationImage
	}
	return ""
}
