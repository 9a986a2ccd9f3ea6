package classify

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
)

func classifier() Classifier {
	origin, _ := url.Parse("https://lern-oase.test")
	return New("", cachekey.NewCacheKeyer(origin))
}

func request(method, target string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClassify(t *testing.T) {
	c := classifier()
	cases := []struct {
		name     string
		req      *http.Request
		category Category
	}{
		{"post is ignored", request("POST", "/api/series", nil), Ignored},
		{"api prefix", request("GET", "/api/series/latest", map[string]string{"Accept": "text/html"}), API},
		{"html document", request("GET", "/lessons", map[string]string{"Accept": "text/html,application/xhtml+xml"}), Document},
		{"no accept header", request("GET", "/lessons", nil), Static},
		{"script", request("GET", "/app.js", map[string]string{"Accept": "*/*"}), Static},
		{"image", request("GET", "/logo.png", map[string]string{"Accept": "image/avif,image/webp"}), Static},
		{"api lookalike", request("GET", "/apidocs", nil), Static},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := c.Classify(tc.req)
			assert.Equal(t, tc.category, v.Category)
			assert.Equal(t, tc.category != Ignored, v.Intercept)
		})
	}
}

func TestNavigationAndDestination(t *testing.T) {
	c := classifier()
	v := c.Classify(request("GET", "/", map[string]string{
		"Accept":         "text/html",
		"Sec-Fetch-Mode": "navigate",
		"Sec-Fetch-Dest": "document",
	}))
	assert.True(t, v.Navigate)
	assert.Equal(t, "document", v.Destination)

	v = c.Classify(request("GET", "/logo.png", map[string]string{"Accept": "image/png"}))
	assert.False(t, v.Navigate)
	assert.True(t, v.IsImage())
}

func TestSameOrigin(t *testing.T) {
	c := classifier()
	assert.True(t, c.Classify(request("GET", "/x", nil)).SameOrigin)
	assert.False(t, c.Classify(request("GET", "https://cdn.test/lib.js", nil)).SameOrigin)
}

func TestDeterministic(t *testing.T) {
	c := classifier()
	r := request("GET", "/lessons", map[string]string{"Accept": "text/html"})
	assert.Equal(t, c.Classify(r), c.Classify(r))
}

func TestCustomPrefix(t *testing.T) {
	origin, _ := url.Parse("https://lern-oase.test")
	c := New("/v2/", cachekey.NewCacheKeyer(origin))
	assert.Equal(t, API, c.Classify(request("GET", "/v2/items", nil)).Category)
	assert.Equal(t, Static, c.Classify(request("GET", "/api/items", nil)).Category)
}
