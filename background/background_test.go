package background

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/offline-worker/cache"
	"github.com/always-cache/offline-worker/control"
	"github.com/always-cache/offline-worker/fetcher"
	"github.com/always-cache/offline-worker/lifecycle"
	cachekey "github.com/always-cache/offline-worker/pkg/cache-key"
)

type recordingClient struct {
	mu       sync.Mutex
	messages []string
}

func (c *recordingClient) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, string(message))
	return true
}

func (c *recordingClient) Close() {}

func (c *recordingClient) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

type origin struct {
	mu     sync.Mutex
	series string
	status int
	hits   map[string]int
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits[r.URL.Path]++
	if o.status != 0 {
		w.WriteHeader(o.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case DefaultSeriesEndpoint:
		io.WriteString(w, o.series)
	default:
		io.WriteString(w, `{"path":"`+r.URL.Path+`"}`)
	}
}

type fixture struct {
	runner *Runner
	store  *cache.MemStore
	gens   *lifecycle.Generations
	keyer  cachekey.CacheKeyer
	hub    *control.Hub
	client *recordingClient
	origin *origin
}

func newFixture(t *testing.T) *fixture {
	u, _ := url.Parse("https://lern-oase.test")
	fx := &fixture{
		store:  cache.NewMemStore(),
		gens:   lifecycle.NewGenerations("", 1),
		keyer:  cachekey.NewCacheKeyer(u),
		hub:    control.NewHub(nil, nil),
		client: &recordingClient{},
		origin: &origin{series: `{"v":1}`, hits: map[string]int{}},
	}
	fx.hub.Register(fx.client)
	fx.runner = NewRunner(Config{
		Store:       fx.store,
		Fetcher:     fetcher.HandlerFetcher{Handler: fx.origin},
		Keyer:       fx.keyer,
		Generations: fx.gens,
		Clients:     fx.hub,
	})
	fx.runner.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return fx
}

func (fx *fixture) dynamic(t *testing.T) cache.Handle {
	h, err := fx.store.Open(context.Background(), fx.gens.Dynamic)
	require.NoError(t, err)
	return h
}

func TestPeriodicSync(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.runner.PeriodicSync(context.Background(), TagUpdateSeries))

	stored, err := fx.dynamic(t).Get(context.Background(), fx.keyer.PathKey("/api/series/latest"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, `{"v":1}`, string(stored.Body))
	assert.Equal(t, "application/json", stored.Header.Get("Content-Type"))

	assert.Equal(t, []string{`{"type":"SERIES_UPDATED","data":{"v":1}}`}, fx.client.received())
}

func TestPeriodicSyncFailures(t *testing.T) {
	cases := map[string]func(o *origin){
		"invalid json": func(o *origin) { o.series = `{"v":` },
		"bad status":   func(o *origin) { o.status = http.StatusServiceUnavailable },
	}
	for name, breakOrigin := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t)
			breakOrigin(fx.origin)

			err := fx.runner.PeriodicSync(context.Background(), TagUpdateSeries)
			assert.ErrorIs(t, err, ErrRefreshFailed)
			keys, err := fx.dynamic(t).Keys(context.Background())
			require.NoError(t, err)
			assert.Empty(t, keys)
			assert.Empty(t, fx.client.received())
		})
	}
}

func TestPeriodicSyncNetworkDown(t *testing.T) {
	fx := newFixture(t)
	fx.runner.fetcher = fetcher.Func(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})
	err := fx.runner.PeriodicSync(context.Background(), TagUpdateSeries)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, fx.client.received())
}

func TestUnknownTagsIgnored(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.runner.PeriodicSync(context.Background(), "other"))
	require.NoError(t, fx.runner.Sync(context.Background(), "other"))
	assert.Equal(t, 0, fx.origin.hitCount(DefaultSeriesEndpoint))
}

func TestSyncRevalidatesAPIEntries(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	h := fx.dynamic(t)
	old := cache.Snapshot{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("old")}
	require.NoError(t, h.Put(ctx, fx.keyer.PathKey("/api/series/1"), old))
	require.NoError(t, h.Put(ctx, fx.keyer.PathKey("/lessons"), old))

	require.NoError(t, fx.runner.Sync(ctx, TagSyncSeries))

	api, err := h.Get(ctx, fx.keyer.PathKey("/api/series/1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/api/series/1"}`, string(api.Body))
	page, err := h.Get(ctx, fx.keyer.PathKey("/lessons"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(page.Body))
	assert.Equal(t, 0, fx.origin.hitCount("/lessons"))
}

func TestSyncKeepsEntriesOnFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	h := fx.dynamic(t)
	old := cache.Snapshot{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("old")}
	require.NoError(t, h.Put(ctx, fx.keyer.PathKey("/api/series/1"), old))
	fx.origin.status = http.StatusInternalServerError

	require.NoError(t, fx.runner.Sync(ctx, TagSyncSeries))
	api, err := h.Get(ctx, fx.keyer.PathKey("/api/series/1"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(api.Body))
}

func TestPushShowsNotification(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.runner.Push(context.Background(), []byte(`{"title":"New","body":"Update"}`)))

	open := fx.hub.Notifications()
	require.Len(t, open, 1)
	n := open[0]
	assert.Equal(t, "New", n.Title)
	assert.Equal(t, "Update", n.Body)
	assert.Equal(t, "/icons/icon-192x192.png", n.Icon)
	assert.Equal(t, "/icons/icon-96x96.png", n.Badge)
	assert.Equal(t, []int{200, 100, 200}, n.Vibrate)
	assert.Equal(t, control.NotificationData{DateOfArrival: 1700000000000, PrimaryKey: 1}, n.Data)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, control.NotificationAction{Action: "explore", Title: "Ansehen", Icon: "/icons/checkmark.png"}, n.Actions[0])
	assert.Equal(t, control.NotificationAction{Action: "close", Title: "Schließen", Icon: "/icons/xmark.png"}, n.Actions[1])

	var shown control.ShowNotification
	require.NoError(t, json.Unmarshal([]byte(fx.client.received()[0]), &shown))
	assert.Equal(t, n, shown.Notification)
}

func TestPushDropsInvalidPayload(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.runner.Push(context.Background(), nil))
	require.NoError(t, fx.runner.Push(context.Background(), []byte("not json")))
	assert.Empty(t, fx.hub.Notifications())
	assert.Empty(t, fx.client.received())
}

func TestNotificationClickExplore(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.runner.Push(context.Background(), []byte(`{"title":"New","body":"Update"}`)))
	id := fx.hub.Notifications()[0].ID

	require.NoError(t, fx.runner.NotificationClick(context.Background(), id, ActionExplore))
	assert.Empty(t, fx.hub.Notifications())
	messages := fx.client.received()
	require.Len(t, messages, 3)
	assert.Contains(t, messages[1], control.TypeCloseNotification)
	assert.JSONEq(t, `{"type":"OPEN_WINDOW","url":"/"}`, messages[2])
}

func TestNotificationClickClose(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.runner.Push(context.Background(), []byte(`{"title":"New"}`)))
	id := fx.hub.Notifications()[0].ID

	require.NoError(t, fx.runner.NotificationClick(context.Background(), id, ActionClose))
	assert.Empty(t, fx.hub.Notifications())
	for _, m := range fx.client.received() {
		assert.NotContains(t, m, control.TypeOpenWindow)
	}
}

func TestRunRefreshesPeriodically(t *testing.T) {
	fx := newFixture(t)
	fx.runner.interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.runner.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return len(fx.client.received()) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunDisabled(t *testing.T) {
	fx := newFixture(t)
	// returns right away without an interval
	fx.runner.Run(context.Background())
}
