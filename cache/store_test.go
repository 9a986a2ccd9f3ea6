package cache

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) CacheStore

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) CacheStore {
			return NewMemStore()
		},
		"sqlite": func(t *testing.T) CacheStore {
			s, err := NewSQLiteStore(SQLiteOptions{Filename: MemoryFilename})
			require.NoError(t, err)
			return s
		},
		"sqlite-file-zstd-lru": func(t *testing.T) CacheStore {
			codec, err := NewZstdCodec()
			require.NoError(t, err)
			s, err := NewSQLiteStore(SQLiteOptions{
				Filename:      filepath.Join(t.TempDir(), "cache.db"),
				Codec:         codec,
				MemoryEntries: 16,
			})
			require.NoError(t, err)
			return s
		},
	}
}

func jsonSnapshot(body string) Snapshot {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Add("X-Multi", "a")
	h.Add("X-Multi", "b")
	return Snapshot{StatusCode: http.StatusOK, Header: h, Body: []byte(body)}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			h, err := s.Open(ctx, "lern-oase-dynamic-v1")
			require.NoError(t, err)
			assert.Equal(t, "lern-oase-dynamic-v1", h.Name())

			in := jsonSnapshot(`{"v":1}`)
			require.NoError(t, h.Put(ctx, "GET:http://app.test/api/x", in))

			got, err := h.Get(ctx, "GET:http://app.test/api/x")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, in.StatusCode, got.StatusCode)
			assert.Equal(t, in.Header, got.Header)
			assert.Equal(t, in.Body, got.Body)
			assert.False(t, got.StoredAt.IsZero())

			missing, err := h.Get(ctx, "GET:http://app.test/none")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestStorePutReplaces(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			h, err := s.Open(ctx, "dyn")
			require.NoError(t, err)
			require.NoError(t, h.Put(ctx, "k", jsonSnapshot("old")))
			// populate the read cache
			_, err = h.Get(ctx, "k")
			require.NoError(t, err)
			require.NoError(t, h.Put(ctx, "k", jsonSnapshot("new")))

			got, err := h.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "new", string(got.Body))

			keys, err := h.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"k"}, keys)
		})
	}
}

func TestStoreGenerations(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			old, err := s.Open(ctx, "v0")
			require.NoError(t, err)
			_, err = s.Open(ctx, "v1")
			require.NoError(t, err)
			_, err = s.Open(ctx, "dyn-v1")
			require.NoError(t, err)
			// opening again does not reorder
			_, err = s.Open(ctx, "v0")
			require.NoError(t, err)

			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v0", "v1", "dyn-v1"}, keys)

			require.NoError(t, old.Put(ctx, "k", jsonSnapshot("old")))
			ok, err := s.Has(ctx, "v0")
			require.NoError(t, err)
			assert.True(t, ok)

			deleted, err := s.Delete(ctx, "v0")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = s.Delete(ctx, "v0")
			require.NoError(t, err)
			assert.False(t, deleted)

			ok, err = s.Has(ctx, "v0")
			require.NoError(t, err)
			assert.False(t, ok)
			keys, err = s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v1", "dyn-v1"}, keys)

			got, err := s.Match(ctx, "k")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStoreMatchOrder(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			static, err := s.Open(ctx, "static")
			require.NoError(t, err)
			dynamic, err := s.Open(ctx, "dynamic")
			require.NoError(t, err)

			require.NoError(t, dynamic.Put(ctx, "k", jsonSnapshot("dynamic")))
			got, err := s.Match(ctx, "k")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "dynamic", string(got.Body))

			require.NoError(t, static.Put(ctx, "k", jsonSnapshot("static")))
			got, err = s.Match(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "static", string(got.Body))
		})
	}
}

func TestStorePutAll(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			h, err := s.Open(ctx, "shell")
			require.NoError(t, err)
			require.NoError(t, h.PutAll(ctx, map[string]Snapshot{
				"b": jsonSnapshot("b"),
				"a": jsonSnapshot("a"),
			}))
			keys, err := h.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, keys)
		})
	}
}

func TestStoreWriteRecreatesDeletedGeneration(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			h, err := s.Open(ctx, "dyn")
			require.NoError(t, err)
			_, err = s.Delete(ctx, "dyn")
			require.NoError(t, err)
			require.NoError(t, h.Put(ctx, "k", jsonSnapshot("late")))

			ok, err := s.Has(ctx, "dyn")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			defer s.Close()

			h, err := s.Open(ctx, "dyn")
			require.NoError(t, err)
			require.NoError(t, h.Put(ctx, "k", jsonSnapshot("body")))

			got, err := h.Get(ctx, "k")
			require.NoError(t, err)
			got.Body[0] = 'X'
			got.Header.Set("Content-Type", "text/plain")

			again, err := h.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "body", string(again.Body))
			assert.Equal(t, "application/json", again.Header.Get("Content-Type"))
		})
	}
}

func TestStoreClosed(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			require.NoError(t, s.Close())
			_, err := s.Open(context.Background(), "x")
			assert.True(t, errors.Is(err, ErrClosed))
		})
	}
}

func TestOpenEmptyName(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			_, err := s.Open(context.Background(), "")
			assert.ErrorIs(t, err, ErrEmptyName)
		})
	}
}

func TestSQLiteFilePersists(t *testing.T) {
	ctx := context.Background()
	filename := filepath.Join(t.TempDir(), "cache.db")
	codec, err := NewZstdCodec()
	require.NoError(t, err)

	s, err := NewSQLiteStore(SQLiteOptions{Filename: filename, Codec: codec})
	require.NoError(t, err)
	h, err := s.Open(ctx, "dyn")
	require.NoError(t, err)
	require.NoError(t, h.Put(ctx, "k", jsonSnapshot(`{"v":1}`)))
	require.NoError(t, s.Close())

	// reopening without compression still reads the compressed entry
	s, err = NewSQLiteStore(SQLiteOptions{Filename: filename})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Match(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, `{"v":1}`, string(got.Body))
}

func TestZstdCodec(t *testing.T) {
	codec, err := NewZstdCodec()
	require.NoError(t, err)
	in := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello hello hello hello")
	enc, err := codec.Encode(in)
	require.NoError(t, err)
	out, err := codec.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "zstd", codec.Name())
}

// gatedCodec blocks the next Decode after arm until release is closed.
type gatedCodec struct {
	NoopCodec
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (c *gatedCodec) Name() string { return "gated" }

func (c *gatedCodec) arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entered = make(chan struct{})
	c.release = make(chan struct{})
}

func (c *gatedCodec) Decode(src []byte) ([]byte, error) {
	c.mu.Lock()
	entered, release := c.entered, c.release
	c.entered, c.release = nil, nil
	c.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	return src, nil
}

func TestSQLiteReadCacheKeepsNewerWrite(t *testing.T) {
	ctx := context.Background()
	codec := &gatedCodec{}
	s, err := NewSQLiteStore(SQLiteOptions{Filename: filepath.Join(t.TempDir(), "cache.db"), Codec: codec, MemoryEntries: 16})
	require.NoError(t, err)
	defer s.Close()

	h, err := s.Open(ctx, "dyn")
	require.NoError(t, err)
	require.NoError(t, h.Put(ctx, "k", jsonSnapshot("old")))

	codec.arm()
	entered := codec.entered
	release := codec.release
	read := make(chan string, 1)
	go func() {
		got, err := h.Get(ctx, "k")
		if err != nil || got == nil {
			read <- ""
			return
		}
		read <- string(got.Body)
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not start")
	}

	// the slow read holds the old row while the new one is committed
	require.NoError(t, h.Put(ctx, "k", jsonSnapshot("new")))
	close(release)
	assert.Equal(t, "old", <-read)

	for i := 0; i < 3; i++ {
		got, err := h.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got.Body))
		got, err = s.Match(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got.Body))
	}
}

func TestSQLiteReadCacheDroppedOnDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(SQLiteOptions{Filename: MemoryFilename, MemoryEntries: 16})
	require.NoError(t, err)
	defer s.Close()

	h, err := s.Open(ctx, "dyn")
	require.NoError(t, err)
	require.NoError(t, h.Put(ctx, "k", jsonSnapshot("body")))
	_, err = h.Get(ctx, "k")
	require.NoError(t, err)

	_, err = s.Delete(ctx, "dyn")
	require.NoError(t, err)
	got, err := h.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
