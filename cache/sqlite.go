package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/glebarez/go-sqlite"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.trai.ch/zerr"

	serializer "github.com/always-cache/offline-worker/pkg/response-serializer"
)

// MemoryFilename opens a private in-memory database instead of a file.
const MemoryFilename = "memory"

type SQLiteOptions struct {
	// Database file. Empty or MemoryFilename keeps the database in memory.
	Filename string
	// Codec for the stored bytes. Defaults to NoopCodec.
	Codec Codec
	// Number of decoded snapshots kept in the read cache. 0 disables it.
	MemoryEntries int
	Logger        *zerolog.Logger
}

// SQLiteStore is a CacheStore persisting generations in SQLite.
// Entries are stored as HTTP/1.1 response bytes, optionally compressed.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	codec      Codec
	codecs     map[string]Codec
	recent     *lru.Cache[string, Snapshot]
	// recentMu orders read cache fills against invalidations.
	// epoch grows on every invalidation; a fill started in an older epoch is dropped.
	recentMu   sync.Mutex
	epoch      uint64
	closed     atomic.Bool
	logger     zerolog.Logger
	now        func() time.Time
}

var _ CacheStore = (*SQLiteStore)(nil)

var schema = []string{
	"CREATE TABLE IF NOT EXISTS generations (seq INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, created_at INTEGER NOT NULL)",
	"CREATE TABLE IF NOT EXISTS entries (generation TEXT NOT NULL, key TEXT NOT NULL, stored_at INTEGER NOT NULL, codec TEXT NOT NULL, bytes BLOB, PRIMARY KEY (generation, key))",
	"CREATE INDEX IF NOT EXISTS entries_key_idx ON entries (key)",
}

func NewSQLiteStore(opts SQLiteOptions) (*SQLiteStore, error) {
	memory := opts.Filename == "" || opts.Filename == MemoryFilename
	dsn := opts.Filename
	if memory {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "open database"), "filename", opts.Filename)
	}
	if memory {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, zerr.Wrap(err, "create schema")
		}
	}
	if !memory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, zerr.Wrap(err, "enable WAL")
		}
	}

	s := &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
		codec:      opts.Codec,
		codecs:     map[string]Codec{NoopCodec{}.Name(): NoopCodec{}},
		now:        time.Now,
	}
	if s.codec == nil {
		s.codec = NoopCodec{}
	}
	s.codecs[s.codec.Name()] = s.codec
	// entries written with compression stay readable when it is turned off
	if _, ok := s.codecs["zstd"]; !ok {
		zc, err := NewZstdCodec()
		if err != nil {
			db.Close()
			return nil, zerr.Wrap(err, "create zstd codec")
		}
		s.codecs[zc.Name()] = zc
	}
	if opts.MemoryEntries > 0 {
		recent, err := lru.New[string, Snapshot](opts.MemoryEntries)
		if err != nil {
			db.Close()
			return nil, zerr.Wrap(err, "create read cache")
		}
		s.recent = recent
	}
	if opts.Logger != nil {
		s.logger = opts.Logger.With().Str("store", "sqlite").Logger()
	} else {
		s.logger = log.With().Str("store", "sqlite").Logger()
	}
	return s, nil
}

func (s *SQLiteStore) Open(ctx context.Context, name string) (Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", name, s.now().Unix())
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "create generation"), "generation", name)
	}
	return sqliteHandle{store: s, name: name}, nil
}

func (s *SQLiteStore) Has(ctx context.Context, name string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM generations WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, "lookup generation"), "generation", name)
	}
	return true, nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.strings(ctx, "SELECT name FROM generations ORDER BY seq")
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, zerr.Wrap(err, "begin delete")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, zerr.With(zerr.Wrap(err, "delete entries"), "generation", name)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, zerr.With(zerr.Wrap(err, "delete generation"), "generation", name)
	}
	if err := tx.Commit(); err != nil {
		return false, zerr.With(zerr.Wrap(err, "commit delete"), "generation", name)
	}
	// entries are not indexed by generation in the read cache
	s.invalidate(nil)
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *SQLiteStore) Match(ctx context.Context, key string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var generation string
	err := s.db.QueryRowContext(ctx,
		"SELECT e.generation FROM entries e JOIN generations g ON g.name = e.generation WHERE e.key = ? ORDER BY g.seq LIMIT 1",
		key).Scan(&generation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "match entry"), "key", key)
	}
	return s.get(ctx, generation, key)
}

func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) get(ctx context.Context, generation, key string) (*Snapshot, error) {
	var epoch uint64
	if s.recent != nil {
		if snapshot, ok := s.recent.Get(recentKey(generation, key)); ok {
			c := snapshot.Clone()
			return &c, nil
		}
		s.recentMu.Lock()
		epoch = s.epoch
		s.recentMu.Unlock()
	}
	var storedAt int64
	var codecName string
	var stored []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT stored_at, codec, bytes FROM entries WHERE generation = ? AND key = ?",
		generation, key).Scan(&storedAt, &codecName, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.With(zerr.With(zerr.Wrap(err, "read entry"), "generation", generation), "key", key)
	}
	snapshot, err := s.decode(codecName, stored)
	if err != nil {
		return nil, zerr.With(zerr.With(zerr.Wrap(err, "decode entry"), "generation", generation), "key", key)
	}
	snapshot.StoredAt = time.UnixMilli(storedAt)
	if s.recent != nil {
		s.recentMu.Lock()
		// a write committed while reading, the row may already be outdated
		if s.epoch == epoch {
			s.recent.Add(recentKey(generation, key), snapshot.Clone())
		}
		s.recentMu.Unlock()
	}
	return &snapshot, nil
}

func (s *SQLiteStore) putAll(ctx context.Context, generation string, snapshots map[string]Snapshot) error {
	if s.closed.Load() {
		return ErrClosed
	}
	encoded := make(map[string][]byte, len(snapshots))
	for key, snapshot := range snapshots {
		b, err := s.encode(snapshot)
		if err != nil {
			return zerr.With(zerr.With(zerr.Wrap(err, "encode entry"), "generation", generation), "key", key)
		}
		encoded[key] = b
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	storedAt := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return zerr.Wrap(err, "begin write")
	}
	defer tx.Rollback()
	// a handle may outlive its generation, writing recreates it
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", generation, storedAt.Unix()); err != nil {
		return zerr.With(zerr.Wrap(err, "create generation"), "generation", generation)
	}
	for key, b := range encoded {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO entries (generation, key, stored_at, codec, bytes) VALUES (?, ?, ?, ?, ?)",
			generation, key, storedAt.UnixMilli(), s.codec.Name(), b)
		if err != nil {
			return zerr.With(zerr.With(zerr.Wrap(err, "write entry"), "generation", generation), "key", key)
		}
	}
	if err := tx.Commit(); err != nil {
		return zerr.With(zerr.Wrap(err, "commit write"), "generation", generation)
	}
	keys := make([]string, 0, len(snapshots))
	for key := range snapshots {
		keys = append(keys, recentKey(generation, key))
	}
	s.invalidate(keys)
	s.logger.Trace().Str("generation", generation).Int("entries", len(snapshots)).Msg("Stored entries")
	return nil
}

func (s *SQLiteStore) encode(snapshot Snapshot) ([]byte, error) {
	b, err := serializer.ResponseToBytes(snapshot.Response(nil))
	if err != nil {
		return nil, err
	}
	return s.codec.Encode(b)
}

func (s *SQLiteStore) decode(codecName string, stored []byte) (Snapshot, error) {
	codec, ok := s.codecs[codecName]
	if !ok {
		return Snapshot{}, zerr.With(zerr.Wrap(ErrUnknownCodec, "decode"), "codec", codecName)
	}
	b, err := codec.Decode(stored)
	if err != nil {
		return Snapshot{}, err
	}
	res, err := serializer.BytesToResponse(b)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(res)
}

// strings runs a single column query and collects the results,
// closing the rows before returning so the connection is free again.
func (s *SQLiteStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, zerr.Wrap(err, "query")
	}
	defer rows.Close()
	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, zerr.Wrap(err, "scan")
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// invalidate removes keys from the read cache, or everything if keys is nil,
// and starts a new epoch so reads already in flight do not fill it again.
func (s *SQLiteStore) invalidate(keys []string) {
	if s.recent == nil {
		return
	}
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	s.epoch++
	if keys == nil {
		s.recent.Purge()
		return
	}
	for _, key := range keys {
		s.recent.Remove(key)
	}
}

func recentKey(generation, key string) string {
	return generation + "\x00" + key
}

type sqliteHandle struct {
	store *SQLiteStore
	name  string
}

func (h sqliteHandle) Name() string {
	return h.name
}

func (h sqliteHandle) Get(ctx context.Context, key string) (*Snapshot, error) {
	if h.store.closed.Load() {
		return nil, ErrClosed
	}
	return h.store.get(ctx, h.name, key)
}

func (h sqliteHandle) Put(ctx context.Context, key string, snapshot Snapshot) error {
	return h.store.putAll(ctx, h.name, map[string]Snapshot{key: snapshot})
}

func (h sqliteHandle) PutAll(ctx context.Context, snapshots map[string]Snapshot) error {
	return h.store.putAll(ctx, h.name, snapshots)
}

func (h sqliteHandle) Keys(ctx context.Context) ([]string, error) {
	if h.store.closed.Load() {
		return nil, ErrClosed
	}
	return h.store.strings(ctx, "SELECT key FROM entries WHERE generation = ? ORDER BY key", h.name)
}
