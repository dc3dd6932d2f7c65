package credentials

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// writeOp is one queued table mutation, following a single-writer
// pattern for SQLite: all writes funnel
// through one goroutine so SQLite's single-writer constraint is never
// contended, while Lookup is served from an in-memory cache and never
// touches the database on the hot path.
type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

// SQLiteStore durably persists installed credentials so they survive a
// process restart, while keeping Lookup non-blocking by caching every
// row in memory. Selected when CREDENTIAL_DB_PATH is configured;
// otherwise MemoryStore is used directly.
type SQLiteStore struct {
	db    *sql.DB
	cache *MemoryStore

	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup

	log *slog.Logger
}

// OpenSQLiteStore opens (creating if absent) the credential table at
// path and loads any existing rows into the in-memory lookup cache.
func OpenSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS turn_credentials (
		username TEXT NOT NULL,
		realm    TEXT NOT NULL,
		auth_key BLOB NOT NULL,
		PRIMARY KEY (username, realm)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create credential table: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		cache:    NewMemoryStore(),
		writeCh:  make(chan writeOp, 16),
		shutdown: make(chan struct{}),
		log:      log.With("component", "credential-store"),
	}

	if err := s.loadCache(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *SQLiteStore) loadCache() error {
	rows, err := s.db.Query(`SELECT username, realm, auth_key FROM turn_credentials`)
	if err != nil {
		return fmt.Errorf("load credential cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username, realm string
		var key []byte
		if err := rows.Scan(&username, &realm, &key); err != nil {
			return fmt.Errorf("scan credential row: %w", err)
		}
		s.cache.mu.Lock()
		s.cache.entries[tableKey(username, realm)] = entry{username: username, realm: realm, key: key}
		s.cache.mu.Unlock()
	}
	return rows.Err()
}

func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			op.result <- op.run(s.db)
		case <-s.shutdown:
			return
		}
	}
}

// Install stores the credential in the in-memory cache immediately
// (so Lookup sees it right away), then queues the durable write and
// waits for its result. If the write cannot be queued within five
// seconds, the failure is logged and the credential stays cached only.
func (s *SQLiteStore) Install(username, realm, password string) {
	s.cache.Install(username, realm, password)
	key := DeriveAuthKey(username, realm, password)

	result := make(chan error, 1)
	op := writeOp{
		result: result,
		run: func(db *sql.DB) error {
			_, err := db.Exec(`INSERT INTO turn_credentials(username, realm, auth_key) VALUES (?, ?, ?)
				ON CONFLICT(username, realm) DO UPDATE SET auth_key=excluded.auth_key`, username, realm, key)
			return err
		},
	}

	select {
	case s.writeCh <- op:
		if err := <-result; err != nil {
			s.log.Error("persist credential failed", "error", err, "username", username)
		}
	case <-time.After(5 * time.Second):
		s.log.Error("persist credential timed out", "username", username)
	}
}

// Lookup is served entirely from the in-memory cache.
func (s *SQLiteStore) Lookup(username, realm, sourceAddress string) ([]byte, bool) {
	return s.cache.Lookup(username, realm, sourceAddress)
}

// Close stops the write loop and closes the underlying database.
// Calling it again after it has returned is a no-op.
func (s *SQLiteStore) Close() error {
	select {
	case <-s.shutdown:
		return nil
	default:
	}
	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
