package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	passlog "terrainstream.ai/internal/persistence/log"
)

// SQLiteIndex is a queryable read-model of sessions and passes. Writes are
// queued to a single writer goroutine and batched into transactions.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu guards sends on ch against close(ch).
	mu     sync.RWMutex
	closed atomic.Bool

	dropPass    atomic.Uint64
	dropSession atomic.Uint64
}

type reqKind int

const (
	reqSessionStart reqKind = iota + 1
	reqSessionEnd
	reqPass
	reqFlush
)

type req struct {
	kind reqKind

	session sessionRow
	pass    passlog.PassLogEntry
	done    chan struct{}
}

type sessionRow struct {
	ID             string
	ClientName     string
	RenderDistance int
	At             string
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropPassTotal    uint64
	DropSessionTotal uint64
}

// Summary aggregates the recorded passes, optionally for one session.
type Summary struct {
	Sessions       int
	Passes         int
	AvgElapsedUS   float64
	MaxLoaded      int
	TotalGenerated int
	TotalEvicted   int
	TotalCulled    int
}

const defaultQueue = 65536

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, defaultQueue)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			client_name TEXT NOT NULL,
			render_distance INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS passes (
			session_id TEXT NOT NULL,
			frame INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			render_distance INTEGER NOT NULL,
			candidates INTEGER NOT NULL,
			culled INTEGER NOT NULL,
			retained INTEGER NOT NULL,
			generated INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			loaded INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL,
			PRIMARY KEY (session_id, frame)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_passes_center ON passes(cx, cz);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropPassTotal:    s.dropPass.Load(),
		DropSessionTotal: s.dropSession.Load(),
	}
}

func (s *SQLiteIndex) RecordSessionStart(id, clientName string, renderDistance int) {
	s.enqueueSession(reqSessionStart, sessionRow{ID: id, ClientName: clientName, RenderDistance: renderDistance})
}

func (s *SQLiteIndex) RecordSessionEnd(id string) {
	s.enqueueSession(reqSessionEnd, sessionRow{ID: id})
}

func (s *SQLiteIndex) enqueueSession(kind reqKind, r sessionRow) {
	if s == nil {
		return
	}
	r.At = time.Now().UTC().Format(time.RFC3339Nano)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: kind, session: r}:
	default:
		s.dropSession.Add(1)
	}
}

func (s *SQLiteIndex) WritePass(entry passlog.PassLogEntry) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqPass, pass: entry}:
	default:
		// Drop if the indexer falls behind; pass logs remain the source of truth.
		s.dropPass.Add(1)
	}
	return nil
}

// Flush blocks until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	if err := s.sendFlush(ctx, done); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) sendFlush(ctx context.Context, done chan struct{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		// Close drains the queue before returning.
		close(done)
		return nil
	}
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Summary aggregates all passes, or only those of sessionID when non-empty.
func (s *SQLiteIndex) Summary(ctx context.Context, sessionID string) (Summary, error) {
	var out Summary
	where, args := "", []any{}
	if sessionID != "" {
		where, args = " WHERE session_id = ?", []any{sessionID}
	}
	row := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COUNT(DISTINCT session_id),
			COALESCE(AVG(elapsed_us), 0),
			COALESCE(MAX(loaded), 0),
			COALESCE(SUM(generated), 0),
			COALESCE(SUM(evicted), 0),
			COALESCE(SUM(culled), 0)
		FROM passes`+where, args...)
	if err := row.Scan(&out.Passes, &out.Sessions, &out.AvgElapsedUS, &out.MaxLoaded,
		&out.TotalGenerated, &out.TotalEvicted, &out.TotalCulled); err != nil {
		return out, err
	}
	if sessionID == "" {
		// Sessions without passes still count.
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&out.Sessions); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(id,client_name,render_distance,started_at,ended_at) VALUES(?,?,?,?,NULL)`)
	endSession, _ := s.db.Prepare(`UPDATE sessions SET ended_at=? WHERE id=?`)
	insertPass, _ := s.db.Prepare(`INSERT OR REPLACE INTO passes(session_id,frame,recorded_at,cx,cz,render_distance,candidates,culled,retained,generated,evicted,loaded,elapsed_us) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, endSession, insertPass} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 1000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	handle := func(r req) {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			return
		}
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqSessionStart:
			se := r.session
			exec(insertSession, se.ID, se.ClientName, se.RenderDistance, se.At)
		case reqSessionEnd:
			exec(endSession, r.session.At, r.session.ID)
		case reqPass:
			p := r.pass
			at := p.Time
			if at.IsZero() {
				at = time.Now()
			}
			exec(insertPass,
				p.SessionID,
				int64(p.Frame),
				at.UTC().Format(time.RFC3339Nano),
				p.Center[0], p.Center[1],
				p.RenderDistance,
				p.Candidates,
				p.Culled,
				p.Retained,
				p.Generated,
				p.Evicted,
				p.Loaded,
				p.ElapsedUS,
			)
		}
		if opCount >= commitEvery {
			commit()
		}
	}

	// An idle writer must not hold the only connection open in a tx.
	tick := time.NewTicker(commitMaxWait / 4)
	defer tick.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-tick.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
