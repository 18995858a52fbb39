package replay

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteSink indexes frames in a SQLite database. Writes happen on a
// dedicated goroutine; WriteFrames only queues.
type SQLiteSink struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan []Frame
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	written atomic.Int64
}

func OpenSQLite(path string, log *zap.Logger) (*SQLiteSink, error) {
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

	s := &SQLiteSink{
		db:  db,
		log: log,
		ch:  make(chan []Frame, 1024),
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
		`CREATE TABLE IF NOT EXISTS frames (
			frame INTEGER PRIMARY KEY,
			sim_time REAL NOT NULL,
			instances INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS samples (
			frame INTEGER NOT NULL,
			slot INTEGER NOT NULL,
			asset TEXT NOT NULL,
			origin INTEGER NOT NULL,
			stream INTEGER NOT NULL,
			state INTEGER NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			PRIMARY KEY (frame, slot)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_stream ON samples(origin, stream, frame);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteFrames queues a batch, waiting for room until ctx is done.
func (s *SQLiteSink) WriteFrames(ctx context.Context, frames []Frame) error {
	if s.closed.Load() {
		return fmt.Errorf("replay index closed")
	}
	batch := make([]Frame, len(frames))
	copy(batch, frames)
	select {
	case s.ch <- batch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("replay index behind: %w", ctx.Err())
	}
}

// Written returns the number of frames committed so far.
func (s *SQLiteSink) Written() int64 { return s.written.Load() }

// Close drains the queue and closes the database.
func (s *SQLiteSink) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteSink) loop() {
	for batch := range s.ch {
		if err := s.commit(batch); err != nil {
			s.log.Warn("replay index write failed", zap.Int("frames", len(batch)), zap.Error(err))
			continue
		}
		s.written.Add(int64(len(batch)))
	}
}

func (s *SQLiteSink) commit(batch []Frame) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	insertFrame, err := tx.Prepare(`INSERT OR REPLACE INTO frames(frame,sim_time,instances) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer insertFrame.Close()
	insertSample, err := tx.Prepare(`INSERT OR REPLACE INTO samples(frame,slot,asset,origin,stream,state,x,y,z) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insertSample.Close()

	for _, f := range batch {
		if _, err := insertFrame.Exec(f.Frame, f.Time, len(f.Samples)); err != nil {
			return err
		}
		for _, sm := range f.Samples {
			if _, err := insertSample.Exec(f.Frame, sm.Slot, sm.Asset, sm.Origin, sm.Stream, sm.State, sm.X, sm.Y, sm.Z); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// FrameCount returns the number of indexed frames. Used by tools and tests.
func (s *SQLiteSink) FrameCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n)
	return n, err
}
