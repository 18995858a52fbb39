package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/simfleet/server/internal/replay"
)

// ReplayRepo stores replay frames of one run. It implements replay.Sink.
type ReplayRepo struct {
	db    *DB
	runID int64
}

var _ replay.Sink = (*ReplayRepo)(nil)

// BeginReplayRun opens a new run row and returns a sink bound to it.
func BeginReplayRun(ctx context.Context, db *DB, serverName string) (*ReplayRepo, error) {
	var id int64
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO replay_runs (server_name) VALUES ($1) RETURNING id`, serverName,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("begin replay run: %w", err)
	}
	return &ReplayRepo{db: db, runID: id}, nil
}

func (r *ReplayRepo) RunID() int64 { return r.runID }

var replayColumns = []string{"run_id", "frame", "sim_time", "slot", "asset", "origin", "stream", "state", "x", "y", "z"}

// WriteFrames bulk-copies every sample of the batch.
func (r *ReplayRepo) WriteFrames(ctx context.Context, frames []replay.Frame) error {
	rows := make([][]any, 0, len(frames))
	for _, f := range frames {
		for _, s := range f.Samples {
			rows = append(rows, []any{
				r.runID, int64(f.Frame), f.Time, int32(s.Slot), s.Asset,
				s.Origin, s.Stream, int16(s.State), s.X, s.Y, s.Z,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := r.db.Pool.CopyFrom(ctx, pgx.Identifier{"replay_samples"}, replayColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy replay samples: %w", err)
	}
	return nil
}

// Close stamps the run's end time. The pool belongs to the caller.
func (r *ReplayRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx,
		`UPDATE replay_runs SET ended_at = now() WHERE id = $1`, r.runID,
	); err != nil {
		return fmt.Errorf("end replay run: %w", err)
	}
	return nil
}
