package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Journal entry kinds.
const (
	JournalSpawn  = "spawn"
	JournalRemove = "remove"
)

// JournalEntry records one instance entering or leaving the registry.
type JournalEntry struct {
	Kind      string
	Slot      int
	Asset     string
	Origin    int32
	Stream    int32
	Networked bool
	Frame     uint64
}

type JournalRepo struct {
	db     *DB
	server string
}

func NewJournalRepo(db *DB, serverName string) *JournalRepo {
	return &JournalRepo{db: db, server: serverName}
}

// Append writes a batch of entries in a single transaction.
func (r *JournalRepo) Append(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(
				`INSERT INTO instance_journal (server_name, kind, slot, asset, origin, stream, networked, frame)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				r.server, e.Kind, e.Slot, e.Asset, e.Origin, e.Stream, e.Networked, int64(e.Frame),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("journal insert: %w", err)
		}
		return nil
	})
}
