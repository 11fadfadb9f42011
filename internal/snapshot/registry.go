package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/postgres"
)

// Entry describes one snapshot write.
type Entry struct {
	ShardID    int       `json:"shard_id"`
	Name       string    `json:"name"`
	Store      string    `json:"store"`
	Backend    string    `json:"backend"`
	Codec      Codec     `json:"codec"`
	ChunkCount int       `json:"chunk_count"`
	DocCount   int       `json:"document_count"`
	Bytes      int       `json:"bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Registry records snapshot writes in PostgreSQL.
//
// It requires a `key_index_snapshots` table:
//
//	CREATE TABLE key_index_snapshots (
//	    id             BIGSERIAL PRIMARY KEY,
//	    shard_id       INT NOT NULL,
//	    name           TEXT NOT NULL,
//	    store          TEXT NOT NULL,
//	    backend        TEXT NOT NULL,
//	    codec          TEXT NOT NULL,
//	    chunk_count    BIGINT NOT NULL,
//	    document_count BIGINT NOT NULL,
//	    bytes          BIGINT NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Registry struct {
	db     *postgres.Client
	keep   int
	logger *slog.Logger
}

// NewRegistry records into db, keeping the newest keep rows per shard. A
// keep of 0 never prunes.
func NewRegistry(db *postgres.Client, keep int) *Registry {
	return &Registry{
		db:     db,
		keep:   keep,
		logger: slog.Default().With("component", "snapshot-registry"),
	}
}

// Record inserts e and prunes the shard's older rows in the same
// transaction.
func (r *Registry) Record(ctx context.Context, e Entry) error {
	var pruned int64
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO key_index_snapshots
			   (shard_id, name, store, backend, codec, chunk_count, document_count, bytes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ShardID, e.Name, e.Store, e.Backend, string(e.Codec), e.ChunkCount, e.DocCount, e.Bytes, e.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
		if r.keep <= 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM key_index_snapshots
			  WHERE shard_id = $1
			    AND id NOT IN (
			        SELECT id FROM key_index_snapshots
			         WHERE shard_id = $1
			         ORDER BY created_at DESC, id DESC
			         LIMIT $2)`,
			e.ShardID, r.keep,
		)
		if err != nil {
			return err
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording snapshot for shard %d: %w", e.ShardID, err)
	}
	r.logger.Debug("snapshot recorded", "shard_id", e.ShardID, "bytes", e.Bytes, "pruned", pruned)
	return nil
}

// Latest returns the most recent entry for shardID, or ErrSnapshotNotFound.
func (r *Registry) Latest(ctx context.Context, shardID int) (Entry, error) {
	var (
		e     Entry
		codec string
	)
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT shard_id, name, store, backend, codec, chunk_count, document_count, bytes, created_at
		   FROM key_index_snapshots
		  WHERE shard_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT 1`,
		shardID,
	).Scan(&e.ShardID, &e.Name, &e.Store, &e.Backend, &codec, &e.ChunkCount, &e.DocCount, &e.Bytes, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: no registry entry for shard %d", apperrors.ErrSnapshotNotFound, shardID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("querying latest snapshot for shard %d: %w", shardID, err)
	}
	e.Codec = Codec(codec)
	return e, nil
}
