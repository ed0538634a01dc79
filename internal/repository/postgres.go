package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentbridge-systems/crmsync/internal/model"
	"github.com/talentbridge-systems/crmsync/internal/schema"
)

// PostgresRepository implements Store on top of pgx.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	registry *schema.Registry
}

// NewPostgresRepository connects a pool and verifies it with a ping. The
// registry serves as the allowlist for per-entity record table names.
func NewPostgresRepository(ctx context.Context, connString string, registry *schema.Registry) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &PostgresRepository{pool: pool, registry: registry}, nil
}

func (r *PostgresRepository) Close() { r.pool.Close() }

// recordTable maps an entity type to its record table. Entity types come
// from the registry allowlist, never from raw input, before reaching SQL.
func (r *PostgresRepository) recordTable(entityType string) (string, error) {
	if !r.registry.Knows(entityType) {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	return pgx.Identifier{"crm_records_" + entityType}.Sanitize(), nil
}

func (r *PostgresRepository) InsertLogEntry(ctx context.Context, entry *model.LogEntry) error {
	q := `INSERT INTO webhook_log (
	        log_id, entity_type, operation, entity_id, raw_payload,
	        payload_checksum, source_system_timestamp, received_at, processing_status
	    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := r.pool.Exec(ctx, q,
		entry.LogID, entry.EntityType, string(entry.Operation), entry.EntityID,
		entry.RawPayload, entry.PayloadChecksum, entry.SourceSystemTimestamp,
		entry.ReceivedAt, string(entry.Status),
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetLogEntry(ctx context.Context, logID string) (*model.LogEntry, error) {
	q := `SELECT log_id, entity_type, operation, entity_id, raw_payload,
	             payload_checksum, source_system_timestamp, received_at,
	             processing_status, error_message, processed_at
	      FROM webhook_log WHERE log_id = $1`

	var e model.LogEntry
	var operation, status string
	var errMsg *string
	var processedAt *time.Time
	err := r.pool.QueryRow(ctx, q, logID).Scan(
		&e.LogID, &e.EntityType, &operation, &e.EntityID, &e.RawPayload,
		&e.PayloadChecksum, &e.SourceSystemTimestamp, &e.ReceivedAt,
		&status, &errMsg, &processedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get log entry: %w", err)
	}
	e.Operation = model.Operation(operation)
	e.Status = model.LogStatus(status)
	if errMsg != nil {
		e.ErrorMessage = *errMsg
	}
	e.ProcessedAt = processedAt
	return &e, nil
}

func (r *PostgresRepository) SetLogStatus(ctx context.Context, logID string, status model.LogStatus, errMsg string) error {
	q := `UPDATE webhook_log
	      SET processing_status = $2,
	          error_message = NULLIF($3, ''),
	          processed_at = CASE WHEN $2 IN ('success','failed','conflict') THEN now() ELSE processed_at END
	      WHERE log_id = $1`

	tag, err := r.pool.Exec(ctx, q, logID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("set log status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT log_id, entity_type, operation, entity_id, raw_payload,
	             payload_checksum, source_system_timestamp, received_at, processing_status
	      FROM webhook_log
	      WHERE processing_status = 'pending' AND received_at < $1
	      ORDER BY received_at
	      LIMIT $2`

	rows, err := r.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var operation, status string
		if err := rows.Scan(
			&e.LogID, &e.EntityType, &operation, &e.EntityID, &e.RawPayload,
			&e.PayloadChecksum, &e.SourceSystemTimestamp, &e.ReceivedAt, &status,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		e.Operation = model.Operation(operation)
		e.Status = model.LogStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Apply runs the conflict protocol: row lock, stale check, guarded upsert.
// The upsert's WHERE clause re-checks modified_at even under the lock to
// guard against clock skew between lock acquisition and write.
func (r *PostgresRepository) Apply(ctx context.Context, entityType string, in ApplyInput) (*ApplyResult, error) {
	table, err := r.recordTable(entityType)
	if err != nil {
		return nil, err
	}

	payloadJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := lockRecord(ctx, tx, table, in.EntityID)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.ModifiedAt.After(in.Timestamp) {
		conflict, err := r.insertConflict(ctx, tx, entityType, in, existing)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit conflict: %w", err)
		}
		return &ApplyResult{Applied: false, Conflict: conflict}, nil
	}

	q := fmt.Sprintf(`INSERT INTO %s AS rec (
	        entity_id, owner_email, owner_name, created_at, modified_at,
	        last_synced_at, payload, sync_version
	    ) VALUES ($1,$2,$3,now(),$4,now(),$5,1)
	    ON CONFLICT (entity_id) DO UPDATE SET
	        owner_email    = EXCLUDED.owner_email,
	        owner_name     = EXCLUDED.owner_name,
	        modified_at    = EXCLUDED.modified_at,
	        last_synced_at = now(),
	        payload        = rec.payload || EXCLUDED.payload,
	        sync_version   = rec.sync_version + 1
	    WHERE rec.modified_at <= EXCLUDED.modified_at
	    RETURNING entity_id, owner_email, owner_name, created_at, modified_at,
	              last_synced_at, payload, sync_version`, table)

	rec, err := scanRecord(tx.QueryRow(ctx, q,
		in.EntityID, in.OwnerEmail, in.OwnerName, in.Timestamp, payloadJSON,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The re-check rejected the write: a newer state landed between
			// the lock read and the upsert. Record it as a conflict.
			conflict, cErr := r.insertConflict(ctx, tx, entityType, in, existing)
			if cErr != nil {
				return nil, cErr
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit conflict: %w", err)
			}
			return &ApplyResult{Applied: false, Conflict: conflict}, nil
		}
		return nil, fmt.Errorf("upsert record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return &ApplyResult{Applied: true, Record: rec}, nil
}

func lockRecord(ctx context.Context, tx pgx.Tx, table, entityID string) (*model.Record, error) {
	q := fmt.Sprintf(`SELECT entity_id, owner_email, owner_name, created_at, modified_at,
	                         last_synced_at, payload, sync_version
	                  FROM %s WHERE entity_id = $1 FOR UPDATE`, table)

	rec, err := scanRecord(tx.QueryRow(ctx, q, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock record: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*model.Record, error) {
	var rec model.Record
	var payload []byte
	if err := row.Scan(
		&rec.EntityID, &rec.OwnerEmail, &rec.OwnerName, &rec.CreatedAt,
		&rec.ModifiedAt, &rec.LastSyncedAt, &payload, &rec.SyncVersion,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &rec, nil
}

func (r *PostgresRepository) insertConflict(ctx context.Context, tx pgx.Tx, entityType string, in ApplyInput, existing *model.Record) (*model.Conflict, error) {
	conflict := &model.Conflict{
		ConflictID:         uuid.New().String(),
		EntityType:         entityType,
		EntityID:           in.EntityID,
		ConflictType:       model.ConflictStaleUpdate,
		IncomingTimestamp:  in.Timestamp,
		IncomingPayload:    in.Payload,
		ResolutionStrategy: model.ResolutionLastWriteWins,
		DetectedAt:         time.Now().UTC(),
	}
	var snapshotJSON []byte
	if existing != nil {
		conflict.ExistingTimestamp = existing.ModifiedAt
		conflict.PreviousSnapshot = existing.Payload
		var err error
		snapshotJSON, err = json.Marshal(existing.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot: %w", err)
		}
	}
	incomingJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal incoming payload: %w", err)
	}

	q := `INSERT INTO crm_conflicts (
	        conflict_id, entity_type, entity_id, conflict_type,
	        incoming_timestamp, existing_timestamp, previous_snapshot,
	        incoming_payload, resolution_strategy, detected_at
	    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err = tx.Exec(ctx, q,
		conflict.ConflictID, conflict.EntityType, conflict.EntityID,
		string(conflict.ConflictType), conflict.IncomingTimestamp,
		conflict.ExistingTimestamp, snapshotJSON, incomingJSON,
		conflict.ResolutionStrategy, conflict.DetectedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conflict: %w", err)
	}
	return conflict, nil
}

func (r *PostgresRepository) GetRecord(ctx context.Context, entityType, entityID string) (*model.Record, error) {
	table, err := r.recordTable(entityType)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT entity_id, owner_email, owner_name, created_at, modified_at,
	                         last_synced_at, payload, sync_version
	                  FROM %s WHERE entity_id = $1`, table)

	rec, err := scanRecord(r.pool.QueryRow(ctx, q, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListConflicts(ctx context.Context, entityType string, limit int) ([]model.Conflict, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT conflict_id, entity_type, entity_id, conflict_type,
	             incoming_timestamp, existing_timestamp, previous_snapshot,
	             incoming_payload, resolution_strategy, detected_at
	      FROM crm_conflicts
	      WHERE entity_type = $1
	      ORDER BY detected_at DESC
	      LIMIT $2`

	rows, err := r.pool.Query(ctx, q, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		var c model.Conflict
		var conflictType string
		var snapshot, incoming []byte
		if err := rows.Scan(
			&c.ConflictID, &c.EntityType, &c.EntityID, &conflictType,
			&c.IncomingTimestamp, &c.ExistingTimestamp, &snapshot,
			&incoming, &c.ResolutionStrategy, &c.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		c.ConflictType = model.ConflictType(conflictType)
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &c.PreviousSnapshot); err != nil {
				return nil, fmt.Errorf("decode snapshot: %w", err)
			}
		}
		if len(incoming) > 0 {
			if err := json.Unmarshal(incoming, &c.IncomingPayload); err != nil {
				return nil, fmt.Errorf("decode incoming payload: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
