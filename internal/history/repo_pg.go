package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Append inserts a finished run.
func (r *PGRepo) Append(ctx context.Context, entry Entry) error {
	const query = `
INSERT INTO diagnosis_history (
	id, device_id, task_id, model_id, status, classification, health_score,
	error_code, error_message, started_at, finished_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var health sql.NullFloat64
	if entry.HealthScore != nil {
		health = sql.NullFloat64{Float64: *entry.HealthScore, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, query,
		entry.ID,
		entry.DeviceID,
		entry.TaskID,
		entry.ModelID,
		entry.Status,
		entry.Classification,
		health,
		entry.ErrorCode,
		entry.ErrorMessage,
		entry.StartedAt.UTC(),
		entry.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

const selectColumns = `
SELECT id, device_id, task_id, model_id, status, classification, health_score,
       error_code, error_message, started_at, finished_at
FROM diagnosis_history`

// ListByDevice returns entries newest first.
func (r *PGRepo) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	rows, err := r.DB.QueryContext(ctx, selectColumns+`
WHERE device_id = $1
ORDER BY finished_at DESC
LIMIT $2`, deviceID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the most recent entry for the device.
func (r *PGRepo) Latest(ctx context.Context, deviceID string) (Entry, error) {
	row := r.DB.QueryRowContext(ctx, selectColumns+`
WHERE device_id = $1
ORDER BY finished_at DESC
LIMIT 1`, deviceID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var health sql.NullFloat64
	if err := s.Scan(
		&e.ID,
		&e.DeviceID,
		&e.TaskID,
		&e.ModelID,
		&e.Status,
		&e.Classification,
		&health,
		&e.ErrorCode,
		&e.ErrorMessage,
		&e.StartedAt,
		&e.FinishedAt,
	); err != nil {
		return Entry{}, err
	}
	if health.Valid {
		v := health.Float64
		e.HealthScore = &v
	}
	return e, nil
}

var _ Repo = (*PGRepo)(nil)
