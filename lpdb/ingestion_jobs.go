// Copyright (C) 2025 ArchiveHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package lpdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrIngestionJobNotFound is returned when a job row does not exist.
	ErrIngestionJobNotFound = errors.New("ingestion job not found")
	// ErrInvalidStatusTransition is returned when a status update violates
	// the job transition table.
	ErrInvalidStatusTransition = errors.New("invalid ingestion job status transition")
	// ErrJobNotRunning is returned when objects are ingested into a job
	// that is no longer in the running state.
	ErrJobNotRunning = errors.New("ingestion job is not running")
)

// InsertIngestionJobParams describes a new ingestion job row. The job
// starts in the requested state.
type InsertIngestionJobParams struct {
	ID         uuid.UUID
	SourceType string
	Config     []byte
}

func (q *Store) InsertIngestionJob(ctx context.Context, params InsertIngestionJobParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO ingestion_jobs (id, source_type, config, status)
		VALUES ($1, $2, $3, $4)`,
		params.ID, params.SourceType, params.Config, JobStatusRequested)
	if err != nil {
		return fmt.Errorf("insert ingestion job %s: %w", params.ID, err)
	}
	return nil
}

func (q *Store) GetIngestionJobStatus(ctx context.Context, id uuid.UUID) (IngestionJobStatus, error) {
	var status IngestionJobStatus
	err := q.db.QueryRow(ctx, `SELECT status FROM ingestion_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrIngestionJobNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("get ingestion job status %s: %w", id, err)
	}
	return status, nil
}

// UpdateIngestionJobStatus moves a job to the given status, enforcing the
// transition table. Re-applying the current status is a no-op success.
func (q *Store) UpdateIngestionJobStatus(ctx context.Context, id uuid.UUID, next IngestionJobStatus, msg string) error {
	return q.execTx(ctx, func(s *Store) error {
		return s.updateIngestionJobStatusDirect(ctx, id, next, msg)
	})
}

// updateIngestionJobStatusDirect is the in-transaction body of
// UpdateIngestionJobStatus. The row is locked so concurrent transitions
// serialize.
func (q *Store) updateIngestionJobStatusDirect(ctx context.Context, id uuid.UUID, next IngestionJobStatus, msg string) error {
	var current IngestionJobStatus
	err := q.db.QueryRow(ctx, `SELECT status FROM ingestion_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrIngestionJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("lock ingestion job %s: %w", id, err)
	}

	if current == next {
		return nil
	}
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidStatusTransition, current, next, id)
	}

	_, err = q.db.Exec(ctx, `
		UPDATE ingestion_jobs
		SET status = $2, status_msg = $3, updated_at = now()
		WHERE id = $1`,
		id, next, msg)
	if err != nil {
		return fmt.Errorf("update ingestion job %s status: %w", id, err)
	}
	return nil
}

// incrementFilesCompressedDirect bumps the completed-file counter for a
// job. Callers run it inside a surrounding transaction.
func (q *Store) incrementFilesCompressedDirect(ctx context.Context, id uuid.UUID, delta int64) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE ingestion_jobs
		SET num_files_compressed = num_files_compressed + $2, updated_at = now()
		WHERE id = $1`,
		id, delta)
	if err != nil {
		return fmt.Errorf("increment files compressed for job %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", ErrIngestionJobNotFound, id)
	}
	return nil
}

// GetFilesCompressed returns the completed-file counter for a job.
func (q *Store) GetFilesCompressed(ctx context.Context, id uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT num_files_compressed FROM ingestion_jobs WHERE id = $1`, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrIngestionJobNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("get files compressed for job %s: %w", id, err)
	}
	return n, nil
}
