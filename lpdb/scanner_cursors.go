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

func (q *Store) upsertScannerCursorDirect(ctx context.Context, jobID uuid.UUID, lastIngestedKey string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO scanner_cursors (ingestion_job_id, last_ingested_key)
		VALUES ($1, $2)
		ON CONFLICT (ingestion_job_id)
		DO UPDATE SET last_ingested_key = EXCLUDED.last_ingested_key, updated_at = now()`,
		jobID, lastIngestedKey)
	if err != nil {
		return fmt.Errorf("upsert scanner cursor for job %s: %w", jobID, err)
	}
	return nil
}

// GetScannerCursor returns the last ingested key for a scanner job, or ""
// when the job has not persisted a cursor yet.
func (q *Store) GetScannerCursor(ctx context.Context, jobID uuid.UUID) (string, error) {
	var key string
	err := q.db.QueryRow(ctx,
		`SELECT last_ingested_key FROM scanner_cursors WHERE ingestion_job_id = $1`, jobID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get scanner cursor for job %s: %w", jobID, err)
	}
	return key, nil
}
