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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrCompressionJobNotFound is returned when a compression job row
	// does not exist.
	ErrCompressionJobNotFound = errors.New("compression job not found")
	// ErrRowCountMismatch flags a status fan-out that touched an
	// unexpected number of object rows.
	ErrRowCountMismatch = errors.New("unexpected affected row count")
)

// SubmitCompressionJobParams records the handoff of one ingested batch to
// the downstream compression engine.
type SubmitCompressionJobParams struct {
	CompressionJobID int64
	Template         IOTemplate
	ObjectIDs        []int64
}

// SubmitCompressionJob inserts the compression job row and marks every
// referenced object row as submitted, in one transaction.
func (q *Store) SubmitCompressionJob(ctx context.Context, params SubmitCompressionJobParams) error {
	cfg, err := json.Marshal(params.Template)
	if err != nil {
		return fmt.Errorf("marshal compression io config: %w", err)
	}
	return q.execTx(ctx, func(s *Store) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO compression_jobs (id, clp_config, status)
			VALUES ($1, $2, $3)`,
			params.CompressionJobID, cfg, CompressionStatusPending)
		if err != nil {
			return fmt.Errorf("insert compression job %d: %w", params.CompressionJobID, err)
		}
		return s.markObjectsSubmittedDirect(ctx, params.ObjectIDs, params.CompressionJobID)
	})
}

// GetCompressionJobStatus returns the current status and message of a
// compression job row.
func (q *Store) GetCompressionJobStatus(ctx context.Context, id int64) (CompressionJobStatus, string, error) {
	var status CompressionJobStatus
	var msg *string
	err := q.db.QueryRow(ctx,
		`SELECT status, status_msg FROM compression_jobs WHERE id = $1`, id).Scan(&status, &msg)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("%w: %d", ErrCompressionJobNotFound, id)
	}
	if err != nil {
		return "", "", fmt.Errorf("get compression job %d: %w", id, err)
	}
	if msg == nil {
		return status, "", nil
	}
	return status, *msg, nil
}

// ResolveCompressionJobParams describes the reconciliation of a terminal
// compression job back onto its object rows.
type ResolveCompressionJobParams struct {
	CompressionJobID int64
	IngestionJobID   uuid.UUID
	Status           CompressionJobStatus
	ExpectedCount    int
}

// ResolveCompressionJob fans a terminal compression status out to every
// referenced object row and, on success only, bumps the owning ingestion
// job's completed-file counter. One transaction; a row-count mismatch
// aborts it.
func (q *Store) ResolveCompressionJob(ctx context.Context, params ResolveCompressionJobParams) error {
	if !params.Status.IsTerminal() {
		return fmt.Errorf("compression job %d status %s is not terminal", params.CompressionJobID, params.Status)
	}
	return q.execTx(ctx, func(s *Store) error {
		return s.resolveCompressionJobDirect(ctx, params)
	})
}

func (q *Store) resolveCompressionJobDirect(ctx context.Context, params ResolveCompressionJobParams) error {
	objStatus := ObjectStatusForCompression(params.Status)
	affected, err := q.markObjectsTerminalDirect(ctx, params.CompressionJobID, objStatus)
	if err != nil {
		return err
	}
	if affected != int64(params.ExpectedCount) {
		return fmt.Errorf("%w: compression job %d updated %d object rows, expected %d",
			ErrRowCountMismatch, params.CompressionJobID, affected, params.ExpectedCount)
	}
	if params.Status == CompressionStatusSucceeded {
		return q.incrementFilesCompressedDirect(ctx, params.IngestionJobID, int64(params.ExpectedCount))
	}
	return nil
}
