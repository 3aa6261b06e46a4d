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

// Package jobstate provides pluggable persistence strategies for ingestion
// jobs: a durable database-backed family and a non-durable pass-through.
// Lifecycle and ingestion are independent capability sets so another
// backend only has to implement the two small interfaces.
package jobstate

import (
	"context"

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/lpdb"
)

// Lifecycle drives the persisted status of one ingestion job. Start and
// End are idempotent with respect to already being in the target state.
// Fail is best-effort: it must never propagate its own errors, so callers
// can always surface the error that caused the failure instead.
type Lifecycle interface {
	Start(ctx context.Context) error
	End(ctx context.Context) error
	Fail(ctx context.Context, msg string)
}

// Ingester durably records one connector batch and returns the objects
// awaiting compression handoff, each with its persisted id. That includes
// redeliveries of objects whose earlier handoff never happened, so a
// retried flush can resubmit them; objects already handed off are absent
// from the result.
type Ingester interface {
	Ingest(ctx context.Context, objects []lpdb.ObjectMeta) ([]lpdb.ObjectMeta, error)
}

// State is what a running ingestion job holds: job lifecycle plus the
// source-specific ingestion hook.
type State interface {
	Lifecycle
	Ingester
}

// Store is the persistence surface consumed by the database-backed
// strategies. *lpdb.Store implements it.
type Store interface {
	InsertIngestionJob(ctx context.Context, params lpdb.InsertIngestionJobParams) error
	UpdateIngestionJobStatus(ctx context.Context, id uuid.UUID, next lpdb.IngestionJobStatus, msg string) error
	IngestObjects(ctx context.Context, params lpdb.IngestObjectsParams) ([]lpdb.ObjectMeta, error)
	GetScannerCursor(ctx context.Context, jobID uuid.UUID) (string, error)
}

// Factory creates per-job persistence strategies.
type Factory interface {
	// Register durably records a new job before its connector starts.
	Register(ctx context.Context, jobID uuid.UUID, sourceType string, config []byte) error
	// NewScannerState returns a state whose ingest also advances the
	// scanner's persisted cursor.
	NewScannerState(jobID uuid.UUID) State
	// NewQueueState returns a state for queue- and topic-driven jobs.
	NewQueueState(jobID uuid.UUID) State
	// ScannerCursor returns the persisted start-after key for a scanner
	// job, so a restarted job resumes where it stopped. Non-durable
	// implementations return "".
	ScannerCursor(ctx context.Context, jobID uuid.UUID) (string, error)
}
