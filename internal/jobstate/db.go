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

package jobstate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/lpdb"
)

// DBFactory builds database-backed job states.
type DBFactory struct {
	store Store
}

func NewDBFactory(store Store) *DBFactory {
	return &DBFactory{store: store}
}

func (f *DBFactory) Register(ctx context.Context, jobID uuid.UUID, sourceType string, config []byte) error {
	return f.store.InsertIngestionJob(ctx, lpdb.InsertIngestionJobParams{
		ID:         jobID,
		SourceType: sourceType,
		Config:     config,
	})
}

func (f *DBFactory) NewScannerState(jobID uuid.UUID) State {
	return &dbScannerState{dbLifecycle: dbLifecycle{store: f.store, jobID: jobID}}
}

func (f *DBFactory) NewQueueState(jobID uuid.UUID) State {
	return &dbQueueState{dbLifecycle: dbLifecycle{store: f.store, jobID: jobID}}
}

func (f *DBFactory) ScannerCursor(ctx context.Context, jobID uuid.UUID) (string, error) {
	return f.store.GetScannerCursor(ctx, jobID)
}

// dbLifecycle implements the shared start/end/fail behavior over the
// persisted status column.
type dbLifecycle struct {
	store Store
	jobID uuid.UUID
}

func (s *dbLifecycle) Start(ctx context.Context) error {
	if err := s.store.UpdateIngestionJobStatus(ctx, s.jobID, lpdb.JobStatusRunning, ""); err != nil {
		return fmt.Errorf("start ingestion job %s: %w", s.jobID, err)
	}
	return nil
}

func (s *dbLifecycle) End(ctx context.Context) error {
	if err := s.store.UpdateIngestionJobStatus(ctx, s.jobID, lpdb.JobStatusFinished, ""); err != nil {
		return fmt.Errorf("end ingestion job %s: %w", s.jobID, err)
	}
	return nil
}

// Fail logs and swallows persistence errors so the caller can surface the
// error that triggered the failure instead.
func (s *dbLifecycle) Fail(ctx context.Context, msg string) {
	if err := s.store.UpdateIngestionJobStatus(ctx, s.jobID, lpdb.JobStatusFailed, msg); err != nil {
		slog.Error("Failed to mark ingestion job as failed",
			slog.String("job_id", s.jobID.String()),
			slog.String("status_msg", msg),
			slog.Any("error", err))
	}
}

// dbScannerState persists batches and advances the scanner cursor to the
// last key of each batch in the same transaction. Batch order is preserved
// by the single scanner producer, so the last key is the newest.
type dbScannerState struct {
	dbLifecycle
}

func (s *dbScannerState) Ingest(ctx context.Context, objects []lpdb.ObjectMeta) ([]lpdb.ObjectMeta, error) {
	if len(objects) == 0 {
		return nil, nil
	}
	cursor := objects[len(objects)-1].ObjectKey
	return s.store.IngestObjects(ctx, lpdb.IngestObjectsParams{
		JobID:     s.jobID,
		Objects:   objects,
		CursorKey: &cursor,
	})
}

// dbQueueState persists batches for queue- and topic-driven jobs; these
// sources keep no cursor.
type dbQueueState struct {
	dbLifecycle
}

func (s *dbQueueState) Ingest(ctx context.Context, objects []lpdb.ObjectMeta) ([]lpdb.ObjectMeta, error) {
	if len(objects) == 0 {
		return nil, nil
	}
	return s.store.IngestObjects(ctx, lpdb.IngestObjectsParams{
		JobID:   s.jobID,
		Objects: objects,
	})
}
