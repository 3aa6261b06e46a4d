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

package compression

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/archivehq/logpacker/lpdb"
)

const (
	pollInitialInterval = 1 * time.Second
	pollMaxInterval     = 30 * time.Second
)

// DBStateFactory builds database-backed compression states.
type DBStateFactory struct {
	store Store
	ids   IDGenerator
}

func NewDBStateFactory(store Store, ids IDGenerator) *DBStateFactory {
	return &DBStateFactory{store: store, ids: ids}
}

func (f *DBStateFactory) New(ingestionJobID uuid.UUID, template lpdb.IOTemplate) State {
	return &dbState{
		store:          f.store,
		ids:            f.ids,
		ingestionJobID: ingestionJobID,
		template:       template,
	}
}

type dbState struct {
	store          Store
	ids            IDGenerator
	ingestionJobID uuid.UUID
	template       lpdb.IOTemplate
}

func (s *dbState) Submit(ctx context.Context, objects []lpdb.ObjectMeta) (int64, error) {
	if len(objects) == 0 {
		panic("compression: submit called with zero objects")
	}

	keys := make([]string, len(objects))
	objectIDs := make([]int64, len(objects))
	for i, obj := range objects {
		if obj.ID == nil {
			return 0, fmt.Errorf("object %s/%s has no persisted id", obj.Bucket, obj.ObjectKey)
		}
		keys[i] = obj.ObjectKey
		objectIDs[i] = *obj.ID
	}

	jobID := s.ids.NextID()
	err := s.store.SubmitCompressionJob(ctx, lpdb.SubmitCompressionJobParams{
		CompressionJobID: jobID,
		Template:         s.template.WithInputKeys(keys),
		ObjectIDs:        objectIDs,
	})
	if err != nil {
		return 0, fmt.Errorf("submit compression job for ingestion job %s: %w", s.ingestionJobID, err)
	}

	slog.Info("Submitted compression job",
		slog.Int64("compression_job_id", jobID),
		slog.String("ingestion_job_id", s.ingestionJobID.String()),
		slog.Int("num_objects", len(objects)))
	return jobID, nil
}

func (s *dbState) WaitAndReconcile(ctx context.Context, compressionJobID int64, count int) error {
	status, err := s.waitForTerminal(ctx, compressionJobID)
	if err != nil {
		return err
	}

	err = s.store.ResolveCompressionJob(ctx, lpdb.ResolveCompressionJobParams{
		CompressionJobID: compressionJobID,
		IngestionJobID:   s.ingestionJobID,
		Status:           status,
		ExpectedCount:    count,
	})
	if err != nil {
		return fmt.Errorf("resolve compression job %d: %w", compressionJobID, err)
	}

	slog.Info("Compression job resolved",
		slog.Int64("compression_job_id", compressionJobID),
		slog.String("status", string(status)),
		slog.Int("num_objects", count))
	return nil
}

// waitForTerminal polls the compression job row with exponential backoff,
// 1s doubling up to 30s, until it reaches a terminal state.
func (s *dbState) waitForTerminal(ctx context.Context, compressionJobID int64) (lpdb.CompressionJobStatus, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pollInitialInterval
	bo.MaxInterval = pollMaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // poll until terminal or cancelled
	bo.Reset()

	for {
		status, _, err := s.store.GetCompressionJobStatus(ctx, compressionJobID)
		if err != nil {
			return "", fmt.Errorf("poll compression job %d: %w", compressionJobID, err)
		}
		if status.IsTerminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}
