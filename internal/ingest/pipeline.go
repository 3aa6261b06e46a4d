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

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/internal/compression"
	"github.com/archivehq/logpacker/internal/jobstate"
	"github.com/archivehq/logpacker/lpdb"
)

// pipeline is a job's buffer submitter: it durably ingests each flushed
// batch, hands the persisted objects to the compression engine, and tracks
// the compression job to completion in the background.
type pipeline struct {
	jobID uuid.UUID
	state jobstate.State
	comp  compression.State

	// pollCtx outlives the job so in-flight compression jobs resolve
	// after the job itself is shut down.
	pollCtx context.Context
	polls   *sync.WaitGroup
}

func newPipeline(jobID uuid.UUID, state jobstate.State, comp compression.State, pollCtx context.Context, polls *sync.WaitGroup) *pipeline {
	return &pipeline{
		jobID:   jobID,
		state:   state,
		comp:    comp,
		pollCtx: pollCtx,
		polls:   polls,
	}
}

// submit is the SubmitFunc wired into the job's buffer. An error leaves
// the batch in the buffer for retry.
func (p *pipeline) submit(ctx context.Context, batch []lpdb.ObjectMeta) error {
	persisted, err := p.state.Ingest(ctx, batch)
	if err != nil {
		return fmt.Errorf("ingest batch for job %s: %w", p.jobID, err)
	}
	if len(persisted) == 0 {
		// Every object in the batch was already handed off.
		return nil
	}

	compJobID, err := p.comp.Submit(ctx, persisted)
	if err != nil {
		return fmt.Errorf("submit batch for job %s: %w", p.jobID, err)
	}

	count := len(persisted)
	p.polls.Add(1)
	go func() {
		defer p.polls.Done()
		if err := p.comp.WaitAndReconcile(p.pollCtx, compJobID, count); err != nil {
			slog.Error("Compression job reconciliation failed",
				slog.Int64("compression_job_id", compJobID),
				slog.String("ingestion_job_id", p.jobID.String()),
				slog.Any("error", err))
		}
	}()
	return nil
}
