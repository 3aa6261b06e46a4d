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

// Package compression submits ingested batches to the downstream
// compression engine's job table and drives each job to a terminal state,
// reconciling per-object status.
package compression

import (
	"context"

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/lpdb"
)

// State submits batches for compression and reconciles their outcomes.
type State interface {
	// Submit hands a batch of persisted objects to the compression
	// engine and returns the new compression job id. It panics when
	// called with zero objects; that is a caller defect, not a runtime
	// condition.
	Submit(ctx context.Context, objects []lpdb.ObjectMeta) (int64, error)

	// WaitAndReconcile polls the compression job until it terminates,
	// then updates all count referenced object rows to the implied
	// terminal status.
	WaitAndReconcile(ctx context.Context, compressionJobID int64, count int) error
}

// Store is the persistence surface consumed by the database-backed state.
// *lpdb.Store implements it.
type Store interface {
	SubmitCompressionJob(ctx context.Context, params lpdb.SubmitCompressionJobParams) error
	GetCompressionJobStatus(ctx context.Context, id int64) (lpdb.CompressionJobStatus, string, error)
	ResolveCompressionJob(ctx context.Context, params lpdb.ResolveCompressionJobParams) error
}

// IDGenerator produces compression job identifiers.
type IDGenerator interface {
	NextID() int64
}

// StateFactory creates a per-job compression state bound to that job's IO
// template.
type StateFactory interface {
	New(ingestionJobID uuid.UUID, template lpdb.IOTemplate) State
}

// DiscardFactory builds states that drop batches; it pairs with the
// non-durable job state for dry runs.
type DiscardFactory struct{}

func (DiscardFactory) New(uuid.UUID, lpdb.IOTemplate) State {
	return discardState{}
}

type discardState struct{}

func (discardState) Submit(_ context.Context, objects []lpdb.ObjectMeta) (int64, error) {
	if len(objects) == 0 {
		panic("compression: submit called with zero objects")
	}
	return 0, nil
}

func (discardState) WaitAndReconcile(context.Context, int64, int) error {
	return nil
}
