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
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivehq/logpacker/internal/buffer"
	"github.com/archivehq/logpacker/lpdb"
)

// stickyIngestState persists objects under stable ids keyed by bucket/key,
// the way the database constraint does: a re-ingested object that was
// never handed off comes back again with its original id.
type stickyIngestState struct {
	mu     sync.Mutex
	ids    map[string]int64
	nextID int64
}

func newStickyIngestState() *stickyIngestState {
	return &stickyIngestState{ids: make(map[string]int64)}
}

func (s *stickyIngestState) Start(context.Context) error  { return nil }
func (s *stickyIngestState) End(context.Context) error    { return nil }
func (s *stickyIngestState) Fail(context.Context, string) {}

func (s *stickyIngestState) Ingest(_ context.Context, objects []lpdb.ObjectMeta) ([]lpdb.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lpdb.ObjectMeta, 0, len(objects))
	for _, obj := range objects {
		key := obj.Bucket + "\x00" + obj.ObjectKey
		id, ok := s.ids[key]
		if !ok {
			s.nextID++
			id = s.nextID
			s.ids[key] = id
		}
		assigned := id
		obj.ID = &assigned
		out = append(out, obj)
	}
	return out, nil
}

// failOnceComp rejects the first submission, then records batches.
type failOnceComp struct {
	mu         sync.Mutex
	failed     bool
	submitted  [][]lpdb.ObjectMeta
	reconciled []int
}

func (c *failOnceComp) Submit(_ context.Context, objects []lpdb.ObjectMeta) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.failed {
		c.failed = true
		return 0, assert.AnError
	}
	c.submitted = append(c.submitted, append([]lpdb.ObjectMeta(nil), objects...))
	return int64(len(c.submitted)), nil
}

func (c *failOnceComp) WaitAndReconcile(_ context.Context, _ int64, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciled = append(c.reconciled, count)
	return nil
}

func TestPipelineRetryResubmitsPersistedBatch(t *testing.T) {
	ctx := context.Background()
	state := newStickyIngestState()
	comp := &failOnceComp{}
	var polls sync.WaitGroup
	pipe := newPipeline(uuid.New(), state, comp, ctx, &polls)

	buf := buffer.New(1, pipe.submit)

	// First flush persists the batch but the compression handoff fails,
	// so the buffer keeps the batch.
	err := buf.Add(ctx, lpdb.ObjectMeta{Bucket: "b", ObjectKey: "app/a.log", FileSize: 10})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, buf.Len())

	// The retried flush re-ingests the already-persisted object and must
	// still hand it to compression, not drop it as a duplicate.
	require.NoError(t, buf.Flush(ctx))
	polls.Wait()

	require.Len(t, comp.submitted, 1)
	require.Len(t, comp.submitted[0], 1)
	assert.Equal(t, "app/a.log", comp.submitted[0][0].ObjectKey)
	require.NotNil(t, comp.submitted[0][0].ID)
	assert.Equal(t, int64(1), *comp.submitted[0][0].ID)
	assert.Equal(t, []int{1}, comp.reconciled)
	assert.Equal(t, 0, buf.Len())
}
