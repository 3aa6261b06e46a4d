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
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

// fakeDBTX serves scripted command tags to Exec calls and records them.
type fakeDBTX struct {
	calls []execCall
	tags  []pgconn.CommandTag
}

func (f *fakeDBTX) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if len(f.tags) == 0 {
		return pgconn.CommandTag{}, nil
	}
	tag := f.tags[0]
	f.tags = f.tags[1:]
	return tag, nil
}

func (f *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("unexpected Query")
}

func (f *fakeDBTX) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("unexpected QueryRow")
}

func TestResolveCompressionJobFailedSkipsCounter(t *testing.T) {
	db := &fakeDBTX{tags: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 2")}}
	store := &Store{db: db}

	err := store.resolveCompressionJobDirect(context.Background(), ResolveCompressionJobParams{
		CompressionJobID: 7,
		IngestionJobID:   uuid.New(),
		Status:           CompressionStatusFailed,
		ExpectedCount:    2,
	})
	require.NoError(t, err)

	// One statement only: the object fan-out to failed, no counter bump.
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "UPDATE ingested_objects")
	assert.Equal(t, ObjectStatusFailed, db.calls[0].args[1])
}

func TestResolveCompressionJobSucceededIncrementsCounter(t *testing.T) {
	db := &fakeDBTX{tags: []pgconn.CommandTag{
		pgconn.NewCommandTag("UPDATE 3"),
		pgconn.NewCommandTag("UPDATE 1"),
	}}
	store := &Store{db: db}
	ingestionID := uuid.New()

	err := store.resolveCompressionJobDirect(context.Background(), ResolveCompressionJobParams{
		CompressionJobID: 7,
		IngestionJobID:   ingestionID,
		Status:           CompressionStatusSucceeded,
		ExpectedCount:    3,
	})
	require.NoError(t, err)

	require.Len(t, db.calls, 2)
	assert.Equal(t, ObjectStatusCompressed, db.calls[0].args[1])
	assert.Contains(t, db.calls[1].sql, "num_files_compressed")
	assert.Equal(t, []any{ingestionID, int64(3)}, db.calls[1].args)
}

func TestResolveCompressionJobRowCountMismatch(t *testing.T) {
	db := &fakeDBTX{tags: []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 1")}}
	store := &Store{db: db}

	err := store.resolveCompressionJobDirect(context.Background(), ResolveCompressionJobParams{
		CompressionJobID: 7,
		IngestionJobID:   uuid.New(),
		Status:           CompressionStatusSucceeded,
		ExpectedCount:    2,
	})
	require.ErrorIs(t, err, ErrRowCountMismatch)
	// The mismatch aborts before any counter update.
	assert.Len(t, db.calls, 1)
}

func TestResolveCompressionJobRejectsNonTerminal(t *testing.T) {
	store := &Store{}

	err := store.ResolveCompressionJob(context.Background(), ResolveCompressionJobParams{
		CompressionJobID: 7,
		Status:           CompressionStatusRunning,
		ExpectedCount:    1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not terminal")
}
