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
	"fmt"

	"github.com/google/uuid"
)

// maxObjectChunk bounds the number of object rows touched per statement so
// a single batch never produces an oversized statement.
const maxObjectChunk = 1000

// IngestObjectsParams describes one durable ingestion of a connector batch.
// CursorKey, when non-nil, advances the owning scanner's persisted cursor
// in the same transaction.
type IngestObjectsParams struct {
	JobID     uuid.UUID
	Objects   []ObjectMeta
	CursorKey *string
}

// IngestObjects batch-inserts a connector batch, optionally updates the
// scanner cursor, and verifies the job is still running, all in one
// transaction. Objects already recorded for this job come back with their
// existing ids as long as they are still awaiting compression handoff, so
// a flush whose downstream submit failed can resubmit them on retry.
// Objects already submitted or in a terminal state are dropped. The
// returned slice preserves input order.
func (q *Store) IngestObjects(ctx context.Context, params IngestObjectsParams) ([]ObjectMeta, error) {
	var inserted []ObjectMeta
	err := q.execTx(ctx, func(s *Store) error {
		var err error
		inserted, err = s.ingestObjectsDirect(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func (q *Store) ingestObjectsDirect(ctx context.Context, params IngestObjectsParams) ([]ObjectMeta, error) {
	// Lock the job row first so a concurrent cancel/finish serializes
	// against this batch instead of racing it.
	var status IngestionJobStatus
	err := q.db.QueryRow(ctx, `SELECT status FROM ingestion_jobs WHERE id = $1 FOR UPDATE`, params.JobID).Scan(&status)
	if err != nil {
		return nil, fmt.Errorf("lock ingestion job %s: %w", params.JobID, err)
	}
	if status != JobStatusRunning {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotRunning, params.JobID, status)
	}

	ids := make(map[objectKey]int64, len(params.Objects))
	for start := 0; start < len(params.Objects); start += maxObjectChunk {
		end := min(start+maxObjectChunk, len(params.Objects))
		if err := q.insertObjectChunk(ctx, params.JobID, params.Objects[start:end], ids); err != nil {
			return nil, err
		}
	}

	if params.CursorKey != nil {
		if err := q.upsertScannerCursorDirect(ctx, params.JobID, *params.CursorKey); err != nil {
			return nil, err
		}
	}

	out := make([]ObjectMeta, 0, len(ids))
	for _, obj := range params.Objects {
		id, ok := ids[objectKey{obj.Bucket, obj.ObjectKey}]
		if !ok {
			continue // duplicate, already handed off for this job
		}
		assigned := id
		obj.ID = &assigned
		out = append(out, obj)
	}
	return out, nil
}

type objectKey struct {
	bucket string
	key    string
}

// insertObjectChunk inserts one chunk of object rows. Ids are returned
// explicitly per row rather than inferred from the first id of the chunk;
// with concurrent writers the sequence is not guaranteed contiguous. Rows
// hitting the (job, bucket, key) uniqueness constraint return their
// existing id while the row is still buffered, so a batch whose earlier
// ingest committed but whose compression handoff failed is surfaced again
// on retry. Duplicates past the buffered state return no id.
func (q *Store) insertObjectChunk(ctx context.Context, jobID uuid.UUID, objects []ObjectMeta, ids map[objectKey]int64) error {
	buckets := make([]string, len(objects))
	keys := make([]string, len(objects))
	sizes := make([]int64, len(objects))
	for i, obj := range objects {
		buckets[i] = obj.Bucket
		keys[i] = obj.ObjectKey
		sizes[i] = obj.FileSize
	}

	rows, err := q.db.Query(ctx, `
		INSERT INTO ingested_objects (ingestion_job_id, bucket, object_key, file_size, status)
		SELECT $1, u.bucket, u.object_key, u.file_size, $5
		FROM unnest($2::text[], $3::text[], $4::bigint[]) AS u(bucket, object_key, file_size)
		ON CONFLICT (ingestion_job_id, bucket, object_key) DO UPDATE
			SET updated_at = now()
			WHERE ingested_objects.status = $5
		RETURNING id, bucket, object_key`,
		jobID, buckets, keys, sizes, ObjectStatusBuffered)
	if err != nil {
		return fmt.Errorf("insert ingested objects for job %s: %w", jobID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var bucket, key string
		if err := rows.Scan(&id, &bucket, &key); err != nil {
			return fmt.Errorf("scan ingested object id: %w", err)
		}
		ids[objectKey{bucket, key}] = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("insert ingested objects for job %s: %w", jobID, err)
	}
	return nil
}

// markObjectsSubmittedDirect flags the given object rows as handed off to
// the compression job. The affected row count must match exactly; anything
// else is an integrity violation.
func (q *Store) markObjectsSubmittedDirect(ctx context.Context, objectIDs []int64, compressionJobID int64) error {
	for start := 0; start < len(objectIDs); start += maxObjectChunk {
		end := min(start+maxObjectChunk, len(objectIDs))
		chunk := objectIDs[start:end]
		tag, err := q.db.Exec(ctx, `
			UPDATE ingested_objects
			SET status = $2, compression_job_id = $3, updated_at = now()
			WHERE id = ANY($1::bigint[])`,
			chunk, ObjectStatusSubmitted, compressionJobID)
		if err != nil {
			return fmt.Errorf("mark objects submitted for compression job %d: %w", compressionJobID, err)
		}
		if got := tag.RowsAffected(); got != int64(len(chunk)) {
			return fmt.Errorf("mark objects submitted: expected %d rows, updated %d", len(chunk), got)
		}
	}
	return nil
}

// markObjectsTerminalDirect moves every object referenced by a compression
// job to its terminal status and returns the affected row count.
func (q *Store) markObjectsTerminalDirect(ctx context.Context, compressionJobID int64, status IngestedObjectStatus) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE ingested_objects
		SET status = $2, updated_at = now()
		WHERE compression_job_id = $1`,
		compressionJobID, status)
	if err != nil {
		return 0, fmt.Errorf("mark objects %s for compression job %d: %w", status, compressionJobID, err)
	}
	return tag.RowsAffected(), nil
}

// GetObjectStatuses returns the status of each given object row, keyed by id.
func (q *Store) GetObjectStatuses(ctx context.Context, objectIDs []int64) (map[int64]IngestedObjectStatus, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, status FROM ingested_objects WHERE id = ANY($1::bigint[])`,
		objectIDs)
	if err != nil {
		return nil, fmt.Errorf("get object statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]IngestedObjectStatus, len(objectIDs))
	for rows.Next() {
		var id int64
		var status IngestedObjectStatus
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan object status: %w", err)
		}
		out[id] = status
	}
	return out, rows.Err()
}
