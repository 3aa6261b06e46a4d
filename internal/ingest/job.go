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

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/internal/sources"
)

// SourceKind identifies the connector variant driving an ingestion job.
type SourceKind string

const (
	SourceScanner SourceKind = "scanner"
	SourceQueue   SourceKind = "queue"
	SourceTopic   SourceKind = "topic"
)

// Job is a closed sum over the three connector types, exposing a uniform
// start/shutdown/identify surface. Exactly one connector field is set,
// selected by kind, so dispatch stays exhaustiveness-checked.
type Job struct {
	id   uuid.UUID
	kind SourceKind

	scanner *sources.Scanner
	queue   *sources.QueueListener
	topic   *sources.TopicListener
}

func newScannerJob(id uuid.UUID, s *sources.Scanner) *Job {
	return &Job{id: id, kind: SourceScanner, scanner: s}
}

func newQueueJob(id uuid.UUID, q *sources.QueueListener) *Job {
	return &Job{id: id, kind: SourceQueue, queue: q}
}

func newTopicJob(id uuid.UUID, t *sources.TopicListener) *Job {
	return &Job{id: id, kind: SourceTopic, topic: t}
}

func (j *Job) ID() uuid.UUID    { return j.id }
func (j *Job) Kind() SourceKind { return j.kind }

func (j *Job) start() {
	switch j.kind {
	case SourceScanner:
		j.scanner.Start()
	case SourceQueue:
		j.queue.Start()
	case SourceTopic:
		j.topic.Start()
	default:
		panic(fmt.Sprintf("unknown source kind %q", j.kind))
	}
}

// Shutdown cancels the connector and waits for it to finish, returning any
// terminal connector error.
func (j *Job) Shutdown(ctx context.Context) error {
	switch j.kind {
	case SourceScanner:
		return j.scanner.Shutdown(ctx)
	case SourceQueue:
		return j.queue.Shutdown(ctx)
	case SourceTopic:
		return j.topic.Shutdown(ctx)
	default:
		panic(fmt.Sprintf("unknown source kind %q", j.kind))
	}
}
