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

// IngestionJobStatus is the persisted lifecycle state of an ingestion job.
type IngestionJobStatus string

const (
	JobStatusRequested IngestionJobStatus = "requested"
	JobStatusRunning   IngestionJobStatus = "running"
	JobStatusPaused    IngestionJobStatus = "paused"
	JobStatusFailed    IngestionJobStatus = "failed"
	JobStatusFinished  IngestionJobStatus = "finished"
)

// jobTransitions holds the allowed next states per current state. Failed is
// reachable from anywhere; Requested is never a valid target.
var jobTransitions = map[IngestionJobStatus][]IngestionJobStatus{
	JobStatusRequested: {JobStatusRunning},
	JobStatusRunning:   {JobStatusPaused, JobStatusFinished},
	JobStatusPaused:    {JobStatusRunning, JobStatusFinished},
	JobStatusFailed:    {},
	JobStatusFinished:  {},
}

// CanTransitionTo reports whether next is a valid transition target from s.
// Re-requesting the current state is always allowed (idempotent update).
func (s IngestionJobStatus) CanTransitionTo(next IngestionJobStatus) bool {
	if s == next {
		return true
	}
	if next == JobStatusFailed {
		return true
	}
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job can make no further progress.
func (s IngestionJobStatus) IsTerminal() bool {
	return s == JobStatusFailed || s == JobStatusFinished
}

// IngestedObjectStatus is the persisted per-object state.
type IngestedObjectStatus string

const (
	ObjectStatusBuffered   IngestedObjectStatus = "buffered"
	ObjectStatusSubmitted  IngestedObjectStatus = "submitted"
	ObjectStatusCompressed IngestedObjectStatus = "compressed"
	ObjectStatusFailed     IngestedObjectStatus = "failed"
)

// CompressionJobStatus mirrors the status column of the downstream
// compression engine's job table.
type CompressionJobStatus string

const (
	CompressionStatusPending   CompressionJobStatus = "pending"
	CompressionStatusRunning   CompressionJobStatus = "running"
	CompressionStatusSucceeded CompressionJobStatus = "succeeded"
	CompressionStatusFailed    CompressionJobStatus = "failed"
	CompressionStatusKilled    CompressionJobStatus = "killed"
)

// IsTerminal reports whether the compression job has stopped.
func (s CompressionJobStatus) IsTerminal() bool {
	switch s {
	case CompressionStatusSucceeded, CompressionStatusFailed, CompressionStatusKilled:
		return true
	}
	return false
}

// ObjectStatusForCompression maps a terminal compression job status to the
// per-object status it implies.
func ObjectStatusForCompression(s CompressionJobStatus) IngestedObjectStatus {
	if s == CompressionStatusSucceeded {
		return ObjectStatusCompressed
	}
	return ObjectStatusFailed
}
