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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIngestionJobStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    IngestionJobStatus
		to      IngestionJobStatus
		allowed bool
	}{
		{"requested to running", JobStatusRequested, JobStatusRunning, true},
		{"running to paused", JobStatusRunning, JobStatusPaused, true},
		{"running to finished", JobStatusRunning, JobStatusFinished, true},
		{"paused to running", JobStatusPaused, JobStatusRunning, true},
		{"paused to finished", JobStatusPaused, JobStatusFinished, true},
		{"running to requested", JobStatusRunning, JobStatusRequested, false},
		{"finished to running", JobStatusFinished, JobStatusRunning, false},
		{"finished to requested", JobStatusFinished, JobStatusRequested, false},
		{"failed to running", JobStatusFailed, JobStatusRunning, false},
		{"requested to finished", JobStatusRequested, JobStatusFinished, false},
		{"requested to paused", JobStatusRequested, JobStatusPaused, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestIngestionJobStatusTransitionsIdempotent(t *testing.T) {
	for _, s := range []IngestionJobStatus{
		JobStatusRequested, JobStatusRunning, JobStatusPaused, JobStatusFailed, JobStatusFinished,
	} {
		assert.True(t, s.CanTransitionTo(s), "re-applying %s should be allowed", s)
	}
}

func TestIngestionJobStatusFailAlwaysReachable(t *testing.T) {
	for _, s := range []IngestionJobStatus{
		JobStatusRequested, JobStatusRunning, JobStatusPaused, JobStatusFinished,
	} {
		assert.True(t, s.CanTransitionTo(JobStatusFailed), "%s -> failed should be allowed", s)
	}
}

func TestCompressionJobStatusTerminal(t *testing.T) {
	assert.False(t, CompressionStatusPending.IsTerminal())
	assert.False(t, CompressionStatusRunning.IsTerminal())
	assert.True(t, CompressionStatusSucceeded.IsTerminal())
	assert.True(t, CompressionStatusFailed.IsTerminal())
	assert.True(t, CompressionStatusKilled.IsTerminal())
}

func TestObjectStatusForCompression(t *testing.T) {
	assert.Equal(t, ObjectStatusCompressed, ObjectStatusForCompression(CompressionStatusSucceeded))
	assert.Equal(t, ObjectStatusFailed, ObjectStatusForCompression(CompressionStatusFailed))
	assert.Equal(t, ObjectStatusFailed, ObjectStatusForCompression(CompressionStatusKilled))
}
