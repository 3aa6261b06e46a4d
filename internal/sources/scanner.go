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

package sources

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/archivehq/logpacker/internal/buffer"
	"github.com/archivehq/logpacker/internal/jobstate"
	"github.com/archivehq/logpacker/lpdb"
)

// S3ListAPI is the object-store surface the scanner needs.
type S3ListAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ScannerConfig holds the static configuration for one object scanner.
type ScannerConfig struct {
	Bucket       string
	KeyPrefix    string
	StartAfter   string
	ScanInterval time.Duration
}

// Scanner polls a bucket prefix for new objects, advancing a cursor key
// past everything it has emitted. A truncated listing is relisted
// immediately so a large backlog drains without waiting out the scan
// interval.
type Scanner struct {
	jobID  uuid.UUID
	client S3ListAPI
	cfg    ScannerConfig
	sender buffer.Sender[lpdb.ObjectMeta]
	state  jobstate.State

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewScanner(jobID uuid.UUID, client S3ListAPI, cfg ScannerConfig, sender buffer.Sender[lpdb.ObjectMeta], state jobstate.State) *Scanner {
	return &Scanner{
		jobID:  jobID,
		client: client,
		cfg:    cfg,
		sender: sender,
		state:  state,
		done:   make(chan struct{}),
	}
}

func (s *Scanner) JobID() uuid.UUID { return s.jobID }

// Start launches the scan loop.
func (s *Scanner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Shutdown cancels the scan loop and waits for it to finish.
func (s *Scanner) Shutdown(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for scanner shutdown: %w", ctx.Err())
	}
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.done)

	if err := s.state.Start(ctx); err != nil {
		s.err = fmt.Errorf("scanner job %s: %w", s.jobID, err)
		slog.Error("Failed to start scanner job", slog.String("job_id", s.jobID.String()), slog.Any("error", err))
		return
	}

	slog.Info("Object scanner started",
		slog.String("job_id", s.jobID.String()),
		slog.String("bucket", s.cfg.Bucket),
		slog.String("key_prefix", s.cfg.KeyPrefix))

	cursor := s.cfg.StartAfter
	for {
		select {
		case <-ctx.Done():
			slog.Info("Object scanner stopped", slog.String("job_id", s.jobID.String()))
			return
		default:
		}

		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.cfg.Bucket),
			Prefix: aws.String(s.cfg.KeyPrefix),
		}
		if cursor != "" {
			input.StartAfter = aws.String(cursor)
		}

		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to list objects, will retry",
				slog.String("job_id", s.jobID.String()),
				slog.Any("error", err))
			if !sleepCtx(ctx, s.cfg.ScanInterval) {
				return
			}
			continue
		}

		var batch []lpdb.ObjectMeta
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			cursor = key
			if strings.HasSuffix(key, "/") {
				continue
			}
			batch = append(batch, lpdb.ObjectMeta{
				Bucket:    s.cfg.Bucket,
				ObjectKey: key,
				FileSize:  aws.ToInt64(obj.Size),
			})
		}
		if len(batch) > 0 {
			if err := s.sender.Send(ctx, batch); err != nil {
				return
			}
		}

		// Truncated listing means more backlog: relist immediately with
		// the advanced cursor.
		if aws.ToBool(out.IsTruncated) {
			continue
		}
		if !sleepCtx(ctx, s.cfg.ScanInterval) {
			return
		}
	}
}

// sleepCtx waits d or until ctx cancellation; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
