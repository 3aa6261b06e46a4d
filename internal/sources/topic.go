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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/archivehq/logpacker/internal/buffer"
	"github.com/archivehq/logpacker/internal/jobstate"
	"github.com/archivehq/logpacker/lpdb"
)

// TopicReader is the log-topic surface the listener needs. *kafka.Reader
// implements it.
type TopicReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TopicConfig holds the static configuration for one topic listener.
type TopicConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	Filter  Filter

	// Receive-failure backoff. When the elapsed budget runs out the
	// listener fails the job and exits: persistent topic-receive errors
	// mean a broken subscription, not an empty poll.
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMaxElapsed time.Duration
}

// NewTopicReader builds a kafka reader for a topic listener config.
func NewTopicReader(cfg TopicConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupTopics: cfg.Topics,
		GroupID:     cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
		Dialer: &kafka.Dialer{
			Timeout: 10 * time.Second,
		},
		CommitInterval: 0, // synchronous commits only
	})
}

// TopicListener pulls object-creation notifications from a log topic.
// Unlike the queue listener it is fail-fast: once its receive backoff
// budget is exhausted it fails the job and stops.
type TopicListener struct {
	jobID  uuid.UUID
	reader TopicReader
	cfg    TopicConfig
	sender buffer.Sender[lpdb.ObjectMeta]
	state  jobstate.State

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewTopicListener(jobID uuid.UUID, reader TopicReader, cfg TopicConfig, sender buffer.Sender[lpdb.ObjectMeta], state jobstate.State) *TopicListener {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.BackoffMaxElapsed <= 0 {
		cfg.BackoffMaxElapsed = 5 * time.Minute
	}
	return &TopicListener{
		jobID:  jobID,
		reader: reader,
		cfg:    cfg,
		sender: sender,
		state:  state,
		done:   make(chan struct{}),
	}
}

func (l *TopicListener) JobID() uuid.UUID { return l.jobID }

// Start launches the receive loop.
func (l *TopicListener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)
}

// Shutdown cancels the receive loop and waits for it to finish, surfacing
// a terminal receive error if the listener aborted on its own.
func (l *TopicListener) Shutdown(ctx context.Context) error {
	l.cancel()
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for topic listener shutdown: %w", ctx.Err())
	}
}

func (l *TopicListener) run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		if err := l.reader.Close(); err != nil {
			slog.Error("Failed to close topic reader",
				slog.String("job_id", l.jobID.String()),
				slog.Any("error", err))
		}
	}()

	if err := l.state.Start(ctx); err != nil {
		l.err = fmt.Errorf("topic listener job %s: %w", l.jobID, err)
		slog.Error("Failed to start topic listener job", slog.String("job_id", l.jobID.String()), slog.Any("error", err))
		return
	}

	slog.Info("Topic listener started",
		slog.String("job_id", l.jobID.String()),
		slog.Any("topics", l.cfg.Topics),
		slog.String("group_id", l.cfg.GroupID))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.BackoffInitial
	bo.MaxInterval = l.cfg.BackoffMax
	bo.MaxElapsedTime = l.cfg.BackoffMaxElapsed
	bo.Reset()

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Topic listener stopped", slog.String("job_id", l.jobID.String()))
				return
			}
			next := bo.NextBackOff()
			if next == backoff.Stop {
				l.err = fmt.Errorf("topic receive backoff budget exhausted for job %s: %w", l.jobID, err)
				slog.Error("Topic listener aborting",
					slog.String("job_id", l.jobID.String()),
					slog.Any("error", err))
				l.state.Fail(context.Background(), l.err.Error())
				return
			}
			slog.Warn("Topic receive failed, backing off",
				slog.String("job_id", l.jobID.String()),
				slog.Duration("backoff", next),
				slog.Any("error", err))
			if !sleepCtx(ctx, next) {
				return
			}
			continue
		}
		bo.Reset()

		objects, err := ParseNotification(msg.Value, l.cfg.Filter)
		if err != nil {
			slog.Warn("Skipping malformed topic message",
				slog.String("job_id", l.jobID.String()),
				slog.Any("error", err))
		} else if len(objects) > 0 {
			if err := l.sender.Send(ctx, objects); err != nil {
				return
			}
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to commit topic offset",
				slog.String("job_id", l.jobID.String()),
				slog.Any("error", err))
		}
	}
}
