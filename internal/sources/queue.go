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
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/archivehq/logpacker/internal/buffer"
	"github.com/archivehq/logpacker/internal/jobstate"
	"github.com/archivehq/logpacker/lpdb"
)

// receiveErrorSleep is the flat wait after a failed queue receive before
// retrying. Queue receive errors are treated as transient indefinitely.
const receiveErrorSleep = 5 * time.Second

// SQSAPI is the queue surface the listener needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// QueueConfig holds the static configuration for one queue listener.
type QueueConfig struct {
	QueueURL    string
	NumWorkers  int
	WaitTime    time.Duration
	MaxMessages int32
	Filter      Filter
}

// QueueListener runs N workers long-polling an object-creation
// notification queue. A message is deleted only after its objects were
// handed to the listener channel, so the delete is the acknowledgment:
// a crash between emit and delete causes redelivery, which durable
// persistence deduplicates.
type QueueListener struct {
	jobID  uuid.UUID
	client SQSAPI
	cfg    QueueConfig
	sender buffer.Sender[lpdb.ObjectMeta]
	state  jobstate.State

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewQueueListener(jobID uuid.UUID, client SQSAPI, cfg QueueConfig, sender buffer.Sender[lpdb.ObjectMeta], state jobstate.State) *QueueListener {
	return &QueueListener{
		jobID:  jobID,
		client: client,
		cfg:    cfg,
		sender: sender,
		state:  state,
		done:   make(chan struct{}),
	}
}

func (l *QueueListener) JobID() uuid.UUID { return l.jobID }

// Start launches the worker pool.
func (l *QueueListener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)
}

// Shutdown cancels all workers and waits for them to finish.
func (l *QueueListener) Shutdown(ctx context.Context) error {
	l.cancel()
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return fmt.Errorf("waiting for queue listener shutdown: %w", ctx.Err())
	}
}

func (l *QueueListener) run(ctx context.Context) {
	defer close(l.done)

	if err := l.state.Start(ctx); err != nil {
		l.err = fmt.Errorf("queue listener job %s: %w", l.jobID, err)
		slog.Error("Failed to start queue listener job", slog.String("job_id", l.jobID.String()), slog.Any("error", err))
		return
	}

	slog.Info("Queue listener started",
		slog.String("job_id", l.jobID.String()),
		slog.String("queue_url", l.cfg.QueueURL),
		slog.Int("num_workers", l.cfg.NumWorkers))

	var wg sync.WaitGroup
	for i := 0; i < l.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			l.pollLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	slog.Info("Queue listener stopped", slog.String("job_id", l.jobID.String()))
}

func (l *QueueListener) pollLoop(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := l.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(l.cfg.QueueURL),
			MaxNumberOfMessages: l.cfg.MaxMessages,
			WaitTimeSeconds:     int32(l.cfg.WaitTime.Seconds()),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to receive queue messages, will retry",
				slog.String("job_id", l.jobID.String()),
				slog.Int("worker", worker),
				slog.Any("error", err))
			if !sleepCtx(ctx, receiveErrorSleep) {
				return
			}
			continue
		}

		for _, msg := range out.Messages {
			if !l.handleMessage(ctx, msg) {
				return
			}
		}
	}
}

// handleMessage processes one delivery; false means the context was
// cancelled mid-message and the worker should exit. The message is left in
// the queue in that case so it redelivers.
func (l *QueueListener) handleMessage(ctx context.Context, msg types.Message) bool {
	if msg.Body == nil {
		slog.Warn("Received queue message with nil body", slog.String("job_id", l.jobID.String()))
		l.deleteMessage(msg)
		return true
	}

	objects, err := ParseNotification([]byte(*msg.Body), l.cfg.Filter)
	if err != nil {
		// Malformed bodies are skipped, not fatal. Deleting them keeps a
		// poison message from redelivering forever.
		slog.Warn("Skipping malformed queue message",
			slog.String("job_id", l.jobID.String()),
			slog.Any("error", err))
		l.deleteMessage(msg)
		return true
	}

	if len(objects) > 0 {
		if err := l.sender.Send(ctx, objects); err != nil {
			return false
		}
	}

	l.deleteMessage(msg)
	return true
}

func (l *QueueListener) deleteMessage(msg types.Message) {
	// A separate context so the delete completes even when the listener
	// context was just cancelled; an undeleted message only redelivers.
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(l.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		slog.Error("Failed to delete queue message, it will redeliver",
			slog.String("job_id", l.jobID.String()),
			slog.Any("error", err))
	}
}
