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
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivehq/logpacker/lpdb"
)

// fakeSQS serves queued deliveries once, then empty receives.
type fakeSQS struct {
	mu       sync.Mutex
	messages []sqstypes.Message
	deleted  []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		out := &sqs.ReceiveMessageOutput{Messages: f.messages}
		f.messages = nil
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	// Simulate long polling so idle workers don't spin.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

const queueTestBody = `{
	"Records": [
		{
			"eventName": "ObjectCreated:Put",
			"s3": {
				"bucket": {"name": "logs-bucket"},
				"object": {"key": "app/new.log", "size": 42}
			}
		}
	]
}`

func newQueueTestListener(client SQSAPI, sink *capture, state *fakeState) *QueueListener {
	return NewQueueListener(uuid.New(), client, QueueConfig{
		QueueURL:    "https://sqs.test/queue",
		NumWorkers:  2,
		WaitTime:    time.Second,
		MaxMessages: 10,
		Filter:      Filter{Bucket: "logs-bucket", KeyPrefix: "app/"},
	}, sink.sender(), state)
}

func TestQueueListenerDeletesAfterEmit(t *testing.T) {
	client := &fakeSQS{
		messages: []sqstypes.Message{
			{Body: aws.String(queueTestBody), ReceiptHandle: aws.String("rh-1")},
		},
	}
	sink := newCapture()
	state := &fakeState{}

	listener := newQueueTestListener(client, sink, state)
	listener.Start()

	require.Eventually(t, func() bool {
		return len(sink.seen()) == 1 && len(client.deletedHandles()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, listener.Shutdown(ctx))
	require.NoError(t, sink.close(ctx))

	assert.Equal(t, lpdb.ObjectMeta{Bucket: "logs-bucket", ObjectKey: "app/new.log", FileSize: 42}, sink.seen()[0])
	assert.Equal(t, []string{"rh-1"}, client.deletedHandles())
}

func TestQueueListenerDeletesMalformedMessages(t *testing.T) {
	client := &fakeSQS{
		messages: []sqstypes.Message{
			{Body: aws.String("not json at all"), ReceiptHandle: aws.String("rh-bad")},
			{ReceiptHandle: aws.String("rh-nil")}, // nil body
		},
	}
	sink := newCapture()
	state := &fakeState{}

	listener := newQueueTestListener(client, sink, state)
	listener.Start()

	require.Eventually(t, func() bool {
		return len(client.deletedHandles()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, listener.Shutdown(ctx))
	require.NoError(t, sink.close(ctx))

	assert.Empty(t, sink.seen())
	assert.ElementsMatch(t, []string{"rh-bad", "rh-nil"}, client.deletedHandles())
}

func TestQueueListenerFilteredMessageStillDeleted(t *testing.T) {
	otherBucket := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"other"},"object":{"key":"app/x.log","size":1}}}]}`
	client := &fakeSQS{
		messages: []sqstypes.Message{
			{Body: aws.String(otherBucket), ReceiptHandle: aws.String("rh-other")},
		},
	}
	sink := newCapture()
	state := &fakeState{}

	listener := newQueueTestListener(client, sink, state)
	listener.Start()

	require.Eventually(t, func() bool {
		return len(client.deletedHandles()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, listener.Shutdown(ctx))
	require.NoError(t, sink.close(ctx))
	assert.Empty(t, sink.seen())
}
