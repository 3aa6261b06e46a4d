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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivehq/logpacker/internal/compression"
	"github.com/archivehq/logpacker/internal/jobstate"
	"github.com/archivehq/logpacker/internal/sources"
	"github.com/archivehq/logpacker/lpdb"
)

// quietS3 lists nothing, forever.
type quietS3 struct{}

func (quietS3) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}, nil
}

// scriptedSQS serves its messages once, then long-polls until cancelled.
type scriptedSQS struct {
	mu       sync.Mutex
	messages []sqs.ReceiveMessageOutput
}

func (f *scriptedSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		out := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return &out, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *scriptedSQS) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

// recCompFactory records every submitted batch across all jobs.
type recCompFactory struct {
	mu        sync.Mutex
	nextJobID int64
	batches   [][]lpdb.ObjectMeta
}

func (f *recCompFactory) New(uuid.UUID, lpdb.IOTemplate) compression.State {
	return &recCompState{factory: f}
}

func (f *recCompFactory) submitted() [][]lpdb.ObjectMeta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]lpdb.ObjectMeta(nil), f.batches...)
}

type recCompState struct {
	factory *recCompFactory
}

func (s *recCompState) Submit(_ context.Context, objects []lpdb.ObjectMeta) (int64, error) {
	if len(objects) == 0 {
		panic("submit called with zero objects")
	}
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.factory.nextJobID++
	s.factory.batches = append(s.factory.batches, append([]lpdb.ObjectMeta(nil), objects...))
	return s.factory.nextJobID, nil
}

func (s *recCompState) WaitAndReconcile(context.Context, int64, int) error {
	return nil
}

func testDeps(sqsClient sources.SQSAPI, comp compression.StateFactory) Deps {
	if comp == nil {
		comp = compression.DiscardFactory{}
	}
	return Deps{
		S3: func(context.Context, string, string) (sources.S3ListAPI, error) {
			return quietS3{}, nil
		},
		SQS: func(context.Context, string, string) (sources.SQSAPI, error) {
			return sqsClient, nil
		},
		TopicReader: func(sources.TopicConfig) sources.TopicReader {
			return nil
		},
		States:      jobstate.NewNopFactory(),
		Compression: comp,
	}
}

func scannerConfig(bucket, prefix, dataset string) ScannerJobConfig {
	return ScannerJobConfig{
		SourceConfig: SourceConfig{
			Region:    "us-east-1",
			Bucket:    bucket,
			KeyPrefix: prefix,
			Dataset:   dataset,
		},
		ScanInterval: time.Hour,
	}
}

func TestCreateJobPrefixConflicts(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(DefaultConfig(), testDeps(&scriptedSQS{}, nil))
	defer func() { _ = mgr.Close(ctx) }()

	_, err := mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "logs/", "app"))
	require.NoError(t, err)

	// Nested prefix in the same range conflicts, in both directions.
	_, err = mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "logs/app1/", "app"))
	require.ErrorIs(t, err, ErrConflictingJob)
	_, err = mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "", "app"))
	require.ErrorIs(t, err, ErrConflictingJob)

	// Disjoint prefixes, other buckets, and other datasets are fine.
	_, err = mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "metrics/", "app"))
	require.NoError(t, err)
	_, err = mgr.CreateScannerJob(ctx, scannerConfig("other-bucket", "logs/", "app"))
	require.NoError(t, err)
	_, err = mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "logs/", "audit"))
	require.NoError(t, err)

	assert.Len(t, mgr.JobIDs(), 4)
}

func TestClaimReleasedAfterShutdown(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(DefaultConfig(), testDeps(&scriptedSQS{}, nil))
	defer func() { _ = mgr.Close(ctx) }()

	id, err := mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "logs/", "app"))
	require.NoError(t, err)
	require.NoError(t, mgr.ShutdownAndRemoveJob(ctx, id))

	// The range is free again.
	_, err = mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "logs/app1/", "app"))
	require.NoError(t, err)
}

func TestCreateJobValidation(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(DefaultConfig(), testDeps(&scriptedSQS{}, nil))
	defer func() { _ = mgr.Close(ctx) }()

	_, err := mgr.CreateScannerJob(ctx, ScannerJobConfig{})
	require.ErrorIs(t, err, ErrInvalidJobConfig)

	cfg := scannerConfig("b", "p/", "d")
	cfg.ScanInterval = 0
	_, err = mgr.CreateScannerJob(ctx, cfg)
	require.ErrorIs(t, err, ErrInvalidJobConfig)

	qcfg := QueueJobConfig{
		SourceConfig: SourceConfig{Region: "us-east-1", Bucket: "b"},
		NumWorkers:   1,
	}
	_, err = mgr.CreateQueueJob(ctx, qcfg)
	require.ErrorIs(t, err, ErrInvalidJobConfig)

	tcfg := TopicJobConfig{
		SourceConfig: SourceConfig{Bucket: "b"},
		Brokers:      []string{"broker:9092"},
		Topics:       []string{"events"},
	}
	_, err = mgr.CreateTopicJob(ctx, tcfg) // missing group id
	require.ErrorIs(t, err, ErrInvalidJobConfig)
}

func TestShutdownUnknownJob(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(DefaultConfig(), testDeps(&scriptedSQS{}, nil))
	defer func() { _ = mgr.Close(ctx) }()

	err := mgr.ShutdownAndRemoveJob(ctx, uuid.New())
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueueJobEndToEnd(t *testing.T) {
	ctx := context.Background()

	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"logs-bucket"},"object":{"key":"logs/new.log","size":42}}}]}`
	sqsClient := &scriptedSQS{
		messages: []sqs.ReceiveMessageOutput{
			{Messages: []sqstypes.Message{{Body: aws.String(body), ReceiptHandle: aws.String("rh-1")}}},
		},
	}
	comp := &recCompFactory{}

	cfg := DefaultConfig()
	cfg.FlushThresholdBytes = 1 // flush every batch immediately
	mgr := NewManager(cfg, testDeps(sqsClient, comp))

	id, err := mgr.CreateQueueJob(ctx, QueueJobConfig{
		SourceConfig: SourceConfig{Region: "us-east-1", Bucket: "logs-bucket", KeyPrefix: "logs/"},
		QueueURL:     "https://sqs.test/queue",
		NumWorkers:   1,
		WaitTime:     time.Second,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(comp.submitted()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	batch := comp.submitted()[0]
	require.Len(t, batch, 1)
	assert.Equal(t, "logs/new.log", batch[0].ObjectKey)
	assert.Equal(t, int64(42), batch[0].FileSize)

	require.NoError(t, mgr.ShutdownAndRemoveJob(ctx, id))
	require.NoError(t, mgr.Close(ctx))
}

func TestManagerClosed(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(DefaultConfig(), testDeps(&scriptedSQS{}, nil))
	require.NoError(t, mgr.Close(ctx))

	_, err := mgr.CreateScannerJob(ctx, scannerConfig("b", "p/", "d"))
	require.ErrorIs(t, err, ErrManagerClosed)
}

// blockingRegisterFactory parks createJob inside Register so a test can
// overlap job construction with a manager shutdown.
type blockingRegisterFactory struct {
	jobstate.Factory
	entered chan struct{}
	release chan struct{}
}

func (f *blockingRegisterFactory) Register(ctx context.Context, jobID uuid.UUID, sourceType string, config []byte) error {
	close(f.entered)
	<-f.release
	return f.Factory.Register(ctx, jobID, sourceType, config)
}

func TestCloseDuringJobCreation(t *testing.T) {
	ctx := context.Background()
	factory := &blockingRegisterFactory{
		Factory: jobstate.NewNopFactory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	deps := testDeps(&scriptedSQS{}, nil)
	deps.States = factory
	mgr := NewManager(DefaultConfig(), deps)

	createErr := make(chan error, 1)
	go func() {
		_, err := mgr.CreateScannerJob(ctx, scannerConfig("logs-bucket", "logs/", "app"))
		createErr <- err
	}()
	<-factory.entered

	// Close lands on the claim-only placeholder entry; it must wait for
	// construction to settle instead of shutting down a half-built job.
	closeErr := make(chan error, 1)
	go func() {
		closeErr <- mgr.Close(ctx)
	}()
	require.Eventually(t, func() bool {
		return len(mgr.JobIDs()) == 0
	}, 2*time.Second, 5*time.Millisecond)

	close(factory.release)
	require.ErrorIs(t, <-createErr, ErrManagerClosed)
	require.NoError(t, <-closeErr)
	assert.Empty(t, mgr.JobIDs())
}

func TestResumeDuplicateJobID(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(DefaultConfig(), testDeps(&scriptedSQS{}, nil))
	defer func() { _ = mgr.Close(ctx) }()

	cfg := scannerConfig("logs-bucket", "logs/", "app")
	cfg.JobID = uuid.New()
	_, err := mgr.CreateScannerJob(ctx, cfg)
	require.NoError(t, err)

	cfg2 := scannerConfig("other-bucket", "logs/", "app")
	cfg2.JobID = cfg.JobID
	_, err = mgr.CreateScannerJob(ctx, cfg2)
	require.ErrorIs(t, err, ErrConflictingJob)
}
