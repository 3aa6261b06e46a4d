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

// Package ingest orchestrates ingestion jobs: creation with source-range
// conflict detection, the per-job listener-to-compression pipeline, and
// orderly shutdown.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/internal/buffer"
	"github.com/archivehq/logpacker/internal/compression"
	"github.com/archivehq/logpacker/internal/jobstate"
	"github.com/archivehq/logpacker/internal/sources"
	"github.com/archivehq/logpacker/lpdb"
)

var (
	// ErrJobNotFound is returned when operating on an unknown job id.
	ErrJobNotFound = errors.New("ingestion job not found")
	// ErrConflictingJob is returned when a new job's source range
	// overlaps a running job's.
	ErrConflictingJob = errors.New("conflicting ingestion job")
	// ErrInvalidJobConfig covers job request validation failures.
	ErrInvalidJobConfig = errors.New("invalid ingestion job config")
	// ErrManagerClosed is returned when creating jobs after Close.
	ErrManagerClosed = errors.New("ingestion job manager is closed")
)

// Config tunes the per-job buffering pipeline.
type Config struct {
	FlushThresholdBytes int64         `mapstructure:"flush_threshold_bytes"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	ChannelCapacity     int           `mapstructure:"channel_capacity"`
}

// DefaultConfig returns the default pipeline tuning.
func DefaultConfig() Config {
	return Config{
		FlushThresholdBytes: 64 << 20, // 64MB of referenced object bytes
		IdleTimeout:         30 * time.Second,
		ChannelCapacity:     64,
	}
}

// S3Provider builds an object-store client for a job's region/endpoint.
type S3Provider func(ctx context.Context, region, endpointURL string) (sources.S3ListAPI, error)

// SQSProvider builds a queue client for a job's region/endpoint.
type SQSProvider func(ctx context.Context, region, endpointURL string) (sources.SQSAPI, error)

// TopicReaderProvider builds a log-topic reader for a job.
type TopicReaderProvider func(cfg sources.TopicConfig) sources.TopicReader

// Deps are the collaborators the manager wires into each job.
type Deps struct {
	S3          S3Provider
	SQS         SQSProvider
	TopicReader TopicReaderProvider
	States      jobstate.Factory
	Compression compression.StateFactory
}

// claim is the source range a job holds while running. Two claims
// conflict when everything but the key prefix is equal and the prefixes
// are not mutually prefix-free.
type claim struct {
	endpointURL string
	region      string
	bucket      string
	dataset     string
	keyPrefix   string
}

func (c claim) conflictsWith(other claim) bool {
	if c.endpointURL != other.endpointURL || c.region != other.region ||
		c.bucket != other.bucket || c.dataset != other.dataset {
		return false
	}
	return strings.HasPrefix(c.keyPrefix, other.keyPrefix) ||
		strings.HasPrefix(other.keyPrefix, c.keyPrefix)
}

type tableEntry struct {
	claim    claim
	job      *Job
	listener *buffer.Listener[lpdb.ObjectMeta]
	state    jobstate.State

	// ready is closed once construction settles, successfully or not.
	// Until then job/listener/state may be nil and the entry only
	// reserves the claim.
	ready chan struct{}
}

// Manager is the top-level facade over all running ingestion jobs.
type Manager struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	jobs   map[uuid.UUID]*tableEntry
	closed bool

	pollCtx    context.Context
	pollCancel context.CancelFunc
	polls      sync.WaitGroup
}

func NewManager(cfg Config, deps Deps) *Manager {
	pollCtx, pollCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		deps:       deps,
		jobs:       make(map[uuid.UUID]*tableEntry),
		pollCtx:    pollCtx,
		pollCancel: pollCancel,
	}
}

// CreateScannerJob validates, registers, and starts a poll-based object
// scanner job, returning its id.
func (m *Manager) CreateScannerJob(ctx context.Context, cfg ScannerJobConfig) (uuid.UUID, error) {
	if err := cfg.validate(); err != nil {
		return uuid.Nil, err
	}
	client, err := m.deps.S3(ctx, cfg.Region, cfg.EndpointURL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build object-store client: %w", err)
	}

	return m.createJob(ctx, createRequest{
		claim:      cfg.claim(),
		sourceType: SourceScanner,
		jobID:      cfg.JobID,
		config:     cfg,
		template:   cfg.template(),
		newState:   m.deps.States.NewScannerState,
		build: func(ctx context.Context, id uuid.UUID, state jobstate.State, sender buffer.Sender[lpdb.ObjectMeta]) (*Job, error) {
			startAfter := cfg.StartAfter
			cursor, err := m.deps.States.ScannerCursor(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("load scanner cursor: %w", err)
			}
			if cursor != "" {
				startAfter = cursor
			}
			scanner := sources.NewScanner(id, client, sources.ScannerConfig{
				Bucket:       cfg.Bucket,
				KeyPrefix:    cfg.KeyPrefix,
				StartAfter:   startAfter,
				ScanInterval: cfg.ScanInterval,
			}, sender, state)
			return newScannerJob(id, scanner), nil
		},
	})
}

// CreateQueueJob validates, registers, and starts a queue-notification
// listener job, returning its id.
func (m *Manager) CreateQueueJob(ctx context.Context, cfg QueueJobConfig) (uuid.UUID, error) {
	if err := cfg.validate(); err != nil {
		return uuid.Nil, err
	}
	client, err := m.deps.SQS(ctx, cfg.Region, cfg.EndpointURL)
	if err != nil {
		return uuid.Nil, fmt.Errorf("build queue client: %w", err)
	}

	maxMessages := cfg.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 10
	}

	return m.createJob(ctx, createRequest{
		claim:      cfg.claim(),
		sourceType: SourceQueue,
		jobID:      cfg.JobID,
		config:     cfg,
		template:   cfg.template(),
		newState:   m.deps.States.NewQueueState,
		build: func(_ context.Context, id uuid.UUID, state jobstate.State, sender buffer.Sender[lpdb.ObjectMeta]) (*Job, error) {
			listener := sources.NewQueueListener(id, client, sources.QueueConfig{
				QueueURL:    cfg.QueueURL,
				NumWorkers:  cfg.NumWorkers,
				WaitTime:    cfg.WaitTime,
				MaxMessages: maxMessages,
				Filter:      sources.Filter{Bucket: cfg.Bucket, KeyPrefix: cfg.KeyPrefix},
			}, sender, state)
			return newQueueJob(id, listener), nil
		},
	})
}

// CreateTopicJob validates, registers, and starts a log-topic listener
// job, returning its id.
func (m *Manager) CreateTopicJob(ctx context.Context, cfg TopicJobConfig) (uuid.UUID, error) {
	if err := cfg.validate(); err != nil {
		return uuid.Nil, err
	}

	return m.createJob(ctx, createRequest{
		claim:      cfg.claim(),
		sourceType: SourceTopic,
		jobID:      cfg.JobID,
		config:     cfg,
		template:   cfg.template(),
		newState:   m.deps.States.NewQueueState,
		build: func(_ context.Context, id uuid.UUID, state jobstate.State, sender buffer.Sender[lpdb.ObjectMeta]) (*Job, error) {
			topicCfg := sources.TopicConfig{
				Brokers:           cfg.Brokers,
				GroupID:           cfg.GroupID,
				Topics:            cfg.Topics,
				Filter:            sources.Filter{Bucket: cfg.Bucket, KeyPrefix: cfg.KeyPrefix},
				BackoffInitial:    cfg.BackoffInitial,
				BackoffMax:        cfg.BackoffMax,
				BackoffMaxElapsed: cfg.BackoffMaxElapsed,
			}
			reader := m.deps.TopicReader(topicCfg)
			return newTopicJob(id, sources.NewTopicListener(id, reader, topicCfg, sender, state)), nil
		},
	})
}

type createRequest struct {
	claim      claim
	sourceType SourceKind
	jobID      uuid.UUID // uuid.Nil registers a fresh job
	config     any
	template   lpdb.IOTemplate
	newState   func(uuid.UUID) jobstate.State
	build      func(ctx context.Context, id uuid.UUID, state jobstate.State, sender buffer.Sender[lpdb.ObjectMeta]) (*Job, error)
}

// createJob reserves the claim and id under the table lock, then does all
// I/O (registration, pipeline, connector construction) outside it. The
// placeholder entry makes racing creations see the claim immediately.
func (m *Manager) createJob(ctx context.Context, req createRequest) (uuid.UUID, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return uuid.Nil, ErrManagerClosed
	}
	for _, entry := range m.jobs {
		if entry.claim.conflictsWith(req.claim) {
			m.mu.Unlock()
			return uuid.Nil, fmt.Errorf("%w: bucket %q prefix %q overlaps a running job",
				ErrConflictingJob, req.claim.bucket, req.claim.keyPrefix)
		}
	}
	id := req.jobID
	register := id == uuid.Nil
	if register {
		for {
			id = uuid.New()
			if _, exists := m.jobs[id]; !exists {
				break
			}
		}
	} else if _, exists := m.jobs[id]; exists {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: job %s is already running", ErrConflictingJob, id)
	}
	entry := &tableEntry{claim: req.claim, ready: make(chan struct{})}
	m.jobs[id] = entry
	m.mu.Unlock()

	fail := func(err error) (uuid.UUID, error) {
		m.mu.Lock()
		delete(m.jobs, id)
		close(entry.ready)
		m.mu.Unlock()
		return uuid.Nil, err
	}

	if register {
		cfgJSON, err := json.Marshal(req.config)
		if err != nil {
			return fail(fmt.Errorf("marshal job config: %w", err))
		}
		if err := m.deps.States.Register(ctx, id, string(req.sourceType), cfgJSON); err != nil {
			return fail(fmt.Errorf("register ingestion job: %w", err))
		}
	}

	state := req.newState(id)
	comp := m.deps.Compression.New(id, req.template)
	pipe := newPipeline(id, state, comp, m.pollCtx, &m.polls)
	listener := buffer.Spawn(buffer.New(m.cfg.FlushThresholdBytes, pipe.submit), m.cfg.IdleTimeout, m.cfg.ChannelCapacity)

	job, err := req.build(ctx, id, state, listener.NewSender())
	if err != nil {
		_ = listener.Close(ctx)
		return fail(err)
	}

	m.mu.Lock()
	if m.jobs[id] != entry {
		// Removed while under construction, by Close or an explicit
		// shutdown. Tear down instead of starting a job nobody tracks.
		close(entry.ready)
		m.mu.Unlock()
		_ = listener.Close(ctx)
		return uuid.Nil, fmt.Errorf("%w: job %s was removed during creation", ErrManagerClosed, id)
	}
	entry.job = job
	entry.listener = listener
	entry.state = state
	close(entry.ready)
	m.mu.Unlock()

	job.start()
	slog.Info("Created ingestion job",
		slog.String("job_id", id.String()),
		slog.String("source_type", string(req.sourceType)),
		slog.String("bucket", req.claim.bucket),
		slog.String("key_prefix", req.claim.keyPrefix))
	return id, nil
}

// ShutdownAndRemoveJob removes a job from the table and shuts it down:
// connector first, then listener, so a final flush sees everything the
// connector emitted. The persisted job row outlives the removal.
func (m *Manager) ShutdownAndRemoveJob(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	entry, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(m.jobs, id)
	m.mu.Unlock()

	// The entry may still be a placeholder while createJob constructs
	// the job outside the table lock. Wait for construction to settle;
	// createJob sees the removal and will not start the job.
	select {
	case <-entry.ready:
	case <-ctx.Done():
		return fmt.Errorf("waiting for ingestion job %s construction: %w", id, ctx.Err())
	}
	if entry.job == nil {
		// Construction failed or was abandoned; nothing ever started.
		return nil
	}

	connErr := entry.job.Shutdown(ctx)
	flushErr := entry.listener.Close(ctx)
	if connErr != nil || flushErr != nil {
		err := errors.Join(connErr, flushErr)
		entry.state.Fail(ctx, err.Error())
		return fmt.Errorf("shutdown ingestion job %s: %w", id, err)
	}

	if err := entry.state.End(ctx); err != nil {
		return fmt.Errorf("finish ingestion job %s: %w", id, err)
	}
	slog.Info("Removed ingestion job", slog.String("job_id", id.String()))
	return nil
}

// JobIDs returns the ids of all currently running jobs.
func (m *Manager) JobIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Close shuts down every job, stops compression polling, and waits for
// the poll goroutines to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, id := range m.JobIDs() {
		if err := m.ShutdownAndRemoveJob(ctx, id); err != nil && !errors.Is(err, ErrJobNotFound) {
			errs = append(errs, err)
		}
	}

	m.pollCancel()
	done := make(chan struct{})
	go func() {
		m.polls.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for compression polls: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
