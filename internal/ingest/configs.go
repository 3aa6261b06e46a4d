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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archivehq/logpacker/lpdb"
)

// SourceConfig is the part of a job request shared by all source kinds.
// It names the object range the job claims and the compression IO
// parameters carried onto every compression job it submits.
type SourceConfig struct {
	Region       string   `mapstructure:"region" json:"region,omitempty"`
	EndpointURL  string   `mapstructure:"endpoint_url" json:"endpoint_url,omitempty"`
	Bucket       string   `mapstructure:"bucket" json:"bucket"`
	KeyPrefix    string   `mapstructure:"key_prefix" json:"key_prefix"`
	Dataset      string   `mapstructure:"dataset" json:"dataset,omitempty"`
	TimestampKey string   `mapstructure:"timestamp_key" json:"timestamp_key,omitempty"`
	Unstructured bool     `mapstructure:"unstructured" json:"unstructured"`
	Tags         []string `mapstructure:"tags" json:"tags,omitempty"`
}

func (c SourceConfig) claim() claim {
	return claim{
		endpointURL: c.EndpointURL,
		region:      c.Region,
		bucket:      c.Bucket,
		dataset:     c.Dataset,
		keyPrefix:   c.KeyPrefix,
	}
}

func (c SourceConfig) template() lpdb.IOTemplate {
	return lpdb.IOTemplate{
		InputType:    "s3",
		Region:       c.Region,
		EndpointURL:  c.EndpointURL,
		Bucket:       c.Bucket,
		Dataset:      c.Dataset,
		TimestampKey: c.TimestampKey,
		Unstructured: c.Unstructured,
		Tags:         c.Tags,
	}
}

func (c SourceConfig) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket is required", ErrInvalidJobConfig)
	}
	return nil
}

// validateStore additionally requires an addressable object store.
func (c SourceConfig) validateStore() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Region == "" && c.EndpointURL == "" {
		return fmt.Errorf("%w: either region or endpoint_url is required", ErrInvalidJobConfig)
	}
	return nil
}

// ScannerJobConfig configures a poll-based object scanner job. JobID, when
// set, resumes an existing persisted job (restoring its cursor) instead of
// registering a new one.
type ScannerJobConfig struct {
	SourceConfig `mapstructure:",squash"`

	ScanInterval time.Duration `mapstructure:"scan_interval" json:"scan_interval"`
	StartAfter   string        `mapstructure:"start_after" json:"start_after,omitempty"`
	JobID        uuid.UUID     `mapstructure:"-" json:"-"`
}

func (c ScannerJobConfig) validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("%w: scan_interval must be positive", ErrInvalidJobConfig)
	}
	return nil
}

// QueueJobConfig configures a queue-notification listener job.
type QueueJobConfig struct {
	SourceConfig `mapstructure:",squash"`

	QueueURL    string        `mapstructure:"queue_url" json:"queue_url"`
	NumWorkers  int           `mapstructure:"num_workers" json:"num_workers"`
	WaitTime    time.Duration `mapstructure:"wait_time" json:"wait_time"`
	MaxMessages int32         `mapstructure:"max_messages" json:"max_messages"`
	JobID       uuid.UUID     `mapstructure:"-" json:"-"`
}

func (c QueueJobConfig) validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.QueueURL == "" {
		return fmt.Errorf("%w: queue_url is required", ErrInvalidJobConfig)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("%w: num_workers must be positive", ErrInvalidJobConfig)
	}
	return nil
}

// TopicJobConfig configures a log-topic listener job.
type TopicJobConfig struct {
	SourceConfig `mapstructure:",squash"`

	Brokers []string  `mapstructure:"brokers" json:"brokers"`
	GroupID string    `mapstructure:"group_id" json:"group_id"`
	Topics  []string  `mapstructure:"topics" json:"topics"`
	JobID   uuid.UUID `mapstructure:"-" json:"-"`

	BackoffInitial    time.Duration `mapstructure:"backoff_initial" json:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" json:"backoff_max"`
	BackoffMaxElapsed time.Duration `mapstructure:"backoff_max_elapsed" json:"backoff_max_elapsed"`
}

func (c TopicJobConfig) validate() error {
	if err := c.SourceConfig.validate(); err != nil {
		return err
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: brokers are required", ErrInvalidJobConfig)
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("%w: topics are required", ErrInvalidJobConfig)
	}
	if c.GroupID == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidJobConfig)
	}
	return nil
}
