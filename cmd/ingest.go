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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/archivehq/logpacker/cmd/dbopen"
	"github.com/archivehq/logpacker/config"
	"github.com/archivehq/logpacker/internal/awsclient"
	"github.com/archivehq/logpacker/internal/compression"
	"github.com/archivehq/logpacker/internal/idgen"
	"github.com/archivehq/logpacker/internal/ingest"
	"github.com/archivehq/logpacker/internal/jobstate"
	"github.com/archivehq/logpacker/internal/sources"
)

const shutdownGrace = 30 * time.Second

func init() {
	rootCmd.AddCommand(ingestCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run configured ingestion jobs",
	Long:  "Start every ingestion job declared in configuration and run until terminated.",
	RunE: func(c *cobra.Command, _ []string) error {
		return runIngest(c.Context())
	},
}

func runIngest(ctx context.Context) error {
	ctx, stop := handleSignals(ctx)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := dbopen.LPDBStore(ctx)
	if err != nil {
		return err
	}

	awsMgr, err := awsclient.NewManager(ctx,
		awsclient.WithAssumeRoleSessionName("logpacker-ingest"))
	if err != nil {
		return fmt.Errorf("creating AWS client manager: %w", err)
	}

	flake, err := idgen.NewFlakeGenerator()
	if err != nil {
		return fmt.Errorf("creating id generator: %w", err)
	}

	mgr := ingest.NewManager(cfg.Ingest, ingest.Deps{
		S3:          s3Provider(awsMgr),
		SQS:         sqsProvider(awsMgr),
		TopicReader: func(tc sources.TopicConfig) sources.TopicReader { return sources.NewTopicReader(tc) },
		States:      jobstate.NewDBFactory(store),
		Compression: compression.NewDBStateFactory(store, flake),
	})

	if err := createConfiguredJobs(ctx, mgr, cfg.Jobs); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if cerr := mgr.Close(shutdownCtx); cerr != nil {
			slog.Error("Shutdown after failed startup", slog.Any("error", cerr))
		}
		return err
	}

	slog.Info("Ingestion running", slog.Int("jobs", len(mgr.JobIDs())))
	<-ctx.Done()
	slog.Info("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return mgr.Close(shutdownCtx)
}

func createConfiguredJobs(ctx context.Context, mgr *ingest.Manager, jobs config.JobsConfig) error {
	for _, jc := range jobs.Scanners {
		if _, err := mgr.CreateScannerJob(ctx, jc); err != nil {
			return fmt.Errorf("creating scanner job for bucket %q: %w", jc.Bucket, err)
		}
	}
	for _, jc := range jobs.Queues {
		if _, err := mgr.CreateQueueJob(ctx, jc); err != nil {
			return fmt.Errorf("creating queue job for %q: %w", jc.QueueURL, err)
		}
	}
	for _, jc := range jobs.Topics {
		if _, err := mgr.CreateTopicJob(ctx, jc); err != nil {
			return fmt.Errorf("creating topic job for group %q: %w", jc.GroupID, err)
		}
	}
	return nil
}

func s3Provider(awsMgr *awsclient.Manager) ingest.S3Provider {
	return func(ctx context.Context, region, endpointURL string) (sources.S3ListAPI, error) {
		opts := []awsclient.S3Option{awsclient.WithRegion(region)}
		if endpointURL != "" {
			opts = append(opts, awsclient.WithEndpoint(endpointURL), awsclient.WithPathStyle())
		}
		client, err := awsMgr.GetS3(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return client.Client, nil
	}
}

func sqsProvider(awsMgr *awsclient.Manager) ingest.SQSProvider {
	return func(ctx context.Context, region, endpointURL string) (sources.SQSAPI, error) {
		opts := []awsclient.SQSOption{awsclient.WithSQSRegion(region)}
		if endpointURL != "" {
			opts = append(opts, awsclient.WithSQSEndpoint(endpointURL))
		}
		client, err := awsMgr.GetSQS(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return client.Client, nil
	}
}
