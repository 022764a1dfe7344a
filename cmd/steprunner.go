// Copyright (C) 2025-2026 SolsticeHQ, Inc
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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/solsticehq/sunrunner/internal/awsclient"
	"github.com/solsticehq/sunrunner/internal/driver"
	"github.com/solsticehq/sunrunner/internal/healthcheck"
)

func init() {
	cmd := &cobra.Command{
		Use:   "step-runner",
		Short: "Run archival steps from the SQS queue",
		Long: `step-runner consumes step requests from the configured SQS queue, runs
each step against the cluster, and enqueues the response as the next request.
Scheduling is left to whatever feeds the queue, typically an EventBridge rule
sending the find step on a cron.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "sunrunner-step-runner"
			doneCtx, doneFx, err := setupTelemetry(servicename)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}

			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			healthConfig := healthcheck.GetConfigFromEnv()
			healthServer := healthcheck.NewServer(healthConfig)

			go func() {
				if err := healthServer.Start(doneCtx); err != nil {
					slog.Error("Health check server stopped", slog.Any("error", err))
				}
			}()

			healthServer.SetStatus(healthcheck.StatusHealthy)

			svcs, err := buildServices(doneCtx)
			if err != nil {
				return err
			}
			if svcs.cfg.Queue.URL == "" {
				return errors.New("queue URL is required, set SUNRUNNER_QUEUE_URL")
			}

			sqsClient, err := svcs.aws.GetSQS(doneCtx,
				awsclient.WithSQSRole(svcs.cfg.Queue.RoleARN),
				awsclient.WithSQSRegion(svcs.cfg.Queue.Region))
			if err != nil {
				return fmt.Errorf("creating SQS client: %w", err)
			}

			qr, err := driver.NewQueueRunner(sqsClient.Client, svcs.runner, driver.QueueOptions{
				QueueURL:          svcs.cfg.Queue.URL,
				PollInterval:      svcs.cfg.Archival.PollInterval,
				MaxMessages:       svcs.cfg.Queue.MaxMessages,
				WaitTime:          svcs.cfg.Queue.WaitTime,
				VisibilityTimeout: svcs.cfg.Queue.VisibilityTimeout,
			})
			if err != nil {
				return fmt.Errorf("creating queue runner: %w", err)
			}

			healthServer.SetReady(true)
			slog.Info("Step runner started", slog.String("queue", svcs.cfg.Queue.URL))

			return qr.Run(doneCtx)
		},
	}

	rootCmd.AddCommand(cmd)
}
