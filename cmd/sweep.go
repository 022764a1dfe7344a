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
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/solsticehq/sunrunner/internal/driver"
	"github.com/solsticehq/sunrunner/internal/healthcheck"
)

func init() {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the scheduled archival sweep service",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "sunrunner-sweep"
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
			drv := driver.NewDriver(svcs.runner, svcs.driverOptions(0))

			sweep := func() {
				if err := drv.Run(doneCtx); err != nil {
					slog.Error("Archival sweep finished with failures", slog.Any("error", err))
				}
			}

			scheduler, err := gocron.NewScheduler()
			if err != nil {
				return fmt.Errorf("creating scheduler: %w", err)
			}
			// A sweep that outlives its interval must not overlap the next
			// one: the second kickoff would trip over the first's
			// half-migrated indexes.
			if _, err := scheduler.NewJob(
				gocron.CronJob(svcs.cfg.Sweep.Schedule, true),
				gocron.NewTask(sweep),
				gocron.WithName("archival-sweep"),
				gocron.WithSingletonMode(gocron.LimitModeReschedule),
			); err != nil {
				return fmt.Errorf("scheduling archival sweep: %w", err)
			}
			scheduler.Start()
			defer func() {
				if err := scheduler.Shutdown(); err != nil {
					slog.Error("Error shutting down scheduler", slog.Any("error", err))
				}
			}()

			healthServer.SetReady(true)
			slog.Info("Sweep service started",
				slog.String("schedule", svcs.cfg.Sweep.Schedule))

			if runNow || svcs.cfg.Sweep.RunOnStart {
				sweep()
			}

			<-doneCtx.Done()
			slog.Info("Shutting down sweep service")
			return nil
		},
	}
	cmd.Flags().BoolVar(&runNow, "run-now", false, "run one sweep immediately on startup")

	rootCmd.AddCommand(cmd)
}
