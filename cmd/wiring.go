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
	"context"
	"fmt"
	"log/slog"

	"github.com/solsticehq/sunrunner/config"
	"github.com/solsticehq/sunrunner/internal/archive"
	"github.com/solsticehq/sunrunner/internal/awsclient"
	"github.com/solsticehq/sunrunner/internal/cluster"
	"github.com/solsticehq/sunrunner/internal/driver"
	"github.com/solsticehq/sunrunner/internal/notify"
)

// services holds the wired-up dependencies shared by every command.
type services struct {
	cfg      *config.Config
	aws      *awsclient.Manager // nil when nothing AWS-backed is configured
	cluster  cluster.Client
	notifier notify.Notifier
	runner   *archive.Runner
}

// buildServices loads configuration and constructs the cluster client,
// notifier, and step runner. The AWS manager is only created when some
// configured piece needs credentials (SigV4 signing, SNS alerts, or the
// SQS queue).
func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	s := &services{cfg: cfg}

	if cfg.OpenSearch.SigV4 || cfg.Notify.TopicARN != "" || cfg.Queue.URL != "" {
		mgr, err := awsclient.NewManager(ctx,
			awsclient.WithAssumeRoleSessionName("sunrunner"))
		if err != nil {
			return nil, fmt.Errorf("creating AWS client manager: %w", err)
		}
		s.aws = mgr
	}

	var clusterOpts []cluster.Option
	if cfg.OpenSearch.SigV4 {
		awsCfg := s.aws.ConfigFor(cfg.OpenSearch.Region, cfg.OpenSearch.RoleARN)
		clusterOpts = append(clusterOpts, cluster.WithAWSConfig(awsCfg))
	}
	cl, err := cluster.NewOpenSearch(&cfg.OpenSearch, clusterOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenSearch client: %w", err)
	}
	s.cluster = cl

	s.notifier = notify.LogNotifier{}
	if cfg.Notify.TopicARN != "" {
		snsClient, err := s.aws.GetSNS(ctx,
			awsclient.WithSNSRole(cfg.Notify.RoleARN),
			awsclient.WithSNSRegion(cfg.Notify.Region))
		if err != nil {
			return nil, fmt.Errorf("creating SNS client: %w", err)
		}
		s.notifier = notify.NewSNSNotifier(snsClient.Client, cfg.Notify.TopicARN)
	}

	var accountID string
	if s.aws != nil {
		accountID, err = s.aws.AccountID(ctx)
		if err != nil {
			// Alerts degrade to an empty account field; archival itself
			// does not need the caller identity.
			slog.Warn("Could not resolve AWS account id for alerts", slog.Any("error", err))
			accountID = ""
		}
	}

	scanner := archive.NewScanner(s.cluster, s.notifier, archive.ScannerOptions{
		ThresholdGB: cfg.Archival.ThresholdGB,
		AccountID:   accountID,
		AlertTTL:    cfg.Notify.DedupTTL,
	})
	orchestrator := archive.NewOrchestrator(s.cluster, s.notifier)
	s.runner = archive.NewRunner(scanner, orchestrator, s.notifier)

	return s, nil
}

// driverOptions maps the archival config onto driver options. The threshold
// is left to the scanner's configured default unless a command passes an
// explicit override.
func (s *services) driverOptions(thresholdGB float64) driver.Options {
	return driver.Options{
		Concurrency:  s.cfg.Archival.Concurrency,
		PollInterval: s.cfg.Archival.PollInterval,
		MaxWait:      s.cfg.Archival.MaxWait,
		ThresholdGB:  thresholdGB,
	}
}
