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

// Package driver schedules archival step chains. Both schedulers speak the
// step protocol: each step's JSON response is fed back in as the next
// request. Driver runs chains in-process for the cron sweep; QueueRunner
// round-trips them through SQS so a fleet of runners can share the work.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/solsticehq/sunrunner/internal/archive"
	"github.com/solsticehq/sunrunner/internal/idgen"
	"github.com/solsticehq/sunrunner/internal/logctx"
)

const (
	defaultConcurrency  = 4
	defaultPollInterval = 150 * time.Second
	defaultMaxWait      = 12 * time.Hour
)

// Options tune a sweep run.
type Options struct {
	// Concurrency caps how many indexes migrate at once. Defaults to 4.
	Concurrency int
	// PollInterval is the pause between reindex task probes. Defaults to
	// 2m30s.
	PollInterval time.Duration
	// MaxWait bounds one index's whole migration. Defaults to 12h.
	MaxWait time.Duration
	// ThresholdGB overrides the scanner's configured threshold when
	// positive.
	ThresholdGB float64
}

// Driver runs a full sweep in-process: one scan, then a bounded fan-out of
// per-index step chains. One index failing never stops the others; the
// failures come back aggregated.
type Driver struct {
	runner    *archive.Runner
	options   Options
	threshold *archive.ExecutionInput
}

func NewDriver(runner *archive.Runner, opts Options) *Driver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}

	var input *archive.ExecutionInput
	if opts.ThresholdGB > 0 {
		input = &archive.ExecutionInput{ThresholdOverride: &opts.ThresholdGB}
	}
	return &Driver{runner: runner, options: opts, threshold: input}
}

// Run performs one sweep: scan for oversized indexes and migrate each one
// through kickoff, polling, and cleanup. Every log line of the sweep carries
// a shared run_id so one run's indexes can be pulled out of interleaved logs.
func (d *Driver) Run(ctx context.Context) error {
	ctx = logctx.WithAttrs(ctx, slog.String("run_id", idgen.NextBase32ID()))
	ll := logctx.FromContext(ctx)

	candidates, err := d.findCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		ll.Info("No indexes over threshold")
		return nil
	}
	ll.Info("Starting archival sweep",
		slog.Int("candidates", len(candidates)),
		slog.Int("concurrency", d.options.Concurrency))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs *multierror.Error
	)
	g.SetLimit(d.options.Concurrency)
	for _, index := range candidates {
		g.Go(func() error {
			if err := d.ArchiveIndex(ctx, index); err != nil {
				logctx.FromContext(ctx).Error("Archival failed",
					slog.String("index", index),
					slog.Any("error", err))
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("archiving %s: %w", index, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	ll.Info("Archival sweep finished", slog.Int("archived", len(candidates)))
	return nil
}

func (d *Driver) findCandidates(ctx context.Context) ([]string, error) {
	req, err := json.Marshal(archive.StepRequest{
		Step:           archive.StepFindLargeIndexes,
		ExecutionInput: d.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding scan request: %w", err)
	}
	out, err := d.runner.HandleStep(ctx, req)
	if err != nil {
		return nil, err
	}
	var candidates []string
	if err := json.Unmarshal(out, &candidates); err != nil {
		return nil, fmt.Errorf("decoding scan response: %w", err)
	}
	return candidates, nil
}

// ArchiveIndex walks one index through the chain, feeding each response back
// in as the next request until cleanup returns. The whole migration is bounded
// by MaxWait.
func (d *Driver) ArchiveIndex(ctx context.Context, index string) error {
	ctx, cancel := context.WithTimeout(ctx, d.options.MaxWait)
	defer cancel()
	ctx = logctx.WithAttrs(ctx, slog.String("index", index))

	req, err := json.Marshal(archive.StepRequest{Step: archive.StepKickoffArchival, Index: index})
	if err != nil {
		return fmt.Errorf("encoding kickoff request: %w", err)
	}
	out, err := d.runner.HandleStep(ctx, req)
	if err != nil {
		return err
	}

	var state archive.TaskState
	if err := json.Unmarshal(out, &state); err != nil {
		return fmt.Errorf("decoding kickoff response: %w", err)
	}
	for state.Status != archive.StatusCompleted {
		if err := sleepCtx(ctx, d.options.PollInterval); err != nil {
			return fmt.Errorf("waiting on reindex task %s: %w", state.TaskID, err)
		}
		if out, err = d.runner.HandleStep(ctx, out); err != nil {
			return err
		}
		if err := json.Unmarshal(out, &state); err != nil {
			return fmt.Errorf("decoding poll response: %w", err)
		}
	}

	if out, err = d.runner.HandleStep(ctx, out); err != nil {
		return err
	}
	var result archive.CleanupResult
	if err := json.Unmarshal(out, &result); err != nil {
		return fmt.Errorf("decoding cleanup response: %w", err)
	}
	logctx.FromContext(ctx).Info("Archival finished",
		slog.String("new_index", result.NewIndex),
		slog.String("status", string(result.Status)))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
