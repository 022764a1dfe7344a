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

package archive

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/solsticehq/sunrunner/internal/cluster"
	"github.com/solsticehq/sunrunner/internal/logctx"
	"github.com/solsticehq/sunrunner/internal/notify"
)

const (
	bytesPerGB = int64(1 << 30)

	defaultThresholdGB = 30.0
	defaultAlertTTL    = 20 * time.Hour
)

// archivedSuffix matches the MMDDYYYY suffix a destination index carries.
var archivedSuffix = regexp.MustCompile(`-\d{8}$`)

// GBToBytes converts a GB-denominated threshold to bytes.
func GBToBytes(gb float64) int64 {
	return int64(gb * float64(bytesPerGB))
}

// ScannerOptions tune candidate discovery.
type ScannerOptions struct {
	// ThresholdGB is the fallback size cutoff when a scan carries no
	// override. Defaults to 30.
	ThresholdGB float64
	// AccountID is stamped into large-index alerts.
	AccountID string
	// AlertTTL suppresses repeat alerts for an index seen again within the
	// window, so a daily sweep does not re-page while a migration is still
	// running. Defaults to 20 hours.
	AlertTTL time.Duration
}

// Scanner finds indexes whose store size crossed the archival threshold.
type Scanner struct {
	cluster   cluster.Client
	notifier  notify.Notifier
	threshold float64
	accountID string
	alerted   *ttlcache.Cache[string, struct{}]
}

func NewScanner(c cluster.Client, notifier notify.Notifier, opts ScannerOptions) *Scanner {
	if opts.ThresholdGB <= 0 {
		opts.ThresholdGB = defaultThresholdGB
	}
	if opts.AlertTTL <= 0 {
		opts.AlertTTL = defaultAlertTTL
	}

	alerted := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](opts.AlertTTL),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go alerted.Start()

	return &Scanner{
		cluster:   c,
		notifier:  notifier,
		threshold: opts.ThresholdGB,
		accountID: opts.AccountID,
		alerted:   alerted,
	}
}

// FindLargeIndexes returns the names of indexes at or over the threshold, in
// cluster listing order. Archived generations (trailing date suffix) and
// system indexes (leading dot) are excluded regardless of size; candidates
// get a refresh so just-written data is visible before migration starts. A
// non-positive threshold falls back to the configured default.
func (s *Scanner) FindLargeIndexes(ctx context.Context, thresholdBytes int64) ([]string, error) {
	if thresholdBytes <= 0 {
		thresholdBytes = GBToBytes(s.threshold)
	}
	ll := logctx.FromContext(ctx)
	ll.Info("Scanning for oversized indexes", slog.Int64("threshold_bytes", thresholdBytes))

	indexes, err := s.cluster.ListIndices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indices: %w", err)
	}

	var large []string
	for _, idx := range indexes {
		if archivedSuffix.MatchString(idx.Name) {
			ll.Debug("Skipping archived index", slog.String("index", idx.Name))
			continue
		}
		if strings.HasPrefix(idx.Name, ".") {
			ll.Debug("Skipping system index", slog.String("index", idx.Name))
			continue
		}
		if idx.SizeBytes < thresholdBytes {
			continue
		}

		if err := s.cluster.Refresh(ctx, idx.Name); err != nil {
			return nil, fmt.Errorf("refreshing index %s: %w", idx.Name, err)
		}

		ll.Info("Index identified for archival",
			slog.String("index", idx.Name),
			slog.Int64("index_size_bytes", idx.SizeBytes),
			slog.Int64("threshold_bytes", thresholdBytes))

		s.alertLargeIndex(ctx, idx, thresholdBytes)
		candidatesCounter.Add(ctx, 1)
		candidateBytes.Add(ctx, idx.SizeBytes)
		large = append(large, idx.Name)
	}
	return large, nil
}

// alertLargeIndex pages once per index per TTL window. Alert delivery
// problems never fail the scan.
func (s *Scanner) alertLargeIndex(ctx context.Context, idx cluster.IndexInfo, thresholdBytes int64) {
	if s.alerted.Get(idx.Name) != nil {
		return
	}

	alert := notify.LargeIndexAlert{
		AccountID:   s.accountID,
		Index:       idx.Name,
		SizeGB:      float64(idx.SizeBytes) / float64(bytesPerGB),
		ThresholdGB: float64(thresholdBytes) / float64(bytesPerGB),
		StartedAt:   time.Now(),
	}
	if err := s.notifier.Notify(ctx, notify.CategoryLargeIndex, notify.LargeIndexSubject, alert.Content()); err != nil {
		logctx.FromContext(ctx).Warn("Failed to send large index alert",
			slog.String("index", idx.Name),
			slog.Any("error", err))
		return
	}
	s.alerted.Set(idx.Name, struct{}{}, ttlcache.DefaultTTL)
}
