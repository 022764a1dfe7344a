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

package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticehq/sunrunner/internal/archive"
	"github.com/solsticehq/sunrunner/internal/cluster/clustertest"
	"github.com/solsticehq/sunrunner/internal/notify"
)

func newRunner(fake *clustertest.Fake) *archive.Runner {
	notifier := notify.LogNotifier{}
	return archive.NewRunner(
		archive.NewScanner(fake, notifier, archive.ScannerOptions{}),
		archive.NewOrchestrator(fake, notifier),
		notifier,
	)
}

func fastOptions() Options {
	return Options{
		Concurrency:  2,
		PollInterval: time.Millisecond,
		MaxWait:      time.Minute,
	}
}

func TestDriver_Run(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{Docs: 500, SizeBytes: archive.GBToBytes(31)})
	fake.AddIndex("event-stream", clustertest.Index{Docs: 200, SizeBytes: archive.GBToBytes(45)})
	fake.AddIndex("small-logs", clustertest.Index{Docs: 10, SizeBytes: archive.GBToBytes(1)})
	fake.PollsUntilDone = 2

	d := NewDriver(newRunner(fake), fastOptions())
	require.NoError(t, d.Run(context.Background()))

	ctx := context.Background()
	for _, index := range []string{"telemetry-data", "event-stream"} {
		_, ok := fake.Index(index)
		assert.False(t, ok, "%s should be deleted", index)
		aliased, err := fake.AliasExists(ctx, index+"-combined")
		require.NoError(t, err)
		assert.True(t, aliased)
	}
	docs, err := fake.Count(ctx, "telemetry-data-combined")
	require.NoError(t, err)
	assert.Equal(t, int64(500), docs)
	docs, err = fake.Count(ctx, "event-stream-combined")
	require.NoError(t, err)
	assert.Equal(t, int64(200), docs)

	_, ok := fake.Index("small-logs")
	assert.True(t, ok, "an index under the threshold stays put")
}

func TestDriver_Run_NoCandidates(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("small-logs", clustertest.Index{SizeBytes: archive.GBToBytes(1)})

	d := NewDriver(newRunner(fake), fastOptions())
	require.NoError(t, d.Run(context.Background()))

	_, ok := fake.Index("small-logs")
	assert.True(t, ok)
}

func TestDriver_Run_OneFailureDoesNotStopOthers(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{Docs: 500, SizeBytes: archive.GBToBytes(31)})
	fake.AddIndex("event-stream", clustertest.Index{Docs: 200, SizeBytes: archive.GBToBytes(45)})
	// Today's destination for event-stream is already taken, so its kickoff
	// fails while telemetry-data proceeds.
	fake.AddIndex(archive.DestinationName("event-stream", time.Now()), clustertest.Index{})

	d := NewDriver(newRunner(fake), fastOptions())
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiving event-stream")
	assert.Contains(t, err.Error(), "already exists")

	_, ok := fake.Index("telemetry-data")
	assert.False(t, ok, "the healthy migration still runs to completion")
	_, ok = fake.Index("event-stream")
	assert.True(t, ok, "the failed one is left alone")
}

func TestDriver_Run_MaxWaitBoundsMigration(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{Docs: 500, SizeBytes: archive.GBToBytes(31)})
	fake.PollsUntilDone = 100000

	opts := fastOptions()
	opts.MaxWait = 25 * time.Millisecond
	d := NewDriver(newRunner(fake), opts)

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting on reindex task")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDriver_Run_ThresholdOverride(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("tiny-logs", clustertest.Index{Docs: 5, SizeBytes: 20 << 10})

	opts := fastOptions()
	opts.ThresholdGB = 0.00001
	d := NewDriver(newRunner(fake), opts)
	require.NoError(t, d.Run(context.Background()))

	_, ok := fake.Index("tiny-logs")
	assert.False(t, ok)
}

func TestDriver_ArchiveIndex_IgnoresThreshold(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("small-logs", clustertest.Index{Docs: 12, SizeBytes: archive.GBToBytes(1)})

	d := NewDriver(newRunner(fake), fastOptions())
	require.NoError(t, d.ArchiveIndex(context.Background(), "small-logs"))

	_, ok := fake.Index("small-logs")
	assert.False(t, ok, "source deleted after archival")
	dest, ok := fake.Index(archive.DestinationName("small-logs", time.Now()))
	require.True(t, ok)
	assert.Equal(t, int64(12), dest.Docs)
}
