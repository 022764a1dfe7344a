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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticehq/sunrunner/internal/cluster/clustertest"
	"github.com/solsticehq/sunrunner/internal/notify"
)

func newTestRunner(fake *clustertest.Fake, notifier *captureNotifier) *Runner {
	return NewRunner(
		NewScanner(fake, notifier, ScannerOptions{AccountID: "123456789012"}),
		NewOrchestrator(fake, notifier),
		notifier,
	)
}

func TestHandleStep_BadRequests(t *testing.T) {
	notifier := &captureNotifier{}
	runner := newTestRunner(clustertest.New(), notifier)

	tests := []struct {
		name    string
		payload string
		message string
	}{
		{"unparseable payload", `{"step":`, "unparseable step request"},
		{"unknown step", `{"step":"explode_cluster"}`, `invalid or missing step in request: {"step":"explode_cluster"}`},
		{"missing step", `{"index":"telemetry-data"}`, "invalid or missing step"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.HandleStep(context.Background(), []byte(tt.payload))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Message, tt.message)
		})
	}

	// Requests that never reached a step never page anyone.
	assert.Zero(t, notifier.attempts)
}

func TestHandleStep_FindLargeIndexes(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{SizeBytes: GBToBytes(31)})
	fake.AddIndex("tiny-logs", clustertest.Index{SizeBytes: 20 << 10})
	runner := newTestRunner(fake, &captureNotifier{})

	out, err := runner.HandleStep(context.Background(), []byte(`{"step":"find_large_indexes"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `["telemetry-data"]`, string(out))

	// An execution-input override replaces the configured threshold.
	out, err = runner.HandleStep(context.Background(),
		[]byte(`{"step":"find_large_indexes","execution_input":{"threshold_override":0.00001}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `["telemetry-data","tiny-logs"]`, string(out))
}

func TestHandleStep_FindLargeIndexes_EmptyResult(t *testing.T) {
	runner := newTestRunner(clustertest.New(), &captureNotifier{})

	out, err := runner.HandleStep(context.Background(), []byte(`{"step":"find_large_indexes"}`))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestHandleStep_FullArchivalChain(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{Docs: 500, SizeBytes: 20 << 10})
	fake.PollsUntilDone = 1
	notifier := &captureNotifier{}
	runner := newTestRunner(fake, notifier)
	ctx := context.Background()

	out, err := runner.HandleStep(ctx,
		[]byte(`{"step":"find_large_indexes","execution_input":{"threshold_override":0.00001}}`))
	require.NoError(t, err)
	var candidates []string
	require.NoError(t, json.Unmarshal(out, &candidates))
	require.Equal(t, []string{"telemetry-data"}, candidates)

	out, err = runner.HandleStep(ctx, []byte(`{"step":"kickoff_archival","index":"telemetry-data"}`))
	require.NoError(t, err)
	var state TaskState
	require.NoError(t, json.Unmarshal(out, &state))
	assert.Equal(t, StatusInProgress, state.Status)
	assert.Equal(t, StepPollReindexTask, state.Step)

	// Each response is the next request: the scheduler just round-trips it.
	out, err = runner.HandleStep(ctx, out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &state))
	assert.Equal(t, StatusInProgress, state.Status)

	out, err = runner.HandleStep(ctx, out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &state))
	require.Equal(t, StatusCompleted, state.Status)
	require.Equal(t, StepCleanupArchival, state.Step)

	out, err = runner.HandleStep(ctx, out)
	require.NoError(t, err)
	var result CleanupResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "telemetry-data", result.Index)
	assert.Equal(t, state.NewIndex, result.NewIndex)
	assert.Equal(t, StatusArchived, result.Status)

	_, ok := fake.Index("telemetry-data")
	assert.False(t, ok)
	docs, err := fake.Count(ctx, "telemetry-data-combined")
	require.NoError(t, err)
	assert.Equal(t, int64(500), docs)

	// One large-index page from the scan, one completion notice.
	notices := notifier.all()
	require.Len(t, notices, 2)
	assert.Equal(t, notify.CategoryLargeIndex, notices[0].category)
	assert.Equal(t, notify.CategoryGeneral, notices[1].category)
}

func TestHandleStep_AlertsOnStepFailure(t *testing.T) {
	fake := clustertest.New()
	notifier := &captureNotifier{}
	runner := newTestRunner(fake, notifier)

	payload := []byte(`{"step":"kickoff_archival","index":"ghost"}`)
	_, err := runner.HandleStep(context.Background(), payload)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, notify.CategoryGeneral, notices[0].category)
	assert.Equal(t, "General Alert", notices[0].subject)

	content, ok := notices[0].content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Failure in kickoff_archival", content["msg"])
	assert.Equal(t, "index ghost does not exist", content["error"])
	assert.Equal(t, json.RawMessage(payload), content["request"])
	assert.NotContains(t, content, "orig_index")
}

func TestHandleStep_AlertCarriesArchivalDetails(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{})
	fake.FailWith("SetReadOnly", errors.New("cluster_block_exception"))
	notifier := &captureNotifier{}
	runner := newTestRunner(fake, notifier)

	_, err := runner.HandleStep(context.Background(), []byte(`{"step":"kickoff_archival","index":"telemetry-data"}`))
	require.Error(t, err)

	notices := notifier.all()
	require.Len(t, notices, 1)
	content, ok := notices[0].content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Failure in kickoff_archival", content["msg"])
	assert.Equal(t, "Failed to set index telemetry-data to read-only mode. Aborting archival", content["error"])
	assert.Equal(t, "telemetry-data", content["orig_index"])
	assert.Equal(t, "", content["new_index"])
	assert.Equal(t, "cluster_block_exception", content["original_error"])
}

func TestHandleStep_AlertOmitsAbsentCause(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{Docs: 500})
	fake.LoseDocs = 2
	notifier := &captureNotifier{}
	runner := newTestRunner(fake, notifier)
	orch := NewOrchestrator(fake, notifier)

	state := runToCompleted(t, orch, "telemetry-data")
	payload, err := json.Marshal(StepRequest{
		Step:     StepCleanupArchival,
		Index:    state.Index,
		NewIndex: state.NewIndex,
	})
	require.NoError(t, err)

	_, err = runner.HandleStep(context.Background(), payload)
	require.Error(t, err)

	notices := notifier.all()
	require.Len(t, notices, 1)
	content, ok := notices[0].content.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Some documents were lost during reindexing. Aborting archival", content["error"])
	assert.NotContains(t, content, "original_error")
}

func TestHandleStep_AlertFailureNeverMasksStepError(t *testing.T) {
	fake := clustertest.New()
	fake.AddIndex("telemetry-data", clustertest.Index{})
	boom := errors.New("cluster_block_exception")
	fake.FailWith("SetReadOnly", boom)
	notifier := &captureNotifier{}
	notifier.fail(errors.New("sns unavailable"))
	runner := newTestRunner(fake, notifier)

	_, err := runner.HandleStep(context.Background(), []byte(`{"step":"kickoff_archival","index":"telemetry-data"}`))
	var aerr *ArchivalError
	require.ErrorAs(t, err, &aerr)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, notifier.attempts)
	assert.Empty(t, notifier.all())
}
