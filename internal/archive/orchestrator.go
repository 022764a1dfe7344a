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
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/solsticehq/sunrunner/internal/cluster"
	"github.com/solsticehq/sunrunner/internal/logctx"
	"github.com/solsticehq/sunrunner/internal/notify"
)

const (
	// destDateFormat is the UTC date suffix of a destination index
	// (MMDDYYYY). One destination per source per calendar day.
	destDateFormat = "01022006"

	// maxReindexSlices caps reindex parallelism regardless of shard count.
	maxReindexSlices = 64

	// combinedAliasSuffix names the alias spanning all generations of an
	// archived index.
	combinedAliasSuffix = "-combined"

	generalSubject = "General Alert"
)

// DestinationName returns the archive index name for a source on the given
// day.
func DestinationName(index string, now time.Time) string {
	return index + "-" + now.UTC().Format(destDateFormat)
}

// CombinedAlias returns the alias name spanning all generations of an index.
func CombinedAlias(index string) string {
	return index + combinedAliasSuffix
}

// Orchestrator drives one index through archival: block writes, copy into a
// dated destination, verify, swap in the combined alias, delete the source.
// Each step is independently invocable so an external scheduler can persist
// the TaskState between them.
type Orchestrator struct {
	cluster  cluster.Client
	notifier notify.Notifier
}

func NewOrchestrator(c cluster.Client, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{cluster: c, notifier: notifier}
}

// Kickoff starts the archival of one index: checks preconditions, blocks
// writes on the source, creates the destination from the source's sanitized
// mapping and settings, and launches the async sliced reindex. The returned
// state carries the task id to poll. Failures after the write block run the
// step's compensation before propagating.
func (o *Orchestrator) Kickoff(ctx context.Context, index string) (TaskState, error) {
	if index == "" {
		return TaskState{}, &ValidationError{Message: "missing index name in request"}
	}

	exists, err := o.cluster.Exists(ctx, index)
	if err != nil {
		return TaskState{}, fmt.Errorf("checking index %s: %w", index, err)
	}
	if !exists {
		return TaskState{}, &ValidationError{Message: fmt.Sprintf("index %s does not exist", index)}
	}

	newIndex := DestinationName(index, time.Now())
	exists, err = o.cluster.Exists(ctx, newIndex)
	if err != nil {
		return TaskState{}, fmt.Errorf("checking index %s: %w", newIndex, err)
	}
	if exists {
		return TaskState{}, &ValidationError{Message: fmt.Sprintf("index %s already exists", newIndex)}
	}

	ctx = logctx.WithAttrs(ctx, slog.String("index", index), slog.String("new_index", newIndex))
	ll := logctx.FromContext(ctx)

	if err := o.cluster.SetReadOnly(ctx, index, true); err != nil {
		return TaskState{}, &ArchivalError{
			Message: fmt.Sprintf("Failed to set index %s to read-only mode. Aborting archival", index),
			Index:   index,
			Err:     err,
		}
	}
	ll.Info("Set source index to read-only mode")

	mapping, settings, err := o.snapshotSource(ctx, index)
	if err != nil {
		return TaskState{}, o.compensateUnblock(ctx, &ArchivalError{
			Message: fmt.Sprintf("Failed to retrieve mapping or settings for index %s. Aborting archival", index),
			Index:   index,
			Err:     err,
		})
	}

	if err := o.cluster.CreateIndex(ctx, newIndex, NewSettingsSnapshot(settings).Sanitized(), mapping); err != nil {
		return TaskState{}, o.compensateUnblock(ctx, &ArchivalError{
			Message:  fmt.Sprintf("Failed to create new index %s with original mapping and updated settings. Aborting archival", newIndex),
			Index:    index,
			NewIndex: newIndex,
			Err:      err,
		})
	}
	ll.Info("Created destination index with original mapping and sanitized settings")

	taskID, err := o.startReindex(ctx, index, newIndex)
	if err != nil {
		return TaskState{}, o.compensateReindexFailure(ctx, err, index, newIndex)
	}

	return TaskState{
		Index:    index,
		NewIndex: newIndex,
		TaskID:   taskID,
		Status:   StatusInProgress,
		Step:     StepPollReindexTask,
	}, nil
}

func (o *Orchestrator) snapshotSource(ctx context.Context, index string) (mapping []byte, settings cluster.Settings, err error) {
	mapping, err = o.cluster.GetMapping(ctx, index)
	if err != nil {
		return nil, nil, err
	}
	settings, err = o.cluster.GetSettings(ctx, index)
	if err != nil {
		return nil, nil, err
	}
	return mapping, settings, nil
}

// startReindex launches the async copy, sliced by the source's primary shard
// count so parallelism follows index layout without overloading the cluster.
func (o *Orchestrator) startReindex(ctx context.Context, index, newIndex string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &ArchivalError{
			Message:  fmt.Sprintf("Failed to reindex %s into %s. Aborting archival", index, newIndex),
			Index:    index,
			NewIndex: newIndex,
			Err:      err,
		}
	}

	settings, err := o.cluster.GetSettings(ctx, index)
	if err != nil {
		return fail(err)
	}
	shards, err := NewSettingsSnapshot(settings).ShardCount()
	if err != nil {
		return fail(err)
	}
	slices := min(2*shards, maxReindexSlices)

	taskID, err := o.cluster.ReindexAsync(ctx, index, newIndex, slices)
	if err != nil {
		return fail(err)
	}

	logctx.FromContext(ctx).Info("Started reindex",
		slog.String("task_id", taskID),
		slog.Int("slices", slices))
	return taskID, nil
}

// compensateUnblock restores writes on the source after a kickoff failure
// that happened before the reindex started. The causal error is returned;
// an unblock failure is escalated instead, carrying the cause in its chain.
func (o *Orchestrator) compensateUnblock(ctx context.Context, cause *ArchivalError) error {
	if err := o.cluster.SetReadOnly(ctx, cause.Index, false); err != nil {
		return &ArchivalError{
			Message:  fmt.Sprintf("Failed to remove write block on index %s after failed archival", cause.Index),
			Index:    cause.Index,
			NewIndex: cause.NewIndex,
			Err:      multierror.Append(err, cause),
		}
	}
	logctx.FromContext(ctx).Info("Removed write block after failed kickoff")
	return cause
}

// compensateReindexFailure tears down a kickoff whose reindex never started:
// the destination is deleted, then the source is unblocked. A compensation
// failure is escalated with both index names and the causal error so an
// operator can intervene by hand.
func (o *Orchestrator) compensateReindexFailure(ctx context.Context, cause error, index, newIndex string) error {
	ll := logctx.FromContext(ctx)
	ll.Error("Failed to start reindex, tearing down destination", slog.Any("error", cause))

	if err := o.cluster.DeleteIndex(ctx, newIndex); err != nil {
		return &ArchivalError{
			Message:  fmt.Sprintf("Failed to delete index %s after failed archival", newIndex),
			Index:    index,
			NewIndex: newIndex,
			Err:      multierror.Append(err, cause),
		}
	}
	ll.Info("Deleted destination index after failed reindex start")

	if err := o.cluster.SetReadOnly(ctx, index, false); err != nil {
		return &ArchivalError{
			Message:  fmt.Sprintf("Failed to remove write block on index %s after failed archival", index),
			Index:    index,
			NewIndex: newIndex,
			Err:      multierror.Append(err, cause),
		}
	}
	ll.Info("Removed write block after failed kickoff")

	return cause
}

// PollReindexTask probes the reindex task once. It never waits: the caller
// owns the cadence and re-invokes until the returned state moves to
// COMPLETED. Probe failures propagate untouched; re-invoking is safe since
// nothing here mutates the cluster.
func (o *Orchestrator) PollReindexTask(ctx context.Context, state TaskState) (TaskState, error) {
	if state.TaskID == "" {
		return TaskState{}, &ValidationError{Message: "missing task_id in task state"}
	}
	ctx = logctx.WithAttrs(ctx,
		slog.String("index", state.Index),
		slog.String("new_index", state.NewIndex),
		slog.String("task_id", state.TaskID))
	ll := logctx.FromContext(ctx)

	status, err := o.cluster.TaskStatus(ctx, state.TaskID)
	if err != nil {
		return TaskState{}, fmt.Errorf("getting task %s: %w", state.TaskID, err)
	}

	out := TaskState{
		Index:    state.Index,
		NewIndex: state.NewIndex,
		TaskID:   state.TaskID,
	}
	if !status.Completed {
		ll.Info("Reindex task not yet complete")
		out.Status = StatusInProgress
		out.Step = StepPollReindexTask
		return out, nil
	}

	if status.FailureReason != "" {
		// Completion drives the state machine; the count verification in
		// cleanup decides whether the copy is usable.
		ll.Warn("Reindex task completed with failures", slog.String("reason", status.FailureReason))
	}
	ll.Info("Reindex task completed")
	out.Status = StatusCompleted
	out.Step = StepCleanupArchival
	return out, nil
}

// CleanupArchival finalizes a completed reindex: verify no documents were
// lost, unblock the source, restore the replica count on the destination,
// delete the source, and ensure the combined alias spans every generation.
// A count mismatch is fatal and leaves the source untouched, since at that
// point it is the only intact copy.
func (o *Orchestrator) CleanupArchival(ctx context.Context, state TaskState) (CleanupResult, error) {
	index, newIndex := state.Index, state.NewIndex
	if index == "" || newIndex == "" {
		return CleanupResult{}, &ValidationError{Message: "missing index or new_index in task state"}
	}
	ctx = logctx.WithAttrs(ctx, slog.String("index", index), slog.String("new_index", newIndex))
	ll := logctx.FromContext(ctx)

	if err := o.cluster.Refresh(ctx, newIndex); err != nil {
		return CleanupResult{}, fmt.Errorf("refreshing index %s: %w", newIndex, err)
	}

	sourceDocs, err := o.cluster.Count(ctx, index)
	if err != nil {
		return CleanupResult{}, o.verificationFailed(index, newIndex, err)
	}
	destDocs, err := o.cluster.Count(ctx, newIndex)
	if err != nil {
		return CleanupResult{}, o.verificationFailed(index, newIndex, err)
	}
	if sourceDocs != destDocs {
		ll.Warn("Document counts differ after reindex",
			slog.Int64("source_docs", sourceDocs),
			slog.Int64("dest_docs", destDocs))
		return CleanupResult{}, &ArchivalError{
			Message:  "Some documents were lost during reindexing. Aborting archival",
			Index:    index,
			NewIndex: newIndex,
		}
	}
	ll.Info("Verified document counts match", slog.Int64("docs", destDocs))

	if err := o.cluster.SetReadOnly(ctx, index, false); err != nil {
		return CleanupResult{}, &ArchivalError{
			Message:  fmt.Sprintf("Failed to remove write block on index %s. Aborting archival", index),
			Index:    index,
			NewIndex: newIndex,
			Err:      err,
		}
	}
	ll.Info("Removed write block from source index")

	if err := o.restoreReplicas(ctx, index, newIndex); err != nil {
		return CleanupResult{}, &ArchivalError{
			Message:  fmt.Sprintf("Failed to add replicas to %s. Aborting archival", newIndex),
			Index:    index,
			NewIndex: newIndex,
			Err:      err,
		}
	}

	if err := o.cluster.DeleteIndex(ctx, index); err != nil {
		return CleanupResult{}, &ArchivalError{
			Message:  fmt.Sprintf("Failed to delete index %s after archival. Aborting archival", index),
			Index:    index,
			NewIndex: newIndex,
			Err:      err,
		}
	}
	ll.Info("Deleted source index")

	alias := CombinedAlias(index)
	action := cluster.AliasAction{Add: &cluster.AliasSpec{Index: index + "*", Alias: alias}}
	if err := o.cluster.UpdateAliases(ctx, action); err != nil {
		return CleanupResult{}, &ArchivalError{
			Message:  fmt.Sprintf("Failed to ensure index alias %s", alias),
			Index:    index,
			NewIndex: newIndex,
			Err:      err,
		}
	}
	ll.Info("Ensured combined alias over all generations", slog.String("alias", alias))

	// A completion notice that fails to send fails the step, even though
	// the data work is already done.
	content := map[string]string{
		"msg": fmt.Sprintf("Completed archival of index %s into %s", index, newIndex),
	}
	if err := o.notifier.Notify(ctx, notify.CategoryGeneral, generalSubject, content); err != nil {
		return CleanupResult{}, fmt.Errorf("sending archival completion notification: %w", err)
	}

	archivedDocs.Add(ctx, destDocs)
	ll.Info("Archival complete")
	return CleanupResult{Index: index, NewIndex: newIndex, Status: StatusArchived}, nil
}

// verificationFailed wraps a count-probe error. Counts that cannot be read
// are treated as failed verification rather than skipped: proceeding on
// unknown counts could delete the only good copy.
func (o *Orchestrator) verificationFailed(index, newIndex string, err error) error {
	return &ArchivalError{
		Message:  fmt.Sprintf("Failed to count documents while verifying %s against %s. Aborting archival", index, newIndex),
		Index:    index,
		NewIndex: newIndex,
		Err:      err,
	}
}

// restoreReplicas copies the replica count from the live source settings
// onto the destination, undoing the zero-replica speedup applied at kickoff.
func (o *Orchestrator) restoreReplicas(ctx context.Context, index, newIndex string) error {
	settings, err := o.cluster.GetSettings(ctx, index)
	if err != nil {
		return err
	}
	replicas, ok := NewSettingsSnapshot(settings).ReplicaCount()
	if !ok {
		return fmt.Errorf("settings for %s carry no number_of_replicas", index)
	}
	if err := o.cluster.PutSettings(ctx, newIndex, map[string]any{"number_of_replicas": replicas}); err != nil {
		return err
	}
	logctx.FromContext(ctx).Info("Restored replica count on destination", slog.String("replicas", replicas))
	return nil
}
