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
	"fmt"
	"log/slog"
	"time"

	"github.com/solsticehq/sunrunner/internal/logctx"
	"github.com/solsticehq/sunrunner/internal/notify"
)

// StepRequest is the wire form of one archival step invocation. The same
// shape flows through every step: a scheduler feeds each step's response
// back in as the next request.
type StepRequest struct {
	Step           Step            `json:"step"`
	Index          string          `json:"index,omitempty"`
	NewIndex       string          `json:"new_index,omitempty"`
	TaskID         string          `json:"task_id,omitempty"`
	Status         Status          `json:"status,omitempty"`
	ExecutionInput *ExecutionInput `json:"execution_input,omitempty"`
}

// ExecutionInput carries per-run overrides supplied by the scheduler.
type ExecutionInput struct {
	// ThresholdOverride replaces the configured scan threshold, in GB.
	ThresholdOverride *float64 `json:"threshold_override,omitempty"`
}

func (r StepRequest) taskState() TaskState {
	return TaskState{
		Index:    r.Index,
		NewIndex: r.NewIndex,
		TaskID:   r.TaskID,
		Status:   r.Status,
		Step:     r.Step,
	}
}

// Runner dispatches step requests to the scanner and orchestrator and owns
// the failure alerting around them.
type Runner struct {
	scanner      *Scanner
	orchestrator *Orchestrator
	notifier     notify.Notifier
}

func NewRunner(scanner *Scanner, orchestrator *Orchestrator, notifier notify.Notifier) *Runner {
	return &Runner{
		scanner:      scanner,
		orchestrator: orchestrator,
		notifier:     notifier,
	}
}

// HandleStep runs the step named in the JSON payload and returns the step's
// JSON response. Malformed payloads and unknown steps fail without alerting;
// failures inside a known step send a notification before propagating.
func (r *Runner) HandleStep(ctx context.Context, payload []byte) ([]byte, error) {
	var req StepRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("unparseable step request %q: %s", payload, err)}
	}

	switch req.Step {
	case StepFindLargeIndexes, StepKickoffArchival, StepPollReindexTask, StepCleanupArchival:
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("invalid or missing step in request: %s", payload)}
	}

	ctx = logctx.WithAttrs(ctx, slog.String("step", string(req.Step)))
	start := time.Now()
	out, err := r.runStep(ctx, req)
	recordStep(ctx, req.Step, time.Since(start), err)
	if err != nil {
		r.alertFailure(ctx, req.Step, payload, err)
		return nil, err
	}
	return out, nil
}

func (r *Runner) runStep(ctx context.Context, req StepRequest) ([]byte, error) {
	switch req.Step {
	case StepFindLargeIndexes:
		var threshold int64
		if req.ExecutionInput != nil && req.ExecutionInput.ThresholdOverride != nil {
			threshold = GBToBytes(*req.ExecutionInput.ThresholdOverride)
		}
		indexes, err := r.scanner.FindLargeIndexes(ctx, threshold)
		if err != nil {
			return nil, err
		}
		if indexes == nil {
			indexes = []string{}
		}
		return json.Marshal(indexes)

	case StepKickoffArchival:
		state, err := r.orchestrator.Kickoff(ctx, req.Index)
		if err != nil {
			return nil, err
		}
		return json.Marshal(state)

	case StepPollReindexTask:
		state, err := r.orchestrator.PollReindexTask(ctx, req.taskState())
		if err != nil {
			return nil, err
		}
		return json.Marshal(state)

	default: // StepCleanupArchival
		result, err := r.orchestrator.CleanupArchival(ctx, req.taskState())
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
}

// alertFailure notifies operators about a failed step. Archival errors carry
// structured index names and causes into the payload; anything else goes out
// with its message and the triggering request. An alert that cannot be sent
// is logged, never allowed to mask the step's own error.
func (r *Runner) alertFailure(ctx context.Context, step Step, payload []byte, stepErr error) {
	content := map[string]any{
		"msg":     fmt.Sprintf("Failure in %s", step),
		"error":   stepErr.Error(),
		"request": json.RawMessage(payload),
	}
	var aerr *ArchivalError
	if errors.As(stepErr, &aerr) {
		content["error"] = aerr.Message
		content["orig_index"] = aerr.Index
		content["new_index"] = aerr.NewIndex
		if aerr.Err != nil {
			content["original_error"] = aerr.Err.Error()
		}
	}

	if err := r.notifier.Notify(ctx, notify.CategoryGeneral, generalSubject, content); err != nil {
		logctx.FromContext(ctx).Error("Failed to send failure alert", slog.Any("error", err))
	}
}
