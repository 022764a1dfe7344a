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

// Status marks how far a migration has progressed.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusArchived   Status = "ARCHIVED"
	// StatusFailed is reserved for external schedulers recording a terminal
	// failure. The engine itself reports failures as errors, never as a
	// state.
	StatusFailed Status = "FAILED"
)

// Step names one externally invocable operation of the state machine.
type Step string

const (
	StepFindLargeIndexes Step = "find_large_indexes"
	StepKickoffArchival  Step = "kickoff_archival"
	StepPollReindexTask  Step = "poll_reindex_task"
	StepCleanupArchival  Step = "cleanup_archival"
)

// TaskState is the unit of progress handed between steps. It is the sole
// carrier across suspension points: serializable, so any external scheduler
// can park it between polls and re-submit it.
type TaskState struct {
	Index    string `json:"index"`
	NewIndex string `json:"new_index"`
	TaskID   string `json:"task_id,omitempty"`
	Status   Status `json:"status"`
	Step     Step   `json:"step,omitempty"`
}

// CleanupResult is the terminal response of a completed archival.
type CleanupResult struct {
	Index    string `json:"index"`
	NewIndex string `json:"new_index"`
	Status   Status `json:"status"`
}
