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

// Package cluster defines the search-cluster capability surface the archival
// engine consumes. The engine never talks to OpenSearch directly; it goes
// through the Client interface so tests can substitute an in-memory cluster
// and so connection, signing, and retry policy stay out of the orchestration
// logic.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// IndexInfo is one row of the index listing: the index name plus the sizes
// the scanner filters on.
type IndexInfo struct {
	Name      string
	SizeBytes int64
	Docs      int64
	Health    string
	Status    string
}

// TaskStatus reports on a server-side asynchronous task.
type TaskStatus struct {
	Completed bool
	// FailureReason carries the task's error description when the cluster
	// reports one. Informational only; completion is what drives the state
	// machine forward.
	FailureReason string
}

// Settings is the per-index settings object, keyed the way the cluster
// returns it ("number_of_shards", "number_of_replicas", nested "blocks", ...).
// Values are strings or nested maps depending on the field.
type Settings map[string]any

// String returns the named setting as a string.
func (s Settings) String(key string) (string, bool) {
	v, ok := s[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// Int returns the named setting parsed as an integer. Cluster settings come
// back as strings even for numeric fields.
func (s Settings) Int(key string) (int, error) {
	v, ok := s.String(key)
	if !ok {
		return 0, fmt.Errorf("setting %q not present", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("setting %q is not an integer: %w", key, err)
	}
	return n, nil
}

// AliasSpec names one index (or index pattern) and the alias pointing at it.
type AliasSpec struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}

// AliasAction is a single entry of an alias update request.
type AliasAction struct {
	Add    *AliasSpec `json:"add,omitempty"`
	Remove *AliasSpec `json:"remove,omitempty"`
}

// Client is the capability surface of a search cluster, as consumed by the
// archival engine. Implementations must be safe for concurrent use.
type Client interface {
	// ListIndices returns every index with its aggregate store size, in the
	// order the cluster reports them.
	ListIndices(ctx context.Context) ([]IndexInfo, error)

	// Exists reports whether the named index is live.
	Exists(ctx context.Context, index string) (bool, error)

	// Refresh makes recent writes visible to size and count reporting.
	Refresh(ctx context.Context, index string) error

	// SetReadOnly toggles the write block on an index. While blocked, the
	// index accepts reads but rejects writes and deletion.
	SetReadOnly(ctx context.Context, index string, readOnly bool) error

	// GetMapping returns the index's mapping definition verbatim.
	GetMapping(ctx context.Context, index string) (json.RawMessage, error)

	// GetSettings returns the index-level settings object.
	GetSettings(ctx context.Context, index string) (Settings, error)

	// PutSettings applies a partial settings update to an index.
	PutSettings(ctx context.Context, index string, settings map[string]any) error

	// CreateIndex creates a new index with the given settings and mappings.
	// Fails if the index already exists.
	CreateIndex(ctx context.Context, index string, settings Settings, mappings json.RawMessage) error

	// DeleteIndex removes an index. The cluster rejects deletion of an index
	// that is write-blocked.
	DeleteIndex(ctx context.Context, index string) error

	// ReindexAsync starts a sliced copy of all documents from source into
	// dest and returns the server-side task ID without waiting.
	ReindexAsync(ctx context.Context, source, dest string, slices int) (string, error)

	// TaskStatus polls an asynchronous task by ID.
	TaskStatus(ctx context.Context, taskID string) (TaskStatus, error)

	// Count returns the number of documents in an index or alias.
	Count(ctx context.Context, index string) (int64, error)

	// UpdateAliases applies alias actions atomically.
	UpdateAliases(ctx context.Context, actions ...AliasAction) error

	// AliasExists reports whether the named alias resolves to anything.
	AliasExists(ctx context.Context, alias string) (bool, error)

	// GetAlias returns the concrete indices an alias currently covers.
	GetAlias(ctx context.Context, alias string) ([]string, error)
}
