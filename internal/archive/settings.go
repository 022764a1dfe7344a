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
	"github.com/solsticehq/sunrunner/internal/cluster"
)

// SettingsSnapshot is a point-in-time copy of one index's settings, taken so
// a destination index can be created with the same layout.
type SettingsSnapshot struct {
	settings cluster.Settings
}

func NewSettingsSnapshot(settings cluster.Settings) SettingsSnapshot {
	return SettingsSnapshot{settings: settings}
}

// generatedKeys are cluster-managed settings that a create-index request
// must not carry. The write block is stripped too so the copy can be
// written into.
var generatedKeys = []string{"uuid", "version", "creation_date", "provided_name", "blocks"}

// Sanitized returns a copy safe to apply to a new index: generated keys are
// removed and the replica count is forced to zero so the bulk copy is not
// also feeding replicas. Replicas are restored once migration completes.
func (s SettingsSnapshot) Sanitized() cluster.Settings {
	out := make(cluster.Settings, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	for _, k := range generatedKeys {
		delete(out, k)
	}
	out["number_of_replicas"] = "0"
	return out
}

// ShardCount reads the primary shard count.
func (s SettingsSnapshot) ShardCount() (int, error) {
	return s.settings.Int("number_of_shards")
}

// ReplicaCount reads the replica count as the cluster reports it.
func (s SettingsSnapshot) ReplicaCount() (string, bool) {
	return s.settings.String("number_of_replicas")
}
