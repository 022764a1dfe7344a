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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solsticehq/sunrunner/internal/cluster"
)

func TestSettingsSnapshot_Sanitized(t *testing.T) {
	original := cluster.Settings{
		"number_of_shards":   "4",
		"number_of_replicas": "2",
		"refresh_interval":   "30s",
		"uuid":               "nYFUgYz1TjqMXlK0Q29aHA",
		"version":            map[string]any{"created": "136217927"},
		"creation_date":      "1756100000000",
		"provided_name":      "telemetry-data",
		"blocks":             map[string]any{"read_only": "true"},
	}

	sanitized := NewSettingsSnapshot(original).Sanitized()

	assert.Equal(t, cluster.Settings{
		"number_of_shards":   "4",
		"number_of_replicas": "0",
		"refresh_interval":   "30s",
	}, sanitized)

	// The snapshot's own view is untouched.
	assert.Equal(t, "2", original["number_of_replicas"])
	assert.Contains(t, original, "uuid")
}

func TestSettingsSnapshot_ShardCount(t *testing.T) {
	shards, err := NewSettingsSnapshot(cluster.Settings{"number_of_shards": "6"}).ShardCount()
	require.NoError(t, err)
	assert.Equal(t, 6, shards)

	_, err = NewSettingsSnapshot(cluster.Settings{}).ShardCount()
	assert.Error(t, err)
}

func TestSettingsSnapshot_ReplicaCount(t *testing.T) {
	replicas, ok := NewSettingsSnapshot(cluster.Settings{"number_of_replicas": "1"}).ReplicaCount()
	assert.True(t, ok)
	assert.Equal(t, "1", replicas)

	_, ok = NewSettingsSnapshot(cluster.Settings{}).ReplicaCount()
	assert.False(t, ok)
}
