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

package cluster

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method string
	path   string
	query  url.Values
	body   string
}

// serve starts a one-response test server and returns a client pointed at it.
// Error-path tests use statuses outside the retry list so they fail fast.
func serve(t *testing.T, status int, response string, captured *capturedRequest) *OpenSearch {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.method = r.Method
			captured.path = r.URL.Path
			captured.query = r.URL.Query()
			body, _ := io.ReadAll(r.Body)
			captured.body = string(body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenSearch(&Config{Endpoint: srv.URL})
	require.NoError(t, err)
	return client
}

func TestNewOpenSearch_RequiresEndpoint(t *testing.T) {
	_, err := NewOpenSearch(nil)
	assert.Error(t, err)

	_, err = NewOpenSearch(&Config{})
	assert.Error(t, err)
}

func TestNewOpenSearch_SigV4RequiresAWSConfig(t *testing.T) {
	_, err := NewOpenSearch(&Config{Endpoint: "http://localhost:9200", SigV4: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sigv4")
}

func TestListIndices(t *testing.T) {
	rows := `[
		{"index":"telemetry-data","health":"green","status":"open","store.size":"34359738368","docs.count":"500"},
		{"index":"frozen-data","health":"red","status":"close","store.size":"","docs.count":""}
	]`
	var captured capturedRequest
	client := serve(t, http.StatusOK, rows, &captured)

	infos, err := client.ListIndices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, captured.method)
	assert.Equal(t, "/_cat/indices", captured.path)
	assert.Equal(t, "json", captured.query.Get("format"))
	assert.Equal(t, "b", captured.query.Get("bytes"))

	require.Len(t, infos, 2)
	assert.Equal(t, IndexInfo{
		Name:      "telemetry-data",
		Health:    "green",
		Status:    "open",
		SizeBytes: 34359738368,
		Docs:      500,
	}, infos[0])
	assert.Equal(t, int64(0), infos[1].SizeBytes)
	assert.Equal(t, int64(0), infos[1].Docs)
}

func TestParseCatNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int64
	}{
		{"plain", "123", 123},
		{"byte suffix", "456b", 456},
		{"empty", "", 0},
		{"whitespace", "  ", 0},
		{"unparseable unit", "1.2kb", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCatNumber(tt.in))
		})
	}
}

func TestExists(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		var captured capturedRequest
		client := serve(t, http.StatusOK, "", &captured)

		ok, err := client.Exists(context.Background(), "telemetry-data")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, http.MethodHead, captured.method)
		assert.Equal(t, "/telemetry-data", captured.path)
	})

	t.Run("absent", func(t *testing.T) {
		client := serve(t, http.StatusNotFound, "", nil)

		ok, err := client.Exists(context.Background(), "telemetry-data")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("failure", func(t *testing.T) {
		client := serve(t, http.StatusForbidden, "", nil)

		_, err := client.Exists(context.Background(), "telemetry-data")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})
}

func TestRefresh(t *testing.T) {
	var captured capturedRequest
	client := serve(t, http.StatusOK, `{"_shards":{"total":4,"successful":4,"failed":0}}`, &captured)

	require.NoError(t, client.Refresh(context.Background(), "telemetry-data"))
	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/telemetry-data/_refresh", captured.path)
}

func TestSetReadOnly(t *testing.T) {
	var captured capturedRequest
	client := serve(t, http.StatusOK, `{"acknowledged":true}`, &captured)

	require.NoError(t, client.SetReadOnly(context.Background(), "telemetry-data", true))
	assert.Equal(t, http.MethodPut, captured.method)
	assert.Equal(t, "/telemetry-data/_settings", captured.path)
	assert.JSONEq(t, `{"settings":{"index.blocks.read_only":true}}`, captured.body)
}

func TestGetMapping(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		var captured capturedRequest
		body := `{"telemetry-data":{"mappings":{"properties":{"message":{"type":"text"}}}}}`
		client := serve(t, http.StatusOK, body, &captured)

		mapping, err := client.GetMapping(context.Background(), "telemetry-data")
		require.NoError(t, err)
		assert.Equal(t, http.MethodGet, captured.method)
		assert.Equal(t, "/telemetry-data/_mapping", captured.path)
		assert.JSONEq(t, `{"properties":{"message":{"type":"text"}}}`, string(mapping))
	})

	t.Run("missing from response", func(t *testing.T) {
		client := serve(t, http.StatusOK, `{"other-index":{"mappings":{}}}`, nil)

		_, err := client.GetMapping(context.Background(), "telemetry-data")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing from response")
	})
}

func TestGetSettings(t *testing.T) {
	var captured capturedRequest
	body := `{"telemetry-data":{"settings":{"index":{"number_of_shards":"5","number_of_replicas":"2","uuid":"abc123"}}}}`
	client := serve(t, http.StatusOK, body, &captured)

	settings, err := client.GetSettings(context.Background(), "telemetry-data")
	require.NoError(t, err)
	assert.Equal(t, "/telemetry-data/_settings", captured.path)
	assert.Equal(t, Settings{
		"number_of_shards":   "5",
		"number_of_replicas": "2",
		"uuid":               "abc123",
	}, settings)
}

func TestPutSettings(t *testing.T) {
	var captured capturedRequest
	client := serve(t, http.StatusOK, `{"acknowledged":true}`, &captured)

	err := client.PutSettings(context.Background(), "telemetry-data", map[string]any{"number_of_replicas": "2"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, captured.method)
	assert.Equal(t, "/telemetry-data/_settings", captured.path)
	assert.JSONEq(t, `{"settings":{"number_of_replicas":"2"}}`, captured.body)
}

func TestCreateIndex(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var captured capturedRequest
		client := serve(t, http.StatusOK, `{"acknowledged":true}`, &captured)

		settings := Settings{"number_of_replicas": "0"}
		mappings := json.RawMessage(`{"properties":{"message":{"type":"text"}}}`)
		require.NoError(t, client.CreateIndex(context.Background(), "telemetry-data-08252026", settings, mappings))

		assert.Equal(t, http.MethodPut, captured.method)
		assert.Equal(t, "/telemetry-data-08252026", captured.path)
		assert.JSONEq(t, `{
			"settings": {"number_of_replicas":"0"},
			"mappings": {"properties":{"message":{"type":"text"}}}
		}`, captured.body)
	})

	t.Run("failure carries body", func(t *testing.T) {
		body := `{"error":{"type":"resource_already_exists_exception"}}`
		client := serve(t, http.StatusBadRequest, body, nil)

		err := client.CreateIndex(context.Background(), "telemetry-data-08252026", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resource_already_exists_exception")
		assert.Contains(t, err.Error(), "400")
	})
}

func TestDeleteIndex(t *testing.T) {
	var captured capturedRequest
	client := serve(t, http.StatusOK, `{"acknowledged":true}`, &captured)

	require.NoError(t, client.DeleteIndex(context.Background(), "telemetry-data"))
	assert.Equal(t, http.MethodDelete, captured.method)
	assert.Equal(t, "/telemetry-data", captured.path)
}

func TestReindexAsync(t *testing.T) {
	t.Run("returns task id", func(t *testing.T) {
		var captured capturedRequest
		client := serve(t, http.StatusOK, `{"task":"node-0:42"}`, &captured)

		taskID, err := client.ReindexAsync(context.Background(), "telemetry-data", "telemetry-data-08252026", 10)
		require.NoError(t, err)
		assert.Equal(t, "node-0:42", taskID)

		assert.Equal(t, http.MethodPost, captured.method)
		assert.Equal(t, "/_reindex", captured.path)
		assert.Equal(t, "false", captured.query.Get("wait_for_completion"))
		assert.Equal(t, "10", captured.query.Get("slices"))
		assert.JSONEq(t, `{
			"source": {"index":"telemetry-data"},
			"dest":   {"index":"telemetry-data-08252026"}
		}`, captured.body)
	})

	t.Run("missing task id", func(t *testing.T) {
		client := serve(t, http.StatusOK, `{}`, nil)

		_, err := client.ReindexAsync(context.Background(), "a", "b", 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no task id")
	})
}

func TestTaskStatus(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		var captured capturedRequest
		client := serve(t, http.StatusOK, `{"completed":false}`, &captured)

		status, err := client.TaskStatus(context.Background(), "node-0:42")
		require.NoError(t, err)
		assert.False(t, status.Completed)
		assert.Empty(t, status.FailureReason)
		assert.Equal(t, "/_tasks/node-0:42", captured.path)
	})

	t.Run("failed", func(t *testing.T) {
		body := `{"completed":true,"error":{"type":"search_phase_execution_exception","reason":"shard failure"}}`
		client := serve(t, http.StatusOK, body, nil)

		status, err := client.TaskStatus(context.Background(), "node-0:42")
		require.NoError(t, err)
		assert.True(t, status.Completed)
		assert.Equal(t, "search_phase_execution_exception: shard failure", status.FailureReason)
	})
}

func TestCount(t *testing.T) {
	var captured capturedRequest
	client := serve(t, http.StatusOK, `{"count":500}`, &captured)

	n, err := client.Count(context.Background(), "telemetry-data-combined")
	require.NoError(t, err)
	assert.Equal(t, int64(500), n)
	assert.Equal(t, "/telemetry-data-combined/_count", captured.path)
}

func TestUpdateAliases(t *testing.T) {
	var captured capturedRequest
	client := serve(t, http.StatusOK, `{"acknowledged":true}`, &captured)

	err := client.UpdateAliases(context.Background(), AliasAction{
		Add: &AliasSpec{Index: "telemetry-data*", Alias: "telemetry-data-combined"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/_aliases", captured.path)
	assert.JSONEq(t, `{"actions":[{"add":{"index":"telemetry-data*","alias":"telemetry-data-combined"}}]}`, captured.body)
}

func TestAliasExists(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		var captured capturedRequest
		client := serve(t, http.StatusOK, "", &captured)

		ok, err := client.AliasExists(context.Background(), "telemetry-data-combined")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, http.MethodHead, captured.method)
		assert.Equal(t, "/_alias/telemetry-data-combined", captured.path)
	})

	t.Run("absent", func(t *testing.T) {
		client := serve(t, http.StatusNotFound, "", nil)

		ok, err := client.AliasExists(context.Background(), "telemetry-data-combined")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGetAlias(t *testing.T) {
	var captured capturedRequest
	body := `{
		"telemetry-data-08152026": {"aliases":{"telemetry-data-combined":{}}},
		"telemetry-data-08012026": {"aliases":{"telemetry-data-combined":{}}}
	}`
	client := serve(t, http.StatusOK, body, &captured)

	indices, err := client.GetAlias(context.Background(), "telemetry-data-combined")
	require.NoError(t, err)
	assert.Equal(t, "/_alias/telemetry-data-combined", captured.path)
	assert.Equal(t, []string{"telemetry-data-08012026", "telemetry-data-08152026"}, indices)
}
