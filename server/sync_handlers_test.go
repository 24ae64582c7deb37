package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateSyncBatch_GeneratesBatchID(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	resp := env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", agent.ID), nil)
	requireStatus(t, resp, http.StatusCreated)
	batch := asMap(t, env.decode(resp, true)["batch"])

	_, err := uuid.Parse(batch["batchId"].(string))
	require.NoError(t, err)
	require.Equal(t, "pending", batch["status"])
	require.Empty(t, batch["syncedAt"])
}

func TestCreateSyncBatch_KeepsCallerBatchID(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	resp := env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", agent.ID), map[string]any{
		"batchId":      "batch-7",
		"recordsCount": 120,
	})
	requireStatus(t, resp, http.StatusCreated)
	batch := asMap(t, env.decode(resp, true)["batch"])
	require.Equal(t, "batch-7", batch["batchId"])
	require.EqualValues(t, 120, batch["recordsCount"])
}

func TestCreateSyncBatch_UnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPost, "/v1/agents/999/sync-batches", nil)
	requireStatus(t, resp, http.StatusNotFound)
	env.decode(resp, false)
}

func TestUpdateSyncBatch_SuccessStampsSyncedAt(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	created := asMap(t, env.decode(env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", agent.ID), nil), true)["batch"])

	updated := asMap(t, env.decode(env.do(http.MethodPut, fmt.Sprintf("/v1/sync-batches/%v", created["id"]), map[string]any{
		"status":       "success",
		"recordsCount": 50,
	}), true)["batch"])
	require.Equal(t, "success", updated["status"])
	require.NotEmpty(t, updated["syncedAt"])
	require.EqualValues(t, 50, updated["recordsCount"])
}

func TestUpdateSyncBatch_FailureLeavesSyncedAtEmpty(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	created := asMap(t, env.decode(env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", agent.ID), nil), true)["batch"])

	updated := asMap(t, env.decode(env.do(http.MethodPut, fmt.Sprintf("/v1/sync-batches/%v", created["id"]), map[string]any{
		"status": "failed",
	}), true)["batch"])
	require.Equal(t, "failed", updated["status"])
	require.Empty(t, updated["syncedAt"])
}

func TestPendingSyncBatches_OldestFirstAcrossAgents(t *testing.T) {
	env := newTestEnv(t)
	first := env.seedAgent(1)
	second := env.seedAgent(2)

	env.decode(env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", first.ID), nil), true)
	done := asMap(t, env.decode(env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", second.ID), nil), true)["batch"])
	env.decode(env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", second.ID), nil), true)

	env.decode(env.do(http.MethodPut, fmt.Sprintf("/v1/sync-batches/%v", done["id"]), map[string]any{
		"status": "success",
	}), true)

	payload := env.decode(env.do(http.MethodGet, "/v1/sync-batches/pending", nil), true)
	require.EqualValues(t, 2, payload["totalCount"])
	batches := asSlice(t, payload["batches"])
	require.Len(t, batches, 2)
	require.Less(t, asMap(t, batches[0])["id"].(float64), asMap(t, batches[1])["id"].(float64))
}

func TestListSyncBatches_StatusFilter(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)
	path := fmt.Sprintf("/v1/agents/%d/sync-batches", agent.ID)

	env.decode(env.do(http.MethodPost, path, nil), true)
	done := asMap(t, env.decode(env.do(http.MethodPost, path, nil), true)["batch"])
	env.decode(env.do(http.MethodPut, fmt.Sprintf("/v1/sync-batches/%v", done["id"]), map[string]any{
		"status": "success",
	}), true)

	payload := env.decode(env.do(http.MethodGet, path+"?status=success", nil), true)
	require.EqualValues(t, 1, payload["totalCount"])
	require.Equal(t, done["id"], asMap(t, asSlice(t, payload["batches"])[0])["id"])
}

func TestGetSyncBatch_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodGet, "/v1/sync-batches/999", nil)
	requireStatus(t, resp, http.StatusNotFound)
	env.decode(resp, false)
}
