package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAgent(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/agents", map[string]any{
		"computerId": 42,
		"version":    " 2.1.0 ",
	})
	requireStatus(t, resp, http.StatusCreated)
	payload := env.decode(resp, true)

	agent := asMap(t, payload["agent"])
	require.EqualValues(t, 42, agent["computerId"])
	require.Equal(t, "2.1.0", agent["version"])
	require.Equal(t, "online", agent["status"])
	require.NotEmpty(t, agent["lastHeartbeat"])
	require.Empty(t, agent["offlineSince"])
}

func TestRegisterAgent_DuplicateComputer(t *testing.T) {
	env := newTestEnv(t)
	env.seedAgent(42)

	resp := env.do(http.MethodPost, "/v1/agents", map[string]any{"computerId": 42})
	requireStatus(t, resp, http.StatusConflict)
	payload := env.decode(resp, false)
	require.Equal(t, "Agent already exists for this computer", payload["message"])
}

func TestRegisterAgent_InvalidComputerID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/v1/agents", map[string]any{"computerId": 0})
	requireStatus(t, resp, http.StatusBadRequest)
	env.decode(resp, false)
}

func TestGetAgent_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodGet, "/v1/agents/999", nil)
	requireStatus(t, resp, http.StatusNotFound)
	env.decode(resp, false)
}

func TestListAgents_Filters(t *testing.T) {
	env := newTestEnv(t)
	online := env.seedAgent(1)
	offline := env.seedAgent(2)
	env.decode(env.do(http.MethodPut, fmt.Sprintf("/v1/agents/%d/status", offline.ID), map[string]any{
		"status": "offline",
	}), true)

	all := env.decode(env.do(http.MethodGet, "/v1/agents", nil), true)
	require.EqualValues(t, 2, all["totalCount"])

	onlineOnly := env.decode(env.do(http.MethodGet, "/v1/agents?status=online", nil), true)
	require.EqualValues(t, 1, onlineOnly["totalCount"])
	require.EqualValues(t, online.ID, asMap(t, asSlice(t, onlineOnly["agents"])[0])["id"])

	byComputer := env.decode(env.do(http.MethodGet, "/v1/agents?computer_id=2", nil), true)
	require.EqualValues(t, 1, byComputer["totalCount"])
	require.EqualValues(t, offline.ID, asMap(t, asSlice(t, byComputer["agents"])[0])["id"])
}

func TestUpdateAgentStatus_OfflineTransitions(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)
	path := fmt.Sprintf("/v1/agents/%d/status", agent.ID)

	// going offline stamps offlineSince
	down := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{"status": "offline"}), true)["agent"])
	require.Equal(t, "offline", down["status"])
	require.NotEmpty(t, down["offlineSince"])

	// staying offline keeps the original stamp
	still := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{"status": "offline"}), true)["agent"])
	require.Equal(t, down["offlineSince"], still["offlineSince"])

	// recovery clears it
	up := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{"status": "online"}), true)["agent"])
	require.Equal(t, "online", up["status"])
	require.Empty(t, up["offlineSince"])
}

func TestUpdateAgentStatus_ConfigVersionOnlyWhenProvided(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)
	path := fmt.Sprintf("/v1/agents/%d/status", agent.ID)

	withVersion := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{
		"status":        "online",
		"configVersion": "cv-7",
	}), true)["agent"])
	require.Equal(t, "cv-7", withVersion["configVersion"])

	withoutVersion := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{
		"status": "online",
	}), true)["agent"])
	require.Equal(t, "cv-7", withoutVersion["configVersion"], "blank configVersion leaves the stored one alone")
}

func TestUpdateAgentStatus_Validation(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	resp := env.do(http.MethodPut, fmt.Sprintf("/v1/agents/%d/status", agent.ID), map[string]any{"status": "  "})
	requireStatus(t, resp, http.StatusBadRequest)
	env.decode(resp, false)

	resp = env.do(http.MethodPut, "/v1/agents/999/status", map[string]any{"status": "online"})
	requireStatus(t, resp, http.StatusNotFound)
	env.decode(resp, false)
}

func TestDeleteAgent_CascadesButKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	env.decode(env.do(http.MethodPut, fmt.Sprintf("/v1/agents/%d/policy", agent.ID), map[string]any{}), true)
	env.createCommand(agent.ID, map[string]any{"type": "PING"})
	env.decode(env.do(http.MethodPost, fmt.Sprintf("/v1/agents/%d/sync-batches", agent.ID), nil), true)

	resp := env.do(http.MethodDelete, fmt.Sprintf("/v1/agents/%d", agent.ID), nil)
	requireStatus(t, resp, http.StatusOK)
	env.decode(resp, true)

	db := env.server.db
	for _, model := range []any{&Agent{}, &AgentPolicy{}, &AgentCommand{}, &SyncBatch{}} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		require.Zero(t, count, "%T rows should be gone", model)
	}

	// version rows survive as the audit trail, closed by a delete snapshot
	rows := env.versionRows(agent.ID)
	require.Len(t, rows, 2)
	require.Equal(t, "delete", rows[1].ChangeType)
	require.Equal(t, "system", rows[1].ChangedBy)
}

func TestDeleteAgent_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodDelete, "/v1/agents/999", nil)
	requireStatus(t, resp, http.StatusNotFound)
	env.decode(resp, false)
}
