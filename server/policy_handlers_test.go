package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPolicy_SynthesizesDefaultsOnFirstRead(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	resp := env.do(http.MethodGet, fmt.Sprintf("/v1/agents/%d/policy", agent.ID), nil)
	requireStatus(t, resp, http.StatusOK)
	payload := env.decode(resp, true)

	policy := asMap(t, payload["policy"])
	require.EqualValues(t, 5, policy["collectionIntervalSec"])
	require.EqualValues(t, 15, policy["heartbeatIntervalSec"])
	require.EqualValues(t, 5, policy["flushIntervalSec"])
	require.EqualValues(t, 120, policy["idleThresholdSec"])
	require.Equal(t, []any{"chrome", "edge", "firefox"}, policy["browsers"])
	require.NotEmpty(t, policy["policyVersion"])
	require.NotEmpty(t, policy["signature"])
	require.Equal(t, "test-key", policy["signatureKeyId"])
	require.Equal(t, "hmac-sha256-v1", policy["signatureAlg"])

	rows := env.versionRows(agent.ID)
	require.Len(t, rows, 1)
	require.Equal(t, "create", rows[0].ChangeType)
	require.Equal(t, "system", rows[0].ChangedBy)
}

func TestGetPolicy_SecondReadReturnsSameRow(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	first := env.decode(env.do(http.MethodGet, fmt.Sprintf("/v1/agents/%d/policy", agent.ID), nil), true)
	second := env.decode(env.do(http.MethodGet, fmt.Sprintf("/v1/agents/%d/policy", agent.ID), nil), true)
	require.Equal(t, asMap(t, first["policy"])["id"], asMap(t, second["policy"])["id"])

	// reads after the first do not grow the history
	require.Len(t, env.versionRows(agent.ID), 1)
}

func TestGetPolicy_UnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodGet, "/v1/agents/999/policy", nil)
	requireStatus(t, resp, http.StatusNotFound)
	payload := env.decode(resp, false)
	require.Equal(t, "Agent not found", payload["message"])
}

func TestUpsertPolicy_ClampsAndDefaults(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	resp := env.do(http.MethodPut, fmt.Sprintf("/v1/agents/%d/policy", agent.ID), map[string]any{
		"collectionIntervalSec":  9999,
		"heartbeatIntervalSec":   1,
		"flushIntervalSec":       -3,
		"idleThresholdSec":       0,
		"browserPollIntervalSec": 4000,
		"processSnapshotLimit":   0,
		"highRiskThreshold":      -1,
		"browsers":               []string{" Chrome ", "chrome", "EDGE", ""},
	})
	requireStatus(t, resp, http.StatusOK)
	payload := env.decode(resp, true)

	policy := asMap(t, payload["policy"])
	require.EqualValues(t, 3600, policy["collectionIntervalSec"], "above max clamps to max")
	require.EqualValues(t, 5, policy["heartbeatIntervalSec"], "below min clamps to min")
	require.EqualValues(t, 5, policy["flushIntervalSec"], "non-positive takes fallback")
	require.EqualValues(t, 120, policy["idleThresholdSec"], "zero takes fallback, never raw input")
	require.EqualValues(t, 3600, policy["browserPollIntervalSec"])
	require.EqualValues(t, 50, policy["processSnapshotLimit"])
	require.EqualValues(t, 85, policy["highRiskThreshold"])
	require.Equal(t, []any{"chrome", "edge"}, policy["browsers"])
}

func TestUpsertPolicy_EmptyBrowsersFallBackToDefaults(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	payload := env.decode(env.do(http.MethodPut, fmt.Sprintf("/v1/agents/%d/policy", agent.ID), map[string]any{
		"browsers": []string{"  ", ""},
	}), true)
	require.Equal(t, []any{"chrome", "edge", "firefox"}, asMap(t, payload["policy"])["browsers"])
}

func TestUpsertPolicy_VersionTokenRules(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)
	path := fmt.Sprintf("/v1/agents/%d/policy", agent.ID)

	// no caller token on a fresh policy: one is generated
	created := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{}), true)["policy"])
	generated := created["policyVersion"].(string)
	require.NotEmpty(t, generated)

	// caller-supplied token wins
	supplied := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{
		"policyVersion": "v-custom",
	}), true)["policy"])
	require.Equal(t, "v-custom", supplied["policyVersion"])

	// omitting the token keeps the current one
	kept := asMap(t, env.decode(env.do(http.MethodPut, path, map[string]any{}), true)["policy"])
	require.Equal(t, "v-custom", kept["policyVersion"])
}

func TestUpsertPolicy_UnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPut, "/v1/agents/999/policy", map[string]any{})
	requireStatus(t, resp, http.StatusNotFound)
	env.decode(resp, false)
}

func TestUpsertPolicy_InvalidAgentID(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodPut, "/v1/agents/0/policy", map[string]any{})
	requireStatus(t, resp, http.StatusBadRequest)
	env.decode(resp, false)
}

func TestDeletePolicy_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)
	policyPath := fmt.Sprintf("/v1/agents/%d/policy", agent.ID)

	env.decode(env.do(http.MethodPut, policyPath, map[string]any{}), true)

	first := env.decode(env.do(http.MethodDelete, policyPath, nil), true)
	require.Equal(t, "Agent policy deleted successfully", first["message"])

	second := env.decode(env.do(http.MethodDelete, policyPath, nil), true)
	require.Equal(t, "Agent policy already deleted", second["message"])

	// create + delete, and the second delete added nothing
	rows := env.versionRows(agent.ID)
	require.Len(t, rows, 2)
	require.Equal(t, "delete", rows[1].ChangeType)
}

func TestDeletePolicy_NeverExisted(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)

	payload := env.decode(env.do(http.MethodDelete, fmt.Sprintf("/v1/agents/%d/policy", agent.ID), nil), true)
	require.Equal(t, "Agent policy already deleted", payload["message"])
	require.Empty(t, env.versionRows(agent.ID))
}

func TestDeletePolicy_UnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(http.MethodDelete, "/v1/agents/999/policy", nil)
	requireStatus(t, resp, http.StatusNotFound)
	env.decode(resp, false)
}

func TestPolicyHistory_AppendOnly(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(42)
	path := fmt.Sprintf("/v1/agents/%d/policy", agent.ID)

	env.decode(env.do(http.MethodPut, path, map[string]any{"collectionIntervalSec": 10}), true)
	firstRows := env.versionRows(agent.ID)
	require.Len(t, firstRows, 1)

	env.decode(env.do(http.MethodPut, path, map[string]any{"collectionIntervalSec": 20}), true)
	env.decode(env.do(http.MethodDelete, path, nil), true)

	rows := env.versionRows(agent.ID)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"create", "update", "delete"}, []string{rows[0].ChangeType, rows[1].ChangeType, rows[2].ChangeType})

	// the original row is untouched by later mutations
	require.Equal(t, firstRows[0], rows[0])
}
