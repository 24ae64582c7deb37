package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/staffsight/controlplane/pkg/signing"
)

type testEnv struct {
	t      *testing.T
	server *Server
	gin    *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:controlplane-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(allModels()...))

	srv := &Server{
		db:          db,
		signer:      signing.New("test-secret", "test-key", zerolog.Nop()),
		logger:      zerolog.Nop(),
		rateLimiter: NewRateLimiter(),
	}

	g := gin.New()
	srv.registerAgentRoutes(g)
	srv.registerPolicyRoutes(g)
	srv.registerVersionRoutes(g)
	srv.registerCommandRoutes(g)
	srv.registerSyncRoutes(g)

	return &testEnv{t: t, server: srv, gin: g}
}

func (e *testEnv) seedAgent(computerID int64) Agent {
	e.t.Helper()
	now := time.Now().UTC()
	agent := Agent{
		ComputerID:    computerID,
		Version:       "1.0.0",
		Status:        "online",
		LastHeartbeat: &now,
	}
	require.NoError(e.t, e.server.db.Create(&agent).Error)
	return agent
}

// do issues a request with an optional JSON body and returns the recorder.
func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	e.gin.ServeHTTP(resp, req)
	return resp
}

// decode unmarshals the response envelope and asserts the success flag.
func (e *testEnv) decode(resp *httptest.ResponseRecorder, wantSuccess bool) map[string]any {
	e.t.Helper()
	var payload map[string]any
	require.NoError(e.t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(e.t, wantSuccess, payload["success"], "body: %s", resp.Body.String())
	return payload
}

func (e *testEnv) versionRows(agentID uint) []AgentPolicyVersion {
	e.t.Helper()
	var rows []AgentPolicyVersion
	require.NoError(e.t, e.server.db.Where("agent_id = ?", agentID).Order("id asc").Find(&rows).Error)
	return rows
}

func asMap(t *testing.T, value any) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	require.True(t, ok, "expected object, got %T", value)
	return m
}

func asSlice(t *testing.T, value any) []any {
	t.Helper()
	s, ok := value.([]any)
	require.True(t, ok, "expected array, got %T", value)
	return s
}

func requireStatus(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, resp.Code, "body: %s", resp.Body.String())
}
