package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude-flow/core/internal/agentpool"
	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/internal/health"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/internal/mcpserver"
	"github.com/claude-flow/core/internal/memory"
	"github.com/claude-flow/core/internal/orchestrator"
	"github.com/claude-flow/core/internal/plugin"
	"github.com/claude-flow/core/internal/session"
	"github.com/claude-flow/core/internal/swarm"
	"github.com/claude-flow/core/internal/taskqueue"
	"github.com/claude-flow/core/internal/taskregistry"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	log, err := logging.New(logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	bus := eventbus.NewMemoryBus(log)

	pool := agentpool.New(10, bus)
	reg := taskregistry.New(bus)
	queue := taskqueue.NewTaskQueue(0, 0)
	orch := orchestrator.New(reg, queue, pool, bus)
	sessions := session.New(bus)
	monitor := health.New(10*time.Millisecond, bus, log)
	plugins := plugin.New(bus, log)
	coordinator := swarm.New(swarm.Config{}, pool, orch, sessions, monitor, plugins, bus, log)

	deps := mcpserver.Dependencies{
		Orchestrator: orch,
		Pool:         pool,
		Swarm:        coordinator,
		Memory:       memory.NewInMemory("test"),
	}
	mcp := mcpserver.New(deps, log)
	return New(cfg, mcp, log)
}

func TestHealthReportsOKAndZeroConnections(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(0), body.Connections)
}

func TestInfoListsEveryTransport(t *testing.T) {
	s := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"rpc", "mcp", "ws"}, body.Transports)
}

func TestRPCWithoutAuthTokensConfiguredAllowsRequest(t *testing.T) {
	s := newTestServer(t, Config{})
	payload := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRPCRejectsMissingTokenWhenAuthConfigured(t *testing.T) {
	s := newTestServer(t, Config{AuthTokens: []string{"secret"}})
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRPCAcceptsValidBearerToken(t *testing.T) {
	s := newTestServer(t, Config{AuthTokens: []string{"secret"}})
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSRejectsDisallowedOrigin(t *testing.T) {
	s := newTestServer(t, Config{AllowedOrigins: []string{"https://allowed.example"}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
