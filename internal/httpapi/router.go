// Package httpapi exposes the kernel over HTTP: a health/info surface, a
// JSON-RPC endpoint for clients that don't speak the MCP wire protocol, the
// MCP Streamable HTTP transport itself, and a WebSocket transport for
// long-lived bidirectional sessions.
package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/claude-flow/core/internal/common/httpmw"
	"github.com/claude-flow/core/internal/logging"
	"github.com/claude-flow/core/internal/mcpserver"
)

const serverName = "claude-flow-kernel"

// Config controls middleware and route behavior.
type Config struct {
	AuthTokens     []string
	AllowedOrigins []string
}

// Server is the gin-backed HTTP surface wrapping the MCP tool registry.
type Server struct {
	router      *gin.Engine
	mcp         *mcpserver.Server
	log         *logging.Logger
	upgrader    websocket.Upgrader
	connections int64
}

// New builds the router with every middleware and route wired in.
func New(cfg Config, mcp *mcpserver.Server, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		mcp:    mcp,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.router.Use(httpmw.Recovery(log))
	s.router.Use(httpmw.RequestLogger(log, serverName))
	s.router.Use(httpmw.CORS(cfg.AllowedOrigins))

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/info", s.handleInfo)

	authed := s.router.Group("/")
	authed.Use(httpmw.Auth(log, cfg.AuthTokens))
	authed.POST("/rpc", s.handleRPC)
	authed.Any("/mcp", gin.WrapH(mcp.StreamableHTTPHandler()))
	authed.GET("/ws", s.handleWebSocket)

	return s
}

// Router returns the underlying http.Handler for use with net/http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

type healthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Connections int64  `json:"connections"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Connections: atomic.LoadInt64(&s.connections),
	})
}

type infoResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Transports  []string `json:"transports"`
	ToolCapable bool     `json:"toolCapable"`
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, infoResponse{
		Name:        serverName,
		Version:     "3.0.0",
		Transports:  []string{"rpc", "mcp", "ws"},
		ToolCapable: true,
	})
}

func (s *Server) handleRPC(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	resp := s.mcp.Dispatch(c.Request.Context(), body)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}
