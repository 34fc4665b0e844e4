// Package server exposes the dashboard HTTP API: JWT-gated REST
// endpoints over the cache and executor, a WebSocket feed for live
// updates, and the embedded web UI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/Br10Consultoria/webhuawei/internal/cache"
	"github.com/Br10Consultoria/webhuawei/internal/config"
	"github.com/Br10Consultoria/webhuawei/internal/models"
	"github.com/Br10Consultoria/webhuawei/internal/poller"
	"github.com/Br10Consultoria/webhuawei/internal/router"
	"github.com/Br10Consultoria/webhuawei/webui"
)

// Server wires the HTTP layer over the shared components. Everything
// is injected; the server owns no background work of its own besides
// the WebSocket hub.
type Server struct {
	cfg       *config.Config
	exec      *router.Executor
	pool      *router.Pool
	cache     *cache.Tiered
	poller    *poller.Poller
	db        *DB
	hub       *Hub
	log       zerolog.Logger
	startedAt time.Time
}

// New assembles the server.
func New(cfg *config.Config, exec *router.Executor, pool *router.Pool, c *cache.Tiered, p *poller.Poller, db *DB, hub *Hub, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		exec:      exec,
		pool:      pool,
		cache:     c,
		poller:    p,
		db:        db,
		hub:       hub,
		log:       log.With().Str("component", "api").Logger(),
		startedAt: time.Now().UTC(),
	}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// Interface names carry slashes; clients send them %2F-encoded.
	r.UseRawPath = true
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/api/login", s.handleLogin)
	r.GET("/api/health", s.handleHealth)

	api := r.Group("/api", s.authRequired())
	{
		api.GET("/interfaces", s.categoryHandler(models.CategoryInterfaces))
		api.GET("/pppoe", s.categoryHandler(models.CategoryPppoeStats))
		api.GET("/pppoe/users/:username", s.handlePppoeLookup)
		api.POST("/pppoe/users/:username/disconnect", s.handlePppoeDisconnect)
		api.GET("/pppoe/actions", s.handlePppoeActions)
		api.GET("/system", s.categoryHandler(models.CategorySystem))
		api.GET("/traffic", s.categoryHandler(models.CategoryTraffic))
		api.GET("/traffic/history", s.handleTrafficHistory)
		api.GET("/router/status", s.handleRouterStatus)
		api.POST("/execute", s.handleExecute)
		api.POST("/interfaces/:name/action", s.handleInterfaceAction)
		api.GET("/interfaces/actions", s.handleInterfaceActions)
		api.GET("/poller/status", s.handlePollerStatus)
		api.GET("/cache/stats", s.handleCacheStats)
		api.POST("/cache/clear", s.handleCacheClear)
		api.POST("/cache/reconnect", s.handleCacheReconnect)
	}

	r.GET("/ws", s.authRequired(), s.handleWebSocket)

	webui.Register(r)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// ── read endpoints ───────────────────────────────────────────────────────────

// categoryHandler serves a data category cache-first. A miss returns
// an empty payload flagged as uncached; the poller will fill it in.
func (s *Server) categoryHandler(category string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var data json.RawMessage
		if s.cache.Get(c.Request.Context(), category, &data) {
			c.JSON(http.StatusOK, gin.H{"cached": true, "category": category, "data": data})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cached": false, "category": category, "data": nil})
	}
}

func (s *Server) handleRouterStatus(c *gin.Context) {
	var status models.RouterStatus
	if !s.cache.Get(c.Request.Context(), "router_status", &status) {
		status = models.RouterStatus{Protocol: s.cfg.Router.Protocol}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleTrafficHistory(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 || hours > 24*30 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be between 1 and 720"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	samples, err := s.db.TrafficHistory(time.Now().Add(-time.Duration(hours)*time.Hour), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hours": hours, "samples": samples})
}

// handleHealth reports dashboard process health plus host telemetry.
// Unauthenticated so load balancers can probe it.
func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"poller":  s.poller.Status().Running,
		"clients": s.hub.ClientCount(),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health["host_cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["host_memory_percent"] = vm.UsedPercent
	}
	c.JSON(http.StatusOK, health)
}

// ── command endpoints ────────────────────────────────────────────────────────

type executeRequest struct {
	Commands []string `json:"commands" binding:"required"`
}

// handleExecute runs an ad-hoc whitelisted command batch on demand,
// bypassing the cache.
func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commands required"})
		return
	}
	if len(req.Commands) > 10 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most 10 commands per batch"})
		return
	}

	results, err := s.exec.Execute(c.Request.Context(), req.Commands)
	if err != nil {
		var execErr *router.ExecError
		if errors.As(err, &execErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": execErr.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type interfaceActionRequest struct {
	Action string `json:"action" binding:"required"`
}

// handleInterfaceAction performs shutdown/no_shutdown on a single
// interface and records an audit row either way.
func (s *Server) handleInterfaceAction(c *gin.Context) {
	name := c.Param("name")
	if !validInterfaceName(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interface name"})
		return
	}
	var req interfaceActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action required"})
		return
	}

	var actionCmd string
	switch req.Action {
	case "shutdown":
		actionCmd = "shutdown"
	case "no_shutdown", "undo_shutdown":
		actionCmd = "undo shutdown"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be shutdown or no_shutdown"})
		return
	}

	commands := []string{
		"system-view",
		"interface " + name,
		actionCmd,
		"commit",
		"return",
	}
	user := currentUser(c)
	results, err := s.exec.ExecutePrivileged(c.Request.Context(), commands)
	success := err == nil
	details := strings.Join(results, "\n")
	if err != nil {
		details = err.Error()
	}
	if dbErr := s.db.RecordInterfaceAction(name, req.Action, user, success, details); dbErr != nil {
		s.log.Error().Err(dbErr).Msg("audit write failed")
	}
	s.log.Info().
		Str("interface", name).
		Str("action", req.Action).
		Str("user", user).
		Bool("success", success).
		Msg("interface action")

	if !success {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	// The interface list is now stale.
	s.cache.Clear(c.Request.Context(), models.CategoryInterfaces)
	c.JSON(http.StatusOK, gin.H{"interface": name, "action": req.Action, "success": true})
}

func (s *Server) handleInterfaceActions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.db.RecentInterfaceActions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": rows})
}

// handlePppoeLookup runs the per-subscriber diagnostic batch: PPP
// state, the live access-user entry, and the AAA fail/offline records.
func (s *Server) handlePppoeLookup(c *gin.Context) {
	username := c.Param("username")
	if !validPppoeUsername(username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pppoe username"})
		return
	}

	results, err := s.exec.Execute(c.Request.Context(), []string{
		"display ppp username " + username,
		"display access-user username " + username,
		"display aaa online-fail-record username " + username,
		"display aaa offline-record username " + username,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": username, "output": strings.Join(results, "\n")})
}

// handlePppoeDisconnect force-drops one subscriber session and records
// an audit row either way.
func (s *Server) handlePppoeDisconnect(c *gin.Context) {
	username := c.Param("username")
	if !validPppoeUsername(username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pppoe username"})
		return
	}

	user := currentUser(c)
	results, err := s.exec.ExecutePrivileged(c.Request.Context(), []string{
		"undo access-user username " + username,
	})
	success := err == nil
	details := strings.Join(results, "\n")
	if err != nil {
		details = err.Error()
	}
	if dbErr := s.db.RecordPppoeAction(username, "disconnect", user, success, details); dbErr != nil {
		s.log.Error().Err(dbErr).Msg("audit write failed")
	}
	s.log.Warn().
		Str("username", username).
		Str("user", user).
		Bool("success", success).
		Msg("pppoe session disconnected")

	if !success {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	// The session counters are now stale.
	s.cache.Clear(c.Request.Context(), models.CategoryPppoeStats)
	c.JSON(http.StatusOK, gin.H{"username": username, "action": "disconnect", "success": true})
}

func (s *Server) handlePppoeActions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.db.RecentPppoeActions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": rows})
}

// validPppoeUsername bounds what gets spliced into the access-user
// commands: word characters plus @ . _ - only.
func validPppoeUsername(username string) bool {
	if username == "" || len(username) > 64 {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '@' || r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// validInterfaceName keeps injection out of the composed interface
// commands: VRP names are alphanumerics plus / . : - only.
func validInterfaceName(name string) bool {
	if name == "" || len(name) > 48 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/' || r == '.' || r == ':' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ── operational endpoints ────────────────────────────────────────────────────

func (s *Server) handlePollerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"poller": s.poller.Status(),
		"pool":   s.pool.Stats(),
	})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(c *gin.Context) {
	pattern := c.DefaultQuery("pattern", "*")
	removed := s.cache.Clear(c.Request.Context(), pattern)
	s.log.Info().Str("pattern", pattern).Int("removed", removed).Str("user", currentUser(c)).Msg("cache cleared")
	c.JSON(http.StatusOK, gin.H{"pattern": pattern, "removed": removed})
}

func (s *Server) handleCacheReconnect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.cache.Reconnect(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}
