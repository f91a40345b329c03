package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/eventlog"
	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// handleAdminLogs implements GET /admin/logs (spec §4.9, §6.1): cursor
// pagination only, offset pagination explicitly rejected.
func (s *Server) handleAdminLogs(c *gin.Context) {
	if off := c.Query("offset"); off != "" && off != "0" {
		writeError(c, gwerr.New(gwerr.InvalidRequest, "offset pagination is not supported; use cursor_at/cursor_id"))
		return
	}

	q := eventlog.Query{Limit: eventlog.DefaultLimit}
	if v := c.Query("cursor_at"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(c, gwerr.New(gwerr.InvalidRequest, "invalid cursor_at"))
			return
		}
		q.CursorAt = t
	}
	q.CursorID = c.Query("cursor_id")
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, gwerr.New(gwerr.InvalidRequest, "invalid limit"))
			return
		}
		q.Limit = n
	}
	q.IncludeBody = c.Query("include_body") == "true"
	if v := c.Query("kind"); v != "" {
		q.Kind = eventlog.Kind(v)
	}
	q.Provider = c.Query("provider")
	q.TraceID = c.Query("trace_id")

	records, err := s.deps.LogStore.QueryLogs(c.Request.Context(), q)
	if err != nil {
		writeError(c, gwerr.Wrap(gwerr.UpstreamTransport, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// handleGetGlobalConfig implements GET /admin/global_config (spec
// §6.1, §6.2).
func (s *Server) handleGetGlobalConfig(c *gin.Context) {
	snap := s.deps.Snapshots.Current()
	c.JSON(http.StatusOK, snap.Global())
}

// handlePutGlobalConfig implements PUT /admin/global_config: it replaces
// the Global section wholesale and atomically swaps the snapshot so
// every subsequent request sees it (spec §2.1's snapshot-swap
// invariant).
func (s *Server) handlePutGlobalConfig(c *gin.Context) {
	var g config.Global
	if err := c.ShouldBindJSON(&g); err != nil {
		writeError(c, gwerr.Wrap(gwerr.InvalidRequest, err))
		return
	}

	snap := s.deps.Snapshots.Current()
	cfg := *snap.Config()
	cfg.Global = g

	if err := s.deps.Persisted.Save(c.Request.Context(), &cfg); err != nil {
		writeError(c, gwerr.Wrap(gwerr.UpstreamTransport, err))
		return
	}
	s.deps.Snapshots.Swap(&cfg)
	c.JSON(http.StatusOK, g)
}
