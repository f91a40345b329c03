// Package httpapi wires the gin HTTP server: the downstream proxy surface
// (aggregate and provider-prefixed routes), OAuth start/callback, the
// per-credential usage endpoint, and the admin logs/global_config
// endpoints, dispatching every proxied request through route.Classify,
// dispatch.Engine, and internal/stream.
//
// Grounded on the teacher's internal/api/server.go: the same
// functional-options construction, gin.New() plus GinLogrusLogger/
// GinLogrusRecovery middleware ordering, and graceful Start/Stop.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/credential"
	"github.com/router-for-me/llmgateway/internal/dispatch"
	"github.com/router-for-me/llmgateway/internal/eventlog"
	"github.com/router-for-me/llmgateway/internal/logging"
	"github.com/router-for-me/llmgateway/internal/oauthflow"
	"github.com/router-for-me/llmgateway/internal/usage"
)

// Deps collects every core component the HTTP layer dispatches into.
// Built once at startup in cmd/gatewayd and handed to NewServer.
type Deps struct {
	Snapshots  *config.Store
	Persisted  config.PersistedStore
	Engine     *dispatch.Engine
	Registry   *credential.Registry
	EventSink  *eventlog.Sink
	LogStore   eventlog.Store
	UsageWrite *usage.Manager
	UsageRead  usage.Querier
	OAuth      *oauthflow.Machine
}

type serverOptions struct {
	middleware []gin.HandlerFunc
	configure  func(*gin.Engine)
}

// ServerOption customizes NewServer's gin construction, mirroring the
// teacher's ServerOption pattern.
type ServerOption func(*serverOptions)

// WithMiddleware appends extra gin middleware, installed after the base
// logging/recovery/CORS stack.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(o *serverOptions) { o.middleware = append(o.middleware, mw...) }
}

// WithRouterConfigurator runs an arbitrary hook against the constructed
// *gin.Engine before Start, e.g. to mount the embedded admin UI (spec §1:
// an out-of-scope external collaborator).
func WithRouterConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(o *serverOptions) { o.configure = fn }
}

// Server owns the gin engine and the underlying http.Server.
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds a Server with routes wired per spec §6.1.
func NewServer(deps Deps, addr string, opts ...ServerOption) *Server {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	logging.SetupBaseLogger()

	r := gin.New()
	r.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery(), corsMiddleware())
	r.Use(o.middleware...)

	s := &Server{deps: deps, engine: r}
	s.setupRoutes()

	if o.configure != nil {
		o.configure(r)
	}

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// setupRoutes registers three wildcard entry points (aggregate /v1,
// aggregate /v1beta, provider-prefixed /:provider) that all funnel into
// handleProxy, which itself dispatches on route.Classify's operation --
// including OAuth start/callback and the usage endpoint, which are
// operations in the same closed set rather than separately registered
// static routes. Gin's routing tree cannot mix a param child (:provider)
// with a catch-all (*path) at the same node alongside static siblings, so
// a single catch-all per prefix, branching internally, is required rather
// than one gin route per operation.
func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)

	downstream := s.engine.Group("")
	downstream.Use(s.authMiddleware())
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		downstream.Handle(method, "/v1/*path", s.handleProxy)
		downstream.Handle(method, "/v1beta/*path", s.handleProxy)
		downstream.Handle(method, "/:provider/*path", s.handleProxy)
	}

	admin := s.engine.Group("/admin")
	admin.Use(s.adminMiddleware())
	admin.GET("/logs", s.handleAdminLogs)
	admin.GET("/global_config", s.handleGetGlobalConfig)
	admin.PUT("/global_config", s.handlePutGlobalConfig)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start begins serving in the background; errors other than a clean
// shutdown are logged rather than returned, since the caller has already
// moved on to waiting on a signal.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
}

// Stop gracefully drains in-flight requests before returning, bounded by
// ctx (spec's supplemented graceful-shutdown requirement).
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, x-goog-api-key, x-admin-key, anthropic-version")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

