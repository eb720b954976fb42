// Package api is the HTTP control plane: session and workflow management,
// the pre-simulation pipeline, simulation control, event queries, remote
// agent operations and the two WebSocket upgrade points.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vibeforge/vibeforge/pkg/config"
	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/remote"
	"github.com/vibeforge/vibeforge/pkg/services"
	"github.com/vibeforge/vibeforge/pkg/sim"
)

// Deps carries the wired components the handlers drive.
type Deps struct {
	Coordinator *services.Coordinator
	Simulation  *sim.Controller
	Events      *events.Store
	Hub         *events.Hub
	Remote      *remote.Manager
	AgentWS     *remote.Handler

	// Gatherer backs GET /metrics. Nil falls back to the default registry.
	Gatherer prometheus.Gatherer

	// AuthTokens guards /control/*. Empty disables authentication.
	AuthTokens map[string]struct{}
}

// Server is the HTTP control plane.
type Server struct {
	coord   *services.Coordinator
	sim     *sim.Controller
	store   *events.Store
	hub     *events.Hub
	manager *remote.Manager
	agentWS *remote.Handler
	tokens  map[string]struct{}

	// syncDispatchWait bounds how long a direct-dispatch request blocks for
	// the agent's reply. The dispatch itself stays pending until the stale
	// sweep, so a late reply is not lost, only the synchronous wait ends.
	syncDispatchWait time.Duration

	upgrader websocket.Upgrader
	engine   *gin.Engine
	httpSrv  *http.Server
}

// NewServer builds the engine, middleware chain and route table. The server
// does not listen until Start.
func NewServer(cfg *config.Config, deps Deps) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	if len(cfg.Server.CORSOrigins) > 0 {
		cc := cors.DefaultConfig()
		cc.AllowOrigins = cfg.Server.CORSOrigins
		cc.AllowHeaders = append(cc.AllowHeaders, "Authorization")
		cc.AllowWebSockets = true
		engine.Use(cors.New(cc))
	}

	s := &Server{
		coord:            deps.Coordinator,
		sim:              deps.Simulation,
		store:            deps.Events,
		hub:              deps.Hub,
		manager:          deps.Remote,
		agentWS:          deps.AgentWS,
		tokens:           deps.AuthTokens,
		syncDispatchWait: syncDispatchWait(cfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		engine: engine,
	}
	s.routes(deps.Gatherer)

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// syncDispatchWait derives the synchronous dispatch wait from the dispatch
// timeout, capped under the server write timeout: a wait that outlives the
// write deadline could never deliver its response. WebSocket endpoints are
// unaffected, their connections are hijacked out of the server's deadlines.
func syncDispatchWait(cfg *config.Config) time.Duration {
	wait := cfg.Remote.DispatchTimeout
	if wait <= 0 {
		wait = 5 * time.Minute
	}
	if wt := cfg.Server.WriteTimeout; wt > 0 && wt*4/5 < wait {
		wait = wt * 4 / 5
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.engine.GET("/healthz", s.healthHandler)

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.engine.GET("/metrics", gin.WrapH(metricsHandler))

	s.engine.GET("/ws", s.observerWSHandler)
	s.engine.GET("/ws/agent", s.agentWSHandler)

	control := s.engine.Group("/control", bearerAuth(s.tokens))

	sessions := control.Group("/sessions")
	sessions.POST("", s.createSessionHandler)
	sessions.GET("", s.listSessionsHandler)
	sessions.GET("/:id", s.getSessionHandler)
	sessions.DELETE("/:id", s.deleteSessionHandler)

	sessions.POST("/:id/agents/init", s.initAgentsHandler)
	sessions.POST("/:id/agents/assign", s.assignAgentHandler)
	sessions.POST("/:id/task", s.setTaskHandler)
	sessions.POST("/:id/flows", s.setFlowsHandler)
	sessions.GET("/:id/workflow", s.workflowHandler)

	sessions.POST("/:id/questionnaire", s.questionnaireHandler)
	sessions.POST("/:id/pipeline/spec", s.generateBuildSpecHandler)
	sessions.POST("/:id/pipeline/idea", s.generateIdeaHandler)
	sessions.POST("/:id/pipeline/plan", s.generatePlanHandler)
	sessions.POST("/:id/pipeline/plan/review", s.reviewPlanHandler)
	sessions.POST("/:id/tasks/next", s.executeNextTaskHandler)
	sessions.POST("/:id/fail", s.failSessionHandler)

	sessions.POST("/:id/simulation/config", s.configureSimulationHandler)
	sessions.POST("/:id/simulation/start", s.startSimulationHandler)
	sessions.POST("/:id/simulation/reset", s.resetSimulationHandler)
	sessions.POST("/:id/simulation/pause", s.pauseSimulationHandler)
	sessions.POST("/:id/simulation/stop", s.stopSimulationHandler)
	sessions.POST("/:id/simulation/tick", s.advanceTickHandler)
	sessions.POST("/:id/simulation/ticks", s.advanceTicksHandler)
	sessions.GET("/:id/simulation/state", s.simulationStateHandler)

	sessions.GET("/:id/events", s.listEventsHandler)
	sessions.GET("/:id/events/filter", s.filterEventsHandler)

	agents := control.Group("/agents")
	agents.POST("/register", s.registerAgentHandler)
	agents.GET("", s.listAgentsHandler)
	agents.POST("/:id/dispatch", s.dispatchAgentHandler)
	agents.POST("/:id/followup", s.followupAgentHandler)
	agents.GET("/:id/events", s.agentEventsHandler)
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens and serves until Shutdown. Returns http.ErrServerClosed on
// a clean shutdown.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
