package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Pipeline is the remediation surface the HTTP layer drives.
type Pipeline interface {
	Accept(signal models.IncidentSignal) models.RunResult
	Run(ctx context.Context, signal models.IncidentSignal) models.RunResult
	Get(incidentID string) (models.RunResult, bool)
	List() []models.RunResult
	ManualScale(ctx context.Context, direction string, count int) (map[string]any, error)
}

// RunbookReader exposes the learning corpus for inspection.
type RunbookReader interface {
	Load() ([]models.Precedent, error)
}

// PrecedentFinder runs similarity retrieval for the diagnostics endpoint.
type PrecedentFinder interface {
	RetrievePrecedents(signal models.IncidentSignal) []models.PrecedentMatch
}

// WorkloadLister reports live runtime state.
type WorkloadLister interface {
	ListRunning(ctx context.Context) ([]models.WorkloadInfo, error)
	Stats(ctx context.Context) ([]models.WorkloadStats, error)
	Topology(ctx context.Context) (models.Topology, error)
}

// LiveChannel serves websocket upgrades and reports subscriber count.
type LiveChannel interface {
	http.Handler
	Count() int
}

// Deps wires the HTTP server's collaborators.
type Deps struct {
	Pipeline  Pipeline
	Runbook   RunbookReader
	Finder    PrecedentFinder
	Workloads WorkloadLister
	Live      LiveChannel
	Logger    *slog.Logger
}

// Server is the HTTP front door: webhook ingress, status queries, manual
// scaling, diagnostics, and the live channel.
type Server struct {
	engine    *gin.Engine
	pipeline  Pipeline
	runbook   RunbookReader
	finder    PrecedentFinder
	workloads WorkloadLister
	live      LiveChannel
	logger    *slog.Logger
}

// NewServer builds the router with all routes registered.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), corsMiddleware())

	s := &Server{
		engine:    engine,
		pipeline:  deps.Pipeline,
		runbook:   deps.Runbook,
		finder:    deps.Finder,
		workloads: deps.Workloads,
		live:      deps.Live,
		logger:    logger,
	}
	s.routes()
	return s
}

// Handler returns the underlying router for binding to a listener.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.POST("/webhook", s.handleWebhook)
	s.engine.GET("/incidents", s.handleListIncidents)
	s.engine.GET("/incidents/:id", s.handleGetIncident)
	s.engine.POST("/scale/:direction", s.handleScale)
	s.engine.GET("/runbook", s.handleRunbook)
	s.engine.GET("/rag/test", s.handleRetrievalTest)
	s.engine.GET("/containers", s.handleContainers)
	s.engine.GET("/topology", s.handleTopology)
	s.engine.GET("/metrics/live", s.handleLiveMetrics)
	s.engine.GET("/health", s.handleHealth)
	if s.live != nil {
		s.engine.GET("/ws", gin.WrapH(s.live))
	}
}

// The dashboard may be served from any origin in lab deployments.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
