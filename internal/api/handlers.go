package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/runbook"
)

// handleWebhook accepts an incident, replies with the initial run state,
// and schedules remediation detached from the request cycle.
func (s *Server) handleWebhook(c *gin.Context) {
	var signal models.IncidentSignal
	if err := c.ShouldBindJSON(&signal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run := s.pipeline.Accept(signal)
	go s.pipeline.Run(context.Background(), signal)

	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetIncident(c *gin.Context) {
	run, ok := s.pipeline.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListIncidents(c *gin.Context) {
	runs := s.pipeline.List()
	c.JSON(http.StatusOK, gin.H{"incidents": runs, "total": len(runs)})
}

// handleScale applies an operator-triggered scale override.
func (s *Server) handleScale(c *gin.Context) {
	direction := c.Param("direction")
	if direction != "up" && direction != "down" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be up or down"})
		return
	}

	count, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil || count < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a non-negative integer"})
		return
	}

	out, err := s.pipeline.ManualScale(c.Request.Context(), direction, count)
	if err != nil {
		s.logger.Warn("manual scale failed",
			slog.String("direction", direction), slog.Any("error", err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRunbook(c *gin.Context) {
	entries, err := s.runbook.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
		"stats":   runbook.Summarize(entries),
	})
}

// handleRetrievalTest runs similarity retrieval against arbitrary query
// text, for offline inspection of what a diagnosis would see.
func (s *Server) handleRetrievalTest(c *gin.Context) {
	logs := c.Query("logs")
	if logs == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "logs query parameter required"})
		return
	}

	matches := s.finder.RetrievePrecedents(models.IncidentSignal{
		Logs:      logs,
		AlertType: c.Query("alert_type"),
	})
	c.JSON(http.StatusOK, gin.H{
		"query":   logs,
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handleContainers(c *gin.Context) {
	workloads, err := s.workloads.ListRunning(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"containers": workloads, "total": len(workloads)})
}

// handleTopology returns the service graph the dashboard renders.
func (s *Server) handleTopology(c *gin.Context) {
	topo, err := s.workloads.Topology(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, topo)
}

func (s *Server) handleLiveMetrics(c *gin.Context) {
	stats, err := s.workloads.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (s *Server) handleHealth(c *gin.Context) {
	subscribers := 0
	if s.live != nil {
		subscribers = s.live.Count()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "mirador-remediate",
		"subscribers": subscribers,
	})
}
