package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"qosd-go/internal/models"
	"qosd-go/internal/services/collector"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Collector is the part of collector.Service the HTTP layer needs.
type Collector interface {
	Ingest(ctx context.Context, events []models.TelemetryEvent) int
	Recent() []models.TelemetryEvent
	Stored(ctx context.Context, limit int) ([]models.TelemetryEvent, error)
	PersonaStats() map[string]collector.PersonaStat
	Policies() map[string]models.PolicyEntry
	Policy(persona string) models.PolicyEntry
	SetPolicy(persona string, entry models.PolicyEntry) (string, models.PolicyEntry, error)
}

type CollectorHandler struct {
	collector Collector
	logger    logrus.FieldLogger
}

func NewCollectorHandler(c Collector, logger logrus.FieldLogger) *CollectorHandler {
	return &CollectorHandler{
		collector: c,
		logger:    logger,
	}
}

// RegisterRoutes registers the collector routes at the root, where routers
// and the log shipper expect them.
func (h *CollectorHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/policies", h.ListPolicies)
	router.GET("/policy/:persona", h.GetPolicy)
	router.POST("/policy", h.SetPolicy)

	router.GET("/telemetry/recent", h.Recent)
	router.GET("/telemetry/persona", h.PersonaStats)
	router.GET("/telemetry/stored", h.Stored)

	router.POST("/ingest", h.Ingest)
}

type policyRequest struct {
	Persona      string              `json:"persona"`
	PolicyAction models.PolicyAction `json:"policy_action"`
	Priority     models.Priority     `json:"priority"`
	DSCP         models.DSCP         `json:"dscp"`
}

// ListPolicies returns the policy table keyed by persona
// GET /policies
func (h *CollectorHandler) ListPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Policies())
}

// GetPolicy returns one persona's policy, or the "other" policy
// GET /policy/:persona
func (h *CollectorHandler) GetPolicy(c *gin.Context) {
	persona := c.Param("persona")
	c.JSON(http.StatusOK, gin.H{
		"persona": persona,
		"policy":  h.collector.Policy(persona),
	})
}

// SetPolicy creates or replaces a persona policy
// POST /policy
func (h *CollectorHandler) SetPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	persona, entry, err := h.collector.SetPolicy(req.Persona, models.PolicyEntry{
		PolicyAction: req.PolicyAction,
		Priority:     req.Priority,
		DSCP:         req.DSCP,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"persona": persona,
		"policy":  entry,
	})
}

// Recent returns the in-memory event window
// GET /telemetry/recent
func (h *CollectorHandler) Recent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": h.collector.Recent()})
}

// PersonaStats returns per-persona counters
// GET /telemetry/persona
func (h *CollectorHandler) PersonaStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"personas": h.collector.PersonaStats()})
}

// Stored reads events back from the durable store
// GET /telemetry/stored?limit=N
func (h *CollectorHandler) Stored(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	events, err := h.collector.Stored(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, collector.ErrNoStore) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to read stored events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Ingest accepts one event or an array of events
// POST /ingest
func (h *CollectorHandler) Ingest(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := decodeEvents(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := h.collector.Ingest(c.Request.Context(), events)
	h.logger.WithField("count", n).Debug("Ingested events")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func decodeEvents(body []byte) ([]models.TelemetryEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	if body[0] == '[' {
		var events []models.TelemetryEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var ev models.TelemetryEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return []models.TelemetryEvent{ev}, nil
}
