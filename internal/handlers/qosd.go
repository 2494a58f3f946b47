package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"qosd-go/internal/models"
	"qosd-go/internal/services/classifier"
	"qosd-go/internal/services/override"
	"qosd-go/internal/services/qosd"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Engine is the part of qosd.Service the HTTP layer needs.
type Engine interface {
	Classify(req *models.ClassificationRequest) classifier.Decision
	Apply(ctx context.Context, req override.ApplyRequest) (models.PersonaOverride, error)
	Live(ctx context.Context, limit int) []models.HostSummary
	Override(ip string) (models.PersonaOverride, bool)
	Overrides() []models.PersonaOverride
	ResetOverrides(ctx context.Context) error
	ResetHosts()
	Policies() []models.PersonaPolicy
}

// QosdHandler exposes classify, apply and live over HTTP.
type QosdHandler struct {
	engine Engine
	logger *zap.Logger
}

// NewQosdHandler creates a new qosd handler
func NewQosdHandler(engine Engine, logger *zap.Logger) *QosdHandler {
	return &QosdHandler{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes registers all qosd routes
func (h *QosdHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1/qosd")

	v1.POST("/classify", h.Classify)
	v1.POST("/apply", h.Apply)
	v1.GET("/live", h.Live)

	v1.GET("/overrides", h.ListOverrides)
	v1.GET("/overrides/:ip", h.GetOverride)
	v1.DELETE("/overrides", h.ResetOverrides)
	v1.DELETE("/hosts", h.ResetHosts)

	v1.GET("/policies", h.ListPolicies)
}

// Classify classifies one flow
// POST /api/v1/qosd/classify
func (h *QosdHandler) Classify(c *gin.Context) {
	var req models.ClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := h.engine.Classify(&req)
	c.JSON(http.StatusOK, gin.H{
		"persona":       d.Result.Persona,
		"category":      d.Result.Persona,
		"priority":      d.Result.Priority,
		"policy_action": d.Result.PolicyAction,
		"dscp":          d.Result.DSCP,
		"confidence":    d.Result.Confidence,
	})
}

// Apply creates or updates an address override
// POST /api/v1/qosd/apply
func (h *QosdHandler) Apply(c *gin.Context) {
	var req models.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ov, err := h.engine.Apply(c.Request.Context(), override.ApplyRequest{
		IP:           req.IP,
		Persona:      req.Persona,
		Priority:     req.Priority,
		PolicyAction: req.PolicyAction,
		DSCP:         req.DSCP,
		Confidence:   req.Confidence,
		Alpha:        req.Alpha,
	})
	if err != nil {
		h.logger.Warn("Failed to apply override", zap.String("ip", req.IP), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.OverrideResponse{
		OK:         true,
		IP:         ov.IP,
		Persona:    ov.Persona,
		Confidence: ov.Confidence,
		Updates:    ov.Updates,
	})
}

// Live returns the busiest hosts; limit=0 returns all of them
// GET /api/v1/qosd/live?limit=N
func (h *QosdHandler) Live(c *gin.Context) {
	limit := qosd.DefaultLiveLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	hosts := h.engine.Live(c.Request.Context(), limit)
	c.JSON(http.StatusOK, models.LiveResponse{Hosts: hosts})
}

// ListOverrides returns every override
// GET /api/v1/qosd/overrides
func (h *QosdHandler) ListOverrides(c *gin.Context) {
	overrides := h.engine.Overrides()
	c.JSON(http.StatusOK, gin.H{
		"overrides": overrides,
		"count":     len(overrides),
	})
}

// GetOverride returns the override for one address
// GET /api/v1/qosd/overrides/:ip
func (h *QosdHandler) GetOverride(c *gin.Context) {
	ip := strings.TrimSpace(c.Param("ip"))
	ov, ok := h.engine.Override(ip)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Override not found"})
		return
	}
	c.JSON(http.StatusOK, ov)
}

// ResetOverrides drops every override
// DELETE /api/v1/qosd/overrides
func (h *QosdHandler) ResetOverrides(c *gin.Context) {
	if err := h.engine.ResetOverrides(c.Request.Context()); err != nil {
		h.logger.Error("Failed to reset overrides", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Overrides reset"})
}

// ResetHosts forgets every tracked host
// DELETE /api/v1/qosd/hosts
func (h *QosdHandler) ResetHosts(c *gin.Context) {
	h.engine.ResetHosts()
	c.JSON(http.StatusOK, gin.H{"message": "Hosts reset"})
}

// ListPolicies returns the active persona policies
// GET /api/v1/qosd/policies
func (h *QosdHandler) ListPolicies(c *gin.Context) {
	policies := h.engine.Policies()
	c.JSON(http.StatusOK, gin.H{
		"policies": policies,
		"count":    len(policies),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, override.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, override.ErrStoreFull):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
