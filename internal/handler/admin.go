// Package handler exposes the thin administrative control surface over the
// scheduler: status, due-obligations, and lifecycle transitions.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"settlement-engine/internal/scheduler"
)

type AdminHandler struct {
	scheduler *scheduler.Scheduler
	apiKey    string
	// baseCtx outlives individual requests; cycles started over HTTP must
	// not die with the request that started them.
	baseCtx context.Context
}

func NewAdminHandler(baseCtx context.Context, s *scheduler.Scheduler, apiKey string) *AdminHandler {
	return &AdminHandler{scheduler: s, apiKey: apiKey, baseCtx: baseCtx}
}

// Register mounts the admin routes. Mutating routes sit behind the API key
// check; status reads are open.
func (h *AdminHandler) Register(router *gin.Engine) {
	router.GET("/status", h.Status)
	router.GET("/due-obligations", h.DueObligations)

	authed := router.Group("/", h.requireAPIKey())
	authed.POST("/start", h.Start)
	authed.POST("/stop", h.Stop)
	authed.POST("/trigger", h.Trigger)
}

func (h *AdminHandler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != h.apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *AdminHandler) Status(c *gin.Context) {
	st := h.scheduler.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"running":     st.Running,
		"dueCount":    st.DueCount,
		"lastChecked": st.LastChecked,
		"lastCycle":   st.LastCycle,
	})
}

func (h *AdminHandler) DueObligations(c *gin.Context) {
	summaries, err := h.scheduler.DueSummaries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dueObligations": summaries, "count": len(summaries)})
}

// Start is idempotent: starting a running scheduler is a no-op.
func (h *AdminHandler) Start(c *gin.Context) {
	h.scheduler.Start(h.baseCtx)
	c.JSON(http.StatusOK, gin.H{"running": true})
}

// Stop is idempotent: an in-flight cycle finishes, no new cycle is armed.
func (h *AdminHandler) Stop(c *gin.Context) {
	h.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// Trigger reports only whether a cycle was started; settlement outcomes are
// visible via /status after the cycle completes.
func (h *AdminHandler) Trigger(c *gin.Context) {
	if err := h.scheduler.TriggerNow(h.baseCtx); err != nil {
		if errors.Is(err, scheduler.ErrCycleInProgress) {
			c.JSON(http.StatusConflict, gin.H{"accepted": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"accepted": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}
