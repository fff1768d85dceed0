package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mira/internal/chat"
	"mira/internal/logging"
	"mira/internal/observability"
)

// ChatRequest is the inbound turn payload.
type ChatRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
	ImageB64    string `json:"image_b64"`
}

// ChatResponse is the turn result returned to the caller.
type ChatResponse struct {
	SessionID   string           `json:"session_id"`
	Reply       string           `json:"reply"`
	AvatarState string           `json:"avatar_state"`
	Debug       chat.Diagnostics `json:"debug"`
}

// HealthInfo describes the running service for the health endpoint.
type HealthInfo struct {
	Expressions int
	TextModel   string
	VisionModel string
}

// ChatHandler serves the turn-submission endpoint. After each response it
// runs an eviction sweep on the session store so expired sessions are removed
// without delaying any request's own response.
type ChatHandler struct {
	orchestrator  *chat.Orchestrator
	sessionMaxAge time.Duration
	health        HealthInfo
	metrics       *observability.Metrics
	logger        logging.Logger
}

// NewChatHandler wires the handler. metrics may be nil.
func NewChatHandler(orchestrator *chat.Orchestrator, sessionMaxAge time.Duration, health HealthInfo, metrics *observability.Metrics, logger logging.Logger) *ChatHandler {
	return &ChatHandler{
		orchestrator:  orchestrator,
		sessionMaxAge: sessionMaxAge,
		health:        health,
		metrics:       metrics,
		logger:        logging.OrNop(logger),
	}
}

// HandleChat runs one turn. A malformed request (missing message text) is the
// only way a turn fails outright; everything past validation degrades inside
// the pipeline and still produces a well-formed response.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_message is required"})
		return
	}

	// Sweep after the response is written.
	defer func() {
		store := h.orchestrator.Store()
		store.Sweep(h.sessionMaxAge)
		h.metrics.SetSessionsActive(store.Len())
	}()

	result := h.orchestrator.Turn(c.Request.Context(), chat.TurnRequest{
		SessionID:   req.SessionID,
		UserMessage: req.UserMessage,
		ImageB64:    req.ImageB64,
	})

	c.JSON(http.StatusOK, ChatResponse{
		SessionID:   result.SessionID,
		Reply:       result.Reply,
		AvatarState: result.Expression,
		Debug:       result.Debug,
	})
}

// HandleHealth reports basic service information.
func (h *ChatHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"expressions":  h.health.Expressions,
		"text_model":   h.health.TextModel,
		"vision_model": h.health.VisionModel,
	})
}
