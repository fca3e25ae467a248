package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/panther-labs/rules-engine/internal/dispatch"
	"github.com/panther-labs/rules-engine/pkg/models"
)

// EngineStatus is the subset of engine.Engine the handlers depend on.
type EngineStatus interface {
	LastRefresh() time.Time
	RuleCount() (logTypes int, entries int)
	ReloadNow() error
}

// BufferStatus is the subset of buffer.Buffer the handlers depend on.
type BufferStatus interface {
	Size() int
	GroupCount() int
}

// Handlers contains the HTTP handlers
type Handlers struct {
	dispatcher *dispatch.Dispatcher
	engine     EngineStatus
	buffer     BufferStatus
}

// NewHandlers creates a new handlers instance
func NewHandlers(dispatcher *dispatch.Dispatcher, engine EngineStatus, buffer BufferStatus) *Handlers {
	return &Handlers{
		dispatcher: dispatcher,
		engine:     engine,
		buffer:     buffer,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Health check endpoint
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":       "healthy",
			"timestamp":    time.Now(),
			"last_refresh": h.engine.LastRefresh(),
		},
	})
}

// GetMetrics returns rule-index and buffer gauges
func (h *Handlers) GetMetrics(c *gin.Context) {
	logTypes, entries := h.engine.RuleCount()

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"indexed_log_types": logTypes,
			"indexed_rules":     entries,
			"buffer_bytes":      h.buffer.Size(),
			"buffer_groups":     h.buffer.GroupCount(),
		},
	})
}

// ReloadRules forces an immediate rule-index refresh from the control plane
func (h *Handlers) ReloadRules(c *gin.Context) {
	if err := h.engine.ReloadNow(); err != nil {
		c.JSON(http.StatusInternalServerError, APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Message: "rules reloaded successfully",
	})
}

// GetRuleTemplate returns the skeleton a new rule body should start from
func (h *Handlers) GetRuleTemplate(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    models.DefaultRuleTemplate(),
	})
}

// Analyze runs the dispatcher against the raw request body: a batch
// envelope or a direct-test payload, told apart the same way a worker
// invocation would.
func (h *Handlers) Analyze(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "failed to read request body",
		})
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), json.RawMessage(body))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    result,
	})
}
