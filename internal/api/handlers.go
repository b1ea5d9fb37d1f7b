// Package api exposes the queue's public operations over HTTP: submit a
// task, read its status and audit log, and request a cooperative shutdown.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ingestq/internal/queue"
	"ingestq/internal/task"
)

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	TaskID      string          `json:"task_id"`
	Code        task.StatusCode `json:"code"`
	Complete    bool            `json:"complete"`
	DurationMS  int64           `json:"duration_ms"`
	ErrorDetail string          `json:"error_detail,omitempty"`
}

type API struct {
	queue *queue.Queue
}

func New(q *queue.Queue) *API {
	return &API{queue: q}
}

// RegisterRoutes registers the coordinator routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.SubmitTask)
		api.GET("/tasks/:id/status", a.GetStatus)
		api.GET("/tasks/:id/log", a.GetActionLog)
		api.POST("/tasks/:id/shutdown", a.ShutdownTask)
	}
}

// SubmitTask accepts a task definition and enqueues it.
func (a *API) SubmitTask(c *gin.Context) {
	var def task.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		log.Warn().Err(err).Msg("invalid task submission")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	id, err := a.queue.Add(c.Request.Context(), def)
	switch {
	case errors.Is(err, queue.ErrDuplicateTask):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, queue.ErrQueueStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		log.Warn().Str("task_id", def.ID).Err(err).Msg("task submission rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Info().Str("task_id", id).Str("type", string(def.Type)).Msg("task submitted")
		c.JSON(http.StatusCreated, submitResponse{TaskID: id})
	}
}

// GetStatus reports the task's lifecycle status.
func (a *API) GetStatus(c *gin.Context) {
	id := c.Param("id")
	st, err := a.queue.GetStatus(c.Request.Context(), id)
	if err != nil {
		a.renderLookupError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		TaskID:      st.TaskID,
		Code:        st.Code,
		Complete:    st.Complete(),
		DurationMS:  st.Duration.Milliseconds(),
		ErrorDetail: st.ErrorDetail,
	})
}

// GetActionLog returns the committed actions of a task.
func (a *API) GetActionLog(c *gin.Context) {
	id := c.Param("id")
	records, err := a.queue.ActionLog(c.Request.Context(), id)
	if err != nil {
		a.renderLookupError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "actions": records})
}

// ShutdownTask asks a running task to stop cooperatively.
func (a *API) ShutdownTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.queue.Shutdown(c.Request.Context(), id); err != nil {
		a.renderLookupError(c, id, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (a *API) renderLookupError(c *gin.Context, id string, err error) {
	if errors.Is(err, queue.ErrTaskNotFound) {
		log.Warn().Str("task_id", id).Msg("task not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	log.Error().Str("task_id", id).Err(err).Msg("task lookup failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
