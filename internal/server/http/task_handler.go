package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"warden/internal/logging"
	"warden/internal/scheduler"
	"warden/internal/server/app"
)

// TaskHandler serves the task lifecycle endpoints.
type TaskHandler struct {
	scheduler   *scheduler.Scheduler
	broadcaster *app.Broadcaster
	logger      logging.Logger
}

// Submit accepts a task submission and returns the queued task.
func (h *TaskHandler) Submit(c *gin.Context) {
	var req scheduler.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	task, err := h.scheduler.Submit(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// Get returns one task snapshot.
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.scheduler.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// List returns all known tasks, newest first.
func (h *TaskHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.scheduler.List()})
}

// Cancel requests cancellation of a queued or running task.
func (h *TaskHandler) Cancel(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.scheduler.Cancel(taskID); err != nil {
		respondError(c, err)
		return
	}
	task, err := h.scheduler.Get(taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Events returns the retained stream history of a task so clients can
// catch up without holding a live stream open.
func (h *TaskHandler) Events(c *gin.Context) {
	taskID := c.Param("id")
	if _, err := h.scheduler.Get(taskID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": h.broadcaster.History(taskID)})
}
