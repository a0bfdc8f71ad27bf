package transport

import (
	"errors"
	"net/http"

	"github.com/ds124wfegd/studio-booking/pkg/queue"

	"github.com/gin-gonic/gin"
)

// TaskHandler exposes the notification dead letter queue to admins.
type TaskHandler struct {
	dlq queue.DLQHandler
}

func NewTaskHandler(dlq queue.DLQHandler) *TaskHandler {
	return &TaskHandler{dlq: dlq}
}

func (h *TaskHandler) GetFailedTasks(c *gin.Context) {
	limit, ok := listLimit(c)
	if !ok {
		return
	}

	tasks, err := h.dlq.GetFailedTasks(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (h *TaskHandler) RequeueTask(c *gin.Context) {
	taskID := c.Param("id")

	err := h.dlq.RequeueFailedTask(c.Request.Context(), taskID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, notFoundResponse)
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requeued": taskID})
}
