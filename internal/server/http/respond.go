package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"warden/internal/scheduler"
	"warden/internal/session"
)

type errorBody struct {
	Error string `json:"error"`
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, errorBody{Error: err.Error()})
	case errors.Is(err, scheduler.ErrTaskNotFound), errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrExpired):
		c.JSON(http.StatusGone, errorBody{Error: err.Error()})
	case errors.Is(err, scheduler.ErrTaskTerminal):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, scheduler.ErrEmptyPrompt),
		errors.Is(err, scheduler.ErrEmptyUserID):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}
