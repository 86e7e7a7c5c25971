package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"warden/internal/logging"
	"warden/internal/session"
)

// SessionHandler serves session CRUD.
type SessionHandler struct {
	store  session.Store
	logger logging.Logger
}

type createSessionRequest struct {
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Create opens a new session for a user.
func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	sess, err := h.store.Create(req.UserID, req.Metadata)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// Get returns one session; access slides its expiry.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.store.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// List returns the sessions of a user.
func (h *SessionHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "user_id query parameter is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.store.ListByUser(userID)})
}

// Delete removes a session.
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
