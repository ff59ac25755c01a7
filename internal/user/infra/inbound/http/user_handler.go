package http

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/user/application"
	"github.com/davicafu/usersync/internal/user/domain"
)

// UserHandler encapsula los endpoints HTTP relacionados con User
type UserHandler struct {
	service *application.UserService
	log     *zap.Logger
}

// NewUserHandler crea un nuevo UserHandler
func NewUserHandler(service *application.UserService, log *zap.Logger) *UserHandler {
	return &UserHandler{service: service, log: log}
}

// ---------------- Handlers ----------------

// CreateUser endpoint POST /users
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req application.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, h.log, fmt.Errorf("%w: malformed body", domain.ErrInvalidData))
		return
	}

	evt, err := h.service.CreateUser(c.Request.Context(), &req)
	if err != nil {
		sendError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}

// GetUser endpoint GET /users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		sendError(c, h.log, err)
		return
	}

	user, err := h.service.GetUser(c.Request.Context(), id)
	if err != nil {
		sendError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListUsers endpoint GET /users
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.service.ListUsers(c.Request.Context())
	if err != nil {
		sendError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// UpdateUser endpoint PUT /users/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		sendError(c, h.log, err)
		return
	}

	var req application.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, h.log, fmt.Errorf("%w: malformed body", domain.ErrInvalidData))
		return
	}

	evt, err := h.service.UpdateUser(c.Request.Context(), id, &req)
	if err != nil {
		sendError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// DeleteUser endpoint DELETE /users/:id
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		sendError(c, h.log, err)
		return
	}

	evt, err := h.service.DeleteUser(c.Request.Context(), id)
	if err != nil {
		sendError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// EmailExists endpoint GET /users/exists?email=
func (h *UserHandler) EmailExists(c *gin.Context) {
	exists, err := h.service.EmailExists(c.Request.Context(), c.Query("email"))
	if err != nil {
		sendError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid user id", domain.ErrInvalidData)
	}
	return id, nil
}
