package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/service/chat"
	"github.com/sandevgo/chatd/internal/service/stream"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func statusFor(err error) int {
	var (
		turnErr     *chat.TurnError
		notFoundErr *core.ToolNotFoundError
		execErr     *core.ToolExecutionError
	)

	switch {
	case errors.Is(err, chat.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.As(err, &execErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrInvalidConfiguration),
		errors.Is(err, core.ErrUnsupportedCapability),
		errors.Is(err, core.ErrMissingCredential):
		return http.StatusBadRequest
	case errors.As(err, &turnErr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, stream.ErrNoStream),
		errors.As(err, &notFoundErr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors hide the detail.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)

	status := statusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		detail = http.StatusText(status)
	}
	c.JSON(status, errorResponse{Detail: detail})
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, errorResponse{Detail: detail})
}
