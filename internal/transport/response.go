package transport

import (
	"net/http"
	"strconv"

	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/ds124wfegd/studio-booking/internal/transport/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var notFoundResponse = ErrorResponse{Error: "not found", Code: "NOT_FOUND"}

func statusFor(kind entity.ErrorKind) int {
	switch kind {
	case entity.KindValidation:
		return http.StatusBadRequest
	case entity.KindConflict:
		return http.StatusConflict
	case entity.KindPolicy:
		return http.StatusUnprocessableEntity
	case entity.KindNotFound, entity.KindAccessDenied:
		return http.StatusNotFound
	case entity.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err by its domain kind. A missing resource and a
// resource owned by someone else produce the same body.
func writeError(c *gin.Context, err error) {
	domainErr, ok := entity.AsError(err)
	if !ok {
		internalError(c, err)
		return
	}

	status := statusFor(domainErr.Kind)
	if status == http.StatusNotFound {
		c.JSON(status, notFoundResponse)
		return
	}
	c.JSON(status, ErrorResponse{Error: domainErr.Message, Code: domainErr.Code})
}

func internalError(c *gin.Context, err error) {
	logrus.WithFields(logrus.Fields{
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": middleware.RequestID(c),
		"error":      err,
	}).Error("Request failed with internal error")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: "INVALID_INPUT"})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		badRequest(c, "invalid limit")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

func currentUser(c *gin.Context) (int64, bool) {
	userID, err := middleware.CurrentUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: "UNAUTHORIZED"})
		return 0, false
	}
	return userID, true
}
