package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"request-routing-api/middleware"
	"request-routing-api/services"
	"request-routing-api/workflow"
)

func getCurrentUserID(c *gin.Context) (uint, bool) {
	if v, ok := c.Get(middleware.ContextUserID); ok {
		if id, ok := v.(uint); ok && id != 0 {
			return id, true
		}
	}
	return 0, false
}

func requireUser(c *gin.Context) (uint, bool) {
	uid, ok := getCurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return uid, ok
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

func parsePaging(c *gin.Context) (limit, offset int) {
	limit = 20
	if v, err := strconv.Atoi(strings.TrimSpace(c.Query("limit"))); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(c.Query("offset"))); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func parseRoleList(values []string) ([]workflow.Role, error) {
	var codes []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				codes = append(codes, p)
			}
		}
	}
	if len(codes) == 0 {
		return nil, nil
	}
	return workflow.ParseRoles(codes)
}

// statusForError maps the service error taxonomy onto HTTP.
func statusForError(err error) int {
	var (
		assignment *workflow.AssignmentError
		transition *workflow.InvalidTransitionError
		validation *workflow.ValidationError
	)
	switch {
	case errors.As(err, &assignment):
		return http.StatusForbidden
	case errors.As(err, &transition):
		return http.StatusUnprocessableEntity
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case workflow.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, services.ErrSubmissionNotFound),
		errors.Is(err, services.ErrAttachmentNotFound),
		errors.Is(err, services.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUserNotFound):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if status == http.StatusConflict {
		body["retryable"] = true
	}
	var validation *workflow.ValidationError
	if errors.As(err, &validation) && validation.Field != "" {
		body["field"] = validation.Field
	}
	c.JSON(status, body)
}
