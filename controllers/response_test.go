package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"request-routing-api/services"
	"request-routing-api/workflow"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&workflow.AssignmentError{Actor: workflow.RoleCRO, Current: workflow.RoleOE}, http.StatusForbidden},
		{&workflow.InvalidTransitionError{Reason: "closed"}, http.StatusUnprocessableEntity},
		{&workflow.ValidationError{Field: "remark", Reason: "required"}, http.StatusBadRequest},
		{fmt.Errorf("act: %w", &workflow.ConflictError{SubmissionID: 3}), http.StatusConflict},
		{services.ErrSubmissionNotFound, http.StatusNotFound},
		{fmt.Errorf("open: %w", services.ErrAttachmentNotFound), http.StatusNotFound},
		{services.ErrNotificationNotFound, http.StatusNotFound},
		{services.ErrUserNotFound, http.StatusUnauthorized},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}

func respond(err error) (int, map[string]any) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	respondError(c, err)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestRespondErrorBodies(t *testing.T) {
	code, body := respond(&workflow.ConflictError{SubmissionID: 4})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, true, body["retryable"])

	code, body = respond(&workflow.ValidationError{Field: "title", Reason: "title is required"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "title", body["field"])

	code, body = respond(errors.New("dsn password=hunter2 rejected"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestParseRoleList(t *testing.T) {
	roles, err := parseRoleList([]string{"CRO, PRO", " FO "})
	require.NoError(t, err)
	assert.Equal(t, []workflow.Role{workflow.RoleCRO, workflow.RolePRO, workflow.RoleFO}, roles)

	roles, err = parseRoleList(nil)
	require.NoError(t, err)
	assert.Nil(t, roles)

	_, err = parseRoleList([]string{"CRO,Janitor"})
	var terr *workflow.InvalidTransitionError
	assert.True(t, errors.As(err, &terr))
}

func TestParsePaging(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for query, want := range map[string][2]int{
		"":                   {20, 0},
		"?limit=50&offset=7": {50, 7},
		"?limit=999":         {20, 0},
		"?limit=-1&offset=x": {20, 0},
	} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+query, nil)
		limit, offset := parsePaging(c)
		assert.Equal(t, want, [2]int{limit, offset}, query)
	}
}
