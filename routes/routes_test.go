package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"request-routing-api/controllers"
	"request-routing-api/middleware"
	"request-routing-api/models"
	"request-routing-api/services"
	"request-routing-api/utils"
	"request-routing-api/workflow"
)

const testSecret = "route-test-secret"

type apiFixture struct {
	router        *gin.Engine
	clock         *clocktesting.FakeClock
	notifications *services.MemoryNotificationStore
	users         map[string]models.User
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := utils.HashPassword("correct-horse")
	require.NoError(t, err)
	users := map[string]models.User{
		"college": {UserID: 5, UserFname: "Hill", UserLname: "College", Email: "college@example.org", Password: hash, RoleCode: workflow.RoleCollege},
		"oe":      {UserID: 1, UserFname: "Olive", Email: "oe@example.org", Password: hash, RoleCode: workflow.RoleOE},
		"cro":     {UserID: 2, UserFname: "Cora", Email: "cro@example.org", Password: hash, RoleCode: workflow.RoleCRO},
		"admin":   {UserID: 9, UserFname: "Admin", Email: "admin@example.org", Password: hash, IsSuperuser: true},
	}
	all := make([]models.User, 0, len(users))
	for _, u := range users {
		all = append(all, u)
	}

	clk := clocktesting.NewFakeClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	ids := services.NewStaticIdentityProvider(all...)
	repo := services.NewMemorySubmissionRepository(clk)
	store := services.NewMemoryNotificationStore()

	dispatcher := services.NewNotificationDispatcher(
		services.NewMemoryDeliveryStore(),
		ids,
		services.NewNotificationRenderer(nil),
		services.DispatcherOptions{Workers: 1, QueueSize: 16, Clock: clk},
		services.NewInAppSink(store),
	)
	dispatcher.Start()
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	wf := services.NewWorkflowService(repo, ids, services.NewFileAttachmentStore(t.TempDir()), dispatcher,
		services.WorkflowOptions{RequestPrefix: "REQ", BaseURL: "https://desk.example.org", Clock: clk})

	router := gin.New()
	SetupRoutes(router, Deps{
		JWTSecret:     testSecret,
		Identities:    ids,
		Auth:          controllers.NewAuthController(ids, testSecret, time.Hour, nil),
		Submissions:   controllers.NewSubmissionController(wf, services.NewHistoryService(repo, ids), services.NewProjectionService(repo, ids)),
		Notifications: controllers.NewNotificationController(services.NewNotificationService(store, clk)),
		Health:        controllers.NewHealthController(nil),
	})
	return &apiFixture{router: router, clock: clk, notifications: store, users: users}
}

func (f *apiFixture) token(t *testing.T, who string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, f.users[who], time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, who string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	f.clock.Step(time.Second)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, who))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/login", "", gin.H{"email": "OE@example.org", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	pw := httptest.NewRecorder()
	f.router.ServeHTTP(pw, req)
	assert.Equal(t, http.StatusOK, pw.Code)
	assert.Contains(t, pw.Body.String(), `"role_label"`)

	w, _ = f.do(t, http.MethodPost, "/api/v1/login", "", gin.H{"email": "oe@example.org", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/login", "", gin.H{"email": "nobody@example.org", "password": "correct-horse"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/login", "", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/v1/submissions/assigned", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := middleware.IssueToken("other-secret", f.users["oe"], time.Hour, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions/assigned", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/submissions/assigned", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmissionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/submissions", "college", gin.H{"title": "Science fair", "description": "Hall booking"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := body["submission"].(map[string]any)
	assert.Equal(t, "REQ0001", sub["request_number"])
	assert.Equal(t, "OE", sub["assigned_role"])

	w, body = f.do(t, http.MethodGet, "/api/v1/submissions/assigned", "oe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	// CRO is not responsible for the current step.
	w, _ = f.do(t, http.MethodPost, "/api/v1/submissions/1/actions", "cro", gin.H{"action": "forward", "remark": "checked"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = f.do(t, http.MethodPost, "/api/v1/submissions/1/actions", "oe", gin.H{"action": "teleport"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "action", body["field"])

	w, _ = f.do(t, http.MethodPost, "/api/v1/submissions/1/actions", "oe", gin.H{"action": "forward", "selections": []string{"Janitor"}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body = f.do(t, http.MethodPost, "/api/v1/submissions/1/actions", "oe", gin.H{"action": "forward", "selections": []string{"CRO"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := body["result"].(map[string]any)
	assert.Equal(t, "CRO", result["submission"].(map[string]any)["assigned_role"])

	w, body = f.do(t, http.MethodGet, "/api/v1/submissions/1/history", "oe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["items"], 2)

	w, _ = f.do(t, http.MethodGet, "/api/v1/submissions/1/history", "college", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = f.do(t, http.MethodGet, "/api/v1/submissions/1/audit", "oe", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["consistent"])

	w, _ = f.do(t, http.MethodGet, "/api/v1/submissions/1/audit", "college", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/submissions/42", "oe", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/v1/submissions/abc", "oe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCorrectContentIsPrivileged(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodPost, "/api/v1/submissions", "college", gin.H{"title": "Trip"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.do(t, http.MethodPut, "/api/v1/submissions/1/content", "oe", gin.H{"title": "Field trip"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := f.do(t, http.MethodPut, "/api/v1/submissions/1/content", "admin", gin.H{"title": "Field trip"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Field trip", body["submission"].(map[string]any)["title"])
}

func TestAssignmentNotifiesIntakeInApp(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodPost, "/api/v1/submissions", "college", gin.H{"title": "Open day"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Eventually(t, func() bool {
		return len(f.notifications.All()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w, body := f.do(t, http.MethodGet, "/api/v1/notifications/counter", "oe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["unread"])

	w, body = f.do(t, http.MethodPatch, "/api/v1/notifications/read-all", "oe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["updated"])

	w, body = f.do(t, http.MethodGet, "/api/v1/notifications/counter", "oe", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["unread"])
}

func TestPublicAndFallbackRoutes(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = f.do(t, http.MethodGet, "/api/v1/roles", "college", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["roles"], len(workflow.Roles()))

	w, _ = f.do(t, http.MethodGet, "/api/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// An empty LOGS_TOKEN disables the endpoint.
	w, _ = f.do(t, http.MethodGet, "/logs?token=", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
