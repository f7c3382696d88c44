package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	clocktesting "k8s.io/utils/clock/testing"

	"request-routing-api/models"
	"request-routing-api/services"
	"request-routing-api/utils"
	"request-routing-api/workflow"
)

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, ...workflow.Intent) {}

func TestHashPlaintextPasswords(t *testing.T) {
	existing, err := utils.HashPassword("already")
	require.NoError(t, err)

	users := []models.User{
		{UserID: 1, Email: "plain@example.org", Password: "secret123"},
		{UserID: 2, Email: "hashed@example.org", Password: existing},
		{UserID: 3, Email: "empty@example.org"},
	}
	saved := map[uint]string{}
	updated, failed := hashPlaintextPasswords(users, func(u models.User, hash string) error {
		saved[u.UserID] = hash
		return nil
	})

	assert.Equal(t, 1, updated)
	assert.Equal(t, 0, failed)
	require.Contains(t, saved, uint(1))
	assert.True(t, utils.CheckPasswordHash("secret123", saved[1]))
	assert.NotContains(t, saved, uint(2))
	assert.NotContains(t, saved, uint(3))
}

func TestHashPlaintextPasswordsCountsSaveFailures(t *testing.T) {
	users := []models.User{{UserID: 1, Email: "a@example.org", Password: "one"}, {UserID: 2, Email: "b@example.org", Password: "two"}}
	updated, failed := hashPlaintextPasswords(users, func(u models.User, _ string) error {
		if u.UserID == 2 {
			return errors.New("locked")
		}
		return nil
	})
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, failed)
}

func TestRunAuditByIDAndNumber(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	repo := services.NewMemorySubmissionRepository(clk)
	college := models.User{UserID: 5, Email: "college@example.org", RoleCode: workflow.RoleCollege}
	oe := models.User{UserID: 1, Email: "oe@example.org", RoleCode: workflow.RoleOE}
	ids := services.NewStaticIdentityProvider(college, oe)
	svc := services.NewWorkflowService(repo, ids, services.NewFileAttachmentStore(t.TempDir()), discardPublisher{},
		services.WorkflowOptions{RequestPrefix: "REQ", Clock: clk})

	sub, err := svc.CreateSubmission(context.Background(), services.CreateSubmissionInput{
		ActorID: college.UserID,
		Title:   "Lab equipment",
	})
	require.NoError(t, err)

	history := services.NewHistoryService(repo, ids)
	for _, ref := range []string{"1", sub.RequestNumber} {
		var out bytes.Buffer
		require.NoError(t, runAudit(context.Background(), repo, history, ref, &out), ref)

		var audit workflow.Audit
		require.NoError(t, json.Unmarshal(out.Bytes(), &audit))
		assert.Len(t, audit.Steps, 1)
		assert.Equal(t, workflow.RoleOE, audit.Current)
		assert.False(t, audit.Closed)
	}
}

func TestRunAuditUnknownSubmission(t *testing.T) {
	repo := services.NewMemorySubmissionRepository(clocktesting.NewFakeClock(time.Now()))
	history := services.NewHistoryService(repo, services.NewStaticIdentityProvider())

	var out bytes.Buffer
	err := runAudit(context.Background(), repo, history, "REQ9999", &out)
	assert.ErrorIs(t, err, services.ErrSubmissionNotFound)
	assert.Empty(t, out.String())
}

func TestRootCommandSurfacesDatabaseErrors(t *testing.T) {
	dbErr := errors.New("connect database: refused")
	a := &app{
		openDB: func() (*gorm.DB, error) { return nil, dbErr },
		out:    &bytes.Buffer{},
	}
	for _, args := range [][]string{{"migrate"}, {"hash-passwords"}, {"redeliver"}, {"audit", "REQ0001"}} {
		root := newRootCommand(a)
		root.SetArgs(args)
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		assert.ErrorIs(t, root.Execute(), dbErr, args[0])
	}
}

func TestAuditRequiresOneArgument(t *testing.T) {
	opened := false
	a := &app{
		openDB: func() (*gorm.DB, error) { opened = true; return nil, errors.New("unused") },
		out:    &bytes.Buffer{},
	}
	root := newRootCommand(a)
	root.SetArgs([]string{"audit"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
	assert.False(t, opened)
}

func TestBuildUser(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	user, err := buildUser(newUserInput{Email: " CRO@Example.org ", FirstName: "Cora", Role: "CRO", Password: "change-me-now"}, now)
	require.NoError(t, err)
	assert.Equal(t, "cro@example.org", user.Email)
	assert.Equal(t, workflow.RoleCRO, user.RoleCode)
	assert.True(t, utils.CheckPasswordHash("change-me-now", user.Password))
	assert.Equal(t, now, *user.CreateAt)

	admin, err := buildUser(newUserInput{Email: "root@example.org", Password: "change-me-now", Superuser: true}, now)
	require.NoError(t, err)
	assert.True(t, admin.IsSuperuser)
	assert.True(t, admin.RoleCode.IsZero())

	var verr *workflow.ValidationError
	_, err = buildUser(newUserInput{Email: "nope", Role: "CRO", Password: "change-me-now"}, now)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)

	_, err = buildUser(newUserInput{Email: "a@example.org", Role: "CRO", Password: "short"}, now)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)

	_, err = buildUser(newUserInput{Email: "a@example.org", Password: "change-me-now"}, now)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "role", verr.Field)

	var terr *workflow.InvalidTransitionError
	_, err = buildUser(newUserInput{Email: "a@example.org", Role: "Janitor", Password: "change-me-now"}, now)
	assert.ErrorAs(t, err, &terr)
}
