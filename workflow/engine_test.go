package workflow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	oe      = Actor{ID: 1, Role: RoleOE, DisplayName: "Office Executive"}
	cro     = Actor{ID: 2, Role: RoleCRO, DisplayName: "Community Relations"}
	pro     = Actor{ID: 3, Role: RolePRO, DisplayName: "Public Relations"}
	dir     = Actor{ID: 4, Role: RoleDirector, DisplayName: "Director"}
	college = Actor{ID: 5, Role: RoleCollege, DisplayName: "St. Mary College"}
	fo      = Actor{ID: 6, Role: RoleFO, DisplayName: "Finance"}
	admin   = Actor{ID: 9, DisplayName: "Admin", Privileged: true}
)

func act(t *testing.T, s State, cmd Command) (State, Transition) {
	t.Helper()
	if cmd.At.IsZero() {
		cmd.At = t0.Add(time.Duration(len(s.History)) * time.Minute)
	}
	tr, err := Decide(s, cmd)
	require.NoError(t, err)
	return s.Apply(tr), tr
}

func open(t *testing.T, creator Actor, selections ...Role) State {
	t.Helper()
	s, intents, err := Open(creator, selections, "", t0)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	return s
}

func TestScenarioIntakeOriginatedReachesTerminal(t *testing.T) {
	s := open(t, oe, RoleCRO, RolePRO)
	assert.Equal(t, Plan{RoleOE, RoleCRO, RolePRO, RoleDirector}, s.Plan)
	assert.Equal(t, RoleCRO, s.Current)
	assert.Equal(t, StatusForwarded, s.Status)

	s, tr := act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "checked"})
	assert.Equal(t, RolePRO, s.Current)
	assert.Equal(t, StatusProcessing, s.Status)
	require.Len(t, tr.Intents, 1)
	assert.Equal(t, EventAssigned, tr.Intents[0].Event)
	assert.Equal(t, RolePRO, tr.Intents[0].RecipientRole)

	s, _ = act(t, s, Command{Actor: pro, Action: ActionForward, Remark: "fine"})
	assert.Equal(t, RoleDirector, s.Current)
	assert.Equal(t, StatusPending, s.Status)
}

func TestScenarioRejectRelaysThenCloses(t *testing.T) {
	s := open(t, college)
	s, _ = act(t, s, Command{Actor: oe, Action: ActionForward})
	require.Equal(t, RoleDirector, s.Current)

	s, tr := act(t, s, Command{Actor: dir, Action: ActionReject, Remark: "budget exceeded"})
	assert.Equal(t, StatusRejected, s.Status)
	assert.Equal(t, RoleOE, s.Current)
	assert.False(t, s.Closed)
	assert.Equal(t, RoleOE, tr.Intents[0].RecipientRole)

	s, tr = act(t, s, Command{Actor: oe, Action: ActionForward, Remark: "sending back"})
	assert.Equal(t, StatusRejected, s.Status)
	assert.Equal(t, RoleCollege, s.Current)
	assert.True(t, s.Closed)
	require.Len(t, tr.Intents, 1)
	assert.Equal(t, EventRelayed, tr.Intents[0].Event)
	assert.Equal(t, college.ID, tr.Intents[0].RecipientID)

	for _, cmd := range []Command{
		{Actor: college, Action: ActionForward, Remark: "again"},
		{Actor: oe, Action: ActionForward, Remark: "again"},
		{Actor: dir, Action: ActionApprove, Remark: "changed my mind"},
	} {
		_, err := Decide(s, cmd)
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
	}
}

func TestRelayOfIntakeOriginatedCompletes(t *testing.T) {
	s := open(t, oe)
	require.Equal(t, RoleDirector, s.Current)
	s, _ = act(t, s, Command{Actor: dir, Action: ActionApprove, Remark: "ok"})
	s, tr := act(t, s, Command{Actor: oe, Action: ActionForward, Remark: "done"})

	assert.True(t, s.Closed)
	assert.True(t, s.Current.IsZero())
	assert.Equal(t, StatusApproved, s.Status)
	require.Len(t, tr.Intents, 1)
	assert.Equal(t, EventCompleted, tr.Intents[0].Event)
	assert.Equal(t, oe.ID, tr.Intents[0].RecipientID)
}

func TestScenarioReassignInsertsBeforeTerminal(t *testing.T) {
	s := open(t, oe, RoleCRO)
	s, _ = act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "ok"})

	s, tr := act(t, s, Command{Actor: dir, Action: ActionReassign, ReassignTo: RoleFO, Remark: "need costing"})
	assert.Equal(t, Plan{RoleOE, RoleCRO, RoleFO, RoleDirector}, s.Plan)
	assert.Equal(t, RoleFO, s.Current)
	assert.Equal(t, StatusReAssign, s.Status)
	assert.Equal(t, EventReassigned, tr.Intents[0].Event)

	s, _ = act(t, s, Command{Actor: fo, Action: ActionForward, Remark: "costed"})
	assert.Equal(t, RoleDirector, s.Current)
	assert.Equal(t, StatusPending, s.Status)
}

func TestReassignToRoleAlreadyInPlanReturnsToTerminal(t *testing.T) {
	s := open(t, oe, RoleCRO, RolePRO)
	s, _ = act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "ok"})
	s, _ = act(t, s, Command{Actor: pro, Action: ActionForward, Remark: "ok"})

	s, _ = act(t, s, Command{Actor: dir, Action: ActionReassign, ReassignTo: RoleCRO, Remark: "recheck"})
	assert.Equal(t, Plan{RoleOE, RoleCRO, RolePRO, RoleDirector}, s.Plan)

	s, _ = act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "rechecked"})
	assert.Equal(t, RoleDirector, s.Current, "PRO must not be asked again")
}

func TestReassignRejectsNonIntermediateTargets(t *testing.T) {
	s := open(t, oe)
	for _, target := range []Role{RoleOE, RoleDirector, RoleCollege} {
		_, err := Decide(s, Command{Actor: dir, Action: ActionReassign, ReassignTo: target, Remark: "x", At: t0.Add(time.Hour)})
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "target %s", target)
	}

	_, err := Decide(s, Command{Actor: dir, Action: ActionReassign, ReassignTo: "Dean", Remark: "x"})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = Decide(s, Command{Actor: dir, Action: ActionReassign, Remark: "x"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "reassign_to", validation.Field)
}

func TestScenarioOriginatorLandsOnIntake(t *testing.T) {
	s := open(t, college)
	assert.Equal(t, Plan{RoleCollege, RoleOE}, s.Plan)
	assert.Equal(t, RoleOE, s.Current)
	require.Len(t, s.History, 1)
	assert.Equal(t, "College assigned the request directly to OE.", s.History[0].Remark)

	s, _ = act(t, s, Command{Actor: oe, Action: ActionForward, Selections: []Role{RolePRO, RoleCRO, RolePRO}})
	assert.Equal(t, Plan{RoleCollege, RoleOE, RolePRO, RoleCRO, RoleDirector}, s.Plan)
	assert.Equal(t, RolePRO, s.Current)
	last, ok := s.History.Latest()
	require.True(t, ok)
	assert.Equal(t, "Created routing plan", last.Remark)
}

func TestAssignmentErrors(t *testing.T) {
	s := open(t, oe, RoleCRO)

	_, err := Decide(s, Command{Actor: pro, Action: ActionForward, Remark: "x"})
	var assignment *AssignmentError
	require.ErrorAs(t, err, &assignment)
	assert.Equal(t, RoleCRO, assignment.Current)

	_, err = Decide(s, Command{Actor: dir, Action: ActionApprove, Remark: "x"})
	require.ErrorAs(t, err, &assignment)
}

func TestPrivilegedActsOnBehalfOfCurrentRole(t *testing.T) {
	s := open(t, oe, RoleCRO)
	s, _ = act(t, s, Command{Actor: admin, Action: ActionForward, Remark: "covering"})

	last, _ := s.History.Latest()
	assert.Equal(t, RoleCRO, last.ActorRole)
	assert.Equal(t, admin.ID, last.ActorID)
	assert.True(t, last.Override)
	assert.Equal(t, RoleDirector, s.Current)
}

func TestIdempotentCycle(t *testing.T) {
	s := open(t, oe, RoleCRO)
	stale := s
	s, _ = act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "ok"})

	// A state where CRO is still recorded as current after it acted.
	stale.History = s.History
	_, err := Decide(stale, Command{Actor: cro, Action: ActionForward, Remark: "twice"})
	var assignment *AssignmentError
	require.ErrorAs(t, err, &assignment)
	assert.Contains(t, err.Error(), "already acted")
}

func TestRemarkRequired(t *testing.T) {
	s := open(t, oe, RoleCRO)
	_, err := Decide(s, Command{Actor: cro, Action: ActionForward, Remark: "   "})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "remark", validation.Field)
}

func TestActionRules(t *testing.T) {
	s := open(t, oe, RoleCRO)
	_, err := Decide(s, Command{Actor: cro, Action: ActionApprove, Remark: "x"})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = Decide(s, Command{Actor: cro, Action: ActionForward, Remark: "x", Selections: []Role{RoleFO}})
	require.ErrorAs(t, err, &invalid)

	s, _ = act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "x"})
	_, err = Decide(s, Command{Actor: dir, Action: ActionForward, Remark: "x"})
	require.ErrorAs(t, err, &invalid)

	_, err = Decide(s, Command{Actor: dir, Action: "escalate", Remark: "x"})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestIntakeSelectionsValidated(t *testing.T) {
	s := open(t, college)
	for _, sel := range []Role{RoleDirector, RoleOE, RoleCollege, "Dean"} {
		_, err := Decide(s, Command{Actor: oe, Action: ActionForward, Selections: []Role{sel}})
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "selection %s", sel)
	}
}

func TestCreatorNudge(t *testing.T) {
	s := open(t, college)
	s, tr := act(t, s, Command{Actor: college, Action: ActionForward, Remark: "any news?"})

	assert.Equal(t, RoleOE, s.Current)
	assert.Equal(t, Plan{RoleCollege, RoleOE}, s.Plan)
	require.Len(t, s.History, 2)
	assert.Equal(t, RoleCollege, s.History[1].ActorRole)
	assert.Equal(t, RoleOE, tr.Intents[0].RecipientRole)

	s, _ = act(t, s, Command{Actor: oe, Action: ActionForward})
	_, err := Decide(s, Command{Actor: college, Action: ActionForward, Remark: "again"})
	var assignment *AssignmentError
	require.ErrorAs(t, err, &assignment)
}

func TestReopenClosedSubmission(t *testing.T) {
	s := open(t, college)
	s, _ = act(t, s, Command{Actor: oe, Action: ActionForward})
	s, _ = act(t, s, Command{Actor: dir, Action: ActionApprove, Remark: "ok"})
	s, _ = act(t, s, Command{Actor: oe, Action: ActionForward, Remark: "relay"})
	require.True(t, s.Closed)

	s, _ = act(t, s, Command{Actor: dir, Action: ActionReassign, ReassignTo: RoleFO, Remark: "audit finding"})
	assert.False(t, s.Closed)
	assert.Equal(t, RoleFO, s.Current)
	assert.Equal(t, StatusReAssign, s.Status)

	s, _ = act(t, s, Command{Actor: fo, Action: ActionForward, Remark: "resolved"})
	assert.Equal(t, RoleDirector, s.Current)
}

func TestShare(t *testing.T) {
	s := open(t, oe)
	_, err := Share(s, Command{Actor: dir, Action: ActionShare, ShareWith: []Role{RoleFO}})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	s, _ = act(t, s, Command{Actor: dir, Action: ActionApprove, Remark: "ok"})
	before := len(s.History)

	_, err = Decide(s, Command{Actor: cro, Action: ActionShare, ShareWith: []Role{RoleFO}})
	var assignment *AssignmentError
	require.ErrorAs(t, err, &assignment)

	tr, err := Decide(s, Command{Actor: dir, Action: ActionShare, ShareWith: []Role{RoleFO, RoleAA}})
	require.NoError(t, err)
	s = s.Apply(tr)
	assert.Nil(t, tr.Entry)
	assert.Len(t, s.History, before)
	assert.Equal(t, []Role{RoleFO, RoleAA}, s.SharedWith)
	assert.Len(t, tr.Intents, 2)

	tr, err = Decide(s, Command{Actor: oe, Action: ActionShare, ShareWith: []Role{RoleFO, RoleCAO}})
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleFO, RoleAA, RoleCAO}, tr.SharedWith)
	require.Len(t, tr.Intents, 1)
	assert.Equal(t, RoleCAO, tr.Intents[0].RecipientRole)
	assert.Equal(t, EventShared, tr.Intents[0].Event)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	s := open(t, college)
	s, _ = act(t, s, Command{Actor: oe, Action: ActionForward, Selections: []Role{RoleCRO}})

	before, err := json.Marshal(s.History)
	require.NoError(t, err)
	next, _ := act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "ok"})
	after, err := json.Marshal(next.History[:len(s.History)])
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	original, err := json.Marshal(s.History)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(original), "Apply must not alias the previous history")
}

func TestPlanGrowsForwardOnly(t *testing.T) {
	s := open(t, college)
	steps := []Command{
		{Actor: oe, Action: ActionForward, Selections: []Role{RoleCRO}},
		{Actor: cro, Action: ActionForward, Remark: "ok"},
		{Actor: dir, Action: ActionReassign, ReassignTo: RolePRO, Remark: "press"},
		{Actor: pro, Action: ActionForward, Remark: "ok"},
		{Actor: dir, Action: ActionReject, Remark: "no"},
		{Actor: oe, Action: ActionForward, Remark: "relay"},
	}
	for _, cmd := range steps {
		prev := s.Plan
		s, _ = act(t, s, cmd)
		require.GreaterOrEqual(t, len(s.Plan), len(prev))
		for _, r := range prev {
			require.True(t, s.Plan.Contains(r), "role %s dropped", r)
		}
	}
	assert.True(t, s.Closed)
	require.NoError(t, Replay(s.History).Verify(s))
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	s := open(t, oe, RoleCRO)
	s, _ = act(t, s, Command{Actor: cro, Action: ActionForward, Remark: "ok", At: t0})
	require.Len(t, s.History, 2)
	assert.True(t, s.History[1].Timestamp.After(s.History[0].Timestamp))
}

func TestOpenRejectsTerminalCreator(t *testing.T) {
	_, _, err := Open(dir, nil, "", t0)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	_, _, err = Open(college, []Role{RoleCRO}, "", t0)
	require.ErrorAs(t, err, &invalid)
}

func TestConflictErrorIsRetryable(t *testing.T) {
	err := error(&ConflictError{SubmissionID: 7, Err: errors.New("lock wait")})
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, IsRetryable(&AssignmentError{}))
}
