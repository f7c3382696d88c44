package workflow

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Actor is a resolved identity performing an action.
type Actor struct {
	ID          uint   `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
	Privileged  bool   `json:"privileged"`
}

// State is the routing state of one submission as loaded under its lock.
type State struct {
	Plan           Plan
	Current        Role
	Status         Status
	Closed         bool
	OriginatorRole Role
	CreatedBy      uint
	SharedWith     []Role
	History        History
}

// Command is one requested action.
type Command struct {
	Actor      Actor
	Action     Action
	Remark     string
	ReassignTo Role
	Selections []Role
	ShareWith  []Role
	At         time.Time
}

// Transition is the outcome of a successful Decide. Entry is nil when the
// action leaves the history untouched (share).
type Transition struct {
	Plan       Plan
	Next       Role
	Status     Status
	Closed     bool
	SharedWith []Role
	Entry      *Entry
	Intents    []Intent
}

// Apply returns the state after t. s is not modified.
func (s State) Apply(t Transition) State {
	out := s
	out.Plan = t.Plan.Clone()
	out.Current = t.Next
	out.Status = t.Status
	out.Closed = t.Closed
	out.SharedWith = slices.Clone(t.SharedWith)
	out.History = s.History.Clone()
	if t.Entry != nil {
		e := *t.Entry
		e.VisitedBy = slices.Clone(e.VisitedBy)
		out.History = append(out.History, e)
	}
	return out
}

const intakeDefaultRemark = "Created routing plan"

// OriginatorRemark is the default remark on a creation entry.
func OriginatorRemark(creator Role) string {
	if creator.IsIntake() {
		return intakeDefaultRemark
	}
	return fmt.Sprintf("%s assigned the request directly to %s.", creator, IntakeRole)
}

// Open builds the initial state of a submission created by actor, with the
// creation entry already appended.
func Open(actor Actor, selections []Role, remark string, at time.Time) (State, []Intent, error) {
	plan, current, err := Initialize(actor.Role, selections)
	if err != nil {
		return State{}, nil, err
	}
	if strings.TrimSpace(remark) == "" {
		remark = OriginatorRemark(actor.Role)
	}
	s := State{
		Plan:           plan,
		Current:        current,
		Status:         StatusForwarded,
		OriginatorRole: actor.Role,
		CreatedBy:      actor.ID,
	}
	entry := Entry{
		ActorRole: actor.Role,
		ActorID:   actor.ID,
		Status:    StatusForwarded,
		NextRole:  current,
		Remark:    strings.TrimSpace(remark),
		VisitedBy: []uint{actor.ID},
		Timestamp: History(nil).NextTimestamp(at),
	}
	s.History = History{entry}
	return s, intentsFor(s, entry, EventAssigned, actor.DisplayName), nil
}

// step is what a role handler decides.
type step struct {
	plan   Plan
	next   Role
	status Status
	closed bool
	event  Event
}

type handler func(s State, cmd Command, role Role) (step, error)

var dispatch = buildDispatch()

func buildDispatch() map[Role]handler {
	table := make(map[Role]handler, len(registry))
	for r, info := range registry {
		switch info.kind {
		case kindIntake:
			table[r] = intakeStep
		case kindTerminal:
			table[r] = terminalStep
		case kindIntermediate:
			table[r] = intermediateStep
		default:
			table[r] = originatorStep
		}
	}
	return table
}

// Decide validates cmd against s and computes the resulting transition.
// It has no side effects.
func Decide(s State, cmd Command) (Transition, error) {
	switch cmd.Action {
	case ActionShare:
		return Share(s, cmd)
	case ActionForward, ActionApprove, ActionReject, ActionReassign:
	default:
		return Transition{}, &ValidationError{Field: "action", Reason: "unknown action " + string(cmd.Action)}
	}
	cmd.Remark = strings.TrimSpace(cmd.Remark)

	if s.Closed {
		if cmd.Action != ActionReassign || !(cmd.Actor.Role.IsTerminal() || cmd.Actor.Privileged) {
			return Transition{}, &InvalidTransitionError{Reason: "submission is closed"}
		}
		return reopen(s, cmd)
	}
	if s.Current.IsZero() {
		return Transition{}, &InvalidTransitionError{Reason: "submission has no responsible role"}
	}

	if isNudge(s, cmd) {
		return nudge(s, cmd)
	}

	role := s.Current
	override := false
	switch {
	case cmd.Actor.Role == s.Current:
	case cmd.Actor.Privileged:
		override = true
	default:
		return Transition{}, &AssignmentError{Actor: cmd.Actor.Role, Current: s.Current}
	}

	if s.History.HasActed(role, 0) {
		return Transition{}, &AssignmentError{
			Actor:   cmd.Actor.Role,
			Current: s.Current,
			Reason:  fmt.Sprintf("role %s already acted on this assignment", role),
		}
	}

	if cmd.Remark == "" {
		if role.IsIntake() && !s.History.ActedEver(IntakeRole) && !relaying(s) {
			cmd.Remark = intakeDefaultRemark
		} else {
			return Transition{}, &ValidationError{Field: "remark", Reason: "remark is required"}
		}
	}

	h, ok := dispatch[role]
	if !ok {
		return Transition{}, &InvalidTransitionError{Reason: "unknown role " + string(role)}
	}
	st, err := h(s, cmd, role)
	if err != nil {
		return Transition{}, err
	}
	return finish(s, cmd, role, override, st), nil
}

func finish(s State, cmd Command, role Role, override bool, st step) Transition {
	entry := Entry{
		ActorRole: role,
		ActorID:   cmd.Actor.ID,
		Status:    st.status,
		NextRole:  st.next,
		Remark:    cmd.Remark,
		Override:  override,
		VisitedBy: []uint{cmd.Actor.ID},
		Timestamp: s.History.NextTimestamp(cmd.At),
	}
	return Transition{
		Plan:       st.plan,
		Next:       st.next,
		Status:     st.status,
		Closed:     st.closed,
		SharedWith: slices.Clone(s.SharedWith),
		Entry:      &entry,
		Intents:    intentsFor(s, entry, st.event, cmd.Actor.DisplayName),
	}
}

// relaying reports whether Intake is being handed a Terminal decision.
func relaying(s State) bool {
	last, ok := s.History.Latest()
	return ok && last.ActorRole.IsTerminal()
}

func intakeStep(s State, cmd Command, _ Role) (step, error) {
	if cmd.Action != ActionForward {
		return step{}, &InvalidTransitionError{Reason: fmt.Sprintf("role %s can only forward", IntakeRole)}
	}

	if relaying(s) {
		if len(cmd.Selections) > 0 {
			return step{}, &InvalidTransitionError{Reason: "roles cannot be selected while relaying a decision"}
		}
		next := s.OriginatorRole
		if next.IsIntake() {
			next = ""
		}
		return step{plan: s.Plan.Clone(), next: next, status: s.Status, closed: true, event: EventRelayed}, nil
	}

	plan := s.Plan.Clone()
	if !s.History.ActedEver(IntakeRole) {
		plan = plan.Finalize()
		for _, r := range cmd.Selections {
			if err := checkSelectable(r); err != nil {
				return step{}, err
			}
			plan = plan.InsertBefore(TerminalRole, r)
		}
	} else if len(cmd.Selections) > 0 {
		return step{}, &InvalidTransitionError{Reason: "roles can only be selected on the first intake visit"}
	}

	next := plan.Advance(IntakeRole, s.History)
	if next.IsZero() {
		return step{}, &InvalidTransitionError{Reason: "routing plan has no role after " + string(IntakeRole)}
	}
	return step{plan: plan, next: next, status: progressStatus(next), event: EventAssigned}, nil
}

func terminalStep(s State, cmd Command, _ Role) (step, error) {
	if len(cmd.Selections) > 0 {
		return step{}, &InvalidTransitionError{Reason: fmt.Sprintf("role %s cannot select roles", TerminalRole)}
	}
	switch cmd.Action {
	case ActionApprove:
		return step{plan: s.Plan.Clone(), next: IntakeRole, status: StatusApproved, event: EventAssigned}, nil
	case ActionReject:
		return step{plan: s.Plan.Clone(), next: IntakeRole, status: StatusRejected, event: EventAssigned}, nil
	case ActionReassign:
		target := cmd.ReassignTo
		if target.IsZero() {
			return step{}, &ValidationError{Field: "reassign_to", Reason: "target role is required"}
		}
		if !target.Valid() {
			return step{}, &InvalidTransitionError{Reason: "unknown role " + string(target)}
		}
		if !target.IsIntermediate() || target == s.OriginatorRole {
			return step{}, &InvalidTransitionError{Reason: "cannot reassign to role " + string(target)}
		}
		plan, next := s.Plan.Finalize().Reassign(TerminalRole, target)
		return step{plan: plan, next: next, status: StatusReAssign, event: EventReassigned}, nil
	}
	return step{}, &InvalidTransitionError{Reason: fmt.Sprintf("role %s must approve, reject or reassign", TerminalRole)}
}

func intermediateStep(s State, cmd Command, role Role) (step, error) {
	if cmd.Action != ActionForward {
		return step{}, &InvalidTransitionError{Reason: fmt.Sprintf("role %s can only forward", role)}
	}
	if len(cmd.Selections) > 0 {
		return step{}, &InvalidTransitionError{Reason: fmt.Sprintf("role %s cannot select roles", role)}
	}
	var next Role
	if routed, ok := s.History.LatestRoutedTo(role); ok && routed.ActorRole.IsTerminal() {
		next = TerminalRole
	} else {
		next = s.Plan.Advance(role, s.History)
	}
	if next.IsZero() {
		return step{}, &InvalidTransitionError{Reason: "routing plan has no role after " + string(role)}
	}
	return step{plan: s.Plan.Clone(), next: next, status: progressStatus(next), event: EventAssigned}, nil
}

func originatorStep(_ State, _ Command, role Role) (step, error) {
	return step{}, &InvalidTransitionError{Reason: fmt.Sprintf("role %s has no routing step", role)}
}

func progressStatus(next Role) Status {
	if next.IsTerminal() {
		return StatusPending
	}
	return StatusProcessing
}

// reopen handles a reassignment of a closed submission by the Terminal role
// or a privileged identity. The idempotency guard does not apply: a re-open
// starts a new cycle.
func reopen(s State, cmd Command) (Transition, error) {
	if cmd.Remark == "" {
		return Transition{}, &ValidationError{Field: "remark", Reason: "remark is required"}
	}
	st, err := terminalStep(s, cmd, TerminalRole)
	if err != nil {
		return Transition{}, err
	}
	override := !cmd.Actor.Role.IsTerminal()
	return finish(s, cmd, TerminalRole, override, st), nil
}

func isNudge(s State, cmd Command) bool {
	return cmd.Action == ActionForward &&
		!cmd.Actor.Privileged &&
		cmd.Actor.Role != s.Current &&
		s.Current.IsIntake() &&
		cmd.Actor.ID != 0 &&
		cmd.Actor.ID == s.CreatedBy &&
		!s.OriginatorRole.IsIntake() &&
		!s.History.ActedEver(IntakeRole)
}

// nudge lets the creator re-send a submission that Intake has not picked up.
func nudge(s State, cmd Command) (Transition, error) {
	if cmd.Remark == "" {
		return Transition{}, &ValidationError{Field: "remark", Reason: "remark is required"}
	}
	if len(cmd.Selections) > 0 {
		return Transition{}, &InvalidTransitionError{Reason: "only the intake role may select intermediate roles"}
	}
	st := step{plan: s.Plan.Clone(), next: IntakeRole, status: StatusForwarded, event: EventAssigned}
	return finish(s, cmd, s.OriginatorRole, false, st), nil
}

// Share grants read access to roles on a decided submission. Routing and
// history are left untouched.
func Share(s State, cmd Command) (Transition, error) {
	if !s.Status.Decided() {
		return Transition{}, &InvalidTransitionError{Reason: "only decided submissions can be shared"}
	}
	a := cmd.Actor
	if !(a.Privileged || a.Role.IsTerminal() || a.Role.IsIntake()) {
		return Transition{}, &AssignmentError{Actor: a.Role, Current: s.Current, Reason: fmt.Sprintf("role %s cannot share submissions", a.Role)}
	}
	if len(cmd.ShareWith) == 0 {
		return Transition{}, &ValidationError{Field: "share_with", Reason: "at least one role is required"}
	}
	for _, r := range cmd.ShareWith {
		if !r.Valid() {
			return Transition{}, &InvalidTransitionError{Reason: "unknown role " + string(r)}
		}
	}
	merged, added := mergeRoles(s.SharedWith, cmd.ShareWith)

	intents := make([]Intent, 0, len(added))
	for _, r := range added {
		intents = append(intents, Intent{
			Event:         EventShared,
			RecipientRole: r,
			ActorRole:     a.Role,
			ActorName:     a.DisplayName,
			Status:        s.Status,
		})
	}
	return Transition{
		Plan:       s.Plan.Clone(),
		Next:       s.Current,
		Status:     s.Status,
		Closed:     s.Closed,
		SharedWith: merged,
		Intents:    intents,
	}, nil
}

func mergeRoles(have, add []Role) (merged, added []Role) {
	merged = slices.Clone(have)
	for _, r := range add {
		if slices.Contains(merged, r) {
			continue
		}
		merged = append(merged, r)
		added = append(added, r)
	}
	return merged, added
}
