package workflow

import "slices"

// Plan is the ordered sequence of roles a submission is expected to traverse.
// Methods never modify the receiver; each mutation returns a fresh slice.
type Plan []Role

// Initialize builds the plan for a new submission and returns it together with
// the role that acts first.
func Initialize(creator Role, selections []Role) (Plan, Role, error) {
	if !creator.Valid() {
		return nil, "", &InvalidTransitionError{Reason: "unknown creator role " + string(creator)}
	}
	if !creator.CanOriginate() {
		return nil, "", &InvalidTransitionError{Reason: "role " + string(creator) + " cannot originate a submission"}
	}
	if !creator.IsIntake() {
		if len(selections) > 0 {
			return nil, "", &InvalidTransitionError{Reason: "only the intake role may select intermediate roles"}
		}
		return Plan{creator, IntakeRole}, IntakeRole, nil
	}

	plan := Plan{IntakeRole, TerminalRole}
	for _, r := range selections {
		if err := checkSelectable(r); err != nil {
			return nil, "", err
		}
		plan = plan.InsertBefore(TerminalRole, r)
	}
	return plan, plan[1], nil
}

func checkSelectable(r Role) error {
	if !r.Valid() {
		return &InvalidTransitionError{Reason: "unknown role " + string(r)}
	}
	if !r.IsIntermediate() {
		return &InvalidTransitionError{Reason: "role " + string(r) + " cannot be inserted into a routing plan"}
	}
	return nil
}

func (p Plan) Clone() Plan { return slices.Clone(p) }

func (p Plan) Contains(r Role) bool { return slices.Contains(p, r) }

func (p Plan) Index(r Role) int { return slices.Index(p, r) }

// Finalized reports whether the plan ends with the Terminal role.
func (p Plan) Finalized() bool {
	return len(p) > 0 && p[len(p)-1] == TerminalRole
}

// Finalize appends the Terminal role when it is missing.
func (p Plan) Finalize() Plan {
	if p.Contains(TerminalRole) {
		return p.Clone()
	}
	return append(p.Clone(), TerminalRole)
}

// InsertBefore places role immediately before anchor. A role already present
// is left where it is; a missing anchor appends the role.
func (p Plan) InsertBefore(anchor, role Role) Plan {
	if p.Contains(role) {
		return p.Clone()
	}
	i := p.Index(anchor)
	if i < 0 {
		return append(p.Clone(), role)
	}
	out := make(Plan, 0, len(p)+1)
	out = append(out, p[:i]...)
	out = append(out, role)
	return append(out, p[i:]...)
}

// Reassign inserts to before from when absent, so control returns to from
// after to acts, and returns to as the new current role.
func (p Plan) Reassign(from, to Role) (Plan, Role) {
	return p.InsertBefore(from, to), to
}

// Advance returns the first role after from that has not acted in its current
// cycle. The Terminal role anchors every cycle and is never skipped. An empty
// role means nothing remains.
func (p Plan) Advance(from Role, h History) Role {
	i := p.Index(from)
	if i < 0 {
		return ""
	}
	for _, next := range p[i+1:] {
		if next.IsTerminal() || !h.HasActed(next, 0) {
			return next
		}
	}
	return ""
}
