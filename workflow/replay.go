package workflow

import (
	"errors"
	"fmt"
)

// ReplayStep is one reconstructed transition.
type ReplayStep struct {
	Index     int    `json:"index"`
	ActorRole Role   `json:"actor_role"`
	ActorID   uint   `json:"actor_id"`
	Next      Role   `json:"next_role,omitempty"`
	Status    Status `json:"status"`
	Override  bool   `json:"override,omitempty"`
}

// Audit is the result of replaying a history from the start.
type Audit struct {
	Steps    []ReplayStep `json:"steps"`
	Current  Role         `json:"current_role,omitempty"`
	Status   Status       `json:"status"`
	Closed   bool         `json:"closed"`
	Problems []string     `json:"problems,omitempty"`
}

// Replay walks h in order and reconstructs the routing sequence. It is O(n)
// and meant for audit views only.
func Replay(h History) Audit {
	var a Audit
	for i, e := range h {
		a.Steps = append(a.Steps, ReplayStep{
			Index:     i,
			ActorRole: e.ActorRole,
			ActorID:   e.ActorID,
			Next:      e.NextRole,
			Status:    e.Status,
			Override:  e.Override,
		})
		if !e.Status.Valid() {
			a.Problems = append(a.Problems, fmt.Sprintf("entry %d: unknown status %q", i, e.Status))
		}
		if i == 0 {
			continue
		}
		prev := h[i-1]
		if !e.Timestamp.After(prev.Timestamp) {
			a.Problems = append(a.Problems, fmt.Sprintf("entry %d: timestamp %s not after %s", i, e.Timestamp, prev.Timestamp))
		}
		if e.ActorRole != prev.NextRole && !expectedDetour(prev, e) {
			a.Problems = append(a.Problems, fmt.Sprintf("entry %d: %s acted while %s was responsible", i, e.ActorRole, describe(prev.NextRole)))
		}
	}
	if last, ok := h.Latest(); ok {
		a.Current = last.NextRole
		a.Status = last.Status
		a.Closed = last.Status.Decided() && !last.ActorRole.IsTerminal()
	}
	return a
}

// expectedDetour covers the two legitimate out-of-turn entries: a creator
// re-sending to Intake and a Terminal re-open of a closed submission.
func expectedDetour(prev, e Entry) bool {
	if e.NextRole.IsIntake() && prev.NextRole.IsIntake() && e.Status == StatusForwarded {
		return true
	}
	return e.ActorRole.IsTerminal() && e.Status == StatusReAssign && prev.Status.Decided()
}

func describe(r Role) string {
	if r.IsZero() {
		return "nobody"
	}
	return string(r)
}

// Verify compares stored columns with the replayed outcome.
func (a Audit) Verify(s State) error {
	var errs []error
	if len(a.Steps) == 0 {
		return errors.New("audit: history is empty")
	}
	if s.Current != a.Current {
		errs = append(errs, fmt.Errorf("audit: stored current role %q, history says %q", s.Current, a.Current))
	}
	if s.Status != a.Status {
		errs = append(errs, fmt.Errorf("audit: stored status %q, history says %q", s.Status, a.Status))
	}
	if s.Closed != a.Closed {
		errs = append(errs, fmt.Errorf("audit: stored closed=%t, history says %t", s.Closed, a.Closed))
	}
	for _, p := range a.Problems {
		errs = append(errs, errors.New("audit: "+p))
	}
	return errors.Join(errs...)
}
