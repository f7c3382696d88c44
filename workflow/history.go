package workflow

import (
	"slices"
	"time"
)

// Entry is one immutable routing transition.
type Entry struct {
	ActorRole Role      `json:"actor_role"`
	ActorID   uint      `json:"actor_id"`
	Status    Status    `json:"resulting_status"`
	NextRole  Role      `json:"next_role,omitempty"`
	Remark    string    `json:"remark"`
	Override  bool      `json:"override,omitempty"`
	VisitedBy []uint    `json:"visited_by"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Entry) visitedBy(identity uint) bool {
	return slices.Contains(e.VisitedBy, identity)
}

// History is a submission's log in ascending time order.
type History []Entry

// Latest returns the most recent entry.
func (h History) Latest() (Entry, bool) {
	if len(h) == 0 {
		return Entry{}, false
	}
	return h[len(h)-1], true
}

func (h History) lastRoutedTo(role Role) int {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].NextRole == role {
			return i
		}
	}
	return -1
}

// LatestRoutedTo returns the most recent entry that named role as the next role.
func (h History) LatestRoutedTo(role Role) (Entry, bool) {
	i := h.lastRoutedTo(role)
	if i < 0 {
		return Entry{}, false
	}
	return h[i], true
}

// HasActed reports whether role already acted in its current cycle, that is
// after the most recent entry that routed the submission to it. A non-zero
// identity narrows the check to entries whose visitedBy contains it.
func (h History) HasActed(role Role, identity uint) bool {
	for _, e := range h[h.lastRoutedTo(role)+1:] {
		if e.ActorRole != role {
			continue
		}
		if identity == 0 || e.visitedBy(identity) {
			return true
		}
	}
	return false
}

// ActedEver reports whether role authored any entry.
func (h History) ActedEver(role Role) bool {
	return slices.ContainsFunc(h, func(e Entry) bool { return e.ActorRole == role })
}

// ByActor keeps the entries authored by role, preserving order.
func (h History) ByActor(role Role) History {
	var out History
	for _, e := range h {
		if e.ActorRole == role {
			out = append(out, e)
		}
	}
	return out
}

// Descending returns a copy ordered newest first.
func (h History) Descending() History {
	out := h.Clone()
	slices.Reverse(out)
	return out
}

func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	for i, e := range h {
		e.VisitedBy = slices.Clone(e.VisitedBy)
		out[i] = e
	}
	return out
}

// NextTimestamp returns now, or one microsecond past the latest entry when the
// clock has not moved forward. MySQL DATETIME(6) keeps microseconds.
func (h History) NextTimestamp(now time.Time) time.Time {
	now = now.Truncate(time.Microsecond)
	last, ok := h.Latest()
	if ok && !now.After(last.Timestamp) {
		return last.Timestamp.Add(time.Microsecond)
	}
	return now
}

// VisibleTo filters the log for a viewer. Intake, Terminal and privileged
// viewers see everything; others see what they wrote or what was routed to
// their role.
func (h History) VisibleTo(viewer Actor) History {
	if viewer.Privileged || viewer.Role.IsIntake() || viewer.Role.IsTerminal() {
		return h.Clone()
	}
	var out History
	for _, e := range h {
		if e.ActorID == viewer.ID || e.visitedBy(viewer.ID) || e.NextRole == viewer.Role {
			out = append(out, e)
		}
	}
	return out.Clone()
}
