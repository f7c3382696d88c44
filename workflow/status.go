package workflow

import (
	"strconv"
	"strings"
)

// Status is the routing status of a submission and of each history entry.
type Status string

const (
	StatusForwarded  Status = "forwarded"
	StatusProcessing Status = "processing"
	StatusPending    Status = "pending"
	StatusReAssign   Status = "re_assign"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

var statusLabels = map[Status]string{
	StatusForwarded:  "Forwarded",
	StatusProcessing: "Processing",
	StatusPending:    "Pending",
	StatusReAssign:   "Re Assign",
	StatusApproved:   "Approved",
	StatusRejected:   "Rejected",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Decided reports whether the Terminal role has recorded a decision.
func (s Status) Decided() bool {
	return s == StatusApproved || s == StatusRejected
}

// Action is what an actor asks the engine to do.
type Action string

const (
	ActionForward  Action = "forward"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionReassign Action = "reassign"
	ActionShare    Action = "share"
)

// ParseAction accepts the canonical names plus "re_assign" and "re-assign".
func ParseAction(v string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "forward", "forwarded":
		return ActionForward, nil
	case "approve", "approved":
		return ActionApprove, nil
	case "reject", "rejected":
		return ActionReject, nil
	case "reassign", "re_assign", "re-assign":
		return ActionReassign, nil
	case "share":
		return ActionShare, nil
	case "":
		return "", &ValidationError{Field: "action", Reason: "action is required"}
	}
	return "", &ValidationError{Field: "action", Reason: "unknown action " + strconv.Quote(v)}
}
