package workflow

// Badge is the status shown to one viewer in list and detail views.
type Badge struct {
	Status     Status `json:"status"`
	Label      string `json:"label"`
	Tone       string `json:"tone"`
	Closed     bool   `json:"closed"`
	Actionable bool   `json:"actionable"`
}

// BadgeFor derives a viewer's badge from stored columns only.
func BadgeFor(status Status, current Role, closed bool, viewer Actor) Badge {
	b := Badge{
		Status: status,
		Label:  status.Label(),
		Closed: closed,
	}
	b.Actionable = !closed && !current.IsZero() && (viewer.Role == current || viewer.Privileged)

	switch {
	case status == StatusApproved:
		b.Tone = "success"
	case status == StatusRejected:
		b.Tone = "danger"
	case b.Actionable:
		b.Tone = "primary"
	case status == StatusReAssign:
		b.Tone = "warning"
	default:
		b.Tone = "info"
	}
	if b.Actionable && !status.Decided() {
		b.Label = "Awaiting " + current.Label()
	}
	return b
}
