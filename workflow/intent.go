package workflow

// Event names the reason a notification intent was emitted.
type Event string

const (
	EventAssigned   Event = "assigned"
	EventReassigned Event = "reassigned"
	EventRelayed    Event = "relayed"
	EventCompleted  Event = "completed"
	EventShared     Event = "shared"
)

// Intent asks the dispatcher to tell someone about a transition. Exactly one
// of RecipientRole and RecipientID is set. The engine fills the routing
// fields; the submission fields are bound by the caller after commit.
type Intent struct {
	Event         Event  `json:"event"`
	RecipientRole Role   `json:"recipient_role,omitempty"`
	RecipientID   uint   `json:"recipient_id,omitempty"`
	ActorRole     Role   `json:"actor_role"`
	ActorName     string `json:"actor_name,omitempty"`
	Status        Status `json:"status"`
	Remark        string `json:"remark,omitempty"`

	SubmissionID  uint   `json:"submission_id"`
	RequestNumber string `json:"request_number"`
	Title         string `json:"title"`
	URL           string `json:"url,omitempty"`
}

// Bind copies submission details into every intent.
func Bind(intents []Intent, submissionID uint, requestNumber, title, url string) []Intent {
	out := make([]Intent, len(intents))
	for i, in := range intents {
		in.SubmissionID = submissionID
		in.RequestNumber = requestNumber
		in.Title = title
		in.URL = url
		out[i] = in
	}
	return out
}

func intentsFor(s State, e Entry, event Event, actorName string) []Intent {
	base := Intent{
		ActorRole: e.ActorRole,
		ActorName: actorName,
		Status:    e.Status,
		Remark:    e.Remark,
	}
	switch {
	case e.NextRole.IsZero():
		base.Event = EventCompleted
		base.RecipientID = s.CreatedBy
	case event == EventRelayed:
		base.Event = EventRelayed
		base.RecipientID = s.CreatedBy
	default:
		base.Event = event
		base.RecipientRole = e.NextRole
	}
	return []Intent{base}
}
