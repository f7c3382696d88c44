package models

import (
	"time"

	"gorm.io/datatypes"

	"request-routing-api/workflow"
)

// Submission is a request document routed between roles.
type Submission struct {
	SubmissionID   uint                               `gorm:"primaryKey;column:submission_id" json:"submission_id"`
	RequestNumber  string                             `gorm:"column:request_number;size:32;uniqueIndex" json:"request_number"`
	Title          string                             `gorm:"column:title;size:255" json:"title"`
	Description    string                             `gorm:"column:description;type:text" json:"description"`
	AttachmentRef  *string                            `gorm:"column:attachment_ref;size:255" json:"attachment_ref,omitempty"`
	AttachmentName *string                            `gorm:"column:attachment_name;size:255" json:"attachment_name,omitempty"`
	RoutingPlan    datatypes.JSONSlice[workflow.Role] `gorm:"column:routing_plan" json:"routing_plan"`
	AssignedRole   *workflow.Role                     `gorm:"column:assigned_role;size:32;index" json:"assigned_role"`
	Status         workflow.Status                    `gorm:"column:status;size:20;index" json:"status"`
	Closed         bool                               `gorm:"column:closed" json:"closed"`
	OriginatorRole workflow.Role                      `gorm:"column:originator_role;size:32" json:"originator_role"`
	CreatedBy      uint                               `gorm:"column:created_by;index" json:"created_by"`
	SharedWith     datatypes.JSONSlice[workflow.Role] `gorm:"column:shared_with" json:"shared_with"`
	UpdatedBy      *uint                              `gorm:"column:updated_by" json:"updated_by,omitempty"`
	CreatedAt      time.Time                          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time                          `gorm:"column:updated_at" json:"updated_at"`

	// Relations
	Creator *User `gorm:"foreignKey:CreatedBy;references:UserID" json:"creator,omitempty"`
}

func (Submission) TableName() string {
	return "submissions"
}

// CurrentRole returns the assigned role, empty when nobody is responsible.
func (s *Submission) CurrentRole() workflow.Role {
	if s.AssignedRole == nil {
		return ""
	}
	return *s.AssignedRole
}

// State assembles the engine view of the submission.
func (s *Submission) State(history workflow.History) workflow.State {
	return workflow.State{
		Plan:           workflow.Plan(s.RoutingPlan).Clone(),
		Current:        s.CurrentRole(),
		Status:         s.Status,
		Closed:         s.Closed,
		OriginatorRole: s.OriginatorRole,
		CreatedBy:      s.CreatedBy,
		SharedWith:     append([]workflow.Role(nil), s.SharedWith...),
		History:        history,
	}
}

// ApplyState copies routing columns from st.
func (s *Submission) ApplyState(st workflow.State) {
	s.RoutingPlan = datatypes.JSONSlice[workflow.Role](st.Plan.Clone())
	if st.Current.IsZero() {
		s.AssignedRole = nil
	} else {
		current := st.Current
		s.AssignedRole = &current
	}
	s.Status = st.Status
	s.Closed = st.Closed
	s.OriginatorRole = st.OriginatorRole
	s.CreatedBy = st.CreatedBy
	s.SharedWith = datatypes.JSONSlice[workflow.Role](append([]workflow.Role(nil), st.SharedWith...))
}

// ApplyTransition copies the outcome of an engine decision.
func (s *Submission) ApplyTransition(t workflow.Transition, actorID uint) {
	s.RoutingPlan = datatypes.JSONSlice[workflow.Role](t.Plan.Clone())
	if t.Next.IsZero() {
		s.AssignedRole = nil
	} else {
		next := t.Next
		s.AssignedRole = &next
	}
	s.Status = t.Status
	s.Closed = t.Closed
	s.SharedWith = datatypes.JSONSlice[workflow.Role](append([]workflow.Role(nil), t.SharedWith...))
	s.UpdatedBy = &actorID
}

// SharedWithRole reports whether role was granted read access.
func (s *Submission) SharedWithRole(role workflow.Role) bool {
	for _, r := range s.SharedWith {
		if r == role {
			return true
		}
	}
	return false
}
