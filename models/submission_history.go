package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"request-routing-api/workflow"
)

// ErrHistoryImmutable is returned by hooks when something tries to change a
// committed history row.
var ErrHistoryImmutable = errors.New("submission history is append-only")

// SubmissionHistory is one routing transition of a submission.
type SubmissionHistory struct {
	HistoryID       uint                      `gorm:"primaryKey;column:history_id" json:"history_id"`
	SubmissionID    uint                      `gorm:"column:submission_id;index:idx_submission_history_order,priority:1" json:"submission_id"`
	ActorRole       workflow.Role             `gorm:"column:actor_role;size:32;index" json:"actor_role"`
	ActorID         uint                      `gorm:"column:actor_id" json:"actor_id"`
	ResultingStatus workflow.Status           `gorm:"column:resulting_status;size:20" json:"resulting_status"`
	NextRole        *workflow.Role            `gorm:"column:next_role;size:32" json:"next_role"`
	Remark          string                    `gorm:"column:remark;type:text" json:"remark"`
	Override        bool                      `gorm:"column:override" json:"override"`
	VisitedBy       datatypes.JSONSlice[uint] `gorm:"column:visited_by" json:"visited_by"`
	CreatedAt       time.Time                 `gorm:"column:created_at;type:datetime(6);index:idx_submission_history_order,priority:2" json:"created_at"`
}

// TableName specifies the table for SubmissionHistory.
func (SubmissionHistory) TableName() string {
	return "submission_history"
}

func (h *SubmissionHistory) BeforeUpdate(*gorm.DB) error { return ErrHistoryImmutable }

func (h *SubmissionHistory) BeforeDelete(*gorm.DB) error { return ErrHistoryImmutable }

// Entry converts the row to an engine entry.
func (h SubmissionHistory) Entry() workflow.Entry {
	e := workflow.Entry{
		ActorRole: h.ActorRole,
		ActorID:   h.ActorID,
		Status:    h.ResultingStatus,
		Remark:    h.Remark,
		Override:  h.Override,
		VisitedBy: append([]uint(nil), h.VisitedBy...),
		Timestamp: h.CreatedAt,
	}
	if h.NextRole != nil {
		e.NextRole = *h.NextRole
	}
	return e
}

// NewSubmissionHistory builds the row for an engine entry.
func NewSubmissionHistory(submissionID uint, e workflow.Entry) SubmissionHistory {
	row := SubmissionHistory{
		SubmissionID:    submissionID,
		ActorRole:       e.ActorRole,
		ActorID:         e.ActorID,
		ResultingStatus: e.Status,
		Remark:          e.Remark,
		Override:        e.Override,
		VisitedBy:       datatypes.JSONSlice[uint](append([]uint(nil), e.VisitedBy...)),
		CreatedAt:       e.Timestamp,
	}
	if !e.NextRole.IsZero() {
		next := e.NextRole
		row.NextRole = &next
	}
	return row
}

// HistoryLog converts ascending rows to a workflow history.
func HistoryLog(rows []SubmissionHistory) workflow.History {
	out := make(workflow.History, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Entry())
	}
	return out
}
