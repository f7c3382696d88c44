package models

import (
	"time"

	"gorm.io/datatypes"

	"request-routing-api/workflow"
)

// Delivery states.
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// NotificationDelivery records one intent handed to one sink.
type NotificationDelivery struct {
	DeliveryID    string                              `gorm:"primaryKey;column:delivery_id;size:36" json:"delivery_id"`
	Event         string                              `gorm:"column:event;size:32" json:"event"`
	Sink          string                              `gorm:"column:sink;size:16;index:idx_delivery_retry,priority:2" json:"sink"`
	SubmissionID  uint                                `gorm:"column:submission_id;index" json:"submission_id"`
	RecipientRole *string                             `gorm:"column:recipient_role;size:32" json:"recipient_role,omitempty"`
	RecipientID   *uint                               `gorm:"column:recipient_id" json:"recipient_id,omitempty"`
	Payload       datatypes.JSONType[workflow.Intent] `gorm:"column:payload" json:"payload"`
	Status        string                              `gorm:"column:status;size:16;index:idx_delivery_retry,priority:1" json:"status"`
	Attempts      int                                 `gorm:"column:attempts" json:"attempts"`
	LastError     *string                             `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	DeliveredAt   *time.Time                          `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	CreatedAt     time.Time                           `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time                           `gorm:"column:updated_at" json:"updated_at"`
}

func (NotificationDelivery) TableName() string { return "notification_deliveries" }

// Intent returns the stored intent.
func (d NotificationDelivery) Intent() workflow.Intent {
	return d.Payload.Data()
}
