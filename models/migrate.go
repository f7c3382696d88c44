package models

// All lists the tables owned by this service in migration order.
func All() []any {
	return []any{
		&User{},
		&RequestSequence{},
		&Submission{},
		&SubmissionHistory{},
		&Notification{},
		&NotificationMessage{},
		&NotificationDelivery{},
	}
}
