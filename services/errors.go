package services

import "errors"

var (
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrAttachmentNotFound   = errors.New("attachment not found")
	ErrNotificationNotFound = errors.New("notification not found")
)
