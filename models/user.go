package models

import (
	"strings"
	"time"

	"request-routing-api/workflow"
)

type User struct {
	UserID      uint          `gorm:"primaryKey;column:user_id" json:"user_id"`
	UserFname   string        `gorm:"column:user_fname;size:100" json:"user_fname"`
	UserLname   string        `gorm:"column:user_lname;size:100" json:"user_lname"`
	Email       string        `gorm:"column:email;size:191;unique" json:"email"`
	Password    string        `gorm:"column:password;size:255" json:"-"`
	RoleCode    workflow.Role `gorm:"column:role_code;size:32;index" json:"role_code"`
	IsSuperuser bool          `gorm:"column:is_superuser" json:"is_superuser"`
	CreateAt    *time.Time    `gorm:"column:create_at" json:"create_at"`
	UpdateAt    *time.Time    `gorm:"column:update_at" json:"update_at"`
	DeleteAt    *time.Time    `gorm:"column:delete_at" json:"delete_at,omitempty"`
}

// TableName overrides
func (User) TableName() string {
	return "users"
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.UserFname + " " + u.UserLname)
	if name == "" {
		return u.Email
	}
	return name
}

// Actor converts the user to the identity the routing engine works with.
func (u User) Actor() workflow.Actor {
	return workflow.Actor{
		ID:          u.UserID,
		Role:        u.RoleCode,
		DisplayName: u.DisplayName(),
		Privileged:  u.IsSuperuser,
	}
}
