package models

// RequestSequence holds the last issued request number per prefix.
type RequestSequence struct {
	Prefix    string `gorm:"primaryKey;column:prefix;size:16" json:"prefix"`
	LastValue uint   `gorm:"column:last_value" json:"last_value"`
}

func (RequestSequence) TableName() string { return "request_sequences" }
