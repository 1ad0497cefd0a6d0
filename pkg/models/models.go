package models

import "time"

// MissedCall is one call that rang out without being answered.
type MissedCall struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	ClientID  string    `json:"client_id" gorm:"type:varchar(128);index"`
	Room      string    `json:"room" gorm:"type:varchar(128);index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the table name
func (MissedCall) TableName() string {
	return "missed_calls"
}

// CallRecord is the log entry written when a call session ends.
type CallRecord struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Room      string    `json:"room" gorm:"type:varchar(128);index"`
	Identity  string    `json:"identity" gorm:"type:varchar(128)"`
	Direction string    `json:"direction" gorm:"type:varchar(10)"` // "outgoing" or "incoming"
	Reason    string    `json:"reason" gorm:"type:varchar(32)"`
	Connected bool      `json:"connected"`
	Seconds   int       `json:"seconds"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at" gorm:"index"`
}

// TableName overrides the table name
func (CallRecord) TableName() string {
	return "call_records"
}

// CallRecordFilter narrows a call log query.
type CallRecordFilter struct {
	Room   string
	Reason string
	Limit  int
}
