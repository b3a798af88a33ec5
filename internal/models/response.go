package models

import "time"

// PendingResponse is a locally recorded answer waiting to reach the teacher.
// Only the sync engine flips Synced.
type PendingResponse struct {
	ID             string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	MaterialID     string     `gorm:"index" json:"material_id,omitempty"`
	QuestionID     string     `gorm:"not null" json:"question_id"`
	SelectedAnswer string     `json:"selected_answer"`
	Correct        bool       `json:"correct"`
	CapturedAt     time.Time  `gorm:"not null;index" json:"captured_at"`
	Synced         bool       `gorm:"not null;index" json:"synced"`
	SyncedAt       *time.Time `json:"synced_at,omitempty"`
}

// TableName specifies the table name for PendingResponse
func (PendingResponse) TableName() string {
	return "pending_responses"
}
