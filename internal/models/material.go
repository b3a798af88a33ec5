package models

import "time"

// Material is a lesson package distributed by the teacher.
type Material struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	Title      string     `json:"title"`
	Subject    string     `json:"subject,omitempty"`
	Questions  []Question `gorm:"serializer:json" json:"questions"`
	ReceivedAt time.Time  `json:"received_at"`
}

type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices,omitempty"`
}

// TableName specifies the table name for Material
func (Material) TableName() string {
	return "materials"
}

// Feedback is the teacher's evaluation returned to the student.
type Feedback struct {
	ID         string         `gorm:"primaryKey" json:"id"`
	MaterialID string         `gorm:"index" json:"material_id,omitempty"`
	Score      float64        `json:"score"`
	Comment    string         `json:"comment,omitempty"`
	Items      []FeedbackItem `gorm:"serializer:json" json:"items,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

type FeedbackItem struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
	Comment    string `json:"comment,omitempty"`
}

// TableName specifies the table name for Feedback
func (Feedback) TableName() string {
	return "feedback"
}
