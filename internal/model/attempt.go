package model

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptInProgress   AttemptStatus = "in_progress"
	AttemptNeedsGrading AttemptStatus = "needs_grading"
	AttemptGraded       AttemptStatus = "graded"
)

// Attempt 学生对某次布置的一次作答
// swagger:model Attempt
type Attempt struct {
	BaseModel
	AssignmentID  uint           `gorm:"uniqueIndex:idx_attempt_number;index;not null" json:"assignmentId"`
	StudentID     uint           `gorm:"uniqueIndex:idx_attempt_number;index;not null" json:"studentId"`
	AttemptNumber int            `gorm:"uniqueIndex:idx_attempt_number;not null" json:"attemptNumber"`
	StartedAt     time.Time      `gorm:"not null" json:"startedAt"`
	SubmittedAt   *time.Time     `json:"submittedAt"`
	AutoScore     float64        `gorm:"default:0" json:"autoScore"`
	ManualScore   float64        `gorm:"default:0" json:"manualScore"`
	TotalScore    *float64       `json:"totalScore"`
	Status        AttemptStatus  `gorm:"size:20;index;not null" json:"status"`
	AutoSubmitted bool           `gorm:"default:false" json:"autoSubmitted"`
	Payload       datatypes.JSON `gorm:"column:submission_payload" json:"-"`

	Assignment *ExamAssignment `gorm:"foreignKey:AssignmentID" json:"assignment,omitempty"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (a *Attempt) Deadline(durationMinutes int) time.Time {
	return a.StartedAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// AttemptQuestion 开始作答时固化的题目顺序与计分规则，之后不再修改
type AttemptQuestion struct {
	ID             uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	AttemptID      uint         `gorm:"uniqueIndex:idx_attempt_question;not null" json:"attemptId"`
	QuestionID     uint         `gorm:"uniqueIndex:idx_attempt_question;not null" json:"questionId"`
	DisplayOrder   int          `gorm:"not null" json:"displayOrder"`
	TypeSnapshot   QuestionType `gorm:"size:10;not null" json:"type"`
	BodySnapshot   string       `gorm:"type:text" json:"body"`
	PointsSnapshot float64      `gorm:"not null" json:"points"`
	CreatedAt      time.Time    `json:"createdAt"`
}

func (AttemptQuestion) TableName() string {
	return "attempt_questions"
}

// OptionInstance 选项在某次作答中的展示快照
type OptionInstance struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AttemptID          uint      `gorm:"index:idx_option_instance_attempt_question;not null" json:"attemptId"`
	QuestionID         uint      `gorm:"index:idx_option_instance_attempt_question;not null" json:"questionId"`
	SourceOptionID     uint      `gorm:"not null" json:"sourceOptionId"`
	DisplayOrder       int       `gorm:"not null" json:"displayOrder"`
	DisplayLabel       string    `gorm:"size:4;not null" json:"displayLabel"`
	OptionTextSnapshot string    `gorm:"type:text" json:"text"`
	IsCorrectSnapshot  bool      `gorm:"not null" json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
}

func (OptionInstance) TableName() string {
	return "option_instances"
}
