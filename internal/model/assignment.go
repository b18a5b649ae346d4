package model

import "time"

// ExamAssignment 将试卷布置给班级，限定作答时间窗口与次数
// swagger:model ExamAssignment
type ExamAssignment struct {
	BaseModel
	ExamID      uint      `gorm:"index;not null" json:"examId"`
	ClassID     uint      `gorm:"index;not null" json:"classId"`
	OpenAt      time.Time `gorm:"not null" json:"openAt"`
	CloseAt     time.Time `gorm:"not null" json:"closeAt"`
	MaxAttempts *int      `json:"maxAttempts"`

	Exam  *Exam  `gorm:"foreignKey:ExamID" json:"exam,omitempty"`
	Class *Class `gorm:"foreignKey:ClassID" json:"class,omitempty"`
}

func (ExamAssignment) TableName() string {
	return "exam_assignments"
}

// IsOpen 闭区间 [OpenAt, CloseAt]
func (a *ExamAssignment) IsOpen(now time.Time) bool {
	return !now.Before(a.OpenAt) && !now.After(a.CloseAt)
}

// AttemptsExhausted MaxAttempts 为空表示不限次数
func (a *ExamAssignment) AttemptsExhausted(finished int64) bool {
	return a.MaxAttempts != nil && finished >= int64(*a.MaxAttempts)
}
