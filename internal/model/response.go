package model

import "time"

// Response 每次作答每道题至多一条
// swagger:model Response
type Response struct {
	ID                     uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AttemptID              uint      `gorm:"uniqueIndex:idx_response_attempt_question;not null" json:"attemptId"`
	QuestionID             uint      `gorm:"uniqueIndex:idx_response_attempt_question;not null" json:"questionId"`
	ChosenOptionInstanceID *uint     `json:"chosenOptionInstanceId"`
	EssayText              *string   `gorm:"type:text" json:"essayText"`
	ScoreAwarded           *float64  `json:"scoreAwarded"`
	GraderComment          *string   `gorm:"type:text" json:"graderComment"`
	AnsweredAt             time.Time `json:"answeredAt"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`

	Media []ResponseMedia `gorm:"foreignKey:ResponseID" json:"media,omitempty"`
}

func (Response) TableName() string {
	return "responses"
}

type ResponseMedia struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ResponseID uint      `gorm:"index;not null" json:"responseId"`
	FileName   string    `gorm:"size:255;not null" json:"fileName"`
	StoredPath string    `gorm:"size:512;not null" json:"storedPath"`
	URL        string    `gorm:"-" json:"url,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (ResponseMedia) TableName() string {
	return "response_media"
}
