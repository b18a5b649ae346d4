package model

type QuestionType string

const (
	QuestionMCQ   QuestionType = "MCQ"
	QuestionEssay QuestionType = "ESSAY"
)

func (t QuestionType) Valid() bool {
	return t == QuestionMCQ || t == QuestionEssay
}

// swagger:model Exam
type Exam struct {
	BaseModel
	TeacherID        uint     `gorm:"index;not null" json:"teacherId"`
	Code             string   `gorm:"size:32;uniqueIndex;not null" json:"code"`
	Title            string   `gorm:"size:255;not null" json:"title"`
	Description      string   `gorm:"type:text" json:"description"`
	DurationMinutes  int      `gorm:"not null" json:"durationMinutes"`
	TotalPoints      float64  `gorm:"default:0" json:"totalPoints"`
	PassingPoints    *float64 `json:"passingPoints"`
	ShuffleQuestions bool     `gorm:"default:false" json:"shuffleQuestions"`
	ShuffleOptions   bool     `gorm:"default:false" json:"shuffleOptions"`

	Questions []Question `gorm:"foreignKey:ExamID" json:"questions,omitempty"`
}

func (Exam) TableName() string {
	return "exams"
}

// Question ExamID 为空表示题库中的题目
// swagger:model Question
type Question struct {
	BaseModel
	ExamID     *uint        `gorm:"index" json:"examId"`
	TeacherID  uint         `gorm:"index;not null" json:"teacherId"`
	Type       QuestionType `gorm:"size:10;not null" json:"type"`
	Points     float64      `gorm:"not null" json:"points"`
	Body       string       `gorm:"type:text;not null" json:"body"`
	Difficulty *int         `json:"difficulty"`

	Options []MCQOption     `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
	Media   []QuestionMedia `gorm:"foreignKey:QuestionID" json:"media,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// MCQOption 按创建顺序（ID）排列
type MCQOption struct {
	BaseModel
	QuestionID  uint   `gorm:"index;not null" json:"questionId"`
	Text        string `gorm:"type:text;not null" json:"text"`
	IsCorrect   bool   `gorm:"default:false" json:"isCorrect"`
	Explanation string `gorm:"type:text" json:"explanation,omitempty"`
}

func (MCQOption) TableName() string {
	return "mcq_options"
}

type QuestionMedia struct {
	BaseModel
	QuestionID uint   `gorm:"index;not null" json:"questionId"`
	FileName   string `gorm:"size:255;not null" json:"fileName"`
	StoredPath string `gorm:"size:512;not null" json:"storedPath"`
	URL        string `gorm:"-" json:"url,omitempty"`
}

func (QuestionMedia) TableName() string {
	return "question_media"
}
