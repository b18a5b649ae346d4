package service

import (
	"context"
	"testing"

	"school_exam_backend/internal/model"
	"school_exam_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionRequestValidate(t *testing.T) {
	tests := []struct {
		name  string
		req   QuestionRequest
		valid bool
	}{
		{"mcq", mcq(1, 0, "a", "b"), true},
		{"essay", essay(3, "why"), true},
		{"unknown type", QuestionRequest{Type: "TRUE_FALSE", Points: 1, Body: "x"}, false},
		{"zero points", QuestionRequest{Type: model.QuestionEssay, Points: 0, Body: "x"}, false},
		{"blank body", QuestionRequest{Type: model.QuestionEssay, Points: 1, Body: "  "}, false},
		{"single option", QuestionRequest{Type: model.QuestionMCQ, Points: 1, Body: "x", Options: []OptionInput{{Text: "a", IsCorrect: true}}}, false},
		{"no correct option", QuestionRequest{Type: model.QuestionMCQ, Points: 1, Body: "x", Options: []OptionInput{{Text: "a"}, {Text: "b"}}}, false},
		{"blank option", QuestionRequest{Type: model.QuestionMCQ, Points: 1, Body: "x", Options: []OptionInput{{Text: "a", IsCorrect: true}, {Text: ""}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, util.ErrValidation)
			}
		})
	}
}

func TestExamTotalPointsFollowQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam, qs := f.newExam(examOpts{}, mcq(2, 0, "a", "b"), essay(5, "why"))

	got, err := f.exams.GetExam(ctx, f.teacher, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.TotalPoints)
	require.Len(t, got.Questions, 2)
	assert.Len(t, got.Questions[0].Options, 2)
	assert.Len(t, exam.Code, 8)

	// 选择题改为问答题，旧选项被移除
	_, err = f.exams.UpdateQuestion(ctx, f.teacher, qs[0].ID, essay(4, "now an essay"))
	require.NoError(t, err)
	got, err = f.exams.GetExam(ctx, f.teacher, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 9.0, got.TotalPoints)
	assert.Empty(t, got.Questions[0].Options)

	require.NoError(t, f.exams.DeleteQuestion(ctx, f.teacher, qs[1].ID))
	got, err = f.exams.GetExam(ctx, f.teacher, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got.TotalPoints)
	assert.Len(t, got.Questions, 1)

	list, err := f.exams.ListExams(ctx, f.teacher)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].QuestionCount)
	assert.Zero(t, list[0].AssignmentCount)
}

func TestExamOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam, qs := f.newExam(examOpts{}, essay(5, "why"))
	stranger := f.newUser("Mr. Chen", model.Teacher)

	_, err := f.exams.GetExam(ctx, stranger, exam.ID)
	assert.ErrorIs(t, err, util.ErrUnauthorized)
	_, err = f.exams.UpdateExam(ctx, stranger, exam.ID, ExamRequest{Title: "x", DurationMinutes: 5})
	assert.ErrorIs(t, err, util.ErrUnauthorized)
	_, err = f.exams.AddQuestion(ctx, stranger, uintString(exam.ID), essay(1, "x"), nil)
	assert.ErrorIs(t, err, util.ErrUnauthorized)
	_, err = f.exams.UpdateQuestion(ctx, stranger, qs[0].ID, essay(1, "x"))
	assert.ErrorIs(t, err, util.ErrUnauthorized)
	assert.ErrorIs(t, f.exams.DeleteQuestion(ctx, stranger, qs[0].ID), util.ErrUnauthorized)
	assert.ErrorIs(t, f.exams.DeleteExam(ctx, stranger, exam.ID), util.ErrUnauthorized)

	_, err = f.exams.GetExam(ctx, f.teacher, 424242)
	assert.ErrorIs(t, err, util.ErrExamNotFound)
	_, err = f.exams.AddQuestion(ctx, f.teacher, "not-a-number", essay(1, "x"), nil)
	assert.ErrorIs(t, err, util.ErrExamNotFound)

	admin := f.newUser("Admin", model.Admin)
	updated, err := f.exams.UpdateExam(ctx, admin, exam.ID, ExamRequest{Title: "Renamed", DurationMinutes: 15})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, f.teacher.ID, updated.TeacherID)
}

func TestQuestionBank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.exams.AddQuestion(ctx, f.teacher, util.BankExamID, mcq(2, 1, "x", "y"), []UploadFile{
		textFile(0, "figure.txt", "a figure"),
	})
	require.NoError(t, err)
	assert.Nil(t, q.ExamID)
	require.Len(t, q.Media, 1)
	assert.Contains(t, q.Media[0].URL, "/files/"+util.ExamMediaDir)

	f.newExam(examOpts{}, essay(1, "attached to an exam"))
	other := f.newUser("Mr. Chen", model.Teacher)
	_, err = f.exams.AddQuestion(ctx, other, util.BankExamID, essay(1, "someone else"), nil)
	require.NoError(t, err)

	bank, err := f.exams.ListBankQuestions(ctx, f.teacher)
	require.NoError(t, err)
	require.Len(t, bank, 1)
	assert.Equal(t, q.ID, bank[0].ID)
	assert.Len(t, bank[0].Options, 2)
	require.Len(t, bank[0].Media, 1)
	assert.NotEmpty(t, bank[0].Media[0].URL)

	_, err = f.exams.AddQuestion(ctx, f.teacher, util.BankExamID, QuestionRequest{Type: model.QuestionMCQ, Points: 1, Body: "x"}, []UploadFile{
		textFile(0, "never.txt", "stored"),
	})
	assert.ErrorIs(t, err, util.ErrValidation)
	assert.Equal(t, 1, f.store.count())
}

func TestDeleteQuestionMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.exams.AddQuestion(ctx, f.teacher, util.BankExamID, essay(1, "see attached"), []UploadFile{
		textFile(0, "one.txt", "1"),
		textFile(0, "two.txt", "2"),
	})
	require.NoError(t, err)
	require.Len(t, q.Media, 2)
	require.Equal(t, 2, f.store.count())

	stranger := f.newUser("Mr. Chen", model.Teacher)
	assert.ErrorIs(t, f.exams.DeleteQuestionMedia(ctx, stranger, q.Media[0].ID), util.ErrUnauthorized)

	require.NoError(t, f.exams.DeleteQuestionMedia(ctx, f.teacher, q.Media[0].ID))
	assert.Equal(t, 1, f.store.count())
	assert.ErrorIs(t, f.exams.DeleteQuestionMedia(ctx, f.teacher, q.Media[0].ID), util.ErrMediaNotFound)

	require.NoError(t, f.exams.DeleteQuestion(ctx, f.teacher, q.ID))
	assert.Zero(t, f.store.count())
}

func TestDeleteExamCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exam, _ := f.newExam(examOpts{}, mcq(1, 0, "a", "b"), essay(5, "why"))
	_, err := f.exams.AddQuestion(ctx, f.teacher, uintString(exam.ID), essay(2, "with figure"), []UploadFile{
		textFile(0, "figure.txt", "figure"),
	})
	require.NoError(t, err)
	a := f.assign(exam.ID, nil)

	view := f.start(a.ID)
	eq := questionByType(t, view, model.QuestionEssay, 0)
	_, err = f.responses.SubmitAttempt(ctx, f.student.ID, view.AttemptID, []AnswerInput{
		{QuestionID: eq.QuestionID, EssayText: strPtr("answer")},
	}, []UploadFile{textFile(eq.QuestionID, "answer.txt", "attachment")})
	require.NoError(t, err)
	require.Equal(t, 2, f.store.count())

	require.NoError(t, f.exams.DeleteExam(ctx, f.teacher, exam.ID))
	assert.Zero(t, f.store.count())

	for _, m := range []interface{}{
		&model.Exam{}, &model.Question{}, &model.MCQOption{}, &model.QuestionMedia{},
		&model.ExamAssignment{}, &model.Attempt{}, &model.AttemptQuestion{}, &model.OptionInstance{},
		&model.Response{}, &model.ResponseMedia{},
	} {
		var count int64
		require.NoError(t, f.db.Unscoped().Model(m).Count(&count).Error)
		assert.Zero(t, count, "%T", m)
	}

	_, err = f.exams.GetExam(ctx, f.teacher, exam.ID)
	assert.ErrorIs(t, err, util.ErrExamNotFound)
}

func TestDeleteCleanupIgnoresCancel(t *testing.T) {
	f := newFixture(t)
	bg := context.Background()
	// 模拟删除提交后客户端断开
	disconnecting := func() context.Context {
		ctx, cancel := context.WithCancel(bg)
		t.Cleanup(cancel)
		f.store.onDelete = cancel
		return ctx
	}

	q, err := f.exams.AddQuestion(bg, f.teacher, util.BankExamID, essay(1, "see attached"), []UploadFile{
		textFile(0, "one.txt", "1"),
		textFile(0, "two.txt", "2"),
	})
	require.NoError(t, err)
	require.NoError(t, f.exams.DeleteQuestionMedia(disconnecting(), f.teacher, q.Media[0].ID))
	assert.Equal(t, 1, f.store.count())
	require.NoError(t, f.exams.DeleteQuestion(disconnecting(), f.teacher, q.ID))
	assert.Zero(t, f.store.count())

	exam, _ := f.newExam(examOpts{})
	_, err = f.exams.AddQuestion(bg, f.teacher, uintString(exam.ID), essay(2, "with figure"), []UploadFile{
		textFile(0, "figure.txt", "a figure"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.store.count())
	require.NoError(t, f.exams.DeleteExam(disconnecting(), f.teacher, exam.ID))
	assert.Zero(t, f.store.count())
}
