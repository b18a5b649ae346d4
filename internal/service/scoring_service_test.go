package service

import (
	"context"
	"encoding/json"
	"testing"

	"school_exam_backend/internal/model"
	"school_exam_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreResponses(t *testing.T) {
	questions := []model.AttemptQuestion{
		{QuestionID: 1, TypeSnapshot: model.QuestionMCQ, PointsSnapshot: 2},
		{QuestionID: 2, TypeSnapshot: model.QuestionMCQ, PointsSnapshot: 3},
		{QuestionID: 3, TypeSnapshot: model.QuestionMCQ, PointsSnapshot: 4},
	}
	instances := []model.OptionInstance{
		{ID: 10, QuestionID: 1, IsCorrectSnapshot: true},
		{ID: 11, QuestionID: 1},
		{ID: 20, QuestionID: 2, IsCorrectSnapshot: true},
		{ID: 30, QuestionID: 3, IsCorrectSnapshot: true},
	}
	chosen := func(id uint) *uint { return &id }
	responses := []model.Response{
		{ID: 100, QuestionID: 1, ChosenOptionInstanceID: chosen(10)},
		// 正确选项但属于其他题目
		{ID: 101, QuestionID: 2, ChosenOptionInstanceID: chosen(30)},
		{ID: 102, QuestionID: 3},
	}

	got := ScoreResponses(questions, instances, responses)
	assert.Equal(t, 2.0, got.Score)
	assert.False(t, got.NeedsManual)
	assert.Equal(t, map[uint]float64{100: 2, 101: 0, 102: 0}, got.Awarded)

	questions = append(questions, model.AttemptQuestion{QuestionID: 4, TypeSnapshot: model.QuestionEssay, PointsSnapshot: 5})
	responses = append(responses, model.Response{ID: 103, QuestionID: 4, EssayText: strPtr("text")})
	got = ScoreResponses(questions, instances, responses)
	assert.True(t, got.NeedsManual)
	assert.NotContains(t, got.Awarded, uint(103))
}

func TestRawScoreUnmarshal(t *testing.T) {
	var req GradeRequest
	require.NoError(t, json.Unmarshal([]byte(`{"scores":{"1":4.5,"2":"3","3":"abc"},"comments":{"1":"good"}}`), &req))
	assert.Equal(t, RawScore("4.5"), req.Scores[1])
	assert.Equal(t, RawScore("3"), req.Scores[2])
	assert.Equal(t, 0.0, util.LenientFloat(string(req.Scores[3])))
	assert.Equal(t, "good", req.Comments[1])
}

// submitMixed 提交一份 4 分选择题答对、5 分问答题待批改的作答
func submitMixed(t *testing.T, f *fixture, maxAttempts *int) (attemptID, essayResponseID uint) {
	t.Helper()
	exam, _ := f.newExam(examOpts{}, mcq(4, 0, "right", "wrong"), essay(5, "Explain gravity"))
	a := f.assign(exam.ID, maxAttempts)
	view := f.start(a.ID)
	mq := questionByType(t, view, model.QuestionMCQ, 0)
	eq := questionByType(t, view, model.QuestionEssay, 0)

	result, err := f.responses.SubmitAttempt(context.Background(), f.student.ID, view.AttemptID, []AnswerInput{
		{QuestionID: mq.QuestionID, OptionInstanceID: optionID(t, mq, "right")},
		{QuestionID: eq.QuestionID, EssayText: strPtr("Things fall down")},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, model.AttemptNeedsGrading, result.Status)

	var r model.Response
	require.NoError(t, f.db.Where("attempt_id = ? AND question_id = ?", view.AttemptID, eq.QuestionID).First(&r).Error)
	return view.AttemptID, r.ID
}

func TestGradeAttemptCompletesScore(t *testing.T) {
	f := newFixture(t)
	attemptID, essayID := submitMixed(t, f, intPtr(1))
	ctx := context.Background()

	before := f.attempt(attemptID)
	assert.Equal(t, 4.0, before.AutoScore)
	assert.Nil(t, before.TotalScore)

	graded, err := f.scoring.GradeAttempt(ctx, f.teacher, attemptID, GradeRequest{
		Scores:   map[uint]RawScore{essayID: "3"},
		Comments: map[uint]string{essayID: "Needs more detail"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptGraded, graded.Status)
	assert.Equal(t, 3.0, graded.ManualScore)
	require.NotNil(t, graded.TotalScore)
	assert.Equal(t, 7.0, *graded.TotalScore)

	var r model.Response
	require.NoError(t, f.db.First(&r, essayID).Error)
	require.NotNil(t, r.ScoreAwarded)
	assert.Equal(t, 3.0, *r.ScoreAwarded)
	assert.Equal(t, "Needs more detail", *r.GraderComment)

	assignmentID := f.attempt(attemptID).AssignmentID
	_, err = f.attempts.StartOrResume(ctx, assignmentID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrMaxAttemptsReached)
}

func TestRegradeReplacesManualScore(t *testing.T) {
	f := newFixture(t)
	attemptID, essayID := submitMixed(t, f, nil)
	ctx := context.Background()

	for _, raw := range []RawScore{"3", "3"} {
		graded, err := f.scoring.GradeAttempt(ctx, f.teacher, attemptID, GradeRequest{Scores: map[uint]RawScore{essayID: raw}})
		require.NoError(t, err)
		assert.Equal(t, 7.0, *graded.TotalScore)
	}

	graded, err := f.scoring.GradeAttempt(ctx, f.teacher, attemptID, GradeRequest{Scores: map[uint]RawScore{essayID: "1.5"}})
	require.NoError(t, err)
	assert.Equal(t, 1.5, graded.ManualScore)
	assert.Equal(t, 5.5, *graded.TotalScore)
}

func TestRegradeSubsetClearsOmittedScores(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{}, essay(5, "Explain gravity"), essay(5, "Explain friction"))
	a := f.assign(exam.ID, nil)
	view := f.start(a.ID)
	ctx := context.Background()

	answers := make([]AnswerInput, 0, len(view.Questions))
	for _, q := range view.Questions {
		answers = append(answers, AnswerInput{QuestionID: q.QuestionID, EssayText: strPtr("because")})
	}
	_, err := f.responses.SubmitAttempt(ctx, f.student.ID, view.AttemptID, answers, nil)
	require.NoError(t, err)

	var responses []model.Response
	require.NoError(t, f.db.Where("attempt_id = ?", view.AttemptID).Order("id").Find(&responses).Error)
	require.Len(t, responses, 2)
	first, second := responses[0].ID, responses[1].ID

	_, err = f.scoring.GradeAttempt(ctx, f.teacher, view.AttemptID, GradeRequest{
		Scores:   map[uint]RawScore{first: "3", second: "4"},
		Comments: map[uint]string{second: "clear"},
	})
	require.NoError(t, err)

	graded, err := f.scoring.GradeAttempt(ctx, f.teacher, view.AttemptID, GradeRequest{Scores: map[uint]RawScore{first: "2"}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, graded.ManualScore)
	assert.Equal(t, 2.0, *graded.TotalScore)

	var stored []model.Response
	require.NoError(t, f.db.Where("attempt_id = ?", view.AttemptID).Order("id").Find(&stored).Error)
	sum := 0.0
	for _, r := range stored {
		if r.ScoreAwarded != nil {
			sum += *r.ScoreAwarded
		}
	}
	assert.Equal(t, *graded.TotalScore, sum)
	require.NotNil(t, stored[0].ScoreAwarded)
	assert.Equal(t, 2.0, *stored[0].ScoreAwarded)
	assert.Nil(t, stored[1].ScoreAwarded)
	require.NotNil(t, stored[1].GraderComment)
	assert.Equal(t, "clear", *stored[1].GraderComment)
}

func TestGradeClampsAndTreatsInvalidAsZero(t *testing.T) {
	f := newFixture(t)
	attemptID, essayID := submitMixed(t, f, nil)
	ctx := context.Background()

	cases := []struct {
		raw    RawScore
		manual float64
	}{
		{"99", 5},
		{"-2", 0},
		{"abc", 0},
		{"NaN", 0},
		{"", 0},
		{"4.25", 4.25},
	}
	for _, tc := range cases {
		graded, err := f.scoring.GradeAttempt(ctx, f.teacher, attemptID, GradeRequest{Scores: map[uint]RawScore{essayID: tc.raw}})
		require.NoError(t, err, "raw %q", tc.raw)
		assert.Equal(t, tc.manual, graded.ManualScore, "raw %q", tc.raw)
		assert.Equal(t, 4+tc.manual, *graded.TotalScore, "raw %q", tc.raw)
	}
}

func TestGradeAttemptRejections(t *testing.T) {
	f := newFixture(t)
	attemptID, essayID := submitMixed(t, f, nil)
	ctx := context.Background()

	stranger := f.newUser("Mr. Chen", model.Teacher)
	_, err := f.scoring.GradeAttempt(ctx, stranger, attemptID, GradeRequest{Scores: map[uint]RawScore{essayID: "3"}})
	assert.ErrorIs(t, err, util.ErrUnauthorized)

	admin := f.newUser("Admin", model.Admin)
	_, err = f.scoring.GradeAttempt(ctx, admin, attemptID, GradeRequest{Scores: map[uint]RawScore{essayID: "3"}})
	assert.NoError(t, err)

	var mcqResponse model.Response
	require.NoError(t, f.db.Where("attempt_id = ? AND id <> ?", attemptID, essayID).First(&mcqResponse).Error)
	_, err = f.scoring.GradeAttempt(ctx, f.teacher, attemptID, GradeRequest{Scores: map[uint]RawScore{mcqResponse.ID: "1"}})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.scoring.GradeAttempt(ctx, f.teacher, attemptID, GradeRequest{Scores: map[uint]RawScore{777777: "1"}})
	assert.ErrorIs(t, err, util.ErrValidation)

	_, err = f.scoring.GradeAttempt(ctx, f.teacher, 777777, GradeRequest{})
	assert.ErrorIs(t, err, util.ErrAttemptNotFound)
}

func TestGradeInProgressAttempt(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{}, essay(5, "why"))
	a := f.assign(exam.ID, nil)
	view := f.start(a.ID)

	_, err := f.scoring.GradeAttempt(context.Background(), f.teacher, view.AttemptID, GradeRequest{})
	assert.ErrorIs(t, err, util.ErrInvalidAttemptState)
	assert.Equal(t, model.AttemptInProgress, f.attempt(view.AttemptID).Status)
}

func TestGetGradingView(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{}, mcq(4, 0, "right", "wrong"), essay(5, "Explain gravity"))
	a := f.assign(exam.ID, nil)
	view := f.start(a.ID)
	mq := questionByType(t, view, model.QuestionMCQ, 0)
	eq := questionByType(t, view, model.QuestionEssay, 0)
	ctx := context.Background()

	_, err := f.responses.SubmitAttempt(ctx, f.student.ID, view.AttemptID, []AnswerInput{
		{QuestionID: mq.QuestionID, OptionInstanceID: optionID(t, mq, "wrong")},
		{QuestionID: eq.QuestionID, EssayText: strPtr("mass attracts mass")},
	}, []UploadFile{textFile(eq.QuestionID, "proof.txt", "F = G m1 m2 / r^2")})
	require.NoError(t, err)

	gv, err := f.scoring.GetGradingView(ctx, f.teacher, view.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, "Sam", gv.StudentName)
	assert.Equal(t, 9.0, gv.TotalPoints)
	assert.Nil(t, gv.Attempt.Assignment)
	require.Len(t, gv.Items, 2)

	mItem, eItem := gv.Items[0], gv.Items[1]
	assert.Equal(t, "B", mItem.ChosenLabel)
	assert.Equal(t, "wrong", mItem.ChosenText)
	require.NotNil(t, mItem.IsCorrect)
	assert.False(t, *mItem.IsCorrect)
	require.NotNil(t, mItem.Score)
	assert.Zero(t, *mItem.Score)

	assert.Equal(t, "mass attracts mass", *eItem.EssayText)
	assert.Nil(t, eItem.Score)
	require.Len(t, eItem.Media, 1)
	assert.Equal(t, "proof.txt", eItem.Media[0].FileName)
	assert.Contains(t, eItem.Media[0].URL, "/files/"+util.ResponseMediaDir)

	stranger := f.newUser("Mr. Chen", model.Teacher)
	_, err = f.scoring.GetGradingView(ctx, stranger, view.AttemptID)
	assert.ErrorIs(t, err, util.ErrUnauthorized)
}
