package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"school_exam_backend/internal/model"
	"school_exam_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOrResumeCreatesSnapshot(t *testing.T) {
	f := newFixture(t)
	exam, qs := f.newExam(examOpts{duration: 45},
		mcq(2, 1, "Mercury", "Venus", "Mars"),
		essay(5, "Explain photosynthesis"),
	)
	a := f.assign(exam.ID, nil)

	view := f.start(a.ID)

	assert.Equal(t, 1, view.AttemptNumber)
	assert.Equal(t, model.AttemptInProgress, view.Status)
	assert.False(t, view.Resumed)
	assert.Equal(t, int64(45*60), view.RemainingSeconds)
	require.Len(t, view.Questions, 2)

	// 未洗牌时保持创建顺序
	assert.Equal(t, qs[0].ID, view.Questions[0].QuestionID)
	assert.Equal(t, 1, view.Questions[0].DisplayOrder)
	require.Len(t, view.Questions[0].Options, 3)
	for i, o := range view.Questions[0].Options {
		assert.Equal(t, i+1, o.DisplayOrder)
		assert.Equal(t, util.DisplayLabel(i+1), o.Label)
		assert.Equal(t, qs[0].Options[i].Text, o.Text)
	}
	assert.Empty(t, view.Questions[1].Options)

	var instances []model.OptionInstance
	require.NoError(t, f.db.Where("attempt_id = ?", view.AttemptID).Find(&instances).Error)
	assert.Len(t, instances, 3)
	for _, inst := range instances {
		assert.Equal(t, inst.OptionTextSnapshot == "Venus", inst.IsCorrectSnapshot)
	}
}

func TestResumeReturnsSameOrder(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{shuffleQuestions: true, shuffleOptions: true},
		mcq(1, 0, "a", "b", "c", "d"),
		mcq(1, 1, "e", "f", "g", "h"),
		mcq(1, 2, "i", "j", "k", "l"),
		essay(3, "why"),
	)
	a := f.assign(exam.ID, nil)

	first := f.start(a.ID)
	f.advance(time.Minute)
	second := f.start(a.ID)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, first.RemainingSeconds-60, second.RemainingSeconds)
	require.Equal(t, len(first.Questions), len(second.Questions))
	for i := range first.Questions {
		assert.Equal(t, first.Questions[i].QuestionID, second.Questions[i].QuestionID)
		assert.Equal(t, first.Questions[i].Options, second.Questions[i].Options)
	}

	var count int64
	f.db.Model(&model.Attempt{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOptionShuffleFirstPositionIsUniform(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{shuffleOptions: true}, mcq(1, 0, "w", "x", "y", "z"))
	a := f.assign(exam.ID, nil)

	const trials = 400
	first := make(map[string]int)
	for i := 0; i < trials; i++ {
		view := f.start(a.ID)
		first[view.Questions[0].Options[0].Text]++
		_, err := f.responses.SubmitAttempt(context.Background(), f.student.ID, view.AttemptID, nil, nil)
		require.NoError(t, err)
	}

	require.Len(t, first, 4)
	for text, c := range first {
		// 期望 100，允许较宽的统计误差
		assert.InDelta(t, trials/4, c, 45, "option %s", text)
	}
}

func TestStartOrResumeWindow(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{}, mcq(1, 0, "a", "b"))
	ctx := context.Background()

	upcoming, err := f.assignments.CreateAssignment(ctx, f.teacher, exam.ID, CreateAssignmentRequest{
		ClassID: f.class.ID,
		OpenAt:  f.now.Add(time.Hour),
		CloseAt: f.now.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.attempts.StartOrResume(ctx, upcoming.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrNotYetOpen)
	assert.ErrorIs(t, err, util.ErrWindowViolation)

	closed, err := f.assignments.CreateAssignment(ctx, f.teacher, exam.ID, CreateAssignmentRequest{
		ClassID: f.class.ID,
		OpenAt:  f.now.Add(-2 * time.Hour),
		CloseAt: f.now.Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = f.attempts.StartOrResume(ctx, closed.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrClosed)

	// 边界：openAt 与 closeAt 均包含在窗口内
	edge, err := f.assignments.CreateAssignment(ctx, f.teacher, exam.ID, CreateAssignmentRequest{
		ClassID: f.class.ID,
		OpenAt:  f.now,
		CloseAt: f.now.Add(time.Minute),
	})
	require.NoError(t, err)
	f.start(edge.ID)
}

func TestStartOrResumeRequiresEnrollment(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{}, mcq(1, 0, "a", "b"))
	a := f.assign(exam.ID, nil)
	outsider := f.newUser("Outsider", model.Student)

	_, err := f.attempts.StartOrResume(context.Background(), a.ID, outsider.ID)
	assert.ErrorIs(t, err, util.ErrAssignmentNotFound)

	_, err = f.attempts.StartOrResume(context.Background(), 9999, f.student.ID)
	assert.ErrorIs(t, err, util.ErrAssignmentNotFound)
}

func TestAttemptNumbersAreDense(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{}, mcq(1, 0, "a", "b"))
	a := f.assign(exam.ID, intPtr(3))
	ctx := context.Background()

	for n := 1; n <= 3; n++ {
		view := f.start(a.ID)
		assert.Equal(t, n, view.AttemptNumber)
		_, err := f.responses.SubmitAttempt(ctx, f.student.ID, view.AttemptID, nil, nil)
		require.NoError(t, err)
	}

	_, err := f.attempts.StartOrResume(ctx, a.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrMaxAttemptsReached)
}

func TestExpiredAttemptIsScoredFromDrafts(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{duration: 10}, mcq(4, 1, "a", "b", "c"))
	a := f.assign(exam.ID, nil)
	ctx := context.Background()

	view := f.start(a.ID)
	q := view.Questions[0]
	_, err := f.responses.SaveProgress(ctx, f.student.ID, view.AttemptID, []AnswerInput{
		{QuestionID: q.QuestionID, OptionInstanceID: optionID(t, q, "b")},
	})
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	_, err = f.attempts.StartOrResume(ctx, a.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrAttemptExpired)

	expired := f.attempt(view.AttemptID)
	assert.Equal(t, model.AttemptGraded, expired.Status)
	assert.True(t, expired.AutoSubmitted)
	assert.Equal(t, 4.0, expired.AutoScore)
	require.NotNil(t, expired.TotalScore)
	assert.Equal(t, 4.0, *expired.TotalScore)

	next := f.start(a.ID)
	assert.Equal(t, 2, next.AttemptNumber)
}

func TestExpiredAttemptCountsTowardsLimit(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{duration: 5}, essay(5, "describe"))
	a := f.assign(exam.ID, intPtr(1))

	f.start(a.ID)
	f.advance(6 * time.Minute)

	_, err := f.attempts.StartOrResume(context.Background(), a.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrAttemptExpired)
	_, err = f.attempts.StartOrResume(context.Background(), a.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrMaxAttemptsReached)
}

func TestConcurrentStartsCreateOneAttempt(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{shuffleOptions: true}, mcq(1, 0, "a", "b", "c"))
	a := f.assign(exam.ID, intPtr(1))

	const workers = 8
	ids := make(chan uint, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := f.attempts.StartOrResume(context.Background(), a.ID, f.student.ID)
			if assert.NoError(t, err) {
				ids <- view.AttemptID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)

	var count int64
	f.db.Model(&model.Attempt{}).Where("assignment_id = ?", a.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestConcurrentStartsAfterLimit(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{}, mcq(1, 0, "a", "b"))
	a := f.assign(exam.ID, intPtr(1))

	view := f.start(a.ID)
	_, err := f.responses.SubmitAttempt(context.Background(), f.student.ID, view.AttemptID, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.attempts.StartOrResume(context.Background(), a.ID, f.student.ID)
			assert.ErrorIs(t, err, util.ErrMaxAttemptsReached)
		}()
	}
	wg.Wait()

	finished, err := f.attemptRepo.CountFinished(context.Background(), a.ID, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), finished)
}

func TestSnapshotSurvivesQuestionEdits(t *testing.T) {
	f := newFixture(t)
	exam, qs := f.newExam(examOpts{}, mcq(2, 0, "old right", "old wrong"))
	a := f.assign(exam.ID, nil)
	ctx := context.Background()

	view := f.start(a.ID)

	_, err := f.exams.UpdateQuestion(ctx, f.teacher, qs[0].ID, mcq(10, 1, "new wrong", "new right"))
	require.NoError(t, err)

	resumed := f.start(a.ID)
	q := resumed.Questions[0]
	assert.Equal(t, 2.0, q.Points)
	assert.Equal(t, "old right", q.Options[0].Text)

	result, err := f.responses.SubmitAttempt(ctx, f.student.ID, view.AttemptID, []AnswerInput{
		{QuestionID: q.QuestionID, OptionInstanceID: optionID(t, q, "old right")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, result.AutoScore)

	// 新作答使用修改后的题目
	var updated model.Exam
	require.NoError(t, f.db.First(&updated, exam.ID).Error)
	assert.Equal(t, 10.0, updated.TotalPoints)
	fresh := f.start(a.ID)
	assert.Equal(t, 10.0, fresh.Questions[0].Points)
	assert.Equal(t, "new wrong", fresh.Questions[0].Options[0].Text)
}

func TestEmptyExamCannotStart(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{})
	a := f.assign(exam.ID, nil)

	_, err := f.attempts.StartOrResume(context.Background(), a.ID, f.student.ID)
	assert.ErrorIs(t, err, util.ErrValidation)

	var count int64
	f.db.Model(&model.Attempt{}).Count(&count)
	assert.Zero(t, count)
}

func TestGetAttemptResult(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{passing: floatPtr(3)}, mcq(2, 0, "a", "b"), mcq(2, 0, "c", "d"))
	a := f.assign(exam.ID, nil)
	ctx := context.Background()

	view := f.start(a.ID)
	inProgress, err := f.attempts.GetAttemptResult(ctx, f.student.ID, view.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, inProgress.Attempt.Status)
	assert.Empty(t, inProgress.Items)
	assert.Nil(t, inProgress.Passed)

	q0, q1 := view.Questions[0], view.Questions[1]
	_, err = f.responses.SubmitAttempt(ctx, f.student.ID, view.AttemptID, []AnswerInput{
		{QuestionID: q0.QuestionID, OptionInstanceID: optionID(t, q0, "a")},
		{QuestionID: q1.QuestionID, OptionInstanceID: optionID(t, q1, "d")},
	}, nil)
	require.NoError(t, err)

	result, err := f.attempts.GetAttemptResult(ctx, f.student.ID, view.AttemptID)
	require.NoError(t, err)
	require.NotNil(t, result.Passed)
	assert.False(t, *result.Passed)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, "A", result.Items[0].ChosenLabel)

	other := f.newUser("Other", model.Student)
	_, err = f.attempts.GetAttemptResult(ctx, other.ID, view.AttemptID)
	assert.ErrorIs(t, err, util.ErrAttemptNotFound)
}

func TestGetAttemptResultExpiresLazily(t *testing.T) {
	f := newFixture(t)
	exam, _ := f.newExam(examOpts{duration: 1}, essay(5, "describe"))
	a := f.assign(exam.ID, nil)

	view := f.start(a.ID)
	f.advance(2 * time.Minute)

	result, err := f.attempts.GetAttemptResult(context.Background(), f.student.ID, view.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptNeedsGrading, result.Attempt.Status)
	assert.True(t, result.Attempt.AutoSubmitted)
	assert.True(t, result.Pending)
}
