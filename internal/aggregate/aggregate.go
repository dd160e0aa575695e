// Package aggregate derives read-only views from all of a learner's progress
// records: the review queue, the wrong questions pool, per-quiz mastery
// statistics and the dashboard ordering. Nothing here mutates its input.
package aggregate

import (
	"sort"
	"time"

	"learnquest/internal/domain"
	"learnquest/internal/srs"
)

// DueForReview lists every solved question whose review date has arrived,
// earliest first.
func DueForReview(records map[string]domain.UserQuizProgress, now time.Time) []domain.QuestionRef {
	var refs []domain.QuestionRef
	for quizID, p := range records {
		for key, q := range p.Questions {
			if srs.IsDue(q, now) {
				refs = append(refs, domain.QuestionRef{QuizID: quizID, QuestionKey: key, DueAt: q.NextReviewDate})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].DueAt.Equal(refs[j].DueAt) {
			return refs[i].DueAt.Before(refs[j].DueAt)
		}
		return lessRef(refs[i], refs[j])
	})
	return refs
}

// WrongQuestions lists each attempted question whose latest answer was wrong,
// once per (quiz, question), ordered by quiz then key.
func WrongQuestions(records map[string]domain.UserQuizProgress) []domain.QuestionRef {
	var refs []domain.QuestionRef
	for quizID, p := range records {
		for key, q := range p.Questions {
			if srs.IsWrong(q) {
				refs = append(refs, domain.QuestionRef{QuizID: quizID, QuestionKey: key})
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return lessRef(refs[i], refs[j]) })
	return refs
}

// BuildWrongPool materializes the wrong questions against the live catalog.
// Questions whose quiz or question no longer exists are reported as unresolved.
func BuildWrongPool(records map[string]domain.UserQuizProgress, quizzes map[string]domain.Quiz) domain.WrongQuestionsPool {
	pool := domain.WrongQuestionsPool{}
	for _, ref := range WrongQuestions(records) {
		quiz, ok := quizzes[ref.QuizID]
		if !ok {
			pool.Unresolved = append(pool.Unresolved, ref)
			continue
		}
		idx := quiz.IndexOf(ref.QuestionKey)
		if idx < 0 {
			pool.Unresolved = append(pool.Unresolved, ref)
			continue
		}
		pool.Questions = append(pool.Questions, domain.SessionQuestion{
			Key:      ref.QuestionKey,
			Question: quiz.Questions[idx],
			Origin: &domain.QuestionOrigin{
				QuizID:        quiz.ID,
				QuestionIndex: idx,
				QuizTitle:     quiz.Title,
			},
		})
	}
	// Keep the pool in the order questions appear in their quizzes.
	sort.SliceStable(pool.Questions, func(i, j int) bool {
		a, b := pool.Questions[i].Origin, pool.Questions[j].Origin
		if a.QuizID != b.QuizID {
			return a.QuizID < b.QuizID
		}
		return a.QuestionIndex < b.QuestionIndex
	})
	return pool
}

// Stats buckets the questions of one record.
func Stats(p domain.UserQuizProgress, now time.Time) domain.ProgressStats {
	st := domain.ProgressStats{TotalQuestions: len(p.Questions)}
	for _, q := range p.Questions {
		if q.Answered {
			st.AnsweredQuestions++
		}
		switch srs.TierOf(q) {
		case srs.TierMastered:
			st.MasteredQuestions++
		case srs.TierLearning:
			st.LearningQuestions++
		default:
			st.NewQuestions++
		}
		if srs.IsDue(q, now) {
			st.DueForReview++
		}
	}
	return st
}

// Dashboard builds one view per record. Records whose quiz is missing from the
// catalog are kept and flagged orphaned; they cannot be resumed. Incomplete
// quizzes come first, then the most recently updated.
func Dashboard(records map[string]domain.UserQuizProgress, quizzes map[string]domain.Quiz, now time.Time) []domain.ProgressView {
	views := make([]domain.ProgressView, 0, len(records))
	for quizID, p := range records {
		view := domain.ProgressView{Progress: p, Stats: Stats(p, now)}
		if quiz, ok := quizzes[quizID]; ok {
			view.QuizTitle = quiz.Title
			view.CanResume = true
		} else {
			view.Orphaned = true
		}
		views = append(views, view)
	}
	SortProgress(views)
	return views
}

// SortProgress orders views incomplete first, then by last update descending.
func SortProgress(views []domain.ProgressView) {
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].Progress, views[j].Progress
		if a.Completed != b.Completed {
			return !a.Completed
		}
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
		return a.QuizID < b.QuizID
	})
}

func lessRef(a, b domain.QuestionRef) bool {
	if a.QuizID != b.QuizID {
		return a.QuizID < b.QuizID
	}
	return a.QuestionKey < b.QuestionKey
}
