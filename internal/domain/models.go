package domain

import (
	"strconv"
	"time"
)

// Option represents a possible answer for a question.
type Option struct {
	Text string `json:"text"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID           string   `json:"id,omitempty"` // optional; the position is used when empty
	Prompt       string   `json:"prompt"`
	Options      []Option `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
}

// Quiz is a collection of questions placed in the subject > class > topic hierarchy.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	SubjectID string     `json:"subjectId"`
	ClassID   string     `json:"classId"`
	TopicID   string     `json:"topicId"`
	Questions []Question `json:"questions"`
}

// QuizSummary is the catalog listing entry used for suggestions.
type QuizSummary struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	SubjectID     string `json:"subjectId"`
	ClassID       string `json:"classId"`
	TopicID       string `json:"topicId"`
	QuestionCount int    `json:"questionCount"`
}

// Summary returns the listing entry for q.
func (q Quiz) Summary() QuizSummary {
	return QuizSummary{
		ID:            q.ID,
		Title:         q.Title,
		SubjectID:     q.SubjectID,
		ClassID:       q.ClassID,
		TopicID:       q.TopicID,
		QuestionCount: len(q.Questions),
	}
}

// QuestionKey is the stable identifier of a question inside a progress record.
// An explicit question ID wins; otherwise the key is derived from the position,
// which means reordering questions in an edit re-keys them.
func QuestionKey(quizID string, index int, explicitID string) string {
	if explicitID != "" {
		return explicitID
	}
	return quizID + "_" + strconv.Itoa(index)
}

// Key returns the progress key of the question at index in q.
func (q Quiz) Key(index int) string {
	return QuestionKey(q.ID, index, q.Questions[index].ID)
}

// Keys returns the progress keys of every question in order.
func (q Quiz) Keys() []string {
	keys := make([]string, len(q.Questions))
	for i := range q.Questions {
		keys[i] = q.Key(i)
	}
	return keys
}

// IndexOf returns the position of the question stored under key, or -1.
func (q Quiz) IndexOf(key string) int {
	for i := range q.Questions {
		if q.Key(i) == key {
			return i
		}
	}
	return -1
}

// QuestionSRSData is the per-question spaced-repetition state.
// Zero timestamps mean "not set".
type QuestionSRSData struct {
	Answered          bool      `json:"answered"`
	Attempts          int       `json:"attempts"`
	LastAnswerCorrect bool      `json:"lastAnswerCorrect"`
	CorrectStreak     int       `json:"correctStreak"`
	DifficultyLevel   int       `json:"difficultyLevel"`
	LastAttemptDate   time.Time `json:"-"`
	NextReviewDate    time.Time `json:"-"`
}

// Validate rejects records that could not have been produced by the update rule.
func (d QuestionSRSData) Validate() error {
	switch {
	case d.Attempts < 0, d.CorrectStreak < 0, d.DifficultyLevel < 0:
		return ErrInvalidRecord
	case d.CorrectStreak > d.Attempts:
		return ErrInvalidRecord
	case d.Answered && d.Attempts == 0:
		return ErrInvalidRecord
	}
	return nil
}

// UserQuizProgress is the durable progress of one user on one quiz.
type UserQuizProgress struct {
	Username         string
	QuizID           string
	Questions        map[string]QuestionSRSData
	TotalTries       int
	Completed        bool
	LastUpdated      time.Time
	TotalElapsedTime *time.Duration
	CompletedTime    *time.Duration
	XP               *int
	LastXP           *int
}

// NewProgress returns an empty record for (username, quizID).
func NewProgress(username, quizID string) UserQuizProgress {
	return UserQuizProgress{
		Username:  username,
		QuizID:    quizID,
		Questions: make(map[string]QuestionSRSData),
	}
}

// Clone returns a copy that shares no mutable state with p.
func (p UserQuizProgress) Clone() UserQuizProgress {
	out := p
	out.Questions = make(map[string]QuestionSRSData, len(p.Questions))
	for k, v := range p.Questions {
		out.Questions[k] = v
	}
	if p.TotalElapsedTime != nil {
		v := *p.TotalElapsedTime
		out.TotalElapsedTime = &v
	}
	if p.CompletedTime != nil {
		v := *p.CompletedTime
		out.CompletedTime = &v
	}
	if p.XP != nil {
		v := *p.XP
		out.XP = &v
	}
	if p.LastXP != nil {
		v := *p.LastXP
		out.LastXP = &v
	}
	return out
}

// AllAnswered reports whether every recorded question is answered.
// A record without questions is never complete.
func (p UserQuizProgress) AllAnswered() bool {
	if len(p.Questions) == 0 {
		return false
	}
	for _, q := range p.Questions {
		if !q.Answered {
			return false
		}
	}
	return true
}

// QuestionRef points at one question of one quiz.
type QuestionRef struct {
	QuizID      string    `json:"quizId"`
	QuestionKey string    `json:"questionKey"`
	DueAt       time.Time `json:"dueAt"`
}

// QuestionOrigin is the back-reference a pooled question carries to its source.
type QuestionOrigin struct {
	QuizID        string `json:"originQuizId"`
	QuestionIndex int    `json:"originQuestionIndex"`
	QuizTitle     string `json:"originQuizTitle,omitempty"`
}

// SessionQuestion is a question as played in a session. Origin is nil for a
// question of a real quiz and set for a question of the Wrong Questions Pool.
type SessionQuestion struct {
	Key      string          `json:"key"`
	Question Question        `json:"question"`
	Origin   *QuestionOrigin `json:"origin,omitempty"`
}

// WrongQuestionsPool is the virtual quiz assembled from missed questions.
type WrongQuestionsPool struct {
	Questions []SessionQuestion `json:"questions"`
	// Unresolved lists missed questions whose quiz or question is gone from the catalog.
	Unresolved []QuestionRef `json:"unresolved,omitempty"`
}

// ProgressStats are the mastery buckets of one progress record.
type ProgressStats struct {
	TotalQuestions    int `json:"totalQuestions"`
	AnsweredQuestions int `json:"answeredQuestions"`
	MasteredQuestions int `json:"masteredQuestions"`
	LearningQuestions int `json:"learningQuestions"`
	NewQuestions      int `json:"newQuestions"`
	DueForReview      int `json:"dueForReview"`
}

// ProgressView is a dashboard row.
type ProgressView struct {
	Progress  UserQuizProgress
	QuizTitle string
	Stats     ProgressStats
	Orphaned  bool
	CanResume bool
}

// AnswerResult summarizes the outcome of one submission.
type AnswerResult struct {
	Key          string          `json:"key"`
	Correct      bool            `json:"correct"`
	CorrectIndex int             `json:"correctIndex"`
	SRS          QuestionSRSData `json:"srs"`
}
