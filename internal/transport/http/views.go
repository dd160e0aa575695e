package http

import (
	"learnquest/internal/app"
	"learnquest/internal/domain"
	"learnquest/internal/srs"
)

// questionView is a question as sent to the player; the correct index stays
// on the server until the question is answered.
type questionView struct {
	Key     string                 `json:"key"`
	Prompt  string                 `json:"prompt"`
	Options []string               `json:"options"`
	Origin  *domain.QuestionOrigin `json:"origin,omitempty"`
}

type sessionView struct {
	SessionID string         `json:"sessionId"`
	QuizID    string         `json:"quizId"`
	Pooled    bool           `json:"pooled"`
	Questions []questionView `json:"questions"`
}

type answerView struct {
	Key          string             `json:"key"`
	Correct      bool               `json:"correct"`
	CorrectIndex int                `json:"correctIndex"`
	SRS          srs.StoredQuestion `json:"srs"`
}

type progressView struct {
	Progress  srs.StoredProgress   `json:"progress"`
	QuizTitle string               `json:"quizTitle,omitempty"`
	Stats     domain.ProgressStats `json:"stats"`
	Orphaned  bool                 `json:"orphaned"`
	CanResume bool                 `json:"canResume"`
}

type dashboardView struct {
	Progress       []progressView       `json:"progress"`
	DueForReview   []domain.QuestionRef `json:"dueForReview"`
	WrongPoolSize  int                  `json:"wrongPoolSize"`
	TotalXP        int                  `json:"totalXP"`
	CompletedCount int                  `json:"completedCount"`
}

func newSessionView(sess *app.Session) sessionView {
	questions := sess.Questions()
	out := sessionView{
		SessionID: sess.ID(),
		QuizID:    sess.QuizID(),
		Pooled:    sess.Pooled(),
		Questions: make([]questionView, len(questions)),
	}
	for i, q := range questions {
		out.Questions[i] = newQuestionView(q)
	}
	return out
}

func newQuestionView(q domain.SessionQuestion) questionView {
	options := make([]string, len(q.Question.Options))
	for i, o := range q.Question.Options {
		options[i] = o.Text
	}
	return questionView{Key: q.Key, Prompt: q.Question.Prompt, Options: options, Origin: q.Origin}
}

func newAnswerView(r domain.AnswerResult) answerView {
	return answerView{Key: r.Key, Correct: r.Correct, CorrectIndex: r.CorrectIndex, SRS: srs.Store(r.SRS)}
}

func newDashboardView(d app.Dashboard) dashboardView {
	out := dashboardView{
		Progress:       make([]progressView, len(d.Progress)),
		DueForReview:   d.DueForReview,
		WrongPoolSize:  d.WrongPoolSize,
		TotalXP:        d.TotalXP,
		CompletedCount: d.CompletedCount,
	}
	if out.DueForReview == nil {
		out.DueForReview = []domain.QuestionRef{}
	}
	for i, v := range d.Progress {
		out.Progress[i] = progressView{
			Progress:  srs.StoreProgress(v.Progress),
			QuizTitle: v.QuizTitle,
			Stats:     v.Stats,
			Orphaned:  v.Orphaned,
			CanResume: v.CanResume,
		}
	}
	return out
}
