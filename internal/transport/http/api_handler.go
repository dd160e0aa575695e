package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"learnquest/internal/app"
	"learnquest/internal/domain"
	"learnquest/internal/logger"
)

// APIHandler serves the read side of learner progress over REST.
type APIHandler struct {
	service *app.ProgressService
	log     *logger.Logger
}

func NewAPIHandler(service *app.ProgressService, log *logger.Logger) *APIHandler {
	return &APIHandler{service: service, log: log}
}

// Register mounts the progress routes on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /users/{username}/dashboard", h.dashboard)
	mux.HandleFunc("GET /users/{username}/review", h.review)
	mux.HandleFunc("GET /users/{username}/wrong-pool", h.wrongPool)
	mux.HandleFunc("GET /users/{username}/suggestions", h.suggestions)
	mux.HandleFunc("POST /users/{username}/suggestions/{quizId}/dismiss", h.dismiss)
	mux.HandleFunc("DELETE /users/{username}/progress/{quizId}", h.deleteProgress)
}

func (h *APIHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDashboardView(d))
}

func (h *APIHandler) review(w http.ResponseWriter, r *http.Request) {
	refs, err := h.service.Review(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if refs == nil {
		refs = []domain.QuestionRef{}
	}
	writeJSON(w, http.StatusOK, refs)
}

func (h *APIHandler) wrongPool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.service.WrongPool(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	questions := make([]questionView, len(pool.Questions))
	for i, q := range pool.Questions {
		questions[i] = newQuestionView(q)
	}
	writeJSON(w, http.StatusOK, struct {
		Questions  []questionView       `json:"questions"`
		Unresolved []domain.QuestionRef `json:"unresolved,omitempty"`
	}{questions, pool.Unresolved})
}

func (h *APIHandler) suggestions(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.service.Suggestions(r.Context(), r.PathValue("username"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if quizzes == nil {
		quizzes = []domain.QuizSummary{}
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (h *APIHandler) dismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DismissSuggestion(r.Context(), r.PathValue("username"), r.PathValue("quizId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) deleteProgress(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProgress(r.Context(), r.PathValue("username"), r.PathValue("quizId")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrProgressNotFound),
		errors.Is(err, domain.ErrEmptyPool):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrphanedProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrOptionNotFound):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
