package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// GetQuestions handles GET /api/quiz/questions/{grade}/{subject}/{difficulty}.
// Repeat requests from the same caller are served questions they have not
// seen yet; see usageID.
func (a *API) GetQuestions(w http.ResponseWriter, r *http.Request) {
	set, err := a.quiz.GetQuestions(r.Context(),
		chi.URLParam(r, "grade"), chi.URLParam(r, "subject"), chi.URLParam(r, "difficulty"),
		a.usageID(w, r))
	if err != nil {
		a.fail(w, r, "get questions failed", err)
		return
	}
	writeJSON(w, http.StatusOK, QuestionsResponse{
		Success:        true,
		Questions:      set.Questions,
		Count:          set.Count,
		TotalAvailable: set.TotalAvailable,
		Metadata: QuestionsMetadata{
			Grade:                 set.Grade,
			Subject:               set.Subject,
			Difficulty:            set.Difficulty,
			TableName:             set.TableName,
			AvailableDifficulties: set.Difficulties,
		},
	})
}

// VerifyAnswers handles POST /api/quiz/verify-answers. Nothing is stored.
func (a *API) VerifyAnswers(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[AnswersRequest](w, r, maxQuizBodySize)
	if !ok {
		return
	}
	v, err := a.quiz.VerifyAnswers(r.Context(), req.Answers, req.Grade, req.Subject, req.Difficulty)
	if err != nil {
		a.fail(w, r, "verify answers failed", err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Success: true, Verification: v})
}

// SubmitQuiz handles POST /api/quiz/submit.
func (a *API) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	user := sessionFromContext(r.Context()).session.User
	req, ok := decodeJSON[AnswersRequest](w, r, maxQuizBodySize)
	if !ok {
		return
	}
	res, err := a.quiz.SubmitQuiz(r.Context(), user.Sub, req.Grade, req.Subject, req.Difficulty, req.Answers)
	if err != nil {
		a.fail(w, r, "submit quiz failed", err)
		return
	}
	a.audit.logEvent(AuditQuizSubmitted, r, user.Sub)
	writeJSON(w, http.StatusOK, SubmitResponse{Success: true, SubmitResult: res})
}

// ListSubjects handles GET /api/quiz/subjects/{grade}.
func (a *API) ListSubjects(w http.ResponseWriter, r *http.Request) {
	grade := chi.URLParam(r, "grade")
	subjects, err := a.quiz.AvailableSubjects(r.Context(), grade)
	if err != nil {
		a.fail(w, r, "list subjects failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SubjectsResponse{
		Success:  true,
		Grade:    grade,
		Subjects: subjects,
		Count:    len(subjects),
	})
}

// ListDifficulties handles GET /api/quiz/difficulties/{grade}/{subject}.
func (a *API) ListDifficulties(w http.ResponseWriter, r *http.Request) {
	grade, subject := chi.URLParam(r, "grade"), chi.URLParam(r, "subject")
	difficulties, err := a.quiz.AvailableDifficulties(r.Context(), grade, subject)
	if err != nil {
		a.fail(w, r, "list difficulties failed", err)
		return
	}
	writeJSON(w, http.StatusOK, DifficultiesResponse{
		Success:      true,
		Grade:        grade,
		Subject:      subject,
		Difficulties: difficulties,
		Count:        len(difficulties),
	})
}

// QuizStats handles GET /api/quiz/stats.
func (a *API) QuizStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.quiz.Stats(r.Context())
	if err != nil {
		a.fail(w, r, "stats failed", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Success:   true,
		Stats:     stats,
		Timestamp: a.now().UTC().Format(time.RFC3339),
	})
}
