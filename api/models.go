package api

import (
	"github.com/funstudy/funstudy/quiz"
	"github.com/funstudy/funstudy/users"
)

// ErrorResponse is the body of every error without extra fields.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// MessageResponse is a bare success with a user-facing message.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GradeLevel string `json:"gradeLevel"`
}

// RegisterResponse is returned from POST /auth/register.
type RegisterResponse struct {
	Success                   bool   `json:"success"`
	Message                   string `json:"message"`
	UserSub                   string `json:"userSub"`
	EmailVerificationRequired bool   `json:"emailVerificationRequired"`
}

// ConfirmRegistrationRequest is the JSON body for POST /auth/confirm-registration.
type ConfirmRegistrationRequest struct {
	Email            string `json:"email"`
	ConfirmationCode string `json:"confirmationCode"`
}

// ResendConfirmationRequest is the JSON body for POST /auth/resend-confirmation.
type ResendConfirmationRequest struct {
	Email string `json:"email"`
}

// SessionUserView is the user projection exposed to the browser.
type SessionUserView struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SessionResponse is returned from GET /auth/session.
type SessionResponse struct {
	IsAuthenticated bool             `json:"isAuthenticated"`
	User            *SessionUserView `json:"user"`
	CSRFToken       string           `json:"csrfToken,omitempty"`
}

// QuestionsMetadata describes where a question batch came from.
type QuestionsMetadata struct {
	Grade                 string   `json:"grade"`
	Subject               string   `json:"subject"`
	Difficulty            string   `json:"difficulty"`
	TableName             string   `json:"tableName"`
	AvailableDifficulties []string `json:"availableDifficulties"`
}

// QuestionsResponse is returned from GET /api/quiz/questions/{grade}/{subject}/{difficulty}.
type QuestionsResponse struct {
	Success        bool                  `json:"success"`
	Questions      []quiz.PublicQuestion `json:"questions"`
	Count          int                   `json:"count"`
	TotalAvailable int                   `json:"totalAvailable"`
	Metadata       QuestionsMetadata     `json:"metadata"`
}

// AnswersRequest is the JSON body for POST /api/quiz/verify-answers and
// POST /api/quiz/submit.
type AnswersRequest struct {
	Answers    []quiz.Answer `json:"answers"`
	Grade      string        `json:"grade"`
	Subject    string        `json:"subject"`
	Difficulty string        `json:"difficulty"`
}

// VerifyResponse is returned from POST /api/quiz/verify-answers.
type VerifyResponse struct {
	Success bool `json:"success"`
	*quiz.Verification
}

// SubmitResponse is returned from POST /api/quiz/submit.
type SubmitResponse struct {
	Success bool `json:"success"`
	*quiz.SubmitResult
}

// SubjectsResponse is returned from GET /api/quiz/subjects/{grade}.
type SubjectsResponse struct {
	Success  bool     `json:"success"`
	Grade    string   `json:"grade"`
	Subjects []string `json:"subjects"`
	Count    int      `json:"count"`
}

// DifficultiesResponse is returned from GET /api/quiz/difficulties/{grade}/{subject}.
type DifficultiesResponse struct {
	Success      bool     `json:"success"`
	Grade        string   `json:"grade"`
	Subject      string   `json:"subject"`
	Difficulties []string `json:"difficulties"`
	Count        int      `json:"count"`
}

// StatsResponse is returned from GET /api/quiz/stats.
type StatsResponse struct {
	Success   bool        `json:"success"`
	Stats     *quiz.Stats `json:"stats"`
	Timestamp string      `json:"timestamp"`
}

// ProfileResponse is returned from the profile endpoints.
type ProfileResponse struct {
	Success bool        `json:"success"`
	User    *users.User `json:"user"`
}

// UpdateProfileRequest is the JSON body for PUT /api/user/profile.
type UpdateProfileRequest struct {
	GradeLevel  *string        `json:"gradeLevel,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// AttemptsResponse is returned from GET /api/user/attempts.
type AttemptsResponse struct {
	Success    bool           `json:"success"`
	Attempts   []quiz.Attempt `json:"attempts"`
	Count      int            `json:"count"`
	Pagination PaginationMeta `json:"pagination"`
}
