package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funstudy/funstudy/api"
	"github.com/funstudy/funstudy/auth"
	"github.com/funstudy/funstudy/quiz"
	"github.com/funstudy/funstudy/storage"
	"github.com/funstudy/funstudy/storage/memory"
	"github.com/funstudy/funstudy/users"
)

const frontendURL = "http://frontend.test"

type fakeOIDC struct {
	info *auth.UserInfo
}

func (f *fakeOIDC) AuthCodeURL(state, nonce string) string {
	return "https://login.example.com/oauth2/authorize?" + url.Values{"state": {state}, "nonce": {nonce}}.Encode()
}

func (f *fakeOIDC) Exchange(ctx context.Context, code string) (*auth.Tokens, error) {
	if code == "bad-code" {
		return nil, fmt.Errorf("invalid_grant")
	}
	return &auth.Tokens{AccessToken: "access-" + code, TokenType: "Bearer"}, nil
}

func (f *fakeOIDC) UserInfo(ctx context.Context, tokens *auth.Tokens) (*auth.UserInfo, error) {
	return f.info, nil
}

type fakeSignUp struct {
	confirmErr error
}

func (f *fakeSignUp) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.SignUpResult, error) {
	if req.Email == "taken@example.com" {
		return nil, &smithy.GenericAPIError{Code: "UsernameExistsException", Message: "exists"}
	}
	return &auth.SignUpResult{UserSub: "sub-registered"}, nil
}

func (f *fakeSignUp) ConfirmSignUp(ctx context.Context, email, code string) error {
	if code == "000000" {
		return &smithy.GenericAPIError{Code: "CodeMismatchException", Message: "mismatch"}
	}
	return f.confirmErr
}

func (f *fakeSignUp) ResendConfirmationCode(ctx context.Context, email string) error { return nil }

func (f *fakeSignUp) HasSecret() bool { return false }

type testEnv struct {
	srv      *httptest.Server
	db       storage.Store
	oidc     *fakeOIDC
	sessions *api.MemorySessionStore
}

func seedQuestions(t *testing.T, db storage.Store, table string, difficulties map[string]int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.CreateTable(ctx, storage.TableSpec{Name: table, KeyAttribute: quiz.QuestionKey}))
	var items []storage.Item
	for difficulty, n := range difficulties {
		for i := range n {
			items = append(items, storage.Item{
				quiz.QuestionKey: fmt.Sprintf("%s-%d", difficulty, i),
				"question":       fmt.Sprintf("What is %d + %d?", i, i),
				"options":        []any{fmt.Sprint(2 * i), "nope"},
				"correctAnswer":  fmt.Sprint(2 * i),
				"difficulty":     difficulty,
				"points":         10,
			})
		}
	}
	require.NoError(t, db.BatchPut(ctx, table, items))
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := memory.NewStore()
	require.NoError(t, db.CreateTable(ctx, storage.TableSpec{Name: users.Table, KeyAttribute: users.KeyAttribute}))
	require.NoError(t, db.CreateTable(ctx, storage.TableSpec{Name: quiz.AttemptsTable, KeyAttribute: quiz.AttemptKey}))
	seedQuestions(t, db, "GradeA_Math_Questions", map[string]int{"easy": 60, "hard": 5})
	seedQuestions(t, db, "GradeA_Science_Questions", map[string]int{"medium": 3})

	userStore := users.NewStore(db, logger)
	oidc := &fakeOIDC{info: &auth.UserInfo{Sub: "sub-kid", Email: "kid@example.com", EmailVerified: true, Name: "Kid"}}
	controller := auth.NewController(auth.Config{}, oidc, &fakeSignUp{}, userStore, logger)
	quizSvc := quiz.NewService(db, quiz.WithLogger(logger))

	sessions := api.NewMemorySessionStore()
	t.Cleanup(sessions.Close)
	a := api.New(quizSvc, userStore, controller,
		api.WithLogger(logger),
		api.WithSessionStore(sessions),
		api.WithFrontendURL(frontendURL+"/"),
		api.WithAllowedOrigins([]string{frontendURL}),
	)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, db: db, oidc: oidc, sessions: sessions}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers ...string) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// login runs the hosted UI round trip and returns the CSRF token.
func login(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	resp := doJSON(t, client, http.MethodGet, baseURL+"/auth/login", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authorize, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authorize.Query().Get("state")
	require.Len(t, state, 64)

	resp = doJSON(t, client, http.MethodGet, baseURL+"/auth/callback?"+url.Values{"code": {"good"}, "state": {state}}.Encode(), nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, frontendURL+"/?auth=success", resp.Header.Get("Location"))

	resp = doJSON(t, client, http.MethodGet, baseURL+"/auth/session", nil)
	session := decode[api.SessionResponse](t, resp)
	require.True(t, session.IsAuthenticated)
	require.NotEmpty(t, session.CSRFToken)
	return session.CSRFToken
}

// cookieValue returns the named cookie the client holds for path.
func cookieValue(t *testing.T, client *http.Client, baseURL, path, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + path)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestHealth(t *testing.T) {
	env := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodGet, env.srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[api.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Timestamp)
	assert.NotEmpty(t, resp.Header.Get("X-Content-Type-Options"))
}

func TestLoginFlow(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/session", nil)
	anon := decode[api.SessionResponse](t, resp)
	assert.False(t, anon.IsAuthenticated)
	assert.Nil(t, anon.User)

	login(t, client, env.srv.URL)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/session", nil)
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	user := raw["user"].(map[string]any)
	assert.Equal(t, "sub-kid", user["sub"])
	assert.Equal(t, "kid@example.com", user["email"])
	assert.NotContains(t, fmt.Sprint(raw), "access-good", "tokens stay server-side")

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/user/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decode[api.ProfileResponse](t, resp)
	assert.Equal(t, "sub-kid", profile.User.UserID)
	assert.Equal(t, "Kid", profile.User.Name)
	assert.NotEmpty(t, profile.User.LastLogin)
}

func TestLoginClearsPendingState(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	ctx := context.Background()

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/login", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	pendingToken := cookieValue(t, client, env.srv.URL, "/", "funstudy.sid")
	pending, ok := env.sessions.Get(ctx, pendingToken)
	require.True(t, ok)
	require.NotNil(t, pending.Pending)
	assert.False(t, pending.Authenticated())

	login(t, client, env.srv.URL)

	token := cookieValue(t, client, env.srv.URL, "/", "funstudy.sid")
	require.NotEmpty(t, token)
	assert.NotEqual(t, pendingToken, token, "session token rotates on login")
	session, ok := env.sessions.Get(ctx, token)
	require.True(t, ok)
	assert.True(t, session.Authenticated())
	assert.Nil(t, session.Pending, "state and nonce are gone after the callback")
	assert.Equal(t, "sub-kid", session.User.Sub)
}

func TestLoginWhileAuthenticatedStartsFreshSession(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	ctx := context.Background()

	login(t, client, env.srv.URL)
	authedToken := cookieValue(t, client, env.srv.URL, "/", "funstudy.sid")

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/login", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	_, ok := env.sessions.Get(ctx, authedToken)
	assert.False(t, ok, "the signed-in session is ended")

	token := cookieValue(t, client, env.srv.URL, "/", "funstudy.sid")
	require.NotEqual(t, authedToken, token)
	session, ok := env.sessions.Get(ctx, token)
	require.True(t, ok)
	assert.NotNil(t, session.Pending)
	assert.False(t, session.Authenticated())
	assert.Nil(t, session.Tokens)
}

func TestCallbackFailures(t *testing.T) {
	env := setupServer(t)

	tests := []struct {
		name      string
		query     url.Values
		withState bool
		wantQuery url.Values
	}{
		{"provider error", url.Values{"error": {"access_denied"}}, false, url.Values{"error": {"access_denied"}}},
		{"missing code", url.Values{}, false, url.Values{"error": {auth.CodeNoCode}}},
		{"no session state", url.Values{"code": {"good"}, "state": {"forged"}}, false, url.Values{"error": {auth.CodeInvalidState}}},
		{"state mismatch", url.Values{"code": {"good"}, "state": {"forged"}}, true, url.Values{"error": {auth.CodeInvalidState}}},
		{"token exchange", url.Values{"code": {"bad-code"}}, true, url.Values{"error": {auth.CodeTokenExchange}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(t)
			if tt.withState {
				resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/login", nil)
				authorize, err := url.Parse(resp.Header.Get("Location"))
				require.NoError(t, err)
				if !tt.query.Has("state") {
					tt.query.Set("state", authorize.Query().Get("state"))
				}
			}
			resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/callback?"+tt.query.Encode(), nil)
			require.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, frontendURL+"/?"+tt.wantQuery.Encode(), resp.Header.Get("Location"))

			resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/session", nil)
			assert.False(t, decode[api.SessionResponse](t, resp).IsAuthenticated)
		})
	}
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/login", nil)
	authorize, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authorize.Query().Get("state")

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/callback?code=bad-code&state="+state, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/callback?code=good&state="+state, nil)
	assert.Equal(t, frontendURL+"/?error="+auth.CodeInvalidState, resp.Header.Get("Location"))
}

func TestCallbackEmailNotVerified(t *testing.T) {
	env := setupServer(t)
	env.oidc.info = &auth.UserInfo{Sub: "sub-new", Email: "new@example.com"}
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/login", nil)
	authorize, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/callback?code=good&state="+authorize.Query().Get("state"), nil)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, auth.CodeEmailNotVerified, loc.Query().Get("error"))
	assert.Equal(t, "new@example.com", loc.Query().Get("email"))
}

func TestLogout(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/logout", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode, "logout without a session still redirects")
	assert.Equal(t, frontendURL+"/", resp.Header.Get("Location"))

	login(t, client, env.srv.URL)
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/logout", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/auth/session", nil)
	assert.False(t, decode[api.SessionResponse](t, resp).IsAuthenticated)
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/user/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegistration(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/register", map[string]string{
		"email": "new@example.com", "password": "longenough", "gradeLevel": "GradeB",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reg := decode[api.RegisterResponse](t, resp)
	assert.True(t, reg.Success)
	assert.Equal(t, "sub-registered", reg.UserSub)
	assert.True(t, reg.EmailVerificationRequired)

	item, err := env.db.Get(context.Background(), users.Table, "sub-registered")
	require.NoError(t, err)
	assert.Equal(t, "GradeB", item["gradeLevel"])

	tests := []struct {
		name       string
		path       string
		body       map[string]string
		wantStatus int
		wantError  string
	}{
		{"short password", "/auth/register", map[string]string{"email": "a@example.com", "password": "short"}, http.StatusBadRequest, "Password must be at least 8 characters"},
		{"missing fields", "/auth/register", map[string]string{"email": "a@example.com"}, http.StatusBadRequest, "Email and password are required"},
		{"user exists", "/auth/register", map[string]string{"email": "taken@example.com", "password": "longenough"}, http.StatusBadRequest, "User already exists with this email. Try logging in instead."},
		{"bad code", "/auth/confirm-registration", map[string]string{"email": "a@example.com", "confirmationCode": "000000"}, http.StatusBadRequest, "Invalid confirmation code. Please check the code and try again."},
		{"confirm missing code", "/auth/confirm-registration", map[string]string{"email": "a@example.com"}, http.StatusBadRequest, "Email and confirmation code are required"},
		{"resend missing email", "/auth/resend-confirmation", map[string]string{}, http.StatusBadRequest, "Email is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, client, http.MethodPost, env.srv.URL+tt.path, tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			body := decode[map[string]any](t, resp)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantError, body["error"])
		})
	}

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/confirm-registration", map[string]string{
		"email": "new@example.com", "confirmationCode": "123456",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Email confirmed successfully! You can now login.", decode[api.MessageResponse](t, resp).Message)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/resend-confirmation", map[string]string{"email": "new@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Confirmation code sent! Please check your email.", decode[api.MessageResponse](t, resp).Message)
}

func TestRegistrationRateLimited(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	var last *http.Response
	for range 11 {
		last = doJSON(t, client, http.MethodPost, env.srv.URL+"/auth/resend-confirmation", map[string]string{"email": "a@example.com"})
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
	assert.Equal(t, "RateLimited", decode[map[string]any](t, last)["code"])
}

func TestGetQuestions(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	questionsURL := env.srv.URL + "/api/quiz/questions/GradeA/maths/easy"

	resp := doJSON(t, client, http.MethodGet, questionsURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.NotContains(t, fmt.Sprint(raw), "correctAnswer")

	resp = doJSON(t, client, http.MethodGet, questionsURL, nil)
	second := decode[api.QuestionsResponse](t, resp)
	assert.Equal(t, 30, second.Count)
	assert.Equal(t, 60, second.TotalAvailable)
	assert.Equal(t, "GradeA_Math_Questions", second.Metadata.TableName)
	assert.Equal(t, []string{"easy", "hard"}, second.Metadata.AvailableDifficulties)

	first := make(map[string]bool)
	for _, q := range raw["questions"].([]any) {
		first[q.(map[string]any)["questionId"].(string)] = true
	}
	assert.Len(t, first, 30)
	for _, q := range second.Questions {
		assert.False(t, first[q.QuestionID], "question %s served twice", q.QuestionID)
	}

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/quiz/questions/GradeA/Math/impossible", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, []any{"easy", "hard"}, body["availableDifficulties"])

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/quiz/questions/GradeZ/Art/easy", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnonymousQuestionsDoNotGrowSessionStore(t *testing.T) {
	env := setupServer(t)
	questionsURL := env.srv.URL + "/api/quiz/questions/GradeA/Math/easy"

	plain := &http.Client{}
	for range 200 {
		resp, err := plain.Get(questionsURL)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, 0, env.sessions.Len())

	client := newClient(t)
	resp := doJSON(t, client, http.MethodGet, questionsURL, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	anon := cookieValue(t, client, env.srv.URL, "/api/quiz/questions", "funstudy.anon")
	require.NotEmpty(t, anon)
	assert.Empty(t, cookieValue(t, client, env.srv.URL, "/", "funstudy.sid"))
	assert.Equal(t, 0, env.sessions.Len())

	// A tampered id is replaced rather than trusted.
	req, err := http.NewRequest(http.MethodGet, questionsURL, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "funstudy.anon", Value: "chosen-id.forged"})
	resp, err = plain.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	var reissued string
	for _, c := range resp.Cookies() {
		if c.Name == "funstudy.anon" {
			reissued = c.Value
		}
	}
	require.NotEmpty(t, reissued)
	assert.NotContains(t, reissued, "chosen-id")
}

func TestVerifyAnswers(t *testing.T) {
	env := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/quiz/verify-answers", map[string]any{
		"grade": "GradeA", "subject": "Math", "difficulty": "easy",
		"answers": []map[string]string{
			{"questionId": "easy-1", "selectedAnswer": "2"},
			{"questionId": "easy-2", "selectedAnswer": "nope"},
			{"questionId": "missing", "selectedAnswer": "x"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[api.VerifyResponse](t, resp)
	assert.True(t, v.Success)
	assert.Equal(t, 10, v.TotalScore)
	assert.Equal(t, 3, v.Submitted)
	assert.Equal(t, 33, v.Percentage)
	require.Len(t, v.Results, 3)
	assert.True(t, v.Results[0].IsCorrect)
	assert.False(t, v.Results[2].Found)

	resp = doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/quiz/verify-answers", map[string]any{
		"grade": "GradeA", "subject": "Math", "answers": []any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitAndAttempts(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	answers := map[string]any{
		"grade": "GradeA", "subject": "Math", "difficulty": "easy",
		"answers": []map[string]string{
			{"questionId": "easy-1", "selectedAnswer": "2"},
			{"questionId": "easy-3", "selectedAnswer": "6"},
		},
	}

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/quiz/submit", answers)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	csrf := login(t, client, env.srv.URL)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/quiz/submit", answers)
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "CSRF header required")

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/quiz/submit", answers, "X-CSRF-Token", csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	submit := decode[api.SubmitResponse](t, resp)
	assert.Equal(t, 20, submit.Score)
	assert.Equal(t, 100, submit.Percentage)
	assert.Equal(t, "A", submit.LetterGrade)
	assert.NotEmpty(t, submit.AttemptID)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/user/attempts?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	attempts := decode[api.AttemptsResponse](t, resp)
	require.Equal(t, 1, attempts.Count)
	assert.Equal(t, submit.AttemptID, attempts.Attempts[0].AttemptID)
	assert.Equal(t, "sub-kid", attempts.Attempts[0].UserID)
	assert.Equal(t, api.PaginationMeta{TotalCount: 1, Limit: 5, Offset: 0}, attempts.Pagination)
}

func TestUpdateProfile(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	csrf := login(t, client, env.srv.URL)

	resp := doJSON(t, client, http.MethodPut, env.srv.URL+"/api/user/profile", map[string]any{
		"gradeLevel":  "GradeC",
		"preferences": map[string]any{"theme": "space"},
	}, "X-CSRF-Token", csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := decode[api.ProfileResponse](t, resp)
	assert.Equal(t, "GradeC", profile.User.GradeLevel)
	assert.Equal(t, "space", profile.User.Preferences["theme"])

	resp = doJSON(t, client, http.MethodPut, env.srv.URL+"/api/user/profile", map[string]any{}, "X-CSRF-Token", csrf)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogEndpoints(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/api/quiz/subjects/GradeA", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	subjects := decode[api.SubjectsResponse](t, resp)
	assert.ElementsMatch(t, []string{"Math", "Science"}, subjects.Subjects)
	assert.Equal(t, 2, subjects.Count)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/quiz/difficulties/GradeA/Science", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	diffs := decode[api.DifficultiesResponse](t, resp)
	assert.Equal(t, []string{"medium"}, diffs.Difficulties)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/quiz/difficulties/GradeA/History", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/api/quiz/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[api.StatsResponse](t, resp)
	assert.Equal(t, 68, stats.Stats.TotalQuestions)
	assert.Len(t, stats.Stats.Collections, 2)
}

func TestCORSPreflight(t *testing.T) {
	env := setupServer(t)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, env.srv.URL+"/api/user/profile", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", frontendURL)
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, frontendURL, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestOpenAPIServed(t *testing.T) {
	env := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodGet, env.srv.URL+"/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/api/quiz/questions/{grade}/{subject}/{difficulty}")
}
