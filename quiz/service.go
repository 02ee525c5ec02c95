// Package quiz selects questions for a session, scores submitted answers and
// records quiz attempts.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/funstudy/funstudy/internal/apperr"
	"github.com/funstudy/funstudy/storage"
)

const (
	// DefaultBatchSize is the number of questions served per request.
	DefaultBatchSize = 30
	maxAnswers       = 500
	// attemptIDRetries bounds the search for a free attempt id when two
	// submissions land in the same millisecond.
	attemptIDRetries = 5
)

// Service implements question selection, verification and submission on top
// of a storage.Store.
type Service struct {
	store     storage.Store
	usage     UsageCache
	batchSize int
	intn      func(n int) int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBatchSize sets how many questions GetQuestions returns at most.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithUsageCache replaces the default in-memory usage cache.
func WithUsageCache(c UsageCache) Option {
	return func(s *Service) {
		if c != nil {
			s.usage = c
		}
	}
}

// WithRandom sets the source used by the shuffle. intn must return a
// uniformly distributed value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(s *Service) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService returns a Service reading questions from store.
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		batchSize: DefaultBatchSize,
		intn:      rand.IntN,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.usage == nil {
		s.usage = NewMemoryUsageCache(DefaultUsageCapacity)
	}
	s.logger = s.logger.With("component", "quiz")
	return s
}

// BatchSize returns the configured batch size.
func (s *Service) BatchSize() int { return s.batchSize }

// loadQuestions scans a collection and parses every well-formed question.
func (s *Service) loadQuestions(ctx context.Context, table string) ([]Question, error) {
	items, err := s.store.Scan(ctx, table, nil)
	if err != nil {
		return nil, apperr.Store("scanning "+table, err)
	}
	questions := make([]Question, 0, len(items))
	for _, item := range items {
		q, ok := questionFromItem(item)
		if !ok {
			s.logger.Warn("skipping malformed question", "table", table)
			continue
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// GetQuestions returns up to the batch size of shuffled questions for the
// given grade, subject and difficulty, preferring questions not yet served to
// sessionID. When fewer fresh questions remain than the batch size the
// session's history is cleared and the whole pool is used again. An empty
// sessionID disables de-duplication.
func (s *Service) GetQuestions(ctx context.Context, grade, subject, difficulty, sessionID string) (*QuestionSet, error) {
	grade, err := validateGrade(grade)
	if err != nil {
		return nil, err
	}
	subject, err = validateSubject(subject)
	if err != nil {
		return nil, err
	}
	difficulty, err = validateDifficulty(difficulty)
	if err != nil {
		return nil, err
	}

	table, err := s.resolveCollection(ctx, grade, subject)
	if err != nil {
		return nil, err
	}
	all, err := s.loadQuestions(ctx, table)
	if err != nil {
		return nil, err
	}
	difficulties := difficultiesOf(all)

	var pool []Question
	for _, q := range all {
		if q.Difficulty == difficulty {
			pool = append(pool, q)
		}
	}
	if len(pool) == 0 {
		return nil, &apperr.NotFoundError{
			Message: fmt.Sprintf("No questions found for difficulty %q in %s", difficulty, table),
			Hints: map[string]any{
				"availableDifficulties": difficulties,
				"totalInCollection":     len(all),
			},
		}
	}

	candidates := s.freshCandidates(ctx, sessionID, pool)
	shuffled := slices.Clone(candidates)
	shuffle(shuffled, s.intn)
	selected := shuffled[:min(s.batchSize, len(shuffled))]

	ids := make([]string, len(selected))
	out := make([]PublicQuestion, len(selected))
	for i, q := range selected {
		ids[i] = q.QuestionID
		out[i] = q.Public()
	}
	if sessionID != "" {
		if err := s.usage.Record(ctx, sessionID, ids); err != nil {
			s.logger.Warn("recording served questions failed", "error", err)
		}
	}

	return &QuestionSet{
		Questions:      out,
		Count:          len(out),
		TotalAvailable: len(pool),
		Difficulties:   difficulties,
		TableName:      table,
		Grade:          grade,
		Subject:        subject,
		Difficulty:     difficulty,
	}, nil
}

// freshCandidates removes questions already served to the session. Usage
// cache failures degrade to serving the full pool.
func (s *Service) freshCandidates(ctx context.Context, sessionID string, pool []Question) []Question {
	if sessionID == "" {
		return pool
	}
	used, err := s.usage.Used(ctx, sessionID)
	if err != nil {
		s.logger.Warn("reading served questions failed", "error", err)
		return pool
	}
	fresh := make([]Question, 0, len(pool))
	for _, q := range pool {
		if _, seen := used[q.QuestionID]; !seen {
			fresh = append(fresh, q)
		}
	}
	if len(fresh) >= s.batchSize {
		return fresh
	}
	if err := s.usage.Reset(ctx, sessionID); err != nil {
		s.logger.Warn("resetting served questions failed", "error", err)
	}
	return pool
}

// shuffle is a Fisher-Yates shuffle driven by intn.
func shuffle[T any](items []T, intn func(int) int) {
	for i := len(items) - 1; i > 0; i-- {
		j := intn(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}

// VerifyAnswers scores answers against the stored correct answers. It never
// writes to the store. Unknown question ids score zero and are reported with
// Found=false. The percentage is the share of submitted answers that are
// correct.
func (s *Service) VerifyAnswers(ctx context.Context, answers []Answer, grade, subject, difficulty string) (*Verification, error) {
	if err := validateAnswers(answers); err != nil {
		return nil, err
	}
	grade, err := validateGrade(grade)
	if err != nil {
		return nil, err
	}
	subject, err = validateSubject(subject)
	if err != nil {
		return nil, err
	}
	table, err := s.resolveCollection(ctx, grade, subject)
	if err != nil {
		return nil, err
	}
	return s.verify(ctx, table, answers)
}

func validateAnswers(answers []Answer) error {
	if len(answers) == 0 {
		return apperr.Validation("answers must be a non-empty list")
	}
	if len(answers) > maxAnswers {
		return apperr.Validation("at most %d answers may be submitted", maxAnswers)
	}
	for i, a := range answers {
		if a.QuestionID == "" {
			return apperr.Validation("answers[%d].questionId is required", i)
		}
	}
	return nil
}

func (s *Service) verify(ctx context.Context, table string, answers []Answer) (*Verification, error) {
	keys := make([]string, 0, len(answers))
	for _, a := range answers {
		keys = append(keys, a.QuestionID)
	}
	items, err := s.store.BatchGet(ctx, table, keys)
	if err != nil {
		return nil, apperr.Store("fetching answers from "+table, err)
	}
	lookup := make(map[string]Question, len(items))
	for _, item := range items {
		if q, ok := questionFromItem(item); ok {
			lookup[q.QuestionID] = q
		}
	}

	v := &Verification{Results: make([]AnswerResult, 0, len(answers)), Submitted: len(answers), TableName: table}
	for _, a := range answers {
		q, ok := lookup[a.QuestionID]
		if !ok {
			v.Results = append(v.Results, AnswerResult{QuestionID: a.QuestionID, SelectedAnswer: a.SelectedAnswer})
			continue
		}
		r := AnswerResult{
			QuestionID:     a.QuestionID,
			SelectedAnswer: a.SelectedAnswer,
			CorrectAnswer:  q.CorrectAnswer,
			MaxPoints:      q.Points,
			Found:          true,
		}
		if a.SelectedAnswer == q.CorrectAnswer {
			r.IsCorrect = true
			r.Points = q.Points
			v.Correct++
		}
		v.TotalScore += r.Points
		v.TotalPossible += q.Points
		v.Results = append(v.Results, r)
	}
	v.Percentage = percent(v.Correct, v.Submitted)
	return v, nil
}

// SubmitQuiz scores answers and stores one immutable Attempt for userID.
// The stored percentage is score over total possible points.
func (s *Service) SubmitQuiz(ctx context.Context, userID, grade, subject, difficulty string, answers []Answer) (*SubmitResult, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if err := validateAnswers(answers); err != nil {
		return nil, err
	}
	grade, err := validateGrade(grade)
	if err != nil {
		return nil, err
	}
	subject, err = validateSubject(subject)
	if err != nil {
		return nil, err
	}
	difficulty, err = validateDifficulty(difficulty)
	if err != nil {
		return nil, err
	}
	table, err := s.resolveCollection(ctx, grade, subject)
	if err != nil {
		return nil, err
	}
	v, err := s.verify(ctx, table, answers)
	if err != nil {
		return nil, err
	}

	pct := percent(v.TotalScore, v.TotalPossible)
	now := s.now().UTC()
	attempt := Attempt{
		UserID:        userID,
		Grade:         grade,
		Subject:       subject,
		Difficulty:    difficulty,
		Answers:       answers,
		Results:       v.Results,
		Score:         v.TotalScore,
		TotalPossible: v.TotalPossible,
		Percentage:    pct,
		LetterGrade:   LetterGrade(pct),
		CompletedAt:   now.Format(time.RFC3339),
	}
	if err := s.putAttempt(ctx, &attempt, now.UnixMilli()); err != nil {
		return nil, err
	}
	s.logger.Info("quiz submitted", "attempt_id", attempt.AttemptID, "table", table, "percentage", pct)

	return &SubmitResult{
		AttemptID:     attempt.AttemptID,
		Score:         attempt.Score,
		TotalPossible: attempt.TotalPossible,
		Percentage:    attempt.Percentage,
		LetterGrade:   attempt.LetterGrade,
		Results:       attempt.Results,
	}, nil
}

// putAttempt writes the attempt under {userID}_{millis}, moving to the next
// millisecond when the id is already taken.
func (s *Service) putAttempt(ctx context.Context, attempt *Attempt, millis int64) error {
	for i := range attemptIDRetries {
		attempt.Timestamp = millis + int64(i)
		attempt.AttemptID = attempt.UserID + "_" + strconv.FormatInt(attempt.Timestamp, 10)
		item, err := storage.Encode(attempt)
		if err != nil {
			return err
		}
		err = s.store.PutIfAbsent(ctx, AttemptsTable, item)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConditionFailed) {
			return apperr.Store("saving attempt", err)
		}
	}
	return apperr.Store("saving attempt", fmt.Errorf("no free attempt id for %s", attempt.UserID))
}

// ListAttempts returns the user's attempts, newest first.
func (s *Service) ListAttempts(ctx context.Context, userID string) ([]Attempt, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	items, err := s.store.Scan(ctx, AttemptsTable, &storage.Filter{Attribute: "userId", Equals: userID})
	if err != nil {
		return nil, apperr.Store("listing attempts", err)
	}
	attempts := make([]Attempt, 0, len(items))
	for _, item := range items {
		var a Attempt
		if err := storage.Decode(item, &a); err != nil {
			s.logger.Warn("skipping malformed attempt", "error", err)
			continue
		}
		attempts = append(attempts, a)
	}
	slices.SortFunc(attempts, func(a, b Attempt) int {
		if a.Timestamp != b.Timestamp {
			if a.Timestamp > b.Timestamp {
				return -1
			}
			return 1
		}
		if a.AttemptID > b.AttemptID {
			return -1
		}
		if a.AttemptID < b.AttemptID {
			return 1
		}
		return 0
	})
	return attempts, nil
}

// AvailableDifficulties lists the distinct difficulty labels in the
// collection for grade and subject.
func (s *Service) AvailableDifficulties(ctx context.Context, grade, subject string) ([]string, error) {
	grade, err := validateGrade(grade)
	if err != nil {
		return nil, err
	}
	subject, err = validateSubject(subject)
	if err != nil {
		return nil, err
	}
	table, err := s.resolveCollection(ctx, grade, subject)
	if err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, table)
	if err != nil {
		return nil, err
	}
	return difficultiesOf(questions), nil
}

// Stats counts the questions in every collection.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	tables, err := s.questionCollections(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Collections: make([]CollectionStats, 0, len(tables))}
	for _, table := range tables {
		items, err := s.store.Scan(ctx, table, nil)
		if err != nil {
			return nil, apperr.Store("scanning "+table, err)
		}
		st.Collections = append(st.Collections, CollectionStats{TableName: table, Count: len(items)})
		st.TotalQuestions += len(items)
	}
	return st, nil
}
