package quiz

import (
	"math"
	"slices"

	"github.com/funstudy/funstudy/storage"
)

const (
	// AttemptsTable holds one immutable item per quiz submission.
	AttemptsTable = "UserAttempts"
	// AttemptKey is the hash key attribute of AttemptsTable.
	AttemptKey = "attemptId"
	// QuestionKey is the hash key attribute of every question collection.
	QuestionKey = "questionId"

	defaultPoints = 10
)

// Question is a stored question including its correct answer.
type Question struct {
	QuestionID    string   `json:"questionId"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Difficulty    string   `json:"difficulty"`
	Points        int      `json:"points"`
}

// PublicQuestion is what the question endpoint returns. It has no correct
// answer field at all, so the answer cannot leak through serialization.
type PublicQuestion struct {
	QuestionID string   `json:"questionId"`
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Difficulty string   `json:"difficulty"`
	Points     int      `json:"points"`
}

func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		QuestionID: q.QuestionID,
		Question:   q.Question,
		Options:    append([]string(nil), q.Options...),
		Difficulty: q.Difficulty,
		Points:     q.Points,
	}
}

// Answer is one submitted (questionId, selectedAnswer) pair.
type Answer struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer string `json:"selectedAnswer"`
}

// AnswerResult is the verdict for one submitted answer.
type AnswerResult struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer string `json:"selectedAnswer"`
	CorrectAnswer  string `json:"correctAnswer,omitempty"`
	IsCorrect      bool   `json:"isCorrect"`
	Points         int    `json:"points"`
	MaxPoints      int    `json:"maxPoints"`
	Found          bool   `json:"found"`
}

// Verification is the scored outcome of a set of answers.
type Verification struct {
	Results       []AnswerResult `json:"results"`
	TotalScore    int            `json:"totalScore"`
	TotalPossible int            `json:"totalPossible"`
	Correct       int            `json:"correctCount"`
	Submitted     int            `json:"totalQuestions"`
	Percentage    int            `json:"percentage"`
	TableName     string         `json:"tableName"`
}

// QuestionSet is the result of GetQuestions.
type QuestionSet struct {
	Questions      []PublicQuestion `json:"questions"`
	Count          int              `json:"count"`
	TotalAvailable int              `json:"totalAvailable"`
	Difficulties   []string         `json:"availableDifficulties"`
	TableName      string           `json:"tableName"`
	Grade          string           `json:"grade"`
	Subject        string           `json:"subject"`
	Difficulty     string           `json:"difficulty"`
}

// Attempt is a persisted quiz submission. Grade is the grade level the quiz
// was taken at; the letter grade lives in LetterGrade.
type Attempt struct {
	AttemptID     string         `json:"attemptId"`
	UserID        string         `json:"userId"`
	Grade         string         `json:"grade"`
	Subject       string         `json:"subject"`
	Difficulty    string         `json:"difficulty"`
	Answers       []Answer       `json:"answers"`
	Results       []AnswerResult `json:"results"`
	Score         int            `json:"score"`
	TotalPossible int            `json:"totalPossible"`
	Percentage    int            `json:"percentage"`
	LetterGrade   string         `json:"letterGrade"`
	Timestamp     int64          `json:"timestamp"`
	CompletedAt   string         `json:"completedAt"`
}

// SubmitResult is returned to the caller after a quiz is stored.
type SubmitResult struct {
	AttemptID     string         `json:"attemptId"`
	Score         int            `json:"score"`
	TotalPossible int            `json:"totalPossible"`
	Percentage    int            `json:"percentage"`
	LetterGrade   string         `json:"grade"`
	Results       []AnswerResult `json:"results"`
}

// CollectionStats counts the questions in one collection.
type CollectionStats struct {
	TableName string `json:"tableName"`
	Count     int    `json:"count"`
}

// Stats summarizes every question collection.
type Stats struct {
	Collections    []CollectionStats `json:"tables"`
	TotalQuestions int               `json:"totalQuestions"`
}

// questionFromItem reads a stored question. Items without an id are rejected;
// a missing or non-numeric points value defaults to 10.
func questionFromItem(item storage.Item) (Question, bool) {
	q := Question{Points: defaultPoints}
	var ok bool
	if q.QuestionID, ok = item[QuestionKey].(string); !ok || q.QuestionID == "" {
		return Question{}, false
	}
	q.Question, _ = item["question"].(string)
	q.CorrectAnswer, _ = item["correctAnswer"].(string)
	q.Difficulty, _ = item["difficulty"].(string)
	if opts, ok := item["options"].([]any); ok {
		for _, o := range opts {
			if s, ok := o.(string); ok {
				q.Options = append(q.Options, s)
			}
		}
	}
	switch p := item["points"].(type) {
	case float64:
		q.Points = int(math.Round(p))
	case int:
		q.Points = p
	}
	return q, true
}

// difficultiesOf returns the distinct non-empty difficulty labels in sorted
// order, never nil.
func difficultiesOf(questions []Question) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, q := range questions {
		if q.Difficulty == "" || seen[q.Difficulty] {
			continue
		}
		seen[q.Difficulty] = true
		out = append(out, q.Difficulty)
	}
	slices.Sort(out)
	return out
}
