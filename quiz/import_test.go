package quiz

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funstudy/funstudy/internal/apperr"
)

func sampleQuestions(n int) []Question {
	out := make([]Question, n)
	for i := range out {
		out[i] = Question{
			Question:      fmt.Sprintf("What is %d + 1?", i),
			Options:       []string{fmt.Sprint(i + 1), fmt.Sprint(i + 2)},
			CorrectAnswer: fmt.Sprint(i + 1),
			Difficulty:    "easy",
		}
	}
	return out
}

func TestImportQuestions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.ImportQuestions(ctx, "GradeB_Math_Questions", sampleQuestions(60))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 60, res.Imported)

	items, err := store.Scan(ctx, "GradeB_Math_Questions", nil)
	require.NoError(t, err)
	require.Len(t, items, 60)
	q, ok := questionFromItem(items[0])
	require.True(t, ok)
	assert.NotEmpty(t, q.QuestionID)
	assert.Equal(t, defaultPoints, q.Points)

	set, err := svc.GetQuestions(ctx, "GradeB", "Maths", "easy", "")
	require.NoError(t, err)
	assert.Len(t, set.Questions, DefaultBatchSize)

	res, err = svc.ImportQuestions(ctx, "GradeB_Math_Questions", []Question{{
		QuestionID: "fixed", Question: "2+2?", Options: []string{"4", "5"}, CorrectAnswer: "4", Difficulty: "hard", Points: 20,
	}})
	require.NoError(t, err)
	assert.False(t, res.Created)

	item, err := store.Get(ctx, "GradeB_Math_Questions", "fixed")
	require.NoError(t, err)
	assert.EqualValues(t, 20, item["points"])
}

func TestImportQuestionsRejectsBadInput(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	bad := sampleQuestions(3)
	bad[2].CorrectAnswer = "nope"

	tests := []struct {
		name      string
		table     string
		questions []Question
	}{
		{"bad table name", "GradeB_Math", sampleQuestions(1)},
		{"bare suffix", "_Questions", sampleQuestions(1)},
		{"empty", "GradeB_Math_Questions", nil},
		{"answer not an option", "GradeB_Math_Questions", bad},
		{"no options", "GradeB_Math_Questions", []Question{{Question: "?", CorrectAnswer: "a", Difficulty: "easy"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ImportQuestions(ctx, tt.table, tt.questions)
			var verr *apperr.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	ok, err := store.TableExists(ctx, "GradeB_Math_Questions")
	require.NoError(t, err)
	assert.False(t, ok, "nothing is created when validation fails")
}
