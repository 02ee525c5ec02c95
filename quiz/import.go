package quiz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/funstudy/funstudy/internal/apperr"
	"github.com/funstudy/funstudy/storage"
)

// importBatchSize matches the DynamoDB BatchWriteItem limit.
const importBatchSize = 25

// ImportResult counts what ImportQuestions wrote.
type ImportResult struct {
	Table    string `json:"table"`
	Imported int    `json:"imported"`
	Created  bool   `json:"created"`
}

// ImportQuestions writes questions into a question collection, creating the
// collection when it does not exist. Questions without an id get a random
// one and questions without points get the default. Every question is
// validated before anything is written.
func (s *Service) ImportQuestions(ctx context.Context, table string, questions []Question) (*ImportResult, error) {
	if !strings.HasSuffix(table, collectionSuffix) || table == collectionSuffix {
		return nil, apperr.Validation("collection %q must end in %s", table, collectionSuffix)
	}
	if len(questions) == 0 {
		return nil, apperr.Validation("no questions to import")
	}

	items := make([]storage.Item, 0, len(questions))
	for i, q := range questions {
		if err := validateQuestion(q); err != nil {
			return nil, apperr.Validation("question %d: %v", i+1, err)
		}
		if q.QuestionID == "" {
			q.QuestionID = uuid.NewString()
		}
		if q.Points <= 0 {
			q.Points = defaultPoints
		}
		item, err := storage.Encode(q)
		if err != nil {
			return nil, fmt.Errorf("encoding question %d: %w", i+1, err)
		}
		items = append(items, item)
	}

	res := &ImportResult{Table: table}
	err := s.store.CreateTable(ctx, storage.TableSpec{Name: table, KeyAttribute: QuestionKey})
	switch {
	case err == nil:
		res.Created = true
	case errors.Is(err, storage.ErrTableExists):
	default:
		return nil, apperr.Store("creating collection "+table, err)
	}

	for chunk := range slices.Chunk(items, importBatchSize) {
		if err := s.store.BatchPut(ctx, table, chunk); err != nil {
			return res, apperr.Store("importing into "+table, err)
		}
		res.Imported += len(chunk)
	}
	s.logger.Info("questions imported", "table", table, "count", res.Imported, "created", res.Created)
	return res, nil
}

func validateQuestion(q Question) error {
	if strings.TrimSpace(q.Question) == "" {
		return errors.New("question text is empty")
	}
	if len(q.Options) < 2 {
		return errors.New("at least two options are required")
	}
	if !slices.Contains(q.Options, q.CorrectAnswer) {
		return fmt.Errorf("correct answer %q is not one of the options", q.CorrectAnswer)
	}
	if strings.TrimSpace(q.Difficulty) == "" {
		return errors.New("difficulty is empty")
	}
	return nil
}
