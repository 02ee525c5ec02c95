package quiz

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/funstudy/funstudy/internal/apperr"
	"github.com/funstudy/funstudy/internal/util"
)

const (
	collectionSuffix = "_Questions"
	maxDifficultyLen = 64
	canonicalMath    = "Math"
)

var (
	gradePattern   = regexp.MustCompile(`^[A-Za-z0-9-]{1,32}$`)
	subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// CollectionName returns the question collection for a grade and subject.
func CollectionName(grade, subject string) string {
	return grade + "_" + subject + collectionSuffix
}

func cleanInput(s string) string {
	return strings.TrimSpace(util.Normalize(s))
}

func validateGrade(grade string) (string, error) {
	grade = cleanInput(grade)
	if !gradePattern.MatchString(grade) {
		return "", apperr.Validation("invalid grade %q", grade)
	}
	return grade, nil
}

func validateSubject(subject string) (string, error) {
	subject = cleanInput(subject)
	if !subjectPattern.MatchString(subject) {
		return "", apperr.Validation("invalid subject %q", subject)
	}
	return subject, nil
}

// validateDifficulty keeps the label exactly as given: stored labels are
// matched by case-sensitive equality, surrounding spaces included.
func validateDifficulty(difficulty string) (string, error) {
	if strings.TrimSpace(difficulty) == "" || len(difficulty) > maxDifficultyLen {
		return "", apperr.Validation("invalid difficulty %q", difficulty)
	}
	return difficulty, nil
}

// isMath reports whether subject is one of the spellings stored as either
// Math or Maths. Casers are stateful, so one is built per call.
func isMath(subject string) bool {
	switch cases.Fold().String(subject) {
	case "math", "maths", "mathematics":
		return true
	}
	return false
}

// candidateCollections lists the collections tried for a subject, in order.
func candidateCollections(grade, subject string) []string {
	names := []string{CollectionName(grade, subject)}
	if isMath(subject) {
		for _, alt := range []string{"Math", "Maths"} {
			if name := CollectionName(grade, alt); !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// resolveCollection returns the first existing collection for grade and
// subject. When none exists the NotFoundError lists the known collections.
func (s *Service) resolveCollection(ctx context.Context, grade, subject string) (string, error) {
	candidates := candidateCollections(grade, subject)
	for _, name := range candidates {
		ok, err := s.store.TableExists(ctx, name)
		if err != nil {
			return "", apperr.Store("checking collection "+name, err)
		}
		if ok {
			return name, nil
		}
	}

	available, err := s.questionCollections(ctx)
	if err != nil {
		return "", err
	}
	return "", &apperr.NotFoundError{
		Message: fmt.Sprintf("Question table %s not found", candidates[0]),
		Hints:   map[string]any{"availableTables": available},
	}
}

// questionCollections lists every collection ending in _Questions.
func (s *Service) questionCollections(ctx context.Context) ([]string, error) {
	names, err := s.store.ListTables(ctx)
	if err != nil {
		return nil, apperr.Store("listing collections", err)
	}
	out := []string{}
	for _, name := range names {
		if strings.HasSuffix(name, collectionSuffix) {
			out = append(out, name)
		}
	}
	return out, nil
}

// AvailableSubjects lists the subjects that have a collection for grade.
// Spellings of mathematics collapse into a single "Math" entry.
func (s *Service) AvailableSubjects(ctx context.Context, grade string) ([]string, error) {
	grade, err := validateGrade(grade)
	if err != nil {
		return nil, err
	}
	names, err := s.questionCollections(ctx)
	if err != nil {
		return nil, err
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(grade) + `_(.+)` + regexp.QuoteMeta(collectionSuffix) + `$`)

	seen := make(map[string]bool)
	subjects := []string{}
	for _, name := range names {
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		subject := m[1]
		if isMath(subject) {
			subject = canonicalMath
		}
		if !seen[subject] {
			seen[subject] = true
			subjects = append(subjects, subject)
		}
	}
	slices.Sort(subjects)
	return subjects, nil
}
