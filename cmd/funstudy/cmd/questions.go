package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/funstudy/funstudy/quiz"
)

var importTable string

// questionBank is the import file format. A file may also be a bare list
// of questions, in which case --table names the collection. JSON files
// parse the same way.
type questionBank struct {
	Table     string         `yaml:"table"`
	Questions []bankQuestion `yaml:"questions"`
}

type bankQuestion struct {
	ID            string   `yaml:"questionId"`
	Question      string   `yaml:"question"`
	Options       []string `yaml:"options"`
	CorrectAnswer string   `yaml:"correctAnswer"`
	Difficulty    string   `yaml:"difficulty"`
	Points        int      `yaml:"points"`
}

func (q bankQuestion) toQuestion() quiz.Question {
	return quiz.Question{
		QuestionID:    q.ID,
		Question:      q.Question,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Difficulty:    q.Difficulty,
		Points:        q.Points,
	}
}

func parseQuestionBank(data []byte) (*questionBank, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing question bank: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, errors.New("question bank is empty")
	}
	doc := root.Content[0]

	bank := &questionBank{}
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&bank.Questions); err != nil {
			return nil, fmt.Errorf("parsing questions: %w", err)
		}
	case yaml.MappingNode:
		if err := doc.Decode(bank); err != nil {
			return nil, fmt.Errorf("parsing question bank: %w", err)
		}
	default:
		return nil, fmt.Errorf("question bank must be a list or a mapping, got line %d", doc.Line)
	}
	return bank, nil
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Question bank tools",
}

var questionsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a YAML or JSON question bank into a collection",
	Example: `  funstudy questions import grade-a-math.yaml --table GradeA:Math
  funstudy questions import bank.json --store dynamodb`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		bank, err := parseQuestionBank(data)
		if err != nil {
			return err
		}

		table := bank.Table
		if importTable != "" {
			table = importTable
		}
		if table == "" {
			return errors.New("no collection given: set --table or a top-level table key")
		}
		table, err = collectionArg(table)
		if err != nil {
			return err
		}

		questions := make([]quiz.Question, len(bank.Questions))
		for i, q := range bank.Questions {
			questions[i] = q.toQuestion()
		}

		store, closeStore, err := openStore(cmd.Context(), storeOpts)
		if err != nil {
			return err
		}
		defer closeStore()

		svc := quiz.NewService(store, quiz.WithLogger(slog.Default()))
		res, err := svc.ImportQuestions(cmd.Context(), table, questions)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d question(s) into %s\n", res.Imported, res.Table)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(questionsCmd)
	questionsCmd.AddCommand(questionsImportCmd)
	addStoreFlags(questionsCmd.PersistentFlags())
	questionsImportCmd.Flags().StringVarP(&importTable, "table", "t", "", "Target collection, as grade:subject or a full _Questions name")
}
