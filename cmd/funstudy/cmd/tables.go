package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/funstudy/funstudy/quiz"
	"github.com/funstudy/funstudy/storage"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Document store table management",
	Long:  `Commands for creating and listing the tables the quiz service reads and writes.`,
}

var tablesCreateCmd = &cobra.Command{
	Use:   "create [grade:subject ...]",
	Short: "Create the core tables and, optionally, question collections",
	Example: `  funstudy tables create --store dynamodb GradeA:Math GradeA:Science
  funstudy tables create --store bolt GradeB_History_Questions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		specs := append([]storage.TableSpec(nil), coreTables...)
		for _, arg := range args {
			name, err := collectionArg(arg)
			if err != nil {
				return err
			}
			specs = append(specs, storage.TableSpec{Name: name, KeyAttribute: quiz.QuestionKey})
		}

		store, closeStore, err := openStore(cmd.Context(), storeOpts)
		if err != nil {
			return err
		}
		defer closeStore()

		created, err := ensureTables(cmd.Context(), store, specs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d table(s) created, %d already present\n", len(created), len(specs)-len(created))
		return nil
	},
}

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every table in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context(), storeOpts)
		if err != nil {
			return err
		}
		defer closeStore()

		names, err := store.ListTables(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

// collectionArg accepts either a full collection name or grade:subject.
func collectionArg(arg string) (string, error) {
	if strings.HasSuffix(arg, "_Questions") {
		return arg, nil
	}
	grade, subject, ok := strings.Cut(arg, ":")
	if !ok || grade == "" || subject == "" {
		return "", fmt.Errorf("invalid collection %q: want grade:subject or a name ending in _Questions", arg)
	}
	return quiz.CollectionName(grade, subject), nil
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.AddCommand(tablesCreateCmd, tablesListCmd)
	addStoreFlags(tablesCmd.PersistentFlags())
}
