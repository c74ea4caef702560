package commands

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/elwassit-org/api-translation-wasslago/internal/translate"
)

var splitMaxChars int

var splitCmd = &cobra.Command{
	Use:   "split <text-file>",
	Short: "Show how a text file is split into translation chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runSplit,
}

func init() {
	splitCmd.Flags().IntVarP(&splitMaxChars, "max-chars", "m", translate.DefaultMaxChars, "maximum characters per chunk")
	rootCmd.AddCommand(splitCmd)
}

func runSplit(cmd *cobra.Command, args []string) error {
	if splitMaxChars < 1 {
		return fmt.Errorf("--max-chars must be positive")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	chunks := translate.Split(string(data), splitMaxChars)
	w := cmd.OutOrStdout()
	for _, c := range chunks {
		fmt.Fprintf(w, "--- chunk %d (%d chars)\n%s\n", c.Index, utf8.RuneCountInString(c.Text), c.Text)
	}
	fmt.Fprintf(w, "%d chunks\n", len(chunks))
	return nil
}
