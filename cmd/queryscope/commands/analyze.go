package commands

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/queryscope/queryscope/internal/engine"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Run static optimization heuristics over a file of SQL statements",
	Long: `Reads SQL statements (separated by semicolons) from a file and runs
the static heuristic rules against each one, printing the suggestions
and estimated improvement ranges.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	statements, err := readStatements(args[0])
	if err != nil {
		return err
	}

	eng := engine.New(cfg.Engine, logger)

	flagged := 0
	for _, q := range statements {
		opt := eng.OptimizeQuery(q)
		if len(opt.Suggestions) == 0 {
			continue
		}
		flagged++
		fmt.Printf("\n%s\n", truncate(q, 120))
		for _, s := range opt.Suggestions {
			fmt.Printf("  [%s/%s] %s (est. %s)\n", s.Severity, s.Kind, s.Suggestion, s.EstimatedImprovement)
		}
		if opt.Hint != "" {
			fmt.Printf("  hint: %s\n", truncate(opt.Hint, 120))
		}
	}

	fmt.Printf("\nanalyzed %s statements, %s flagged\n",
		humanize.Comma(int64(len(statements))),
		humanize.Comma(int64(flagged)),
	)
	return nil
}

// readStatements loads a file and splits it into SQL statements on
// semicolons, skipping blanks and line comments.
func readStatements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var statements []string
	for _, raw := range strings.Split(strings.Join(kept, "\n"), ";") {
		stmt := strings.TrimSpace(raw)
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
