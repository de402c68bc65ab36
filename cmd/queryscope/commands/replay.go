package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Replay targets. sqlite3 covers local files and :memory:,
	// postgres covers live server DSNs.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/queryscope/queryscope/internal/cache"
	"github.com/queryscope/queryscope/internal/engine"
	"github.com/queryscope/queryscope/internal/sqltrace"
)

var (
	replayDriver string
	replayDSN    string
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Execute a file of SQL statements through the instrumented driver and report",
	Long: `Executes every statement in the file against the target database via
the instrumented driver, so each execution is tracked, then prints the
aggregate statistics, detected anti-patterns and suggestions.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayDriver, "driver", "sqlite3", "database driver (sqlite3, postgres)")
	replayCmd.Flags().StringVar(&replayDSN, "dsn", ":memory:", "data source name")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
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

	resultCache := cache.New(cfg.Cache, logger.Named("cache"))
	eng := engine.New(cfg.Engine, logger.Named("engine"), engine.WithCache(resultCache))

	db, err := sqltrace.Open(replayDriver, replayDSN, eng)
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", replayDriver, err)
	}
	defer db.Close()

	ctx := cmd.Context()
	failed := 0
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			failed++
			logger.Warn("Statement failed", zap.String("query", truncate(stmt, 120)), zap.Error(err))
		}
	}

	printReport(eng, len(statements), failed)
	return nil
}

func printReport(eng *engine.Engine, total, failed int) {
	stats := eng.QueryStats(0)
	health := eng.HealthCheck()

	fmt.Printf("\nexecuted %s statements (%s failed)\n",
		humanize.Comma(int64(total)), humanize.Comma(int64(failed)))
	fmt.Printf("tracked:  %s metrics across %s patterns\n",
		humanize.Comma(int64(stats.Count)), humanize.Comma(int64(eng.PatternCount())))
	fmt.Printf("latency:  avg %.2fms  p50 %.2fms  p95 %.2fms  p99 %.2fms  max %.2fms\n",
		stats.AvgDurationMs, stats.MedianMs, stats.P95Ms, stats.P99Ms, stats.MaxMs)
	fmt.Printf("slow:     %d of %d (%.1f%%)\n", stats.SlowCount, stats.Count, stats.SlowRatio*100)
	fmt.Printf("health:   %s\n", health.Status)
	for _, reason := range health.Reasons {
		fmt.Printf("  - %s\n", reason)
	}

	if n := len(eng.NPlusOneQueries()); n > 0 {
		fmt.Printf("n+1 patterns: %d\n", n)
	}

	suggestions := eng.Suggestions("")
	if len(suggestions) > 0 {
		fmt.Printf("\nsuggestions (%d):\n", len(suggestions))
		for i, s := range suggestions {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(suggestions)-i)
				break
			}
			fmt.Printf("  [%s/%s] %s\n", s.Severity, s.Kind, s.Suggestion)
			fmt.Printf("      %s (%s)\n", truncate(s.Query, 100), humanize.RelTime(s.DetectedAt, time.Now(), "ago", "from now"))
		}
	}
}
