// Command ingest runs one incremental sync of daily price bars and exits.
//
// Exit codes: 0 every symbol succeeded or was skipped, 2 at least one symbol failed,
// 1 the run could not start or was aborted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"price_history/internal/app/config"
	"price_history/internal/app/di"
	"price_history/internal/feature/pricebars/domain/entity"
	"price_history/internal/platform/logger"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

// errSymbolsFailed は1銘柄以上が失敗したことを表します。
var errSymbolsFailed = errors.New("one or more symbols failed")

type flags struct {
	configFile  string
	symbols     string
	epoch       string
	concurrency int
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	if args == nil {
		args = []string{}
	}
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return exitCode(cmd.ExecuteContext(context.Background()))
}

// exitCode maps the result of a run to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errSymbolsFailed):
		return exitPartial
	default:
		return exitFatal
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch new daily bars for every configured symbol and upsert them",
		Long: `Fetch new daily bars for every configured symbol and upsert them.

Each symbol is fetched from the day after its latest stored date (or the epoch
start when nothing is stored) through today.

Examples:
  go run ./cmd/ingest
  go run ./cmd/ingest --symbols AAPL,MSFT --concurrency 2
  go run ./cmd/ingest --config sync.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.configFile, "config", "", "YAML sync config file (overrides SYNC_CONFIG_FILE)")
	cmd.Flags().StringVar(&f.symbols, "symbols", "", "comma separated symbols (overrides config)")
	cmd.Flags().StringVar(&f.epoch, "epoch", "", "epoch start YYYY-MM-DD used when a symbol has no data")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "symbols processed in parallel")
	return cmd
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(f flags) (*config.Config, error) {
	if f.configFile != "" {
		if err := os.Setenv("SYNC_CONFIG_FILE", f.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.symbols != "" {
		cfg.Sync.Symbols = config.SplitSymbols(f.symbols)
	}
	if f.epoch != "" {
		cfg.Sync.EpochRaw = f.epoch
	}
	if f.concurrency > 0 {
		cfg.Sync.Concurrency = f.concurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(parent context.Context, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := di.NewStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return err
	}
	defer store.Close()

	market, err := di.NewMarket(cfg)
	if err != nil {
		return err
	}
	uc := di.NewSyncUsecase(cfg, market, store)

	report, err := uc.Run(ctx)
	if err != nil {
		slog.Error("sync aborted", "error", err)
		return err
	}
	printReport(report)

	if len(report.FailedSymbols) > 0 {
		return fmt.Errorf("%w: %v", errSymbolsFailed, report.FailedSymbols)
	}
	return nil
}

func printReport(report entity.RunReport) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Warn("failed to print report", "error", err)
	}
	slog.Info("sync finished",
		"run_id", report.RunID,
		"succeeded", len(report.SucceededSymbols),
		"skipped", len(report.SkippedSymbols),
		"failed", len(report.FailedSymbols),
		"partial", report.Partial(),
	)
}
