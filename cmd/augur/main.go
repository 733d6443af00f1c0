package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cachestore "github.com/pario-ai/augur/pkg/cache/sqlite"
	"github.com/pario-ai/augur/pkg/config"
	"github.com/pario-ai/augur/pkg/replay"
)

var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
	verbose    bool
}

func main() {
	root := &cobra.Command{
		Use:           "augur",
		Short:         "Augur: language model orchestration for turn-based simulations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", "augur.yaml", "path to config file")
	root.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newSimulateCmd(),
		newCacheCmd(),
		newReplayCmd(),
		newStatsCmd(),
		newCostCmd(),
		newBudgetCmd(),
		newAuditCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads --config, falling back to defaults when the file does
// not exist.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(rootFlags.configPath)
}

// newLogger builds a production zap logger at the configured level. Logs go
// to stderr so command output stays clean.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if rootFlags.logLevel != "" {
		level = rootFlags.logLevel
	}
	if rootFlags.verbose {
		level = "debug"
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Encoding = "console"
	zc.DisableStacktrace = true
	return zc.Build()
}

// saveFile is the opened save file: the cache snapshot and the replay log
// share one SQLite database.
type saveFile struct {
	cache  *cachestore.Store
	replay *replay.Store
}

func openSaveFile(cfg *config.Config) (*saveFile, error) {
	cs, err := cachestore.Open(cfg.SaveFile)
	if err != nil {
		return nil, fmt.Errorf("open save file: %w", err)
	}
	rs, err := replay.NewStore(cs.DB())
	if err != nil {
		_ = cs.Close()
		return nil, err
	}
	return &saveFile{cache: cs, replay: rs}, nil
}

func (s *saveFile) Close() error { return s.cache.Close() }
