package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/augur/pkg/audit"
	"github.com/pario-ai/augur/pkg/budget"
	"github.com/pario-ai/augur/pkg/mcp"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/tracker"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve augur diagnostics as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			tr, err := tracker.New(cfg.UsageDB)
			if err != nil {
				return err
			}
			defer tr.Close()

			sf, err := openSaveFile(cfg)
			if err != nil {
				return err
			}
			defer sf.Close()

			var enforcer *budget.Enforcer
			if cfg.Budget.Enabled {
				enforcer = budget.New(cfg.Budget.Policies, tr)
			}
			cacheStats := mcp.CacheStatsFunc(func() (models.CacheStats, error) {
				return sf.cache.Stats(time.Now())
			})

			opts := []mcp.Option{mcp.WithLogger(logger), mcp.WithReplay(sf.replay)}
			if cfg.Audit.Enabled {
				al, err := audit.New(cfg.Audit, logger)
				if err != nil {
					return err
				}
				defer al.Close()
				opts = append(opts, mcp.WithAttempts(al))
			}

			logger.Info("mcp server listening on stdio", zap.String("version", version))
			return mcp.New(tr, cacheStats, enforcer, version, opts...).Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
