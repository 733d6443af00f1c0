package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/augur/pkg/audit"
	"github.com/pario-ai/augur/pkg/budget"
	"github.com/pario-ai/augur/pkg/models"
	"github.com/pario-ai/augur/pkg/orchestrator"
	"github.com/pario-ai/augur/pkg/provider"
	"github.com/pario-ai/augur/pkg/tracker"
)

type simulateOpts struct {
	ticks    int
	interval time.Duration
	seed     uint64
	replay   bool
	drain    time.Duration
	quiet    bool
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOpts

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a demo tick loop against the configured providers",
		Long: `Runs a small village simulation that submits ambient dialogue every tick,
a player decision every third tick and a narrative request every fifth tick.
Futures are polled once per tick. At the end the cache snapshot and the
replay log are written to the save file.

With --replay the same seeded loop is answered from the saved replay log
without contacting any provider, and divergence is reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.ticks <= 0 {
				return fmt.Errorf("--ticks must be positive")
			}
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.ticks, "ticks", 30, "number of ticks to run")
	cmd.Flags().DurationVar(&opts.interval, "tick-interval", 200*time.Millisecond, "wall time per tick")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "world seed")
	cmd.Flags().BoolVar(&opts.replay, "replay", false, "answer from the saved replay log instead of providers")
	cmd.Flags().DurationVar(&opts.drain, "drain", 15*time.Second, "how long to wait for outstanding calls after the last tick")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "only print the summary")
	return cmd
}

func runSimulate(ctx context.Context, out io.Writer, opts simulateOpts) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	sf, err := openSaveFile(cfg)
	if err != nil {
		return err
	}
	defer sf.Close()

	chain, err := provider.FromConfig(cfg, logger, nil)
	if err != nil {
		return err
	}
	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithChain(chain),
	}

	if opts.replay {
		log, err := sf.replay.Load()
		if err != nil {
			return err
		}
		if log.Len() == 0 {
			return fmt.Errorf("%s holds no replay log; run simulate without --replay first", cfg.SaveFile)
		}
		orchOpts = append(orchOpts, orchestrator.WithReplay(log))
	} else {
		entries, err := sf.cache.Load()
		if err != nil {
			return err
		}
		orchOpts = append(orchOpts, orchestrator.WithCacheEntries(entries))

		tr, err := tracker.New(cfg.UsageDB)
		if err != nil {
			return err
		}
		defer tr.Close()
		orchOpts = append(orchOpts, orchestrator.WithTracker(tr))
		if cfg.Budget.Enabled {
			orchOpts = append(orchOpts, orchestrator.WithBudget(budget.New(cfg.Budget.Policies, tr)))
		}
		if cfg.Audit.Enabled {
			al, err := audit.New(cfg.Audit, logger)
			if err != nil {
				return err
			}
			defer al.Close()
			orchOpts = append(orchOpts, orchestrator.WithAudit(al))
		}
	}

	orch, err := orchestrator.New(cfg, orchOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	outstanding, err := tickLoop(ctx, out, orch, opts)
	if err != nil {
		_ = orch.Close(context.Background())
		return err
	}

	drainCtx, cancel := context.WithTimeout(ctx, opts.drain)
	for _, c := range outstanding {
		select {
		case <-c.done:
		case <-drainCtx.Done():
		}
	}
	cancel()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.Close(closeCtx); err != nil {
		return err
	}
	report(out, outstanding, opts.quiet)

	if !opts.replay {
		snapshot := orch.CacheSnapshot()
		if err := sf.cache.Save(snapshot); err != nil {
			return err
		}
		if err := sf.replay.Save(orch.ReplayLog()); err != nil {
			return err
		}
		logger.Info("save file written",
			zap.String("path", cfg.SaveFile),
			zap.Int("cache_entries", len(snapshot)),
			zap.Int("replay_records", orch.ReplayLog().Len()))
	}

	if err := printSummary(out, orch); err != nil {
		return err
	}
	if err := orch.Divergence(); err != nil {
		return fmt.Errorf("replay diverged: %w", err)
	}
	return nil
}

// tickLoop advances the world one tick per interval, polling every
// outstanding future once per tick. It returns the calls still unsettled.
func tickLoop(ctx context.Context, out io.Writer, orch *orchestrator.Orchestrator, opts simulateOpts) ([]*tracked, error) {
	world := newDemoWorld(opts.seed)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	var outstanding []*tracked
	for tick := uint64(1); tick <= uint64(opts.ticks); tick++ {
		orch.SetTick(tick)
		calls, rejected, err := world.step(orch, tick)
		if err != nil {
			return outstanding, err
		}
		if !opts.quiet {
			for _, r := range rejected {
				fmt.Fprintf(out, "[%4d] %s\n", tick, r)
			}
		}
		outstanding = append(outstanding, calls...)
		outstanding = report(out, outstanding, opts.quiet)

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return outstanding, nil
			}
			return outstanding, ctx.Err()
		case <-ticker.C:
		}
	}
	return outstanding, nil
}

// report prints settled calls and returns the rest.
func report(out io.Writer, calls []*tracked, quiet bool) []*tracked {
	kept := calls[:0]
	for _, c := range calls {
		text, resp, done := c.poll()
		if !done {
			kept = append(kept, c)
			continue
		}
		if !quiet {
			fmt.Fprintf(out, "[%4d] %-9s %s: %s\n", c.tick, resp.Source, c.label, text)
		}
	}
	return kept
}

func printSummary(out io.Writer, orch *orchestrator.Orchestrator) error {
	u := orch.UsageStats()
	r := orch.RetryStats()
	c := orch.CacheStats()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nREQUESTS\tRESOLVED\tLIVE\tCACHE\tFALLBACK\tREPLAY\tREJECTED\tCANCELLED\tSUPERSEDED\tMALFORMED")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		u.Submitted, u.Resolved, u.LiveCalls, u.CacheHits, u.Fallbacks, u.Replayed,
		u.Rejected, u.Cancelled, u.Superseded, u.Malformed)
	if err := w.Flush(); err != nil {
		return err
	}

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nCALL TYPE\tREQUESTS\tTOKENS IN\tTOKENS OUT\tCOST")
	for _, ct := range models.CallTypes {
		tc := u.ByCallType[ct]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.4f\n", ct, tc.Requests, tc.Input, tc.Output, tc.Cost)
	}
	fmt.Fprintf(w, "total\t%d\t%d\t%d\t%.4f\n", u.Total.Requests, u.Total.Input, u.Total.Output, u.Total.Cost)
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nattempts %d, retries %d, recovered %d, exhausted %d, fallback activations %d\n",
		r.Attempts, r.Retries, r.SuccessesAfterRetry, r.FailuresToFallback, r.FallbackActivations)
	fmt.Fprintf(out, "cache %d/%d entries, %d hits, %d misses, %d evictions, %d expired, %.4f saved\n",
		c.Entries, c.Capacity, c.Hits, c.Misses, c.Evictions, c.Expired, c.SavedCost)
	return nil
}
