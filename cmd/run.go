// File: cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/browser/session"
	"github.com/argus-qa/playprobe/internal/config"
	"github.com/argus-qa/playprobe/internal/evaluator"
	"github.com/argus-qa/playprobe/internal/evidence"
	"github.com/argus-qa/playprobe/internal/observability"
	"github.com/argus-qa/playprobe/internal/orchestrator"
	"github.com/argus-qa/playprobe/internal/planner"
	"github.com/argus-qa/playprobe/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [targets...]",
		Short: "Runs exploratory test sessions against the specified game URLs",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override config file and env.
			if err := viper.BindPFlag("run.max_actions", cmd.Flags().Lookup("max-actions")); err != nil {
				return err
			}
			if err := viper.BindPFlag("run.session_timeout", cmd.Flags().Lookup("timeout")); err != nil {
				return err
			}
			if err := viper.BindPFlag("run.concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config: %w", err)
			}

			hint, _ := cmd.Flags().GetString("hint")
			output, _ := cmd.Flags().GetString("output")

			logger.Info("Starting test runs",
				zap.Strings("targets", args),
				zap.Int("max_actions", cfg.Run.MaxActions),
				zap.Int("concurrency", cfg.Run.Concurrency),
			)

			client, err := planner.NewGeminiClient(cfg.Planner, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize model client: %w", err)
			}

			eval, err := evaluator.NewLLMEvaluator(client, cfg.Planner, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize evaluator: %w", err)
			}

			provider := session.NewProvider(cfg.Browser, logger)

			var runStore *store.Store
			if cfg.Store.Enabled {
				pool, err := pgxpool.New(ctx, cfg.Store.DSN)
				if err != nil {
					return fmt.Errorf("failed to connect to the results database: %w", err)
				}
				defer pool.Close()
				runStore, err = store.New(ctx, pool, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize the results store: %w", err)
				}
			}

			var mu sync.Mutex
			var results []schemas.TestResult

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(cfg.Run.Concurrency)

			for _, target := range args {
				g.Go(func() error {
					sink := evidence.NewCollector()

					// The planner's evidence trace is run-scoped, so each
					// target gets its own planner and orchestrator.
					pl, err := planner.NewLLMPlanner(client, cfg.Planner, sink, logger)
					if err != nil {
						return err
					}
					orch, err := orchestrator.New(cfg, logger, provider, pl, eval)
					if err != nil {
						return err
					}

					runCfg := schemas.TestRunConfig{
						TargetURL:      target,
						MaxActions:     cfg.Run.MaxActions,
						SessionTimeout: cfg.Run.SessionTimeout,
						InputHint:      hint,
					}

					result, runErr := orch.Run(gctx, runCfg, sink)

					mu.Lock()
					results = append(results, result)
					mu.Unlock()

					if runStore != nil {
						if err := runStore.PersistResult(ctx, &result, sink.Items()); err != nil {
							logger.Error("Failed to persist run",
								zap.String("run_id", result.RunID), zap.Error(err))
						}
					}

					if runErr != nil {
						logger.Error("Run ended in failure",
							zap.String("target", target), zap.Error(runErr))
					}
					return nil
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}

			if err := writeResults(results, output); err != nil {
				return err
			}

			for _, r := range results {
				if r.Status == schemas.RunFailure {
					return fmt.Errorf("%d of %d runs failed", countFailures(results), len(results))
				}
			}
			return nil
		},
	}

	runCmd.Flags().Int("max-actions", 0, "maximum number of steps per run (0 uses the configured default)")
	runCmd.Flags().Duration("timeout", 0, "wall-clock budget per session (0 uses the configured default)")
	runCmd.Flags().Int("concurrency", 0, "number of targets tested in parallel")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	runCmd.Flags().String("hint", "", "free-form hint about the game's expected input scheme")
	runCmd.Flags().StringP("output", "o", "", "write the JSON report to this file instead of stdout")

	return runCmd
}

func writeResults(results []schemas.TestResult, output string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if output == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", output, err)
	}
	return nil
}

func countFailures(results []schemas.TestResult) int {
	n := 0
	for _, r := range results {
		if r.Status == schemas.RunFailure {
			n++
		}
	}
	return n
}
