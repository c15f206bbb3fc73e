// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/artifacts"
	"github.com/pagegym/pagegym/internal/browser"
	"github.com/pagegym/pagegym/internal/env"
	"github.com/pagegym/pagegym/internal/observability"
	"github.com/pagegym/pagegym/internal/rollout"
	"github.com/pagegym/pagegym/internal/store"
	"github.com/pagegym/pagegym/internal/task"
)

var (
	runTaskID   string
	runSeed     int64
	runEpisodes int
	runCheat    bool
	startURL    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run episodes of a task and report their outcomes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := observability.GetLogger()
		registry := task.NewDefaultRegistry(startURL)

		manager := browser.NewManager(context.Background(), cfg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := manager.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Browser shutdown failed", zap.Error(err))
			}
		}()

		episodeStore, closeStore, err := store.NewFromConfig(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create episode store: %w", err)
		}
		defer closeStore()

		var sink artifacts.Sink = artifacts.NopSink{}
		if cfg.Artifacts.Enabled {
			sink = artifacts.NewFSSink(afero.NewOsFs(), cfg.Artifacts.Dir, logger)
		}

		factory := func() (*env.Env, error) {
			return env.New(cfg, logger, registry, manager,
				env.WithStore(episodeStore),
				env.WithArtifactSink(sink),
			), nil
		}

		if runCheat {
			return runCheatEpisodes(ctx, cmd, factory)
		}

		jobs := make([]rollout.Job, runEpisodes)
		for i := range jobs {
			jobs[i] = rollout.Job{TaskID: runTaskID, Seed: runSeed + int64(i)}
		}

		collector := rollout.NewCollector(cfg, logger, factory)
		results, err := collector.Run(ctx, jobs, rollout.ClickFirstPolicy{})
		if err != nil {
			return err
		}
		return printResults(cmd, results)
	},
}

// runCheatEpisodes drives each episode through the task's reference solution
// and validates the outcome with a final wait step.
func runCheatEpisodes(ctx context.Context, cmd *cobra.Command, factory rollout.EnvFactory) error {
	results := make([]rollout.Result, 0, runEpisodes)
	for i := 0; i < runEpisodes; i++ {
		seed := runSeed + int64(i)
		result := rollout.Result{TaskID: runTaskID, Seed: seed}

		environment, err := factory()
		if err != nil {
			return err
		}

		func() {
			defer environment.Close(ctx)

			if _, _, err := environment.Reset(ctx, runTaskID, seed); err != nil {
				result.Error = fmt.Sprintf("reset failed: %v", err)
				return
			}
			result.EpisodeID = environment.EpisodeID()

			if err := environment.Cheat(ctx); err != nil {
				result.Error = fmt.Sprintf("cheat failed: %v", err)
				return
			}

			step, err := environment.Step(ctx, schemas.Action{Kind: schemas.ActionWait})
			if err != nil {
				result.Error = fmt.Sprintf("step failed: %v", err)
				return
			}
			result.Steps = 1
			result.Reward = step.Reward
			result.Terminated = step.Terminated
			result.Truncated = step.Truncated
		}()

		results = append(results, result)
	}
	return printResults(cmd, results)
}

func printResults(cmd *cobra.Command, results []rollout.Result) error {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func init() {
	runCmd.Flags().StringVarP(&runTaskID, "task", "t", task.ClickButtonTaskID, "task id to run")
	runCmd.Flags().Int64VarP(&runSeed, "seed", "s", 0, "base seed; episode i uses seed+i")
	runCmd.Flags().IntVarP(&runEpisodes, "episodes", "n", 1, "number of episodes to run")
	runCmd.Flags().BoolVar(&runCheat, "cheat", false, "solve each episode with the task's reference solution")
	rootCmd.PersistentFlags().StringVar(&startURL, "start-url", "about:blank", "start page for the open-ended task")
	rootCmd.AddCommand(runCmd)
}
