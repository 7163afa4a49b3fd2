package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keystone-supply/catalog-etl/internal/extract"
	"github.com/keystone-supply/catalog-etl/internal/model"
)

var (
	runEnrich      bool
	runModel       string
	runConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run <catalog-file> [catalog-file...]",
	Short: "Process catalog files through the full pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runConcurrency)

		var succeeded, failed atomic.Int64
		for _, path := range args {
			g.Go(func() error {
				if err := runOne(gctx, env, path); err != nil {
					failed.Add(1)
					zap.L().Error("catalog processing failed",
						zap.String("file", path),
						zap.Error(err),
					)
					return nil // keep processing the remaining catalogs
				}
				succeeded.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "run catalogs")
		}

		zap.L().Info("run complete",
			zap.Int64("succeeded", succeeded.Load()),
			zap.Int64("failed", failed.Load()),
		)
		if n := failed.Load(); n > 0 {
			return eris.Errorf("%d of %d catalogs failed", n, len(args))
		}
		return nil
	},
}

// runOne creates a job for a single catalog, claims it, and runs it to
// completion, printing the final result.
func runOne(ctx context.Context, env *pipelineEnv, path string) error {
	sourceType, err := extract.DetectSourceType(path)
	if err != nil {
		return err
	}

	jb, err := env.Store.CreateJob(ctx, path, sourceType, model.JobOptions{
		Enrich: runEnrich,
		Model:  runModel,
	})
	if err != nil {
		return err
	}

	if err := env.Store.UpdateJobStatus(ctx, jb.ID, model.JobStatusProcessing, model.JobStatusPending); err != nil {
		return err
	}
	jb.Status = model.JobStatusProcessing

	if err := env.Pipeline.Run(ctx, jb); err != nil {
		return err
	}

	final, err := env.Store.GetJob(ctx, jb.ID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(final.Result, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal result")
	}
	fmt.Printf("%s: %s\n", path, out)
	return nil
}

func init() {
	runCmd.Flags().BoolVar(&runEnrich, "enrich", false, "enrich systems against the AHRI directory")
	runCmd.Flags().StringVar(&runModel, "model", "", "model ID override (default from config)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 1, "catalogs processed in parallel")
	rootCmd.AddCommand(runCmd)
}
