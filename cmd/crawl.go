package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codigosgratis/wikisync/internal/api"
	"github.com/codigosgratis/wikisync/internal/checkpoint"
	"github.com/codigosgratis/wikisync/internal/config"
	"github.com/codigosgratis/wikisync/internal/crawl"
	"github.com/codigosgratis/wikisync/internal/extract"
	"github.com/codigosgratis/wikisync/internal/fetch"
	"github.com/codigosgratis/wikisync/internal/logging"
	"github.com/codigosgratis/wikisync/internal/metrics"
)

func newCrawlCmd() *cobra.Command {
	var (
		limit  int
		offset int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the fetch/extract/checkpoint cycle over the target list.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("limit") {
				cfg.Crawl.Limit = limit
			}
			if cmd.Flags().Changed("offset") {
				cfg.Crawl.Offset = offset
			}
			if cmd.Flags().Changed("dry-run") {
				cfg.Crawl.DryRun = dryRun
			}
			return runCrawl(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "process at most N pending targets (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip the first N pending targets")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the full pipeline without writing anything")

	return cmd
}

func runCrawl(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	targets, err := crawl.LoadTargets(cfg.Job.TargetsFile)
	if err != nil {
		return err
	}

	client := fetch.New(fetch.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Headers:     cfg.HTTP.Headers,
		Timeout:     cfg.HTTPTimeout(),
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.BackoffInitial(),
		BackoffMax:  cfg.BackoffMax(),
	}, logger)

	opts := extract.Options{
		Marker:         cfg.Job.Marker,
		Escaped:        cfg.Job.Escaped,
		FallbackFields: cfg.Job.FallbackFields,
	}
	if len(cfg.Job.RequireFields) > 0 || len(cfg.Job.ExcludeFields) > 0 {
		opts.Discriminator = extract.FieldDiscriminator(cfg.Job.RequireFields, cfg.Job.ExcludeFields)
	}

	pipeline, err := crawl.NewPipeline(client, cfg.Job.URLTemplate, opts, logger)
	if err != nil {
		return err
	}

	store := checkpoint.New(cfg.Job.CheckpointFile, logger)
	if err := store.Load(); err != nil {
		return err
	}

	coord := crawl.New(crawl.Config{
		Limit:              cfg.Crawl.Limit,
		Offset:             cfg.Crawl.Offset,
		DryRun:             cfg.Crawl.DryRun,
		Concurrency:        cfg.Crawl.Concurrency,
		MinConcurrency:     cfg.Crawl.MinConcurrency,
		CheckpointInterval: cfg.Crawl.CheckpointInterval,
		HostDelay:          cfg.HostDelay(),
		BatchPause:         cfg.BatchPause(),
	}, store, pipeline, logger)

	var srv *http.Server
	if cfg.Server.Listen != "" {
		srv = &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           api.NewServer(coord, logger).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", zap.String("addr", cfg.Server.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	sum, runErr := coord.Run(ctx, targets)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}

	if runErr != nil {
		return fmt.Errorf("crawl run %s: %w", sum.RunID, runErr)
	}

	if !cfg.Crawl.DryRun {
		artifact := crawl.Artifact{
			RunID:       sum.RunID,
			GeneratedAt: time.Now().UTC(),
			Summary:     sum,
			Results:     store.Entries(),
		}
		if err := crawl.WriteArtifact(cfg.Job.OutputFile, artifact); err != nil {
			return err
		}
		logger.Info("artifact written", zap.String("path", cfg.Job.OutputFile))
	}

	logger.Info("run complete",
		zap.String("run_id", sum.RunID),
		zap.Int("found", sum.Found),
		zap.Int("no_data", sum.NoData),
		zap.Int("errored", sum.Errored),
		zap.Int("cached", sum.Cached),
		zap.Duration("elapsed", sum.Finished.Sub(sum.Started)),
	)
	return nil
}
