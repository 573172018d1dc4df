package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codigosgratis/wikisync/internal/checkpoint"
	"github.com/codigosgratis/wikisync/internal/extract"
	"github.com/codigosgratis/wikisync/internal/metrics"
)

// Processor runs the fetch/extract pipeline for a single target.
type Processor interface {
	Process(ctx context.Context, t Target) (*extract.Result, error)
}

// Config controls a coordinator run.
type Config struct {
	// Limit caps how many targets are processed this run; 0 means
	// unlimited.
	Limit int
	// Offset skips the first N still-pending targets.
	Offset int
	// DryRun executes the full pipeline but suppresses every write:
	// no checkpoint flush, no artifact.
	DryRun bool
	// Concurrency is the batch width; values <= 1 run sequentially.
	Concurrency int
	// MinConcurrency is the floor adaptive throttling halves down to.
	MinConcurrency int
	// CheckpointInterval flushes the checkpoint every K recorded
	// targets.
	CheckpointInterval int
	// HostDelay is the unconditional minimum spacing between network
	// calls.
	HostDelay time.Duration
	// BatchPause is the extra pause inserted when a batch degrades.
	BatchPause time.Duration
}

// Summary reports the outcome counts of a completed run.
type Summary struct {
	RunID    string    `json:"run_id"`
	Found    int       `json:"found"`
	NoData   int       `json:"no_data"`
	Errored  int       `json:"errored"`
	Cached   int       `json:"cached"`
	Started  time.Time `json:"started_at"`
	Finished time.Time `json:"finished_at"`
}

// Progress is a point-in-time snapshot for the status endpoint.
type Progress struct {
	RunID       string `json:"run_id"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Found       int    `json:"found"`
	NoData      int    `json:"no_data"`
	Errored     int    `json:"errored"`
	Cached      int    `json:"cached"`
	Concurrency int    `json:"concurrency"`
	Running     bool   `json:"running"`
}

// Coordinator owns the crawl loop. It is the only writer of the
// checkpoint store: batch workers hand their results back over a
// channel and the coordinator records them.
type Coordinator struct {
	cfg     Config
	store   *checkpoint.Store
	proc    Processor
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	progress Progress
}

// New builds a Coordinator. Zero config values fall back to defaults.
func New(cfg Config, store *checkpoint.Store, proc Processor, logger *zap.Logger) *Coordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MinConcurrency < 1 {
		cfg.MinConcurrency = 1
	}
	if cfg.CheckpointInterval < 1 {
		cfg.CheckpointInterval = 25
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = cfg.HostDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.HostDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.HostDelay), 1)
	}

	return &Coordinator{
		cfg:     cfg,
		store:   store,
		proc:    proc,
		limiter: limiter,
		logger:  logger,
	}
}

// Progress returns a snapshot of the in-flight run.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Run processes targets, skipping everything already checkpointed, and
// returns the run summary. A per-target failure is recorded as a
// sentinel and never aborts the run; only checkpoint persistence
// failures and context cancellation do.
func (c *Coordinator) Run(ctx context.Context, targets []Target) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Started: time.Now().UTC()}

	pending := make([]Target, 0, len(targets))
	for _, t := range targets {
		if c.store.Has(t.ID) {
			sum.Cached++
			metrics.ObserveTarget("cached")
			continue
		}
		pending = append(pending, t)
	}

	if c.cfg.Offset >= len(pending) {
		pending = nil
	} else {
		pending = pending[c.cfg.Offset:]
	}
	if c.cfg.Limit > 0 && len(pending) > c.cfg.Limit {
		pending = pending[:c.cfg.Limit]
	}

	c.setProgress(func(p *Progress) {
		*p = Progress{
			RunID:       sum.RunID,
			Total:       len(pending),
			Cached:      sum.Cached,
			Concurrency: c.cfg.Concurrency,
			Running:     true,
		}
	})
	defer c.setProgress(func(p *Progress) { p.Running = false })

	c.logger.Info("crawl starting",
		zap.String("run_id", sum.RunID),
		zap.Int("targets", len(targets)),
		zap.Int("pending", len(pending)),
		zap.Int("cached", sum.Cached),
		zap.Bool("dry_run", c.cfg.DryRun),
	)

	var runErr error
	if c.cfg.Concurrency <= 1 {
		runErr = c.runSequential(ctx, pending, &sum)
	} else {
		runErr = c.runBatches(ctx, pending, &sum)
	}
	if runErr != nil && ctx.Err() == nil {
		// Persistence failure: abort without claiming a final flush.
		return sum, runErr
	}

	if !c.cfg.DryRun {
		if err := c.store.Flush(); err != nil {
			return sum, fmt.Errorf("final checkpoint flush: %w", err)
		}
		metrics.ObserveFlush()
	}

	sum.Finished = time.Now().UTC()
	c.logger.Info("crawl finished",
		zap.String("run_id", sum.RunID),
		zap.Int("found", sum.Found),
		zap.Int("no_data", sum.NoData),
		zap.Int("errored", sum.Errored),
		zap.Int("cached", sum.Cached),
	)
	if runErr != nil {
		return sum, runErr
	}
	return sum, nil
}

func (c *Coordinator) runSequential(ctx context.Context, pending []Target, sum *Summary) error {
	processed := 0
	for _, t := range pending {
		if err := c.pace(ctx); err != nil {
			return err
		}
		res, err := c.proc.Process(ctx, t)
		if err != nil && ctx.Err() != nil {
			// Canceled, not failed: leave the target unrecorded so a
			// later run retries it.
			return ctx.Err()
		}
		c.record(t, res, err, sum)
		processed++
		if err := c.maybeFlush(processed); err != nil {
			return err
		}
	}
	return nil
}

type batchOutcome struct {
	target Target
	res    *extract.Result
	err    error
}

func (c *Coordinator) runBatches(ctx context.Context, pending []Target, sum *Summary) error {
	width := c.cfg.Concurrency
	processed := 0
	prevFailures := 0
	first := true

	for start := 0; start < len(pending); {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + width
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		outcomes := make(chan batchOutcome, len(batch))
		var wg sync.WaitGroup
		for _, t := range batch {
			wg.Add(1)
			go func(t Target) {
				defer wg.Done()
				if err := c.pace(ctx); err != nil {
					outcomes <- batchOutcome{target: t, err: err}
					return
				}
				res, err := c.proc.Process(ctx, t)
				outcomes <- batchOutcome{target: t, res: res, err: err}
			}(t)
		}
		wg.Wait()
		close(outcomes)

		failures := 0
		for o := range outcomes {
			if o.err != nil && ctx.Err() != nil {
				continue // canceled, not failed; retried next run
			}
			if o.err != nil {
				failures++
			}
			c.record(o.target, o.res, o.err, sum)
			processed++
			if err := c.maybeFlush(processed); err != nil {
				return err
			}
		}
		start = end

		if !first && failures > prevFailures {
			width = width / 2
			if width < c.cfg.MinConcurrency {
				width = c.cfg.MinConcurrency
			}
			c.logger.Warn("batch degraded, throttling",
				zap.Int("failures", failures),
				zap.Int("previous_failures", prevFailures),
				zap.Int("concurrency", width),
			)
			c.setProgress(func(p *Progress) { p.Concurrency = width })
			if err := sleepCtx(ctx, c.cfg.BatchPause); err != nil {
				return err
			}
		}
		prevFailures = failures
		first = false
	}
	return nil
}

// record checkpoints one terminal outcome. A caught error becomes the
// nil sentinel so re-runs never hammer a permanently failing target.
func (c *Coordinator) record(t Target, res *extract.Result, err error, sum *Summary) {
	switch {
	case err != nil:
		c.store.Set(t.ID, nil)
		sum.Errored++
		metrics.ObserveTarget("errored")
		c.logger.Warn("target failed, sentinel recorded",
			zap.String("id", t.ID),
			zap.Error(err),
		)
	case res == nil || res.Status != extract.StatusFound:
		if res == nil {
			res = &extract.Result{Status: extract.StatusNotFound}
		}
		c.store.Set(t.ID, res)
		sum.NoData++
		metrics.ObserveTarget("no_data")
		c.logger.Debug("target has no data", zap.String("id", t.ID))
	default:
		c.store.Set(t.ID, res)
		sum.Found++
		metrics.ObserveTarget("found")
		c.logger.Debug("target recorded",
			zap.String("id", t.ID),
			zap.Int("raw_length", res.RawLength),
		)
	}

	c.setProgress(func(p *Progress) {
		p.Processed++
		p.Found = sum.Found
		p.NoData = sum.NoData
		p.Errored = sum.Errored
	})
}

func (c *Coordinator) maybeFlush(processed int) error {
	if c.cfg.DryRun || processed%c.cfg.CheckpointInterval != 0 {
		return nil
	}
	if err := c.store.Flush(); err != nil {
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	metrics.ObserveFlush()
	return nil
}

// pace enforces the minimum inter-request delay.
func (c *Coordinator) pace(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObservePacingDelay(d)
	}
	return nil
}

func (c *Coordinator) setProgress(update func(*Progress)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.progress)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
