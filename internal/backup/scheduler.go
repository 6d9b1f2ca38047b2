package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"nutribin-backend/internal/objstore"
)

// Runner writes a dump, optionally uploads it, and applies local retention.
type Runner struct {
	gen    *Generator
	dir    string
	keep   int
	store  objstore.Store
	bucket string
	log    *zap.Logger

	mu sync.Mutex
}

// RunResult reports the outcome of a single backup run.
type RunResult struct {
	File     string   `json:"file"`
	Uploaded bool     `json:"uploaded"`
	Removed  []string `json:"removed"`
}

// NewRunner creates a runner. A nil store disables uploads.
func NewRunner(gen *Generator, dir string, keep int, store objstore.Store, bucket string, log *zap.Logger) *Runner {
	return &Runner{gen: gen, dir: dir, keep: keep, store: store, bucket: bucket, log: log}
}

// Dir is the directory holding local backup files.
func (r *Runner) Dir() string { return r.dir }

// RunOnce performs one backup. Concurrent calls are serialized.
func (r *Runner) RunOnce(ctx context.Context) (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, err := r.gen.WriteFile(ctx, r.dir)
	if err != nil {
		return nil, err
	}
	res := &RunResult{File: filepath.Base(path)}

	if r.store != nil {
		if err := r.upload(ctx, path); err != nil {
			r.log.Warn("backup upload failed", zap.String("file", res.File), zap.Error(err))
		} else {
			res.Uploaded = true
		}
	}

	removed, err := CleanOldBackups(r.dir, r.keep)
	if err != nil {
		r.log.Warn("backup cleanup failed", zap.Error(err))
	}
	res.Removed = removed
	return res, nil
}

func (r *Runner) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.store.Put(ctx, r.bucket, "backups/"+filepath.Base(path), "application/sql", f)
}

// Scheduler runs backups on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	log    *zap.Logger
}

// NewScheduler parses expr as a standard five-field cron expression.
func NewScheduler(expr string, runner *Runner, log *zap.Logger) (*Scheduler, error) {
	cl := cronLogger{log: log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	s := &Scheduler{cron: c, runner: runner, log: log}
	if _, err := c.AddFunc(expr, s.run); err != nil {
		return nil, fmt.Errorf("invalid backup schedule %q: %w", expr, err)
	}
	return s, nil
}

func (s *Scheduler) run() {
	res, err := s.runner.RunOnce(context.Background())
	if err != nil {
		s.log.Error("scheduled backup failed", zap.Error(err))
		return
	}
	s.log.Info("scheduled backup completed",
		zap.String("file", res.File),
		zap.Bool("uploaded", res.Uploaded),
		zap.Int("removed", len(res.Removed)))
}

// Start runs the schedule until ctx is cancelled, then waits for a running
// backup to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.log.Info("backup scheduler stopped")
	}()
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
