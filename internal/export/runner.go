package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Simplici0/ecominsight/internal/store"
)

const queueSize = 64

var (
	// ErrNotReady is returned by Consume for a job that has no file to hand out yet.
	ErrNotReady = errors.New("export not ready")
	// ErrGone is returned by Consume once a job's file has been handed out or removed.
	ErrGone = errors.New("export already downloaded")
	// ErrQueueFull is returned by Submit when no more jobs can be queued.
	ErrQueueFull = errors.New("export queue is full")
)

const (
	reasonQueueFull   = "export queue is full"
	reasonShutdown    = "interrupted by shutdown"
	reasonFileMissing = "export file no longer exists"
)

var exportJobsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "export_jobs_total",
		Help: "Number of CSV export jobs partitioned by final state",
	},
	[]string{"state"},
)

type job struct {
	id      string
	ownerID int64
}

// Runner executes export jobs on a fixed number of workers.
type Runner struct {
	store   *store.Store
	dir     string
	workers int
	logger  *zap.Logger
	queue   chan job
}

// NewRunner returns a Runner writing files into dir. Call Run to start the workers.
func NewRunner(st *store.Store, dir string, workers int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:   st,
		dir:     dir,
		workers: workers,
		logger:  logger,
		queue:   make(chan job, queueSize),
	}
}

// Recover fails jobs left pending or running by a previous process; their queue was lost with it.
func (r *Runner) Recover(ctx context.Context) error {
	n, err := r.store.FailUnfinishedExportJobs(ctx, reasonShutdown)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Warn("failed export jobs left unfinished by a previous run", zap.Int64("jobs", n))
	}
	return nil
}

// Run processes submitted jobs until ctx is cancelled. Jobs still queued at that point are marked failed.
func (r *Runner) Run(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return nil
				case j := <-r.queue:
					r.process(gCtx, j)
				}
			}
		})
	}
	err := g.Wait()
	r.drain(context.WithoutCancel(ctx))
	return err
}

func (r *Runner) drain(ctx context.Context) {
	for {
		select {
		case j := <-r.queue:
			r.fail(ctx, j, reasonShutdown)
		default:
			return
		}
	}
}

// Submit queues an export for ownerID and returns its job id.
// While the owner already has a pending or running job, that job's id is returned instead;
// both would write the same file.
func (r *Runner) Submit(ctx context.Context, ownerID int64) (string, error) {
	var (
		id     string
		queued bool
	)
	err := r.store.WithTx(ctx, func(tx *store.Store) error {
		active, err := tx.ActiveExportJob(ctx, ownerID)
		switch {
		case err == nil:
			id = active.ID
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		id = uuid.NewString()
		if err := tx.CreateExportJob(ctx, id, ownerID); err != nil {
			return err
		}
		queued = true
		return nil
	})
	if err != nil {
		return "", err
	}

	logger := r.logger.With(zap.String("job_id", id), zap.Int64("owner_id", ownerID))
	if !queued {
		logger.Info("export job already in progress")
		return id, nil
	}

	select {
	case r.queue <- job{id: id, ownerID: ownerID}:
	default:
		r.fail(context.WithoutCancel(ctx), job{id: id, ownerID: ownerID}, reasonQueueFull)
		return "", ErrQueueFull
	}

	logger.Info("export job queued")
	return id, nil
}

func (r *Runner) fail(ctx context.Context, j job, reason string) {
	exportJobsTotal.WithLabelValues(store.JobFailed).Inc()
	if err := r.store.SetExportJobState(ctx, j.id, store.JobFailed, "", reason); err != nil {
		r.logger.Error("failed to mark export job failed",
			zap.String("job_id", j.id), zap.Int64("owner_id", j.ownerID), zap.Error(err))
		return
	}
	r.logger.Warn("export job failed",
		zap.String("job_id", j.id), zap.Int64("owner_id", j.ownerID), zap.String("reason", reason))
}

// Poll returns the job record of ownerID.
func (r *Runner) Poll(ctx context.Context, ownerID int64, jobID string) (store.ExportJob, error) {
	return r.store.GetExportJob(ctx, ownerID, jobID)
}

// Consume returns the finished file of a ready job and deletes it.
// Other ready jobs of the owner share that file and are marked downloaded with it.
func (r *Runner) Consume(ctx context.Context, ownerID int64, jobID string) ([]byte, error) {
	j, err := r.store.GetExportJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	switch j.State {
	case store.JobReady:
	case store.JobDownloaded:
		return nil, ErrGone
	default:
		return nil, ErrNotReady
	}

	data, err := os.ReadFile(j.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		if err := r.store.SetExportJobState(ctx, j.ID, store.JobDownloaded, "", reasonFileMissing); err != nil {
			return nil, err
		}
		r.logger.Warn("export file missing", zap.String("job_id", j.ID), zap.String("path", j.FilePath))
		return nil, ErrGone
	}
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}
	if err := os.Remove(j.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("failed to remove export file", zap.String("path", j.FilePath), zap.Error(err))
	}

	err = r.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.MarkExportFileDownloaded(ctx, ownerID, j.FilePath, j.ID); err != nil {
			return err
		}
		return tx.SetExportJobState(ctx, j.ID, store.JobDownloaded, "", "")
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *Runner) process(ctx context.Context, j job) {
	logger := r.logger.With(zap.String("job_id", j.id), zap.Int64("owner_id", j.ownerID))

	if err := r.store.SetExportJobState(ctx, j.id, store.JobRunning, "", ""); err != nil {
		logger.Error("failed to mark export job running", zap.Error(err))
		r.fail(context.WithoutCancel(ctx), j, err.Error())
		return
	}

	path, err := r.write(ctx, j.ownerID)
	if err != nil {
		r.fail(context.WithoutCancel(ctx), j, err.Error())
		return
	}

	if err := r.store.SetExportJobState(ctx, j.id, store.JobReady, path, ""); err != nil {
		logger.Error("failed to mark export job ready", zap.Error(err))
		return
	}
	exportJobsTotal.WithLabelValues(store.JobReady).Inc()
	logger.Info("export job ready", zap.String("file", path))
}

func (r *Runner) write(ctx context.Context, ownerID int64) (string, error) {
	products, err := r.store.ListProducts(ctx, store.ProductFilter{OwnerID: ownerID})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, products); err != nil {
		return "", err
	}

	path := filepath.Join(r.dir, fmt.Sprintf("products_%d.csv", ownerID))
	tmp, err := os.CreateTemp(r.dir, "products_*.csv.tmp")
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("move export file into place: %w", err)
	}
	return path, nil
}
