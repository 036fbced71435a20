package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Export job states.
const (
	JobPending    = "pending"
	JobRunning    = "running"
	JobReady      = "ready"
	JobFailed     = "failed"
	JobDownloaded = "downloaded"
)

// ExportJob tracks one asynchronous CSV export.
type ExportJob struct {
	ID         string
	OwnerID    int64
	State      string
	FilePath   string
	Error      string
	CreatedAt  time.Time
	FinishedAt sql.NullTime
}

// CreateExportJob records a new pending job.
func (s *Store) CreateExportJob(ctx context.Context, id string, ownerID int64) error {
	if _, err := s.q.ExecContext(ctx, `
		INSERT INTO export_jobs (id, owner_id, state) VALUES (?, ?, ?)
	`, id, ownerID, JobPending); err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

// SetExportJobState moves a job to state, recording the produced file or failure.
func (s *Store) SetExportJobState(ctx context.Context, id, state, filePath, errMsg string) error {
	var finished any
	if state == JobReady || state == JobFailed {
		finished = time.Now().UTC()
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE export_jobs
		SET state = ?, file_path = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE id = ?
	`, state, nullIfEmpty(filePath), nullIfEmpty(errMsg), finished, id)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return requireAffected(res, "export job")
}

const exportJobColumns = `id, owner_id, state, file_path, error, created_at, finished_at`

// GetExportJob loads a job owned by ownerID.
func (s *Store) GetExportJob(ctx context.Context, ownerID int64, id string) (ExportJob, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+exportJobColumns+`
		FROM export_jobs
		WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	return scanExportJob(row)
}

// ActiveExportJob returns the newest pending or running job of ownerID.
func (s *Store) ActiveExportJob(ctx context.Context, ownerID int64) (ExportJob, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+exportJobColumns+`
		FROM export_jobs
		WHERE owner_id = ? AND state IN (?, ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, ownerID, JobPending, JobRunning)
	return scanExportJob(row)
}

// MarkExportFileDownloaded moves every ready job of ownerID pointing at filePath,
// other than exceptID, to downloaded. It returns how many jobs changed.
func (s *Store) MarkExportFileDownloaded(ctx context.Context, ownerID int64, filePath, exceptID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE export_jobs
		SET state = ?
		WHERE owner_id = ? AND file_path = ? AND state = ? AND id <> ?
	`, JobDownloaded, ownerID, filePath, JobReady, exceptID)
	if err != nil {
		return 0, fmt.Errorf("update export jobs: %w", err)
	}
	return res.RowsAffected()
}

// FailUnfinishedExportJobs marks every pending or running job failed with reason.
func (s *Store) FailUnfinishedExportJobs(ctx context.Context, reason string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE export_jobs
		SET state = ?, error = ?, finished_at = ?
		WHERE state IN (?, ?)
	`, JobFailed, reason, time.Now().UTC(), JobPending, JobRunning)
	if err != nil {
		return 0, fmt.Errorf("fail unfinished export jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanExportJob(row *sql.Row) (ExportJob, error) {
	var (
		job      ExportJob
		filePath sql.NullString
		errMsg   sql.NullString
	)
	if err := row.Scan(&job.ID, &job.OwnerID, &job.State, &filePath, &errMsg, &job.CreatedAt, &job.FinishedAt); err != nil {
		return ExportJob{}, notFound(err, "export job")
	}
	job.FilePath = filePath.String
	job.Error = errMsg.String
	return job, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
