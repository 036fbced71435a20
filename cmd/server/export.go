package main

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Simplici0/ecominsight/internal/export"
	"github.com/Simplici0/ecominsight/internal/store"
)

const exportFilename = "products.csv"

func (s *server) handleExportSubmit(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.exports.Submit(r.Context(), userID(r))
	if errors.Is(err, export.ErrQueueFull) {
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "too many exports in progress, try again later")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": jobID})
}

// handleExportPoll hands out the CSV once the job is ready. Pending and unknown
// jobs both report Processing.
func (s *server) handleExportPoll(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("task_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	ownerID := userID(r)
	job, err := s.exports.Poll(r.Context(), ownerID, jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProcessing(w)
		return
	case err != nil:
		s.writeServiceError(w, r, err)
		return
	}

	switch job.State {
	case store.JobFailed:
		s.logger.Warn("export job failed", zap.String("job_id", job.ID), zap.String("error", job.Error))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	case store.JobDownloaded:
		writeError(w, http.StatusGone, "export already downloaded")
		return
	case store.JobReady:
	default:
		writeProcessing(w)
		return
	}

	data, err := s.exports.Consume(r.Context(), ownerID, jobID)
	switch {
	case errors.Is(err, export.ErrNotReady):
		writeProcessing(w)
		return
	case errors.Is(err, export.ErrGone):
		writeError(w, http.StatusGone, "export already downloaded")
		return
	case err != nil:
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeProcessing(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "Processing"})
}
