package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/jakub-figat/chromatin/internal/api/response"
	"github.com/jakub-figat/chromatin/internal/jobs"
	"github.com/jakub-figat/chromatin/pkg/models"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// JobService defines the interface the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, userID int64, params models.JobParams) (*models.Job, error)
	Get(ctx context.Context, jobID, userID int64) (*models.Job, error)
	List(ctx context.Context, userID int64, opts jobs.ListOptions) ([]*models.Job, int, error)
	Cancel(ctx context.Context, jobID, userID int64) (*models.Job, error)
	Delete(ctx context.Context, jobID, userID int64) error
}

// Jobs serves /api/v1/jobs.
type Jobs struct {
	svc JobService
}

func NewJobs(svc JobService) *Jobs {
	return &Jobs{svc: svc}
}

// Submit handles POST /api/v1/jobs. The body is the params object of one job
// type, selected by its job_type field; omitted alignment scores take their
// defaults.
func (h *Jobs) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		invalidRequest(w, "Could not read request body")
		return
	}

	params, err := models.DecodeParams(body)
	if errors.Is(err, models.ErrUnknownJobType) {
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err != nil {
		invalidRequest(w, "Invalid JSON body")
		return
	}

	job, err := h.svc.Submit(r.Context(), userID, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, job)
}

// List handles GET /api/v1/jobs?status=&skip=&limit=.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		invalidRequest(w, "skip must be an integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		invalidRequest(w, "limit must be an integer")
		return
	}
	if limit < 1 || limit > maxPageLimit {
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"limit must be between 1 and 1000", nil)
		return
	}

	list, total, err := h.svc.List(r.Context(), userID, jobs.ListOptions{
		Status: models.JobStatus(r.URL.Query().Get("status")),
		Skip:   skip,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Collection(w, list, response.PaginationMeta{
		Skip:    skip,
		Limit:   limit,
		Total:   total,
		HasNext: skip+len(list) < total,
	})
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.svc.Get(r.Context(), jobID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, job)
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel.
func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.svc.Cancel(r.Context(), jobID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, job)
}

// Delete handles DELETE /api/v1/jobs/{jobID}.
func (h *Jobs) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), jobID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}
