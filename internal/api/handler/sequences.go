package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jakub-figat/chromatin/internal/api/response"
	"github.com/jakub-figat/chromatin/internal/jobs"
	"github.com/jakub-figat/chromatin/pkg/models"
)

// SequenceService defines the interface the sequence handlers depend on.
type SequenceService interface {
	Create(ctx context.Context, userID int64, in jobs.SequenceInput) (*models.Sequence, error)
	Get(ctx context.Context, id, userID int64) (*models.Sequence, error)
	List(ctx context.Context, userID int64, opts jobs.SequenceListOptions) ([]*models.Sequence, int, error)
	Update(ctx context.Context, id, userID int64, in jobs.SequenceUpdate) (*models.Sequence, error)
	Delete(ctx context.Context, id, userID int64) error
	Structure(ctx context.Context, sequenceID, userID int64) (*models.SequenceStructure, error)
	OpenStructure(ctx context.Context, sequenceID, userID int64) (io.ReadCloser, *models.SequenceStructure, error)
}

// Sequences serves /api/v1/sequences.
type Sequences struct {
	svc SequenceService
}

func NewSequences(svc SequenceService) *Sequences {
	return &Sequences{svc: svc}
}

// Create handles POST /api/v1/sequences.
func (h *Sequences) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in jobs.SequenceInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		invalidRequest(w, "Invalid JSON body")
		return
	}

	seq, err := h.svc.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, seq)
}

// Get handles GET /api/v1/sequences/{sequenceID}.
func (h *Sequences) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "sequenceID")
	if !ok {
		return
	}

	seq, err := h.svc.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, seq)
}

// List handles GET /api/v1/sequences?sequence_type=&name=&skip=&limit=. Only
// the caller's own sequences are listed, without residues.
func (h *Sequences) List(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	list, total, err := h.svc.List(r.Context(), userID, jobs.SequenceListOptions{
		Type:  models.SequenceType(q.Get("sequence_type")),
		Name:  q.Get("name"),
		Skip:  skip,
		Limit: limit,
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

// Update handles PATCH /api/v1/sequences/{sequenceID}.
func (h *Sequences) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "sequenceID")
	if !ok {
		return
	}

	var in jobs.SequenceUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		invalidRequest(w, "Invalid JSON body")
		return
	}

	seq, err := h.svc.Update(r.Context(), id, userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, seq)
}

// Delete handles DELETE /api/v1/sequences/{sequenceID}.
func (h *Sequences) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "sequenceID")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id, userID); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// Structure handles GET /api/v1/sequences/{sequenceID}/structure.
func (h *Sequences) Structure(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "sequenceID")
	if !ok {
		return
	}

	st, err := h.svc.Structure(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, structureResponse{
		SequenceStructure: st,
		PDBDownloadPath:   jobs.StructureDownloadPath(id),
	})
}

// DownloadStructure handles GET /api/v1/sequences/{sequenceID}/structure/download.
func (h *Sequences) DownloadStructure(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "sequenceID")
	if !ok {
		return
	}

	rc, _, err := h.svc.OpenStructure(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	filename := fmt.Sprintf("sequence_%d.pdb", id)
	if err := response.Attachment(w, "chemical/x-pdb", filename, rc); err != nil {
		slog.Warn("streaming structure failed", "sequence_id", id, "error", err)
	}
}

type structureResponse struct {
	*models.SequenceStructure
	PDBDownloadPath string `json:"pdb_download_path"`
}
