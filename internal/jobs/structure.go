package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jakub-figat/chromatin/internal/apperr"
	"github.com/jakub-figat/chromatin/internal/blob"
	"github.com/jakub-figat/chromatin/internal/predict"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/pkg/models"
)

// StructureStore is the slice of the store the structure handler needs.
type StructureStore interface {
	GetSequenceStructure(ctx context.Context, sequenceID int64) (*models.SequenceStructure, error)
	UpsertSequenceStructure(ctx context.Context, st *models.SequenceStructure) (string, error)
}

// StructureHandler runs STRUCTURE_PREDICTION jobs. A sequence has at most one
// stored structure; it is reused while the residue hash still matches.
type StructureHandler struct {
	sequences   SequenceResolver
	structures  StructureStore
	blobs       blob.Storage
	predictor   predict.Predictor
	maxResidues int
}

func NewStructureHandler(sequences SequenceResolver, structures StructureStore, blobs blob.Storage,
	predictor predict.Predictor, maxResidues int) *StructureHandler {
	return &StructureHandler{
		sequences:   sequences,
		structures:  structures,
		blobs:       blobs,
		predictor:   predictor,
		maxResidues: maxResidues,
	}
}

func (h *StructureHandler) Run(ctx context.Context, p models.StructurePredictionParams) (*models.StructurePredictionResult, error) {
	seq, err := h.sequences.Resolve(ctx, p.SequenceID)
	if err != nil {
		return nil, err
	}

	if seq.Type != models.SequenceTypeProtein {
		return nil, apperr.Validation("Structure prediction is only supported for protein sequences.")
	}
	if seq.Length > h.maxResidues {
		return nil, apperr.Validation("Sequence length %d exceeds ESMFold limit of %d residues.", seq.Length, h.maxResidues)
	}

	hash := SequenceHash(seq.Residues)

	existing, err := h.structures.GetSequenceStructure(ctx, seq.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.SequenceHash == hash && !p.ForceRecompute {
		scores, err := existing.Scores()
		if err != nil {
			return nil, fmt.Errorf("decoding cached confidence scores: %w", err)
		}
		slog.Info("structure cache hit", "sequence_id", seq.ID, "structure_id", existing.ID)
		return structureResult(seq, existing, scores, true), nil
	}

	pdb, err := h.predictor.Predict(ctx, seq.Residues)
	if err != nil {
		return nil, predictionError(ctx, err)
	}

	scores, err := predict.ConfidenceScores(pdb)
	if errors.Is(err, predict.ErrNoConfidenceScores) {
		return nil, apperr.Validation("ESMFold response did not contain residue confidence scores.")
	}
	if err != nil {
		return nil, fmt.Errorf("parsing structure: %w", err)
	}

	st, err := h.save(ctx, seq, hash, pdb, scores)
	if err != nil {
		return nil, err
	}
	return structureResult(seq, st, scores, false), nil
}

// save writes the PDB blob and points the sequence's structure row at it. The
// blob it replaces is removed afterwards; a failure there only leaks a file.
func (h *StructureHandler) save(ctx context.Context, seq *ResolvedSequence, hash, pdb string, scores []float64) (*models.SequenceStructure, error) {
	encoded, err := json.Marshal(scores)
	if err != nil {
		return nil, fmt.Errorf("encoding confidence scores: %w", err)
	}

	path, err := h.blobs.Save(ctx, []byte(pdb), fmt.Sprintf("sequence_%d_esmfold.pdb", seq.ID))
	if err != nil {
		return nil, fmt.Errorf("storing structure file: %w", err)
	}

	summary := predict.Summarize(scores)
	st := &models.SequenceStructure{
		SequenceID:       seq.ID,
		FilePath:         path,
		Source:           predict.Source,
		SequenceHash:     hash,
		ResidueCount:     len(scores),
		MeanConfidence:   summary.Mean,
		MinConfidence:    summary.Min,
		MaxConfidence:    summary.Max,
		ConfidenceScores: encoded,
	}

	previous, err := h.structures.UpsertSequenceStructure(ctx, st)
	if err != nil {
		h.deleteBlob(ctx, path)
		return nil, err
	}
	h.deleteBlob(ctx, previous)

	slog.Info("structure stored", "sequence_id", seq.ID, "structure_id", st.ID, "residues", st.ResidueCount)
	return st, nil
}

func (h *StructureHandler) deleteBlob(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := h.blobs.Delete(context.WithoutCancel(ctx), path); err != nil {
		slog.Warn("failed to delete structure file", "path", path, "error", err)
	}
}

// predictionError turns a predictor failure into the user-facing message. A
// cancelled or expired job context is passed through untouched.
func predictionError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("structure prediction interrupted: %w", ctx.Err())
	}

	var se *predict.StatusError
	if errors.As(err, &se) {
		return apperr.Validation("ESMFold API error %d: %s", se.StatusCode, se.Detail)
	}
	return apperr.Validation("ESMFold API request failed: %v", err)
}

// SequenceHash is the cache key of a residue string.
func SequenceHash(residues string) string {
	sum := sha256.Sum256([]byte(residues))
	return hex.EncodeToString(sum[:])
}

// StructureDownloadPath is where the API serves the PDB of a sequence.
func StructureDownloadPath(sequenceID int64) string {
	return fmt.Sprintf("/api/v1/sequences/%d/structure/download", sequenceID)
}

func structureResult(seq *ResolvedSequence, st *models.SequenceStructure, scores []float64, cached bool) *models.StructurePredictionResult {
	return &models.StructurePredictionResult{
		SequenceID:       seq.ID,
		SequenceName:     seq.Name,
		StructureID:      st.ID,
		Source:           st.Source,
		CachedResult:     cached,
		ResidueCount:     st.ResidueCount,
		MeanConfidence:   st.MeanConfidence,
		MinConfidence:    st.MinConfidence,
		MaxConfidence:    st.MaxConfidence,
		ConfidenceScores: scores,
		PDBDownloadPath:  StructureDownloadPath(seq.ID),
	}
}
