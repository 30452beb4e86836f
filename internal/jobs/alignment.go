package jobs

import (
	"context"

	"github.com/jakub-figat/chromatin/internal/align"
	"github.com/jakub-figat/chromatin/internal/apperr"
	"github.com/jakub-figat/chromatin/pkg/models"
)

// AlignmentHandler runs PAIRWISE_ALIGNMENT jobs.
type AlignmentHandler struct {
	sequences SequenceResolver
	maxCells  int64
}

// NewAlignmentHandler returns a handler that refuses inputs whose DP matrix
// would exceed maxCells cells.
func NewAlignmentHandler(sequences SequenceResolver, maxCells int64) *AlignmentHandler {
	return &AlignmentHandler{sequences: sequences, maxCells: maxCells}
}

func (h *AlignmentHandler) Run(ctx context.Context, p models.PairwiseAlignmentParams) (*models.AlignmentResult, error) {
	seq1, err := h.sequences.Resolve(ctx, p.SequenceID1)
	if err != nil {
		return nil, err
	}
	seq2, err := h.sequences.Resolve(ctx, p.SequenceID2)
	if err != nil {
		return nil, err
	}

	if seq1.Type != seq2.Type {
		return nil, apperr.Validation("Cannot align sequences of different types: %s vs %s", seq1.Type, seq2.Type)
	}

	if cells := align.Cells(len(seq1.Residues), len(seq2.Residues)); h.maxCells > 0 && cells > h.maxCells {
		return nil, apperr.Validation("Alignment of %d x %d residues exceeds the limit of %d matrix cells.",
			len(seq1.Residues), len(seq2.Residues), h.maxCells)
	}

	mode := align.Global
	if p.AlignmentType == models.AlignmentLocal {
		mode = align.Local
	}

	aln, err := align.Align(ctx, seq1.Residues, seq2.Residues, mode, align.Scoring{
		Match:     p.MatchScore,
		Mismatch:  p.MismatchScore,
		GapOpen:   p.GapOpenScore,
		GapExtend: p.GapExtendScore,
	})
	if err != nil {
		return nil, err
	}

	stats := align.ComputeStats(aln.Seq1, aln.Seq2)

	return &models.AlignmentResult{
		SequenceID1:     seq1.ID,
		SequenceID2:     seq2.ID,
		SequenceName1:   seq1.Name,
		SequenceName2:   seq2.Name,
		AlignmentType:   p.AlignmentType,
		AlignmentScore:  aln.Score,
		AlignedSeq1:     aln.Seq1,
		AlignedSeq2:     aln.Seq2,
		AlignmentLength: stats.Length,
		Matches:         stats.Matches,
		Mismatches:      stats.Mismatches,
		Gaps:            stats.Gaps,
		IdentityPercent: stats.IdentityPercent,
		Cigar:           align.Cigar(aln.Seq1, aln.Seq2),
		ScoringParams:   p.Scoring(),
	}, nil
}
