package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownJobType is returned when a payload carries a job_type with no
// registered variant.
var ErrUnknownJobType = errors.New("unknown job type")

// AlignmentType selects end-to-end or best-subregion alignment.
type AlignmentType string

const (
	AlignmentGlobal AlignmentType = "GLOBAL"
	AlignmentLocal  AlignmentType = "LOCAL"
)

// Default scoring used when a pairwise alignment request omits a score.
const (
	DefaultMatchScore     = 2
	DefaultMismatchScore  = -1
	DefaultGapOpenScore   = -5
	DefaultGapExtendScore = -1
)

// JobParams is the input payload of a job. Each job type has exactly one
// implementation; consumers switch on the concrete type.
type JobParams interface {
	JobType() JobType
	isJobParams()
}

// PairwiseAlignmentParams requests an alignment of two stored sequences.
type PairwiseAlignmentParams struct {
	SequenceID1    int64         `json:"sequence_id_1"    validate:"required,gt=0"`
	SequenceID2    int64         `json:"sequence_id_2"    validate:"required,gt=0"`
	AlignmentType  AlignmentType `json:"alignment_type"   validate:"required,oneof=GLOBAL LOCAL"`
	MatchScore     int           `json:"match_score"      validate:"min=-10,max=10"`
	MismatchScore  int           `json:"mismatch_score"   validate:"min=-10,max=10"`
	GapOpenScore   int           `json:"gap_open_score"   validate:"min=-20,max=0"`
	GapExtendScore int           `json:"gap_extend_score" validate:"min=-20,max=0"`
}

// NewPairwiseAlignmentParams returns params for the two sequences with the
// default scoring and GLOBAL mode.
func NewPairwiseAlignmentParams(seq1, seq2 int64) PairwiseAlignmentParams {
	return PairwiseAlignmentParams{
		SequenceID1:    seq1,
		SequenceID2:    seq2,
		AlignmentType:  AlignmentGlobal,
		MatchScore:     DefaultMatchScore,
		MismatchScore:  DefaultMismatchScore,
		GapOpenScore:   DefaultGapOpenScore,
		GapExtendScore: DefaultGapExtendScore,
	}
}

func (PairwiseAlignmentParams) JobType() JobType { return JobTypePairwiseAlignment }
func (PairwiseAlignmentParams) isJobParams()     {}

// Scoring returns the scoring parameters as echoed in the result.
func (p PairwiseAlignmentParams) Scoring() ScoringParams {
	return ScoringParams{
		MatchScore:     p.MatchScore,
		MismatchScore:  p.MismatchScore,
		GapOpenScore:   p.GapOpenScore,
		GapExtendScore: p.GapExtendScore,
	}
}

func (p PairwiseAlignmentParams) MarshalJSON() ([]byte, error) {
	type alias PairwiseAlignmentParams
	return json.Marshal(struct {
		JobType JobType `json:"job_type"`
		alias
	}{p.JobType(), alias(p)})
}

// UnmarshalJSON fills omitted fields with the defaults.
func (p *PairwiseAlignmentParams) UnmarshalJSON(data []byte) error {
	type alias PairwiseAlignmentParams
	a := alias(NewPairwiseAlignmentParams(0, 0))
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = PairwiseAlignmentParams(a)
	return nil
}

// StructurePredictionParams requests a 3-D structure for a protein sequence.
type StructurePredictionParams struct {
	SequenceID     int64 `json:"sequence_id"     validate:"required,gt=0"`
	ForceRecompute bool  `json:"force_recompute"`
}

func (StructurePredictionParams) JobType() JobType { return JobTypeStructurePrediction }
func (StructurePredictionParams) isJobParams()     {}

func (p StructurePredictionParams) MarshalJSON() ([]byte, error) {
	type alias StructurePredictionParams
	return json.Marshal(struct {
		JobType JobType `json:"job_type"`
		alias
	}{p.JobType(), alias(p)})
}

type jobTypeHeader struct {
	JobType JobType `json:"job_type"`
}

// DecodeParams reads the job_type discriminator and decodes the matching
// params variant.
func DecodeParams(data []byte) (JobParams, error) {
	var head jobTypeHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode job params: %w", err)
	}

	switch head.JobType {
	case JobTypePairwiseAlignment:
		var p PairwiseAlignmentParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode pairwise alignment params: %w", err)
		}
		return p, nil
	case JobTypeStructurePrediction:
		var p StructurePredictionParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode structure prediction params: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, head.JobType)
	}
}
