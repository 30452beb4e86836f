package models

import (
	"encoding/json"
	"fmt"
)

// JobResult is the output payload of a completed job.
type JobResult interface {
	JobType() JobType
	isJobResult()
}

// ScoringParams echoes the scores an alignment was computed with.
type ScoringParams struct {
	MatchScore     int `json:"match_score"`
	MismatchScore  int `json:"mismatch_score"`
	GapOpenScore   int `json:"gap_open_score"`
	GapExtendScore int `json:"gap_extend_score"`
}

type AlignmentResult struct {
	SequenceID1     int64         `json:"sequence_id_1"`
	SequenceID2     int64         `json:"sequence_id_2"`
	SequenceName1   string        `json:"sequence_name_1"`
	SequenceName2   string        `json:"sequence_name_2"`
	AlignmentType   AlignmentType `json:"alignment_type"`
	AlignmentScore  float64       `json:"alignment_score"`
	AlignedSeq1     string        `json:"aligned_seq_1"`
	AlignedSeq2     string        `json:"aligned_seq_2"`
	AlignmentLength int           `json:"alignment_length"`
	Matches         int           `json:"matches"`
	Mismatches      int           `json:"mismatches"`
	Gaps            int           `json:"gaps"`
	IdentityPercent float64       `json:"identity_percent"`
	Cigar           string        `json:"cigar"`
	ScoringParams   ScoringParams `json:"scoring_params"`
}

func (AlignmentResult) JobType() JobType { return JobTypePairwiseAlignment }
func (AlignmentResult) isJobResult()     {}

func (r AlignmentResult) MarshalJSON() ([]byte, error) {
	type alias AlignmentResult
	return json.Marshal(struct {
		JobType JobType `json:"job_type"`
		alias
	}{r.JobType(), alias(r)})
}

type StructurePredictionResult struct {
	SequenceID       int64     `json:"sequence_id"`
	SequenceName     string    `json:"sequence_name"`
	StructureID      int64     `json:"structure_id"`
	Source           string    `json:"source"`
	CachedResult     bool      `json:"cached_result"`
	ResidueCount     int       `json:"residue_count"`
	MeanConfidence   float64   `json:"mean_confidence"`
	MinConfidence    float64   `json:"min_confidence"`
	MaxConfidence    float64   `json:"max_confidence"`
	ConfidenceScores []float64 `json:"confidence_scores"`
	PDBDownloadPath  string    `json:"pdb_download_path"`
}

func (StructurePredictionResult) JobType() JobType { return JobTypeStructurePrediction }
func (StructurePredictionResult) isJobResult()     {}

func (r StructurePredictionResult) MarshalJSON() ([]byte, error) {
	type alias StructurePredictionResult
	return json.Marshal(struct {
		JobType JobType `json:"job_type"`
		alias
	}{r.JobType(), alias(r)})
}

// DecodeResult reads the job_type discriminator and decodes the matching
// result variant.
func DecodeResult(data []byte) (JobResult, error) {
	var head jobTypeHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode job result: %w", err)
	}

	switch head.JobType {
	case JobTypePairwiseAlignment:
		var r AlignmentResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode alignment result: %w", err)
		}
		return r, nil
	case JobTypeStructurePrediction:
		var r StructurePredictionResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode structure prediction result: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, head.JobType)
	}
}
