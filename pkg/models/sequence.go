package models

import (
	"encoding/json"
	"time"
)

// SequenceType is the declared alphabet of a sequence.
type SequenceType string

const (
	SequenceTypeDNA     SequenceType = "DNA"
	SequenceTypeRNA     SequenceType = "RNA"
	SequenceTypeProtein SequenceType = "PROTEIN"
)

// Alphabet returns the residue characters allowed for t, or "" for an
// unknown type.
func (t SequenceType) Alphabet() string {
	switch t {
	case SequenceTypeDNA:
		return "ACGTN"
	case SequenceTypeRNA:
		return "ACGUN"
	case SequenceTypeProtein:
		return "ACDEFGHIKLMNPQRSTVWYX"
	}
	return ""
}

// Sequence is a stored residue string. Small sequences keep their residues in
// SequenceData; larger ones are written to blob storage and referenced by
// FilePath. Exactly one of the two is set.
type Sequence struct {
	ID           int64        `db:"id"            json:"id"`
	UserID       int64        `db:"user_id"       json:"user_id"`
	Name         string       `db:"name"          json:"name"`
	Description  *string      `db:"description"   json:"description,omitempty"`
	SequenceType SequenceType `db:"sequence_type" json:"sequence_type"`
	IsPublic     bool         `db:"is_public"     json:"is_public"`
	Length       int          `db:"length"        json:"length"`
	SequenceData *string      `db:"sequence_data" json:"sequence_data,omitempty"`
	FilePath     *string      `db:"file_path"     json:"-"`
	CreatedAt    time.Time    `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"    json:"updated_at"`
}

// SequenceStructure is the cached structure prediction for one sequence.
// It is valid only while SequenceHash matches the sequence's residues.
type SequenceStructure struct {
	ID               int64           `db:"id"                json:"id"`
	SequenceID       int64           `db:"sequence_id"       json:"sequence_id"`
	FilePath         string          `db:"file_path"         json:"-"`
	Source           string          `db:"source"            json:"source"`
	SequenceHash     string          `db:"sequence_hash"     json:"sequence_hash"`
	ResidueCount     int             `db:"residue_count"     json:"residue_count"`
	MeanConfidence   float64         `db:"mean_confidence"   json:"mean_confidence"`
	MinConfidence    float64         `db:"min_confidence"    json:"min_confidence"`
	MaxConfidence    float64         `db:"max_confidence"    json:"max_confidence"`
	ConfidenceScores json.RawMessage `db:"confidence_scores" json:"confidence_scores"`
	CreatedAt        time.Time       `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"        json:"updated_at"`
}

// Scores decodes the per-residue confidence list.
func (s *SequenceStructure) Scores() ([]float64, error) {
	var scores []float64
	if len(s.ConfidenceScores) == 0 {
		return scores, nil
	}
	if err := json.Unmarshal(s.ConfidenceScores, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}
