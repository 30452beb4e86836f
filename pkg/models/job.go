package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// JobType discriminates the params and result variants of a job.
type JobType string

const (
	JobTypePairwiseAlignment   JobType = "PAIRWISE_ALIGNMENT"
	JobTypeStructurePrediction JobType = "STRUCTURE_PREDICTION"
)

// ErrorMessageMaxLen bounds the stored error_message column.
const ErrorMessageMaxLen = 1000

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s.Valid() && len(jobTransitions[s]) == 0
}

// Cancellable reports whether a job in status s may still be cancelled.
func (s JobStatus) Cancellable() bool {
	return CanTransition(s, JobStatusCancelled)
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	return t == JobTypePairwiseAlignment || t == JobTypeStructurePrediction
}

// Job is one unit of asynchronous work. Params and Result hold the raw JSON of
// the variant selected by JobType; use DecodeParams and DecodeResult to get
// the typed payloads.
//
// Result is set only when Status is COMPLETED, ErrorMessage only when FAILED,
// and CompletedAt only in a terminal status.
type Job struct {
	ID           int64           `db:"id"            json:"id"`
	UserID       int64           `db:"user_id"       json:"user_id"`
	JobType      JobType         `db:"job_type"      json:"job_type"`
	Status       JobStatus       `db:"status"        json:"status"`
	Params       json.RawMessage `db:"params"        json:"params"`
	Result       json.RawMessage `db:"result"        json:"result,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}
