package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jakub-figat/chromatin/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Job transition errors.
var (
	// ErrNotClaimable means the job is no longer PENDING (or RUNNING, for a
	// redelivered task) and must not be executed.
	ErrNotClaimable = errors.New("job not claimable")
	// ErrStaleTransition means the job left RUNNING, usually because it was
	// cancelled while the handler was working.
	ErrStaleTransition = errors.New("job is no longer running")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// TransitionError reports a status change the job state machine does not allow.
type TransitionError struct {
	From models.JobStatus
	To   models.JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	EnsureUser(ctx context.Context, email string) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateSequence(ctx context.Context, seq *models.Sequence) error
	GetSequence(ctx context.Context, id int64) (*models.Sequence, error)
	ListSequences(ctx context.Context, filter SequenceFilter) ([]*models.Sequence, int, error)
	UpdateSequence(ctx context.Context, seq *models.Sequence) error
	DeleteSequence(ctx context.Context, id int64) (*DeletedSequence, error)

	GetSequenceStructure(ctx context.Context, sequenceID int64) (*models.SequenceStructure, error)
	UpsertSequenceStructure(ctx context.Context, st *models.SequenceStructure) (previousPath string, err error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	ClaimJob(ctx context.Context, id int64, reclaim bool) (*models.Job, error)
	FinishJob(ctx context.Context, id int64, status models.JobStatus, opts ...JobUpdateOption) error
	CancelJob(ctx context.Context, id int64) (*models.Job, error)
	DeleteJob(ctx context.Context, id int64) error
}

// JobFilter scopes a job listing to one owner.
type JobFilter struct {
	UserID int64
	Status models.JobStatus
	Skip   int
	Limit  int
}

// SequenceFilter scopes a sequence listing to one owner. Name matches
// case-insensitively anywhere in the sequence name.
type SequenceFilter struct {
	UserID int64
	Type   models.SequenceType
	Name   string
	Skip   int
	Limit  int
}

// DeletedSequence carries the blob paths orphaned by a sequence deletion.
type DeletedSequence struct {
	FilePath          string
	StructureFilePath string
}

// JobUpdate is the payload of a terminal job write, built from options.
type JobUpdate struct {
	ErrorMessage *string
	Result       json.RawMessage
}

type JobUpdateOption func(*JobUpdate)

// NewJobUpdate applies opts to an empty JobUpdate.
func NewJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}

func WithResult(result json.RawMessage) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Result = result
	}
}
