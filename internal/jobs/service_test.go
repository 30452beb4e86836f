package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/jakub-figat/chromatin/internal/apperr"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_CreatesPendingJobAndDispatches(t *testing.T) {
	f := newFixture(t)

	job := f.submit(t, models.NewPairwiseAlignmentParams(1, 2))

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypePairwiseAlignment, job.JobType)
	assert.Equal(t, []int64{job.ID}, f.dispatcher.dispatched)
	assert.Equal(t, "PENDING", f.status.get(job.ID))

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	params, err := models.DecodeParams(stored.Params)
	require.NoError(t, err)
	assert.Equal(t, models.NewPairwiseAlignmentParams(1, 2), params)
}

func TestSubmit_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		params  models.JobParams
		message string
	}{
		{
			name: "match score out of range",
			params: func() models.JobParams {
				p := models.NewPairwiseAlignmentParams(1, 2)
				p.MatchScore = 11
				return p
			}(),
			message: "field 'match_score' must be at most 10",
		},
		{
			name: "positive gap open",
			params: func() models.JobParams {
				p := models.NewPairwiseAlignmentParams(1, 2)
				p.GapOpenScore = 1
				return p
			}(),
			message: "field 'gap_open_score' must be at most 0",
		},
		{
			name: "gap extend too low",
			params: func() models.JobParams {
				p := models.NewPairwiseAlignmentParams(1, 2)
				p.GapExtendScore = -21
				return p
			}(),
			message: "field 'gap_extend_score' must be at least -20",
		},
		{
			name: "unknown alignment type",
			params: func() models.JobParams {
				p := models.NewPairwiseAlignmentParams(1, 2)
				p.AlignmentType = "SEMI_GLOBAL"
				return p
			}(),
			message: "field 'alignment_type' must be one of [GLOBAL LOCAL]",
		},
		{
			name:    "missing sequence",
			params:  models.StructurePredictionParams{},
			message: "field 'sequence_id' is required",
		},
		{
			name:    "nil params",
			params:  nil,
			message: "job params are required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.service().Submit(context.Background(), f.userID, tc.params)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Contains(t, err.Error(), tc.message)
			assert.Empty(t, f.dispatcher.dispatched)

			jobs, total, err := f.store.ListJobs(context.Background(), listAll(f.userID))
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, jobs)
		})
	}
}

func TestSubmit_DispatchFailureRemovesJob(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.dispatchErr = errors.New("broker down")

	_, err := f.service().Submit(context.Background(), f.userID, models.StructurePredictionParams{SequenceID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	_, total, err := f.store.ListJobs(context.Background(), listAll(f.userID))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGet_OwnershipHidesJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})
	svc := f.service()

	got, err := svc.Get(context.Background(), job.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = svc.Get(context.Background(), job.ID, f.otherID)
	assert.True(t, apperr.IsNotFound(err))
	assert.EqualError(t, err, "Job with id "+itoa(job.ID)+" not found")

	_, err = svc.Get(context.Background(), 9999, f.userID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestList_FiltersByOwnerAndStatus(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	first := f.submit(t, models.StructurePredictionParams{SequenceID: 1})
	second := f.submit(t, models.StructurePredictionParams{SequenceID: 2})
	_, err := svc.Submit(context.Background(), f.otherID, models.StructurePredictionParams{SequenceID: 3})
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), first.ID, f.userID)
	require.NoError(t, err)

	jobs, total, err := svc.List(context.Background(), f.userID, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)

	jobs, total, err = svc.List(context.Background(), f.userID, ListOptions{Status: models.JobStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, first.ID, jobs[0].ID)

	_, _, err = svc.List(context.Background(), f.userID, ListOptions{Status: "DONE"})
	assert.True(t, apperr.IsValidation(err))

	_, _, err = svc.List(context.Background(), f.userID, ListOptions{Skip: -1})
	assert.True(t, apperr.IsValidation(err))
}

func TestCancel_PendingJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})

	cancelled, err := f.service().Cancel(context.Background(), job.ID, f.userID)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)
	assert.Equal(t, []int64{job.ID}, f.dispatcher.revoked)
	assert.Equal(t, "CANCELLED", f.status.get(job.ID))
}

func TestCancel_RunningJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})
	_, err := f.store.ClaimJob(context.Background(), job.ID, false)
	require.NoError(t, err)

	cancelled, err := f.service().Cancel(context.Background(), job.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
}

func TestCancel_TerminalJobFails(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})
			f.store.SetJobStatus(job.ID, status)

			_, err := f.service().Cancel(context.Background(), job.ID, f.userID)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.EqualError(t, err, "Cannot cancel job with status "+string(status)+
				". Only PENDING or RUNNING jobs can be cancelled.")
			assert.Empty(t, f.dispatcher.revoked)

			got, err := f.store.GetJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Equal(t, status, got.Status)
		})
	}
}

func TestCancel_NonOwnerGetsNotFound(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})

	_, err := f.service().Cancel(context.Background(), job.ID, f.otherID)
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, f.dispatcher.revoked)
}

func TestCancel_RevokeFailureStillCancels(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})
	f.dispatcher.revokeErr = errors.New("redis down")

	cancelled, err := f.service().Cancel(context.Background(), job.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	assert.Equal(t, []int64{job.ID}, f.dispatcher.revoked)

	// Without the marker a worker still cannot start it.
	_, err = f.store.ClaimJob(context.Background(), job.ID, false)
	assert.ErrorIs(t, err, store.ErrNotClaimable)
}

func TestCancel_StatusWrittenBeforeRevoke(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})

	var seen models.JobStatus
	f.dispatcher.onRevoke = func(id int64) {
		got, err := f.store.GetJob(context.Background(), id)
		require.NoError(t, err)
		seen = got.Status
	}

	_, err := f.service().Cancel(context.Background(), job.ID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, seen)
}

func TestDelete_RevokesUnfinishedJob(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})
	f.dispatcher.revokeErr = errors.New("redis down")

	require.NoError(t, f.service().Delete(context.Background(), job.ID, f.userID))
	assert.Equal(t, []int64{job.ID}, f.dispatcher.revoked)

	_, err := f.store.GetJob(context.Background(), job.ID)
	assert.Error(t, err)
}

func TestDelete_FinishedJobIsNotRevoked(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})
	f.store.SetJobStatus(job.ID, models.JobStatusCompleted)

	require.NoError(t, f.service().Delete(context.Background(), job.ID, f.userID))
	assert.Empty(t, f.dispatcher.revoked)
}

func TestDelete_NonOwnerGetsNotFound(t *testing.T) {
	f := newFixture(t)
	job := f.submit(t, models.StructurePredictionParams{SequenceID: 1})

	err := f.service().Delete(context.Background(), job.ID, f.otherID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.store.GetJob(context.Background(), job.ID)
	assert.NoError(t, err)
}
