package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jakub-figat/chromatin/internal/blob"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/internal/store/storetest"
	"github.com/jakub-figat/chromatin/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockDispatcher struct {
	mu          sync.Mutex
	dispatched  []int64
	revoked     []int64
	dispatchErr error
	revokeErr   error
	// onRevoke runs after a revocation is recorded, standing in for the
	// worker that receives the terminate notification.
	onRevoke func(jobID int64)
}

func (d *mockDispatcher) Dispatch(_ context.Context, jobID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dispatchErr != nil {
		return d.dispatchErr
	}
	d.dispatched = append(d.dispatched, jobID)
	return nil
}

func (d *mockDispatcher) Revoke(_ context.Context, jobID int64, _ bool) error {
	d.mu.Lock()
	d.revoked = append(d.revoked, jobID)
	err, onRevoke := d.revokeErr, d.onRevoke
	d.mu.Unlock()
	if onRevoke != nil {
		onRevoke(jobID)
	}
	return err
}

type mockStatusCache struct {
	mu       sync.Mutex
	statuses map[int64]string
}

func (c *mockStatusCache) SetJobStatus(_ context.Context, jobID int64, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statuses == nil {
		c.statuses = map[int64]string{}
	}
	c.statuses[jobID] = status
	return nil
}

func (c *mockStatusCache) get(jobID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[jobID]
}

type mockRevoked struct {
	ids map[int64]bool
	err error
}

func (r *mockRevoked) IsRevoked(_ context.Context, jobID int64) (bool, error) {
	return r.ids[jobID], r.err
}

// mockPredictor returns pdb, or err, or whatever fn returns when set.
type mockPredictor struct {
	calls atomic.Int32
	pdb   string
	err   error
	fn    func(ctx context.Context, residues string) (string, error)
}

func (p *mockPredictor) Predict(ctx context.Context, residues string) (string, error) {
	p.calls.Add(1)
	if p.fn != nil {
		return p.fn(ctx, residues)
	}
	return p.pdb, p.err
}

// failingBlobs wraps a Storage and fails Delete.
type failingBlobs struct {
	blob.Storage
}

func (failingBlobs) Delete(context.Context, string) error {
	return errors.New("disk on fire")
}

// --- fixture ---

type fixture struct {
	store      *storetest.Memory
	blobs      blob.Storage
	sequences  *SequenceService
	predictor  *mockPredictor
	dispatcher *mockDispatcher
	status     *mockStatusCache
	revoked    *mockRevoked
	userID     int64
	otherID    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := blob.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	st := storetest.NewMemory()
	owner, err := st.EnsureUser(context.Background(), "owner@example.com")
	require.NoError(t, err)
	other, err := st.EnsureUser(context.Background(), "other@example.com")
	require.NoError(t, err)

	return &fixture{
		store:      st,
		blobs:      local,
		sequences:  NewSequenceService(st, local, 50),
		predictor:  &mockPredictor{pdb: pdbWithScores(80, 70, 90)},
		dispatcher: &mockDispatcher{},
		status:     &mockStatusCache{},
		revoked:    &mockRevoked{ids: map[int64]bool{}},
		userID:     owner.ID,
		otherID:    other.ID,
	}
}

func (f *fixture) service() *Service {
	return NewService(f.store, f.dispatcher, f.status, time.Minute)
}

func (f *fixture) structureHandler(maxResidues int) *StructureHandler {
	return NewStructureHandler(f.sequences, f.store, f.blobs, f.predictor, maxResidues)
}

func (f *fixture) processor(limits Limits) *Processor {
	return NewProcessor(f.store, f.revoked, f.status,
		NewAlignmentHandler(f.sequences, 1_000_000),
		f.structureHandler(400),
		limits)
}

func (f *fixture) addSequence(t *testing.T, name string, typ models.SequenceType, residues string) *models.Sequence {
	t.Helper()
	seq, err := f.sequences.Create(context.Background(), f.userID, SequenceInput{
		Name: name, SequenceType: typ, SequenceData: residues,
	})
	require.NoError(t, err)
	return seq
}

func (f *fixture) submit(t *testing.T, params models.JobParams) *models.Job {
	t.Helper()
	job, err := f.service().Submit(context.Background(), f.userID, params)
	require.NoError(t, err)
	return job
}

func defaultLimits() Limits {
	return Limits{Soft: time.Minute, Hard: 2 * time.Minute, StatusTTL: time.Minute}
}

// pdbWithScores builds a minimal PDB payload with two atoms per residue, each
// carrying the residue's confidence in the B-factor column.
func pdbWithScores(scores ...float64) string {
	var b strings.Builder
	serial := 1
	for i, s := range scores {
		for _, atom := range []string{"N", "CA"} {
			fmt.Fprintf(&b, "ATOM  %5d  %-3s %3s %s%4d    %8.3f%8.3f%8.3f%6.2f%6.2f           %s\n",
				serial, atom, "ALA", "A", i+1, 1.0, 2.0, 3.0, 1.0, s, atom[:1])
			serial++
		}
	}
	b.WriteString("END\n")
	return b.String()
}

func listAll(userID int64) store.JobFilter {
	return store.JobFilter{UserID: userID}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
