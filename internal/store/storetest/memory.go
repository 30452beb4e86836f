// Package storetest provides an in-memory store.Store for tests of packages
// built on top of the store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/pkg/models"
)

// Memory implements store.Store with the same transition rules as the
// Postgres store. The exported error fields make the matching call fail.
type Memory struct {
	mu sync.Mutex

	users      map[string]*models.User
	apiKeys    []*models.APIKey
	sequences  map[int64]*models.Sequence
	structures map[int64]*models.SequenceStructure
	jobs       map[int64]*models.Job
	nextID     int64

	PingErr      error
	CreateJobErr error
	DeleteJobErr error
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]*models.User),
		sequences:  make(map[int64]*models.Sequence),
		structures: make(map[int64]*models.SequenceStructure),
		jobs:       make(map[int64]*models.Job),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) Ping(context.Context) error { return m.PingErr }

func (m *Memory) EnsureUser(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		cp := *u
		return &cp, nil
	}
	u := &models.User{ID: m.id(), Email: email, CreatedAt: time.Now().UTC()}
	m.users[email] = u
	cp := *u
	return &cp, nil
}

func (m *Memory) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ID == id {
			now := time.Now().UTC()
			k.LastUsedAt = &now
		}
	}
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ID == key.ID || k.KeyHash == key.KeyHash {
			return store.ErrDuplicateKey
		}
	}
	cp := *key
	m.apiKeys = append(m.apiKeys, &cp)
	return nil
}

func (m *Memory) CreateSequence(_ context.Context, seq *models.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sequences {
		if s.Name == seq.Name {
			return store.ErrDuplicateKey
		}
	}
	if (seq.SequenceData == nil) == (seq.FilePath == nil) {
		return fmt.Errorf("create sequence: exactly one of sequence_data and file_path must be set")
	}
	now := time.Now().UTC()
	seq.ID = m.id()
	seq.CreatedAt, seq.UpdatedAt = now, now
	cp := *seq
	m.sequences[seq.ID] = &cp
	return nil
}

func (m *Memory) GetSequence(_ context.Context, id int64) (*models.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sequences[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSequences(_ context.Context, filter store.SequenceFilter) ([]*models.Sequence, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Sequence
	for _, s := range m.sequences {
		if s.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && s.SequenceType != filter.Type {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter.Name)) {
			continue
		}
		cp := *s
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].ID > matched[b].ID })
	return page(matched, filter.Skip, filter.Limit)
}

func (m *Memory) UpdateSequence(_ context.Context, seq *models.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sequences[seq.ID]; !ok {
		return store.ErrNotFound
	}
	for _, s := range m.sequences {
		if s.ID != seq.ID && s.Name == seq.Name {
			return store.ErrDuplicateKey
		}
	}
	if (seq.SequenceData == nil) == (seq.FilePath == nil) {
		return fmt.Errorf("update sequence: exactly one of sequence_data and file_path must be set")
	}
	seq.UpdatedAt = time.Now().UTC()
	cp := *seq
	m.sequences[seq.ID] = &cp
	return nil
}

func (m *Memory) DeleteSequence(_ context.Context, id int64) (*store.DeletedSequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sequences[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := &store.DeletedSequence{}
	if s.FilePath != nil {
		out.FilePath = *s.FilePath
	}
	if st, ok := m.structures[id]; ok {
		out.StructureFilePath = st.FilePath
	}
	delete(m.sequences, id)
	delete(m.structures, id)
	return out, nil
}

func (m *Memory) GetSequenceStructure(_ context.Context, sequenceID int64) (*models.SequenceStructure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.structures[sequenceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *Memory) UpsertSequenceStructure(_ context.Context, st *models.SequenceStructure) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sequences[st.SequenceID]; !ok {
		return "", fmt.Errorf("upsert sequence structure: sequence %d does not exist", st.SequenceID)
	}

	now := time.Now().UTC()
	var prev string
	if old, ok := m.structures[st.SequenceID]; ok {
		st.ID = old.ID
		st.CreatedAt = old.CreatedAt
		if old.FilePath != st.FilePath {
			prev = old.FilePath
		}
	} else {
		st.ID = m.id()
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	cp := *st
	m.structures[st.SequenceID] = &cp
	return prev, nil
}

// StructureCount returns the number of stored structures.
func (m *Memory) StructureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.structures)
}

func (m *Memory) CreateJob(_ context.Context, job *models.Job) error {
	if m.CreateJobErr != nil {
		return m.CreateJobErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	job.ID = m.id()
	job.Status = models.JobStatusPending
	job.CreatedAt, job.UpdatedAt = now, now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, id int64) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Job
	for _, j := range m.jobs {
		if j.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		cp := *j
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].ID > matched[b].ID })
	return page(matched, filter.Skip, filter.Limit)
}

func (m *Memory) ClaimJob(_ context.Context, id int64, reclaim bool) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !models.CanTransition(j.Status, models.JobStatusRunning) && !(reclaim && j.Status == models.JobStatusRunning) {
		return nil, fmt.Errorf("%w: job %d is %s", store.ErrNotClaimable, id, j.Status)
	}
	j.Status = models.JobStatusRunning
	j.UpdatedAt = time.Now().UTC()
	cp := *j
	return &cp, nil
}

func (m *Memory) FinishJob(_ context.Context, id int64, status models.JobStatus, opts ...store.JobUpdateOption) error {
	if !models.CanTransition(models.JobStatusRunning, status) || status == models.JobStatusCancelled {
		return fmt.Errorf("%w: RUNNING -> %s", store.ErrInvalidTransition, status)
	}
	upd := store.NewJobUpdate(opts...)
	switch {
	case status == models.JobStatusCompleted && upd.Result != nil:
	case status == models.JobStatusFailed && upd.ErrorMessage != nil:
		if len(*upd.ErrorMessage) > models.ErrorMessageMaxLen {
			return fmt.Errorf("finish job: error_message longer than %d", models.ErrorMessageMaxLen)
		}
	default:
		return fmt.Errorf("%w: RUNNING -> %s", store.ErrInvalidTransition, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !models.CanTransition(j.Status, status) {
		return fmt.Errorf("%w: job %d is %s", store.ErrStaleTransition, id, j.Status)
	}
	now := time.Now().UTC()
	j.Status = status
	j.Result = upd.Result
	j.ErrorMessage = upd.ErrorMessage
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *Memory) CancelJob(_ context.Context, id int64) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !models.CanTransition(j.Status, models.JobStatusCancelled) {
		return nil, &store.TransitionError{From: j.Status, To: models.JobStatusCancelled}
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (m *Memory) DeleteJob(_ context.Context, id int64) error {
	if m.DeleteJobErr != nil {
		return m.DeleteJobErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

// SetJobStatus forces a job into status, bypassing the transition rules.
func (m *Memory) SetJobStatus(id int64, status models.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = status
	}
}

// page applies the Postgres store's skip and limit rules.
func page[T any](items []T, skip, limit int) ([]T, int, error) {
	total := len(items)
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	skip = max(skip, 0)
	if skip >= total {
		return []T{}, total, nil
	}
	end := min(skip+limit, total)
	return items[skip:end], total, nil
}

var _ store.Store = (*Memory)(nil)
