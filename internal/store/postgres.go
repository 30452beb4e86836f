package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jakub-figat/chromatin/pkg/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Users ---

// EnsureUser returns the user with the given email, creating it if needed.
func (s *PostgresStore) EnsureUser(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email) VALUES ($1)
		 ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		 RETURNING id, email, created_at`, email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Sequences ---

const sequenceColumns = `id, user_id, name, description, sequence_type, is_public, length,
	sequence_data, file_path, created_at, updated_at`

func scanSequence(row rowScanner) (*models.Sequence, error) {
	var seq models.Sequence
	err := row.Scan(&seq.ID, &seq.UserID, &seq.Name, &seq.Description, &seq.SequenceType,
		&seq.IsPublic, &seq.Length, &seq.SequenceData, &seq.FilePath, &seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

// CreateSequence inserts seq and fills in its generated ID and timestamps.
func (s *PostgresStore) CreateSequence(ctx context.Context, seq *models.Sequence) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sequences (user_id, name, description, sequence_type, is_public, length, sequence_data, file_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		seq.UserID, seq.Name, seq.Description, seq.SequenceType, seq.IsPublic, seq.Length,
		seq.SequenceData, seq.FilePath,
	).Scan(&seq.ID, &seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create sequence: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSequence(ctx context.Context, id int64) (*models.Sequence, error) {
	seq, err := scanSequence(s.pool.QueryRow(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return seq, nil
}

// ListSequences returns one page of the owner's sequences, newest first, plus
// the total number matching the filter.
func (s *PostgresStore) ListSequences(ctx context.Context, filter SequenceFilter) ([]*models.Sequence, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("sequence_type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Name != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argIdx))
		args = append(args, "%"+escapeLike(filter.Name)+"%")
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sequences WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sequences: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	skip := max(filter.Skip, 0)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM sequences WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		sequenceColumns, where, argIdx, argIdx+1)
	args = append(args, limit, skip)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	seqs := []*models.Sequence{}
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sequence: %w", err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, total, rows.Err()
}

// UpdateSequence overwrites the mutable columns of seq and refreshes its
// UpdatedAt.
func (s *PostgresStore) UpdateSequence(ctx context.Context, seq *models.Sequence) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE sequences
		 SET name = $2, description = $3, sequence_type = $4, is_public = $5, length = $6,
		     sequence_data = $7, file_path = $8, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		seq.ID, seq.Name, seq.Description, seq.SequenceType, seq.IsPublic, seq.Length,
		seq.SequenceData, seq.FilePath,
	).Scan(&seq.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update sequence: %w", err)
	}
	return nil
}

// DeleteSequence removes the sequence row; its structure row goes with it via
// the foreign key cascade. The returned paths are the blobs left behind.
func (s *PostgresStore) DeleteSequence(ctx context.Context, id int64) (*DeletedSequence, error) {
	var seqPath, structPath *string
	err := s.pool.QueryRow(ctx,
		`WITH st AS (SELECT file_path FROM sequence_structures WHERE sequence_id = $1)
		 DELETE FROM sequences WHERE id = $1
		 RETURNING file_path, (SELECT file_path FROM st)`, id,
	).Scan(&seqPath, &structPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete sequence: %w", err)
	}

	out := &DeletedSequence{}
	if seqPath != nil {
		out.FilePath = *seqPath
	}
	if structPath != nil {
		out.StructureFilePath = *structPath
	}
	return out, nil
}

// --- Sequence Structures ---

func (s *PostgresStore) GetSequenceStructure(ctx context.Context, sequenceID int64) (*models.SequenceStructure, error) {
	var st models.SequenceStructure
	var scores []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, sequence_id, file_path, source, sequence_hash, residue_count,
		        mean_confidence, min_confidence, max_confidence, confidence_scores, created_at, updated_at
		 FROM sequence_structures WHERE sequence_id = $1`, sequenceID,
	).Scan(&st.ID, &st.SequenceID, &st.FilePath, &st.Source, &st.SequenceHash, &st.ResidueCount,
		&st.MeanConfidence, &st.MinConfidence, &st.MaxConfidence, &scores, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence structure: %w", err)
	}
	st.ConfidenceScores = scores
	return &st, nil
}

// UpsertSequenceStructure stores st as the single structure of its sequence,
// replacing any existing one. It returns the file path of the replaced row, or
// "" when none existed, so the caller can clean up the old blob.
func (s *PostgresStore) UpsertSequenceStructure(ctx context.Context, st *models.SequenceStructure) (string, error) {
	var prev *string
	err := s.pool.QueryRow(ctx,
		`WITH prev AS (SELECT file_path FROM sequence_structures WHERE sequence_id = $1)
		 INSERT INTO sequence_structures (sequence_id, file_path, source, sequence_hash, residue_count,
		                                  mean_confidence, min_confidence, max_confidence, confidence_scores)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (sequence_id) DO UPDATE SET
		   file_path = EXCLUDED.file_path,
		   source = EXCLUDED.source,
		   sequence_hash = EXCLUDED.sequence_hash,
		   residue_count = EXCLUDED.residue_count,
		   mean_confidence = EXCLUDED.mean_confidence,
		   min_confidence = EXCLUDED.min_confidence,
		   max_confidence = EXCLUDED.max_confidence,
		   confidence_scores = EXCLUDED.confidence_scores,
		   updated_at = NOW()
		 RETURNING id, created_at, updated_at, (SELECT file_path FROM prev)`,
		st.SequenceID, st.FilePath, st.Source, st.SequenceHash, st.ResidueCount,
		st.MeanConfidence, st.MinConfidence, st.MaxConfidence, []byte(st.ConfidenceScores),
	).Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt, &prev)
	if err != nil {
		return "", fmt.Errorf("upsert sequence structure: %w", err)
	}
	if prev == nil || *prev == st.FilePath {
		return "", nil
	}
	return *prev, nil
}

// --- Jobs ---

const jobColumns = `id, user_id, job_type, status, params, result, error_message,
	completed_at, created_at, updated_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var params, result []byte
	err := row.Scan(&j.ID, &j.UserID, &j.JobType, &j.Status, &params, &result, &j.ErrorMessage,
		&j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Params = params
	j.Result = result
	return &j, nil
}

// CreateJob inserts job in PENDING status and fills in its generated ID and
// timestamps.
func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	job.Status = models.JobStatusPending
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (user_id, job_type, status, params)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		job.UserID, job.JobType, job.Status, []byte(job.Params),
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns one page of the owner's jobs, newest first, plus the total
// number of jobs matching the filter.
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	skip := filter.Skip
	if skip < 0 {
		skip = 0
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, skip)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// ClaimJob moves a PENDING job to RUNNING and returns it. With reclaim set, a
// job already in RUNNING is also returned; this covers a task redelivered
// after its worker died mid-execution.
func (s *PostgresStore) ClaimJob(ctx context.Context, id int64, reclaim bool) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'RUNNING', updated_at = NOW()
		 WHERE id = $1 AND (status = 'PENDING' OR ($2 AND status = 'RUNNING'))
		 RETURNING `+jobColumns, id, reclaim))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	status, err := s.jobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: job %d is %s", ErrNotClaimable, id, status)
}

// FinishJob moves a RUNNING job to COMPLETED (with WithResult) or FAILED (with
// WithErrorMessage). If the job is not RUNNING anymore nothing is written and
// ErrStaleTransition is returned.
func (s *PostgresStore) FinishJob(ctx context.Context, id int64, status models.JobStatus, opts ...JobUpdateOption) error {
	// CANCELLED goes through CancelJob, which also accepts PENDING.
	if !models.CanTransition(models.JobStatusRunning, status) || status == models.JobStatusCancelled {
		return fmt.Errorf("%w: RUNNING -> %s", ErrInvalidTransition, status)
	}
	upd := NewJobUpdate(opts...)

	var tag pgconn.CommandTag
	var err error
	switch {
	case status == models.JobStatusCompleted && upd.Result != nil:
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = 'COMPLETED', result = $2, completed_at = NOW(), updated_at = NOW()
			 WHERE id = $1 AND status = 'RUNNING'`, id, []byte(upd.Result))
	case status == models.JobStatusFailed && upd.ErrorMessage != nil:
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = 'FAILED', error_message = $2, completed_at = NOW(), updated_at = NOW()
			 WHERE id = $1 AND status = 'RUNNING'`, id, *upd.ErrorMessage)
	default:
		return fmt.Errorf("%w: RUNNING -> %s", ErrInvalidTransition, status)
	}
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.jobStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %d is %s", ErrStaleTransition, id, current)
}

// CancelJob moves a PENDING or RUNNING job to CANCELLED and returns it. For
// any other status it returns ErrInvalidTransition wrapped with the current
// status.
func (s *PostgresStore) CancelJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'CANCELLED', completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
		 RETURNING `+jobColumns, id))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel job: %w", err)
	}

	status, err := s.jobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &TransitionError{From: status, To: models.JobStatusCancelled}
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) jobStatus(ctx context.Context, id int64) (models.JobStatus, error) {
	var status models.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}

// escapeLike escapes the LIKE wildcards in a user-supplied pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
