package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/jakub-figat/chromatin/internal/apperr"
	"github.com/jakub-figat/chromatin/internal/blob"
	"github.com/jakub-figat/chromatin/internal/store"
	"github.com/jakub-figat/chromatin/pkg/models"
)

// SequenceInput is the body of a sequence creation request.
type SequenceInput struct {
	Name         string              `json:"name"          validate:"required,max=255"`
	Description  *string             `json:"description"   validate:"omitempty,max=255"`
	SequenceType models.SequenceType `json:"sequence_type" validate:"required,oneof=DNA RNA PROTEIN"`
	IsPublic     bool                `json:"is_public"`
	SequenceData string              `json:"sequence_data" validate:"required"`
}

// SequenceUpdate is the body of a sequence update request. Omitted fields
// keep their current value; changing the type revalidates the stored
// residues against the new alphabet.
type SequenceUpdate struct {
	Name         *string              `json:"name"          validate:"omitempty,min=1,max=255"`
	Description  *string              `json:"description"   validate:"omitempty,max=255"`
	SequenceType *models.SequenceType `json:"sequence_type" validate:"omitempty,oneof=DNA RNA PROTEIN"`
	IsPublic     *bool                `json:"is_public"`
	SequenceData *string              `json:"sequence_data" validate:"omitempty,min=1"`
}

// SequenceListOptions filters a sequence listing.
type SequenceListOptions struct {
	Type  models.SequenceType
	Name  string
	Skip  int
	Limit int
}

// ResolvedSequence is a sequence with its residues loaded, whichever storage
// location they live in.
type ResolvedSequence struct {
	ID       int64
	Name     string
	Type     models.SequenceType
	Length   int
	Residues string
}

// SequenceResolver loads sequences for handlers. It performs no access
// checks; workers act on behalf of the job owner.
type SequenceResolver interface {
	Resolve(ctx context.Context, id int64) (*ResolvedSequence, error)
}

// SequenceService manages stored sequences and their predicted structures.
//
// Access: the owner can do anything, public sequences are readable by every
// user, and private sequences of other users do not exist as far as the
// caller can tell.
type SequenceService struct {
	store     store.Store
	blobs     blob.Storage
	threshold int
}

// NewSequenceService returns a service that keeps sequences longer than
// threshold residues in blob storage.
func NewSequenceService(st store.Store, blobs blob.Storage, threshold int) *SequenceService {
	return &SequenceService{store: st, blobs: blobs, threshold: threshold}
}

// Create validates and stores a sequence owned by userID.
func (s *SequenceService) Create(ctx context.Context, userID int64, in SequenceInput) (*models.Sequence, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	residues, err := normalizeResidues(in.Name, in.SequenceData, in.SequenceType)
	if err != nil {
		return nil, err
	}

	seq := &models.Sequence{
		UserID:       userID,
		Name:         in.Name,
		Description:  in.Description,
		SequenceType: in.SequenceType,
		IsPublic:     in.IsPublic,
		Length:       len(residues),
	}

	if len(residues) > s.threshold {
		path, err := s.blobs.Save(ctx, []byte(residues), in.Name+".txt")
		if err != nil {
			return nil, fmt.Errorf("storing sequence data: %w", err)
		}
		seq.FilePath = &path
	} else {
		seq.SequenceData = &residues
	}

	if err := s.store.CreateSequence(ctx, seq); err != nil {
		if seq.FilePath != nil {
			s.deleteBlob(ctx, *seq.FilePath)
		}
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperr.Validation("Sequence with name '%s' already exists", in.Name)
		}
		return nil, err
	}

	slog.Info("sequence created", "sequence_id", seq.ID, "length", seq.Length, "in_blob", seq.FilePath != nil)
	return seq, nil
}

// Get returns the sequence if userID may read it.
func (s *SequenceService) Get(ctx context.Context, id, userID int64) (*models.Sequence, error) {
	seq, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if seq.UserID != userID && !seq.IsPublic {
		return nil, apperr.NotFound("Sequence", id)
	}
	return seq, nil
}

// List returns one page of the user's own sequences, newest first, and the
// total count. Residues are left out.
func (s *SequenceService) List(ctx context.Context, userID int64, opts SequenceListOptions) ([]*models.Sequence, int, error) {
	if opts.Type != "" && opts.Type.Alphabet() == "" {
		return nil, 0, apperr.Validation("unknown sequence type %q", opts.Type)
	}
	if opts.Skip < 0 {
		return nil, 0, apperr.Validation("skip must not be negative")
	}

	seqs, total, err := s.store.ListSequences(ctx, store.SequenceFilter{
		UserID: userID,
		Type:   opts.Type,
		Name:   opts.Name,
		Skip:   opts.Skip,
		Limit:  opts.Limit,
	})
	if err != nil {
		return nil, 0, err
	}
	for _, seq := range seqs {
		seq.SequenceData = nil
	}
	return seqs, total, nil
}

// Update applies in to a sequence owned by userID. New residues are
// normalized and stored in the database or blob storage depending on their
// length; a blob the sequence no longer uses is removed best effort. A
// predicted structure is kept and goes stale through its residue hash.
func (s *SequenceService) Update(ctx context.Context, id, userID int64, in SequenceUpdate) (*models.Sequence, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	seq, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if seq.UserID != userID {
		return nil, apperr.PermissionDenied("update", "sequence")
	}

	if in.Name != nil {
		seq.Name = *in.Name
	}
	if in.Description != nil {
		seq.Description = in.Description
	}
	if in.IsPublic != nil {
		seq.IsPublic = *in.IsPublic
	}

	oldPath := seq.FilePath
	var newPath string
	if in.SequenceData != nil || in.SequenceType != nil {
		if in.SequenceType != nil {
			seq.SequenceType = *in.SequenceType
		}
		var data string
		if in.SequenceData != nil {
			data = *in.SequenceData
		} else {
			data, err = s.residues(ctx, seq)
			if err != nil {
				return nil, err
			}
		}

		residues, err := normalizeResidues(seq.Name, data, seq.SequenceType)
		if err != nil {
			return nil, err
		}
		seq.Length = len(residues)
		if len(residues) > s.threshold {
			newPath, err = s.blobs.Save(ctx, []byte(residues), seq.Name+".txt")
			if err != nil {
				return nil, fmt.Errorf("storing sequence data: %w", err)
			}
			seq.FilePath, seq.SequenceData = &newPath, nil
		} else {
			seq.FilePath, seq.SequenceData = nil, &residues
		}
	}

	if err := s.store.UpdateSequence(ctx, seq); err != nil {
		if newPath != "" {
			s.deleteBlob(ctx, newPath)
		}
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperr.Validation("Sequence with name '%s' already exists", seq.Name)
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Sequence", id)
		}
		return nil, err
	}

	if oldPath != nil && (seq.FilePath == nil || *seq.FilePath != *oldPath) {
		s.deleteBlob(ctx, *oldPath)
	}

	slog.Info("sequence updated", "sequence_id", seq.ID, "length", seq.Length, "in_blob", seq.FilePath != nil)
	return seq, nil
}

// Delete removes a sequence owned by userID together with its structure. The
// blobs are removed best effort after the rows are gone.
func (s *SequenceService) Delete(ctx context.Context, id, userID int64) error {
	seq, err := s.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	if seq.UserID != userID {
		return apperr.PermissionDenied("delete", "sequence")
	}

	deleted, err := s.store.DeleteSequence(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Sequence", id)
	}
	if err != nil {
		return err
	}

	s.deleteBlob(ctx, deleted.FilePath)
	s.deleteBlob(ctx, deleted.StructureFilePath)
	return nil
}

// Structure returns the predicted structure of a readable sequence.
func (s *SequenceService) Structure(ctx context.Context, sequenceID, userID int64) (*models.SequenceStructure, error) {
	if _, err := s.Get(ctx, sequenceID, userID); err != nil {
		return nil, err
	}

	st, err := s.store.GetSequenceStructure(ctx, sequenceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("SequenceStructure", sequenceID)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// OpenStructure streams the PDB payload of a readable sequence's structure.
// The caller closes the reader.
func (s *SequenceService) OpenStructure(ctx context.Context, sequenceID, userID int64) (io.ReadCloser, *models.SequenceStructure, error) {
	st, err := s.Structure(ctx, sequenceID, userID)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Open(ctx, st.FilePath)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil, apperr.NotFound("SequenceStructure file", sequenceID)
	}
	if err != nil {
		return nil, nil, err
	}
	return rc, st, nil
}

// Resolve implements SequenceResolver.
func (s *SequenceService) Resolve(ctx context.Context, id int64) (*ResolvedSequence, error) {
	seq, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	residues, err := s.residues(ctx, seq)
	if err != nil {
		return nil, err
	}

	return &ResolvedSequence{
		ID:       seq.ID,
		Name:     seq.Name,
		Type:     seq.SequenceType,
		Length:   seq.Length,
		Residues: residues,
	}, nil
}

// residues returns the residues of seq from whichever location holds them.
func (s *SequenceService) residues(ctx context.Context, seq *models.Sequence) (string, error) {
	switch {
	case seq.SequenceData != nil:
		return *seq.SequenceData, nil
	case seq.FilePath != nil:
		data, err := s.blobs.Read(ctx, *seq.FilePath)
		if err != nil {
			return "", fmt.Errorf("reading sequence %d data: %w", seq.ID, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("sequence %d has no data in database or blob storage", seq.ID)
}

func (s *SequenceService) load(ctx context.Context, id int64) (*models.Sequence, error) {
	seq, err := s.store.GetSequence(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Sequence", id)
	}
	if err != nil {
		return nil, err
	}
	return seq, nil
}

func (s *SequenceService) deleteBlob(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := s.blobs.Delete(context.WithoutCancel(ctx), path); err != nil && !errors.Is(err, blob.ErrNotFound) {
		slog.Warn("failed to delete blob", "path", path, "error", err)
	}
}

// normalizeResidues drops whitespace, upper-cases the residues and checks
// them against the alphabet of typ.
func normalizeResidues(name, data string, typ models.SequenceType) (string, error) {
	residues := strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, data))
	if residues == "" {
		return "", apperr.Validation("Sequence '%s' is empty", name)
	}

	alphabet := typ.Alphabet()
	invalid := map[rune]struct{}{}
	for _, r := range residues {
		if !strings.ContainsRune(alphabet, r) {
			invalid[r] = struct{}{}
		}
	}
	if len(invalid) > 0 {
		chars := make([]string, 0, len(invalid))
		for r := range invalid {
			chars = append(chars, string(r))
		}
		sort.Strings(chars)
		return "", apperr.Validation("Sequence '%s' contains invalid characters for %s: %s",
			name, typ, strings.Join(chars, ", "))
	}
	return residues, nil
}

var _ SequenceResolver = (*SequenceService)(nil)
