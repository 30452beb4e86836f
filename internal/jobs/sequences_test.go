package jobs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/jakub-figat/chromatin/internal/apperr"
	"github.com/jakub-figat/chromatin/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSequence_NormalizesResidues(t *testing.T) {
	f := newFixture(t)

	seq := f.addSequence(t, "lower", models.SequenceTypeDNA, " atgc\nAT gc\t")

	require.NotNil(t, seq.SequenceData)
	assert.Equal(t, "ATGCATGC", *seq.SequenceData)
	assert.Equal(t, 8, seq.Length)
	assert.Nil(t, seq.FilePath)
	assert.Equal(t, f.userID, seq.UserID)
}

func TestCreateSequence_LargeSequenceGoesToBlobStorage(t *testing.T) {
	f := newFixture(t)
	residues := strings.Repeat("ACGU", 20)

	seq := f.addSequence(t, "big", models.SequenceTypeRNA, residues)

	assert.Nil(t, seq.SequenceData)
	require.NotNil(t, seq.FilePath)
	assert.True(t, strings.HasSuffix(*seq.FilePath, "big.txt"))
	assert.Equal(t, 80, seq.Length)

	resolved, err := f.sequences.Resolve(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, residues, resolved.Residues)
	assert.Equal(t, models.SequenceTypeRNA, resolved.Type)
	assert.Equal(t, "big", resolved.Name)
}

func TestCreateSequence_Validation(t *testing.T) {
	tests := []struct {
		name    string
		in      SequenceInput
		message string
	}{
		{
			name:    "invalid residues are listed sorted",
			in:      SequenceInput{Name: "bad", SequenceType: models.SequenceTypeDNA, SequenceData: "ATGZXU"},
			message: "Sequence 'bad' contains invalid characters for DNA: U, X, Z",
		},
		{
			name:    "protein alphabet",
			in:      SequenceInput{Name: "prot", SequenceType: models.SequenceTypeProtein, SequenceData: "MKT*"},
			message: "Sequence 'prot' contains invalid characters for PROTEIN: *",
		},
		{
			name:    "whitespace only",
			in:      SequenceInput{Name: "blank", SequenceType: models.SequenceTypeDNA, SequenceData: " \n\t"},
			message: "Sequence 'blank' is empty",
		},
		{
			name:    "missing name",
			in:      SequenceInput{SequenceType: models.SequenceTypeDNA, SequenceData: "ATGC"},
			message: "field 'name' is required",
		},
		{
			name:    "unknown type",
			in:      SequenceInput{Name: "x", SequenceType: "XNA", SequenceData: "ATGC"},
			message: "field 'sequence_type' must be one of [DNA RNA PROTEIN]",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.sequences.Create(context.Background(), f.userID, tc.in)
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestCreateSequence_DuplicateName(t *testing.T) {
	f := newFixture(t)
	f.addSequence(t, "dup", models.SequenceTypeDNA, "ATGC")

	_, err := f.sequences.Create(context.Background(), f.userID, SequenceInput{
		Name: "dup", SequenceType: models.SequenceTypeDNA, SequenceData: "GGCC",
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.EqualError(t, err, "Sequence with name 'dup' already exists")

	// Names are unique across users.
	_, err = f.sequences.Create(context.Background(), f.otherID, SequenceInput{
		Name: "dup", SequenceType: models.SequenceTypeDNA, SequenceData: "GGCC",
	})
	assert.True(t, apperr.IsValidation(err))
}

func TestSequenceAccessPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	private := f.addSequence(t, "private", models.SequenceTypeDNA, "ATGC")
	public, err := f.sequences.Create(ctx, f.userID, SequenceInput{
		Name: "public", SequenceType: models.SequenceTypeDNA, SequenceData: "ATGC", IsPublic: true,
	})
	require.NoError(t, err)

	t.Run("owner reads private", func(t *testing.T) {
		got, err := f.sequences.Get(ctx, private.ID, f.userID)
		require.NoError(t, err)
		assert.Equal(t, private.ID, got.ID)
	})

	t.Run("other user cannot see private", func(t *testing.T) {
		_, err := f.sequences.Get(ctx, private.ID, f.otherID)
		assert.True(t, apperr.IsNotFound(err))

		err = f.sequences.Delete(ctx, private.ID, f.otherID)
		assert.True(t, apperr.IsNotFound(err))
	})

	t.Run("other user reads public", func(t *testing.T) {
		got, err := f.sequences.Get(ctx, public.ID, f.otherID)
		require.NoError(t, err)
		assert.Equal(t, public.ID, got.ID)
	})

	t.Run("other user cannot delete public", func(t *testing.T) {
		err := f.sequences.Delete(ctx, public.ID, f.otherID)
		assert.True(t, apperr.IsPermissionDenied(err))
		assert.EqualError(t, err, "Permission denied: cannot delete sequence")

		_, err = f.store.GetSequence(ctx, public.ID)
		assert.NoError(t, err)
	})

	t.Run("missing sequence", func(t *testing.T) {
		_, err := f.sequences.Get(ctx, 9999, f.userID)
		assert.True(t, apperr.IsNotFound(err))
		assert.EqualError(t, err, "Sequence with id 9999 not found")
	})
}

func TestDeleteSequence_RemovesBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.addSequence(t, "protein", models.SequenceTypeProtein, strings.Repeat("MKTAYIAKQR", 6))
	require.NotNil(t, seq.FilePath)
	dataPath := *seq.FilePath

	_, err := f.structureHandler(400).Run(ctx, models.StructurePredictionParams{SequenceID: seq.ID})
	require.NoError(t, err)
	structure, err := f.store.GetSequenceStructure(ctx, seq.ID)
	require.NoError(t, err)

	require.NoError(t, f.sequences.Delete(ctx, seq.ID, f.userID))

	for _, path := range []string{dataPath, structure.FilePath} {
		exists, err := f.blobs.Exists(ctx, path)
		require.NoError(t, err)
		assert.False(t, exists, path)
	}
	assert.Zero(t, f.store.StructureCount())

	_, err = f.sequences.Get(ctx, seq.ID, f.userID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestStructureAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.addSequence(t, "protein", models.SequenceTypeProtein, "MKTAYIAKQR")

	_, err := f.sequences.Structure(ctx, seq.ID, f.userID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.structureHandler(400).Run(ctx, models.StructurePredictionParams{SequenceID: seq.ID})
	require.NoError(t, err)

	rc, st, err := f.sequences.OpenStructure(ctx, seq.ID, f.userID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pdbWithScores(80, 70, 90), string(body))
	assert.Equal(t, seq.ID, st.SequenceID)

	_, _, err = f.sequences.OpenStructure(ctx, seq.ID, f.otherID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestNormalizeResidues(t *testing.T) {
	got, err := normalizeResidues("n", "acg un", models.SequenceTypeRNA)
	require.NoError(t, err)
	assert.Equal(t, "ACGUN", got)

	_, err = normalizeResidues("n", "ACGT", models.SequenceTypeRNA)
	assert.EqualError(t, err, "Sequence 'n' contains invalid characters for RNA: T")
}

func strPtr(s string) *string { return &s }

func TestUpdateSequence_Metadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.addSequence(t, "before", models.SequenceTypeDNA, "ATGC")
	public := true

	got, err := f.sequences.Update(ctx, seq.ID, f.userID, SequenceUpdate{
		Name:        strPtr("after"),
		Description: strPtr("renamed"),
		IsPublic:    &public,
	})
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.True(t, got.IsPublic)
	require.NotNil(t, got.Description)
	assert.Equal(t, "renamed", *got.Description)
	assert.Equal(t, "ATGC", *got.SequenceData)

	stored, err := f.store.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", stored.Name)
	assert.Equal(t, 4, stored.Length)
}

func TestUpdateSequence_MovesResiduesAcrossThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.addSequence(t, "grow", models.SequenceTypeDNA, "ATGC")

	long := strings.Repeat("ACGT", 20)
	grown, err := f.sequences.Update(ctx, seq.ID, f.userID, SequenceUpdate{SequenceData: strPtr(strings.ToLower(long))})
	require.NoError(t, err)
	assert.Nil(t, grown.SequenceData)
	require.NotNil(t, grown.FilePath)
	assert.Equal(t, 80, grown.Length)
	blobPath := *grown.FilePath

	resolved, err := f.sequences.Resolve(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, long, resolved.Residues)

	shrunk, err := f.sequences.Update(ctx, seq.ID, f.userID, SequenceUpdate{SequenceData: strPtr("GATTACA")})
	require.NoError(t, err)
	assert.Nil(t, shrunk.FilePath)
	require.NotNil(t, shrunk.SequenceData)
	assert.Equal(t, "GATTACA", *shrunk.SequenceData)

	exists, err := f.blobs.Exists(ctx, blobPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateSequence_TypeChangeRevalidatesResidues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.addSequence(t, "dna", models.SequenceTypeDNA, "ATGC")

	rna := models.SequenceTypeRNA
	_, err := f.sequences.Update(ctx, seq.ID, f.userID, SequenceUpdate{SequenceType: &rna})
	require.Error(t, err)
	assert.EqualError(t, err, "Sequence 'dna' contains invalid characters for RNA: T")

	protein := models.SequenceTypeProtein
	got, err := f.sequences.Update(ctx, seq.ID, f.userID, SequenceUpdate{SequenceType: &protein})
	require.NoError(t, err)
	assert.Equal(t, models.SequenceTypeProtein, got.SequenceType)

	stored, err := f.store.GetSequence(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceTypeProtein, stored.SequenceType)
}

func TestUpdateSequence_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	private := f.addSequence(t, "private", models.SequenceTypeDNA, "ATGC")
	public, err := f.sequences.Create(ctx, f.userID, SequenceInput{
		Name: "public", SequenceType: models.SequenceTypeDNA, SequenceData: "ATGC", IsPublic: true,
	})
	require.NoError(t, err)

	_, err = f.sequences.Update(ctx, private.ID, f.otherID, SequenceUpdate{Name: strPtr("x")})
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.sequences.Update(ctx, public.ID, f.otherID, SequenceUpdate{Name: strPtr("x")})
	assert.True(t, apperr.IsPermissionDenied(err))
	assert.EqualError(t, err, "Permission denied: cannot update sequence")

	_, err = f.sequences.Update(ctx, private.ID, f.userID, SequenceUpdate{Name: strPtr("public")})
	assert.EqualError(t, err, "Sequence with name 'public' already exists")

	_, err = f.sequences.Update(ctx, private.ID, f.userID, SequenceUpdate{SequenceData: strPtr("AXG")})
	assert.True(t, apperr.IsValidation(err))

	bogus := models.SequenceType("XNA")
	_, err = f.sequences.Update(ctx, private.ID, f.userID, SequenceUpdate{SequenceType: &bogus})
	assert.True(t, apperr.IsValidation(err))

	stored, err := f.store.GetSequence(ctx, private.ID)
	require.NoError(t, err)
	assert.Equal(t, "private", stored.Name)
	assert.Equal(t, "ATGC", *stored.SequenceData)
}

func TestUpdateSequence_EditedResiduesMissStructureCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.addSequence(t, "p", models.SequenceTypeProtein, protein)
	proc := f.processor(defaultLimits())

	first := f.submit(t, models.StructurePredictionParams{SequenceID: seq.ID})
	require.NoError(t, proc.Process(ctx, Task{JobID: first.ID}))
	cached := f.submit(t, models.StructurePredictionParams{SequenceID: seq.ID})
	require.NoError(t, proc.Process(ctx, Task{JobID: cached.ID}))
	assert.Equal(t, int32(1), f.predictor.calls.Load())

	_, err := f.sequences.Update(ctx, seq.ID, f.userID, SequenceUpdate{SequenceData: strPtr("MKTAYIAKQW")})
	require.NoError(t, err)

	edited := f.submit(t, models.StructurePredictionParams{SequenceID: seq.ID})
	require.NoError(t, proc.Process(ctx, Task{JobID: edited.ID}))
	assert.Equal(t, int32(2), f.predictor.calls.Load())

	job := f.job(t, edited.ID)
	require.Equal(t, models.JobStatusCompleted, job.Status)
	res, err := models.DecodeResult(job.Result)
	require.NoError(t, err)
	structure, ok := res.(models.StructurePredictionResult)
	require.True(t, ok)
	assert.False(t, structure.CachedResult)

	st, err := f.store.GetSequenceStructure(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, SequenceHash("MKTAYIAKQW"), st.SequenceHash)
}

func TestListSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSequence(t, "Insulin", models.SequenceTypeProtein, "MALWM")
	f.addSequence(t, "lacZ", models.SequenceTypeDNA, "ATGC")
	f.addSequence(t, "insulin-mrna", models.SequenceTypeRNA, "AUGC")
	_, err := f.sequences.Create(ctx, f.otherID, SequenceInput{
		Name: "foreign", SequenceType: models.SequenceTypeDNA, SequenceData: "ATGC", IsPublic: true,
	})
	require.NoError(t, err)

	all, total, err := f.sequences.List(ctx, f.userID, SequenceListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "insulin-mrna", all[0].Name)
	for _, seq := range all {
		assert.Nil(t, seq.SequenceData)
		assert.Equal(t, f.userID, seq.UserID)
	}

	named, total, err := f.sequences.List(ctx, f.userID, SequenceListOptions{Name: "INSULIN"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, named, 2)

	dna, _, err := f.sequences.List(ctx, f.userID, SequenceListOptions{Type: models.SequenceTypeDNA})
	require.NoError(t, err)
	require.Len(t, dna, 1)
	assert.Equal(t, "lacZ", dna[0].Name)

	page, total, err := f.sequences.List(ctx, f.userID, SequenceListOptions{Skip: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "lacZ", page[0].Name)

	_, _, err = f.sequences.List(ctx, f.userID, SequenceListOptions{Type: "XNA"})
	assert.True(t, apperr.IsValidation(err))
	_, _, err = f.sequences.List(ctx, f.userID, SequenceListOptions{Skip: -1})
	assert.True(t, apperr.IsValidation(err))

	// Listing does not strip residues from the stored rows.
	stored, err := f.store.GetSequence(ctx, all[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.SequenceData)
}
