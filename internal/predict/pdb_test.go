package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePDB = `HEADER    ESMFOLD PREDICTION
ATOM      1  N   MET A   1      -9.201   2.342  -1.020  1.00 85.31           N
ATOM      2  CA  MET A   1      -8.114   3.301  -0.811  1.00 85.31           C
ATOM      3  C   MET A   1      -6.822   2.634  -0.332  1.00 85.31           C
ATOM      4  N   LYS A   2      -6.761   1.320  -0.432  1.00 72.04           N
ATOM      5  CA  LYS A   2      -5.577   0.588   0.031  1.00 72.04           C
ATOM      6  N   THR A   3      -4.410   1.261   0.733  1.00 90.50           N
TER       7      THR A   3
END
`

func TestConfidenceScores_OnePerResidue(t *testing.T) {
	scores, err := ConfidenceScores(samplePDB)
	require.NoError(t, err)
	assert.Equal(t, []float64{85.31, 72.04, 90.5}, scores)
}

func TestConfidenceScores_InsertionCodeIsSeparateResidue(t *testing.T) {
	pdb := "ATOM      1  CA  GLY A  10      0.000   0.000   0.000  1.00 50.00           C\n" +
		"ATOM      2  CA  GLY A  10A     0.000   0.000   0.000  1.00 60.00           C\n" +
		"HETATM    3  CA  GLY B  10      0.000   0.000   0.000  1.00 70.00           C\n"
	scores, err := ConfidenceScores(pdb)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 60, 70}, scores)
}

func TestConfidenceScores_SkipsUnparseable(t *testing.T) {
	pdb := "ATOM      1  CA  GLY A   1      0.000   0.000   0.000  1.00 abcdef           C\n" +
		"ATOM      2  CA  GLY A   2      0.000   0.000   0.000  1.00 42.00           C\n" +
		"REMARK not an atom\n"
	scores, err := ConfidenceScores(pdb)
	require.NoError(t, err)
	assert.Equal(t, []float64{42}, scores)
}

func TestConfidenceScores_Empty(t *testing.T) {
	_, err := ConfidenceScores("HEADER nothing here\nEND\n")
	assert.ErrorIs(t, err, ErrNoConfidenceScores)

	_, err = ConfidenceScores("")
	assert.ErrorIs(t, err, ErrNoConfidenceScores)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{85.31, 72.04, 90.5})
	assert.InDelta(t, 82.6167, s.Mean, 0.001)
	assert.Equal(t, 72.04, s.Min)
	assert.Equal(t, 90.5, s.Max)

	assert.Equal(t, Summary{}, Summarize(nil))
}
