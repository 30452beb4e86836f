package align

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultScoring = Scoring{Match: 2, Mismatch: -1, GapOpen: -5, GapExtend: -1}

// rescore recomputes the score of an aligned pair so the DP result can be
// checked against its own traceback.
func rescore(s1, s2 string, sc Scoring) float64 {
	total := 0
	inGap1, inGap2 := false, false
	for i := 0; i < len(s1); i++ {
		switch {
		case s1[i] == Gap:
			if inGap1 {
				total += sc.GapExtend
			} else {
				total += sc.GapOpen
			}
			inGap1, inGap2 = true, false
		case s2[i] == Gap:
			if inGap2 {
				total += sc.GapExtend
			} else {
				total += sc.GapOpen
			}
			inGap1, inGap2 = false, true
		default:
			if s1[i] == s2[i] {
				total += sc.Match
			} else {
				total += sc.Mismatch
			}
			inGap1, inGap2 = false, false
		}
	}
	return float64(total)
}

func ungapped(s string) string {
	return strings.ReplaceAll(s, string(Gap), "")
}

// --- Global ---

func TestAlign_GlobalIdentical(t *testing.T) {
	seqs := []string{"A", "ATGC", "ACDEFGHIKLMNPQRSTVWY", strings.Repeat("GATTACA", 20)}
	for _, s := range seqs {
		aln, err := Align(context.Background(), s, s, Global, defaultScoring)
		require.NoError(t, err)

		st := ComputeStats(aln.Seq1, aln.Seq2)
		assert.Equal(t, s, aln.Seq1)
		assert.Equal(t, s, aln.Seq2)
		assert.Equal(t, 100.0, st.IdentityPercent)
		assert.Equal(t, 0, st.Gaps)
		assert.Equal(t, 0, st.Mismatches)
		assert.Equal(t, len(s), st.Matches)
		assert.Equal(t, float64(2*len(s)), aln.Score)
	}
}

func TestAlign_GlobalWithGap(t *testing.T) {
	aln, err := Align(context.Background(), "ATGCATGCATGC", "ATGCATGC", Global, defaultScoring)
	require.NoError(t, err)

	st := ComputeStats(aln.Seq1, aln.Seq2)
	assert.GreaterOrEqual(t, st.Length, 12)
	assert.Greater(t, st.Matches, 0)
	assert.GreaterOrEqual(t, st.IdentityPercent, 0.0)
	assert.LessOrEqual(t, st.IdentityPercent, 100.0)
	assert.Equal(t, "ATGCATGCATGC", ungapped(aln.Seq1))
	assert.Equal(t, "ATGCATGC", ungapped(aln.Seq2))

	// 8 matches and one gap of length 4: 16 - 5 - 3.
	assert.Equal(t, 8.0, aln.Score)
	assert.Equal(t, aln.Score, rescore(aln.Seq1, aln.Seq2, defaultScoring))
}

func TestAlign_GlobalAffinePrefersOneLongGap(t *testing.T) {
	aln, err := Align(context.Background(), "AAAAGGGTTTT", "AAAATTTT", Global, defaultScoring)
	require.NoError(t, err)

	assert.Equal(t, "AAAAGGGTTTT", aln.Seq1)
	assert.Equal(t, "AAAA---TTTT", aln.Seq2)
	assert.Equal(t, "4M3I4M", Cigar(aln.Seq1, aln.Seq2))
	assert.Equal(t, 16.0-5-2, aln.Score)
}

func TestAlign_GlobalEmptyInputs(t *testing.T) {
	aln, err := Align(context.Background(), "", "", Global, defaultScoring)
	require.NoError(t, err)
	assert.Equal(t, "", aln.Seq1)
	assert.Equal(t, 0.0, aln.Score)

	aln, err = Align(context.Background(), "", "ACG", Global, defaultScoring)
	require.NoError(t, err)
	assert.Equal(t, "---", aln.Seq1)
	assert.Equal(t, "ACG", aln.Seq2)
	assert.Equal(t, -7.0, aln.Score)
	assert.Equal(t, "3D", Cigar(aln.Seq1, aln.Seq2))
}

func TestAlign_GlobalScoreMatchesTraceback(t *testing.T) {
	pairs := [][2]string{
		{"GATTACA", "GCATGCU"},
		{"MKTAYIAKQR", "MKTAYAKQR"},
		{"ACGTACGTTT", "TTACG"},
		{"AAAA", "TTTT"},
	}
	for _, p := range pairs {
		aln, err := Align(context.Background(), p[0], p[1], Global, defaultScoring)
		require.NoError(t, err)
		require.Equal(t, len(aln.Seq1), len(aln.Seq2))
		assert.Equal(t, p[0], ungapped(aln.Seq1))
		assert.Equal(t, p[1], ungapped(aln.Seq2))
		assert.Equal(t, aln.Score, rescore(aln.Seq1, aln.Seq2, defaultScoring), "%v", p)
	}
}

func TestAlign_Deterministic(t *testing.T) {
	first, err := Align(context.Background(), "ACGTTGCA", "ACGTGCA", Global, defaultScoring)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Align(context.Background(), "ACGTTGCA", "ACGTGCA", Global, defaultScoring)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// --- Local ---

func TestAlign_LocalFindsSubregion(t *testing.T) {
	aln, err := Align(context.Background(), "TTTTACGTACGTTTTT", "GGACGTACGGG", Local, defaultScoring)
	require.NoError(t, err)

	assert.Equal(t, "ACGTACG", aln.Seq1)
	assert.Equal(t, "ACGTACG", aln.Seq2)
	assert.Equal(t, 14.0, aln.Score)
	assert.Equal(t, "7M", Cigar(aln.Seq1, aln.Seq2))
}

func TestAlign_LocalNoPositiveScore(t *testing.T) {
	aln, err := Align(context.Background(), "AAAA", "TTTT", Local, defaultScoring)
	require.NoError(t, err)

	assert.Equal(t, "", aln.Seq1)
	assert.Equal(t, "", aln.Seq2)
	assert.Equal(t, 0.0, aln.Score)

	st := ComputeStats(aln.Seq1, aln.Seq2)
	assert.Equal(t, 0, st.Length)
	assert.Equal(t, 0.0, st.IdentityPercent)
	assert.Equal(t, "", Cigar(aln.Seq1, aln.Seq2))
}

func TestAlign_LocalScoreMatchesTraceback(t *testing.T) {
	aln, err := Align(context.Background(), "PAWHEAE", "HEAGAWGHEE", Local, defaultScoring)
	require.NoError(t, err)
	require.NotEmpty(t, aln.Seq1)
	assert.Equal(t, aln.Score, rescore(aln.Seq1, aln.Seq2, defaultScoring))
	assert.NotEqual(t, byte(Gap), aln.Seq1[0])
	assert.NotEqual(t, byte(Gap), aln.Seq2[len(aln.Seq2)-1])
}

// --- Errors ---

func TestAlign_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Align(ctx, "ACGT", "ACGT", Global, defaultScoring)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlign_UnknownMode(t *testing.T) {
	_, err := Align(context.Background(), "A", "A", Mode(9), defaultScoring)
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestCells(t *testing.T) {
	assert.Equal(t, int64(1), Cells(0, 0))
	assert.Equal(t, int64(11*21), Cells(10, 20))
}
