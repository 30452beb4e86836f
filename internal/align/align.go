// Package align implements affine-gap pairwise sequence alignment (global
// Needleman-Wunsch and local Smith-Waterman, Gotoh formulation) together with
// the statistics and CIGAR derivation for an aligned pair.
package align

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Gap is the symbol used for an indel in aligned strings.
const Gap = '-'

// Mode selects end-to-end or best-subregion alignment.
type Mode int

const (
	Global Mode = iota
	Local
)

func (m Mode) String() string {
	switch m {
	case Global:
		return "GLOBAL"
	case Local:
		return "LOCAL"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Scoring holds the substitution and affine gap scores. A gap of length L
// scores GapOpen + (L-1)*GapExtend.
type Scoring struct {
	Match     int
	Mismatch  int
	GapOpen   int
	GapExtend int
}

// Alignment is one optimal alignment of two sequences. Seq1 and Seq2 have
// equal length and use Gap for indels.
type Alignment struct {
	Seq1  string
	Seq2  string
	Score float64
}

var ErrUnknownMode = errors.New("unknown alignment mode")

// Cells returns the size of the dynamic-programming matrix for sequences of
// length n and m.
func Cells(n, m int) int64 {
	return int64(n+1) * int64(m+1)
}

const negInf = math.MinInt64 / 4

// Traceback states.
const (
	stM     = 0
	stX     = 1 // residue of a against a gap
	stY     = 2 // gap against a residue of b
	stStart = 3 // local alignment begins at this cell
)

// A traceback cell packs the predecessor of each state in two bits:
// M in bits 0-1, X in bits 2-3, Y in bits 4-5.
func packPtr(pm, px, py byte) byte { return pm | px<<2 | py<<4 }
func ptrM(c byte) byte             { return c & 3 }
func ptrX(c byte) byte             { return (c >> 2) & 3 }
func ptrY(c byte) byte             { return (c >> 4) & 3 }

// Align computes one optimal alignment of a and b. Ties are broken in a fixed
// order (substitution, then gap in b, then gap in a), so the output is
// deterministic. The context is checked once per matrix row.
//
// A local alignment with no positive-scoring cell is empty with score 0.
func Align(ctx context.Context, a, b string, mode Mode, sc Scoring) (Alignment, error) {
	if mode != Global && mode != Local {
		return Alignment{}, fmt.Errorf("%w: %d", ErrUnknownMode, int(mode))
	}

	n, m := len(a), len(b)
	width := m + 1
	trace := make([]byte, (n+1)*width)

	prevM := make([]int64, width)
	prevX := make([]int64, width)
	prevY := make([]int64, width)
	curM := make([]int64, width)
	curX := make([]int64, width)
	curY := make([]int64, width)

	open, ext := int64(sc.GapOpen), int64(sc.GapExtend)
	local := mode == Local

	var bestScore int64
	bestI, bestJ := -1, -1

	for i := 0; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return Alignment{}, err
		}

		for j := 0; j <= m; j++ {
			var pm, px, py byte

			// M: a[i-1] against b[j-1].
			mv := int64(negInf)
			switch {
			case i == 0 && j == 0:
				if !local {
					mv = 0
				}
			case i > 0 && j > 0:
				prev, st := max3(prevM[j-1], prevX[j-1], prevY[j-1])
				pm = st
				if local && prev <= 0 {
					prev, pm = 0, stStart
				}
				mv = prev + substitution(a[i-1], b[j-1], sc)
			}

			// X: a[i-1] against a gap.
			xv := int64(negInf)
			if i > 0 {
				xv, px = max3(prevM[j]+open, prevX[j]+ext, prevY[j]+open)
			}

			// Y: a gap against b[j-1].
			yv := int64(negInf)
			if j > 0 {
				yv, py = max3(curM[j-1]+open, curX[j-1]+open, curY[j-1]+ext)
			}

			curM[j], curX[j], curY[j] = clamp(mv), clamp(xv), clamp(yv)
			trace[i*width+j] = packPtr(pm, px, py)

			if local && mv > bestScore {
				bestScore, bestI, bestJ = mv, i, j
			}
		}

		prevM, curM = curM, prevM
		prevX, curX = curX, prevX
		prevY, curY = curY, prevY
	}

	if local {
		if bestI < 0 {
			return Alignment{}, nil
		}
		s1, s2 := traceback(a, b, trace, width, bestI, bestJ, stM, true)
		return Alignment{Seq1: s1, Seq2: s2, Score: float64(bestScore)}, nil
	}

	// After the final swap the last row lives in prev*.
	score, st := max3(prevM[m], prevX[m], prevY[m])
	s1, s2 := traceback(a, b, trace, width, n, m, st, false)
	return Alignment{Seq1: s1, Seq2: s2, Score: float64(score)}, nil
}

func traceback(a, b string, trace []byte, width, i, j int, st byte, local bool) (string, string) {
	out1 := make([]byte, 0, i+j)
	out2 := make([]byte, 0, i+j)

	for i > 0 || j > 0 {
		cell := trace[i*width+j]
		switch st {
		case stM:
			if i == 0 || j == 0 {
				i, j = 0, 0
				continue
			}
			out1 = append(out1, a[i-1])
			out2 = append(out2, b[j-1])
			st = ptrM(cell)
			i--
			j--
			if local && st == stStart {
				i, j = 0, 0
			}
		case stX:
			out1 = append(out1, a[i-1])
			out2 = append(out2, Gap)
			st = ptrX(cell)
			i--
		case stY:
			out1 = append(out1, Gap)
			out2 = append(out2, b[j-1])
			st = ptrY(cell)
			j--
		default:
			i, j = 0, 0
		}
	}

	reverse(out1)
	reverse(out2)
	return string(out1), string(out2)
}

func substitution(x, y byte, sc Scoring) int64 {
	if x == y {
		return int64(sc.Match)
	}
	return int64(sc.Mismatch)
}

// max3 returns the largest value and the index of its first occurrence.
// Callers pass candidates in M, X, Y order so the index is the state.
func max3(v0, v1, v2 int64) (int64, byte) {
	best, idx := v0, byte(0)
	if v1 > best {
		best, idx = v1, 1
	}
	if v2 > best {
		best, idx = v2, 2
	}
	return best, idx
}

// clamp keeps unreachable cells from drifting towards overflow.
func clamp(v int64) int64 {
	if v < negInf {
		return negInf
	}
	return v
}

func reverse(s []byte) {
	for l, r := 0, len(s)-1; l < r; l, r = l+1, r-1 {
		s[l], s[r] = s[r], s[l]
	}
}
