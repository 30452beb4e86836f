package align

import (
	"strconv"
	"strings"
)

// CIGAR operations.
const (
	OpMatch     = 'M'
	OpInsertion = 'I'
	OpDeletion  = 'D'
)

// Cigar run-length encodes an aligned pair. A gap in the first string is a
// deletion, a gap in the second string an insertion, anything else M.
func Cigar(aligned1, aligned2 string) string {
	n := min(len(aligned1), len(aligned2))
	if n == 0 {
		return ""
	}

	var b strings.Builder
	var op byte
	run := 0
	for i := 0; i < n; i++ {
		cur := classify(aligned1[i], aligned2[i])
		if cur == op {
			run++
			continue
		}
		if run > 0 {
			b.WriteString(strconv.Itoa(run))
			b.WriteByte(op)
		}
		op, run = cur, 1
	}
	b.WriteString(strconv.Itoa(run))
	b.WriteByte(op)
	return b.String()
}

func classify(c1, c2 byte) byte {
	switch {
	case c1 == Gap:
		return OpDeletion
	case c2 == Gap:
		return OpInsertion
	default:
		return OpMatch
	}
}

// CigarOp is one run of a CIGAR string.
type CigarOp struct {
	Len int
	Op  byte
}

// ParseCigar splits a CIGAR string into runs. It returns false on malformed
// input.
func ParseCigar(s string) ([]CigarOp, bool) {
	var ops []CigarOp
	num := 0
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			digits++
		case c == OpMatch || c == OpInsertion || c == OpDeletion:
			if digits == 0 || num == 0 {
				return nil, false
			}
			ops = append(ops, CigarOp{Len: num, Op: c})
			num, digits = 0, 0
		default:
			return nil, false
		}
	}
	if digits != 0 {
		return nil, false
	}
	return ops, true
}
