package predict

import (
	"bufio"
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNoConfidenceScores is returned when a PDB payload has no parseable
// per-residue B-factor values.
var ErrNoConfidenceScores = errors.New("no residue confidence scores in structure")

type residueKey struct {
	chain byte
	seq   string
	iCode byte
}

// ConfidenceScores extracts one pLDDT value per residue from a PDB payload.
// ESMFold writes the per-residue confidence into the B-factor column of every
// atom; the first ATOM/HETATM record of each residue is used and residues are
// returned in file order.
func ConfidenceScores(pdb string) ([]float64, error) {
	var scores []float64
	seen := make(map[residueKey]struct{})

	sc := bufio.NewScanner(strings.NewReader(pdb))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "ATOM") && !strings.HasPrefix(line, "HETATM") {
			continue
		}
		if len(line) <= 60 {
			continue
		}

		key := residueKey{chain: line[21], seq: strings.TrimSpace(line[22:26]), iCode: line[26]}
		if _, ok := seen[key]; ok {
			continue
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(line[60:min(66, len(line))]), 64)
		if err != nil {
			continue
		}
		seen[key] = struct{}{}
		scores = append(scores, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(scores) == 0 {
		return nil, ErrNoConfidenceScores
	}
	return scores, nil
}

// Summary holds aggregate confidence over a structure.
type Summary struct {
	Mean float64
	Min  float64
	Max  float64
}

// Summarize computes mean, min and max of scores. It returns the zero Summary
// for an empty slice.
func Summarize(scores []float64) Summary {
	if len(scores) == 0 {
		return Summary{}
	}

	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	var total float64
	for _, v := range scores {
		total += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = total / float64(len(scores))
	return s
}
