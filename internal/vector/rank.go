package vector

import "sort"

// Candidate is a vector to score, identified by its position in the caller's slice.
type Candidate struct {
	Index  int
	Vector []float32
}

// Match is a scored candidate.
type Match struct {
	Index      int
	Similarity float64
}

// Rank scores every candidate against query by cosine similarity, keeps those at or
// above threshold, and returns at most k matches ordered by similarity descending.
// Ties keep candidate order. Candidates with zero magnitude or a different length are skipped.
func Rank(query []float32, candidates []Candidate, threshold float64, k int) []Match {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		sim, ok := Cosine(query, c.Vector)
		if !ok || sim < threshold {
			continue
		}
		matches = append(matches, Match{Index: c.Index, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
