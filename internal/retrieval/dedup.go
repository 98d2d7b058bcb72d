package retrieval

import (
	"strings"

	"github.com/ragcore/ragcore/pkg/ragtypes"
)

// DedupThreshold is the Jaccard similarity at or above which two chunks
// are considered near-duplicates.
const DedupThreshold = 0.85

// Deduplicate removes near-identical chunks from an already
// similarity-sorted slice, comparing their text as trigram (3-character
// shingle) sets via Jaccard similarity. Input is assumed sorted by
// descending similarity (as returned by [Searcher.Search]); when two
// chunks collide, the earlier (higher-similarity) one is kept, so the
// output preserves its input order and the tie-break rule of spec §5/§8
// property 8 is unaffected.
func Deduplicate(chunks []ragtypes.ScoredChunk) []ragtypes.ScoredChunk {
	if len(chunks) <= 1 {
		return chunks
	}

	shingles := make([]map[string]struct{}, len(chunks))
	for i, c := range chunks {
		shingles[i] = trigramSet(c.Chunk.Text)
	}

	keep := make([]bool, len(chunks))
	for i := range keep {
		keep[i] = true
	}
	for i := range chunks {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(chunks); j++ {
			if !keep[j] {
				continue
			}
			if jaccard(shingles[i], shingles[j]) >= DedupThreshold {
				keep[j] = false
			}
		}
	}

	out := make([]ragtypes.ScoredChunk, 0, len(chunks))
	for i, c := range chunks {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// trigramSet builds the set of lowercased, whitespace-collapsed
// 3-character shingles of text.
func trigramSet(text string) map[string]struct{} {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if len(normalized) < 3 {
		return map[string]struct{}{normalized: {}}
	}
	set := make(map[string]struct{}, len(normalized))
	for i := 0; i+3 <= len(normalized); i++ {
		set[normalized[i:i+3]] = struct{}{}
	}
	return set
}

// jaccard computes the Jaccard similarity between two sets. Two empty
// sets are considered identical (similarity 1).
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
