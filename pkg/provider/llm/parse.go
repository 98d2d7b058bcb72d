package llm

import (
	"strconv"
	"strings"

	"github.com/ragcore/ragcore/pkg/ragerr"
)

// ShapeInstructions returns the formatting instruction appended to a
// CompleteStructured request's system prompt for the given shape.
// Concrete providers call this from their CompleteStructured
// implementation before sending the request.
func ShapeInstructions(shape Shape) string {
	switch shape {
	case ShapeYesNo:
		return "\n\nRespond with exactly one word: Yes or No."
	case ShapeScore01:
		return "\n\nRespond with exactly one number between 0 and 1 (e.g. 0.73)."
	case ShapeQuestionList:
		return "\n\nRespond with a numbered list of self-contained questions, one per line, and nothing else."
	default:
		return ""
	}
}

// ParseStructured extracts a StructuredResult of the given shape from a
// raw completion using lenient, first-match extraction: it scans for
// the first recognizable token rather than requiring the whole response
// to be well-formed. Returns a *ragerr.Error with Kind ragerr.LLMParse
// if no matching token is found.
func ParseStructured(raw string, shape Shape) (StructuredResult, error) {
	switch shape {
	case ShapeYesNo:
		b, ok := parseYesNo(raw)
		if !ok {
			return StructuredResult{}, ragerr.New(ragerr.LLMParse, "no yes/no token found in completion")
		}
		return StructuredResult{Shape: shape, Bool: b, Raw: raw}, nil
	case ShapeScore01:
		score, ok := parseScore01(raw)
		if !ok {
			return StructuredResult{}, ragerr.New(ragerr.LLMParse, "no numeric score found in completion")
		}
		return StructuredResult{Shape: shape, Score: score, Raw: raw}, nil
	case ShapeQuestionList:
		qs := parseQuestionList(raw)
		if len(qs) == 0 {
			return StructuredResult{}, ragerr.New(ragerr.LLMParse, "no questions found in completion")
		}
		return StructuredResult{Shape: shape, Questions: qs, Raw: raw}, nil
	default:
		return StructuredResult{}, ragerr.New(ragerr.Internal, "unknown structured shape")
	}
}

// parseYesNo finds the first standalone "yes" or "no" token (case
// insensitive), scanning left to right.
func parseYesNo(raw string) (bool, bool) {
	lower := strings.ToLower(raw)
	yesIdx := firstWordIndex(lower, "yes")
	noIdx := firstWordIndex(lower, "no")
	switch {
	case yesIdx < 0 && noIdx < 0:
		return false, false
	case yesIdx < 0:
		return false, true
	case noIdx < 0:
		return true, true
	case yesIdx < noIdx:
		return true, true
	default:
		return false, true
	}
}

// firstWordIndex returns the byte index of the first occurrence of word
// as a standalone token in s, or -1 if absent.
func firstWordIndex(s, word string) int {
	start := 0
	for {
		i := strings.Index(s[start:], word)
		if i < 0 {
			return -1
		}
		idx := start + i
		before := byte(' ')
		if idx > 0 {
			before = s[idx-1]
		}
		after := byte(' ')
		if idx+len(word) < len(s) {
			after = s[idx+len(word)]
		}
		if !isWordByte(before) && !isWordByte(after) {
			return idx
		}
		start = idx + len(word)
		if start >= len(s) {
			return -1
		}
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// parseScore01 finds the first floating-point or integer literal in raw
// and clamps it to [0,1].
func parseScore01(raw string) (float64, bool) {
	var tok strings.Builder
	for i := 0; i <= len(raw); i++ {
		var b byte
		if i < len(raw) {
			b = raw[i]
		}
		isDigitLike := (b >= '0' && b <= '9') || b == '.'
		if isDigitLike {
			tok.WriteByte(b)
			continue
		}
		if tok.Len() > 0 {
			s := tok.String()
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				if v < 0 {
					v = 0
				}
				if v > 1 {
					// Tolerate a model that answers on a 0-10 or 0-100 scale.
					if v <= 10 {
						v /= 10
					} else if v <= 100 {
						v /= 100
					} else {
						v = 1
					}
				}
				return v, true
			}
			tok.Reset()
		}
	}
	return 0, false
}

// parseQuestionList extracts one question per non-blank line, stripping
// common list markers ("1.", "1)", "-", "*").
func parseQuestionList(raw string) []string {
	lines := strings.Split(raw, "\n")
	var out []string
	for _, line := range lines {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "0123456789.)-* \t")
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
	}
	return out
}
