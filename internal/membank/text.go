package membank

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// stopwords excluded from keyword extraction and Jaccard comparison.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"with": {}, "that": {}, "this": {}, "from": {}, "have": {}, "has": {},
	"had": {}, "not": {}, "but": {}, "you": {}, "your": {}, "our": {},
	"his": {}, "her": {}, "its": {}, "they": {}, "them": {}, "their": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "when": {}, "where": {},
	"will": {}, "would": {}, "should": {}, "could": {}, "can": {}, "may": {},
	"about": {}, "into": {}, "over": {}, "after": {}, "before": {},
	"very": {}, "just": {}, "also": {}, "been": {}, "being": {}, "there": {},
}

// tokenize lowercases text and splits it into words, dropping punctuation,
// stopwords and anything shorter than three characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	words := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) < 3 {
			continue
		}
		if _, skip := stopwords[w]; skip {
			continue
		}
		words = append(words, w)
	}
	return words
}

// extractKeywords returns up to maxKeywords distinct content words in
// first-seen order.
func extractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, w := range tokenize(text) {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// wordSet returns the distinct token set of text.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range tokenize(text) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard computes word-overlap similarity of two texts in [0,1].
func jaccard(a, b string) float64 {
	setA, setB := wordSet(a), wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// cosine computes cosine similarity of two vectors. Mismatched or empty
// vectors yield zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// centroid averages a set of equal-length vectors.
func centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(n))
	}
	return out
}

// splitSentences breaks text on sentence-ending punctuation.
func splitSentences(text string) []string {
	var sentences []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(sb.String()); s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// firstSentence returns the first sentence of text, or the whole text when
// it has no sentence break.
func firstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSuffix(sentences[0], ".")
}

// normalizedKey produces a stable lookup key from content word tokens.
func normalizedKey(text string) string {
	words := tokenize(text)
	sort.Strings(words)
	return strings.Join(words, " ")
}
