// Package similarity scores how alike two product names are. All functions
// are pure and total: any pair of strings yields a score in [0, 1].
package similarity

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Aggregate weights
const (
	EditWeight   = 0.4
	BigramWeight = 0.3
	WordWeight   = 0.3
)

// stopWords are dropped before comparison: function words and units of
// measure that carry no identity.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// russian function words
		"и", "в", "во", "не", "на", "с", "со", "для", "по", "из", "от", "до", "за", "к", "ко",
		"о", "об", "у", "а", "но", "или", "без", "при", "под", "над", "про", "через",
		// units
		"шт", "штук", "штуки", "уп", "упак", "кг", "г", "гр", "мг", "л", "мл", "см", "мм", "м",
		"pcs", "pc", "kg", "g", "gr", "mg", "l", "ml", "cm", "mm", "m", "oz", "lb",
		// english function words
		"the", "a", "an", "and", "or", "for", "with", "of", "in", "on", "by", "to",
	} {
		stopWords[w] = struct{}{}
	}
}

// Tokens returns the significant words of s: lowercased, stripped of
// punctuation and stop words, with single-rune tokens dropped.
func Tokens(s string) []string {
	s = normalizers.ApplyChain(s, "lowercase", "remove_punctuation")
	fields := strings.Fields(s)
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 1 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Normalize returns the significant words of s joined by single spaces.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Similarity combines edit, bigram and word similarity of the normalized
// strings, rounded to three decimals.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}

	score := EditWeight*EditSimilarity(na, nb) +
		BigramWeight*BigramJaccard(na, nb) +
		WordWeight*WordJaccard(na, nb)

	return clamp(round3(score))
}

// EditSimilarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
// Two empty strings are identical.
func EditSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(LevenshteinDistance(a, b))/float64(longest)
}

// LevenshteinDistance counts single-rune insertions, deletions and substitutions.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// BigramJaccard is |A∩B| / |A∪B| over the character bigram sets, 0 when
// both sets are empty.
func BigramJaccard(a, b string) float64 {
	return jaccard(bigrams(a), bigrams(b))
}

// WordJaccard is |A∩B| / |A∪B| over the word sets, 0 when both are empty.
func WordJaccard(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func bigrams(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
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

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
