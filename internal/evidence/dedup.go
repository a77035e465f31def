package evidence

import (
	"strings"
	"unicode"
)

// shingleSize is the word n-gram length used for near-duplicate checks.
const shingleSize = 3

// normalize folds case, punctuation, and whitespace so trivially
// different copies of a fragment compare equal.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// shingles returns the set of word n-grams of a normalized string.
// Strings shorter than one shingle yield their word set.
func shingles(norm string) map[string]struct{} {
	words := strings.Fields(norm)
	set := make(map[string]struct{})
	if len(words) < shingleSize {
		for _, w := range words {
			set[w] = struct{}{}
		}
		return set
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		set[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return set
}

// jaccard returns |a∩b| / |a∪b|.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// dedup removes exact duplicates (after normalization) and, when
// threshold > 0, near duplicates. The first occurrence always wins.
func dedup(frags []fragment, threshold float64) []fragment {
	seen := make(map[string]bool, len(frags))
	var keptSets []map[string]struct{}
	out := make([]fragment, 0, len(frags))

	for _, f := range frags {
		norm := normalize(f.text)
		if norm == "" || seen[norm] {
			continue
		}
		var set map[string]struct{}
		if threshold > 0 {
			set = shingles(norm)
			dup := false
			for _, k := range keptSets {
				if jaccard(set, k) >= threshold {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
		}
		seen[norm] = true
		keptSets = append(keptSets, set)
		out = append(out, f)
	}
	return out
}
