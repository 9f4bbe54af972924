package embed

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/bkyoung/mnemosyne/internal/usecase/retrieval"
)

// stopwords are dropped before hashing; they carry no lexical signal
// for vulnerability reports.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "has": {}, "have": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "this": {}, "that": {},
	"from": {}, "they": {}, "when": {}, "which": {}, "their": {}, "would": {},
	"there": {}, "been": {}, "than": {}, "then": {}, "them": {}, "these": {},
	"into": {}, "only": {}, "over": {}, "such": {}, "some": {}, "also": {},
	"after": {}, "before": {}, "where": {}, "while": {}, "each": {}, "other": {},
}

// SparseEncoder produces hashed bag-of-words vectors with sublinear
// term-frequency weighting. Both index and query sides use the same
// encoder, so matching is exact on hashed terms.
type SparseEncoder struct{}

// NewSparseEncoder creates a sparse encoder.
func NewSparseEncoder() *SparseEncoder {
	return &SparseEncoder{}
}

// Encode tokenizes text and returns a sparse vector: FNV-hashed term
// indices with 1+log(tf) values, indices sorted ascending.
func (e *SparseEncoder) Encode(text string) retrieval.SparseVector {
	counts := make(map[uint32]int)

	for _, term := range tokenize(text) {
		counts[hashTerm(term)]++
	}

	if len(counts) == 0 {
		return retrieval.SparseVector{}
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(1.0 + math.Log(float64(counts[idx])))
	}

	return retrieval.SparseVector{Indices: indices, Values: values}
}

// tokenize lowercases, splits on non-alphanumeric runes, and drops
// stopwords and short tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(term))
	return h.Sum32()
}

// Compile-time interface check
var _ retrieval.SparseEncoder = (*SparseEncoder)(nil)
