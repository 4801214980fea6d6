package engine

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// embeddingDim is the fixed dimensionality of every embedding vector.
// Embeddings are not stored in the WAL; replay recomputes them from
// the logged values with this dimension.
const embeddingDim = 16

// hashSeed makes the token→dimension hash explicitly seeded and
// therefore reproducible across processes and platforms, unlike an
// unseeded language-provided string hash.
const hashSeed = "durakv-embedding-v1:"

// tokenize lowercases value and splits it on maximal alphanumeric
// runs, discarding everything else and any empty tokens.
func tokenize(value string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// tokenSet returns the unique tokens of value as a set.
func tokenSet(value string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(value) {
		set[tok] = struct{}{}
	}
	return set
}

// embedDim maps a token to one of the embeddingDim buckets using a
// deterministic, explicitly seeded hash.
func embedDim(token string) int {
	h := xxhash.Sum64String(hashSeed + token)
	return int(h % embeddingDim)
}

// embed computes the bag-of-words hashed embedding vector for value:
// tokenize, then increment vec[embedDim(token)] for every occurrence.
func embed(value string) [embeddingDim]int {
	var vec [embeddingDim]int
	for _, tok := range tokenize(value) {
		vec[embedDim(tok)]++
	}
	return vec
}

// cosineSimilarity returns the cosine similarity of a and b, or 0.0 if
// either is the zero vector.
func cosineSimilarity(a, b [embeddingDim]int) float64 {
	var dot, normA, normB float64
	for i := 0; i < embeddingDim; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ScoredKey is one result of a search_embedding query.
type ScoredKey struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// TopK sorts candidates descending by score, ties broken by key
// ascending, and returns at most k results. k <= 0 yields nil. It is
// exported so the quorum cluster can re-rank results merged from
// multiple nodes with the same ordering rule a single engine uses.
func TopK(candidates []ScoredKey, k int) []ScoredKey {
	if k <= 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Key < candidates[j].Key
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
