package engine

import "testing"

func TestTokenize(t *testing.T) {
	got := tokenize("Python, Programming-Language!")
	want := []string{"python", "programming", "language"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEmbedDeterministicAcrossCalls(t *testing.T) {
	a := embed("python programming language")
	b := embed("python programming language")
	if a != b {
		t.Fatalf("embed not deterministic: %v vs %v", a, b)
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	var zero [embeddingDim]int
	vec := embed("anything")
	if got := cosineSimilarity(zero, vec); got != 0.0 {
		t.Fatalf("expected 0.0 similarity against zero vector, got %v", got)
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	vec := embed("python programming language")
	got := cosineSimilarity(vec, vec)
	if got < 0.999 || got > 1.0001 {
		t.Fatalf("expected ~1.0 self-similarity, got %v", got)
	}
}

func TestTopKOrderingAndTieBreak(t *testing.T) {
	candidates := []ScoredKey{
		{Key: "b", Score: 0.5},
		{Key: "a", Score: 0.5},
		{Key: "c", Score: 0.9},
	}
	got := TopK(candidates, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %+v", got)
	}
	if got[0].Key != "c" {
		t.Fatalf("expected c first, got %+v", got)
	}
	if got[1].Key != "a" {
		t.Fatalf("expected tie broken by key ascending (a before b), got %+v", got)
	}
}

func TestTopKNonPositive(t *testing.T) {
	if got := TopK([]ScoredKey{{Key: "a", Score: 1}}, 0); got != nil {
		t.Fatalf("expected nil for k=0, got %+v", got)
	}
}
