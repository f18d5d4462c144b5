package index

import "testing"

func TestVectorIndexEuclideanNearest(t *testing.T) {
	vi := NewVectorIndex("docs", "embedding", MetricEuclidean, 2, nil)
	vi.Insert(1, []float32{0, 0})
	vi.Insert(2, []float32{10, 10})
	vi.Insert(3, []float32{1, 1})

	results, err := vi.Search([]float32{0, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].RecordID != 1 {
		t.Fatalf("expected record 1 nearest to origin, got %v", results)
	}
}

func TestVectorIndexCosineIgnoresMagnitude(t *testing.T) {
	vi := NewVectorIndex("docs", "embedding", MetricCosine, 2, nil)
	vi.Insert(1, []float32{1, 0})
	vi.Insert(2, []float32{100, 0})
	vi.Insert(3, []float32{0, 1})

	results, err := vi.Search([]float32{2, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %v", results)
	}
	if results[0].RecordID != 1 && results[0].RecordID != 2 {
		t.Fatalf("expected one of the colinear vectors to win, got %v", results)
	}
}

func TestVectorIndexDotProductRanksHighestScoreFirst(t *testing.T) {
	vi := NewVectorIndex("docs", "embedding", MetricDot, 2, nil)
	vi.Insert(1, []float32{1, 1})
	vi.Insert(2, []float32{5, 5})
	vi.Insert(3, []float32{-5, -5})

	results, err := vi.Search([]float32{1, 1}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].RecordID != 2 {
		t.Fatalf("expected record 2 (highest dot product) first, got %v", results)
	}
}

func TestVectorIndexDeleteRemovesFromResults(t *testing.T) {
	vi := NewVectorIndex("docs", "embedding", MetricEuclidean, 2, nil)
	vi.Insert(1, []float32{0, 0})
	vi.Insert(2, []float32{1, 1})

	vi.Delete(1)

	results, err := vi.Search([]float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.RecordID == 1 {
			t.Fatalf("expected record 1 to be removed, got %v", results)
		}
	}
}

func TestVectorIndexRejectsDimensionMismatch(t *testing.T) {
	vi := NewVectorIndex("docs", "embedding", MetricCosine, 3, nil)
	if err := vi.Insert(1, []float32{1, 2}); err == nil {
		t.Fatal("expected dimension mismatch error on insert")
	}
	if _, err := vi.Search([]float32{1, 2}, 1); err == nil {
		t.Fatal("expected dimension mismatch error on search")
	}
}

func TestVectorIndexSearchLargerSetReturnsKSortedByDistance(t *testing.T) {
	vi := NewVectorIndex("docs", "embedding", MetricEuclidean, 1, nil)
	for i := 0; i < 32; i++ {
		vi.Insert(uint64(i), []float32{float32(i)})
	}

	results, err := vi.Search([]float32{15}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not sorted ascending by distance: %v", results)
		}
	}
	if results[0].RecordID != 15 {
		t.Fatalf("expected record 15 to be the exact nearest match, got %v", results[0])
	}
}
