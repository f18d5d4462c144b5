package query

import (
	"time"
)

// CollectionStats is an ANALYZE-style summary for a caller's
// introspection: the row count of a collection plus per-indexed-field
// cardinality, adapted from a relational planner's table/column statistics
// to this engine's secondary-index cardinalities (there is no column list
// to sample, only whatever fields carry a secondary index; vector indexes
// are not summarized). The planner does not read it.
type CollectionStats struct {
	Collection string
	RowCount   int64
	Indexes    map[string]*IndexStats
	AnalyzedAt time.Time
}

// IndexStats is one secondary index's selectivity summary: how many
// distinct keys it holds and how many entries total.
type IndexStats struct {
	Field          string
	DistinctKeys   int64
	Entries        int64
	AverageKeySize float64
}

// Analyze computes fresh CollectionStats for collection by walking its
// live _id index (for row count) and every registered secondary index
// (for cardinality).
func (e *Executor) Analyze(collection string) (*CollectionStats, error) {
	h, err := e.handle(collection)
	if err != nil {
		return nil, err
	}
	idEntries := h.idIndex.AllEntries()
	var rows int64
	for _, ids := range idEntries {
		rows += int64(len(ids))
	}

	stats := &CollectionStats{Collection: collection, RowCount: rows, Indexes: map[string]*IndexStats{}, AnalyzedAt: time.Now()}
	for _, idx := range e.indexMgr.GetIndexesForCollection(collection) {
		if idx.Field == idIndexField || idx.Field == locIndexField {
			continue
		}
		entries := idx.AllEntries()
		var total int64
		var keyBytes int64
		for key, ids := range entries {
			total += int64(len(ids))
			keyBytes += int64(len(key))
		}
		avg := 0.0
		if len(entries) > 0 {
			avg = float64(keyBytes) / float64(len(entries))
		}
		stats.Indexes[idx.Field] = &IndexStats{
			Field:          idx.Field,
			DistinctKeys:   int64(len(entries)),
			Entries:        total,
			AverageKeySize: avg,
		}
	}
	return stats, nil
}

// Selectivity estimates the fraction of rows an equality lookup on field
// is expected to match. Returns 1 (no benefit assumed) if field is not
// analyzed. The planner does not call it.
func (s *CollectionStats) Selectivity(field string) float64 {
	idx, ok := s.Indexes[field]
	if !ok || idx.DistinctKeys == 0 || s.RowCount == 0 {
		return 1
	}
	return float64(idx.Entries) / float64(idx.DistinctKeys) / float64(s.RowCount)
}
