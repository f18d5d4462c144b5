package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/duskdb/duskdb/dberr"
	"github.com/duskdb/duskdb/storage"
)

// VectorMetric selects the distance function a vector index ranks by.
type VectorMetric string

const (
	MetricCosine    VectorMetric = "cosine"
	MetricEuclidean VectorMetric = "euclidean"
	MetricDot       VectorMetric = "dot"
)

// vectorEntry is one leaf of the metric tree: a stored vector and the
// record id it belongs to.
type vectorEntry struct {
	recordID uint64
	vector   []float32
}

// vectorNode is either a leaf (entries non-nil) or an internal node
// splitting its children by distance from a pivot, carrying per-child
// min/max distance ranges so a k-NN search can prune subtrees whose range
// cannot contain a closer neighbor than the current worst candidate in the
// result heap (spec §4.9 "binary metric tree").
type vectorNode struct {
	pivot    []float32
	children [2]*vectorNode
	ranges   [2][2]float32 // per-child [min,max] distance from pivot
	entries  []vectorEntry
}

const vectorLeafCapacity = 8

// VectorIndex is an approximate k-NN index over fixed-dimension vectors,
// rebuilt as a balanced binary metric tree whenever its contents change
// (spec §4.9: "insert/delete-as-rebuild").
type VectorIndex struct {
	Collection string
	Field      string
	Metric     VectorMetric
	Dimensions int

	mu      sync.RWMutex
	entries []vectorEntry
	root    *vectorNode

	pager      *storage.Pager
	rootPageID uint32
}

// NewVectorIndex creates an empty vector index backed by pager, whose
// snapshot will be flushed to fresh VectorIndex-tagged pages.
func NewVectorIndex(collection, field string, metric VectorMetric, dims int, pager *storage.Pager) *VectorIndex {
	return &VectorIndex{Collection: collection, Field: field, Metric: metric, Dimensions: dims, pager: pager}
}

// OpenVectorIndex reloads a vector index whose snapshot was previously
// flushed at rootPageID.
func OpenVectorIndex(collection, field string, metric VectorMetric, dims int, pager *storage.Pager, rootPageID uint32) (*VectorIndex, error) {
	vi := NewVectorIndex(collection, field, metric, dims, pager)
	vi.rootPageID = rootPageID
	if rootPageID != 0 {
		if err := vi.load(); err != nil {
			return nil, err
		}
	}
	return vi, nil
}

// RootPageID returns the page id of the index's current persisted
// snapshot, or 0 if it has never been flushed.
func (vi *VectorIndex) RootPageID() uint32 {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.rootPageID
}

// Flush serializes every (recordID, vector) entry as a flat snapshot,
// writes it to a fresh chain of VectorIndex-tagged pages, frees the
// previous snapshot chain, and records the new root page id.
func (vi *VectorIndex) Flush() error {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	buf := make([]byte, 0, 8+len(vi.entries)*(8+4+4*vi.Dimensions))
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(vi.entries)))
	buf = append(buf, countBuf[:]...)
	for _, e := range vi.entries {
		var head [12]byte
		binary.LittleEndian.PutUint64(head[0:8], e.recordID)
		binary.LittleEndian.PutUint32(head[8:12], uint32(len(e.vector)))
		buf = append(buf, head[:]...)
		for _, f := range e.vector {
			var fb [4]byte
			binary.LittleEndian.PutUint32(fb[:], math.Float32bits(f))
			buf = append(buf, fb[:]...)
		}
	}

	addr, err := vi.pager.InsertRecordBytes(0, storage.PageTypeVector, buf, 0)
	if err != nil {
		return err
	}
	oldRoot := vi.rootPageID
	vi.rootPageID = addr.PageID
	if oldRoot != 0 {
		if err := vi.pager.DeleteRecord(storage.Address{PageID: oldRoot, Slot: 0}, 0); err != nil {
			return err
		}
	}
	return nil
}

func (vi *VectorIndex) load() error {
	raw, err := vi.pager.ReadRecordBytes(storage.Address{PageID: vi.rootPageID, Slot: 0}, 0)
	if err != nil {
		return err
	}
	if len(raw) < 8 {
		return fmt.Errorf("%w: truncated vector index snapshot", dberr.ErrCorruption)
	}
	count := binary.LittleEndian.Uint64(raw[:8])
	off := 8
	entries := make([]vectorEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+12 > len(raw) {
			return fmt.Errorf("%w: truncated vector index entry", dberr.ErrCorruption)
		}
		recordID := binary.LittleEndian.Uint64(raw[off : off+8])
		dims := int(binary.LittleEndian.Uint32(raw[off+8 : off+12]))
		off += 12
		vec := make([]float32, dims)
		for d := 0; d < dims; d++ {
			if off+4 > len(raw) {
				return fmt.Errorf("%w: truncated vector index entry", dberr.ErrCorruption)
			}
			vec[d] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
			off += 4
		}
		entries = append(entries, vectorEntry{recordID: recordID, vector: vec})
	}
	vi.entries = entries
	vi.root = buildVectorTree(entries, vi.Metric)
	return nil
}

// Insert adds vec under recordID and rebuilds the tree.
func (vi *VectorIndex) Insert(recordID uint64, vec []float32) error {
	if len(vec) != vi.Dimensions {
		return fmt.Errorf("%w: vector has %d dimensions, index expects %d", dberr.ErrValidation, len(vec), vi.Dimensions)
	}
	vi.mu.Lock()
	defer vi.mu.Unlock()
	vi.entries = append(vi.entries, vectorEntry{recordID: recordID, vector: vec})
	vi.root = buildVectorTree(vi.entries, vi.Metric)
	return nil
}

// Delete removes recordID and rebuilds the tree.
func (vi *VectorIndex) Delete(recordID uint64) {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	kept := vi.entries[:0:0]
	for _, e := range vi.entries {
		if e.recordID != recordID {
			kept = append(kept, e)
		}
	}
	vi.entries = kept
	vi.root = buildVectorTree(vi.entries, vi.Metric)
}

// Neighbor is one k-NN search result.
type Neighbor struct {
	RecordID uint64
	Distance float32
}

// Search returns the k nearest record ids to query, ranked by the index's
// metric, ascending distance for cosine/euclidean and descending score for
// dot-product (spec §4.9: dot-product search finds highest similarity, not
// lowest distance, so results are still returned best-first).
func (vi *VectorIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != vi.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d", dberr.ErrValidation, len(query), vi.Dimensions)
	}
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	best := make([]Neighbor, 0, k)
	worst := func() float32 {
		if len(best) < k {
			return float32(math.Inf(1))
		}
		return best[len(best)-1].Distance
	}

	var visit func(n *vectorNode)
	visit = func(n *vectorNode) {
		if n == nil {
			return
		}
		if n.entries != nil {
			for _, e := range n.entries {
				d := vi.distance(query, e.vector)
				if len(best) < k || d < worst() {
					best = insertSorted(best, Neighbor{RecordID: e.recordID, Distance: d}, k)
				}
			}
			return
		}
		pivotDist := vi.distance(query, n.pivot)
		for i, child := range n.children {
			if child == nil {
				continue
			}
			lo, hi := n.ranges[i][0], n.ranges[i][1]
			w := worst()
			// Triangle-inequality pruning: if every point in this child is
			// farther from the pivot than pivotDist+w, or closer than
			// pivotDist-w, it cannot beat the current worst candidate.
			if pivotDist-w > hi || pivotDist+w < lo {
				continue
			}
			visit(child)
		}
	}
	visit(vi.root)
	return best, nil
}

func insertSorted(best []Neighbor, n Neighbor, k int) []Neighbor {
	i := sort.Search(len(best), func(i int) bool { return best[i].Distance > n.Distance })
	best = append(best, Neighbor{})
	copy(best[i+1:], best[i:])
	best[i] = n
	if len(best) > k {
		best = best[:k]
	}
	return best
}

func (vi *VectorIndex) distance(a, b []float32) float32 {
	return metricDistance(vi.Metric, a, b)
}

func metricDistance(metric VectorMetric, a, b []float32) float32 {
	switch metric {
	case MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i] - b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	case MetricDot:
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		// Lower is "closer" everywhere else in this tree, so rank
		// dot-product by negated score: the most similar pair gets the
		// smallest distance.
		return float32(-sum)
	default: // cosine
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
		return float32(1 - cos)
	}
}

// buildVectorTree recursively splits entries into a balanced binary metric
// tree: pick a pivot, partition every entry (the pivot's own included) by
// distance-from-pivot median,
// recurse, and record each child's [min,max] distance-from-pivot range for
// search-time pruning.
func buildVectorTree(entries []vectorEntry, metric VectorMetric) *vectorNode {
	if len(entries) == 0 {
		return nil
	}
	if len(entries) <= vectorLeafCapacity {
		return &vectorNode{entries: append([]vectorEntry(nil), entries...)}
	}

	pivot := entries[0].vector
	rest := entries
	dists := make([]float32, len(rest))
	for i, e := range rest {
		dists[i] = metricDistance(metric, pivot, e.vector)
	}

	order := make([]int, len(rest))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return dists[order[i]] < dists[order[j]] })

	mid := len(order) / 2
	var left, right []vectorEntry
	var leftMin, leftMax, rightMin, rightMax float32
	leftMin, rightMin = float32(math.Inf(1)), float32(math.Inf(1))
	for i, idx := range order {
		d := dists[idx]
		if i < mid {
			left = append(left, rest[idx])
			if d < leftMin {
				leftMin = d
			}
			if d > leftMax {
				leftMax = d
			}
		} else {
			right = append(right, rest[idx])
			if d < rightMin {
				rightMin = d
			}
			if d > rightMax {
				rightMax = d
			}
		}
	}

	n := &vectorNode{pivot: pivot}
	n.children[0] = buildVectorTree(left, metric)
	n.children[1] = buildVectorTree(right, metric)
	n.ranges[0] = [2]float32{leftMin, leftMax}
	n.ranges[1] = [2]float32{rightMin, rightMax}
	return n
}
