// -----------------------------------------------------------------------
// Duplicate Index
// Nearest-neighbor search over image embeddings with a distance threshold
// -----------------------------------------------------------------------

package dupindex

import (
	"fmt"
	"math"
	"sync"

	"github.com/ternarybob/arbor"
)

// Distance metrics supported by the index.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
)

// entry is one inserted vector. Entries are never mutated; a model change
// resets the whole index and duplicate resolution is re-run from scratch.
type entry struct {
	itemID string
	seq    uint64
	vector []float32
}

// Index answers "is there an existing item within distance θ" over inserted
// embeddings and accepts new vectors. The scan is exhaustive; an approximate
// structure can replace it behind the same interface when the accepted set
// outgrows linear search.
type Index struct {
	mu        sync.Mutex
	entries   []entry
	metric    string
	threshold float64
	logger    arbor.ILogger
}

// New creates a duplicate index for the given metric and threshold θ.
func New(metric string, threshold float64, logger arbor.ILogger) (*Index, error) {
	switch metric {
	case MetricCosine, MetricEuclidean:
	default:
		return nil, fmt.Errorf("unknown distance metric: %s", metric)
	}
	return &Index{
		metric:    metric,
		threshold: threshold,
		logger:    logger,
	}, nil
}

// Threshold returns the configured duplicate distance θ.
func (idx *Index) Threshold() float64 {
	return idx.threshold
}

// Query returns the nearest previously inserted item and its distance.
// ok is false when the index is empty.
func (idx *Index) Query(vector []float32) (itemID string, distance float64, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.nearest(vector)
}

// Insert adds an accepted vector to the index.
func (idx *Index) Insert(itemID string, seq uint64, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append(idx.entries, entry{itemID: itemID, seq: seq, vector: vector})
}

// CheckAndInsert runs the acceptance policy atomically: if the nearest
// inserted vector is within θ the incoming item is a duplicate of it and is
// NOT inserted; otherwise the item is inserted and becomes canonical for any
// later arrivals near it. First-seen wins because callers submit items in
// sequence order.
func (idx *Index) CheckAndInsert(itemID string, seq uint64, vector []float32) (duplicateOf string, distance float64, isDuplicate bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	nearestID, dist, ok := idx.nearest(vector)
	if ok && dist < idx.threshold {
		idx.logger.Debug().
			Str("item_id", itemID).
			Str("canonical", nearestID).
			Str("distance", fmt.Sprintf("%.4f", dist)).
			Str("threshold", fmt.Sprintf("%.4f", idx.threshold)).
			Msg("Duplicate detected")
		return nearestID, dist, true
	}

	idx.entries = append(idx.entries, entry{itemID: itemID, seq: seq, vector: vector})
	return "", dist, false
}

// Len returns the number of inserted vectors.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// Reset drops all inserted vectors. Required when the embedding model
// changes: duplicate groups are recomputed from scratch, never patched
// across model versions.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
}

// nearest performs the linear scan. Caller holds idx.mu. Ties on distance go
// to the earliest submission sequence.
func (idx *Index) nearest(vector []float32) (string, float64, bool) {
	best := -1
	bestDist := math.Inf(1)

	for i := range idx.entries {
		d := idx.distance(vector, idx.entries[i].vector)
		if d < bestDist || (d == bestDist && best >= 0 && idx.entries[i].seq < idx.entries[best].seq) {
			best = i
			bestDist = d
		}
	}

	if best < 0 {
		return "", 0, false
	}
	return idx.entries[best].itemID, bestDist, true
}

func (idx *Index) distance(a, b []float32) float64 {
	if idx.metric == MetricEuclidean {
		return euclideanDistance(a, b)
	}
	return 1 - cosineSim(a, b)
}

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func euclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
