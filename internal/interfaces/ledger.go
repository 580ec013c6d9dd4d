package interfaces

import (
	"io"
	"time"

	"github.com/ternarybob/verdant/internal/models"
)

// Ledger is the durable record of every item's lifecycle state and
// provenance. Transitions for the same item are serialized; distinct items
// proceed in parallel. A ledger write failure is fatal to the run.
type Ledger interface {
	// Observe creates the entry for a candidate if it does not exist, or
	// loads the existing one. It returns skip=true when the entry is already
	// terminal and force is false.
	Observe(candidate models.CandidateItem, seq uint64, runID string, force bool) (entry *models.LedgerEntry, skip bool, err error)

	// RecordTransition applies one state machine edge and persists it
	// atomically. mutate, when non-nil, updates entry fields under the same
	// per-item lock before persisting.
	RecordTransition(itemID string, from, to models.ItemState, detail string, mutate func(*models.LedgerEntry)) error

	// Get returns the entry for an item ID.
	Get(itemID string) (*models.LedgerEntry, error)

	// CountByState returns the number of entries per lifecycle state.
	CountByState() (map[models.ItemState]int, error)

	// SuccessRate returns kept / (kept + rejected + failed), 0 when empty.
	SuccessRate() (float64, error)

	// AvgFetchLatency averages recorded fetch durations over fetched items.
	AvgFetchLatency() (time.Duration, error)

	// DuplicateGroupCount returns the number of distinct canonical items
	// referenced by duplicate-rejected entries.
	DuplicateGroupCount() (int, error)

	// Export writes one JSON record per entry (JSONL) to w.
	Export(w io.Writer) (int, error)

	Close() error
}
