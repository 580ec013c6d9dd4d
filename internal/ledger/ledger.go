package ledger

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/verdant/internal/common"
	"github.com/ternarybob/verdant/internal/interfaces"
	"github.com/ternarybob/verdant/internal/models"
)

// lockStripes bounds the per-item mutex table. Transitions for one item are
// serialized; distinct items (usually) map to distinct stripes and proceed in
// parallel.
const lockStripes = 64

// Ledger implements the durable status tracker on BadgerDB. Writes are
// synchronous: a transition that has been recorded survives a crash, which
// makes the ledger the source of truth for resumption.
type Ledger struct {
	store  *badgerhold.Store
	locks  [lockStripes]sync.Mutex
	logger arbor.ILogger
}

// New opens (or creates) the ledger database at the configured path.
func New(config *common.BadgerConfig, logger arbor.ILogger) (*Ledger, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing ledger (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete ledger directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.SyncWrites = true // recorded transitions must survive a crash
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Ledger database initialized")

	return &Ledger{store: store, logger: logger}, nil
}

// Observe creates the ledger entry for a candidate on first sight, or loads
// the existing entry for its (source, locator) pair. Entries already in a
// terminal state are skipped unless force is set.
func (l *Ledger) Observe(candidate models.CandidateItem, seq uint64, runID string, force bool) (*models.LedgerEntry, bool, error) {
	id := common.NewItemID(candidate.SourceID, candidate.RemoteLocator)

	lock := l.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	var existing models.LedgerEntry
	err := l.store.Get(id, &existing)
	if err == nil {
		if existing.State.IsTerminal() && !force {
			return &existing, true, nil
		}
		// Forced reprocessing and entries interrupted mid-flight by an
		// earlier run both restart the lifecycle from discovered.
		existing.State = models.StateDiscovered
		existing.RejectionReason = ""
		existing.FailureMessage = ""
		existing.Retryable = false
		existing.CanonicalID = ""
		existing.Seq = seq
		existing.RunID = runID
		existing.UpdatedAt = time.Now()
		if err := l.store.Upsert(id, &existing); err != nil {
			return nil, false, fmt.Errorf("ledger write failed: %w", err)
		}
		return &existing, false, nil
	}
	if err != badgerhold.ErrNotFound {
		return nil, false, fmt.Errorf("ledger read failed: %w", err)
	}

	now := time.Now()
	entry := models.LedgerEntry{
		ID:            id,
		SourceID:      candidate.SourceID,
		RemoteLocator: candidate.RemoteLocator,
		Category:      candidate.ExpectedCategory,
		LicenseTag:    candidate.LicenseTag,
		Metadata:      candidate.DeclaredMetadata,
		State:         models.StateDiscovered,
		Seq:           seq,
		RunID:         runID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.store.Insert(id, &entry); err != nil {
		return nil, false, fmt.Errorf("ledger write failed: %w", err)
	}
	return &entry, false, nil
}

// RecordTransition applies one state machine edge atomically. Illegal
// transitions (including any transition out of a terminal state) return an
// error and persist nothing.
func (l *Ledger) RecordTransition(itemID string, from, to models.ItemState, detail string, mutate func(*models.LedgerEntry)) error {
	lock := l.lockFor(itemID)
	lock.Lock()
	defer lock.Unlock()

	var entry models.LedgerEntry
	if err := l.store.Get(itemID, &entry); err != nil {
		return fmt.Errorf("ledger read failed for %s: %w", itemID, err)
	}

	if entry.State != from {
		return fmt.Errorf("stale transition for %s: entry is %s, not %s", itemID, entry.State, from)
	}
	if !models.CanTransition(from, to) {
		return fmt.Errorf("illegal transition for %s: %s -> %s", itemID, from, to)
	}

	now := time.Now()
	entry.State = to
	entry.UpdatedAt = now
	entry.Transitions = append(entry.Transitions, models.Transition{
		From:   from,
		To:     to,
		At:     now,
		Detail: detail,
	})
	if mutate != nil {
		mutate(&entry)
	}

	if err := l.store.Upsert(itemID, &entry); err != nil {
		return fmt.Errorf("ledger write failed for %s: %w", itemID, err)
	}
	return nil
}

// Get returns the entry for an item ID.
func (l *Ledger) Get(itemID string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := l.store.Get(itemID, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("ledger entry not found: %s", itemID)
		}
		return nil, fmt.Errorf("ledger read failed: %w", err)
	}
	return &entry, nil
}

// CountByState returns the number of entries per lifecycle state.
func (l *Ledger) CountByState() (map[models.ItemState]int, error) {
	entries, err := l.all()
	if err != nil {
		return nil, err
	}
	counts := make(map[models.ItemState]int)
	for i := range entries {
		counts[entries[i].State]++
	}
	return counts, nil
}

// SuccessRate returns kept / terminal, or 0 when nothing is terminal.
func (l *Ledger) SuccessRate() (float64, error) {
	counts, err := l.CountByState()
	if err != nil {
		return 0, err
	}
	terminal := counts[models.StateKept] + counts[models.StateRejected] + counts[models.StateFailed]
	if terminal == 0 {
		return 0, nil
	}
	return float64(counts[models.StateKept]) / float64(terminal), nil
}

// AvgFetchLatency averages recorded fetch durations over entries that
// completed a fetch.
func (l *Ledger) AvgFetchLatency() (time.Duration, error) {
	entries, err := l.all()
	if err != nil {
		return 0, err
	}
	var total time.Duration
	var n int
	for i := range entries {
		if entries[i].FetchDuration > 0 {
			total += entries[i].FetchDuration
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}

// DuplicateGroupCount returns the number of distinct canonical items that
// have at least one duplicate-rejected entry pointing at them.
func (l *Ledger) DuplicateGroupCount() (int, error) {
	var dupes []models.LedgerEntry
	err := l.store.Find(&dupes, badgerhold.Where("RejectionReason").Eq(models.RejectDuplicate))
	if err != nil {
		return 0, fmt.Errorf("ledger query failed: %w", err)
	}
	canonical := make(map[string]struct{})
	for i := range dupes {
		if dupes[i].CanonicalID != "" {
			canonical[dupes[i].CanonicalID] = struct{}{}
		}
	}
	return len(canonical), nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l.store != nil {
		return l.store.Close()
	}
	return nil
}

func (l *Ledger) all() ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := l.store.Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	return entries, nil
}

func (l *Ledger) lockFor(itemID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(itemID))
	return &l.locks[h.Sum32()%lockStripes]
}

var _ interfaces.Ledger = (*Ledger)(nil)
