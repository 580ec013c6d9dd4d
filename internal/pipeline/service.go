// -----------------------------------------------------------------------
// Pipeline orchestrator
// Drives candidates from discovery through fetch, validation, embedding
// and duplicate resolution under a global concurrency cap
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/verdant/internal/common"
	"github.com/ternarybob/verdant/internal/dupindex"
	"github.com/ternarybob/verdant/internal/embedder"
	"github.com/ternarybob/verdant/internal/fetcher"
	"github.com/ternarybob/verdant/internal/interfaces"
	"github.com/ternarybob/verdant/internal/models"
	"github.com/ternarybob/verdant/internal/ratelimit"
	"github.com/ternarybob/verdant/internal/validator"
)

// Failure classes for the run summary's error breakdown.
const (
	failureFetchTransient = "fetch_transient"
	failureFetchPermanent = "fetch_permanent"
	failureEmbedding      = "embedding_service"
	failureStorage        = "storage_io"
)

// workItem is one candidate scheduled for processing within a run.
type workItem struct {
	candidate models.CandidateItem
	def       *models.SourceDefinition
	entryID   string
	seq       uint64
}

// Service orchestrates one pipeline run end to end. Per-item errors are
// recorded in the ledger and never abort the run; ledger write failures do.
type Service struct {
	config    *common.Config
	adapters  []interfaces.SourceAdapter
	limiter   *ratelimit.Limiter
	fetcher   *fetcher.Fetcher
	validator *validator.Validator
	embedder  interfaces.Embedder
	index     *dupindex.Index
	ledger    interfaces.Ledger
	logger    arbor.ILogger

	sequencer *Sequencer

	// hashMu guards kept content hashes; exact byte duplicates short-circuit
	// the embedding call.
	hashMu sync.Mutex
	hashes map[string]string // content hash -> kept item ID

	countMu    sync.Mutex
	kept       int
	rejected   int
	failed     int
	errClasses map[string]int
	rejReasons map[string]int

	abortOnce sync.Once
	abortErr  error
	abort     context.CancelFunc
}

// NewService wires the pipeline from its components.
func NewService(
	config *common.Config,
	adapters []interfaces.SourceAdapter,
	limiter *ratelimit.Limiter,
	f *fetcher.Fetcher,
	v *validator.Validator,
	emb interfaces.Embedder,
	index *dupindex.Index,
	ledger interfaces.Ledger,
	logger arbor.ILogger,
) *Service {
	return &Service{
		config:    config,
		adapters:  adapters,
		limiter:   limiter,
		fetcher:   f,
		validator: v,
		embedder:  emb,
		index:     index,
		ledger:    ledger,
		logger:    logger,
	}
}

// Run executes one full pipeline pass over every configured source. It
// always returns a summary; the error is non-nil only when the run aborted
// on a ledger or enumeration failure.
func (s *Service) Run(ctx context.Context) (*models.RunSummary, error) {
	runID := common.NewRunID()
	summary := &models.RunSummary{
		RunID:   runID,
		Started: time.Now(),
	}

	s.logger.Info().
		Str("run_id", runID).
		Int("sources", len(s.adapters)).
		Int("concurrency", s.config.Pipeline.Concurrency).
		Msg("Starting pipeline run")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.abort = cancel
	s.abortErr = nil
	s.abortOnce = sync.Once{}
	s.hashes = make(map[string]string)
	s.errClasses = make(map[string]int)
	s.rejReasons = make(map[string]int)
	s.kept, s.rejected, s.failed = 0, 0, 0
	s.index.Reset()

	items, skipped, err := s.discover(runCtx, runID)
	if err != nil {
		summary.Finished = time.Now()
		return summary, err
	}
	summary.Discovered = len(items) + skipped
	summary.Skipped = skipped

	s.sequencer = NewSequencer(1)
	sem := make(chan struct{}, s.config.Pipeline.Concurrency)
	var wg sync.WaitGroup

	for _, item := range items {
		item := item
		select {
		case <-runCtx.Done():
			// Unscheduled items stay non-terminal and resume next run.
			s.sequencer.Done(item.seq)
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		common.SafeGo(s.logger, "pipeline-worker", func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.sequencer.Done(item.seq)
			s.process(runCtx, item)
		})
	}
	wg.Wait()

	s.finalize(summary)

	if s.abortErr != nil {
		return summary, s.abortErr
	}
	return summary, nil
}

// discover enumerates every source in catalog order, assigns submission
// sequence numbers and observes each candidate into the ledger. Entries
// already terminal are skipped (unless force) and excluded from scheduling.
func (s *Service) discover(ctx context.Context, runID string) ([]workItem, int, error) {
	var items []workItem
	var seq uint64
	skipped := 0
	force := s.config.Pipeline.Force
	scheduled := make(map[string]bool)

	for _, adapter := range s.adapters {
		def := adapter.Definition()
		if def.RateLimit.Calls > 0 {
			s.limiter.Configure(def.ID, def.RateLimit)
		}

		candidates, err := adapter.Enumerate(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("source %s enumeration failed: %w", def.ID, err)
		}

		s.logger.Info().
			Str("source", def.ID).
			Int("candidates", len(candidates)).
			Msg("Source enumerated")

		for _, candidate := range candidates {
			seq++
			entry, skip, err := s.ledger.Observe(candidate, seq, runID, force)
			if err != nil {
				return nil, 0, err
			}
			if skip {
				skipped++
				seq--
				continue
			}
			// A catalog may list the same locator twice; the item is one
			// ledger entry and is scheduled once, first occurrence wins.
			if scheduled[entry.ID] {
				seq--
				s.logger.Debug().
					Str("source", def.ID).
					Str("item_id", entry.ID).
					Msg("Duplicate catalog locator ignored")
				continue
			}
			scheduled[entry.ID] = true
			items = append(items, workItem{
				candidate: candidate,
				def:       def,
				entryID:   entry.ID,
				seq:       seq,
			})
		}
	}

	return items, skipped, nil
}

// process drives one item through the lifecycle. Every terminal outcome is
// recorded in the ledger; a cancelled context leaves the item non-terminal
// so the next run picks it up again.
func (s *Service) process(ctx context.Context, item workItem) {
	// License gate, before any network traffic.
	if !item.def.LicenseAllowed(item.candidate.LicenseTag) {
		s.reject(item, models.StateDiscovered, models.RejectLicense,
			fmt.Sprintf("license %q not in allow-list", item.candidate.LicenseTag), nil)
		return
	}

	if !s.transition(item, models.StateDiscovered, models.StateFetching, "", nil) {
		return
	}

	result := s.fetcher.Fetch(ctx, item.candidate)
	if result.Outcome != models.FetchSuccess {
		if ctx.Err() != nil {
			return
		}
		class := failureFetchPermanent
		retryable := false
		if result.Outcome == models.FetchTransientFailure {
			class = failureFetchTransient
			retryable = true
		}
		s.fail(item, models.StateFetching, class, result.Err, retryable, func(e *models.LedgerEntry) {
			e.AttemptCount = result.AttemptCount
			e.FetchDuration = result.Duration
		})
		return
	}

	if !s.transition(item, models.StateFetching, models.StateFetched, "", func(e *models.LedgerEntry) {
		e.AttemptCount = result.AttemptCount
		e.ByteSize = result.ByteSize
		e.ContentHash = result.ContentHash
		e.LocalPath = result.LocalPath
		e.FetchDuration = result.Duration
	}) {
		return
	}

	if !s.transition(item, models.StateFetched, models.StateValidating, "", nil) {
		return
	}

	verdict := s.validator.Validate(result)
	if !verdict.Valid {
		s.reject(item, models.StateValidating, verdict.Reason, "", func(e *models.LedgerEntry) {
			e.Width = verdict.Width
			e.Height = verdict.Height
			e.Format = verdict.Format
			e.ColorMode = verdict.ColorMode
		})
		return
	}

	if !s.transition(item, models.StateValidating, models.StateValidated, "", func(e *models.LedgerEntry) {
		e.Width = verdict.Width
		e.Height = verdict.Height
		e.Format = verdict.Format
		e.ColorMode = verdict.ColorMode
	}) {
		return
	}

	if !s.transition(item, models.StateValidated, models.StateEmbedding, "", nil) {
		return
	}

	// Exact byte duplicates of an already kept item need no embedding or file
	// read; the authoritative check happens again inside the sequenced section.
	var vector []float32
	if _, exact := s.keptHash(result.ContentHash); !exact {
		data, err := os.ReadFile(result.LocalPath)
		if err != nil {
			s.fail(item, models.StateEmbedding, failureStorage, err.Error(), false, nil)
			return
		}
		vector, err = s.embedder.Embed(ctx, data, result.ContentType)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var svcErr *embedder.ServiceError
			retryable := errors.As(err, &svcErr)
			s.fail(item, models.StateEmbedding, failureEmbedding, err.Error(), retryable, nil)
			return
		}
	}

	if !s.transition(item, models.StateEmbedding, models.StateDuplicateCheck, "", nil) {
		return
	}

	// Duplicate resolution runs in submission order so first-seen-wins is
	// reproducible regardless of worker scheduling.
	if err := s.sequencer.Wait(ctx, item.seq); err != nil {
		return
	}

	if canonical, exact := s.keptHash(result.ContentHash); exact {
		s.reject(item, models.StateDuplicateCheck, models.RejectDuplicate, "exact content match", func(e *models.LedgerEntry) {
			e.CanonicalID = canonical
		})
		return
	}

	if vector == nil {
		// The opportunistic hash hit was observed before the sequenced check
		// but the kept set can only grow, so this cannot happen.
		s.fail(item, models.StateDuplicateCheck, failureEmbedding, "missing embedding vector", true, nil)
		return
	}

	canonical, distance, isDuplicate := s.index.CheckAndInsert(item.entryID, item.seq, vector)
	if isDuplicate {
		s.reject(item, models.StateDuplicateCheck, models.RejectDuplicate,
			fmt.Sprintf("distance %.4f below threshold %.4f", distance, s.index.Threshold()),
			func(e *models.LedgerEntry) {
				e.CanonicalID = canonical
			})
		return
	}

	if !s.transition(item, models.StateDuplicateCheck, models.StateKept, "", func(e *models.LedgerEntry) {
		e.EmbeddingModel = s.embedder.ModelVersion()
	}) {
		return
	}
	s.recordKeptHash(result.ContentHash, item.entryID)

	s.countMu.Lock()
	s.kept++
	s.countMu.Unlock()

	s.logger.Debug().
		Str("item", item.entryID).
		Str("source", item.candidate.SourceID).
		Msg("Item kept")
}

// transition records one state machine edge, aborting the run on a ledger
// write failure. Returns false when processing of the item must stop.
func (s *Service) transition(item workItem, from, to models.ItemState, detail string, mutate func(*models.LedgerEntry)) bool {
	if err := s.ledger.RecordTransition(item.entryID, from, to, detail, mutate); err != nil {
		s.abortRun(fmt.Errorf("ledger write for item %s failed: %w", item.entryID, err))
		return false
	}
	return true
}

func (s *Service) reject(item workItem, from models.ItemState, reason models.RejectionReason, detail string, mutate func(*models.LedgerEntry)) {
	ok := s.transition(item, from, models.StateRejected, detail, func(e *models.LedgerEntry) {
		e.RejectionReason = reason
		if mutate != nil {
			mutate(e)
		}
	})
	if !ok {
		return
	}

	s.countMu.Lock()
	s.rejected++
	s.rejReasons[string(reason)]++
	s.countMu.Unlock()

	s.logger.Debug().
		Str("item", item.entryID).
		Str("reason", string(reason)).
		Msg("Item rejected")
}

func (s *Service) fail(item workItem, from models.ItemState, class, message string, retryable bool, mutate func(*models.LedgerEntry)) {
	ok := s.transition(item, from, models.StateFailed, message, func(e *models.LedgerEntry) {
		e.FailureMessage = message
		e.Retryable = retryable
		if mutate != nil {
			mutate(e)
		}
	})
	if !ok {
		return
	}

	s.countMu.Lock()
	s.failed++
	s.errClasses[class]++
	s.countMu.Unlock()

	s.logger.Warn().
		Str("item", item.entryID).
		Str("class", class).
		Str("error", message).
		Msg("Item failed")
}

func (s *Service) keptHash(contentHash string) (string, bool) {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	id, ok := s.hashes[contentHash]
	return id, ok
}

func (s *Service) recordKeptHash(contentHash, itemID string) {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	if _, exists := s.hashes[contentHash]; !exists {
		s.hashes[contentHash] = itemID
	}
}

func (s *Service) abortRun(err error) {
	s.abortOnce.Do(func() {
		s.abortErr = err
		s.logger.Error().Err(err).Msg("Aborting pipeline run")
		s.abort()
	})
}

// finalize fills the summary's aggregate fields from run counters and the
// ledger. Statistics failures are logged, not fatal; the summary is always
// produced.
func (s *Service) finalize(summary *models.RunSummary) {
	summary.Finished = time.Now()

	s.countMu.Lock()
	summary.Kept = s.kept
	summary.Rejected = s.rejected
	summary.Failed = s.failed
	if len(s.errClasses) > 0 {
		summary.ErrorBreakdown = make(map[string]int, len(s.errClasses))
		for k, v := range s.errClasses {
			summary.ErrorBreakdown[k] = v
		}
	}
	if len(s.rejReasons) > 0 {
		summary.RejectionBreakdown = make(map[string]int, len(s.rejReasons))
		for k, v := range s.rejReasons {
			summary.RejectionBreakdown[k] = v
		}
	}
	s.countMu.Unlock()

	if rate, err := s.ledger.SuccessRate(); err == nil {
		summary.SuccessRate = rate
	} else {
		s.logger.Warn().Err(err).Msg("Failed to compute success rate")
	}
	if latency, err := s.ledger.AvgFetchLatency(); err == nil {
		summary.AvgFetchLatency = latency
	} else {
		s.logger.Warn().Err(err).Msg("Failed to compute fetch latency")
	}
	if groups, err := s.ledger.DuplicateGroupCount(); err == nil {
		summary.DuplicateGroups = groups
	} else {
		s.logger.Warn().Err(err).Msg("Failed to count duplicate groups")
	}

	s.logger.Info().
		Str("run_id", summary.RunID).
		Int("discovered", summary.Discovered).
		Int("skipped", summary.Skipped).
		Int("kept", summary.Kept).
		Int("rejected", summary.Rejected).
		Int("failed", summary.Failed).
		Str("elapsed", summary.Finished.Sub(summary.Started).String()).
		Msg("Pipeline run complete")
}
