package pipeline

import (
	"context"
	"sync"
)

// Sequencer orders duplicate checks by submission sequence. Workers complete
// fetch, validation and embedding in any order, but Wait blocks each item
// until every lower-sequenced item has called Done, so the index always sees
// items in the order they were enumerated.
type Sequencer struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64
	done map[uint64]bool
}

// NewSequencer starts at sequence number first.
func NewSequencer(first uint64) *Sequencer {
	s := &Sequencer{
		next: first,
		done: make(map[uint64]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Wait blocks until all sequences below seq are done, or ctx is cancelled.
func (s *Sequencer) Wait(ctx context.Context, seq uint64) error {
	// Wake the cond loop when the context is cancelled so waiters observe it.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.next < seq {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.cond.Wait()
	}
	return ctx.Err()
}

// Done marks seq complete, releasing waiters on higher sequences. Safe to
// call more than once for the same sequence.
func (s *Sequencer) Done(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.next || s.done[seq] {
		return
	}
	s.done[seq] = true
	for s.done[s.next] {
		delete(s.done, s.next)
		s.next++
	}
	s.cond.Broadcast()
}
