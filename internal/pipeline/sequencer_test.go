package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReturnsImmediatelyForLowestSeq(t *testing.T) {
	s := NewSequencer(1)
	require.NoError(t, s.Wait(context.Background(), 1))
}

func TestWaitBlocksUntilLowerSeqsDone(t *testing.T) {
	s := NewSequencer(1)

	released := make(chan struct{})
	go func() {
		s.Wait(context.Background(), 3)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("seq 3 must wait for 1 and 2")
	case <-time.After(50 * time.Millisecond):
	}

	s.Done(1)
	select {
	case <-released:
		t.Fatal("seq 3 must still wait for 2")
	case <-time.After(50 * time.Millisecond):
	}

	s.Done(2)
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("seq 3 did not release after 1 and 2 completed")
	}
}

func TestOutOfOrderDone(t *testing.T) {
	s := NewSequencer(1)

	// Completing 3 and 2 first must not release seq 4 until 1 is done.
	s.Done(3)
	s.Done(2)

	released := make(chan struct{})
	go func() {
		s.Wait(context.Background(), 4)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("seq 4 must wait for 1")
	case <-time.After(50 * time.Millisecond):
	}

	s.Done(1)
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("seq 4 did not release")
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	s := NewSequencer(1)
	s.Done(1)
	s.Done(1)
	s.Done(2)

	require.NoError(t, s.Wait(context.Background(), 3))
}

func TestWaitObservesCancellation(t *testing.T) {
	s := NewSequencer(1)
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() {
		errs <- s.Wait(ctx, 5)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait ignored cancellation")
	}
}

func TestConcurrentWaitersReleaseInOrder(t *testing.T) {
	s := NewSequencer(1)

	var mu sync.Mutex
	var order []uint64
	var wg sync.WaitGroup

	for seq := uint64(1); seq <= 5; seq++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			assert.NoError(t, s.Wait(context.Background(), seq))
			mu.Lock()
			order = append(order, seq)
			mu.Unlock()
			s.Done(seq)
		}(seq)
	}
	wg.Wait()

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, order)
}
