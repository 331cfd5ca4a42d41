package processor

import (
	"sync"

	"github.com/spacemonkeygo/errors"
)

/*
	Sequencer is the fair-ordering reorder buffer.

	An unfair process binds outputs the moment a task finishes.  A fair
	one holds completions in a sliding buffer keyed by tuple index and
	releases them in strictly ascending order, however scrambled the
	completion order was.

	A completion arriving for an index below the emission cursor would
	mean the buffer already released it once; that's an invariant
	violation, and we say so instead of silently corrupting the window.
*/
type Sequencer struct {
	fair bool

	mu      sync.Mutex
	current int64
	pending map[int64]func()
}

func NewSequencer(fair bool) *Sequencer {
	return &Sequencer{
		fair:    fair,
		pending: make(map[int64]func()),
	}
}

/*
	Release hands the sequencer one finished tuple's bind thunk.  The
	thunk runs exactly once: immediately when unfair, in index order when
	fair.  Dropped tuples (ignored errors, skipped guards) release an
	empty thunk so the cursor can pass them.
*/
func (q *Sequencer) Release(tupleIndex int64, bind func()) {
	if !q.fair {
		bind()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if tupleIndex < q.current {
		panic(errors.ProgrammerError.New(
			"emission sequencer saw tuple %d again after the cursor passed it (cursor at %d)",
			tupleIndex, q.current))
	}
	q.pending[tupleIndex] = bind
	for {
		next, ready := q.pending[q.current]
		if !ready {
			return
		}
		delete(q.pending, q.current)
		q.current++
		next()
	}
}
