package processor

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSequencerFairness(t *testing.T) {
	Convey("Given completions arriving out of order", t, func() {
		var mu sync.Mutex
		var emitted []int64
		record := func(idx int64) func() {
			return func() {
				mu.Lock()
				emitted = append(emitted, idx)
				mu.Unlock()
			}
		}

		Convey("A fair sequencer should release in tuple order", func() {
			q := NewSequencer(true)
			q.Release(2, record(2))
			q.Release(0, record(0))
			q.Release(1, record(1))
			So(emitted, ShouldResemble, []int64{0, 1, 2})
		})

		Convey("An unfair sequencer should release in completion order", func() {
			q := NewSequencer(false)
			q.Release(2, record(2))
			q.Release(0, record(0))
			q.Release(1, record(1))
			So(emitted, ShouldResemble, []int64{2, 0, 1})
		})

		Convey("Dropped tuples should not wedge the cursor", func() {
			q := NewSequencer(true)
			q.Release(1, record(1))
			So(emitted, ShouldBeEmpty)
			q.Release(0, func() {}) // an ignored failure slot
			So(emitted, ShouldResemble, []int64{1})
		})

		Convey("A completion below the cursor should panic loudly", func() {
			q := NewSequencer(true)
			q.Release(0, record(0))
			So(func() { q.Release(0, record(0)) }, ShouldPanic)
		})
	})
}

func TestSequencerUnderContention(t *testing.T) {
	Convey("Concurrent releases should still emit strictly ascending", t, func() {
		q := NewSequencer(true)
		const n = 200
		var mu sync.Mutex
		var emitted []int64
		var wg sync.WaitGroup
		for i := int64(0); i < n; i++ {
			wg.Add(1)
			go func(idx int64) {
				defer wg.Done()
				q.Release(idx, func() {
					mu.Lock()
					emitted = append(emitted, idx)
					mu.Unlock()
				})
			}(i)
		}
		wg.Wait()
		So(len(emitted), ShouldEqual, n)
		for i := 1; i < len(emitted); i++ {
			So(emitted[i-1] < emitted[i], ShouldBeTrue)
		}
	})
}
