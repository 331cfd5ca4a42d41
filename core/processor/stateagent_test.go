package processor

import (
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStateAgent(t *testing.T) {
	Convey("Given a state agent over two ports", t, func() {
		var fired int32
		agent := NewStateAgent(2, func() {
			atomic.AddInt32(&fired, 1)
		})

		Convey("Counts should aggregate", func() {
			agent.IncSubmitted()
			agent.IncSubmitted()
			agent.IncCompleted()
			snap := agent.Snapshot()
			So(snap.Submitted, ShouldEqual, 2)
			So(snap.Completed, ShouldEqual, 1)
			So(snap.Poisoned, ShouldBeFalse)
			agent.IncCompleted()
			agent.Close()
			So(atomic.LoadInt32(&fired), ShouldEqual, 0)
		})

		Convey("Poisoning one port should not poison the process", func() {
			agent.PoisonPort(0)
			So(agent.Snapshot().Poisoned, ShouldBeFalse)
			agent.Close()
		})

		Convey("Poisoning all ports with drained work should fire the terminal exactly once", func() {
			agent.IncSubmitted()
			agent.PoisonPort(0)
			agent.PoisonPort(1)
			So(agent.Snapshot().Poisoned, ShouldBeTrue)
			So(atomic.LoadInt32(&fired), ShouldEqual, 0) // still one in flight
			agent.IncCompleted()
			agent.Snapshot() // barrier: the completion event is processed
			So(atomic.LoadInt32(&fired), ShouldEqual, 1)
			// further events must not re-fire
			agent.IncSubmitted()
			agent.IncCompleted()
			agent.Snapshot()
			So(atomic.LoadInt32(&fired), ShouldEqual, 1)
			agent.Close()
		})

		Convey("Transitions should serialize under concurrency", func() {
			const n = 100
			for i := 0; i < n; i++ {
				go agent.IncSubmitted()
			}
			deadline := time.Now().Add(2 * time.Second)
			for agent.Snapshot().Submitted < n {
				if time.Now().After(deadline) {
					break
				}
				time.Sleep(time.Millisecond)
			}
			So(agent.Snapshot().Submitted, ShouldEqual, n)
			agent.Close()
		})
	})
}
