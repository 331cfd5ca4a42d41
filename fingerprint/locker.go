package fingerprint

import (
	"sync"

	"go.rillflow.net/rill/def"
)

/*
	LockTable serializes work-dir creation per fingerprint: at most one
	goroutine may be materializing a given fingerprint at any instant,
	across every process in the session.

	Acquisition is FIFO.  Holders are expected to do no I/O beyond
	creating a directory; anything longer belongs outside the lock.
*/
type LockTable struct {
	mu    sync.Mutex
	slots map[def.Fingerprint]*lockSlot
}

type lockSlot struct {
	queue []chan struct{}
}

func NewLockTable() *LockTable {
	return &LockTable{
		slots: make(map[def.Fingerprint]*lockSlot),
	}
}

func (t *LockTable) Lock(fp def.Fingerprint) {
	t.mu.Lock()
	slot, held := t.slots[fp]
	if !held {
		t.slots[fp] = &lockSlot{}
		t.mu.Unlock()
		return
	}
	turn := make(chan struct{})
	slot.queue = append(slot.queue, turn)
	t.mu.Unlock()
	<-turn
}

func (t *LockTable) Unlock(fp def.Fingerprint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, held := t.slots[fp]
	if !held {
		panic("unlock of unheld fingerprint")
	}
	if len(slot.queue) == 0 {
		delete(t.slots, fp)
		return
	}
	next := slot.queue[0]
	slot.queue = slot.queue[1:]
	close(next)
}

// WithLock runs fn while holding the fingerprint's slot.
func (t *LockTable) WithLock(fp def.Fingerprint, fn func()) {
	t.Lock(fp)
	defer t.Unlock(fp)
	fn()
}
