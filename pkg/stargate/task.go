package stargate

import "sync/atomic"

// TaskIDs hands out task ids. Zero is never returned.
type TaskIDs struct {
	last atomic.Uint32
}

// Next returns a fresh task id
func (t *TaskIDs) Next() int {
	for {
		id := t.last.Add(1)
		if id != 0 && id <= 1<<31-1 {
			return int(id)
		}
		t.last.CompareAndSwap(id, 0)
	}
}
