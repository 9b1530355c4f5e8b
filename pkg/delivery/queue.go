package delivery

import (
	"sort"
	"sync"
)

// Queue orders wrappers by priority (lower first) and by arrival inside a
// priority. A payload is queued once: appending a wrapper whose signature is
// already queued is refused.
type Queue struct {
	mu         sync.Mutex
	fleets     map[int][]*Wrapper
	priorities []int
	signatures map[string]*Wrapper
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		fleets:     make(map[int][]*Wrapper),
		signatures: make(map[string]*Wrapper),
	}
}

// Append queues w. It returns false when the same payload is already queued.
func (q *Queue) Append(w *Wrapper) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.signatures[w.Signature()]; exists {
		return false
	}
	q.signatures[w.Signature()] = w

	fleet, ok := q.fleets[w.Priority()]
	if !ok {
		q.insertPriority(w.Priority())
	}
	q.fleets[w.Priority()] = append(fleet, w)
	return true
}

func (q *Queue) insertPriority(p int) {
	i := sort.SearchInts(q.priorities, p)
	q.priorities = append(q.priorities, 0)
	copy(q.priorities[i+1:], q.priorities[i:])
	q.priorities[i] = p
}

// Next returns the most urgent wrapper never handed off and marks it. It
// returns nil when every queued wrapper was already sent.
func (q *Queue) Next() *Wrapper {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range q.priorities {
		for _, w := range q.fleets[p] {
			if w.IsVirgin() {
				w.Mark()
				return w
			}
		}
	}
	return nil
}

// Eject removes and returns the first wrapper that is finished: acknowledged
// (payload released) or failed. It returns nil when none is.
func (q *Queue) Eject() *Wrapper {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range q.priorities {
		for i, w := range q.fleets[p] {
			if w.IsReleased() || w.IsFailed() {
				q.removeAt(p, i)
				return w
			}
		}
	}
	return nil
}

// Purge removes every finished wrapper and returns the failed ones. A
// rejection after release still counts as a failure; wrappers that were only
// released are dropped silently.
func (q *Queue) Purge() []*Wrapper {
	var failed []*Wrapper
	for {
		w := q.Eject()
		if w == nil {
			return failed
		}
		if w.IsRejected() || !w.IsReleased() {
			failed = append(failed, w)
		}
	}
}

// Find returns the queued wrapper of the payload with signature
func (q *Queue) Find(signature string) *Wrapper {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.signatures[signature]
}

// Remove drops w from the queue
func (q *Queue) Remove(w *Wrapper) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, x := range q.fleets[w.Priority()] {
		if x == w {
			q.removeAt(w.Priority(), i)
			return true
		}
	}
	return false
}

func (q *Queue) removeAt(p, i int) {
	fleet := q.fleets[p]
	w := fleet[i]
	delete(q.signatures, w.Signature())

	fleet = append(fleet[:i], fleet[i+1:]...)
	if len(fleet) > 0 {
		q.fleets[p] = fleet
		return
	}
	delete(q.fleets, p)
	j := sort.SearchInts(q.priorities, p)
	q.priorities = append(q.priorities[:j], q.priorities[j+1:]...)
}

// Len returns the number of queued wrappers
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.signatures)
}

// Stats returns queue counters by marker state and by priority
func (q *Queue) Stats() map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	var virgin, sent, acknowledged, failed, released int
	byPriority := make(map[int]int)
	for _, p := range q.priorities {
		for _, w := range q.fleets[p] {
			byPriority[p]++
			switch {
			case w.IsRejected():
				failed++
			case w.IsReleased():
				released++
			case w.IsFailed():
				failed++
			case w.IsVirgin():
				virgin++
			case w.IsAcknowledged():
				acknowledged++
			default:
				sent++
			}
		}
	}

	return map[string]interface{}{
		"total":        len(q.signatures),
		"virgin":       virgin,
		"sent":         sent,
		"acknowledged": acknowledged,
		"failed":       failed,
		"released":     released,
		"by_priority":  byPriority,
	}
}
