package transaction

// Timer is a cancellable, self-addressed timeout. Stop is best-effort: the
// timeout message may already be in flight.
type Timer interface {
	Stop() bool
}

// TimerID tags each armed timeout so a fired message can be matched against
// the timers that are still outstanding.
type TimerID uint64

type timerEntry struct {
	id    TimerID
	timer Timer
}

// TimerQueue tracks the outstanding timeouts toward one peer in arming order.
// A reply cancels the oldest one.
type TimerQueue struct {
	entries []timerEntry
}

func (q *TimerQueue) Push(id TimerID, t Timer) {
	q.entries = append(q.entries, timerEntry{id: id, timer: t})
}

// CancelOldest stops and forgets the oldest outstanding timer.
func (q *TimerQueue) CancelOldest() bool {
	if len(q.entries) == 0 {
		return false
	}
	q.entries[0].timer.Stop()
	q.entries = q.entries[1:]
	return true
}

// Remove forgets the timer with the given id, typically because it fired.
func (q *TimerQueue) Remove(id TimerID) bool {
	for i, e := range q.entries {
		if e.id == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether id is still outstanding (not cancelled, not consumed).
func (q *TimerQueue) Contains(id TimerID) bool {
	for _, e := range q.entries {
		if e.id == id {
			return true
		}
	}
	return false
}

// CancelAll stops every outstanding timer.
func (q *TimerQueue) CancelAll() {
	for _, e := range q.entries {
		e.timer.Stop()
	}
	q.entries = nil
}

func (q *TimerQueue) Len() int { return len(q.entries) }
