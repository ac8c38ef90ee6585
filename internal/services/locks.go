package services

import "sync"

// participantLocks serializes mutating operations per participant. Holding
// the participant's lock across a whole start/finish/register keeps the
// at-most-one-active invariant under concurrent requests from the same device
// without serializable transactions.
type participantLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newParticipantLocks() *participantLocks {
	return &participantLocks{m: map[string]*sync.Mutex{}}
}

// lock acquires the mutex for the given participant id and returns the
// corresponding unlock function. Entries are never evicted; the participant
// set is small and operator-bounded.
func (l *participantLocks) lock(id string) func() {
	l.mu.Lock()
	pm, ok := l.m[id]
	if !ok {
		pm = &sync.Mutex{}
		l.m[id] = pm
	}
	l.mu.Unlock()
	pm.Lock()
	return pm.Unlock
}
