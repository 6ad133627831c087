package enki

import "sync"

// Store holds the last known device state behind a read/write lock.
// Writes come from a single owner (the polling coordinator); readers
// take snapshots and may subscribe for change notifications.
type Store struct {
	mu sync.RWMutex

	state       DeviceState
	stateSeeded bool

	report       ErrorReport
	reportSeeded bool

	subs    map[int]chan struct{}
	nextSub int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]chan struct{})}
}

// Snapshot returns a copy of the current state. The second return is
// false until the first successful poll seeds the store.
func (s *Store) Snapshot() (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.stateSeeded
}

// SetState replaces the stored state and reports whether the device
// state advanced. Notifications fire only when the report timestamp
// moves, so a poll that returns the same reading stays silent.
func (s *Store) SetState(state DeviceState) bool {
	s.mu.Lock()
	changed := !s.stateSeeded || !state.LastReportedDate.Equal(s.state.LastReportedDate)
	s.state = state
	s.stateSeeded = true
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// ErrorReport returns the last fetched fault report, if any.
func (s *Store) ErrorReport() (ErrorReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report, s.reportSeeded
}

func (s *Store) SetErrorReport(report ErrorReport) {
	s.mu.Lock()
	s.report = report
	s.reportSeeded = true
	s.mu.Unlock()
}

// Subscribe registers for state change notifications. The channel has a
// buffer of one, so pending notifications coalesce while the subscriber
// is busy. The returned cancel func releases the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
