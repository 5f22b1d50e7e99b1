package scheduler

import "goopbattle/internal/protocol"

// Watch registers a spectator. It returns the state as of now and a channel
// that receives every later turn in order. A spectator that falls buf turns
// behind is dropped and its channel closed; a state it could rebuild from is
// no longer consistent with what it missed.
func (s *Scheduler) Watch(buf int) (int, <-chan protocol.CollectedActions, protocol.GameState) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan protocol.CollectedActions, buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers == nil {
		s.watchers = make(map[int]chan protocol.CollectedActions)
	}
	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = ch
	s.publishMetricsLocked()
	return id, ch, s.state.Serializable()
}

// Unwatch removes a spectator and closes its channel. Unknown ids are ignored.
func (s *Scheduler) Unwatch(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(ch)
		s.publishMetricsLocked()
	}
}

func (s *Scheduler) fanOutLocked(ca protocol.CollectedActions) {
	for id, ch := range s.watchers {
		select {
		case ch <- ca:
		default:
			delete(s.watchers, id)
			close(ch)
			s.log.Printf("spectator %d lagging; dropped at turn=%d", id, ca.Turn)
		}
	}
}
