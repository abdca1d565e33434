package storage

// feedBuffer bounds each subscriber's queue; slow subscribers miss changes
// rather than block writers.
const feedBuffer = 16

// Subscribe returns a channel of the user's changes and a function that ends
// the subscription. The channel is closed when the subscription ends or the
// store is closed.
func (s *Store) Subscribe(userID string) (<-chan Change, func()) {
	ch := make(chan Change, feedBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	m, ok := s.subs[userID]
	if !ok {
		m = make(map[int]chan Change)
		s.subs[userID] = m
	}
	m[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		m, ok := s.subs[userID]
		if !ok {
			return
		}
		if c, ok := m[id]; ok {
			close(c)
			delete(m, id)
		}
		if len(m) == 0 {
			delete(s.subs, userID)
		}
	}
	return ch, cancel
}

func (s *Store) publish(userID string, c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[userID] {
		select {
		case ch <- c:
		default:
		}
	}
}
