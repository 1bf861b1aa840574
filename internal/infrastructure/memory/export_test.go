package memory

// Corrupt overwrites an entry without a movement.
func (s *StockStore) Corrupt(articleRef string, available, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[articleRef]; ok {
		e.Available, e.Reserved = available, reserved
	}
}
