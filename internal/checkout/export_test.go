package checkout

// SetOrderIDSource replaces the order number generator.
func (s *Service) SetOrderIDSource(next func() string) {
	s.newOrderID = next
}
