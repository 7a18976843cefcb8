package snapshot

// Value returns the scalar value of domain as T.
func Value[T any](s *Store, domain string) (T, bool) {
	var zero T
	e, ok := s.Get(domain)
	if !ok || e.List {
		return zero, false
	}
	v, ok := e.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Items returns the items of a list domain as T, in store order.
// Items of another type are skipped.
func Items[T any](s *Store, domain string) ([]T, bool) {
	e, ok := s.Get(domain)
	if !ok || !e.List {
		return nil, false
	}
	out := make([]T, 0, len(e.Items))
	for _, it := range e.Items {
		if v, ok := it.Value.(T); ok {
			out = append(out, v)
		}
	}
	return out, true
}

// Export flattens the entry into a JSON friendly value.
func (e Entry) Export() any {
	if !e.List {
		return e.Value
	}
	out := make([]any, 0, len(e.Items))
	for _, it := range e.Items {
		out = append(out, it.Value)
	}
	return out
}
