package switcher

// Serializer guards all control operations with non-blocking exclusive
// acquisition. The accelerator is the shared resource: whoever holds the
// serializer owns it. A second caller while an operation is in flight gets
// an immediate refusal rather than a queue slot.
type Serializer struct {
	sem chan struct{}
}

func NewSerializer() *Serializer {
	return &Serializer{sem: make(chan struct{}, 1)}
}

// TryAcquire attempts to take exclusive ownership without blocking.
func (s *Serializer) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release gives ownership back. Must be called exactly once per successful
// TryAcquire, on every exit path.
func (s *Serializer) Release() {
	<-s.sem
}

// Held reports whether an operation currently owns the serializer. Only
// for status reporting; the answer can be stale by the time it is used.
func (s *Serializer) Held() bool {
	return len(s.sem) > 0
}
