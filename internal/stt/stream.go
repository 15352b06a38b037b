package stt

import "sync"

// eventStream is the channel plumbing shared by all backends. The producing
// goroutine owns events and must call finish exactly once when it returns.
type eventStream struct {
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	finished chan struct{}
}

func newEventStream() *eventStream {
	return &eventStream{
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (s *eventStream) Events() <-chan Event {
	return s.events
}

// emit delivers evt unless the stream has been stopped.
func (s *eventStream) emit(evt Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- evt:
		return true
	case <-s.done:
		return false
	}
}

func (s *eventStream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// signalStop asks the producer to exit. Safe to call repeatedly.
func (s *eventStream) signalStop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *eventStream) finish() {
	close(s.events)
	close(s.finished)
}

func (s *eventStream) wait() {
	<-s.finished
}
