package device

import "sync"

// Event marks a point in a stream. Waiting on it blocks until every task
// launched on that stream before Record has finished.
type Event struct {
	mu   sync.Mutex
	done chan struct{}
	err  error
}

func NewEvent() *Event {
	return &Event{}
}

// Record resets the event and places it at the tail of s.
func (e *Event) Record(s *Stream) {
	done := make(chan struct{})
	e.mu.Lock()
	e.done = done
	e.err = nil
	e.mu.Unlock()

	complete := func(err error) {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		close(done)
	}
	if !s.enqueue(task{always: true, fn: func() error {
		complete(s.Err())
		return nil
	}}) {
		complete(ErrStreamClosed)
	}
}

// Wait blocks until the recorded point is reached and returns the error
// the stream held at that point. An event never recorded is complete.
func (e *Event) Wait() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Query reports whether the event completed without blocking.
func (e *Event) Query() bool {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}
