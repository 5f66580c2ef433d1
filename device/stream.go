package device

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStreamClosed is returned for work launched on a closed stream.
var ErrStreamClosed = errors.New("device: stream closed")

type task struct {
	fn func() error
	// always tasks run even after an earlier task failed
	always bool
}

// Stream executes launched tasks one at a time in submission order on
// its own goroutine. The first error is sticky: later tasks are skipped
// until Synchronize reports and clears it.
type Stream struct {
	dev *Device

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []task
	pending int
	closed  bool
	err     error
}

func newStream(d *Device) *Stream {
	s := &Stream{dev: d}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Stream) Device() *Device { return s.dev }

// Launch enqueues fn and returns immediately.
func (s *Stream) Launch(fn func() error) {
	s.enqueue(task{fn: fn})
}

func (s *Stream) enqueue(t task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if s.err == nil {
			s.err = ErrStreamClosed
		}
		return false
	}
	s.queue = append(s.queue, t)
	s.pending++
	s.cond.Broadcast()
	return true
}

// WaitEvent orders all later tasks after the completion of e.
func (s *Stream) WaitEvent(e *Event) {
	s.Launch(e.Wait)
}

// Synchronize blocks until every launched task finished, then returns and
// clears the sticky error.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	err := s.err
	s.err = nil
	return err
}

// Err returns the sticky error without waiting.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close drains the queue and stops the worker.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

func (s *Stream) loop() {
	s.mu.Lock()
	for {
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = task{}
		s.queue = s.queue[1:]
		skip := s.err != nil && !t.always
		s.mu.Unlock()

		var err error
		if !skip {
			err = s.run(t.fn)
		}

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
		}
		s.pending--
		if s.pending == 0 {
			s.cond.Broadcast()
		}
	}
}

func (s *Stream) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device %d: task panicked: %v", s.dev.id, r)
		}
	}()
	return fn()
}
