// Package device simulates the accelerator boundary used by the MPC core:
// device discovery, memory accounting, ordered command streams and events.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.dedis.ch/onet/v3/log"
)

// ErrOutOfMemory is returned when an allocation exceeds the device limit.
var ErrOutOfMemory = errors.New("device: out of memory")

type Device struct {
	id    int
	limit int64

	mu   sync.Mutex
	used int64
	peak int64
}

func (d *Device) ID() int { return d.id }

// Alloc reserves n bytes. A zero limit never fails.
func (d *Device) Alloc(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limit > 0 && d.used+n > d.limit {
		return fmt.Errorf("%w: device %d: %d bytes requested, %d of %d in use", ErrOutOfMemory, d.id, n, d.used, d.limit)
	}
	d.used += n
	if d.used > d.peak {
		d.peak = d.used
	}
	return nil
}

func (d *Device) Free(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used -= n
	if d.used < 0 {
		log.Warn("Device", d.id, "freed more memory than allocated")
		d.used = 0
	}
}

func (d *Device) MemUsed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

func (d *Device) PeakMem() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

// ForkStream creates a new ordered command stream on the device.
func (d *Device) ForkStream() *Stream {
	return newStream(d)
}

// Manager owns the set of devices backing one party.
type Manager struct {
	devices []*Device
}

// NewManager discovers count devices, one per CPU when count <= 0.
// memLimit bounds the bytes each device may hold, 0 for no limit.
func NewManager(count int, memLimit int64) *Manager {
	if count <= 0 {
		count = runtime.NumCPU()
	}
	devices := make([]*Device, count)
	for i := range devices {
		devices[i] = &Device{id: i, limit: memLimit}
	}
	log.Lvl2("Device manager initialized with", count, "devices")
	return &Manager{devices: devices}
}

func (m *Manager) Devices() []*Device { return m.devices }

func (m *Manager) DeviceCount() int { return len(m.devices) }

// ForkStreams creates one stream per device.
func (m *Manager) ForkStreams() []*Stream {
	streams := make([]*Stream, len(m.devices))
	for i, d := range m.devices {
		streams[i] = d.ForkStream()
	}
	return streams
}

// CreateEvents creates one unrecorded event per device.
func (m *Manager) CreateEvents() []*Event {
	events := make([]*Event, len(m.devices))
	for i := range events {
		events[i] = NewEvent()
	}
	return events
}

// AwaitStreams blocks until every stream drained its queue and returns
// the first error reported by any of them.
func AwaitStreams(streams []*Stream) error {
	var first error
	for _, s := range streams {
		if err := s.Synchronize(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordEvent records events[i] on streams[i].
func RecordEvent(streams []*Stream, events []*Event) {
	for i := range streams {
		events[i].Record(streams[i])
	}
}

// AwaitEvent makes streams[i] wait for events[i] without blocking the host.
func AwaitEvent(streams []*Stream, events []*Event) {
	for i := range streams {
		streams[i].WaitEvent(events[i])
	}
}

func CloseStreams(streams []*Stream) {
	for _, s := range streams {
		s.Close()
	}
}
