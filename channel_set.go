package serialscope

import (
	"errors"
	"fmt"
	"sync"

	"github.com/serialscope/serialscope/ringbuffer"
)

// ErrInvalidCapacity is returned when a buffer capacity < 1 is requested.
// It is the same error value the ringbuffer package returns.
var ErrInvalidCapacity = ringbuffer.ErrInvalidCapacity

// ChannelSnapshot is a point-in-time copy of a ChannelSet, oldest first.
type ChannelSnapshot struct {
	Timestamps []float64
	Channels   [][]float64
}

// Len returns the number of samples in the snapshot.
func (cs ChannelSnapshot) Len() int {
	return len(cs.Timestamps)
}

// ChannelSet holds one timestamp buffer and one value buffer per channel,
// all with the same capacity and always the same length. Pushes and
// snapshots are atomic with respect to each other.
type ChannelSet struct {
	timestamps *ringbuffer.RingBuffer[float64]
	values     []*ringbuffer.RingBuffer[float64]
	lock       sync.RWMutex // guards all buffers together
}

// NewChannelSet creates a ChannelSet of nchan value channels, each able to
// hold capacity samples.
func NewChannelSet(nchan, capacity int) (*ChannelSet, error) {
	if nchan < 1 || nchan > MaxChannels {
		return nil, fmt.Errorf("channel count %d outside [1, %d]", nchan, MaxChannels)
	}
	ts, err := ringbuffer.New[float64](capacity)
	if err != nil {
		return nil, err
	}
	cs := &ChannelSet{timestamps: ts, values: make([]*ringbuffer.RingBuffer[float64], nchan)}
	for i := range cs.values {
		cs.values[i], _ = ringbuffer.New[float64](capacity)
	}
	return cs, nil
}

// Nchan returns the number of value channels.
func (cs *ChannelSet) Nchan() int {
	return len(cs.values)
}

// PushSample appends s to every buffer. The sample must carry exactly
// Nchan() values.
func (cs *ChannelSet) PushSample(s Sample) error {
	if len(s.Values) != len(cs.values) {
		return fmt.Errorf("%w: sample has %d values, channel set has %d channels",
			ErrFieldCount, len(s.Values), len(cs.values))
	}
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.timestamps.Push(s.Timestamp)
	for i, v := range s.Values {
		cs.values[i].Push(v)
	}
	return nil
}

// Resize changes the capacity of every buffer identically, keeping the most
// recent samples. A rejected resize changes nothing.
func (cs *ChannelSet) Resize(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	cs.lock.Lock()
	defer cs.lock.Unlock()
	var errs []error
	errs = append(errs, cs.timestamps.Resize(capacity))
	for _, rb := range cs.values {
		errs = append(errs, rb.Resize(capacity))
	}
	return errors.Join(errs...)
}

// Clear empties every buffer without changing capacity.
func (cs *ChannelSet) Clear() {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.timestamps.Clear()
	for _, rb := range cs.values {
		rb.Clear()
	}
}

// SnapshotAll copies all buffers in oldest-to-newest order.
func (cs *ChannelSet) SnapshotAll() ChannelSnapshot {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.snapshotLocked()
}

// snapshotLocked requires cs.lock to be held.
func (cs *ChannelSet) snapshotLocked() ChannelSnapshot {
	snap := ChannelSnapshot{
		Timestamps: cs.timestamps.Snapshot(),
		Channels:   make([][]float64, len(cs.values)),
	}
	for i, rb := range cs.values {
		snap.Channels[i] = rb.Snapshot()
	}
	return snap
}

// ValueAt returns the value of channel ch at position i (0 is the oldest).
func (cs *ChannelSet) ValueAt(ch, i int) (float64, bool) {
	if ch < 0 || ch >= len(cs.values) {
		return 0, false
	}
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.values[ch].At(i)
}

// Len returns the number of samples held. All buffers share this length.
func (cs *ChannelSet) Len() int {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.timestamps.Len()
}

// Cap returns the shared capacity.
func (cs *ChannelSet) Cap() int {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.timestamps.Cap()
}

// IsFull is true when the buffers hold Cap() samples.
func (cs *ChannelSet) IsFull() bool {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.timestamps.IsFull()
}
