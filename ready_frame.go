package serialscope

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ReadyFrame is a buffer snapshot handed to the render sinks.
type ReadyFrame struct {
	ID         ulid.ULID
	Seq        uint64
	Mode       Mode // mode at emission
	Timestamps []float64
	Channels   [][]float64
	Trigger    *TriggerMark // nil unless a trigger produced this frame
	EmittedAt  time.Time
}

func newReadyFrame(seq uint64, mode Mode, snap ChannelSnapshot, mark *TriggerMark) *ReadyFrame {
	now := time.Now()
	return &ReadyFrame{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		Seq:        seq,
		Mode:       mode,
		Timestamps: snap.Timestamps,
		Channels:   snap.Channels,
		Trigger:    mark,
		EmittedAt:  now,
	}
}

// Len returns the number of samples in the frame.
func (f *ReadyFrame) Len() int {
	return len(f.Timestamps)
}

// ChannelSummary holds simple statistics of one channel of a frame.
type ChannelSummary struct {
	Min        float64
	Max        float64
	Mean       float64
	StdDev     float64
	PeakToPeak float64
}

// FrameSummary is a compact description of a ReadyFrame, for clients that
// do not want the full sample arrays.
type FrameSummary struct {
	ID        ulid.ULID
	Seq       uint64
	Mode      Mode
	Len       int
	TStart    float64
	TEnd      float64
	Channels  []ChannelSummary
	Trigger   *TriggerMark
	EmittedAt time.Time
}

// SummarizeFrame computes per-channel statistics of f. An empty frame gives
// zero statistics; a single-sample channel has zero standard deviation.
func SummarizeFrame(f *ReadyFrame) FrameSummary {
	sum := FrameSummary{
		ID:        f.ID,
		Seq:       f.Seq,
		Mode:      f.Mode,
		Len:       f.Len(),
		Channels:  make([]ChannelSummary, len(f.Channels)),
		Trigger:   f.Trigger,
		EmittedAt: f.EmittedAt,
	}
	if n := len(f.Timestamps); n > 0 {
		sum.TStart = f.Timestamps[0]
		sum.TEnd = f.Timestamps[n-1]
	}
	for i, values := range f.Channels {
		if len(values) == 0 {
			continue
		}
		cs := ChannelSummary{
			Min: floats.Min(values),
			Max: floats.Max(values),
		}
		cs.PeakToPeak = cs.Max - cs.Min
		if len(values) > 1 {
			cs.Mean, cs.StdDev = stat.MeanStdDev(values, nil)
		} else {
			cs.Mean = values[0]
		}
		sum.Channels[i] = cs
	}
	return sum
}
