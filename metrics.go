package serialscope

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// linesAccepted counts raw lines decoded and stored.
	linesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "lines_accepted_total",
		Help:      "Raw lines decoded into samples and stored",
	})

	// linesDiscarded counts lines dropped unread while stopped.
	linesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "lines_discarded_total",
		Help:      "Raw lines dropped while the engine was stopped",
	})

	// decodeErrors counts rejected lines.
	// Labels: kind (empty, malformed, encoding, field_count)
	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "decode_errors_total",
		Help:      "Raw lines rejected by the decoder, by kind",
	}, []string{"kind"})

	// framesEmitted counts ready frames.
	// Labels: mode (mode at emission)
	framesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "frames_total",
		Help:      "Ready frames emitted, by mode at emission",
	}, []string{"mode"})

	// triggersFired counts trigger events.
	triggersFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "triggers_total",
		Help:      "Trigger conditions that fired",
	})

	// transportErrors counts failed reads of the line source.
	transportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "serialscope",
		Subsystem: "source",
		Name:      "errors_total",
		Help:      "Line source read failures",
	})

	// framesDropped counts frames a render sink was too slow to take.
	// Labels: subscriber
	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serialscope",
		Subsystem: "bus",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because a subscriber was busy",
	}, []string{"subscriber"})

	// bufferFill is the number of samples held.
	bufferFill = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "buffer_samples",
		Help:      "Samples currently buffered",
	})

	// bufferCapacity is the buffer depth.
	bufferCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "buffer_capacity",
		Help:      "Buffer capacity in samples",
	})

	// currentMode is 1 for the active mode and 0 for the others.
	// Labels: mode
	currentMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "serialscope",
		Subsystem: "engine",
		Name:      "mode",
		Help:      "Active acquisition mode (1 = active)",
	}, []string{"mode"})
)

// RecordTick publishes what one Engine.Tick did, as the difference between
// the counters before and after it, plus the resulting buffer state.
func RecordTick(before, after EngineStatus, frame *ReadyFrame) {
	linesAccepted.Add(float64(after.Stats.LinesAccepted - before.Stats.LinesAccepted))
	linesDiscarded.Add(float64(after.Stats.LinesDiscarded - before.Stats.LinesDiscarded))
	for kind, n := range after.Stats.DecodeErrors {
		if d := n - before.Stats.DecodeErrors[kind]; d > 0 {
			decodeErrors.WithLabelValues(kind).Add(float64(d))
		}
	}
	if d := after.Stats.Triggers - before.Stats.Triggers; d > 0 {
		triggersFired.Add(float64(d))
	}
	if frame != nil {
		framesEmitted.WithLabelValues(frame.Mode.String()).Inc()
	}
	RecordBufferState(after)
}

// RecordBufferState sets the buffer and mode gauges.
func RecordBufferState(st EngineStatus) {
	bufferFill.Set(float64(st.Len))
	bufferCapacity.Set(float64(st.Capacity))
	for _, m := range []Mode{Roll, Normal, Armed, Triggered, Stopped} {
		v := 0.0
		if m == st.Mode {
			v = 1
		}
		currentMode.WithLabelValues(m.String()).Set(v)
	}
}

// RecordTransportError counts one failed read of the line source.
func RecordTransportError() {
	transportErrors.Inc()
}

// RecordFramesDropped counts frames a bus subscriber missed.
func RecordFramesDropped(subscriber string, n uint64) {
	if n > 0 {
		framesDropped.WithLabelValues(subscriber).Add(float64(n))
	}
}
