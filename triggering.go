package serialscope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTrigger is returned by configuration calls given an unusable TriggerConfig.
var ErrInvalidTrigger = errors.New("invalid trigger configuration")

// Edge selects which side of the threshold fires an edge trigger.
type Edge int

// Names for the possible values of Edge
const (
	Rising  Edge = iota // fires when value > threshold
	Falling             // fires when value < threshold
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	}
	return fmt.Sprintf("Edge(%d)", int(e))
}

// ParseEdge accepts "rising"/"posedge" and "falling"/"negedge" in any case.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rising", "posedge", "pos", "+":
		return Rising, nil
	case "falling", "negedge", "neg", "-":
		return Falling, nil
	}
	return Rising, fmt.Errorf("%w: edge %q", ErrInvalidTrigger, s)
}

// MarshalText encodes an Edge by name.
func (e Edge) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes an Edge by name.
func (e *Edge) UnmarshalText(text []byte) (err error) {
	*e, err = ParseEdge(string(text))
	return
}

// TriggerPolicy selects how the examined value is compared to the threshold.
type TriggerPolicy int

// Names for the possible values of TriggerPolicy
const (
	PolicyEdge TriggerPolicy = iota // strict > or < according to Edge
	PolicyBand                      // Threshold-Tolerance <= value <= Threshold+Tolerance
)

func (p TriggerPolicy) String() string {
	switch p {
	case PolicyEdge:
		return "edge"
	case PolicyBand:
		return "band"
	}
	return fmt.Sprintf("TriggerPolicy(%d)", int(p))
}

// ParseTriggerPolicy accepts "edge" or "band".
func ParseTriggerPolicy(s string) (TriggerPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edge", "threshold":
		return PolicyEdge, nil
	case "band", "tolerance":
		return PolicyBand, nil
	}
	return PolicyEdge, fmt.Errorf("%w: policy %q", ErrInvalidTrigger, s)
}

// MarshalText encodes a TriggerPolicy by name.
func (p TriggerPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a TriggerPolicy by name.
func (p *TriggerPolicy) UnmarshalText(text []byte) (err error) {
	*p, err = ParseTriggerPolicy(string(text))
	return
}

// TriggerPosition selects which buffer position is examined.
type TriggerPosition int

// Names for the possible values of TriggerPosition
const (
	PositionMidpoint TriggerPosition = iota // capacity/2
	PositionFirst                           // the oldest sample
	PositionIndex                           // TriggerConfig.Index
)

func (p TriggerPosition) String() string {
	switch p {
	case PositionMidpoint:
		return "midpoint"
	case PositionFirst:
		return "first"
	case PositionIndex:
		return "index"
	}
	return fmt.Sprintf("TriggerPosition(%d)", int(p))
}

// ParseTriggerPosition accepts "midpoint", "first" or "index".
func ParseTriggerPosition(s string) (TriggerPosition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "midpoint", "middle", "mid":
		return PositionMidpoint, nil
	case "first", "oldest":
		return PositionFirst, nil
	case "index", "fixed":
		return PositionIndex, nil
	}
	return PositionMidpoint, fmt.Errorf("%w: position %q", ErrInvalidTrigger, s)
}

// MarshalText encodes a TriggerPosition by name.
func (p TriggerPosition) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a TriggerPosition by name.
func (p *TriggerPosition) UnmarshalText(text []byte) (err error) {
	*p, err = ParseTriggerPosition(string(text))
	return
}

// TriggerConfig contains all the state that controls trigger logic
type TriggerConfig struct {
	Threshold float64
	Edge      Edge
	Policy    TriggerPolicy
	Tolerance float64 // half-width of the band for PolicyBand

	Position TriggerPosition
	Index    int // used only when Position == PositionIndex
	Channel  int // which value channel is examined
}

// DefaultTriggerConfig is a rising edge at mid-scale of a 12-bit ADC,
// examined at the buffer midpoint.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		Threshold: 2048,
		Edge:      Rising,
		Policy:    PolicyEdge,
		Tolerance: 100,
		Position:  PositionMidpoint,
	}
}

// Validate checks the configuration against a ChannelSet of nchan channels.
// An Index beyond the current capacity is allowed: the detector simply
// cannot fire until the buffer is large enough.
func (tc TriggerConfig) Validate(nchan int) error {
	if tc.Channel < 0 || tc.Channel >= nchan {
		return fmt.Errorf("%w: channel %d with %d channels", ErrInvalidTrigger, tc.Channel, nchan)
	}
	if tc.Edge != Rising && tc.Edge != Falling {
		return fmt.Errorf("%w: %v", ErrInvalidTrigger, tc.Edge)
	}
	switch tc.Policy {
	case PolicyEdge:
	case PolicyBand:
		if tc.Tolerance < 0 {
			return fmt.Errorf("%w: negative band tolerance %v", ErrInvalidTrigger, tc.Tolerance)
		}
	default:
		return fmt.Errorf("%w: %v", ErrInvalidTrigger, tc.Policy)
	}
	switch tc.Position {
	case PositionMidpoint, PositionFirst:
	case PositionIndex:
		if tc.Index < 0 {
			return fmt.Errorf("%w: negative index %d", ErrInvalidTrigger, tc.Index)
		}
	default:
		return fmt.Errorf("%w: %v", ErrInvalidTrigger, tc.Position)
	}
	return nil
}

// EvalIndex returns the buffer position examined for a buffer of the given capacity.
func (tc TriggerConfig) EvalIndex(capacity int) int {
	switch tc.Position {
	case PositionFirst:
		return 0
	case PositionIndex:
		return tc.Index
	}
	return capacity / 2
}

// Fires reports whether value satisfies the trigger condition.
func (tc TriggerConfig) Fires(value float64) bool {
	switch tc.Policy {
	case PolicyBand:
		return value >= tc.Threshold-tc.Tolerance && value <= tc.Threshold+tc.Tolerance
	default:
		if tc.Edge == Falling {
			return value < tc.Threshold
		}
		return value > tc.Threshold
	}
}

// TriggerMark records where and why a trigger fired.
type TriggerMark struct {
	Index     int
	Channel   int
	Value     float64
	Timestamp float64
	Threshold float64
	Edge      Edge
	Policy    TriggerPolicy
}

// TriggerEvent is a fired trigger together with the full buffer contents at
// the moment of firing.
type TriggerEvent struct {
	TriggerMark
	Snapshot ChannelSnapshot
}

// TriggerDetector evaluates a TriggerConfig against a full ChannelSet. It
// keeps no state between calls and never modifies the ChannelSet.
type TriggerDetector struct{}

// Evaluate returns a TriggerEvent if the condition holds, or nil. A buffer
// that is not full never fires.
func (TriggerDetector) Evaluate(cs *ChannelSet, cfg TriggerConfig) *TriggerEvent {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	if !cs.timestamps.IsFull() {
		return nil
	}
	if cfg.Channel < 0 || cfg.Channel >= len(cs.values) {
		return nil
	}
	idx := cfg.EvalIndex(cs.timestamps.Cap())
	value, ok := cs.values[cfg.Channel].At(idx)
	if !ok || !cfg.Fires(value) {
		return nil
	}
	ts, _ := cs.timestamps.At(idx)
	return &TriggerEvent{
		TriggerMark: TriggerMark{
			Index:     idx,
			Channel:   cfg.Channel,
			Value:     value,
			Timestamp: ts,
			Threshold: cfg.Threshold,
			Edge:      cfg.Edge,
			Policy:    cfg.Policy,
		},
		Snapshot: cs.snapshotLocked(),
	}
}
