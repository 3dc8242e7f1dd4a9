package serialscope

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by Engine configuration calls.
var (
	ErrInvalidMode    = errors.New("invalid acquisition mode")
	ErrNotArmed       = errors.New("engine is not armed")
	ErrInvalidSetting = errors.New("invalid engine setting")
)

// Mode is the acquisition state of an Engine.
type Mode int

// Names for the possible values of Mode
const (
	Roll Mode = iota
	Normal
	Armed
	Triggered
	Stopped
)

func (m Mode) String() string {
	switch m {
	case Roll:
		return "roll"
	case Normal:
		return "normal"
	case Armed:
		return "armed"
	case Triggered:
		return "triggered"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a mode name (any case) to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "roll":
		return Roll, nil
	case "normal":
		return Normal, nil
	case "armed", "arm", "trigger":
		return Armed, nil
	case "triggered":
		return Triggered, nil
	case "stopped", "stop":
		return Stopped, nil
	}
	return Roll, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// MarshalText encodes a Mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a Mode by name.
func (m *Mode) UnmarshalText(text []byte) (err error) {
	*m, err = ParseMode(string(text))
	return
}

// RollStyle selects how Roll mode produces frames.
type RollStyle int

// Names for the possible values of RollStyle
const (
	BatchClear    RollStyle = iota // emit when full, then clear
	WindowSliding                  // emit the sliding window after every tick with new data
)

func (r RollStyle) String() string {
	switch r {
	case BatchClear:
		return "batch"
	case WindowSliding:
		return "sliding"
	}
	return fmt.Sprintf("RollStyle(%d)", int(r))
}

// ParseRollStyle accepts "batch" or "sliding".
func ParseRollStyle(s string) (RollStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "batch", "batchclear", "clear":
		return BatchClear, nil
	case "sliding", "window", "windowsliding":
		return WindowSliding, nil
	}
	return BatchClear, fmt.Errorf("%w: roll style %q", ErrInvalidSetting, s)
}

// MarshalText encodes a RollStyle by name.
func (r RollStyle) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a RollStyle by name.
func (r *RollStyle) UnmarshalText(text []byte) (err error) {
	*r, err = ParseRollStyle(string(text))
	return
}

// StoppedPolicy selects what a Stopped engine does with incoming lines.
type StoppedPolicy int

// Names for the possible values of StoppedPolicy
const (
	StoppedDiscard    StoppedPolicy = iota // drop lines unread
	StoppedAccumulate                      // keep filling the buffers, never emit
)

func (p StoppedPolicy) String() string {
	switch p {
	case StoppedDiscard:
		return "discard"
	case StoppedAccumulate:
		return "accumulate"
	}
	return fmt.Sprintf("StoppedPolicy(%d)", int(p))
}

// ParseStoppedPolicy accepts "discard" or "accumulate".
func ParseStoppedPolicy(s string) (StoppedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discard", "drop":
		return StoppedDiscard, nil
	case "accumulate", "keep":
		return StoppedAccumulate, nil
	}
	return StoppedDiscard, fmt.Errorf("%w: stopped policy %q", ErrInvalidSetting, s)
}

// MarshalText encodes a StoppedPolicy by name.
func (p StoppedPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a StoppedPolicy by name.
func (p *StoppedPolicy) UnmarshalText(text []byte) (err error) {
	*p, err = ParseStoppedPolicy(string(text))
	return
}

// EngineConfig is the layout and behavior of an Engine.
type EngineConfig struct {
	Channels      int
	Capacity      int
	Trigger       TriggerConfig
	RollStyle     RollStyle
	StoppedPolicy StoppedPolicy

	// NormalTriggered gates Normal-mode frames on the trigger condition.
	NormalTriggered bool
}

// DefaultEngineConfig is one channel, 1024 samples deep, default trigger.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Channels: 1,
		Capacity: 1024,
		Trigger:  DefaultTriggerConfig(),
	}
}

// Validate checks every field, returning the first problem found.
func (ec EngineConfig) Validate() error {
	if ec.Channels < 1 || ec.Channels > MaxChannels {
		return fmt.Errorf("channel count %d outside [1, %d]", ec.Channels, MaxChannels)
	}
	if ec.Capacity < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, ec.Capacity)
	}
	if err := ec.Trigger.Validate(ec.Channels); err != nil {
		return err
	}
	if ec.RollStyle != BatchClear && ec.RollStyle != WindowSliding {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, ec.RollStyle)
	}
	if ec.StoppedPolicy != StoppedDiscard && ec.StoppedPolicy != StoppedAccumulate {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, ec.StoppedPolicy)
	}
	return nil
}

// EngineStats counts what an Engine has done with its input.
type EngineStats struct {
	LinesSeen      int
	LinesAccepted  int
	LinesDiscarded int // ignored while Stopped with StoppedDiscard
	DecodeErrors   map[string]int
	Frames         int
	Triggers       int
}

func (s EngineStats) copy() EngineStats {
	out := s
	out.DecodeErrors = make(map[string]int, len(s.DecodeErrors))
	for k, v := range s.DecodeErrors {
		out.DecodeErrors[k] = v
	}
	return out
}

// EngineStatus is a summary of an Engine's state, suitable for clients.
type EngineStatus struct {
	Mode            Mode
	Channels        int
	Capacity        int
	Len             int
	Trigger         TriggerConfig
	RollStyle       RollStyle
	StoppedPolicy   StoppedPolicy
	NormalTriggered bool
	NextSample      uint64
	Stats           EngineStats
}

// Engine is the acquisition state machine. It owns one ChannelSet and
// decides, once per Tick, whether the buffers form a frame ready to render.
// An Engine has no locking of its own: callers must serialize every method
// with Tick (Scope does so by running them all on its driver loop).
type Engine struct {
	config   EngineConfig
	decoder  LineDecoder
	channels *ChannelSet
	detector TriggerDetector
	mode     Mode

	nextSample uint64 // timestamp given to samples that arrive without one
	frameSeq   uint64
	stats      EngineStats
}

// NewEngine creates an Engine in Roll mode.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	e := &Engine{mode: Roll}
	e.stats.DecodeErrors = make(map[string]int)
	if err := e.Configure(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Configure replaces the channel layout, capacity and trigger. Buffers are
// rebuilt empty; the mode is unchanged. A rejected configuration changes nothing.
func (e *Engine) Configure(cfg EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	decoder, err := NewLineDecoder(cfg.Channels)
	if err != nil {
		return err
	}
	channels, err := NewChannelSet(cfg.Channels, cfg.Capacity)
	if err != nil {
		return err
	}
	e.config = cfg
	e.decoder = decoder
	e.channels = channels
	return nil
}

// Config returns the current configuration, with Capacity reflecting any Resize.
func (e *Engine) Config() EngineConfig {
	cfg := e.config
	cfg.Capacity = e.channels.Cap()
	return cfg
}

// Mode returns the current acquisition mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// SetMode changes the mode. Entering Armed clears the buffers; entering any
// other mode leaves them alone. Triggered cannot be entered directly.
func (e *Engine) SetMode(m Mode) error {
	switch m {
	case Roll, Normal, Stopped:
	case Armed:
		e.channels.Clear()
	default:
		return fmt.Errorf("%w: cannot select %v", ErrInvalidMode, m)
	}
	e.mode = m
	return nil
}

// Arm clears the buffers and waits for the trigger condition.
func (e *Engine) Arm() error {
	return e.SetMode(Armed)
}

// Disarm stops an Armed (or Triggered) engine, keeping the captured data.
func (e *Engine) Disarm() error {
	if e.mode != Armed && e.mode != Triggered {
		return fmt.Errorf("%w: mode is %v", ErrNotArmed, e.mode)
	}
	e.mode = Stopped
	return nil
}

// Resize changes the buffer capacity in any mode, keeping the newest samples.
func (e *Engine) Resize(capacity int) error {
	if err := e.channels.Resize(capacity); err != nil {
		return err
	}
	e.config.Capacity = capacity
	return nil
}

// SetTrigger replaces the trigger configuration without touching the buffers.
func (e *Engine) SetTrigger(tc TriggerConfig) error {
	if err := tc.Validate(e.channels.Nchan()); err != nil {
		return err
	}
	e.config.Trigger = tc
	return nil
}

// Trigger returns the current trigger configuration.
func (e *Engine) Trigger() TriggerConfig {
	return e.config.Trigger
}

// Len returns the number of samples currently buffered.
func (e *Engine) Len() int {
	return e.channels.Len()
}

// Snapshot copies the current buffer contents.
func (e *Engine) Snapshot() ChannelSnapshot {
	return e.channels.SnapshotAll()
}

// Status summarizes the engine.
func (e *Engine) Status() EngineStatus {
	return EngineStatus{
		Mode:            e.mode,
		Channels:        e.channels.Nchan(),
		Capacity:        e.channels.Cap(),
		Len:             e.channels.Len(),
		Trigger:         e.config.Trigger,
		RollStyle:       e.config.RollStyle,
		StoppedPolicy:   e.config.StoppedPolicy,
		NormalTriggered: e.config.NormalTriggered,
		NextSample:      e.nextSample,
		Stats:           e.stats.copy(),
	}
}

// Stats returns a copy of the running counters.
func (e *Engine) Stats() EngineStats {
	return e.stats.copy()
}

// Tick applies every line in arrival order, then makes at most one trigger
// evaluation and returns at most one frame. Lines that fail to decode are
// counted and dropped; they never produce an error.
func (e *Engine) Tick(lines [][]byte) *ReadyFrame {
	e.stats.LinesSeen += len(lines)
	if e.mode == Stopped && e.config.StoppedPolicy == StoppedDiscard {
		e.stats.LinesDiscarded += len(lines)
		return nil
	}
	pushed := e.push(lines)

	switch e.mode {
	case Roll:
		if e.config.RollStyle == WindowSliding {
			if pushed == 0 || e.channels.Len() == 0 {
				return nil
			}
			return e.emit(Roll, e.channels.SnapshotAll(), nil)
		}
		return e.emitWhenFull(Roll)

	case Normal:
		if !e.config.NormalTriggered {
			return e.emitWhenFull(Normal)
		}
		ev := e.detector.Evaluate(e.channels, e.config.Trigger)
		if ev == nil {
			return nil
		}
		e.stats.Triggers++
		e.channels.Clear()
		return e.emit(Normal, ev.Snapshot, &ev.TriggerMark)

	case Armed:
		ev := e.detector.Evaluate(e.channels, e.config.Trigger)
		if ev == nil {
			return nil
		}
		e.stats.Triggers++
		e.mode = Triggered
		frame := e.emit(Triggered, ev.Snapshot, &ev.TriggerMark)
		e.mode = Stopped
		return frame
	}
	return nil
}

// push decodes and stores lines, returning how many samples were stored.
func (e *Engine) push(lines [][]byte) int {
	pushed := 0
	for _, raw := range lines {
		s, err := e.decoder.Decode(raw)
		if err != nil {
			e.countDecodeError(err)
			continue
		}
		if !s.HasTimestamp {
			s = s.withTimestamp(float64(e.nextSample))
		}
		if err := e.channels.PushSample(s); err != nil {
			e.countDecodeError(err)
			continue
		}
		e.nextSample++
		pushed++
	}
	e.stats.LinesAccepted += pushed
	return pushed
}

func (e *Engine) countDecodeError(err error) {
	e.stats.DecodeErrors[DecodeErrorKind(err)]++
}

func (e *Engine) emitWhenFull(m Mode) *ReadyFrame {
	if !e.channels.IsFull() {
		return nil
	}
	frame := e.emit(m, e.channels.SnapshotAll(), nil)
	e.channels.Clear()
	return frame
}

func (e *Engine) emit(m Mode, snap ChannelSnapshot, mark *TriggerMark) *ReadyFrame {
	e.frameSeq++
	e.stats.Frames++
	return newReadyFrame(e.frameSeq, m, snap, mark)
}
