package serialscope

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotRunning is returned by Scope control calls made while its driver
// loop is not running.
var ErrNotRunning = errors.New("scope driver loop is not running")

// RenderSink consumes ready frames. Render must not block.
type RenderSink interface {
	Render(f *ReadyFrame)
}

// ScopeOptions are the driver loop settings.
type ScopeOptions struct {
	Tick        time.Duration       // period of the driver loop
	LogInterval time.Duration       // how often decode problems are summarized in the log
	Updates     chan<- ClientUpdate // optional: where status changes are announced
}

// Scope runs one Engine against one LineSource. Every control call is
// queued onto the driver loop, so it is serialized with the ticks.
type Scope struct {
	Session ulid.ULID

	engine  *Engine
	source  LineSource
	sink    RenderSink
	options ScopeOptions

	queuedRequests chan func()
	started        chan struct{}
	done           chan struct{}

	lastLog     time.Time
	loggedStats EngineStats
}

// NewScope creates a Scope. sink may be nil.
func NewScope(engine *Engine, source LineSource, sink RenderSink, options ScopeOptions) *Scope {
	if options.Tick <= 0 {
		options.Tick = 10 * time.Millisecond
	}
	if options.LogInterval <= 0 {
		options.LogInterval = 10 * time.Second
	}
	return &Scope{
		Session:        ulid.Make(),
		engine:         engine,
		source:         source,
		sink:           sink,
		options:        options,
		queuedRequests: make(chan func()),
		started:        make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Run is the driver loop. It returns when abort is closed or the source is
// exhausted. It closes the source on return. Run may be called only once.
func (s *Scope) Run(abort <-chan struct{}) error {
	defer close(s.done)
	defer s.source.Close()
	close(s.started)

	UpdateLogger.Printf("Scope session %s starting in %v mode", s.Session, s.engine.Mode())
	s.lastLog = time.Now()
	s.loggedStats = s.engine.Stats()
	RecordBufferState(s.engine.Status())
	s.announce("STATUS", s.engine.Status())

	ticker := time.NewTicker(s.options.Tick)
	defer ticker.Stop()
	for {
		// Use select to interleave 2 activities that should NOT be done concurrently:
		// 1. Handle control requests (arm, resize, trigger changes...)
		// 2. Pull available lines and advance the engine by one tick
		select {
		case <-abort:
			UpdateLogger.Printf("Scope session %s stopped by request", s.Session)
			return nil

		case request := <-s.queuedRequests:
			request()

		case <-ticker.C:
			if err := s.tick(); err != nil {
				if errors.Is(err, io.EOF) {
					UpdateLogger.Printf("Scope session %s: line source exhausted", s.Session)
					s.logDecodeProblems()
					return nil
				}
				return err
			}
		}
	}
}

// Done is closed when Run returns.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// tick pulls the available lines and feeds them to the engine. Transport
// failures are logged and leave the tick with no new lines.
func (s *Scope) tick() error {
	lines, err := s.source.Available()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		RecordTransportError()
		ProblemLogger.Printf("Scope: %v", err)
		lines = nil
	}

	before := s.engine.Status()
	frame := s.engine.Tick(lines)
	after := s.engine.Status()
	RecordTick(before, after, frame)

	if frame != nil {
		if s.sink != nil {
			s.sink.Render(frame)
		}
		if frame.Trigger != nil {
			s.announce("TRIGGER", frame.Trigger)
		}
	}
	if after.Mode != before.Mode {
		UpdateLogger.Printf("Mode %v -> %v", before.Mode, after.Mode)
		s.announce("MODE", after.Mode)
		s.announce("STATUS", after)
	}
	if time.Since(s.lastLog) >= s.options.LogInterval {
		s.logDecodeProblems()
	}
	return nil
}

// logDecodeProblems writes one line summarizing lines dropped since the last
// summary. Nothing is written if none were dropped.
func (s *Scope) logDecodeProblems() {
	stats := s.engine.Stats()
	var kinds []string
	total := 0
	for kind, n := range stats.DecodeErrors {
		if d := n - s.loggedStats.DecodeErrors[kind]; d > 0 {
			kinds = append(kinds, fmt.Sprintf("%s=%d", kind, d))
			total += d
		}
	}
	s.lastLog = time.Now()
	s.loggedStats = stats
	if total == 0 {
		return
	}
	sort.Strings(kinds)
	ProblemLogger.Printf("Dropped %d undecodable lines (%s)", total, strings.Join(kinds, " "))
}

// announce queues a client update without ever blocking the driver loop.
func (s *Scope) announce(tag string, state interface{}) {
	if s.options.Updates == nil {
		return
	}
	select {
	case s.options.Updates <- ClientUpdate{tag: tag, state: state}:
	default:
		ProblemLogger.Printf("Client update channel full; dropped %s update", tag)
	}
}

// do runs f on the driver loop and waits for it to finish.
func (s *Scope) do(f func()) error {
	select {
	case <-s.started:
	default:
		return ErrNotRunning
	}
	finished := make(chan struct{})
	request := func() {
		defer close(finished)
		f()
	}
	select {
	case s.queuedRequests <- request:
	case <-s.done:
		return ErrNotRunning
	}
	<-finished
	return nil
}

// control runs a state-changing engine call on the driver loop and announces
// the new status if it succeeded.
func (s *Scope) control(name string, f func() error) error {
	var err error
	if qerr := s.do(func() {
		modeBefore := s.engine.Mode()
		if err = f(); err != nil {
			ProblemLogger.Printf("%s rejected: %v", name, err)
			return
		}
		st := s.engine.Status()
		RecordBufferState(st)
		if st.Mode != modeBefore {
			UpdateLogger.Printf("Mode %v -> %v (%s)", modeBefore, st.Mode, name)
			s.announce("MODE", st.Mode)
		}
		s.announce("STATUS", st)
	}); qerr != nil {
		return qerr
	}
	return err
}

// Configure replaces the engine layout and trigger. See Engine.Configure.
func (s *Scope) Configure(cfg EngineConfig) error {
	return s.control("Configure", func() error { return s.engine.Configure(cfg) })
}

// SetMode changes the acquisition mode. See Engine.SetMode.
func (s *Scope) SetMode(m Mode) error {
	return s.control("SetMode", func() error { return s.engine.SetMode(m) })
}

// Arm clears the buffers and waits for a trigger.
func (s *Scope) Arm() error {
	return s.control("Arm", s.engine.Arm)
}

// Disarm stops an armed engine, keeping its data.
func (s *Scope) Disarm() error {
	return s.control("Disarm", s.engine.Disarm)
}

// Resize changes the buffer capacity.
func (s *Scope) Resize(capacity int) error {
	return s.control("Resize", func() error { return s.engine.Resize(capacity) })
}

// SetTrigger replaces the trigger configuration.
func (s *Scope) SetTrigger(tc TriggerConfig) error {
	err := s.control("SetTrigger", func() error { return s.engine.SetTrigger(tc) })
	if err == nil {
		s.announce("TRIGGER", tc)
	}
	return err
}

// Status returns the engine status, taken between ticks.
func (s *Scope) Status() (EngineStatus, error) {
	var st EngineStatus
	err := s.do(func() { st = s.engine.Status() })
	return st, err
}

// Snapshot copies the buffers, taken between ticks.
func (s *Scope) Snapshot() (ChannelSnapshot, error) {
	var snap ChannelSnapshot
	err := s.do(func() { snap = s.engine.Snapshot() })
	return snap, err
}

// Config returns the engine configuration, taken between ticks.
func (s *Scope) Config() (EngineConfig, error) {
	var cfg EngineConfig
	err := s.do(func() { cfg = s.engine.Config() })
	return cfg, err
}

// SendAll asks the client updater to republish the latest update of every kind.
func (s *Scope) SendAll() error {
	return s.do(func() {
		s.announce("STATUS", s.engine.Status())
		s.announce("SENDALL", 0)
	})
}
