package serialscope

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/serialscope/serialscope/internal/linequeue"
	"go.bug.st/serial"
)

// LineSource is the transport boundary: anything that can hand over the raw
// lines it has already buffered. Available must never wait for new data; it
// returns io.EOF once a finite source is exhausted.
type LineSource interface {
	Available() ([][]byte, error)
	Close() error
}

// TransportError reports a failure of the underlying line source. It never
// affects buffered samples: the tick it happens in simply has no new lines.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("line source %s: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ReadRetryDelay is how long a ReaderSource waits after a failed read before
// reading again.
const ReadRetryDelay = 100 * time.Millisecond

// ReaderSource turns any byte stream into a LineSource. A goroutine reads
// newline-terminated lines into an unbounded queue, and Available drains it.
// A failed read is reported as a TransportError and reading resumes after
// a pause; only io.EOF or Close ends the source.
type ReaderSource struct {
	name       string
	r          io.ReadCloser
	queue      *linequeue.Queue[[]byte]
	maxLines   int
	retryDelay time.Duration
	failure    chan error // holds at most one unreported read failure
	closing    atomic.Bool
	closed     chan struct{}
	closeOnce  sync.Once
}

// NewReaderSource starts reading r. Available returns at most maxLines lines
// per call (no limit if maxLines <= 0).
func NewReaderSource(name string, r io.ReadCloser, maxLines int) *ReaderSource {
	return newReaderSource(name, r, maxLines, ReadRetryDelay)
}

func newReaderSource(name string, r io.ReadCloser, maxLines int, retryDelay time.Duration) *ReaderSource {
	rs := &ReaderSource{
		name:       name,
		r:          r,
		queue:      linequeue.New[[]byte](),
		maxLines:   maxLines,
		retryDelay: retryDelay,
		failure:    make(chan error, 1),
		closed:     make(chan struct{}),
	}
	go rs.readLoop()
	return rs
}

func (rs *ReaderSource) readLoop() {
	defer close(rs.queue.In())
	br := bufio.NewReader(rs.r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			rs.queue.In() <- bytes.TrimRight(line, "\r\n")
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || rs.closing.Load() {
			return
		}
		// Repeated failures before the next Available collapse into one report.
		select {
		case rs.failure <- &TransportError{Source: rs.name, Err: err}:
		default:
		}
		select {
		case <-rs.closed:
			return
		case <-time.After(rs.retryDelay):
		}
	}
}

// Available returns the lines read since the last call, without waiting.
func (rs *ReaderSource) Available() ([][]byte, error) {
	if lines := rs.queue.Drain(rs.maxLines); len(lines) > 0 {
		return lines, nil
	}
	select {
	case err := <-rs.failure:
		return nil, err
	default:
	}
	select {
	case <-rs.queue.Done():
		return nil, io.EOF
	default:
	}
	return nil, nil
}

// Name identifies the source in logs.
func (rs *ReaderSource) Name() string {
	return rs.name
}

// Close stops reading and closes the underlying stream.
func (rs *ReaderSource) Close() error {
	rs.closing.Store(true)
	rs.closeOnce.Do(func() { close(rs.closed) })
	return rs.r.Close()
}

// OpenSerialSource opens a serial port at the given baud rate, 8N1.
func OpenSerialSource(port string, baud int, maxLines int) (*ReaderSource, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, &TransportError{Source: port, Err: err}
	}
	return NewReaderSource(port, p, maxLines), nil
}

// OpenTCPSource connects to a line server, e.g. a serial-to-network bridge.
func OpenTCPSource(addr string, maxLines int) (*ReaderSource, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, &TransportError{Source: addr, Err: err}
	}
	return NewReaderSource("tcp://"+addr, conn, maxLines), nil
}

// SourceOptions are the settings OpenLineSource needs for every kind of source.
type SourceOptions struct {
	Port     string
	Baud     int
	MaxLines int
	Channels int
	Rate     float64 // samples per second, simulated sources only
}

// OpenLineSource opens a source by kind: "serial", "stdin", "tcp://host:port",
// "triangle" or "pulse".
func OpenLineSource(kind string, opt SourceOptions) (LineSource, error) {
	switch {
	case kind == "serial":
		return OpenSerialSource(opt.Port, opt.Baud, opt.MaxLines)
	case kind == "stdin" || kind == "-":
		return NewReaderSource("stdin", io.NopCloser(os.Stdin), opt.MaxLines), nil
	case strings.HasPrefix(kind, "tcp://"):
		return OpenTCPSource(strings.TrimPrefix(kind, "tcp://"), opt.MaxLines)
	case kind == "triangle":
		return NewTriangleSource(opt.Channels, opt.Rate, 0, 4095, opt.MaxLines), nil
	case kind == "pulse":
		return NewPulseSource(opt.Channels, opt.Rate, 500, 3000, 1024, opt.MaxLines), nil
	}
	return nil, fmt.Errorf("unknown line source %q", kind)
}
