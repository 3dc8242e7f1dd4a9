package serialscope

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"

	"github.com/serialscope/serialscope/internal/framebus"
)

// FrameBus fans ready frames out to every render sink.
type FrameBus = framebus.Bus[*ReadyFrame]

// NewFrameBus creates an empty FrameBus.
func NewFrameBus() *FrameBus {
	return framebus.New[*ReadyFrame]()
}

// BusSink is a RenderSink that publishes each frame on a FrameBus.
type BusSink struct {
	Bus *FrameBus
}

// Render offers f to every subscriber of the bus.
func (bs BusSink) Render(f *ReadyFrame) {
	if err := bs.Bus.Publish(f); err != nil {
		ProblemLogger.Printf("Frame %d not published: %v", f.Seq, err)
	}
}

// encodeFrame returns the tag and JSON body of the FRAME message for f.
func encodeFrame(f *ReadyFrame) (string, []byte, error) {
	body, err := json.Marshal(f)
	return "FRAME", body, err
}

// encodeSummary returns the tag and JSON body of the SUMMARY message for f.
func encodeSummary(f *ReadyFrame) (string, []byte, error) {
	body, err := json.Marshal(SummarizeFrame(f))
	return "SUMMARY", body, err
}

func newPubSocket(port int) (*zmq.Socket, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(fmt.Sprintf("tcp://*:%d", port)); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}

// PublishFrames subscribes to bus and publishes every frame it receives as a
// FRAME message on portFrames and a SUMMARY message on portSummaries. A slow
// publisher misses frames rather than delaying the driver loop. It returns
// when abort is closed.
func PublishFrames(bus *FrameBus, portFrames, portSummaries int, abort <-chan struct{}) error {
	const id = "zmq-publisher"
	frames := make(chan *ReadyFrame, 4)
	if err := bus.Subscribe(id, frames); err != nil {
		return err
	}
	defer bus.Unsubscribe(id)

	frameSocket, err := newPubSocket(portFrames)
	if err != nil {
		return err
	}
	defer frameSocket.Close()
	summarySocket, err := newPubSocket(portSummaries)
	if err != nil {
		return err
	}
	defer summarySocket.Close()

	var dropped uint64
	for {
		select {
		case <-abort:
			return nil
		case f := <-frames:
			publishOne(frameSocket, f, encodeFrame)
			publishOne(summarySocket, f, encodeSummary)
			if d := bus.Stats().Subscribers[id].Dropped; d > dropped {
				RecordFramesDropped(id, d-dropped)
				dropped = d
			}
		}
	}
}

func publishOne(sock *zmq.Socket, f *ReadyFrame, encode func(*ReadyFrame) (string, []byte, error)) {
	tag, body, err := encode(f)
	if err != nil {
		ProblemLogger.Printf("Encoding %s message for frame %d: %v", tag, f.Seq, err)
		return
	}
	if _, err := sock.SendMessage(tag, body); err != nil {
		ProblemLogger.Printf("Publishing %s message for frame %d: %v", tag, f.Seq, err)
	}
}
