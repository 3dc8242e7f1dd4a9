package serialscope

// Contain the ClientUpdater, which publishes JSON-encoded messages giving
// the latest serialscope state.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// encode returns the two message parts: the tag and the JSON state.
func (u ClientUpdate) encode() (string, []byte, error) {
	msg, err := json.Marshal(u.state)
	if err != nil {
		return u.tag, nil, fmt.Errorf("encoding %s update: %w", u.tag, err)
	}
	return u.tag, msg, nil
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket to publish any information that clients need to know.
// It returns when messages is closed or abort is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := pubSocket.Bind(hostname); err != nil {
		return err
	}

	// The last update under each tag, so a late client can ask for them all.
	lastMessages := make(map[string][]byte)

	for {
		select {
		case <-abort:
			return nil
		case update, ok := <-messages:
			if !ok {
				return nil
			}
			if update.tag == "SENDALL" {
				republish(pubSocket, lastMessages)
				continue
			}
			tag, msg, err := update.encode()
			if err != nil {
				ProblemLogger.Print(err)
				continue
			}
			lastMessages[tag] = msg
			if _, err := pubSocket.SendMessage(tag, msg); err != nil {
				ProblemLogger.Printf("publishing %s update: %v", tag, err)
			}
			if tag != "STATUS" {
				UpdateLogger.Printf("%s %s", tag, msg)
			}
		}
	}
}

// messageSender is the part of a ZMQ socket the updater sends through.
type messageSender interface {
	SendMessage(parts ...interface{}) (int, error)
}

// republish sends the last update under each tag again, for clients that
// asked for everything.
func republish(sock messageSender, lastMessages map[string][]byte) {
	for tag, msg := range lastMessages {
		if _, err := sock.SendMessage(tag, msg); err != nil {
			ProblemLogger.Printf("republishing %s update: %v", tag, err)
		}
	}
}
