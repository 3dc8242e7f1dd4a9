// scopetap subscribes to a running serialscope and prints what it publishes:
// status updates, frame summaries and (optionally) whole frames.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	zmq "github.com/pebbe/zmq4"
	"github.com/serialscope/serialscope"
)

func main() {
	host := flag.String("host", "localhost", "host running serialscope")
	base := flag.Int("port", 5600, "serialscope base port (RPC port)")
	frames := flag.Bool("frames", false, "also print full frames")
	filter := flag.String("filter", "", "only print messages whose tag starts with this")
	flag.Parse()

	serialscope.SetPortnumbers(*base)
	ports := []int{serialscope.Ports.Status, serialscope.Ports.Summaries}
	if *frames {
		ports = append(ports, serialscope.Ports.Frames)
	}

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()
	for _, port := range ports {
		if err := sub.Connect(fmt.Sprintf("tcp://%s:%d", *host, port)); err != nil {
			log.Fatal(err)
		}
	}
	if err := sub.SetSubscribe(*filter); err != nil {
		log.Fatal(err)
	}

	for imsg := 0; ; imsg++ {
		parts, err := sub.RecvMessageBytes(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		if len(parts) != 2 {
			fmt.Printf("message %d: %d parts (expected 2)\n", imsg, len(parts))
			continue
		}
		fmt.Printf("message %d: %s\n", imsg, describe(string(parts[0]), parts[1]))
	}
}

// describe renders one published message as a line of text.
func describe(tag string, body []byte) string {
	switch tag {
	case "SUMMARY":
		var s serialscope.FrameSummary
		if err := json.Unmarshal(body, &s); err != nil {
			return fmt.Sprintf("SUMMARY (undecodable: %v)", err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "SUMMARY frame %d [%v] %d samples t=[%g, %g]", s.Seq, s.Mode, s.Len, s.TStart, s.TEnd)
		for i, ch := range s.Channels {
			fmt.Fprintf(&b, " ch%d: mean=%.1f sd=%.1f pp=%.1f", i, ch.Mean, ch.StdDev, ch.PeakToPeak)
		}
		if s.Trigger != nil {
			fmt.Fprintf(&b, " trigger@%d=%g", s.Trigger.Index, s.Trigger.Value)
		}
		return b.String()
	case "FRAME":
		var f serialscope.ReadyFrame
		if err := json.Unmarshal(body, &f); err != nil {
			return fmt.Sprintf("FRAME (undecodable: %v)", err)
		}
		return fmt.Sprintf("FRAME %d %s [%v] %d samples x %d channels", f.Seq, f.ID, f.Mode, f.Len(), len(f.Channels))
	}
	return fmt.Sprintf("%s %s", tag, body)
}
