package serialscope

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by serialscope.
type Portnumbers struct {
	RPC       int
	Status    int
	Frames    int
	Summaries int
}

// Ports globally holds all TCP port numbers used by serialscope.
var Ports Portnumbers

// SetPortnumbers assigns all ports as consecutive numbers starting at base.
func SetPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
	Ports.Frames = base + 2
	Ports.Summaries = base + 3
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.1",
	Githash: "no git hash computed",
	Gitdate: "no git commit date computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log mode changes, trigger fires and client updates to a file
var UpdateLogger *log.Logger

func init() {
	SetPortnumbers(5600)
	StartTime = time.Now()

	// The main program will override these, but at least initialize with sensible values
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
