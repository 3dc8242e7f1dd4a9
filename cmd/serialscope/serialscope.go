package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serialscope/serialscope"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var gitdate = "git date not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper says where to find config files, registers the defaults and
// reads the file, creating an empty one in ~/.serialscope if needed.
func setupViper() error {
	serialscope.SetDefaults(viper.GetViper())

	HOME, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotScope := filepath.Join(HOME, ".serialscope")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotScope, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/serialscope"))
	viper.AddConfigPath(dotScope)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}, "", log.LstdFlags)
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	serialscope.Build.Date = buildDate
	serialscope.Build.Githash = githash
	serialscope.Build.Gitdate = gitdate
	serialscope.Build.Summary = fmt.Sprintf("serialscope version %s (git commit %s of %s)",
		serialscope.Build.Version, githash, gitdate)
	if host, err := os.Hostname(); err == nil {
		serialscope.Build.Host = host
	} else {
		serialscope.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	sourceName := flag.String("source", "", "line source: serial, stdin, tcp://host:port, triangle or pulse (overrides the config file)")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is serialscope version %s\n", serialscope.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is serialscope version %s (git commit %s)\n", serialscope.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(HOME, ".serialscope", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	serialscope.ProblemLogger = startLogger(problemname)
	serialscope.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	serialscope.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}
	config, err := serialscope.LoadConfig(viper.GetViper())
	if err != nil {
		log.Fatal(err)
	}
	if *sourceName != "" {
		config.Source = *sourceName
	}
	serialscope.UpdateLogger.Printf("Using config file %s:\n%s", viper.ConfigFileUsed(), spew.Sdump(config))
	serialscope.SetPortnumbers(config.Ports.Base)

	if err := run(config); err != nil {
		serialscope.ProblemLogger.Print(err)
		log.Print(err)
	}
	writeMemoryProfile(memprofile)
}

// run builds the engine and its collaborators and drives them until the
// source is exhausted or the process is interrupted.
func run(config serialscope.Config) error {
	engineConfig, err := config.EngineConfig()
	if err != nil {
		return err
	}
	engine, err := serialscope.NewEngine(engineConfig)
	if err != nil {
		return err
	}
	initialMode, err := serialscope.ParseMode(config.InitialMode)
	if err != nil {
		return err
	}
	if err := engine.SetMode(initialMode); err != nil {
		return err
	}
	source, err := serialscope.OpenLineSource(config.Source, config.SourceOptions())
	if err != nil {
		return err
	}

	abort := make(chan struct{})
	var closeAbort sync.Once
	stop := func() { closeAbort.Do(func() { close(abort) }) }
	defer stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted; stopping serialscope")
		stop()
	}()

	updates := make(chan serialscope.ClientUpdate, 64)
	bus := serialscope.NewFrameBus()
	defer bus.Close()
	scope := serialscope.NewScope(engine, source, serialscope.BusSink{Bus: bus}, serialscope.ScopeOptions{
		Tick:        config.Tick,
		LogInterval: config.LogInterval,
		Updates:     updates,
	})
	fmt.Printf("Session %s reading from %s\n", scope.Session, config.Source)

	go func() {
		if err := serialscope.RunClientUpdater(updates, serialscope.Ports.Status, abort); err != nil {
			serialscope.ProblemLogger.Printf("Client updater: %v", err)
		}
	}()
	go func() {
		if err := serialscope.PublishFrames(bus, serialscope.Ports.Frames, serialscope.Ports.Summaries, abort); err != nil {
			serialscope.ProblemLogger.Printf("Frame publisher: %v", err)
		}
	}()
	go func() {
		control := serialscope.NewScopeControl(scope, config, viper.GetViper())
		if err := serialscope.RunRPCServer(control, serialscope.Ports.RPC, abort); err != nil {
			serialscope.ProblemLogger.Printf("RPC server: %v", err)
		}
	}()
	if config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: config.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serialscope.ProblemLogger.Printf("Metrics server: %v", err)
			}
		}()
		defer server.Close()
	}

	return scope.Run(abort)
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC() // get up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
