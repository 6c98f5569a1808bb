package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/user/pybble/broadcast"
	"github.com/user/pybble/config"
	"github.com/user/pybble/logger"
	"github.com/user/pybble/message"
	"github.com/user/pybble/radio"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	name := flag.String("name", "", "Device name used in advertisements")
	channel := flag.Int("channel", -1, "Broadcast channel (0-255)")
	timeout := flag.Duration("timeout", 0, "Stop broadcasting after this duration; pass 0 to run until interrupted")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Println("Usage: pb-broadcast [flags] <value> [value ...]")
		fmt.Println("\nValues are typed literals:")
		fmt.Println("  true, false        boolean")
		fmt.Println("  42, -7             integer")
		fmt.Println("  3.14               float")
		fmt.Println("  0xdeadbeef         raw bytes")
		fmt.Println("  anything else      text")
		fmt.Println("\nExample:")
		fmt.Println("  pb-broadcast --channel 1 --timeout 30s hello 42 true")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the config file
	if *name != "" {
		cfg.Broadcast.Name = *name
	}
	if *channel >= 0 {
		if *channel > message.MaxChannel {
			fmt.Fprintf(os.Stderr, "Channel %d out of range 0-%d\n", *channel, message.MaxChannel)
			os.Exit(1)
		}
		cfg.Broadcast.Channel = uint8(*channel)
	}
	if wasSet(flag.CommandLine, "timeout") {
		cfg.Broadcast.Timeout = *timeout
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	values := make([]message.Value, 0, flag.NArg())
	for _, arg := range flag.Args() {
		values = append(values, parseValue(arg))
	}

	sim := radio.NewSimRadio("", radio.NewSimulator(radio.DefaultSimulationConfig()))
	b := broadcast.NewBroadcaster(sim, cfg.Broadcast.Name)

	session, err := b.Start(cfg.Broadcast.Channel, values, cfg.Broadcast.Timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start broadcast: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Broadcasting %d value(s) on channel %d as %q", len(values), session.Channel, b.Name())
	if cfg.Broadcast.Timeout > 0 {
		fmt.Printf(" for %v", cfg.Broadcast.Timeout)
	}
	fmt.Println()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-session.Done():
		fmt.Println("Broadcast timed out")
	case <-interrupt:
		fmt.Println("\nInterrupted")
		session.Stop()
	}
}

// wasSet reports whether a flag was passed on the command line, so an
// explicit zero can be told apart from the default
func wasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// parseValue maps a command line literal to its most specific value type
func parseValue(arg string) message.Value {
	switch arg {
	case "true":
		return message.Bool(true)
	case "false":
		return message.Bool(false)
	}

	if n, err := strconv.ParseInt(arg, 10, 32); err == nil {
		return message.Int(int32(n))
	}
	if f, err := strconv.ParseFloat(arg, 32); err == nil {
		return message.Float(float32(f))
	}
	if strings.HasPrefix(arg, "0x") {
		if raw, err := hex.DecodeString(arg[2:]); err == nil {
			return message.Bytes(raw)
		}
	}
	return message.Text(arg)
}
