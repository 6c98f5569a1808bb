package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/user/pybble/config"
	"github.com/user/pybble/logger"
	"github.com/user/pybble/observe"
	"github.com/user/pybble/radio"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	rssi := flag.Int("rssi", 0, "Minimum signal strength in dBm (negative, 0 = no filter)")
	nameFilter := flag.String("name-filter", "", "Only accept senders whose name starts with this prefix")
	active := flag.Bool("active", false, "Scan in active mode instead of passive")
	logLevel := flag.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flag.Parse()

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
	if flag.NArg() > 0 {
		channels, err := parseChannels(flag.Args())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		cfg.Observe.Channels = channels
	}
	if *rssi != 0 {
		cfg.Observe.RSSIThreshold = rssi
	}
	if *nameFilter != "" {
		cfg.Observe.NamePattern = *nameFilter
	}
	if *active {
		cfg.Observe.Mode = radio.ScanModeActive
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	sim := radio.NewSimRadio("", radio.NewSimulator(radio.DefaultSimulationConfig()))
	cache := observe.NewCache(cfg.Observe.Capacity, cfg.Observe.TTL)
	observer := observe.NewObserver(sim, cache, cfg.Observe.Mode)

	filter := observe.Filter{
		NamePattern:   cfg.Observe.NamePattern,
		RSSIThreshold: cfg.Observe.RSSIThreshold,
		Channels:      cfg.Observe.Channels,
	}
	err := observer.Start(filter, func(obs observe.Observation) {
		fmt.Printf("[ch %d] %s (%d dBm): %s\n", obs.Channel, obs.Identity, obs.RSSI, formatValues(obs))
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start observing: %v\n", err)
		os.Exit(1)
	}

	if len(cfg.Observe.Channels) > 0 {
		fmt.Printf("Observing channels %v, press Ctrl-C to stop\n", cfg.Observe.Channels)
	} else {
		fmt.Println("Observing all channels, press Ctrl-C to stop")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	if err := observer.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop observing: %v\n", err)
		os.Exit(1)
	}

	stats := observer.Stats()
	fmt.Printf("\nReceived %d, delivered %d, filtered %d, malformed %d\n",
		stats.Received, stats.Delivered, stats.Filtered, stats.Malformed)
}

func parseChannels(args []string) ([]uint8, error) {
	raw := make([]int, 0, len(args))
	for _, arg := range args {
		ch, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", arg)
		}
		raw = append(raw, ch)
	}
	return config.Channels(raw)
}

func formatValues(obs observe.Observation) string {
	parts := make([]string, 0, len(obs.Values))
	for _, v := range obs.Values {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, ", ")
}
