package radio

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls the realism of the simulated radio
type SimulationConfig struct {
	// Advertising/scan timing (in milliseconds)
	AdvertisingInterval int // Default: 100ms (common advertising interval)

	// Radio characteristics
	EnableRSSI   bool // Default: true
	BaseRSSI     int  // Default: -50 dBm (close range)
	RSSIVariance int  // Default: 10 dBm (realistic fluctuation)

	// Reception loss
	DropRate float64 // Default: 0.015 (1.5% of advertisements missed)

	// Deterministic mode for testing
	Deterministic bool  // Default: false (use for reproducible scenarios)
	Seed          int64 // Random seed when Deterministic=true
}

// DefaultSimulationConfig returns realistic broadcast radio parameters
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		AdvertisingInterval: 100,

		EnableRSSI:   true,
		BaseRSSI:     -50,
		RSSIVariance: 10,

		DropRate: 0.015,

		Deterministic: false,
		Seed:          0,
	}
}

// PerfectSimulationConfig returns a 100% reliable config for testing
func PerfectSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.DropRate = 0
	cfg.RSSIVariance = 0
	cfg.Deterministic = true
	return cfg
}

// Simulator models reception behavior of the simulated air: signal strength
// over distance, fluctuation and missed advertisements
type Simulator struct {
	config *SimulationConfig
	rng    *rand.Rand
	mu     sync.Mutex
}

// NewSimulator creates a new radio simulator
func NewSimulator(config *SimulationConfig) *Simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	var rng *rand.Rand
	if config.Deterministic {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Simulator{
		config: config,
		rng:    rng,
	}
}

// ScanInterval returns how often the simulated scanner polls the air
func (s *Simulator) ScanInterval() time.Duration {
	return time.Duration(s.config.AdvertisingInterval) * time.Millisecond
}

// ShouldDeliver returns true if a received advertisement should be
// delivered rather than counted as radio loss
func (s *Simulator) ShouldDeliver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() >= s.config.DropRate
}

// GenerateRSSI returns a realistic RSSI value with variance
// distance: approximate distance in meters (1-10)
func (s *Simulator) GenerateRSSI(distance float64) int {
	if !s.config.EnableRSSI {
		return s.config.BaseRSSI
	}
	if distance < 1 {
		distance = 1
	}

	// Free space path loss: RSSI drops ~20dB per 10x distance
	pathLoss := 20 * math.Log10(distance)
	rssi := float64(s.config.BaseRSSI) - pathLoss

	if s.config.RSSIVariance > 0 {
		s.mu.Lock()
		variance := s.rng.Intn(s.config.RSSIVariance*2) - s.config.RSSIVariance
		s.mu.Unlock()
		rssi += float64(variance)
	}

	// Clamp to realistic BLE range (-100 to -20 dBm)
	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}

	return int(rssi)
}
