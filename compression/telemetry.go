package compression

import (
	"math"
	"sync"
	"time"

	"github.com/filechunkpro/filechunk-pro/common"
)

const networkHistoryLength = 10

// Trend classifies throughput movement, spec §4.D: "improving, declining,
// stable by +-20% change thresholds."
type Trend uint8

var ETrend = Trend(0)

func (Trend) Improving() Trend { return Trend(0) }
func (Trend) Declining() Trend { return Trend(1) }
func (Trend) Stable() Trend    { return Trend(2) }

func (t Trend) String() string { return common.EnumString(t) }

// NetworkTelemetry tracks measured throughput samples (MiB/s) in a
// bounded ring and derives class/stability/trend from them, per spec
// §4.D.
type NetworkTelemetry struct {
	mu      sync.Mutex
	history []float64 // oldest first, capped at networkHistoryLength
}

func NewNetworkTelemetry() *NetworkTelemetry {
	return &NetworkTelemetry{}
}

// RecordThroughput consumes one measured-throughput event.
func (n *NetworkTelemetry) RecordThroughput(mbps float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, mbps)
	if len(n.history) > networkHistoryLength {
		n.history = n.history[len(n.history)-networkHistoryLength:]
	}
}

func (n *NetworkTelemetry) latest() (float64, bool) {
	if len(n.history) == 0 {
		return 0, false
	}
	return n.history[len(n.history)-1], true
}

// Class buckets the most recent measurement into spec §4.D's classes.
func (n *NetworkTelemetry) Class() NetworkClass {
	n.mu.Lock()
	defer n.mu.Unlock()
	mbps, ok := n.latest()
	if !ok {
		return ENetworkClass.Unknown()
	}
	switch {
	case mbps < 0.5:
		return ENetworkClass.VerySlow()
	case mbps < 1:
		return ENetworkClass.Slow()
	case mbps < 5:
		return ENetworkClass.Medium()
	case mbps < 20:
		return ENetworkClass.Fast()
	default:
		return ENetworkClass.VeryFast()
	}
}

// Stability is 1 minus the normalised standard deviation of the history
// window (spec §4.D), clamped to [0, 1].
func (n *NetworkTelemetry) Stability() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.history) < 2 {
		return 1
	}
	mean := 0.0
	for _, v := range n.history {
		mean += v
	}
	mean /= float64(len(n.history))
	if mean == 0 {
		return 1
	}

	variance := 0.0
	for _, v := range n.history {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(n.history))
	stddev := math.Sqrt(variance)

	normalised := stddev / mean
	stability := 1 - normalised
	return clamp01(stability)
}

// Trend compares the most recent sample against the window average with
// a +-20% threshold (spec §4.D).
func (n *NetworkTelemetry) Trend() Trend {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.history) < 2 {
		return ETrend.Stable()
	}
	latest, _ := n.latest()

	priorSum := 0.0
	for _, v := range n.history[:len(n.history)-1] {
		priorSum += v
	}
	priorAvg := priorSum / float64(len(n.history)-1)
	if priorAvg == 0 {
		return ETrend.Stable()
	}

	change := (latest - priorAvg) / priorAvg
	switch {
	case change >= 0.2:
		return ETrend.Improving()
	case change <= -0.2:
		return ETrend.Declining()
	default:
		return ETrend.Stable()
	}
}

const (
	syntheticBenchmarkBytes  = 1_000_000
	longTaskDecayPerEvent    = 0.1
	lowBatteryThreshold      = 0.2
	lowBatteryPenalty        = 0.5
	minDeviceScore           = -2.0
	maxDeviceScore           = 0.5
)

// DeviceTelemetry tracks a normalised device performance score for
// ChooseLevel's adjustment term (spec §4.D): "a one-shot synthetic
// benchmark at boot... yields a normalised score; ongoing long-task
// events decay the score; a low, discharging battery drops it further;
// charging restores it."
type DeviceTelemetry struct {
	mu            sync.Mutex
	baseScore     float64
	longTaskDecay float64
	batteryLevel  float64
	charging      bool
}

// NewDeviceTelemetry runs the synthetic benchmark immediately, the way
// spec §4.D describes a boot-time one-shot measurement.
func NewDeviceTelemetry() *DeviceTelemetry {
	d := &DeviceTelemetry{batteryLevel: 1, charging: true}
	d.baseScore = runSyntheticBenchmark()
	return d
}

// runSyntheticBenchmark busy-loops over syntheticBenchmarkBytes and times
// it; a faster host yields a higher score in [minDeviceScore,
// maxDeviceScore].
func runSyntheticBenchmark() float64 {
	start := time.Now()
	sum := byte(0)
	buf := make([]byte, syntheticBenchmarkBytes)
	for i := range buf {
		sum ^= byte(i)
		buf[i] = sum
	}
	elapsed := time.Since(start)

	// calibration: ~1ms for this loop on a typical host maps to the top
	// of the range, slower hosts trend toward the bottom.
	ms := float64(elapsed.Microseconds()) / 1000.0
	score := maxDeviceScore - (ms * 0.05)
	return clampDevice(score)
}

// RecordLongTask decays the device score by a fixed step per event.
func (d *DeviceTelemetry) RecordLongTask() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.longTaskDecay += longTaskDecayPerEvent
}

// SetBattery updates battery state; a low, discharging battery further
// penalises the score, charging clears the penalty.
func (d *DeviceTelemetry) SetBattery(level float64, charging bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batteryLevel = level
	d.charging = charging
}

// Score returns the current composite device-performance adjustment,
// clamped to [-2, 0.5] per spec §4.D.
func (d *DeviceTelemetry) Score() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	score := d.baseScore - d.longTaskDecay
	if !d.charging && d.batteryLevel < lowBatteryThreshold {
		score -= lowBatteryPenalty
	}
	return clampDevice(score)
}
