package power

import (
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

// Level is the power-save derating level.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelEmergency:
		return "emergency"
	default:
		return "none"
	}
}

// profile is the knob set applied at a level.
type profile struct {
	samplingInterval time.Duration
	ledBrightness    uint8
	soundEnabled     bool
	wifiEnabled      bool
	cpuMHz           int
}

var profiles = [...]profile{
	LevelNone:      {5 * time.Second, 255, true, true, 240},
	LevelLow:       {10 * time.Second, 128, true, true, 160},
	LevelMedium:    {30 * time.Second, 64, false, false, 80},
	LevelHigh:      {60 * time.Second, 32, false, false, 40},
	LevelEmergency: {5 * time.Minute, 16, false, false, 20},
}

// AdapterConfig holds power-save tuning.
type AdapterConfig struct {
	BatteryCapacityWh float64
}

// DefaultAdapterConfig returns defaults for a 2000 mAh single-cell pack.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{BatteryCapacityWh: 7.4}
}

// AdapterStats tracks power-save accounting.
type AdapterStats struct {
	LevelChanges   int
	EnergySavedWh  float64
	TimeInSaveMode time.Duration
}

// Adapter maps battery status onto a derating level and pushes the knob set
// out through handlers. CPU frequency is applied directly.
type Adapter struct {
	config AdapterConfig
	cpu    hal.CPU
	clock  hal.Clock

	level       Level
	forced      bool
	forcedLevel Level

	estimateW  float64
	lastTick   int64
	haveTick   bool
	lastStatus Status
	stats      AdapterStats

	onSamplingInterval func(time.Duration)
	onLEDBrightness    func(uint8)
	onSoundEnabled     func(bool)
	onWiFiEnabled      func(bool)
	onLevelChange      func(old, new Level)
}

// NewAdapter creates a power-save adapter. Knobs are applied for LevelNone
// on the first Tick.
func NewAdapter(config AdapterConfig, cpu hal.CPU, clock hal.Clock) *Adapter {
	return &Adapter{
		config:    config,
		cpu:       cpu,
		clock:     clock,
		level:     -1, // force an apply on first tick
		estimateW: basePowerW(profiles[LevelNone]),
	}
}

// SetSamplingIntervalHandler registers the sampling-interval knob.
func (a *Adapter) SetSamplingIntervalHandler(fn func(time.Duration)) {
	a.onSamplingInterval = fn
}

// SetLEDBrightnessHandler registers the LED brightness knob.
func (a *Adapter) SetLEDBrightnessHandler(fn func(uint8)) {
	a.onLEDBrightness = fn
}

// SetSoundEnabledHandler registers the sound enable knob.
func (a *Adapter) SetSoundEnabledHandler(fn func(bool)) {
	a.onSoundEnabled = fn
}

// SetWiFiEnabledHandler registers the radio enable knob.
func (a *Adapter) SetWiFiEnabledHandler(fn func(bool)) {
	a.onWiFiEnabled = fn
}

// SetLevelChangeHandler registers the level edge callback.
func (a *Adapter) SetLevelChangeHandler(fn func(old, new Level)) {
	a.onLevelChange = fn
}

// Level returns the active derating level.
func (a *Adapter) Level() Level {
	if a.level < LevelNone {
		return LevelNone
	}
	return a.level
}

// Forced reports whether the level is pinned by ForceLevel.
func (a *Adapter) Forced() bool {
	return a.forced
}

// ForceLevel pins the derating level regardless of battery state.
func (a *Adapter) ForceLevel(level Level) {
	if level < LevelNone || level > LevelEmergency {
		level = LevelNone
	}
	a.forced = true
	a.forcedLevel = level
	a.apply(level)
}

// ExitForcedMode returns level selection to the battery.
func (a *Adapter) ExitForcedMode() {
	a.forced = false
}

// PowerEstimateW returns the smoothed power draw estimate in watts.
func (a *Adapter) PowerEstimateW() float64 {
	return a.estimateW
}

// RemainingHours estimates runtime left at the current draw.
func (a *Adapter) RemainingHours(status Status) float64 {
	if a.estimateW <= 0 {
		return 0
	}
	return a.config.BatteryCapacityWh * status.Percent / 100 / a.estimateW
}

// Stats returns power-save accounting.
func (a *Adapter) Stats() AdapterStats {
	return a.stats
}

// OptimalLevel maps battery state to the derating level it calls for.
func OptimalLevel(status Status) Level {
	if status.Source == SourceUSB {
		return LevelNone
	}
	switch {
	case status.Percent < 5:
		return LevelEmergency
	case status.Percent < 10:
		return LevelHigh
	case status.Percent < 20:
		return LevelMedium
	case status.Percent < 50:
		return LevelLow
	default:
		return LevelNone
	}
}

// Tick selects and applies the level for the given battery status and
// updates the power draw estimate.
func (a *Adapter) Tick(status Status) {
	a.lastStatus = status

	want := OptimalLevel(status)
	if a.forced {
		want = a.forcedLevel
	}
	if want != a.level {
		a.apply(want)
	}

	now := a.clock.Millis()
	if a.haveTick {
		dtHours := float64(now-a.lastTick) / 3600000.0
		inst := basePowerW(profiles[a.Level()])
		a.estimateW = a.estimateW*0.9 + inst*0.1
		if a.Level() != LevelNone {
			saved := basePowerW(profiles[LevelNone]) - a.estimateW
			if saved > 0 {
				a.stats.EnergySavedWh += saved * dtHours
			}
			a.stats.TimeInSaveMode += time.Duration(now-a.lastTick) * time.Millisecond
		}
	}
	a.haveTick = true
	a.lastTick = now
}

func (a *Adapter) apply(level Level) {
	old := a.level
	a.level = level
	p := profiles[level]

	a.cpu.SetFrequencyMHz(p.cpuMHz)
	if a.onSamplingInterval != nil {
		a.onSamplingInterval(p.samplingInterval)
	}
	if a.onLEDBrightness != nil {
		a.onLEDBrightness(p.ledBrightness)
	}
	if a.onSoundEnabled != nil {
		a.onSoundEnabled(p.soundEnabled)
	}
	if a.onWiFiEnabled != nil {
		a.onWiFiEnabled(p.wifiEnabled)
	}

	if old >= LevelNone {
		a.stats.LevelChanges++
		log.Printf("power: save level %s -> %s", old, level)
		if a.onLevelChange != nil {
			a.onLevelChange(old, level)
		}
	}
}

// basePowerW models instantaneous draw from the active knob set.
func basePowerW(p profile) float64 {
	w := 0.1
	w += float64(p.cpuMHz) / 240.0 * 0.5
	w += float64(p.ledBrightness) / 255.0 * 0.1
	if p.wifiEnabled {
		w += 0.2
	}
	return w
}
