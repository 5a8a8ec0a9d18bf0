// Package power reads the battery, detects the supply source, and derates
// the device (sampling, LED, sound, radio, CPU clock) by battery band.
package power

import (
	"fmt"
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

// Source is the detected power supply.
type Source int

const (
	SourceUnknown Source = iota
	SourceBattery
	SourceUSB
)

func (s Source) String() string {
	switch s {
	case SourceBattery:
		return "battery"
	case SourceUSB:
		return "usb"
	default:
		return "unknown"
	}
}

// Mode is the coarse power mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModePowerSave
	ModeEmergency
)

func (m Mode) String() string {
	switch m {
	case ModePowerSave:
		return "power_save"
	case ModeEmergency:
		return "emergency"
	default:
		return "normal"
	}
}

// Status is the battery snapshot.
type Status struct {
	Voltage    float64 `json:"voltage"`
	Percent    float64 `json:"percent"`
	Source     Source  `json:"source"`
	Mode       Mode    `json:"mode"`
	Charging   bool    `json:"charging"`
	LowBattery bool    `json:"low_battery"`
}

// Config holds battery measurement parameters.
type Config struct {
	BatteryPin     int
	UpdateInterval time.Duration

	ADCMax           int     // full-scale raw value
	ReferenceVoltage float64 // volts at full scale
	DividerRatio     float64 // external voltage divider

	MinVoltage float64 // 0%
	MaxVoltage float64 // 100%

	LowThreshold      float64 // percent at or below which lowBattery holds
	CriticalThreshold float64 // percent at or below which mode is Emergency
}

// DefaultConfig returns default battery parameters for a single LiPo cell
// behind a 2:1 divider.
func DefaultConfig() Config {
	return Config{
		BatteryPin:        36,
		UpdateInterval:    30 * time.Second,
		ADCMax:            4095,
		ReferenceVoltage:  3.3,
		DividerRatio:      2.0,
		MinVoltage:        3.0,
		MaxVoltage:        4.2,
		LowThreshold:      20,
		CriticalThreshold: 5,
	}
}

// windowSize is the fixed moving-average depth for voltage readings.
const windowSize = 10

// Manager owns battery measurement and mode detection.
type Manager struct {
	config Config
	adc    hal.ADC
	usb    hal.USBSense
	clock  hal.Clock

	calibrationFactor float64

	window     [windowSize]float64
	windowIdx  int
	windowFill int

	status     Status
	lastUpdate int64
	started    bool
	readErrors int

	onLowBattery   func(Status)
	onSourceChange func(old, new Source)
	onModeChange   func(old, new Mode)
}

// New creates a battery manager.
func New(config Config, adc hal.ADC, usb hal.USBSense, clock hal.Clock) (*Manager, error) {
	if config.MaxVoltage <= config.MinVoltage {
		return nil, fmt.Errorf("power: max voltage %g must exceed min voltage %g",
			config.MaxVoltage, config.MinVoltage)
	}
	return &Manager{
		config:            config,
		adc:               adc,
		usb:               usb,
		clock:             clock,
		calibrationFactor: 1.0,
	}, nil
}

// SetLowBatteryHandler registers the callback fired once on entering the
// low-battery band.
func (m *Manager) SetLowBatteryHandler(fn func(Status)) {
	m.onLowBattery = fn
}

// SetSourceChangeHandler registers the supply-source edge callback.
func (m *Manager) SetSourceChangeHandler(fn func(old, new Source)) {
	m.onSourceChange = fn
}

// SetModeChangeHandler registers the power-mode edge callback.
func (m *Manager) SetModeChangeHandler(fn func(old, new Mode)) {
	m.onModeChange = fn
}

// Status returns the latest battery snapshot.
func (m *Manager) Status() Status {
	return m.status
}

// IsLow reports whether the battery is at or below the low threshold.
func (m *Manager) IsLow() bool {
	return m.status.LowBattery
}

// IsCritical reports whether the battery is at or below the critical threshold.
func (m *Manager) IsCritical() bool {
	return m.status.Source == SourceBattery && m.status.Percent <= m.config.CriticalThreshold
}

// IsCharging reports whether the battery is charging from USB.
func (m *Manager) IsCharging() bool {
	return m.status.Charging
}

// IsUSBConnected reports whether external power is present.
func (m *Manager) IsUSBConnected() bool {
	return m.status.Source == SourceUSB
}

// IsWorking reports whether battery reads are succeeding.
func (m *Manager) IsWorking() bool {
	return m.readErrors < 5
}

// CalibrateVoltage adjusts the conversion factor so the measured voltage
// matches an externally measured actual value.
func (m *Manager) CalibrateVoltage(actual float64) error {
	if m.status.Voltage <= 0 {
		return fmt.Errorf("power: no measurement to calibrate against")
	}
	raw := m.status.Voltage / m.calibrationFactor
	if raw <= 0 {
		return fmt.Errorf("power: measured voltage is zero")
	}
	m.calibrationFactor = actual / raw
	log.Printf("power: voltage calibration factor set to %.4f", m.calibrationFactor)
	return nil
}

// Tick samples the battery when the update interval has elapsed and fires
// edge callbacks on crossings.
func (m *Manager) Tick() {
	now := m.clock.Millis()
	if m.started && now-m.lastUpdate < m.config.UpdateInterval.Milliseconds() {
		return
	}
	m.started = true
	m.lastUpdate = now

	raw, err := m.adc.Read(m.config.BatteryPin)
	if err != nil {
		m.readErrors++
		return
	}
	m.readErrors = 0

	volts := float64(raw) / float64(m.config.ADCMax) * m.config.ReferenceVoltage *
		m.config.DividerRatio * m.calibrationFactor
	m.window[m.windowIdx] = volts
	m.windowIdx = (m.windowIdx + 1) % windowSize
	if m.windowFill < windowSize {
		m.windowFill++
	}

	sum := 0.0
	for i := 0; i < m.windowFill; i++ {
		sum += m.window[i]
	}
	avg := sum / float64(m.windowFill)

	old := m.status
	m.status = m.derive(avg)

	if m.onSourceChange != nil && m.status.Source != old.Source {
		m.onSourceChange(old.Source, m.status.Source)
	}
	if m.onModeChange != nil && m.status.Mode != old.Mode {
		m.onModeChange(old.Mode, m.status.Mode)
	}
	if m.onLowBattery != nil && m.status.LowBattery && !old.LowBattery {
		m.onLowBattery(m.status)
	}
}

func (m *Manager) derive(voltage float64) Status {
	s := Status{Voltage: voltage}

	pct := (voltage - m.config.MinVoltage) / (m.config.MaxVoltage - m.config.MinVoltage) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.Percent = pct

	switch {
	case m.usb.USBPresent():
		s.Source = SourceUSB
	case voltage > m.config.MinVoltage:
		s.Source = SourceBattery
	default:
		s.Source = SourceUnknown
	}

	s.Charging = s.Source == SourceUSB && s.Percent < 100
	s.LowBattery = s.Percent <= m.config.LowThreshold

	if s.Source == SourceBattery {
		switch {
		case s.Percent <= m.config.CriticalThreshold:
			s.Mode = ModeEmergency
		case s.Percent <= m.config.LowThreshold:
			s.Mode = ModePowerSave
		default:
			s.Mode = ModeNormal
		}
	} else {
		s.Mode = ModeNormal
	}

	return s
}
