package sensor

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

func errOrdering(sensor string, low, high int) error {
	return fmt.Errorf("sensor: %s calibration not strictly ordered: low=%d high=%d", sensor, low, high)
}

func errMaxLux(v float64) error {
	return fmt.Errorf("sensor: max lux must be positive, got %g", v)
}

// Config holds sensor manager configuration.
type Config struct {
	SoilPin  int
	LightPin int

	// MedianSamples per ADC read, 1..20.
	MedianSamples int
	// SampleSpacing between the median reads.
	SampleSpacing time.Duration
	// ErrorThreshold is the consecutive-failure count that marks a
	// sensor as errored.
	ErrorThreshold int
}

// DefaultConfig returns default sensor configuration.
func DefaultConfig() Config {
	return Config{
		SoilPin:        34,
		LightPin:       35,
		MedianSamples:  5,
		SampleSpacing:  10 * time.Millisecond,
		ErrorThreshold: 5,
	}
}

// Manager owns the environmental sensors.
type Manager struct {
	config Config
	adc    hal.ADC
	probe  hal.ClimateProbe
	clock  hal.Clock
	pause  func(time.Duration)

	calibration Calibration

	status    [kindCount]Status
	errCounts [kindCount]int
	lastErr   [kindCount]string

	lastValid      Sample
	haveValidSoil  bool
	haveValidLight bool
	haveValidTemp  bool
	haveValidHum   bool
}

// New creates a sensor manager with default calibration.
func New(config Config, adc hal.ADC, probe hal.ClimateProbe, clock hal.Clock) (*Manager, error) {
	if config.MedianSamples < 1 || config.MedianSamples > 20 {
		return nil, fmt.Errorf("sensor: median samples must be 1..20, got %d", config.MedianSamples)
	}
	if config.ErrorThreshold < 1 {
		return nil, fmt.Errorf("sensor: error threshold must be positive, got %d", config.ErrorThreshold)
	}
	return &Manager{
		config:      config,
		adc:         adc,
		probe:       probe,
		clock:       clock,
		pause:       time.Sleep,
		calibration: DefaultCalibration(),
	}, nil
}

// Calibration returns the active calibration.
func (m *Manager) Calibration() Calibration {
	return m.calibration
}

// ApplyCalibration replaces the active calibration after validating it.
func (m *Manager) ApplyCalibration(c Calibration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.calibration = c
	return nil
}

// CalibrateSoil sets the soil anchors from a manual dry/wet measurement.
func (m *Manager) CalibrateSoil(dryRaw, wetRaw int) error {
	c := m.calibration
	c.SoilDryRaw = dryRaw
	c.SoilWetRaw = wetRaw
	c.Calibrated = true
	return m.ApplyCalibration(c)
}

// CalibrateLight sets the light anchors from a manual dark/bright measurement.
func (m *Manager) CalibrateLight(darkRaw, brightRaw int, maxLux float64) error {
	c := m.calibration
	c.LightDarkRaw = darkRaw
	c.LightBrightRaw = brightRaw
	c.MaxLux = maxLux
	c.Calibrated = true
	return m.ApplyCalibration(c)
}

// AutoCalibrateSoil measures the probe in its current medium and records it
// as the given anchor. Callers prompt the user between the two extremes.
func (m *Manager) AutoCalibrateSoil(dry bool) error {
	raw, err := m.readMedian(m.config.SoilPin)
	if err != nil {
		return fmt.Errorf("sensor: auto calibration read failed: %w", err)
	}
	c := m.calibration
	if dry {
		c.SoilDryRaw = raw
	} else {
		c.SoilWetRaw = raw
	}
	// Only a complete pair can be validated and applied.
	if c.SoilDryRaw > c.SoilWetRaw {
		c.Calibrated = true
		return m.ApplyCalibration(c)
	}
	m.calibration = c
	return nil
}

// Status returns the health of one sensor.
func (m *Manager) Status(k Kind) Status {
	return m.status[k]
}

// ErrorInfo returns the last error text for one sensor, empty when healthy.
func (m *Manager) ErrorInfo(k Kind) string {
	return m.lastErr[k]
}

// IsWorking reports whether every sensor is healthy.
func (m *Manager) IsWorking() bool {
	for k := Kind(0); k < kindCount; k++ {
		if m.status[k] == StatusError {
			return false
		}
	}
	return true
}

// SelfTest reads each sensor once and reports the first failure.
func (m *Manager) SelfTest() error {
	if _, err := m.adc.Read(m.config.SoilPin); err != nil {
		return fmt.Errorf("sensor: soil self-test: %w", err)
	}
	if _, err := m.adc.Read(m.config.LightPin); err != nil {
		return fmt.Errorf("sensor: light self-test: %w", err)
	}
	if math.IsNaN(m.probe.ReadTemperature()) {
		return fmt.Errorf("sensor: temperature self-test: probe returned NaN")
	}
	if math.IsNaN(m.probe.ReadHumidity()) {
		return fmt.Errorf("sensor: humidity self-test: probe returned NaN")
	}
	return nil
}

// ReadAll acquires one complete sample. Failed fields carry the last valid
// value through; a sample is valid only when every field has a usable value
// inside its sensor range.
func (m *Manager) ReadAll() Sample {
	s := Sample{Timestamp: m.clock.Millis()}
	usable := true

	if raw, err := m.readMedian(m.config.SoilPin); err == nil {
		s.SoilMoisture = m.soilPercent(raw)
		m.recordSuccess(KindSoil)
		m.lastValid.SoilMoisture = s.SoilMoisture
		m.haveValidSoil = true
	} else {
		m.recordFailure(KindSoil, err.Error())
		if m.haveValidSoil {
			s.SoilMoisture = m.lastValid.SoilMoisture
		} else {
			usable = false
		}
	}

	if raw, err := m.readMedian(m.config.LightPin); err == nil {
		s.Light = m.lightLux(raw)
		m.recordSuccess(KindLight)
		m.lastValid.Light = s.Light
		m.haveValidLight = true
	} else {
		m.recordFailure(KindLight, err.Error())
		if m.haveValidLight {
			s.Light = m.lastValid.Light
		} else {
			usable = false
		}
	}

	if t := m.probe.ReadTemperature(); !math.IsNaN(t) {
		s.Temperature = t + m.calibration.TempOffset
		m.recordSuccess(KindTemperature)
		m.lastValid.Temperature = s.Temperature
		m.haveValidTemp = true
	} else {
		m.recordFailure(KindTemperature, "temperature read returned NaN")
		if m.haveValidTemp {
			s.Temperature = m.lastValid.Temperature
		} else {
			usable = false
		}
	}

	if h := m.probe.ReadHumidity(); !math.IsNaN(h) {
		s.AirHumidity = h
		m.recordSuccess(KindHumidity)
		m.lastValid.AirHumidity = s.AirHumidity
		m.haveValidHum = true
	} else {
		m.recordFailure(KindHumidity, "humidity read returned NaN")
		if m.haveValidHum {
			s.AirHumidity = m.lastValid.AirHumidity
		} else {
			usable = false
		}
	}

	s.Valid = usable && s.InRange()
	if s.Valid {
		m.lastValid = s
	}
	return s
}

// readMedian reads a pin MedianSamples times and returns the median.
func (m *Manager) readMedian(pin int) (int, error) {
	n := m.config.MedianSamples
	values := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && m.config.SampleSpacing > 0 {
			m.pause(m.config.SampleSpacing)
		}
		v, err := m.adc.Read(pin)
		if err != nil {
			return 0, err
		}
		values = append(values, v)
	}
	sort.Ints(values)
	return values[n/2], nil
}

func (m *Manager) soilPercent(raw int) float64 {
	c := m.calibration
	pct := float64(c.SoilDryRaw-raw) / float64(c.SoilDryRaw-c.SoilWetRaw) * 100
	return clamp(pct, 0, 100)
}

func (m *Manager) lightLux(raw int) float64 {
	c := m.calibration
	lux := float64(raw-c.LightDarkRaw) / float64(c.LightBrightRaw-c.LightDarkRaw) * c.MaxLux
	return clamp(lux, 0, c.MaxLux)
}

func (m *Manager) recordSuccess(k Kind) {
	m.errCounts[k] = 0
	if m.status[k] == StatusError {
		log.Printf("sensor: %s recovered", k)
	}
	m.status[k] = StatusOK
	m.lastErr[k] = ""
}

func (m *Manager) recordFailure(k Kind, msg string) {
	m.errCounts[k]++
	m.lastErr[k] = msg
	if m.errCounts[k] >= m.config.ErrorThreshold && m.status[k] != StatusError {
		m.status[k] = StatusError
		log.Printf("sensor: %s marked errored after %d consecutive failures: %s", k, m.errCounts[k], msg)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
