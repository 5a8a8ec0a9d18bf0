// Package touch turns raw capacitive pad readings into tap and hold events
// through low-pass filtering, hysteresis, and debounce.
package touch

import (
	"fmt"
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

// EventType classifies a touch event.
type EventType int

const (
	EventStart EventType = iota
	EventTap
	EventHold
	EventEnd
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventTap:
		return "tap"
	case EventHold:
		return "hold"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one detected touch event.
type Event struct {
	Type      EventType
	Duration  int64 // ms, zero for Start
	Pressure  int   // filtered pad value at emission
	Timestamp int64
}

// Config holds detection thresholds. ReleaseThreshold must be strictly
// below TouchThreshold for the hysteresis to work.
type Config struct {
	TouchThreshold   int
	ReleaseThreshold int
	DebounceTime     time.Duration
	HoldTime         time.Duration
}

// DefaultConfig returns default touch thresholds.
func DefaultConfig() Config {
	return Config{
		TouchThreshold:   2000,
		ReleaseThreshold: 1800,
		DebounceTime:     50 * time.Millisecond,
		HoldTime:         1000 * time.Millisecond,
	}
}

// Stats counts touch activity.
type Stats struct {
	Touches     int64
	Taps        int64
	Holds       int64
	LastTouchAt int64
}

// Sensor is the touch input detector.
type Sensor struct {
	config  Config
	pad     hal.TouchPad
	clock   hal.Clock
	enabled bool

	filtered   int
	primed     bool
	touched    bool
	touchStart int64
	lastChange int64
	holdFired  bool

	readErrors int
	stats      Stats
	handler    func(Event)
}

// New creates an enabled touch sensor.
func New(config Config, pad hal.TouchPad, clock hal.Clock) (*Sensor, error) {
	if config.ReleaseThreshold >= config.TouchThreshold {
		return nil, fmt.Errorf("touch: release threshold %d must be below touch threshold %d",
			config.ReleaseThreshold, config.TouchThreshold)
	}
	return &Sensor{config: config, pad: pad, clock: clock, enabled: true}, nil
}

// SetTouchHandler registers the event consumer.
func (s *Sensor) SetTouchHandler(fn func(Event)) {
	s.handler = fn
}

// SetEnabled toggles detection. Disabling releases any in-progress touch.
func (s *Sensor) SetEnabled(enabled bool) {
	s.enabled = enabled
	if !enabled {
		s.touched = false
		s.holdFired = false
	}
}

// SetThresholds changes the hysteresis pair.
func (s *Sensor) SetThresholds(touch, release int) error {
	if release >= touch {
		return fmt.Errorf("touch: release threshold %d must be below touch threshold %d", release, touch)
	}
	s.config.TouchThreshold = touch
	s.config.ReleaseThreshold = release
	return nil
}

// SetDebounceTime changes the minimum spacing between accepted state changes.
func (s *Sensor) SetDebounceTime(d time.Duration) { s.config.DebounceTime = d }

// SetHoldTime changes the tap/hold boundary.
func (s *Sensor) SetHoldTime(d time.Duration) { s.config.HoldTime = d }

// IsTouched reports whether the pad is currently held.
func (s *Sensor) IsTouched() bool {
	return s.touched
}

// IsWorking reports whether pad reads are succeeding.
func (s *Sensor) IsWorking() bool {
	return s.readErrors < 5
}

// Stats returns touch activity counters.
func (s *Sensor) Stats() Stats {
	return s.stats
}

// ResetStats clears the activity counters.
func (s *Sensor) ResetStats() {
	s.stats = Stats{}
}

// Tick samples the pad once and advances detection.
func (s *Sensor) Tick() {
	if !s.enabled {
		return
	}

	raw, err := s.pad.ReadTouch()
	if err != nil {
		s.readErrors++
		return
	}
	s.readErrors = 0

	if !s.primed {
		s.filtered = raw
		s.primed = true
	} else {
		s.filtered = (7*s.filtered + raw) / 8
	}

	now := s.clock.Millis()

	if !s.touched {
		if s.filtered > s.config.TouchThreshold && now-s.lastChange >= s.config.DebounceTime.Milliseconds() {
			s.touched = true
			s.touchStart = now
			s.lastChange = now
			s.holdFired = false
			s.stats.Touches++
			s.stats.LastTouchAt = now
			s.emit(Event{Type: EventStart, Pressure: s.filtered, Timestamp: now})
		}
		return
	}

	duration := now - s.touchStart

	if !s.holdFired && duration >= s.config.HoldTime.Milliseconds() {
		s.holdFired = true
		s.stats.Holds++
		s.emit(Event{Type: EventHold, Duration: duration, Pressure: s.filtered, Timestamp: now})
	}

	if s.filtered <= s.config.ReleaseThreshold && now-s.lastChange >= s.config.DebounceTime.Milliseconds() {
		s.touched = false
		s.lastChange = now
		s.emit(Event{Type: EventEnd, Duration: duration, Pressure: s.filtered, Timestamp: now})
		if duration >= s.config.HoldTime.Milliseconds() {
			s.emit(Event{Type: EventHold, Duration: duration, Pressure: s.filtered, Timestamp: now})
		} else {
			s.stats.Taps++
			s.emit(Event{Type: EventTap, Duration: duration, Pressure: s.filtered, Timestamp: now})
		}
	}
}

// Calibrate measures the untouched baseline over 100 reads and derives the
// hysteresis pair from it.
func (s *Sensor) Calibrate() error {
	const samples = 100
	sum := 0
	for i := 0; i < samples; i++ {
		raw, err := s.pad.ReadTouch()
		if err != nil {
			return fmt.Errorf("touch: calibration read failed: %w", err)
		}
		sum += raw
	}
	baseline := sum / samples
	s.config.TouchThreshold = baseline + 200
	s.config.ReleaseThreshold = baseline + 150
	s.filtered = baseline
	s.primed = true
	log.Printf("touch: calibrated baseline=%d touch=%d release=%d",
		baseline, s.config.TouchThreshold, s.config.ReleaseThreshold)
	return nil
}

func (s *Sensor) emit(e Event) {
	if s.handler != nil {
		s.handler(e)
	}
}
