// Package alert implements the reminder escalation state machine:
// abnormal reports become pending alerts, activate after a delay (or
// immediately when urgent), repeat on an interval, and resolve through
// acknowledgement, snooze, or a normal report.
package alert

import (
	"fmt"
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

// Type identifies what the alert is about.
type Type int

const (
	TypeNone Type = iota
	TypeNeedsWater
	TypeNeedsLight
	TypeLowBattery
	TypeSensorError
	TypeCritical
)

func (t Type) String() string {
	switch t {
	case TypeNeedsWater:
		return "needs_water"
	case TypeNeedsLight:
		return "needs_light"
	case TypeLowBattery:
		return "low_battery"
	case TypeSensorError:
		return "sensor_error"
	case TypeCritical:
		return "critical"
	default:
		return "none"
	}
}

// State is the alert lifecycle state.
type State int

const (
	StateInactive State = iota
	StatePending
	StateActive
	StateAcknowledged
	StateSnoozed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateAcknowledged:
		return "acknowledged"
	case StateSnoozed:
		return "snoozed"
	default:
		return "inactive"
	}
}

// Info is the full alert record. State is Inactive exactly when Type is None.
type Info struct {
	Type          Type   `json:"type"`
	State         State  `json:"state"`
	StartTime     int64  `json:"start_time"`
	LastAlertTime int64  `json:"last_alert_time"`
	AckTime       int64  `json:"ack_time"`
	RepeatCount   int    `json:"repeat_count"`
	Urgent        bool   `json:"urgent"`
	Message       string `json:"message"`
}

// Config holds escalation timing.
type Config struct {
	Delay          time.Duration
	RepeatInterval time.Duration
	SnoozeTime     time.Duration
	MaxRepeatCount int
}

// DefaultConfig returns default escalation timing.
func DefaultConfig() Config {
	return Config{
		Delay:          30 * time.Minute,
		RepeatInterval: 2 * time.Hour,
		SnoozeTime:     30 * time.Minute,
		MaxRepeatCount: 10,
	}
}

// Stats counts alert outcomes.
type Stats struct {
	Activations      int64 `json:"activations"`
	Repeats          int64 `json:"repeats"`
	Acknowledged     int64 `json:"acknowledged"`
	Snoozed          int64 `json:"snoozed"`
	AutoAcknowledged int64 `json:"auto_acknowledged"`
	Cleared          int64 `json:"cleared"`
}

// Escalator owns the alert state machine.
type Escalator struct {
	config  Config
	clock   hal.Clock
	enabled bool

	info  Info
	stats Stats

	onAlert func(Info)
	onStop  func(Info)
}

// New creates an enabled escalator with no alert.
func New(config Config, clock hal.Clock) (*Escalator, error) {
	if config.MaxRepeatCount < 1 {
		return nil, fmt.Errorf("alert: max repeat count must be positive, got %d", config.MaxRepeatCount)
	}
	return &Escalator{config: config, clock: clock, enabled: true}, nil
}

// SetAlertHandler registers the callback fired on each activation or repeat.
func (e *Escalator) SetAlertHandler(fn func(Info)) {
	e.onAlert = fn
}

// SetStopHandler registers the callback fired once per active alert ending.
func (e *Escalator) SetStopHandler(fn func(Info)) {
	e.onStop = fn
}

// SetEnabled toggles the escalator. Disabling clears any current alert.
func (e *Escalator) SetEnabled(enabled bool) {
	if !enabled && e.info.State != StateInactive {
		e.clear(e.info.State == StateActive)
	}
	e.enabled = enabled
}

// SetDelay changes the pre-activation delay.
func (e *Escalator) SetDelay(d time.Duration) { e.config.Delay = d }

// SetRepeatInterval changes the repeat cadence.
func (e *Escalator) SetRepeatInterval(d time.Duration) { e.config.RepeatInterval = d }

// SetSnoozeTime changes the snooze duration.
func (e *Escalator) SetSnoozeTime(d time.Duration) { e.config.SnoozeTime = d }

// SetMaxRepeatCount changes the repeat bound.
func (e *Escalator) SetMaxRepeatCount(n int) {
	if n >= 1 {
		e.config.MaxRepeatCount = n
	}
}

// Current returns the alert record.
func (e *Escalator) Current() Info {
	return e.info
}

// HasActive reports whether an alert is in the Active state.
func (e *Escalator) HasActive() bool {
	return e.info.State == StateActive
}

// IsAlerting reports whether any alert episode is in progress.
func (e *Escalator) IsAlerting() bool {
	return e.info.State != StateInactive
}

// IsWorking reports component health; the escalator has no hardware.
func (e *Escalator) IsWorking() bool {
	return true
}

// Stats returns alert outcome counters.
func (e *Escalator) Stats() Stats {
	return e.stats
}

// ReportAbnormal registers an abnormal condition. A different type replaces
// the current episode; an urgent report promotes a non-urgent episode in
// place; urgency is never demoted within one episode.
func (e *Escalator) ReportAbnormal(t Type, urgent bool, message string) {
	if !e.enabled || t == TypeNone {
		return
	}
	now := e.clock.Millis()

	if e.info.State == StateInactive {
		e.begin(t, urgent, message, now)
		return
	}

	if t != e.info.Type {
		// Fresh episode for the new condition.
		if e.info.State == StateActive {
			e.fireStop()
		}
		e.begin(t, urgent, message, now)
		return
	}

	if urgent && !e.info.Urgent {
		e.info.Urgent = true
		log.Printf("alert: %s promoted to urgent", t)
	}
	if message != "" {
		e.info.Message = message
	}
}

// ReportNormal clears the current episode.
func (e *Escalator) ReportNormal() {
	if e.info.State == StateInactive {
		return
	}
	e.clear(e.info.State == StateActive)
	e.stats.Cleared++
}

// Acknowledge moves an active alert to Acknowledged.
func (e *Escalator) Acknowledge() {
	if e.info.State != StateActive {
		return
	}
	now := e.clock.Millis()
	e.fireStop()
	e.info.State = StateAcknowledged
	e.info.AckTime = now
	e.stats.Acknowledged++
	log.Printf("alert: %s acknowledged", e.info.Type)
}

// Snooze moves an active alert to Snoozed. A zero duration uses the
// configured snooze time.
func (e *Escalator) Snooze(d time.Duration) {
	if e.info.State != StateActive {
		return
	}
	if d <= 0 {
		d = e.config.SnoozeTime
	}
	now := e.clock.Millis()
	e.fireStop()
	e.info.State = StateSnoozed
	e.info.AckTime = now
	e.info.LastAlertTime = now - e.config.RepeatInterval.Milliseconds() + d.Milliseconds()
	e.stats.Snoozed++
	log.Printf("alert: %s snoozed for %v", e.info.Type, d)
}

// Tick advances the state machine against the monotonic clock.
func (e *Escalator) Tick() {
	if !e.enabled || e.info.State == StateInactive {
		return
	}
	now := e.clock.Millis()

	switch e.info.State {
	case StatePending:
		if e.info.Urgent || now-e.info.StartTime >= e.config.Delay.Milliseconds() {
			e.activate(now)
		}

	case StateActive:
		if e.info.RepeatCount >= e.config.MaxRepeatCount {
			// Repeats exhausted; stand down as if acknowledged.
			e.fireStop()
			e.info.State = StateAcknowledged
			e.info.AckTime = now
			e.stats.AutoAcknowledged++
			log.Printf("alert: %s auto-acknowledged after %d repeats", e.info.Type, e.info.RepeatCount)
			return
		}
		if now-e.info.LastAlertTime >= e.config.RepeatInterval.Milliseconds() {
			e.info.RepeatCount++
			e.info.LastAlertTime = now
			e.stats.Repeats++
			e.fireAlert()
		}

	case StateAcknowledged, StateSnoozed:
		if now-e.info.AckTime > e.config.SnoozeTime.Milliseconds() {
			e.info.State = StatePending
			e.info.StartTime = now
			e.info.RepeatCount = 0
		}
	}
}

func (e *Escalator) begin(t Type, urgent bool, message string, now int64) {
	e.info = Info{
		Type:      t,
		State:     StatePending,
		StartTime: now,
		Urgent:    urgent,
		Message:   message,
	}
}

func (e *Escalator) activate(now int64) {
	e.info.State = StateActive
	e.info.RepeatCount++
	e.info.LastAlertTime = now
	e.stats.Activations++
	log.Printf("alert: %s active (urgent=%v)", e.info.Type, e.info.Urgent)
	e.fireAlert()
}

func (e *Escalator) clear(wasActive bool) {
	if wasActive {
		e.fireStop()
	}
	e.info = Info{}
}

func (e *Escalator) fireAlert() {
	if e.onAlert != nil {
		e.onAlert(e.info)
	}
}

func (e *Escalator) fireStop() {
	if e.onStop != nil {
		e.onStop(e.info)
	}
}
