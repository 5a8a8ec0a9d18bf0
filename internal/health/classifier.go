// Package health turns environmental samples into a discrete plant state,
// a 0-100 health score, and a human-readable message.
package health

import (
	"fmt"
	"math"

	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/sensor"
)

// PlantState is the classified condition of the plant.
type PlantState int

const (
	StateUnknown PlantState = iota
	StateHealthy
	StateNeedsWater
	StateNeedsLight
	StateCritical
	stateCount
)

func (s PlantState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateNeedsWater:
		return "needs_water"
	case StateNeedsLight:
		return "needs_light"
	case StateCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds are the classification boundaries.
type Thresholds struct {
	MoistureLow      float64 `json:"moisture_low" yaml:"moisture_low"`
	MoistureCritical float64 `json:"moisture_critical" yaml:"moisture_critical"`
	LightLow         float64 `json:"light_low" yaml:"light_low"`
	LightCritical    float64 `json:"light_critical" yaml:"light_critical"`
	TempMin          float64 `json:"temp_min" yaml:"temp_min"`
	TempMax          float64 `json:"temp_max" yaml:"temp_max"`
	TempOptimalMin   float64 `json:"temp_optimal_min" yaml:"temp_optimal_min"`
	TempOptimalMax   float64 `json:"temp_optimal_max" yaml:"temp_optimal_max"`
}

// DefaultThresholds returns the factory classification boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MoistureLow:      30,
		MoistureCritical: 10,
		LightLow:         500,
		LightCritical:    100,
		TempMin:          15,
		TempMax:          35,
		TempOptimalMin:   20,
		TempOptimalMax:   28,
	}
}

// Validate checks threshold ordering.
func (t Thresholds) Validate() error {
	if t.MoistureCritical >= t.MoistureLow {
		return fmt.Errorf("health: moisture critical %g must be below low %g", t.MoistureCritical, t.MoistureLow)
	}
	if t.LightCritical >= t.LightLow {
		return fmt.Errorf("health: light critical %g must be below low %g", t.LightCritical, t.LightLow)
	}
	if t.TempMin >= t.TempMax {
		return fmt.Errorf("health: temp min %g must be below max %g", t.TempMin, t.TempMax)
	}
	if t.TempOptimalMin < t.TempMin || t.TempOptimalMax > t.TempMax || t.TempOptimalMin >= t.TempOptimalMax {
		return fmt.Errorf("health: optimal band [%g,%g] must nest inside [%g,%g]",
			t.TempOptimalMin, t.TempOptimalMax, t.TempMin, t.TempMax)
	}
	return nil
}

// Ideal anchors for the sub-scores.
const (
	moistureIdeal = 60.0
	lightIdeal    = 2000.0
)

// Status is the classified plant condition at a point in time.
type Status struct {
	State          PlantState    `json:"state"`
	Score          int           `json:"score"`
	Sample         sensor.Sample `json:"sample"`
	NeedsAttention bool          `json:"needs_attention"`
	Message        string        `json:"message"`
	Timestamp      int64         `json:"timestamp"`
}

// StateChange records one plant-state transition.
type StateChange struct {
	Previous  PlantState    `json:"previous"`
	New       PlantState    `json:"new"`
	ChangedAt int64         `json:"changed_at"`
	Sample    sensor.Sample `json:"sample"`
	Cause     string        `json:"cause"`
}

// Stats accumulates classification statistics across the device lifetime.
type Stats struct {
	TotalEvaluations int64             `json:"total_evaluations"`
	StateChanges     int64             `json:"state_changes"`
	DwellMillis      [stateCount]int64 `json:"dwell_millis"`
	AverageScore     float64           `json:"average_score"`
	LastChangeAt     int64             `json:"last_change_at"`
}

// historyDepth is the capacity of the state-change ring.
const historyDepth = 10

// Classifier owns the plant health status.
type Classifier struct {
	clock      hal.Clock
	thresholds Thresholds

	current        Status
	previousState  PlantState
	stateStartTime int64

	history []StateChange // newest first
	stats   Stats
}

// New creates a classifier with default thresholds.
func New(clock hal.Clock) *Classifier {
	return &Classifier{
		clock:      clock,
		thresholds: DefaultThresholds(),
		current: Status{
			State:   StateUnknown,
			Message: "awaiting first sample",
		},
	}
}

// Thresholds returns the active classification boundaries.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// SetThresholds replaces the boundaries after validation.
func (c *Classifier) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.thresholds = t
	return nil
}

// ResetThresholds restores the factory boundaries.
func (c *Classifier) ResetThresholds() {
	c.thresholds = DefaultThresholds()
}

// Evaluate classifies one sample and updates the current status. Invalid
// samples are dropped and the last status is returned unchanged.
func (c *Classifier) Evaluate(s sensor.Sample) Status {
	if !s.Valid {
		return c.current
	}

	now := c.clock.Millis()
	state := c.classify(s)
	score := c.score(s)

	c.stats.TotalEvaluations++
	n := float64(c.stats.TotalEvaluations)
	c.stats.AverageScore = (c.stats.AverageScore*(n-1) + float64(score)) / n

	if state != c.current.State {
		c.recordChange(state, s, now)
	}

	c.current = Status{
		State:          state,
		Score:          score,
		Sample:         s,
		NeedsAttention: state != StateHealthy && state != StateUnknown,
		Message:        c.message(state, s),
		Timestamp:      now,
	}
	return c.current
}

func (c *Classifier) recordChange(state PlantState, s sensor.Sample, now int64) {
	prev := c.current.State
	c.stats.DwellMillis[prev] += now - c.stateStartTime
	c.previousState = prev
	c.stateStartTime = now
	c.stats.StateChanges++
	c.stats.LastChangeAt = now

	change := StateChange{
		Previous:  prev,
		New:       state,
		ChangedAt: now,
		Sample:    s,
		Cause:     c.cause(state, s),
	}
	// Newest first, ring of historyDepth.
	c.history = append([]StateChange{change}, c.history...)
	if len(c.history) > historyDepth {
		c.history = c.history[:historyDepth]
	}
}

// CurrentStatus returns the latest classification.
func (c *Classifier) CurrentStatus() Status {
	return c.current
}

// PreviousState returns the state before the most recent transition.
func (c *Classifier) PreviousState() PlantState {
	return c.previousState
}

// StateDuration returns how long the current state has persisted.
func (c *Classifier) StateDuration() int64 {
	return c.clock.Millis() - c.stateStartTime
}

// History returns the state-change ring, newest first.
func (c *Classifier) History() []StateChange {
	out := make([]StateChange, len(c.history))
	copy(out, c.history)
	return out
}

// Stats returns the cumulative classification statistics.
func (c *Classifier) Stats() Stats {
	return c.stats
}

// RestoreSnapshot reloads persisted status, history, and stats after reboot.
func (c *Classifier) RestoreSnapshot(status Status, history []StateChange, stats Stats) {
	c.current = status
	c.previousState = status.State
	c.stateStartTime = c.clock.Millis()
	c.history = make([]StateChange, len(history))
	copy(c.history, history)
	if len(c.history) > historyDepth {
		c.history = c.history[:historyDepth]
	}
	c.stats = stats
}

// classify applies the state rule, evaluated top to bottom.
func (c *Classifier) classify(s sensor.Sample) PlantState {
	t := c.thresholds
	switch {
	case s.SoilMoisture < t.MoistureCritical,
		s.Light < t.LightCritical,
		s.Temperature < t.TempMin || s.Temperature > t.TempMax:
		return StateCritical
	case s.SoilMoisture < t.MoistureLow && s.Light < t.LightLow:
		return StateCritical
	case s.SoilMoisture < t.MoistureLow:
		return StateNeedsWater
	case s.Light < t.LightLow:
		return StateNeedsLight
	default:
		return StateHealthy
	}
}

// score is the weighted health score: moisture 40%, light 40%, temperature 20%.
func (c *Classifier) score(s sensor.Sample) int {
	total := c.moistureScore(s.SoilMoisture)*0.4 +
		c.lightScore(s.Light)*0.4 +
		c.temperatureScore(s.Temperature)*0.2
	v := int(total)
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return v
}

func (c *Classifier) moistureScore(m float64) float64 {
	t := c.thresholds
	switch {
	case m >= moistureIdeal:
		return 100
	case m >= t.MoistureLow:
		return 60 + (m-t.MoistureLow)/(moistureIdeal-t.MoistureLow)*40
	case m >= t.MoistureCritical:
		return 20 + (m-t.MoistureCritical)/(t.MoistureLow-t.MoistureCritical)*40
	default:
		return m / t.MoistureCritical * 20
	}
}

func (c *Classifier) lightScore(l float64) float64 {
	t := c.thresholds
	switch {
	case l >= lightIdeal:
		return 100
	case l >= t.LightLow:
		return 60 + (l-t.LightLow)/(lightIdeal-t.LightLow)*40
	case l >= t.LightCritical:
		return 20 + (l-t.LightCritical)/(t.LightLow-t.LightCritical)*40
	default:
		return l / t.LightCritical * 20
	}
}

func (c *Classifier) temperatureScore(temp float64) float64 {
	t := c.thresholds
	if temp >= t.TempOptimalMin && temp <= t.TempOptimalMax {
		return 100
	}
	if temp >= t.TempMin && temp <= t.TempMax {
		dist := math.Min(math.Abs(temp-t.TempOptimalMin), math.Abs(temp-t.TempOptimalMax))
		return 70 + (1-dist/10)*30
	}
	return 0
}

func (c *Classifier) message(state PlantState, s sensor.Sample) string {
	switch state {
	case StateHealthy:
		return fmt.Sprintf("plant is thriving: moisture %.0f%%, light %.0f lux, %.1f C",
			s.SoilMoisture, s.Light, s.Temperature)
	case StateNeedsWater:
		return fmt.Sprintf("soil moisture low at %.0f%%, watering needed", s.SoilMoisture)
	case StateNeedsLight:
		return fmt.Sprintf("light level low at %.0f lux, move to a brighter spot", s.Light)
	case StateCritical:
		return fmt.Sprintf("critical condition: moisture %.0f%%, light %.0f lux, %.1f C",
			s.SoilMoisture, s.Light, s.Temperature)
	default:
		return "plant condition unknown"
	}
}

func (c *Classifier) cause(state PlantState, s sensor.Sample) string {
	t := c.thresholds
	switch state {
	case StateCritical:
		switch {
		case s.SoilMoisture < t.MoistureCritical:
			return fmt.Sprintf("moisture %.0f%% below critical %g%%", s.SoilMoisture, t.MoistureCritical)
		case s.Light < t.LightCritical:
			return fmt.Sprintf("light %.0f lux below critical %g lux", s.Light, t.LightCritical)
		case s.Temperature < t.TempMin || s.Temperature > t.TempMax:
			return fmt.Sprintf("temperature %.1f C outside [%g,%g]", s.Temperature, t.TempMin, t.TempMax)
		default:
			return "combined moisture and light deficit"
		}
	case StateNeedsWater:
		return fmt.Sprintf("moisture %.0f%% below %g%%", s.SoilMoisture, t.MoistureLow)
	case StateNeedsLight:
		return fmt.Sprintf("light %.0f lux below %g lux", s.Light, t.LightLow)
	case StateHealthy:
		return "conditions returned to normal"
	default:
		return ""
	}
}
