// Package mediator turns state changes, alerts, and touch input into LED and
// sound output. It is the only writer to the strip and the speaker, so the
// rest of the system never fights over them.
package mediator

import (
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/alert"
	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/health"
	"github.com/floralink/plant-companion/internal/led"
	"github.com/floralink/plant-companion/internal/sound"
	"github.com/floralink/plant-companion/internal/touch"
)

// Mode is the mediator's output mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeAlert
	ModeCelebration
	ModeError
	ModeSleep
)

func (m Mode) String() string {
	switch m {
	case ModeAlert:
		return "alert"
	case ModeCelebration:
		return "celebration"
	case ModeError:
		return "error"
	case ModeSleep:
		return "sleep"
	default:
		return "normal"
	}
}

// Config holds interaction tuning.
type Config struct {
	TouchCooldown      time.Duration
	TouchBurstLimit    int
	TouchBurstWindow   time.Duration
	CelebrationTime    time.Duration
	RecalibrationHold  time.Duration
	CelebrateOnRecover bool
}

// DefaultConfig returns interaction defaults.
func DefaultConfig() Config {
	return Config{
		TouchCooldown:      time.Second,
		TouchBurstLimit:    5,
		TouchBurstWindow:   10 * time.Second,
		CelebrationTime:    5 * time.Second,
		RecalibrationHold:  3 * time.Second,
		CelebrateOnRecover: true,
	}
}

// Stats tracks mediator activity.
type Stats struct {
	TouchFeedbacks   int
	TouchSuppressed  int
	Acknowledgements int
	Celebrations     int
	Recalibrations   int
}

// Mediator maps events to output.
type Mediator struct {
	config Config
	leds   *led.Controller
	snd    *sound.Player
	clock  hal.Clock

	mode         Mode
	currentState health.PlantState
	alerting     bool
	activeAlert  alert.Info

	celebrationEnd int64
	lastTouchFeed  int64
	burstStart     int64
	burstCount     int

	stats Stats

	onAcknowledge func()
	onRecalibrate func()
}

// New creates a mediator in normal mode showing the unknown state.
func New(config Config, leds *led.Controller, snd *sound.Player, clock hal.Clock) *Mediator {
	return &Mediator{
		config:       config,
		leds:         leds,
		snd:          snd,
		clock:        clock,
		currentState: health.StateUnknown,
	}
}

// SetAcknowledgeHandler registers the callback fired when a tap lands while
// an alert is active.
func (m *Mediator) SetAcknowledgeHandler(fn func()) {
	m.onAcknowledge = fn
}

// SetRecalibrateHandler registers the callback fired on a long hold.
func (m *Mediator) SetRecalibrateHandler(fn func()) {
	m.onRecalibrate = fn
}

// Mode returns the current output mode.
func (m *Mediator) Mode() Mode {
	return m.mode
}

// Stats returns mediator activity counters.
func (m *Mediator) Stats() Stats {
	return m.stats
}

// OnStateChange redraws the health indication. A recovery into the healthy
// state gets a celebration.
func (m *Mediator) OnStateChange(change health.StateChange) {
	m.currentState = change.New
	if m.mode == ModeSleep {
		return
	}
	recovered := change.New == health.StateHealthy &&
		change.Previous != health.StateHealthy &&
		change.Previous != health.StateUnknown
	if recovered && m.config.CelebrateOnRecover {
		m.Celebrate()
		return
	}
	if m.mode == ModeNormal {
		m.showState(change.New)
	}
}

// OnAlert switches to alert output for the given alert.
func (m *Mediator) OnAlert(info alert.Info) {
	m.alerting = true
	m.activeAlert = info
	if m.mode == ModeSleep {
		return
	}
	m.mode = ModeAlert
	switch info.Type {
	case alert.TypeNeedsWater:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorYellow, Speed: 1, Loop: true})
		m.snd.Play(sound.SeqWaterReminder)
	case alert.TypeNeedsLight:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimPulse, Color: led.ColorRed, Speed: 2, Loop: true})
		m.snd.Play(sound.SeqLightReminder)
	case alert.TypeLowBattery:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorOrange, Speed: 1, Loop: true})
		m.snd.Play(sound.SeqLowBattery)
	case alert.TypeSensorError:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorPurple, Speed: 1, Loop: true})
		m.snd.Play(sound.SeqError)
	case alert.TypeCritical:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorRed, Speed: 1, Loop: true})
		m.snd.Play(sound.SeqWarning)
	}
}

// OnAlertStop returns output to the plain health indication.
func (m *Mediator) OnAlertStop() {
	m.alerting = false
	if m.mode == ModeSleep || m.mode == ModeCelebration {
		return
	}
	m.mode = ModeNormal
	m.showState(m.currentState)
}

// OnTouch handles a touch event. Feedback is rate limited so a fidgeting
// user cannot saturate the outputs.
func (m *Mediator) OnTouch(ev touch.Event) {
	if m.mode == ModeSleep {
		return
	}
	now := m.clock.Millis()

	switch ev.Type {
	case touch.EventStart:
		if !m.allowFeedback(now) {
			m.stats.TouchSuppressed++
			return
		}
		m.stats.TouchFeedbacks++
		m.leds.Play(led.AnimationConfig{
			Animation: led.AnimPulse, Color: led.ColorWhite,
			Speed: 1, DurationMs: 500,
		})
		m.snd.Play(sound.SeqBeep)

	case touch.EventTap:
		if m.alerting {
			m.stats.Acknowledgements++
			if m.onAcknowledge != nil {
				m.onAcknowledge()
			}
			m.Celebrate()
			return
		}
		if m.mode == ModeNormal {
			m.showState(m.currentState)
		}

	case touch.EventHold:
		if ev.Duration >= m.config.RecalibrationHold.Milliseconds() {
			m.stats.Recalibrations++
			log.Printf("mediator: long hold, requesting recalibration")
			m.ShowCalibration()
			if m.onRecalibrate != nil {
				m.onRecalibrate()
			}
		}
	}
}

// Celebrate plays the rainbow and the happy melody, then reverts.
func (m *Mediator) Celebrate() {
	if m.mode == ModeSleep {
		return
	}
	m.stats.Celebrations++
	m.mode = ModeCelebration
	m.celebrationEnd = m.clock.Millis() + m.config.CelebrationTime.Milliseconds()
	m.leds.Play(led.AnimationConfig{Animation: led.AnimRainbow, Speed: 1, Loop: true})
	m.snd.Play(sound.SeqHappy)
}

// ShowError switches to the error indication.
func (m *Mediator) ShowError() {
	m.mode = ModeError
	m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorPurple, Speed: 1, Loop: true})
	m.snd.Play(sound.SeqError)
}

// ShowCalibration indicates a calibration in progress.
func (m *Mediator) ShowCalibration() {
	m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorBlue, Speed: 1, Loop: true})
}

// ShowConfigMode indicates the device is waiting for configuration.
func (m *Mediator) ShowConfigMode() {
	m.leds.Play(led.AnimationConfig{Animation: led.AnimBreathing, Color: led.ColorBlue, Speed: 1, Loop: true})
}

// EnterSleep blanks all output until ExitSleep.
func (m *Mediator) EnterSleep() {
	m.mode = ModeSleep
	m.leds.Stop()
	m.snd.Stop()
}

// ExitSleep restores the health indication.
func (m *Mediator) ExitSleep() {
	if m.mode != ModeSleep {
		return
	}
	m.mode = ModeNormal
	if m.alerting {
		m.OnAlert(m.activeAlert)
		return
	}
	m.showState(m.currentState)
}

// Tick ends a finished celebration and falls back to whatever output the
// underlying state calls for.
func (m *Mediator) Tick() {
	if m.mode != ModeCelebration {
		return
	}
	if m.clock.Millis() < m.celebrationEnd {
		return
	}
	if m.alerting {
		m.OnAlert(m.activeAlert)
		return
	}
	m.mode = ModeNormal
	m.showState(m.currentState)
}

func (m *Mediator) allowFeedback(now int64) bool {
	if now-m.lastTouchFeed < m.config.TouchCooldown.Milliseconds() {
		return false
	}
	if now-m.burstStart > m.config.TouchBurstWindow.Milliseconds() {
		m.burstStart = now
		m.burstCount = 0
	}
	if m.burstCount >= m.config.TouchBurstLimit {
		return false
	}
	m.burstCount++
	m.lastTouchFeed = now
	return true
}

func (m *Mediator) showState(state health.PlantState) {
	switch state {
	case health.StateHealthy:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimBreathing, Color: led.ColorGreen, Speed: 1, Loop: true})
	case health.StateNeedsWater:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorYellow, Speed: 2, Loop: true})
	case health.StateNeedsLight:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimPulse, Color: led.ColorRed, Speed: 2, Loop: true})
	case health.StateCritical:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimBlink, Color: led.ColorRed, Speed: 1, Loop: true})
	default:
		m.leds.Play(led.AnimationConfig{Animation: led.AnimFade, Color: led.ColorWhite, Speed: 2, Loop: true})
	}
}
