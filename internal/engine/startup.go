package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/health"
	"github.com/floralink/plant-companion/internal/led"
	"github.com/floralink/plant-companion/internal/sound"
)

// Phase is one step of the boot sequence.
type Phase int

const (
	PhasePowerOn Phase = iota
	PhaseSystemInit
	PhaseSensorInit
	PhaseWiFiInit
	PhaseConfigCheck
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseSystemInit:
		return "system_init"
	case PhaseSensorInit:
		return "sensor_init"
	case PhaseWiFiInit:
		return "wifi_init"
	case PhaseConfigCheck:
		return "config_check"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "power_on"
	}
}

// Boot error codes, shown to the owner via the support app.
const (
	ErrCodeSensorFailure = 1
	ErrCodeWiFiFailure   = 2
	ErrCodeConfigFailure = 3
	ErrCodeSystemFailure = 4
)

// phaseTimeout bounds any single phase. The full boot should land well
// under 30 seconds.
const phaseTimeout = 10 * time.Second

// StartupSequence walks the boot phases, indicating progress on the ring.
// WiFi is best effort: a plant monitor that cannot reach the network still
// has to monitor the plant.
type StartupSequence struct {
	engine *Engine
	pause  func(time.Duration)

	phase          Phase
	phaseEnteredAt int64
	errorCode      int
	durations      map[Phase]int64
}

// NewStartupSequence creates the boot sequence.
func NewStartupSequence(e *Engine) *StartupSequence {
	return &StartupSequence{
		engine:    e,
		pause:     time.Sleep,
		durations: make(map[Phase]int64),
	}
}

// Phase returns the current boot phase.
func (s *StartupSequence) Phase() Phase {
	return s.phase
}

// ErrorCode returns the boot error code, zero when boot succeeded.
func (s *StartupSequence) ErrorCode() int {
	return s.errorCode
}

// PhaseDurations returns per-phase boot timing in milliseconds.
func (s *StartupSequence) PhaseDurations() map[Phase]int64 {
	out := make(map[Phase]int64, len(s.durations))
	for k, v := range s.durations {
		out[k] = v
	}
	return out
}

// Run executes the boot phases in order. A failed required phase aborts
// with an error code; WiFi and cloud failures degrade to standalone mode.
func (s *StartupSequence) Run() error {
	e := s.engine

	s.enter(PhasePowerOn)
	e.leds.Play(led.AnimationConfig{Animation: led.AnimSolid, Color: led.ColorWhite, Speed: 1, Loop: true})
	e.leds.Tick()

	s.enter(PhaseSystemInit)
	if err := s.restoreState(); err != nil {
		return s.fail(ErrCodeSystemFailure, err)
	}

	s.enter(PhaseSensorInit)
	e.leds.Play(led.AnimationConfig{Animation: led.AnimRotate, Color: led.ColorBlue, Speed: 2, Loop: true})
	if err := e.sensors.SelfTest(); err != nil {
		return s.fail(ErrCodeSensorFailure, err)
	}
	if err := e.touch.Calibrate(); err != nil {
		// A dead touch pad degrades interaction but not monitoring.
		log.Printf("startup: touch calibration failed: %v", err)
	}

	s.enter(PhaseWiFiInit)
	e.leds.Play(led.AnimationConfig{Animation: led.AnimBreathing, Color: led.ColorBlue, Speed: 1, Loop: true})
	s.connectWiFi()

	s.enter(PhaseConfigCheck)
	if !e.profile.IsConfigured() {
		log.Printf("startup: device not configured, opening setup window")
		e.profile.EnterConfigMode()
		e.med.ShowConfigMode()
	}

	s.enter(PhaseReady)
	e.snd.Play(sound.SeqStartup)
	if !e.profile.InConfigMode() {
		st := e.classifier.CurrentStatus().State
		e.med.OnStateChange(health.StateChange{
			Previous: st, New: st, ChangedAt: e.clock.Millis(),
		})
	}
	log.Printf("startup: ready in %dms", s.totalMs())
	return nil
}

// restoreState reloads calibration, thresholds, and the classifier snapshot.
// Each region self-heals independently.
func (s *StartupSequence) restoreState() error {
	e := s.engine

	cal, err := e.persister.LoadCalibration()
	if err != nil {
		return fmt.Errorf("calibration region: %w", err)
	}
	if err := e.sensors.ApplyCalibration(cal); err != nil {
		log.Printf("startup: stored calibration rejected: %v", err)
	}

	thr, err := e.persister.LoadThresholds()
	if err != nil {
		return fmt.Errorf("thresholds region: %w", err)
	}
	if err := e.classifier.SetThresholds(thr); err != nil {
		log.Printf("startup: stored thresholds rejected: %v", err)
	}

	snap, err := e.persister.LoadState()
	if err != nil {
		return fmt.Errorf("state region: %w", err)
	}
	e.classifier.RestoreSnapshot(snap.Status, snap.History, snap.Stats)
	return nil
}

// connectWiFi starts a connection with configured or stored credentials and
// waits up to the phase timeout. Failure falls through to standalone mode;
// the manager keeps retrying from the tick loop.
func (s *StartupSequence) connectWiFi() {
	e := s.engine

	var err error
	if e.config.WiFiSSID != "" {
		err = e.wifi.Connect(e.config.WiFiSSID, e.config.WiFiPassword)
	} else {
		err = e.wifi.ConnectSaved()
	}
	if err != nil {
		log.Printf("startup: no usable wifi credentials: %v", err)
		return
	}

	deadline := e.clock.Millis() + phaseTimeout.Milliseconds()
	for e.clock.Millis() < deadline {
		e.wifi.Tick()
		if e.wifi.IsConnected() {
			return
		}
		s.pause(100 * time.Millisecond)
	}
	log.Printf("startup: wifi not up yet, continuing in background")
}

func (s *StartupSequence) enter(p Phase) {
	now := s.engine.clock.Millis()
	if p != PhasePowerOn {
		s.durations[s.phase] = now - s.phaseEnteredAt
	}
	s.phase = p
	s.phaseEnteredAt = now
	log.Printf("startup: %s", p)
}

func (s *StartupSequence) fail(code int, err error) error {
	s.phase = PhaseError
	s.errorCode = code
	s.engine.med.ShowError()
	log.Printf("startup: failed with code %d: %v", code, err)
	return fmt.Errorf("boot error %d: %w", code, err)
}

func (s *StartupSequence) totalMs() int64 {
	var total int64
	for _, d := range s.durations {
		total += d
	}
	return total
}
