package touch

import (
	"errors"
	"testing"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

const idleRaw = 1200

// pressRaw is high enough that the low-pass filter crosses the touch
// threshold in one tick from idle.
const pressRaw = 8000

func newTestSensor(t *testing.T) (*Sensor, *hal.SimTouchPad, *hal.FakeClock, *[]Event) {
	t.Helper()
	pad := hal.NewSimTouchPad(idleRaw)
	clock := hal.NewFakeClock()
	s, err := New(DefaultConfig(), pad, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := &[]Event{}
	s.SetTouchHandler(func(e Event) { *events = append(*events, e) })

	// Prime the filter at the idle level.
	s.Tick()
	return s, pad, clock, events
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestNewRejectsInvertedThresholds(t *testing.T) {
	cfg := Config{TouchThreshold: 1800, ReleaseThreshold: 2000}
	if _, err := New(cfg, hal.NewSimTouchPad(idleRaw), hal.NewFakeClock()); err == nil {
		t.Error("expected error for release above touch threshold")
	}
}

func TestTapDetection(t *testing.T) {
	s, pad, clock, events := newTestSensor(t)

	pad.Set(pressRaw)
	clock.Advance(50)
	s.Tick()
	if !s.IsTouched() {
		t.Fatal("pad not touched after press")
	}

	pad.Set(0)
	clock.Advance(200)
	s.Tick()

	want := []EventType{EventStart, EventEnd, EventTap}
	got := types(*events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	tap := (*events)[2]
	if tap.Duration != 200 {
		t.Errorf("tap duration = %d, want 200", tap.Duration)
	}
	if s.Stats().Taps != 1 || s.Stats().Touches != 1 {
		t.Errorf("stats = %+v, want 1 touch 1 tap", s.Stats())
	}
}

func TestHoldDetection(t *testing.T) {
	s, pad, clock, events := newTestSensor(t)

	pad.Set(pressRaw)
	clock.Advance(50)
	s.Tick()

	// Keep pressing past the hold boundary.
	for i := 0; i < 11; i++ {
		clock.Advance(100)
		s.Tick()
	}
	if s.Stats().Holds != 1 {
		t.Fatalf("holds = %d while pressed, want 1 (fires once)", s.Stats().Holds)
	}

	// The filter needs several ticks to decay back below release.
	pad.Set(0)
	for i := 0; i < 15 && s.IsTouched(); i++ {
		clock.Advance(100)
		s.Tick()
	}
	if s.IsTouched() {
		t.Fatal("touch not released")
	}

	got := types(*events)
	// Start, mid-press Hold, End, release Hold. No Tap.
	want := []EventType{EventStart, EventHold, EventEnd, EventHold}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if s.Stats().Taps != 0 {
		t.Errorf("taps = %d after hold, want 0", s.Stats().Taps)
	}
}

func TestHysteresisSuppressesOscillation(t *testing.T) {
	s, pad, clock, events := newTestSensor(t)

	// Values bouncing inside the hysteresis band must produce nothing.
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			pad.Set(1950)
		} else {
			pad.Set(1850)
		}
		clock.Advance(50)
		s.Tick()
	}
	if len(*events) != 0 {
		t.Errorf("events = %v inside hysteresis band, want none", types(*events))
	}

	// Once touched, dips that stay above the release threshold hold the touch.
	pad.Set(pressRaw)
	clock.Advance(50)
	s.Tick()
	for i := 0; i < 20; i++ {
		pad.Set(1900)
		clock.Advance(50)
		s.Tick()
	}
	if !s.IsTouched() {
		t.Error("touch released by values above the release threshold")
	}
}

func TestDebounceDelaysRelease(t *testing.T) {
	s, pad, clock, _ := newTestSensor(t)

	pad.Set(pressRaw)
	clock.Advance(50)
	s.Tick()

	// The filtered value drops below release immediately, but the state
	// change waits out the debounce window.
	pad.Set(0)
	clock.Advance(10)
	s.Tick()
	if !s.IsTouched() {
		t.Fatal("release accepted inside debounce window")
	}

	clock.Advance(40)
	s.Tick()
	if s.IsTouched() {
		t.Error("release not accepted after debounce window")
	}
}

func TestCalibrateDerivesThresholds(t *testing.T) {
	s, pad, clock, events := newTestSensor(t)

	if err := s.Calibrate(); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if s.config.TouchThreshold != idleRaw+200 {
		t.Errorf("touch threshold = %d, want %d", s.config.TouchThreshold, idleRaw+200)
	}
	if s.config.ReleaseThreshold != idleRaw+150 {
		t.Errorf("release threshold = %d, want %d", s.config.ReleaseThreshold, idleRaw+150)
	}

	// A light press clears the recalibrated threshold in one tick.
	pad.Set(3000)
	clock.Advance(50)
	s.Tick()
	if len(*events) != 1 || (*events)[0].Type != EventStart {
		t.Errorf("events = %v after calibrated press, want [start]", types(*events))
	}
}

func TestDisableReleasesTouch(t *testing.T) {
	s, pad, clock, events := newTestSensor(t)

	pad.Set(pressRaw)
	clock.Advance(50)
	s.Tick()
	if !s.IsTouched() {
		t.Fatal("pad not touched")
	}

	s.SetEnabled(false)
	if s.IsTouched() {
		t.Error("touch survived disable")
	}

	before := len(*events)
	clock.Advance(50)
	s.Tick()
	if len(*events) != before {
		t.Error("disabled sensor emitted events")
	}
}

// failingPad always errors, for the health check.
type failingPad struct{}

func (failingPad) ReadTouch() (int, error) {
	return 0, errors.New("pad fault")
}

func TestReadErrorsDegradeHealth(t *testing.T) {
	s, err := New(DefaultConfig(), failingPad{}, hal.NewFakeClock())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Tick()
	}
	if s.IsWorking() {
		t.Error("IsWorking() = true after 5 consecutive read failures")
	}
}

func TestSetThresholds(t *testing.T) {
	s, _, _, _ := newTestSensor(t)

	if err := s.SetThresholds(1500, 1600); err == nil {
		t.Error("expected error for release above touch")
	}
	if err := s.SetThresholds(2500, 2300); err != nil {
		t.Errorf("SetThresholds: %v", err)
	}
	s.SetHoldTime(2 * time.Second)
	if s.config.HoldTime != 2*time.Second {
		t.Errorf("hold time = %v, want 2s", s.config.HoldTime)
	}
}
