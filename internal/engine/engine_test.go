package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/floralink/plant-companion/internal/config"
	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/health"
	"github.com/floralink/plant-companion/internal/led"
	"github.com/floralink/plant-companion/internal/mediator"
	"github.com/floralink/plant-companion/internal/power"
	"github.com/floralink/plant-companion/internal/protocol"
	"github.com/floralink/plant-companion/internal/sensor"
	"github.com/floralink/plant-companion/internal/store"
)

type testRig struct {
	e     *Engine
	clock *hal.FakeClock
	adc   *hal.SimADC
	probe *hal.SimClimateProbe
	radio *hal.SimRadio
	kv    *store.MemoryNVS
}

// newTestRig builds an engine on simulated hardware with a healthy battery
// and midrange plant readings.
func newTestRig(t *testing.T, mutate func(*Config)) *testRig {
	t.Helper()

	clock := hal.NewFakeClock()
	adc := hal.NewSimADC()
	adc.SetCenter(36, 2358) // ~3.8 V pack, well above the low threshold
	adc.SetCenter(34, 1960) // ~60% soil moisture
	adc.SetCenter(35, 1990) // ~25k lux
	probe := hal.NewSimClimateProbe()
	radio := hal.NewSimRadio()
	kv := store.NewMemoryNVS()

	cfg := DefaultConfig()
	cfg.Sensor.SampleSpacing = 0
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(cfg, Hardware{
		Clock: clock,
		ADC:   adc,
		Probe: probe,
		Touch: hal.NewSimTouchPad(1200),
		Strip: hal.NewSimPixelStrip(12),
		Tone:  hal.NewSimTone(),
		CPU:   hal.NewSimCPU(),
		USB:   hal.NewSimUSB(false),
		Radio: radio,
		KV:    kv,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Boot phases drive the clock forward instead of sleeping.
	e.startup.pause = func(d time.Duration) { clock.Advance(d.Milliseconds()) }
	return &testRig{e: e, clock: clock, adc: adc, probe: probe, radio: radio, kv: kv}
}

func validSample(moisture, light, temp float64) sensor.Sample {
	return sensor.Sample{
		SoilMoisture: moisture,
		Light:        light,
		Temperature:  temp,
		AirHumidity:  50,
		Valid:        true,
	}
}

func TestBootReachesReady(t *testing.T) {
	r := newTestRig(t, nil)

	if err := r.e.startup.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.e.startup.Phase() != PhaseReady {
		t.Errorf("phase = %v, want ready", r.e.startup.Phase())
	}
	if r.e.startup.ErrorCode() != 0 {
		t.Errorf("error code = %d, want 0", r.e.startup.ErrorCode())
	}

	// An unconfigured device opens the setup window and indicates it.
	if !r.e.profile.InConfigMode() {
		t.Error("setup window not open on an unconfigured device")
	}
	if r.e.leds.Active() != led.AnimBreathing {
		t.Errorf("animation = %v, want the setup breathing", r.e.leds.Active())
	}
	if !r.e.snd.Playing() {
		t.Error("startup melody not playing")
	}

	if got := len(r.e.startup.PhaseDurations()); got < 4 {
		t.Errorf("recorded %d phase durations, want at least 4", got)
	}
}

func TestBootConfiguredSkipsSetupWindow(t *testing.T) {
	kv := store.NewMemoryNVS()
	pm, err := config.NewManager(kv, hal.NewFakeClock())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := pm.Update(func(p *config.Profile) { p.Name = "Fern" }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	clock := hal.NewFakeClock()
	adc := hal.NewSimADC()
	adc.SetCenter(36, 2358)
	cfg := DefaultConfig()
	cfg.Sensor.SampleSpacing = 0
	e, err := New(cfg, Hardware{
		Clock: clock, ADC: adc, Probe: hal.NewSimClimateProbe(),
		Touch: hal.NewSimTouchPad(1200), Strip: hal.NewSimPixelStrip(12),
		Tone: hal.NewSimTone(), CPU: hal.NewSimCPU(),
		USB: hal.NewSimUSB(false), Radio: hal.NewSimRadio(), KV: kv,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.startup.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.profile.InConfigMode() {
		t.Error("setup window opened on a configured device")
	}
	// With no history the unknown state's fallback indication shows.
	if e.leds.Active() != led.AnimFade {
		t.Errorf("animation = %v, want fade", e.leds.Active())
	}
}

func TestBootSensorFailureAborts(t *testing.T) {
	r := newTestRig(t, nil)
	r.probe.Failing = true

	err := r.e.startup.Run()
	if err == nil {
		t.Fatal("Run succeeded with a dead climate probe")
	}
	if r.e.startup.Phase() != PhaseError {
		t.Errorf("phase = %v, want error", r.e.startup.Phase())
	}
	if r.e.startup.ErrorCode() != ErrCodeSensorFailure {
		t.Errorf("error code = %d, want %d", r.e.startup.ErrorCode(), ErrCodeSensorFailure)
	}
	if r.e.leds.Active() != led.AnimBlink {
		t.Errorf("animation = %v, want the error blink", r.e.leds.Active())
	}
}

func TestBootConnectsProvisionedWiFi(t *testing.T) {
	r := newTestRig(t, func(cfg *Config) {
		cfg.WiFiSSID = "greenhouse"
		cfg.WiFiPassword = "hunter2"
	})

	if err := r.e.startup.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !r.e.wifi.IsConnected() {
		t.Error("wifi not connected after boot with credentials")
	}
}

func TestBootContinuesWithoutWiFi(t *testing.T) {
	r := newTestRig(t, func(cfg *Config) {
		cfg.WiFiSSID = "greenhouse"
		cfg.WiFiPassword = "hunter2"
	})
	r.radio.FailNext = true

	if err := r.e.startup.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.e.startup.Phase() != PhaseReady {
		t.Errorf("phase = %v, want ready despite wifi failure", r.e.startup.Phase())
	}
}

func TestSampleFlowEscalatesToAlert(t *testing.T) {
	r := newTestRig(t, func(cfg *Config) {
		cfg.Alert.Delay = time.Second
	})

	r.e.handleSample(validSample(60, 2000, 22))
	if got := r.e.Health().State; got != health.StateHealthy {
		t.Fatalf("state = %v, want healthy", got)
	}
	if r.e.messages.Stats().Enqueued < 2 {
		t.Errorf("enqueued = %d, want sample and state change queued", r.e.messages.Stats().Enqueued)
	}

	r.e.handleSample(validSample(20, 2000, 22))
	if got := r.e.Health().State; got != health.StateNeedsWater {
		t.Fatalf("state = %v, want needs water", got)
	}

	// The escalator holds the alert through its delay, then the mediator
	// takes over the outputs.
	r.e.Tick()
	if r.e.med.Mode() == mediator.ModeAlert {
		t.Fatal("alert fired before the delay elapsed")
	}
	r.clock.Advance(1_000)
	r.e.Tick()
	if r.e.med.Mode() != mediator.ModeAlert {
		t.Fatalf("mode = %v after the delay, want alert", r.e.med.Mode())
	}
	if r.e.leds.Active() != led.AnimBlink {
		t.Errorf("animation = %v, want the needs-water blink", r.e.leds.Active())
	}

	// Watering the plant clears the episode and restores the indication.
	r.e.handleSample(validSample(60, 2000, 22))
	if r.e.med.Mode() == mediator.ModeAlert {
		t.Error("alert survived a healthy sample")
	}
	if r.e.escalator.IsAlerting() {
		t.Error("episode survived a healthy sample")
	}
}

func TestCommandSetThresholds(t *testing.T) {
	r := newTestRig(t, nil)

	want := health.Thresholds{
		MoistureLow: 35, MoistureCritical: 12,
		LightLow: 600, LightCritical: 150,
		TempMin: 12, TempMax: 32,
		TempOptimalMin: 18, TempOptimalMax: 26,
	}
	args, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	r.e.handleCommand(protocol.CommandPayload{Command: "set_thresholds", Args: args})
	if got := r.e.classifier.Thresholds(); got != want {
		t.Errorf("thresholds = %+v, want %+v", got, want)
	}

	stored, err := r.e.persister.LoadThresholds()
	if err != nil {
		t.Fatalf("LoadThresholds: %v", err)
	}
	if stored != want {
		t.Errorf("stored thresholds = %+v, want %+v", stored, want)
	}

	// Invalid boundaries are rejected and the old values stay.
	bad, _ := json.Marshal(health.Thresholds{MoistureLow: 5, MoistureCritical: 50})
	r.e.handleCommand(protocol.CommandPayload{Command: "set_thresholds", Args: bad})
	if got := r.e.classifier.Thresholds(); got != want {
		t.Errorf("thresholds = %+v after a bad command, want unchanged", got)
	}
}

func TestCommandPowerLevelOverride(t *testing.T) {
	r := newTestRig(t, nil)

	args, _ := json.Marshal(map[string]int{"level": int(power.LevelEmergency)})
	r.e.handleCommand(protocol.CommandPayload{Command: "force_power_level", Args: args})
	if !r.e.saver.Forced() || r.e.saver.Level() != power.LevelEmergency {
		t.Errorf("forced=%v level=%v, want forced emergency", r.e.saver.Forced(), r.e.saver.Level())
	}

	r.e.handleCommand(protocol.CommandPayload{Command: "exit_forced_power"})
	if r.e.saver.Forced() {
		t.Error("still forced after exit_forced_power")
	}
}

func TestCommandForceSample(t *testing.T) {
	r := newTestRig(t, nil)

	r.e.handleCommand(protocol.CommandPayload{Command: "force_sample"})
	if got := r.e.Health().State; got != health.StateHealthy {
		t.Errorf("state = %v after a forced sample, want healthy", got)
	}
}

func TestCommandCelebrate(t *testing.T) {
	r := newTestRig(t, nil)

	r.e.handleCommand(protocol.CommandPayload{Command: "celebrate"})
	if r.e.med.Mode() != mediator.ModeCelebration {
		t.Errorf("mode = %v, want celebration", r.e.med.Mode())
	}
}

func TestCommandFactoryReset(t *testing.T) {
	r := newTestRig(t, nil)

	if err := r.e.profile.Update(func(p *config.Profile) { p.Name = "Basil" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	id := r.e.profile.DeviceID()

	r.e.handleCommand(protocol.CommandPayload{Command: "factory_reset"})
	if r.e.profile.IsConfigured() {
		t.Error("profile still configured after factory reset")
	}
	if r.e.profile.DeviceID() != id {
		t.Error("factory reset changed the device identity")
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	r := newTestRig(t, nil)
	r.e.handleCommand(protocol.CommandPayload{Command: "reticulate_splines"})
}

func TestSnapshots(t *testing.T) {
	r := newTestRig(t, nil)
	r.clock.Advance(5_000)

	hb := r.e.heartbeatSnapshot()
	if hb.UptimeMs != 5_000 {
		t.Errorf("uptime = %d, want 5000", hb.UptimeMs)
	}
	if hb.PlantState != "unknown" {
		t.Errorf("plant state = %q, want unknown", hb.PlantState)
	}
	if hb.FreeQueueSlots != r.e.config.Messages.QueueCapacity {
		t.Errorf("free slots = %d, want the full queue", hb.FreeQueueSlots)
	}

	sync := r.e.syncSnapshot()
	if sync.AlertActive {
		t.Error("sync reports an active alert on a fresh engine")
	}
	if sync.SampleCount != 0 {
		t.Errorf("sample count = %d, want 0", sync.SampleCount)
	}
}

func TestTickIsSafeBeforeStart(t *testing.T) {
	r := newTestRig(t, nil)
	for i := 0; i < 10; i++ {
		r.clock.Advance(50)
		r.e.Tick()
	}
}
