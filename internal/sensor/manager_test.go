package sensor

import (
	"errors"
	"math"
	"testing"

	"github.com/floralink/plant-companion/internal/hal"
)

// scriptedADC serves fixed or queued per-pin values and scripted failures.
type scriptedADC struct {
	values map[int]int
	queues map[int][]int
	errs   map[int]error
}

func newScriptedADC() *scriptedADC {
	return &scriptedADC{
		values: make(map[int]int),
		queues: make(map[int][]int),
		errs:   make(map[int]error),
	}
}

func (a *scriptedADC) Read(pin int) (int, error) {
	if err := a.errs[pin]; err != nil {
		return 0, err
	}
	if q := a.queues[pin]; len(q) > 0 {
		v := q[0]
		a.queues[pin] = q[1:]
		return v, nil
	}
	return a.values[pin], nil
}

func testSensorConfig() Config {
	return Config{
		SoilPin:        34,
		LightPin:       35,
		MedianSamples:  5,
		SampleSpacing:  0,
		ErrorThreshold: 5,
	}
}

func newTestManager(t *testing.T) (*Manager, *scriptedADC, *hal.SimClimateProbe) {
	t.Helper()
	adc := newScriptedADC()
	probe := hal.NewSimClimateProbe()
	m, err := New(testSensorConfig(), adc, probe, hal.NewFakeClock())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, adc, probe
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testSensorConfig()
	cfg.MedianSamples = 0
	if _, err := New(cfg, newScriptedADC(), hal.NewSimClimateProbe(), hal.NewFakeClock()); err == nil {
		t.Error("expected error for zero median samples")
	}

	cfg = testSensorConfig()
	cfg.ErrorThreshold = 0
	if _, err := New(cfg, newScriptedADC(), hal.NewSimClimateProbe(), hal.NewFakeClock()); err == nil {
		t.Error("expected error for zero error threshold")
	}
}

func TestReadAllConvertsUnits(t *testing.T) {
	m, adc, _ := newTestManager(t)

	// Midpoint of the default soil anchors [1200,3100] and a light raw
	// mapping to half of max lux.
	adc.values[34] = 2150
	adc.values[35] = 1990

	s := m.ReadAll()
	if !s.Valid {
		t.Fatalf("sample invalid: %+v", s)
	}
	if s.SoilMoisture != 50 {
		t.Errorf("moisture = %g, want 50", s.SoilMoisture)
	}
	if s.Light != 25000 {
		t.Errorf("light = %g, want 25000", s.Light)
	}
	if s.Temperature != 24 {
		t.Errorf("temperature = %g, want 24", s.Temperature)
	}
	if s.AirHumidity != 50 {
		t.Errorf("humidity = %g, want 50", s.AirHumidity)
	}
}

func TestMedianRejectsOutliers(t *testing.T) {
	m, adc, _ := newTestManager(t)

	adc.queues[34] = []int{2150, 0, 4095, 2150, 1000}
	adc.values[35] = 1990

	s := m.ReadAll()
	if s.SoilMoisture != 50 {
		t.Errorf("moisture = %g, want 50 from the median", s.SoilMoisture)
	}
}

func TestSoilAndLightClamped(t *testing.T) {
	m, adc, _ := newTestManager(t)

	adc.values[34] = 500  // wetter than the wet anchor
	adc.values[35] = 4095 // brighter than the bright anchor

	s := m.ReadAll()
	if s.SoilMoisture != 100 {
		t.Errorf("moisture = %g, want clamped 100", s.SoilMoisture)
	}
	if s.Light != 50000 {
		t.Errorf("light = %g, want clamped 50000", s.Light)
	}
}

func TestTemperatureOffsetApplied(t *testing.T) {
	m, adc, probe := newTestManager(t)
	adc.values[34] = 2150
	adc.values[35] = 1990
	probe.Temperature = 25.0

	c := m.Calibration()
	c.TempOffset = -1.5
	if err := m.ApplyCalibration(c); err != nil {
		t.Fatalf("ApplyCalibration: %v", err)
	}

	s := m.ReadAll()
	if s.Temperature != 23.5 {
		t.Errorf("temperature = %g, want 23.5", s.Temperature)
	}
}

func TestFailSoftCarriesLastValue(t *testing.T) {
	m, adc, _ := newTestManager(t)
	adc.values[34] = 2150
	adc.values[35] = 1990

	first := m.ReadAll()
	if !first.Valid {
		t.Fatalf("first sample invalid: %+v", first)
	}

	adc.errs[34] = errors.New("adc timeout")
	s := m.ReadAll()
	if !s.Valid {
		t.Errorf("sample invalid despite carried value: %+v", s)
	}
	if s.SoilMoisture != 50 {
		t.Errorf("moisture = %g, want carried 50", s.SoilMoisture)
	}
	if m.Status(KindSoil) != StatusOK {
		t.Errorf("soil status = %v after one failure, want ok", m.Status(KindSoil))
	}
}

func TestConsecutiveFailuresMarkSensorErrored(t *testing.T) {
	m, adc, _ := newTestManager(t)
	adc.values[34] = 2150
	adc.values[35] = 1990
	m.ReadAll()

	adc.errs[34] = errors.New("adc timeout")
	for i := 0; i < 5; i++ {
		m.ReadAll()
	}
	if m.Status(KindSoil) != StatusError {
		t.Errorf("soil status = %v after 5 failures, want error", m.Status(KindSoil))
	}
	if m.IsWorking() {
		t.Error("IsWorking() = true with an errored sensor")
	}
	if m.ErrorInfo(KindSoil) == "" {
		t.Error("no error info for errored sensor")
	}

	// A single success recovers the sensor.
	adc.errs[34] = nil
	m.ReadAll()
	if m.Status(KindSoil) != StatusOK || !m.IsWorking() {
		t.Errorf("soil status = %v after recovery, want ok", m.Status(KindSoil))
	}
	if m.ErrorInfo(KindSoil) != "" {
		t.Errorf("error info = %q after recovery, want empty", m.ErrorInfo(KindSoil))
	}
}

func TestFirstReadFailureInvalidatesSample(t *testing.T) {
	m, adc, _ := newTestManager(t)
	adc.values[35] = 1990
	adc.errs[34] = errors.New("adc timeout")

	s := m.ReadAll()
	if s.Valid {
		t.Errorf("sample valid with no soil value ever read: %+v", s)
	}
}

func TestProbeFailureCarriesClimate(t *testing.T) {
	m, adc, probe := newTestManager(t)
	adc.values[34] = 2150
	adc.values[35] = 1990
	m.ReadAll()

	probe.Failing = true
	s := m.ReadAll()
	if !s.Valid {
		t.Fatalf("sample invalid despite carried climate: %+v", s)
	}
	if s.Temperature != 24 || s.AirHumidity != 50 {
		t.Errorf("climate = %g/%g, want carried 24/50", s.Temperature, s.AirHumidity)
	}
}

func TestManualCalibration(t *testing.T) {
	m, adc, _ := newTestManager(t)

	if err := m.CalibrateSoil(1000, 3000); err == nil {
		t.Error("expected error for dry below wet")
	}
	if err := m.CalibrateSoil(3000, 1000); err != nil {
		t.Fatalf("CalibrateSoil: %v", err)
	}
	if err := m.CalibrateLight(100, 2100, 10000); err != nil {
		t.Fatalf("CalibrateLight: %v", err)
	}
	if !m.Calibration().Calibrated {
		t.Error("calibration flag not set")
	}

	adc.values[34] = 2000
	adc.values[35] = 1100
	s := m.ReadAll()
	if s.SoilMoisture != 50 {
		t.Errorf("moisture = %g with manual anchors, want 50", s.SoilMoisture)
	}
	if s.Light != 5000 {
		t.Errorf("light = %g with manual anchors, want 5000", s.Light)
	}
}

func TestAutoCalibrateSoil(t *testing.T) {
	m, adc, _ := newTestManager(t)

	adc.values[34] = 3000
	if err := m.AutoCalibrateSoil(true); err != nil {
		t.Fatalf("AutoCalibrateSoil(dry): %v", err)
	}
	if m.Calibration().SoilDryRaw != 3000 || !m.Calibration().Calibrated {
		t.Errorf("calibration = %+v, want dry=3000 calibrated", m.Calibration())
	}

	adc.values[34] = 900
	if err := m.AutoCalibrateSoil(false); err != nil {
		t.Fatalf("AutoCalibrateSoil(wet): %v", err)
	}
	if m.Calibration().SoilWetRaw != 900 {
		t.Errorf("wet anchor = %d, want 900", m.Calibration().SoilWetRaw)
	}
}

func TestSelfTest(t *testing.T) {
	m, adc, probe := newTestManager(t)
	adc.values[34] = 2150
	adc.values[35] = 1990

	if err := m.SelfTest(); err != nil {
		t.Errorf("SelfTest: %v", err)
	}

	probe.Failing = true
	if err := m.SelfTest(); err == nil {
		t.Error("expected self-test failure with failing probe")
	}
}

func TestSampleInRange(t *testing.T) {
	good := Sample{SoilMoisture: 50, AirHumidity: 50, Temperature: 24, Light: 1000}
	if !good.InRange() {
		t.Error("in-range sample reported out of range")
	}
	bad := good
	bad.Temperature = math.Inf(1)
	if bad.InRange() {
		t.Error("infinite temperature passed range check")
	}
}
