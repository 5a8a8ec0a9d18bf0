package pipeline

import (
	"testing"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/sensor"
)

// fakeReader returns scripted samples, invalid when failing.
type fakeReader struct {
	reads   int
	failing bool
}

func (r *fakeReader) ReadAll() sensor.Sample {
	r.reads++
	return sensor.Sample{
		Timestamp:    int64(r.reads),
		SoilMoisture: 55,
		AirHumidity:  50,
		Temperature:  24,
		Light:        1200,
		Valid:        !r.failing,
	}
}

func newTestCollector(t *testing.T, reader Reader, clock hal.Clock) *Collector {
	t.Helper()
	c, err := New(Config{
		Interval:             5 * time.Second,
		BufferSize:           10,
		MaxConsecutiveErrors: 5,
		ErrorRecoveryDelay:   30 * time.Second,
	}, reader, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{BufferSize: 0, MaxConsecutiveErrors: 5}, &fakeReader{}, hal.NewFakeClock()); err == nil {
		t.Error("expected error for zero buffer size")
	}
	if _, err := New(Config{BufferSize: 10, MaxConsecutiveErrors: 0}, &fakeReader{}, hal.NewFakeClock()); err == nil {
		t.Error("expected error for zero max consecutive errors")
	}
}

func TestScheduledCollection(t *testing.T) {
	clock := hal.NewFakeClock()
	reader := &fakeReader{}
	c := newTestCollector(t, reader, clock)

	var handled int
	c.SetSampleHandler(func(sensor.Sample) { handled++ })

	c.Start(5 * time.Second)
	c.Tick() // due immediately
	if reader.reads != 1 {
		t.Fatalf("reads = %d after start, want 1", reader.reads)
	}

	clock.Advance(4_999)
	c.Tick()
	if reader.reads != 1 {
		t.Fatalf("reads = %d inside interval, want 1", reader.reads)
	}

	clock.Advance(1)
	c.Tick()
	if reader.reads != 2 {
		t.Fatalf("reads = %d at interval boundary, want 2", reader.reads)
	}
	if handled != 2 {
		t.Errorf("handled = %d, want 2", handled)
	}
	if c.Stats().Successful != 2 {
		t.Errorf("successful = %d, want 2", c.Stats().Successful)
	}
}

func TestIntervalClampedToMinimum(t *testing.T) {
	clock := hal.NewFakeClock()
	c := newTestCollector(t, &fakeReader{}, clock)

	c.Start(50 * time.Millisecond)
	if c.Interval() != 1000 {
		t.Errorf("interval = %d ms, want clamped 1000", c.Interval())
	}

	c.SetInterval(200 * time.Millisecond)
	if c.Interval() != 1000 {
		t.Errorf("interval = %d ms after SetInterval, want clamped 1000", c.Interval())
	}

	c.SetInterval(30 * time.Second)
	if c.Interval() != 30_000 {
		t.Errorf("interval = %d ms, want 30000", c.Interval())
	}
}

func TestErrorStateAndRecovery(t *testing.T) {
	clock := hal.NewFakeClock()
	reader := &fakeReader{failing: true}
	c := newTestCollector(t, reader, clock)

	c.Start(5 * time.Second)
	for i := 0; i < 5; i++ {
		c.Tick()
		clock.Advance(5_000)
	}
	if c.Status() != StatusError {
		t.Fatalf("status = %v after 5 invalid samples, want error", c.Status())
	}
	if c.IsWorking() {
		t.Error("IsWorking() = true in error state")
	}
	if c.ErrorInfo() == "" {
		t.Error("no error info in error state")
	}

	// Inside the recovery delay nothing is read.
	before := reader.reads
	clock.Advance(20_000)
	c.Tick()
	if reader.reads != before {
		t.Fatalf("reads = %d inside recovery delay, want %d", reader.reads, before)
	}

	// After the delay the pipeline retries and recovers.
	reader.failing = false
	clock.Advance(10_000)
	c.Tick()
	if c.Status() != StatusIdle {
		t.Errorf("status = %v after recovery, want idle", c.Status())
	}
	if c.ErrorInfo() != "" {
		t.Errorf("error info = %q after recovery, want empty", c.ErrorInfo())
	}
}

func TestInvalidSamplesNotBuffered(t *testing.T) {
	clock := hal.NewFakeClock()
	reader := &fakeReader{failing: true}
	c := newTestCollector(t, reader, clock)

	var handled int
	c.SetSampleHandler(func(sensor.Sample) { handled++ })

	c.Start(5 * time.Second)
	c.Tick()
	if c.Len() != 0 {
		t.Errorf("buffered = %d invalid samples, want 0", c.Len())
	}
	if handled != 0 {
		t.Errorf("handler called %d times for invalid samples, want 0", handled)
	}
	if _, ok := c.Latest(); ok {
		t.Error("Latest() returned a sample from an empty buffer")
	}
}

func TestRingHistoryNewestFirst(t *testing.T) {
	clock := hal.NewFakeClock()
	reader := &fakeReader{}
	c := newTestCollector(t, reader, clock)

	c.Start(5 * time.Second)
	// 15 collections through a 10-slot ring.
	for i := 0; i < 15; i++ {
		c.Tick()
		clock.Advance(5_000)
	}

	if c.Len() != 10 {
		t.Fatalf("buffered = %d, want 10", c.Len())
	}
	latest, ok := c.Latest()
	if !ok || latest.Timestamp != 15 {
		t.Errorf("latest timestamp = %d, want 15", latest.Timestamp)
	}

	hist := c.History(3)
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	for i, want := range []int64{15, 14, 13} {
		if hist[i].Timestamp != want {
			t.Errorf("history[%d].Timestamp = %d, want %d", i, hist[i].Timestamp, want)
		}
	}

	// Asking for more than buffered returns what exists.
	if got := len(c.History(50)); got != 10 {
		t.Errorf("history length = %d for oversized request, want 10", got)
	}
}

func TestPauseResume(t *testing.T) {
	clock := hal.NewFakeClock()
	reader := &fakeReader{}
	c := newTestCollector(t, reader, clock)

	c.Start(5 * time.Second)
	c.Tick()
	c.Pause()
	if c.Status() != StatusPaused {
		t.Fatalf("status = %v, want paused", c.Status())
	}

	clock.Advance(60_000)
	c.Tick()
	if reader.reads != 1 {
		t.Errorf("reads = %d while paused, want 1", reader.reads)
	}

	c.Resume()
	c.Tick()
	if reader.reads != 2 {
		t.Errorf("reads = %d after resume, want 2", reader.reads)
	}
}

func TestForceBypassesSchedule(t *testing.T) {
	clock := hal.NewFakeClock()
	reader := &fakeReader{}
	c := newTestCollector(t, reader, clock)

	c.Start(5 * time.Second)
	c.Tick()

	s := c.Force()
	if !s.Valid {
		t.Errorf("forced sample invalid: %+v", s)
	}
	if reader.reads != 2 {
		t.Errorf("reads = %d after force, want 2", reader.reads)
	}
}

func TestSuccessRate(t *testing.T) {
	var s Stats
	if s.SuccessRate() != 0 {
		t.Errorf("success rate = %g for no collections, want 0", s.SuccessRate())
	}
	s = Stats{Total: 4, Successful: 3}
	if s.SuccessRate() != 0.75 {
		t.Errorf("success rate = %g, want 0.75", s.SuccessRate())
	}
}
