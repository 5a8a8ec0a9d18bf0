// Package pipeline drives periodic sample acquisition into a bounded ring
// buffer with consecutive-error recovery.
package pipeline

import (
	"fmt"
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/sensor"
)

// CollectionStatus is the pipeline's lifecycle state.
type CollectionStatus int

const (
	StatusIdle CollectionStatus = iota
	StatusCollecting
	StatusProcessing
	StatusError
	StatusPaused
)

func (s CollectionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusCollecting:
		return "collecting"
	case StatusProcessing:
		return "processing"
	case StatusError:
		return "error"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Reader acquires one complete sample.
type Reader interface {
	ReadAll() sensor.Sample
}

// Config holds pipeline configuration.
type Config struct {
	Interval             time.Duration
	BufferSize           int
	MaxConsecutiveErrors int
	ErrorRecoveryDelay   time.Duration
}

// DefaultConfig returns default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Interval:             5 * time.Second,
		BufferSize:           100,
		MaxConsecutiveErrors: 5,
		ErrorRecoveryDelay:   30 * time.Second,
	}
}

// minInterval is the shortest accepted collection interval.
const minInterval = time.Second

// Stats summarizes collection outcomes.
type Stats struct {
	Total            int64
	Successful       int64
	Failed           int64
	LastCollectionAt int64
}

// SuccessRate returns the fraction of successful collections, 0..1.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total)
}

// Collector is the sample pipeline.
type Collector struct {
	config Config
	reader Reader
	clock  hal.Clock

	ring  []sensor.Sample
	head  int // next write position
	count int

	status            CollectionStatus
	running           bool
	intervalMs        int64
	nextDue           int64
	consecutiveErrors int
	errorSince        int64
	lastError         string

	stats Stats

	sampleHandler func(sensor.Sample)
}

// New creates a collector. It is idle until Start is called.
func New(config Config, reader Reader, clock hal.Clock) (*Collector, error) {
	if config.BufferSize < 1 {
		return nil, fmt.Errorf("pipeline: buffer size must be positive, got %d", config.BufferSize)
	}
	if config.MaxConsecutiveErrors < 1 {
		return nil, fmt.Errorf("pipeline: max consecutive errors must be positive, got %d", config.MaxConsecutiveErrors)
	}
	return &Collector{
		config: config,
		reader: reader,
		clock:  clock,
		ring:   make([]sensor.Sample, config.BufferSize),
		status: StatusIdle,
	}, nil
}

// SetSampleHandler registers the consumer of newly collected valid samples.
func (c *Collector) SetSampleHandler(fn func(sensor.Sample)) {
	c.sampleHandler = fn
}

// Start begins periodic collection at the given interval.
func (c *Collector) Start(interval time.Duration) {
	c.intervalMs = clampIntervalMs(interval)
	c.running = true
	c.status = StatusIdle
	c.nextDue = c.clock.Millis()
	log.Printf("pipeline: collection started, interval %d ms", c.intervalMs)
}

// Stop halts collection and clears error state.
func (c *Collector) Stop() {
	c.running = false
	c.status = StatusIdle
	c.consecutiveErrors = 0
}

// Pause suspends collection without losing the schedule.
func (c *Collector) Pause() {
	if c.running && c.status != StatusError {
		c.status = StatusPaused
	}
}

// Resume continues collection after a pause.
func (c *Collector) Resume() {
	if c.running && c.status == StatusPaused {
		c.status = StatusIdle
		c.nextDue = c.clock.Millis()
	}
}

// SetInterval changes the collection cadence, clamped to the 1 s minimum.
func (c *Collector) SetInterval(interval time.Duration) {
	c.intervalMs = clampIntervalMs(interval)
}

// Interval returns the active collection cadence in milliseconds.
func (c *Collector) Interval() int64 {
	return c.intervalMs
}

// Status returns the pipeline lifecycle state.
func (c *Collector) Status() CollectionStatus {
	return c.status
}

// ErrorInfo returns the last collection error, empty when healthy.
func (c *Collector) ErrorInfo() string {
	return c.lastError
}

// IsWorking reports whether the pipeline is out of the error state.
func (c *Collector) IsWorking() bool {
	return c.status != StatusError
}

// Stats returns the collection statistics.
func (c *Collector) Stats() Stats {
	return c.stats
}

// Tick advances the pipeline. Collection happens when the schedule is due.
func (c *Collector) Tick() {
	if !c.running || c.status == StatusPaused {
		return
	}

	now := c.clock.Millis()

	if c.status == StatusError {
		if now-c.errorSince < c.config.ErrorRecoveryDelay.Milliseconds() {
			return
		}
		log.Printf("pipeline: retrying after error recovery delay")
		c.status = StatusIdle
		c.consecutiveErrors = 0
		c.nextDue = now
	}

	if now < c.nextDue {
		return
	}

	c.collect(now)
	c.nextDue = now + c.intervalMs
}

// Force collects a sample immediately, outside the schedule.
func (c *Collector) Force() sensor.Sample {
	now := c.clock.Millis()
	return c.collect(now)
}

func (c *Collector) collect(now int64) sensor.Sample {
	c.status = StatusCollecting
	s := c.reader.ReadAll()
	c.status = StatusProcessing

	c.stats.Total++
	if s.Valid {
		c.push(s)
		c.stats.Successful++
		c.stats.LastCollectionAt = now
		c.consecutiveErrors = 0
		c.lastError = ""
		c.status = StatusIdle
		if c.sampleHandler != nil {
			c.sampleHandler(s)
		}
		return s
	}

	c.stats.Failed++
	c.consecutiveErrors++
	c.lastError = fmt.Sprintf("invalid sample at %d ms (%d consecutive)", now, c.consecutiveErrors)
	if c.consecutiveErrors >= c.config.MaxConsecutiveErrors {
		c.status = StatusError
		c.errorSince = now
		log.Printf("pipeline: entering error state after %d consecutive failures", c.consecutiveErrors)
	} else {
		c.status = StatusIdle
	}
	return s
}

func (c *Collector) push(s sensor.Sample) {
	c.ring[c.head] = s
	c.head = (c.head + 1) % len(c.ring)
	if c.count < len(c.ring) {
		c.count++
	}
}

// Latest returns the most recent sample, ok=false when empty.
func (c *Collector) Latest() (sensor.Sample, bool) {
	if c.count == 0 {
		return sensor.Sample{}, false
	}
	idx := (c.head - 1 + len(c.ring)) % len(c.ring)
	return c.ring[idx], true
}

// History returns up to n samples, newest first.
func (c *Collector) History(n int) []sensor.Sample {
	if n > c.count {
		n = c.count
	}
	out := make([]sensor.Sample, 0, n)
	for i := 1; i <= n; i++ {
		idx := (c.head - i + 2*len(c.ring)) % len(c.ring)
		out = append(out, c.ring[idx])
	}
	return out
}

// Len returns the number of buffered samples.
func (c *Collector) Len() int {
	return c.count
}

func clampIntervalMs(interval time.Duration) int64 {
	if interval < minInterval {
		interval = minInterval
	}
	return interval.Milliseconds()
}
