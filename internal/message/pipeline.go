// Package message queues outbound envelopes, paces their delivery, and
// validates inbound traffic.
package message

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/protocol"
)

// Transport delivers one envelope. Implementations are the WebSocket channel
// and the REST fallback.
type Transport interface {
	Send(env *protocol.Envelope) error
	Name() string
}

// Config holds pipeline tuning.
type Config struct {
	DeviceID          string
	QueueCapacity     int
	NormalPerTick     int
	MaxRetries        int
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     100,
		NormalPerTick:     5,
		MaxRetries:        3,
		HeartbeatInterval: 60 * time.Second,
		SyncInterval:      5 * time.Minute,
	}
}

// Stats tracks pipeline activity.
type Stats struct {
	Enqueued        int
	Sent            int
	Retries         int
	Dropped         int
	DroppedOldest   int
	Heartbeats      int
	Syncs           int
	InboundAccepted int
	InboundRejected int
}

type queued struct {
	env      *protocol.Envelope
	attempts int
}

// Pipeline owns the outbound queues and inbound validation. Single writer,
// ticked by the engine.
type Pipeline struct {
	config   Config
	primary  Transport
	fallback Transport
	clock    hal.Clock

	priority []queued
	normal   []queued

	lastHeartbeat int64
	lastSync      int64

	heartbeatFn func() protocol.HeartbeatPayload
	syncFn      func() protocol.SyncPayload
	onCommand   func(protocol.CommandPayload)
	onConfig    func(json.RawMessage)

	stats Stats
}

// New creates a pipeline. The fallback transport may be nil.
func New(config Config, primary, fallback Transport, clock hal.Clock) (*Pipeline, error) {
	if config.QueueCapacity <= 0 {
		return nil, fmt.Errorf("message: queue capacity must be positive")
	}
	if primary == nil {
		return nil, fmt.Errorf("message: primary transport required")
	}
	return &Pipeline{
		config:   config,
		primary:  primary,
		fallback: fallback,
		clock:    clock,
	}, nil
}

// SetHeartbeatSource registers the snapshot used for periodic heartbeats.
func (p *Pipeline) SetHeartbeatSource(fn func() protocol.HeartbeatPayload) {
	p.heartbeatFn = fn
}

// SetSyncSource registers the snapshot used for periodic state sync.
func (p *Pipeline) SetSyncSource(fn func() protocol.SyncPayload) {
	p.syncFn = fn
}

// SetCommandHandler registers the inbound command callback.
func (p *Pipeline) SetCommandHandler(fn func(protocol.CommandPayload)) {
	p.onCommand = fn
}

// SetConfigHandler registers the inbound config-update callback.
func (p *Pipeline) SetConfigHandler(fn func(json.RawMessage)) {
	p.onConfig = fn
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// QueueDepth returns the combined queue length.
func (p *Pipeline) QueueDepth() int {
	return len(p.priority) + len(p.normal)
}

// FreeSlots returns the remaining queue capacity.
func (p *Pipeline) FreeSlots() int {
	return p.config.QueueCapacity - p.QueueDepth()
}

// Publish seals and enqueues a payload.
func (p *Pipeline) Publish(msgType int, payload interface{}, urgent bool) error {
	env, err := protocol.Seal(msgType, p.config.DeviceID, p.clock.Millis(), payload)
	if err != nil {
		return err
	}
	return p.Enqueue(&env, urgent)
}

// Enqueue adds an envelope. When the combined queue is full, the oldest
// normal message is dropped to make room. A normal message arriving with the
// queue full of priority traffic is rejected.
func (p *Pipeline) Enqueue(env *protocol.Envelope, urgent bool) error {
	if p.QueueDepth() >= p.config.QueueCapacity {
		if len(p.normal) > 0 {
			p.normal = p.normal[1:]
			p.stats.DroppedOldest++
		} else if !urgent {
			p.stats.Dropped++
			return fmt.Errorf("message: queue full")
		} else {
			// Full of priority traffic. Drop the oldest priority entry so
			// the newest alert still gets out.
			p.priority = p.priority[1:]
			p.stats.DroppedOldest++
		}
	}
	q := queued{env: env}
	if urgent {
		p.priority = append(p.priority, q)
	} else {
		p.normal = append(p.normal, q)
	}
	p.stats.Enqueued++
	return nil
}

// Tick emits periodic traffic and drains the queues. Nothing is sent while
// offline; messages accumulate up to capacity.
func (p *Pipeline) Tick(online bool) {
	now := p.clock.Millis()

	if p.heartbeatFn != nil && now-p.lastHeartbeat >= p.config.HeartbeatInterval.Milliseconds() {
		p.lastHeartbeat = now
		p.stats.Heartbeats++
		if err := p.Publish(protocol.TypeHeartbeat, p.heartbeatFn(), false); err != nil {
			log.Printf("message: heartbeat: %v", err)
		}
	}
	if p.syncFn != nil && now-p.lastSync >= p.config.SyncInterval.Milliseconds() {
		p.lastSync = now
		p.stats.Syncs++
		if err := p.Publish(protocol.TypeSync, p.syncFn(), false); err != nil {
			log.Printf("message: sync: %v", err)
		}
	}

	if !online {
		return
	}

	// Priority traffic drains completely, normal traffic is paced.
	p.priority = p.drain(p.priority, len(p.priority))
	p.normal = p.drain(p.normal, p.config.NormalPerTick)
}

func (p *Pipeline) drain(queue []queued, budget int) []queued {
	sent := 0
	for len(queue) > 0 && sent < budget {
		q := queue[0]
		queue = queue[1:]
		if err := p.deliver(q.env); err != nil {
			q.attempts++
			p.stats.Retries++
			if q.attempts >= p.config.MaxRetries {
				p.stats.Dropped++
				log.Printf("message: dropping %s %s after %d attempts: %v",
					protocol.TypeName(q.env.Type), q.env.MessageID, q.attempts, err)
			} else {
				queue = append(queue, q)
			}
			// A failed transport is unlikely to recover within the tick.
			break
		}
		p.stats.Sent++
		sent++
	}
	return queue
}

func (p *Pipeline) deliver(env *protocol.Envelope) error {
	err := p.primary.Send(env)
	if err == nil {
		return nil
	}
	if p.fallback == nil {
		return err
	}
	if ferr := p.fallback.Send(env); ferr != nil {
		return fmt.Errorf("%s: %v, %s: %w", p.primary.Name(), err, p.fallback.Name(), ferr)
	}
	return nil
}

// HandleInbound validates an envelope and dispatches it. Invalid envelopes
// are counted and dropped. Valid commands are acknowledged.
func (p *Pipeline) HandleInbound(env *protocol.Envelope) {
	if err := env.Validate(p.clock.Millis()); err != nil {
		p.stats.InboundRejected++
		log.Printf("message: rejecting inbound %s: %v", env.MessageID, err)
		return
	}
	p.stats.InboundAccepted++

	switch env.Type {
	case protocol.TypeCommand:
		var cmd protocol.CommandPayload
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			p.ack(env.MessageID, false, "bad command payload")
			return
		}
		if p.onCommand != nil {
			p.onCommand(cmd)
		}
		p.ack(env.MessageID, true, "")
	case protocol.TypeConfig:
		if p.onConfig != nil {
			p.onConfig(env.Payload)
		}
		p.ack(env.MessageID, true, "")
	case protocol.TypeAck:
		// Service-side acknowledgement, nothing to do.
	default:
		log.Printf("message: unhandled inbound type %s", protocol.TypeName(env.Type))
	}
}

func (p *Pipeline) ack(messageID string, ok bool, errMsg string) {
	payload := protocol.AckPayload{AckedMessageID: messageID, OK: ok, Error: errMsg}
	if err := p.Publish(protocol.TypeAck, payload, true); err != nil {
		log.Printf("message: ack: %v", err)
	}
}
