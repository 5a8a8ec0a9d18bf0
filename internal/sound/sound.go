// Package sound plays short tone sequences without blocking the tick loop.
package sound

import (
	"github.com/floralink/plant-companion/internal/hal"
)

// Note frequencies in Hz.
const (
	NoteC4 = 262
	NoteD4 = 294
	NoteE4 = 330
	NoteF4 = 349
	NoteG4 = 392
	NoteA4 = 440
	NoteB4 = 494
	NoteC5 = 523
	NoteE5 = 659
	NoteG5 = 784
)

// step is one tone in a sequence. A zero frequency is a rest.
type step struct {
	freq  int
	durMs int64
}

// Sequence names a built-in melody.
type Sequence int

const (
	SeqNone Sequence = iota
	SeqHappy
	SeqWaterReminder
	SeqLightReminder
	SeqError
	SeqLowBattery
	SeqStartup
	SeqShutdown
	SeqSuccess
	SeqWarning
	SeqNotification
	SeqBeep
)

var sequences = map[Sequence][]step{
	SeqHappy: {
		{NoteC5, 120}, {0, 30}, {NoteE5, 120}, {0, 30}, {NoteG5, 200},
	},
	SeqWaterReminder: {
		{NoteA4, 150}, {0, 50}, {NoteF4, 150}, {0, 50}, {NoteA4, 300},
	},
	SeqLightReminder: {
		{NoteG4, 150}, {0, 50}, {NoteE4, 150}, {0, 50}, {NoteC4, 300},
	},
	SeqError: {
		{NoteC4, 200}, {0, 50}, {NoteC4, 200}, {0, 50}, {NoteC4, 400},
	},
	SeqLowBattery: {
		{NoteD4, 100}, {0, 100}, {NoteD4, 100}, {0, 100}, {NoteD4, 100},
	},
	SeqStartup: {
		{NoteC4, 100}, {NoteE4, 100}, {NoteG4, 100}, {NoteC5, 200},
	},
	SeqShutdown: {
		{NoteC5, 100}, {NoteG4, 100}, {NoteE4, 100}, {NoteC4, 200},
	},
	SeqSuccess: {
		{NoteG4, 100}, {0, 30}, {NoteC5, 250},
	},
	SeqWarning: {
		{NoteA4, 100}, {0, 100}, {NoteA4, 100},
	},
	SeqNotification: {
		{NoteE5, 80}, {0, 40}, {NoteE5, 80},
	},
	SeqBeep: {
		{NoteC5, 60},
	},
}

// Player steps through one sequence at a time. Tick advances the cursor when
// the current step's duration has elapsed.
type Player struct {
	out   hal.ToneOutput
	clock hal.Clock

	seq       []step
	current   Sequence
	cursor    int
	stepStart int64
	playing   bool
	enabled   bool

	onFinished func(Sequence)
}

// New creates an enabled player.
func New(out hal.ToneOutput, clock hal.Clock) *Player {
	return &Player{out: out, clock: clock, enabled: true}
}

// SetFinishedHandler registers the callback fired when a sequence completes.
func (p *Player) SetFinishedHandler(fn func(Sequence)) {
	p.onFinished = fn
}

// SetEnabled mutes the player when false. An in-flight sequence is cut.
func (p *Player) SetEnabled(enabled bool) {
	p.enabled = enabled
	if !enabled && p.playing {
		p.stopPlayback()
	}
}

// Enabled reports whether the player is unmuted.
func (p *Player) Enabled() bool {
	return p.enabled
}

// Playing reports whether a sequence is in flight.
func (p *Player) Playing() bool {
	return p.playing
}

// Play starts a sequence, replacing any in-flight one. Muted players ignore
// the request.
func (p *Player) Play(seq Sequence) {
	if !p.enabled {
		return
	}
	steps, ok := sequences[seq]
	if !ok {
		return
	}
	p.seq = steps
	p.current = seq
	p.cursor = 0
	p.playing = true
	p.stepStart = p.clock.Millis()
	p.emit(steps[0])
}

// Stop cuts playback.
func (p *Player) Stop() {
	if p.playing {
		p.stopPlayback()
	}
}

// Tick advances the sequence cursor.
func (p *Player) Tick() {
	if !p.playing {
		return
	}
	now := p.clock.Millis()
	if now-p.stepStart < p.seq[p.cursor].durMs {
		return
	}
	p.cursor++
	if p.cursor >= len(p.seq) {
		done := p.current
		p.stopPlayback()
		if p.onFinished != nil {
			p.onFinished(done)
		}
		return
	}
	p.stepStart = now
	p.emit(p.seq[p.cursor])
}

func (p *Player) emit(s step) {
	if s.freq == 0 {
		p.out.NoTone()
		return
	}
	p.out.Tone(s.freq, int(s.durMs))
}

func (p *Player) stopPlayback() {
	p.playing = false
	p.seq = nil
	p.current = SeqNone
	p.out.NoTone()
}
