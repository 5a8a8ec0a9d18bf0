// Package led drives the pixel ring with declarative, frame-stepped
// animations.
package led

import (
	"math"
	"math/rand"

	"github.com/floralink/plant-companion/internal/hal"
)

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

var (
	ColorOff    = Color{0, 0, 0}
	ColorGreen  = Color{0, 180, 40}
	ColorYellow = Color{230, 180, 0}
	ColorRed    = Color{220, 20, 20}
	ColorOrange = Color{240, 120, 0}
	ColorPurple = Color{150, 0, 200}
	ColorBlue   = Color{20, 60, 220}
	ColorWhite  = Color{220, 220, 220}
)

// scale dims a color channel-wise by v/255.
func (c Color) scale(v uint8) Color {
	return Color{
		R: uint8(int(c.R) * int(v) / 255),
		G: uint8(int(c.G) * int(v) / 255),
		B: uint8(int(c.B) * int(v) / 255),
	}
}

// Animation names a pattern generator.
type Animation int

const (
	AnimOff Animation = iota
	AnimSolid
	AnimBreathing
	AnimBlink
	AnimPulse
	AnimRainbow
	AnimWave
	AnimSparkle
	AnimFade
	AnimRotate
)

func (a Animation) String() string {
	switch a {
	case AnimSolid:
		return "solid"
	case AnimBreathing:
		return "breathing"
	case AnimBlink:
		return "blink"
	case AnimPulse:
		return "pulse"
	case AnimRainbow:
		return "rainbow"
	case AnimWave:
		return "wave"
	case AnimSparkle:
		return "sparkle"
	case AnimFade:
		return "fade"
	case AnimRotate:
		return "rotate"
	default:
		return "off"
	}
}

// AnimationConfig describes one animation run.
type AnimationConfig struct {
	Animation  Animation
	Color      Color
	Speed      int   // frames per pattern step, min 1
	DurationMs int64 // 0 with Loop=false means one cycle
	Loop       bool
}

// Controller renders the active animation onto the strip once per frame.
type Controller struct {
	strip hal.PixelStrip
	clock hal.Clock
	rng   *rand.Rand

	active    AnimationConfig
	startedAt int64
	frame     int
	running   bool

	brightness       uint8
	targetBrightness uint8
	enabled          bool

	onFinished func(AnimationConfig)
}

// New creates a controller at full brightness.
func New(strip hal.PixelStrip, clock hal.Clock) *Controller {
	return &Controller{
		strip:            strip,
		clock:            clock,
		rng:              rand.New(rand.NewSource(clock.Millis())),
		brightness:       255,
		targetBrightness: 255,
		enabled:          true,
	}
}

// SetFinishedHandler registers the callback fired when a non-looping
// animation completes.
func (c *Controller) SetFinishedHandler(fn func(AnimationConfig)) {
	c.onFinished = fn
}

// Play replaces the active animation.
func (c *Controller) Play(config AnimationConfig) {
	if config.Speed < 1 {
		config.Speed = 1
	}
	c.active = config
	c.startedAt = c.clock.Millis()
	c.frame = 0
	c.running = config.Animation != AnimOff
	if !c.running {
		c.clear()
	}
}

// Stop ends the active animation and blanks the strip.
func (c *Controller) Stop() {
	c.running = false
	c.active = AnimationConfig{}
	c.clear()
}

// Active returns the running animation, or AnimOff when idle.
func (c *Controller) Active() Animation {
	if !c.running {
		return AnimOff
	}
	return c.active.Animation
}

// SetBrightness sets the ramp target. The actual value converges by at most
// 2 per frame to avoid visible steps.
func (c *Controller) SetBrightness(v uint8) {
	c.targetBrightness = v
}

// Brightness returns the current ramped brightness.
func (c *Controller) Brightness() uint8 {
	return c.brightness
}

// SetEnabled blanks the strip when disabled. The animation state is kept so
// re-enabling resumes it.
func (c *Controller) SetEnabled(enabled bool) {
	c.enabled = enabled
	if !enabled {
		c.clear()
	}
}

// Tick renders one frame.
func (c *Controller) Tick() {
	c.stepBrightness()
	if !c.enabled {
		return
	}
	if !c.running {
		return
	}

	if c.active.DurationMs > 0 && !c.active.Loop &&
		c.clock.Millis()-c.startedAt >= c.active.DurationMs {
		done := c.active
		c.running = false
		c.clear()
		if c.onFinished != nil {
			c.onFinished(done)
		}
		return
	}

	step := c.frame / c.active.Speed
	switch c.active.Animation {
	case AnimSolid:
		c.fill(c.active.Color)
	case AnimBreathing:
		c.breathing(step)
	case AnimBlink:
		c.blink(step)
	case AnimPulse:
		c.pulse(step)
	case AnimRainbow:
		c.rainbow(step)
	case AnimWave:
		c.wave(step)
	case AnimSparkle:
		c.sparkle()
	case AnimFade:
		c.fade(step)
	case AnimRotate:
		c.rotate(step)
	}
	c.strip.SetBrightness(c.brightness)
	c.strip.Show()
	c.frame++
}

func (c *Controller) stepBrightness() {
	switch {
	case c.brightness < c.targetBrightness:
		d := c.targetBrightness - c.brightness
		if d > 2 {
			d = 2
		}
		c.brightness += d
	case c.brightness > c.targetBrightness:
		d := c.brightness - c.targetBrightness
		if d > 2 {
			d = 2
		}
		c.brightness -= d
	}
}

func (c *Controller) fill(col Color) {
	for i := 0; i < c.strip.Count(); i++ {
		c.strip.SetPixel(i, col.R, col.G, col.B)
	}
}

func (c *Controller) clear() {
	c.fill(ColorOff)
	c.strip.Show()
}

// breathing modulates the color with a slow sine.
func (c *Controller) breathing(step int) {
	level := uint8((math.Sin(float64(step)*0.1)*0.5 + 0.5) * 255)
	c.fill(c.active.Color.scale(level))
}

// blink toggles the whole strip every ten steps.
func (c *Controller) blink(step int) {
	if (step/10)%2 == 0 {
		c.fill(c.active.Color)
	} else {
		c.fill(ColorOff)
	}
}

// pulse expands a lit band from the center outward.
func (c *Controller) pulse(step int) {
	n := c.strip.Count()
	center := n / 2
	radius := step % (center + 1)
	c.fill(ColorOff)
	for i := 0; i < n; i++ {
		d := i - center
		if d < 0 {
			d = -d
		}
		if d <= radius {
			c.strip.SetPixel(i, c.active.Color.R, c.active.Color.G, c.active.Color.B)
		}
	}
}

// rainbow cycles hues around the ring.
func (c *Controller) rainbow(step int) {
	n := c.strip.Count()
	for i := 0; i < n; i++ {
		col := hueColor((i*256/n + step*4) & 0xFF)
		c.strip.SetPixel(i, col.R, col.G, col.B)
	}
}

// wave runs a brightness sine along the ring.
func (c *Controller) wave(step int) {
	n := c.strip.Count()
	for i := 0; i < n; i++ {
		phase := float64(i)/float64(n)*2*math.Pi + float64(step)*0.2
		level := uint8((math.Sin(phase)*0.5 + 0.5) * 255)
		col := c.active.Color.scale(level)
		c.strip.SetPixel(i, col.R, col.G, col.B)
	}
}

// sparkle lights random pixels each frame.
func (c *Controller) sparkle() {
	n := c.strip.Count()
	c.fill(ColorOff)
	for i := 0; i < n/4+1; i++ {
		p := c.rng.Intn(n)
		c.strip.SetPixel(p, c.active.Color.R, c.active.Color.G, c.active.Color.B)
	}
}

// fade ramps the strip down to off over 64 steps, then restarts.
func (c *Controller) fade(step int) {
	level := 255 - (step%64)*4
	if level < 0 {
		level = 0
	}
	c.fill(c.active.Color.scale(uint8(level)))
}

// rotate moves a single bright pixel with a dimming trail.
func (c *Controller) rotate(step int) {
	n := c.strip.Count()
	head := step % n
	c.fill(ColorOff)
	for t := 0; t < 4 && t < n; t++ {
		idx := (head - t + n) % n
		col := c.active.Color.scale(uint8(255 >> uint(t)))
		c.strip.SetPixel(idx, col.R, col.G, col.B)
	}
}

// hueColor maps a 0..255 hue position to RGB on the color wheel.
func hueColor(pos int) Color {
	pos &= 0xFF
	switch {
	case pos < 85:
		return Color{uint8(255 - pos*3), uint8(pos * 3), 0}
	case pos < 170:
		pos -= 85
		return Color{0, uint8(255 - pos*3), uint8(pos * 3)}
	default:
		pos -= 170
		return Color{uint8(pos * 3), 0, uint8(255 - pos*3)}
	}
}
