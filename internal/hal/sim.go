package hal

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SystemClock is the real monotonic timebase.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock anchored at construction time.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Millis() int64 {
	return time.Since(c.start).Milliseconds()
}

// SimADC produces noisy readings around per-pin center values.
type SimADC struct {
	mu      sync.Mutex
	centers map[int]int
	noise   int
}

func NewSimADC() *SimADC {
	return &SimADC{centers: make(map[int]int), noise: 8}
}

// SetCenter sets the value a pin's readings cluster around.
func (a *SimADC) SetCenter(pin, value int) {
	a.mu.Lock()
	a.centers[pin] = value
	a.mu.Unlock()
}

func (a *SimADC) Read(pin int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	center := a.centers[pin]
	v := center + rand.Intn(2*a.noise+1) - a.noise
	if v < 0 {
		v = 0
	}
	if v > 4095 {
		v = 4095
	}
	return v, nil
}

// SimClimateProbe returns fixed temperature/humidity values.
type SimClimateProbe struct {
	mu          sync.Mutex
	Temperature float64
	Humidity    float64
	Failing     bool
}

func NewSimClimateProbe() *SimClimateProbe {
	return &SimClimateProbe{Temperature: 24.0, Humidity: 50.0}
}

func (p *SimClimateProbe) ReadTemperature() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Failing {
		return math.NaN()
	}
	return p.Temperature
}

func (p *SimClimateProbe) ReadHumidity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Failing {
		return math.NaN()
	}
	return p.Humidity
}

// SimTouchPad reports a settable raw touch value.
type SimTouchPad struct {
	mu    sync.Mutex
	value int
}

func NewSimTouchPad(idle int) *SimTouchPad {
	return &SimTouchPad{value: idle}
}

func (t *SimTouchPad) Set(value int) {
	t.mu.Lock()
	t.value = value
	t.mu.Unlock()
}

func (t *SimTouchPad) ReadTouch() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, nil
}

// SimPixelStrip records the last shown frame.
type SimPixelStrip struct {
	mu         sync.Mutex
	pixels     [][3]uint8
	brightness uint8
	shows      int
}

func NewSimPixelStrip(count int) *SimPixelStrip {
	return &SimPixelStrip{pixels: make([][3]uint8, count), brightness: 255}
}

func (s *SimPixelStrip) Count() int {
	return len(s.pixels)
}

func (s *SimPixelStrip) SetPixel(index int, r, g, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.pixels) {
		return
	}
	s.pixels[index] = [3]uint8{r, g, b}
}

func (s *SimPixelStrip) SetBrightness(brightness uint8) {
	s.mu.Lock()
	s.brightness = brightness
	s.mu.Unlock()
}

func (s *SimPixelStrip) Show() {
	s.mu.Lock()
	s.shows++
	s.mu.Unlock()
}

// Pixel returns the current color of one pixel.
func (s *SimPixelStrip) Pixel(index int) (r, g, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pixels[index]
	return p[0], p[1], p[2]
}

// Brightness returns the current global brightness.
func (s *SimPixelStrip) Brightness() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brightness
}

// ShowCount returns how many frames were pushed.
func (s *SimPixelStrip) ShowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shows
}

// SimTone records tones played through the speaker.
type SimTone struct {
	mu     sync.Mutex
	Played []int // frequencies, in order
	active bool
}

func NewSimTone() *SimTone {
	return &SimTone{}
}

func (t *SimTone) Tone(freqHz, durationMs int) {
	t.mu.Lock()
	t.Played = append(t.Played, freqHz)
	t.active = true
	t.mu.Unlock()
}

func (t *SimTone) NoTone() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

// PlayedCount returns how many tones have started.
func (t *SimTone) PlayedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Played)
}

// SimCPU tracks the requested clock frequency.
type SimCPU struct {
	mu  sync.Mutex
	mhz int
}

func NewSimCPU() *SimCPU {
	return &SimCPU{mhz: 240}
}

func (c *SimCPU) SetFrequencyMHz(mhz int) error {
	c.mu.Lock()
	c.mhz = mhz
	c.mu.Unlock()
	return nil
}

func (c *SimCPU) FrequencyMHz() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mhz
}

// SimUSB reports a settable USB presence flag.
type SimUSB struct {
	mu      sync.Mutex
	present bool
}

func NewSimUSB(present bool) *SimUSB {
	return &SimUSB{present: present}
}

func (u *SimUSB) SetPresent(present bool) {
	u.mu.Lock()
	u.present = present
	u.mu.Unlock()
}

func (u *SimUSB) USBPresent() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.present
}

// SimRadio is a scripted Wi-Fi driver. Connect succeeds after a configurable
// number of ticks unless FailNext is set.
type SimRadio struct {
	mu           sync.Mutex
	status       RadioStatus
	ssid         string
	enabled      bool
	FailNext     bool
	connectDelay int // Status() calls before Connecting turns Connected
	pending      int
	networks     []Network
	scSSID       string
	scPassword   string
	scActive     bool
	scReady      bool
	apActive     bool
}

func NewSimRadio() *SimRadio {
	return &SimRadio{
		enabled:      true,
		connectDelay: 1,
		networks: []Network{
			{SSID: "greenhouse", RSSI: -48, Channel: 6, Secure: true},
			{SSID: "garage", RSSI: -71, Channel: 11, Secure: true},
		},
	}
}

func (r *SimRadio) Connect(ssid, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ssid = ssid
	if r.FailNext {
		r.status = RadioFailed
		return nil
	}
	r.status = RadioConnecting
	r.pending = r.connectDelay
	return nil
}

func (r *SimRadio) Disconnect() error {
	r.mu.Lock()
	r.status = RadioIdle
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) Status() RadioStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == RadioConnecting {
		if r.pending <= 0 {
			r.status = RadioConnected
		} else {
			r.pending--
		}
	}
	return r.status
}

func (r *SimRadio) RSSI() int {
	return -55
}

func (r *SimRadio) SSID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ssid
}

func (r *SimRadio) LocalIP() string {
	return "192.168.4.17"
}

func (r *SimRadio) MACAddress() string {
	return "24:6f:28:aa:10:02"
}

func (r *SimRadio) Scan() ([]Network, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Network, len(r.networks))
	copy(out, r.networks)
	return out, nil
}

func (r *SimRadio) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	if !enabled {
		r.status = RadioIdle
	}
	r.mu.Unlock()
}

func (r *SimRadio) BeginSmartConfig() error {
	r.mu.Lock()
	r.scActive = true
	r.scReady = false
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) StopSmartConfig() {
	r.mu.Lock()
	r.scActive = false
	r.mu.Unlock()
}

// ProvisionSmartConfig injects credentials as if a phone app delivered them.
func (r *SimRadio) ProvisionSmartConfig(ssid, password string) {
	r.mu.Lock()
	r.scSSID = ssid
	r.scPassword = password
	r.scReady = true
	r.mu.Unlock()
}

func (r *SimRadio) SmartConfigResult() (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.scActive || !r.scReady {
		return "", "", false
	}
	return r.scSSID, r.scPassword, true
}

func (r *SimRadio) StartAccessPoint(ssid, password string) error {
	r.mu.Lock()
	r.apActive = true
	r.mu.Unlock()
	return nil
}

func (r *SimRadio) StopAccessPoint() error {
	r.mu.Lock()
	r.apActive = false
	r.mu.Unlock()
	return nil
}

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now int64
}

func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

func (c *FakeClock) Millis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms milliseconds.
func (c *FakeClock) Advance(ms int64) {
	c.mu.Lock()
	c.now += ms
	c.mu.Unlock()
}

// Set jumps the clock to an absolute value.
func (c *FakeClock) Set(ms int64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}
