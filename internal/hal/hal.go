// Package hal declares the peripheral contract the coordination layer is
// written against. Real builds bind these to device drivers; tests and
// desktop runs bind them to the simulated peripherals in sim.go.
package hal

import "errors"

// ErrNotFound is returned by KeyValue lookups for absent keys.
var ErrNotFound = errors.New("hal: key not found")

// Clock is the monotonic millisecond timebase. No wall clock is assumed.
type Clock interface {
	Millis() int64
}

// ADC reads a raw analog value from a pin (0..2^RES-1).
type ADC interface {
	Read(pin int) (int, error)
}

// ClimateProbe is the one-wire temperature/humidity device.
// Reads return NaN on failure.
type ClimateProbe interface {
	ReadTemperature() float64
	ReadHumidity() float64
}

// TouchPad reads the raw capacitive touch value.
type TouchPad interface {
	ReadTouch() (int, error)
}

// PixelStrip is an addressable RGB LED strip.
type PixelStrip interface {
	Count() int
	SetPixel(index int, r, g, b uint8)
	SetBrightness(brightness uint8)
	Show()
}

// ToneOutput drives the piezo speaker.
type ToneOutput interface {
	Tone(freqHz, durationMs int)
	NoTone()
}

// CPU exposes clock scaling.
type CPU interface {
	SetFrequencyMHz(mhz int) error
	FrequencyMHz() int
}

// USBSense reports whether external USB power is present.
type USBSense interface {
	USBPresent() bool
}

// RadioStatus is the driver-level Wi-Fi association state.
type RadioStatus int

const (
	RadioIdle RadioStatus = iota
	RadioConnecting
	RadioConnected
	RadioFailed
)

// Network describes one scanned access point.
type Network struct {
	SSID    string
	RSSI    int
	Channel int
	Hidden  bool
	Secure  bool
}

// Radio is the Wi-Fi driver. Connect begins association and returns
// immediately; progress is observed through Status.
type Radio interface {
	Connect(ssid, password string) error
	Disconnect() error
	Status() RadioStatus
	RSSI() int
	SSID() string
	LocalIP() string
	MACAddress() string
	Scan() ([]Network, error)
	SetEnabled(enabled bool)

	BeginSmartConfig() error
	StopSmartConfig()
	// SmartConfigResult reports captured credentials once provisioning
	// completes. ok is false while still waiting.
	SmartConfigResult() (ssid, password string, ok bool)

	StartAccessPoint(ssid, password string) error
	StopAccessPoint() error
}

// KeyValue is the flash-backed non-volatile store: namespaced keys with an
// explicit commit point.
type KeyValue interface {
	Get(namespace, key string) ([]byte, error)
	Put(namespace, key string, value []byte) error
	Delete(namespace, key string) error
	Clear(namespace string) error
	Commit() error
}
