// Package wifi drives the radio through connect, reconnect, provisioning,
// and offline fallback.
package wifi

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

// State is the connectivity state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateConnectionFailed
	StateReconnecting
	StateOffline
	StateSmartConfig
	StateAccessPoint
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConnectionFailed:
		return "connection_failed"
	case StateReconnecting:
		return "reconnecting"
	case StateOffline:
		return "offline"
	case StateSmartConfig:
		return "smart_config"
	case StateAccessPoint:
		return "access_point"
	default:
		return "disconnected"
	}
}

// Config holds connectivity tuning.
type Config struct {
	ConnectTimeout     time.Duration
	ReconnectInterval  time.Duration
	MaxReconnects      int
	ScanInterval       time.Duration
	SmartConfigTimeout time.Duration
	APName             string
	APPassword         string
}

// DefaultConfig returns connectivity defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     20 * time.Second,
		ReconnectInterval:  30 * time.Second,
		MaxReconnects:      5,
		ScanInterval:       30 * time.Second,
		SmartConfigTimeout: 120 * time.Second,
		APName:             "PlantCompanion-Setup",
		APPassword:         "plantcare",
	}
}

// Stats tracks connectivity history.
type Stats struct {
	Connects          int
	Disconnects       int
	ReconnectAttempts int
	FailedConnects    int
	SmartConfigRuns   int
}

// rssiWindow is the signal-strength averaging depth.
const rssiWindow = 10

const credentialNamespace = "wifi"

// Manager owns the radio state machine. Single writer, ticked by the engine.
type Manager struct {
	config Config
	radio  hal.Radio
	kv     hal.KeyValue
	clock  hal.Clock

	state        State
	enabled      bool
	ssid         string
	password     string
	attemptStart int64
	nextAttempt  int64
	reconnects   int

	lastScan  int64
	networks  []hal.Network
	rssi      [rssiWindow]int
	rssiIdx   int
	rssiFill  int
	rssiEvery int64
	lastRSSI  int64

	stats Stats

	onConnected    func(ssid, ip string)
	onDisconnected func()
	onOffline      func()
	onProvisioned  func(ssid string)
}

// New creates a manager in the disconnected state.
func New(config Config, radio hal.Radio, kv hal.KeyValue, clock hal.Clock) *Manager {
	return &Manager{
		config:    config,
		radio:     radio,
		kv:        kv,
		clock:     clock,
		enabled:   true,
		rssiEvery: 5000,
	}
}

// SetConnectedHandler registers the callback fired on a successful connect.
func (m *Manager) SetConnectedHandler(fn func(ssid, ip string)) {
	m.onConnected = fn
}

// SetDisconnectedHandler registers the link-loss callback.
func (m *Manager) SetDisconnectedHandler(fn func()) {
	m.onDisconnected = fn
}

// SetOfflineHandler registers the callback fired when reconnects are
// exhausted and the device settles into offline mode.
func (m *Manager) SetOfflineHandler(fn func()) {
	m.onOffline = fn
}

// SetProvisionedHandler registers the callback fired when SmartConfig
// delivers working credentials.
func (m *Manager) SetProvisionedHandler(fn func(ssid string)) {
	m.onProvisioned = fn
}

// State returns the connectivity state.
func (m *Manager) State() State {
	return m.state
}

// IsConnected reports whether the link is up.
func (m *Manager) IsConnected() bool {
	return m.state == StateConnected
}

// Stats returns connectivity counters.
func (m *Manager) Stats() Stats {
	return m.stats
}

// SignalStrength returns the averaged RSSI in dBm, or 0 with no samples.
func (m *Manager) SignalStrength() int {
	if m.rssiFill == 0 {
		return 0
	}
	sum := 0
	for i := 0; i < m.rssiFill; i++ {
		sum += m.rssi[i]
	}
	return sum / m.rssiFill
}

// Networks returns the latest scan results sorted by signal strength.
func (m *Manager) Networks() []hal.Network {
	out := make([]hal.Network, len(m.networks))
	copy(out, m.networks)
	return out
}

// Connect starts a connection attempt with the given credentials.
func (m *Manager) Connect(ssid, password string) error {
	if ssid == "" {
		return fmt.Errorf("wifi: empty ssid")
	}
	m.ssid = ssid
	m.password = password
	m.beginConnect()
	return nil
}

// ConnectSaved starts a connection with stored credentials.
func (m *Manager) ConnectSaved() error {
	ssid, password, err := m.LoadCredentials()
	if err != nil {
		return err
	}
	return m.Connect(ssid, password)
}

// Disconnect drops the link and stops reconnecting.
func (m *Manager) Disconnect() {
	if m.state == StateConnected {
		m.stats.Disconnects++
	}
	m.radio.Disconnect()
	m.state = StateDisconnected
	m.reconnects = 0
}

// StartSmartConfig puts the radio into provisioning mode.
func (m *Manager) StartSmartConfig() error {
	if err := m.radio.BeginSmartConfig(); err != nil {
		return fmt.Errorf("wifi: smart config: %w", err)
	}
	m.stats.SmartConfigRuns++
	m.state = StateSmartConfig
	m.attemptStart = m.clock.Millis()
	return nil
}

// StartAccessPoint opens the setup access point.
func (m *Manager) StartAccessPoint() error {
	if err := m.radio.StartAccessPoint(m.config.APName, m.config.APPassword); err != nil {
		return fmt.Errorf("wifi: access point: %w", err)
	}
	m.state = StateAccessPoint
	return nil
}

// StopAccessPoint closes the setup access point.
func (m *Manager) StopAccessPoint() {
	m.radio.StopAccessPoint()
	m.state = StateDisconnected
}

// SaveCredentials persists credentials for the next boot.
func (m *Manager) SaveCredentials(ssid, password string) error {
	if err := m.kv.Put(credentialNamespace, "ssid", []byte(ssid)); err != nil {
		return fmt.Errorf("wifi: save ssid: %w", err)
	}
	if err := m.kv.Put(credentialNamespace, "password", []byte(password)); err != nil {
		return fmt.Errorf("wifi: save password: %w", err)
	}
	return m.kv.Commit()
}

// LoadCredentials reads stored credentials.
func (m *Manager) LoadCredentials() (ssid, password string, err error) {
	s, err := m.kv.Get(credentialNamespace, "ssid")
	if err != nil {
		return "", "", fmt.Errorf("wifi: load ssid: %w", err)
	}
	p, err := m.kv.Get(credentialNamespace, "password")
	if err != nil && err != hal.ErrNotFound {
		return "", "", fmt.Errorf("wifi: load password: %w", err)
	}
	return string(s), string(p), nil
}

// ClearCredentials forgets the stored network.
func (m *Manager) ClearCredentials() error {
	if err := m.kv.Clear(credentialNamespace); err != nil {
		return fmt.Errorf("wifi: clear credentials: %w", err)
	}
	return m.kv.Commit()
}

// SetEnabled powers the radio on or off. Disabling drops the link without
// entering the reconnect cycle.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
	m.radio.SetEnabled(enabled)
	if !enabled {
		m.state = StateDisconnected
		m.reconnects = 0
	}
}

// Tick advances the state machine.
func (m *Manager) Tick() {
	now := m.clock.Millis()
	m.tickScan(now)
	switch m.state {
	case StateConnecting, StateConnectionFailed, StateReconnecting:
		m.tickConnecting(now)
	case StateConnected:
		m.tickConnected(now)
	case StateOffline:
		// A later explicit Connect or provisioning run leaves offline mode.
	case StateSmartConfig:
		m.tickSmartConfig(now)
	}
}

func (m *Manager) beginConnect() {
	if err := m.radio.Connect(m.ssid, m.password); err != nil {
		log.Printf("wifi: connect %q: %v", m.ssid, err)
		m.stats.FailedConnects++
		m.scheduleReconnect(m.clock.Millis(), StateConnectionFailed)
		return
	}
	if m.state != StateReconnecting {
		m.state = StateConnecting
	}
	m.attemptStart = m.clock.Millis()
}

func (m *Manager) tickConnecting(now int64) {
	// Waiting out the reconnect interval. The radio still reports the
	// previous attempt's status, so don't consult it until the retry.
	if m.state != StateConnecting && m.nextAttempt > 0 {
		if now >= m.nextAttempt {
			m.nextAttempt = 0
			m.stats.ReconnectAttempts++
			m.state = StateReconnecting
			m.beginConnect()
		}
		return
	}

	switch m.radio.Status() {
	case hal.RadioConnected:
		m.state = StateConnected
		m.reconnects = 0
		m.rssiFill = 0
		m.rssiIdx = 0
		m.stats.Connects++
		log.Printf("wifi: connected to %q ip=%s", m.radio.SSID(), m.radio.LocalIP())
		if m.onConnected != nil {
			m.onConnected(m.radio.SSID(), m.radio.LocalIP())
		}
	case hal.RadioFailed:
		m.stats.FailedConnects++
		m.scheduleReconnect(now, StateConnectionFailed)
	default:
		if now-m.attemptStart >= m.config.ConnectTimeout.Milliseconds() {
			m.stats.FailedConnects++
			m.radio.Disconnect()
			m.scheduleReconnect(now, StateConnectionFailed)
		}
	}
}

func (m *Manager) tickConnected(now int64) {
	if m.radio.Status() != hal.RadioConnected {
		m.stats.Disconnects++
		log.Printf("wifi: link lost")
		if m.onDisconnected != nil {
			m.onDisconnected()
		}
		m.scheduleReconnect(now, StateReconnecting)
		return
	}
	if now-m.lastRSSI >= m.rssiEvery {
		m.lastRSSI = now
		m.rssi[m.rssiIdx] = m.radio.RSSI()
		m.rssiIdx = (m.rssiIdx + 1) % rssiWindow
		if m.rssiFill < rssiWindow {
			m.rssiFill++
		}
	}
}

// tickScan refreshes the network list. Scanning needs a powered radio, not
// a link.
func (m *Manager) tickScan(now int64) {
	if !m.enabled {
		return
	}
	if now-m.lastScan < m.config.ScanInterval.Milliseconds() {
		return
	}
	m.lastScan = now
	if nets, err := m.radio.Scan(); err == nil {
		sort.Slice(nets, func(i, j int) bool { return nets[i].RSSI > nets[j].RSSI })
		m.networks = nets
	}
}

func (m *Manager) tickSmartConfig(now int64) {
	if ssid, password, ok := m.radio.SmartConfigResult(); ok {
		m.radio.StopSmartConfig()
		log.Printf("wifi: provisioned for %q", ssid)
		if err := m.SaveCredentials(ssid, password); err != nil {
			log.Printf("wifi: %v", err)
		}
		if m.onProvisioned != nil {
			m.onProvisioned(ssid)
		}
		m.ssid = ssid
		m.password = password
		m.reconnects = 0
		m.beginConnect()
		return
	}
	if now-m.attemptStart >= m.config.SmartConfigTimeout.Milliseconds() {
		m.radio.StopSmartConfig()
		log.Printf("wifi: smart config timed out")
		m.state = StateDisconnected
	}
}

// scheduleReconnect arms the next retry. A failed connect attempt waits in
// waitState so observers can tell a failure from an ordinary link drop.
func (m *Manager) scheduleReconnect(now int64, waitState State) {
	m.reconnects++
	if m.reconnects > m.config.MaxReconnects {
		m.radio.Disconnect()
		m.state = StateOffline
		log.Printf("wifi: %d reconnects failed, entering offline mode", m.config.MaxReconnects)
		if m.onOffline != nil {
			m.onOffline()
		}
		return
	}
	m.state = waitState
	m.nextAttempt = now + m.config.ReconnectInterval.Milliseconds()
}
