// Package config manages the persistent device profile: identity, plant
// metadata, and feature flags set by the owner during setup.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/floralink/plant-companion/internal/hal"
)

const namespace = "device"
const profileKey = "profile"

// Profile is the owner-editable device configuration.
type Profile struct {
	DeviceID     string `json:"deviceId"`
	Name         string `json:"name"`
	PlantType    string `json:"plantType"`
	Location     string `json:"location"`
	SoundEnabled bool   `json:"soundEnabled"`
	LEDEnabled   bool   `json:"ledEnabled"`
	CloudEnabled bool   `json:"cloudEnabled"`
	IsConfigured bool   `json:"isConfigured"`
	ConfiguredAt int64  `json:"configuredAt"`
}

// defaultProfile returns an unconfigured profile with a fresh identity.
func defaultProfile() Profile {
	return Profile{
		DeviceID:     uuid.New().String(),
		Name:         "plant-companion",
		SoundEnabled: true,
		LEDEnabled:   true,
		CloudEnabled: true,
	}
}

// configModeTimeout bounds how long the device waits in setup mode.
const configModeTimeout = 5 * time.Minute

// Manager loads and stores the profile and tracks setup mode.
type Manager struct {
	kv    hal.KeyValue
	clock hal.Clock

	profile       Profile
	configMode    bool
	configModeEnd int64

	onChanged func(Profile)
}

// NewManager loads the stored profile, minting a new one on first boot.
func NewManager(kv hal.KeyValue, clock hal.Clock) (*Manager, error) {
	m := &Manager{kv: kv, clock: clock}

	raw, err := kv.Get(namespace, profileKey)
	switch {
	case err == hal.ErrNotFound:
		m.profile = defaultProfile()
		log.Printf("config: first boot, device id %s", m.profile.DeviceID)
		if err := m.save(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("config: read profile: %w", err)
	default:
		if err := json.Unmarshal(raw, &m.profile); err != nil {
			log.Printf("config: profile corrupt, regenerating: %v", err)
			m.profile = defaultProfile()
			if err := m.save(); err != nil {
				return nil, err
			}
		}
	}

	if m.profile.DeviceID == "" {
		m.profile.DeviceID = uuid.New().String()
		if err := m.save(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetChangedHandler registers the callback fired after profile updates.
func (m *Manager) SetChangedHandler(fn func(Profile)) {
	m.onChanged = fn
}

// Profile returns the current profile.
func (m *Manager) Profile() Profile {
	return m.profile
}

// DeviceID returns the stable device identity.
func (m *Manager) DeviceID() string {
	return m.profile.DeviceID
}

// IsConfigured reports whether setup has completed.
func (m *Manager) IsConfigured() bool {
	return m.profile.IsConfigured
}

// Update applies a mutation and persists. The device id cannot be changed.
func (m *Manager) Update(mutate func(*Profile)) error {
	id := m.profile.DeviceID
	mutate(&m.profile)
	m.profile.DeviceID = id
	m.profile.IsConfigured = true
	m.profile.ConfiguredAt = m.clock.Millis()
	if err := m.save(); err != nil {
		return err
	}
	if m.onChanged != nil {
		m.onChanged(m.profile)
	}
	return nil
}

// ExportJSON serializes the profile for the setup app.
func (m *Manager) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(m.profile, "", "  ")
}

// ImportJSON applies a profile document from the setup app. Unknown fields
// are ignored, the device id is kept.
func (m *Manager) ImportJSON(data []byte) error {
	incoming := m.profile
	if err := json.Unmarshal(data, &incoming); err != nil {
		return fmt.Errorf("config: import: %w", err)
	}
	return m.Update(func(p *Profile) {
		*p = incoming
	})
}

// Reset wipes the profile, keeping the device identity.
func (m *Manager) Reset() error {
	id := m.profile.DeviceID
	m.profile = defaultProfile()
	m.profile.DeviceID = id
	return m.save()
}

// EnterConfigMode opens the setup window.
func (m *Manager) EnterConfigMode() {
	m.configMode = true
	m.configModeEnd = m.clock.Millis() + configModeTimeout.Milliseconds()
}

// ExitConfigMode closes the setup window.
func (m *Manager) ExitConfigMode() {
	m.configMode = false
}

// InConfigMode reports whether the setup window is open.
func (m *Manager) InConfigMode() bool {
	return m.configMode
}

// Tick expires a stale setup window.
func (m *Manager) Tick() {
	if m.configMode && m.clock.Millis() >= m.configModeEnd {
		log.Printf("config: setup window expired")
		m.configMode = false
	}
}

func (m *Manager) save() error {
	raw, err := json.Marshal(m.profile)
	if err != nil {
		return fmt.Errorf("config: marshal profile: %w", err)
	}
	if err := m.kv.Put(namespace, profileKey, raw); err != nil {
		return fmt.Errorf("config: write profile: %w", err)
	}
	return m.kv.Commit()
}
