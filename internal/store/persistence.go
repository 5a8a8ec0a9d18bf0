// Package store persists calibration, thresholds, and plant state across
// reboots, guarding each region with a magic number and a checksum.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/health"
	"github.com/floralink/plant-companion/internal/sensor"
)

// Region magic numbers. A changed magic invalidates the region on upgrade.
const (
	magicCalibration uint32 = 0xABCD
	magicThresholds  uint32 = 0x1234
	magicState       uint32 = 0x5678
)

const regionVersion = 1

const persistNamespace = "persist"

const (
	keyCalibration = "calibration"
	keyThresholds  = "thresholds"
	keyState       = "state"
)

// minAutoSave is the floor for the auto-save interval. Flash wears out.
const minAutoSave = time.Minute

// StateSnapshot is the persisted classifier state. Its three components are
// framed as separate records inside the state region, each with its own
// checksum, so corruption in one does not take down the others.
type StateSnapshot struct {
	Status  health.Status        `json:"status"`
	History []health.StateChange `json:"history"`
	Stats   health.Stats         `json:"stats"`
}

// stateRecordCount is the number of independently checksummed records in the
// state region: current status, history ring, cumulative stats.
const stateRecordCount = 3

// Config holds persistence tuning.
type Config struct {
	AutoSaveInterval time.Duration
}

// DefaultConfig returns persistence defaults.
func DefaultConfig() Config {
	return Config{AutoSaveInterval: 5 * time.Minute}
}

// Stats tracks persistence activity.
type Stats struct {
	Saves     int
	Loads     int
	Repairs   int
	FullInits int
}

// Integrity reports per-region validity.
type Integrity struct {
	Calibration bool
	Thresholds  bool
	State       bool
}

// OK reports whether every region is intact.
func (i Integrity) OK() bool {
	return i.Calibration && i.Thresholds && i.State
}

// Persister frames region payloads and writes them through the key-value
// store. Loads self-heal: a corrupt region is rewritten with defaults.
type Persister struct {
	config Config
	kv     hal.KeyValue
	clock  hal.Clock

	snapshotFn func() StateSnapshot
	lastSave   int64
	stats      Stats
}

// NewPersister creates a persister. The auto-save interval is clamped to
// at least one minute.
func NewPersister(config Config, kv hal.KeyValue, clock hal.Clock) *Persister {
	if config.AutoSaveInterval < minAutoSave {
		config.AutoSaveInterval = minAutoSave
	}
	return &Persister{config: config, kv: kv, clock: clock}
}

// SetSnapshotSource registers the provider for periodic state saves.
func (p *Persister) SetSnapshotSource(fn func() StateSnapshot) {
	p.snapshotFn = fn
}

// Stats returns persistence counters.
func (p *Persister) Stats() Stats {
	return p.stats
}

// SaveCalibration writes the calibration region.
func (p *Persister) SaveCalibration(c sensor.Calibration) error {
	return p.saveRegion(keyCalibration, magicCalibration, c)
}

// LoadCalibration reads the calibration region. A missing or corrupt region
// is rewritten with defaults and the defaults are returned.
func (p *Persister) LoadCalibration() (sensor.Calibration, error) {
	var c sensor.Calibration
	if err := p.loadRegion(keyCalibration, magicCalibration, &c); err != nil {
		c = sensor.DefaultCalibration()
		if rerr := p.repairRegion(keyCalibration, magicCalibration, c, err); rerr != nil {
			return c, rerr
		}
		return c, nil
	}
	if err := c.Validate(); err != nil {
		c = sensor.DefaultCalibration()
		if rerr := p.repairRegion(keyCalibration, magicCalibration, c, err); rerr != nil {
			return c, rerr
		}
	}
	return c, nil
}

// SaveThresholds writes the thresholds region.
func (p *Persister) SaveThresholds(t health.Thresholds) error {
	return p.saveRegion(keyThresholds, magicThresholds, t)
}

// LoadThresholds reads the thresholds region, self-healing like
// LoadCalibration.
func (p *Persister) LoadThresholds() (health.Thresholds, error) {
	var t health.Thresholds
	if err := p.loadRegion(keyThresholds, magicThresholds, &t); err != nil {
		t = health.DefaultThresholds()
		if rerr := p.repairRegion(keyThresholds, magicThresholds, t, err); rerr != nil {
			return t, rerr
		}
		return t, nil
	}
	if err := t.Validate(); err != nil {
		t = health.DefaultThresholds()
		if rerr := p.repairRegion(keyThresholds, magicThresholds, t, err); rerr != nil {
			return t, rerr
		}
	}
	return t, nil
}

// SaveState writes the classifier snapshot region.
func (p *Persister) SaveState(s StateSnapshot) error {
	blob, err := frameState(s)
	if err != nil {
		return err
	}
	if err := p.kv.Put(persistNamespace, keyState, blob); err != nil {
		return fmt.Errorf("store: write %s: %w", keyState, err)
	}
	if err := p.kv.Commit(); err != nil {
		return fmt.Errorf("store: commit %s: %w", keyState, err)
	}
	p.stats.Saves++
	return nil
}

// LoadState reads the classifier snapshot. A corrupt record is restored to
// its zero value and rewritten while intact neighbors survive a reboot; only
// when the region header is damaged or every record fails does the whole
// region reinitialize.
func (p *Persister) LoadState() (StateSnapshot, error) {
	var s StateSnapshot
	blob, err := p.kv.Get(persistNamespace, keyState)
	if err != nil {
		if rerr := p.repairState(s, fmt.Errorf("store: read %s: %w", keyState, err)); rerr != nil {
			return s, rerr
		}
		return s, nil
	}
	bad, err := unframeState(blob, &s)
	if err != nil || len(bad) == stateRecordCount {
		if err == nil {
			err = fmt.Errorf("store: %s: every record corrupt", keyState)
		}
		s = StateSnapshot{}
		if rerr := p.repairState(s, err); rerr != nil {
			return s, rerr
		}
		return s, nil
	}
	if len(bad) > 0 {
		for _, cause := range bad {
			log.Printf("store: state %s, restoring record defaults", cause)
		}
		p.stats.Repairs++
		if rerr := p.SaveState(s); rerr != nil {
			return s, rerr
		}
		return s, nil
	}
	p.stats.Loads++
	return s, nil
}

func (p *Persister) repairState(s StateSnapshot, cause error) error {
	if cause != nil {
		log.Printf("store: %s invalid, restoring defaults: %v", keyState, cause)
	}
	p.stats.Repairs++
	return p.SaveState(s)
}

// VerifyIntegrity checks every region without modifying anything.
func (p *Persister) VerifyIntegrity() Integrity {
	var probe json.RawMessage
	return Integrity{
		Calibration: p.loadRegion(keyCalibration, magicCalibration, &probe) == nil,
		Thresholds:  p.loadRegion(keyThresholds, magicThresholds, &probe) == nil,
		State:       p.stateIntact(),
	}
}

func (p *Persister) stateIntact() bool {
	blob, err := p.kv.Get(persistNamespace, keyState)
	if err != nil {
		return false
	}
	var s StateSnapshot
	bad, err := unframeState(blob, &s)
	return err == nil && len(bad) == 0
}

// Repair rewrites every corrupt region with defaults. When all three are
// gone the namespace is cleared first, matching a factory reset.
func (p *Persister) Repair() error {
	integ := p.VerifyIntegrity()
	if !integ.Calibration && !integ.Thresholds && !integ.State {
		log.Printf("store: all regions corrupt, reinitializing")
		p.stats.FullInits++
		if err := p.kv.Clear(persistNamespace); err != nil {
			return fmt.Errorf("store: clear: %w", err)
		}
	}
	if !integ.Calibration {
		if err := p.repairRegion(keyCalibration, magicCalibration, sensor.DefaultCalibration(), nil); err != nil {
			return err
		}
	}
	if !integ.Thresholds {
		if err := p.repairRegion(keyThresholds, magicThresholds, health.DefaultThresholds(), nil); err != nil {
			return err
		}
	}
	if !integ.State {
		// LoadState heals record by record, keeping whatever survived.
		if _, err := p.LoadState(); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll wipes every persisted region.
func (p *Persister) ClearAll() error {
	if err := p.kv.Clear(persistNamespace); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return p.kv.Commit()
}

// Tick performs the periodic state save.
func (p *Persister) Tick() {
	if p.snapshotFn == nil {
		return
	}
	now := p.clock.Millis()
	if now-p.lastSave < p.config.AutoSaveInterval.Milliseconds() {
		return
	}
	p.lastSave = now
	if err := p.SaveState(p.snapshotFn()); err != nil {
		log.Printf("store: auto-save: %v", err)
	}
}

func (p *Persister) saveRegion(key string, magic uint32, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	blob := frame(magic, payload)
	if err := p.kv.Put(persistNamespace, key, blob); err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	if err := p.kv.Commit(); err != nil {
		return fmt.Errorf("store: commit %s: %w", key, err)
	}
	p.stats.Saves++
	return nil
}

func (p *Persister) loadRegion(key string, magic uint32, out interface{}) error {
	blob, err := p.kv.Get(persistNamespace, key)
	if err != nil {
		return fmt.Errorf("store: read %s: %w", key, err)
	}
	payload, err := unframe(magic, blob)
	if err != nil {
		return fmt.Errorf("store: %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("store: decode %s: %w", key, err)
	}
	p.stats.Loads++
	return nil
}

func (p *Persister) repairRegion(key string, magic uint32, defaults interface{}, cause error) error {
	if cause != nil {
		log.Printf("store: %s invalid, restoring defaults: %v", key, cause)
	}
	p.stats.Repairs++
	return p.saveRegion(key, magic, defaults)
}

// frame lays out magic, version, length, payload, checksum. All integers are
// little endian. The checksum covers the payload bytes only.
func frame(magic uint32, payload []byte) []byte {
	blob := make([]byte, 4+1+4+len(payload)+4)
	binary.LittleEndian.PutUint32(blob[0:4], magic)
	blob[4] = regionVersion
	binary.LittleEndian.PutUint32(blob[5:9], uint32(len(payload)))
	copy(blob[9:], payload)
	binary.LittleEndian.PutUint32(blob[9+len(payload):], Checksum(payload))
	return blob
}

// frameState lays out magic, version, then one length-prefixed record per
// state component. Each record carries its own checksum.
func frameState(s StateSnapshot) ([]byte, error) {
	parts := []struct {
		name  string
		value interface{}
	}{
		{"status", s.Status},
		{"history", s.History},
		{"stats", s.Stats},
	}
	blob := make([]byte, 5)
	binary.LittleEndian.PutUint32(blob[0:4], magicState)
	blob[4] = regionVersion
	var word [4]byte
	for _, part := range parts {
		payload, err := json.Marshal(part.value)
		if err != nil {
			return nil, fmt.Errorf("store: marshal state %s: %w", part.name, err)
		}
		binary.LittleEndian.PutUint32(word[:], uint32(len(payload)))
		blob = append(blob, word[:]...)
		blob = append(blob, payload...)
		binary.LittleEndian.PutUint32(word[:], Checksum(payload))
		blob = append(blob, word[:]...)
	}
	return blob, nil
}

// unframeState decodes the state region into s. Records are validated
// independently. A corrupt record leaves its field at the zero value and is
// reported in bad; header or layout damage fails the whole region.
func unframeState(blob []byte, s *StateSnapshot) (bad []string, err error) {
	if len(blob) < 5 {
		return nil, fmt.Errorf("region too short: %d bytes", len(blob))
	}
	if got := binary.LittleEndian.Uint32(blob[0:4]); got != magicState {
		return nil, fmt.Errorf("bad magic %#x, want %#x", got, magicState)
	}
	if blob[4] != regionVersion {
		return nil, fmt.Errorf("unsupported region version %d", blob[4])
	}
	records := []struct {
		name   string
		decode func([]byte) error
	}{
		{"status", func(b []byte) error {
			var v health.Status
			if derr := json.Unmarshal(b, &v); derr != nil {
				return derr
			}
			s.Status = v
			return nil
		}},
		{"history", func(b []byte) error {
			var v []health.StateChange
			if derr := json.Unmarshal(b, &v); derr != nil {
				return derr
			}
			s.History = v
			return nil
		}},
		{"stats", func(b []byte) error {
			var v health.Stats
			if derr := json.Unmarshal(b, &v); derr != nil {
				return derr
			}
			s.Stats = v
			return nil
		}},
	}
	rest := blob[5:]
	for _, rec := range records {
		if len(rest) < 8 {
			return nil, fmt.Errorf("state %s: record truncated", rec.name)
		}
		length := int(binary.LittleEndian.Uint32(rest[0:4]))
		if length < 0 || length > len(rest)-8 {
			return nil, fmt.Errorf("state %s: length %d exceeds region", rec.name, length)
		}
		payload := rest[4 : 4+length]
		want := binary.LittleEndian.Uint32(rest[4+length : 8+length])
		rest = rest[8+length:]
		if got := Checksum(payload); got != want {
			bad = append(bad, fmt.Sprintf("%s: checksum mismatch: %#x != %#x", rec.name, got, want))
			continue
		}
		if derr := rec.decode(payload); derr != nil {
			bad = append(bad, fmt.Sprintf("%s: decode: %v", rec.name, derr))
		}
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after state records", len(rest))
	}
	return bad, nil
}

func unframe(magic uint32, blob []byte) ([]byte, error) {
	if len(blob) < 13 {
		return nil, fmt.Errorf("region too short: %d bytes", len(blob))
	}
	if got := binary.LittleEndian.Uint32(blob[0:4]); got != magic {
		return nil, fmt.Errorf("bad magic %#x, want %#x", got, magic)
	}
	if blob[4] != regionVersion {
		return nil, fmt.Errorf("unsupported region version %d", blob[4])
	}
	length := int(binary.LittleEndian.Uint32(blob[5:9]))
	if len(blob) != 9+length+4 {
		return nil, fmt.Errorf("length mismatch: header says %d, blob has %d", length, len(blob)-13)
	}
	payload := blob[9 : 9+length]
	want := binary.LittleEndian.Uint32(blob[9+length:])
	if got := Checksum(payload); got != want {
		return nil, fmt.Errorf("checksum mismatch: %#x != %#x", got, want)
	}
	return payload, nil
}
