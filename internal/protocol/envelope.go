// Package protocol defines the JSON message envelope exchanged between the
// device and the cloud service.
package protocol

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
)

// ProtocolVersion is carried in every envelope.
const ProtocolVersion = 1

// MaxClockSkewMs is the accepted timestamp skew on inbound messages.
const MaxClockSkewMs = 300000

// Message types.
const (
	TypeSensorData  = 1
	TypeStateChange = 2
	TypeAlert       = 3
	TypeHeartbeat   = 4
	TypeSync        = 5
	TypeCommand     = 6
	TypeConfig      = 7
	TypeAck         = 8
)

// TypeName returns a readable name for logging.
func TypeName(t int) string {
	switch t {
	case TypeSensorData:
		return "sensor_data"
	case TypeStateChange:
		return "state_change"
	case TypeAlert:
		return "alert"
	case TypeHeartbeat:
		return "heartbeat"
	case TypeSync:
		return "sync"
	case TypeCommand:
		return "command"
	case TypeConfig:
		return "config"
	case TypeAck:
		return "ack"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Envelope wraps every message on the wire. Checksum is the MD5 hex digest
// of the raw payload bytes.
type Envelope struct {
	MessageID string          `json:"messageId"`
	Type      int             `json:"type"`
	DeviceID  string          `json:"deviceId"`
	Timestamp int64           `json:"timestamp"`
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope builds a sealed envelope around an already-marshaled payload.
func NewEnvelope(msgType int, deviceID string, nowMs int64, payload []byte) Envelope {
	return Envelope{
		MessageID: newMessageID(nowMs),
		Type:      msgType,
		DeviceID:  deviceID,
		Timestamp: nowMs,
		Version:   ProtocolVersion,
		Checksum:  PayloadChecksum(payload),
		Payload:   payload,
	}
}

// Seal marshals a payload value and wraps it.
func Seal(msgType int, deviceID string, nowMs int64, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	return NewEnvelope(msgType, deviceID, nowMs, raw), nil
}

// PayloadChecksum returns the MD5 hex digest of the payload bytes.
func PayloadChecksum(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])
}

// Validate checks an inbound envelope against the local clock. An envelope
// with a stale or future timestamp beyond the skew limit is rejected.
func (e *Envelope) Validate(nowMs int64) error {
	if e.MessageID == "" {
		return fmt.Errorf("protocol: missing message id")
	}
	if e.DeviceID == "" {
		return fmt.Errorf("protocol: missing device id")
	}
	if e.Version != ProtocolVersion {
		return fmt.Errorf("protocol: unsupported version %d", e.Version)
	}
	skew := nowMs - e.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkewMs {
		return fmt.Errorf("protocol: timestamp skew %dms exceeds %dms", skew, int64(MaxClockSkewMs))
	}
	if e.Checksum != PayloadChecksum(e.Payload) {
		return fmt.Errorf("protocol: checksum mismatch")
	}
	return nil
}

// Encode marshals the envelope for transmission.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a raw envelope without validating it.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	return &e, nil
}

// newMessageID combines random bits with the clock so ids stay unique across
// reboots even without persistent counters.
func newMessageID(nowMs int64) string {
	return fmt.Sprintf("%08x%012x", rand.Uint32(), nowMs&0xFFFFFFFFFFFF)
}

// SensorDataPayload is the periodic sensor report.
type SensorDataPayload struct {
	SoilMoisture float64 `json:"soilMoisture"`
	AirHumidity  float64 `json:"airHumidity"`
	Temperature  float64 `json:"temperature"`
	Light        float64 `json:"light"`
	Timestamp    int64   `json:"timestamp"`
}

// StateChangePayload reports a health state transition.
type StateChangePayload struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Score    int    `json:"score"`
	Cause    string `json:"cause"`
}

// AlertPayload reports alert activity.
type AlertPayload struct {
	AlertType   string `json:"alertType"`
	State       string `json:"state"`
	Message     string `json:"message"`
	RepeatCount int    `json:"repeatCount"`
	Urgent      bool   `json:"urgent"`
}

// HeartbeatPayload is the periodic liveness report.
type HeartbeatPayload struct {
	UptimeMs       int64   `json:"uptimeMs"`
	BatteryPercent float64 `json:"batteryPercent"`
	WiFiRSSI       int     `json:"wifiRssi"`
	PlantState     string  `json:"plantState"`
	FreeQueueSlots int     `json:"freeQueueSlots"`
}

// SyncPayload carries the device snapshot for periodic synchronization.
type SyncPayload struct {
	PlantState  string  `json:"plantState"`
	HealthScore int     `json:"healthScore"`
	AlertActive bool    `json:"alertActive"`
	Battery     float64 `json:"battery"`
	SampleCount int     `json:"sampleCount"`
}

// CommandPayload is an inbound instruction from the service.
type CommandPayload struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// AckPayload acknowledges an inbound message.
type AckPayload struct {
	AckedMessageID string `json:"ackedMessageId"`
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
}
