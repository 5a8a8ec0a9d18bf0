package protocol

import (
	"encoding/json"
	"testing"
)

func TestSealProducesValidEnvelope(t *testing.T) {
	env, err := Seal(TypeSensorData, "dev-1", 1000, SensorDataPayload{SoilMoisture: 42})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if env.Version != ProtocolVersion {
		t.Errorf("version = %d, want %d", env.Version, ProtocolVersion)
	}
	if len(env.MessageID) != 20 {
		t.Errorf("message id %q length = %d, want 20", env.MessageID, len(env.MessageID))
	}
	if err := env.Validate(1000); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateSkewWindow(t *testing.T) {
	env, _ := Seal(TypeCommand, "svc", 1_000_000, CommandPayload{Command: "celebrate"})

	tests := []struct {
		name string
		now  int64
		ok   bool
	}{
		{"exact", 1_000_000, true},
		{"stale at limit", 1_300_000, true},
		{"stale past limit", 1_300_001, false},
		{"future at limit", 700_000, true},
		{"future past limit", 699_999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.Validate(tt.now)
			if (err == nil) != tt.ok {
				t.Errorf("Validate(%d) = %v, want ok=%v", tt.now, err, tt.ok)
			}
		})
	}
}

func TestValidateRejectsTamperedPayload(t *testing.T) {
	env, _ := Seal(TypeCommand, "svc", 1000, CommandPayload{Command: "celebrate"})
	env.Payload = json.RawMessage(`{"command":"factory_reset"}`)
	if err := env.Validate(1000); err == nil {
		t.Error("tampered payload passed validation")
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	base, _ := Seal(TypeAck, "svc", 1000, AckPayload{OK: true})

	noID := base
	noID.MessageID = ""
	if err := noID.Validate(1000); err == nil {
		t.Error("missing message id passed validation")
	}

	noDevice := base
	noDevice.DeviceID = ""
	if err := noDevice.Validate(1000); err == nil {
		t.Error("missing device id passed validation")
	}

	wrongVersion := base
	wrongVersion.Version = 2
	if err := wrongVersion.Validate(1000); err == nil {
		t.Error("unsupported version passed validation")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env, _ := Seal(TypeHeartbeat, "dev-1", 5000, HeartbeatPayload{
		UptimeMs:       5000,
		BatteryPercent: 87.5,
		PlantState:     "healthy",
		FreeQueueSlots: 97,
	})

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.MessageID != env.MessageID || got.Checksum != env.Checksum {
		t.Errorf("round trip changed identity: %+v vs %+v", got, env)
	}
	if err := got.Validate(5000); err != nil {
		t.Errorf("decoded envelope invalid: %v", err)
	}

	var hb HeartbeatPayload
	if err := json.Unmarshal(got.Payload, &hb); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if hb.FreeQueueSlots != 97 {
		t.Errorf("free slots = %d, want 97", hb.FreeQueueSlots)
	}
}

func TestMessageIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newMessageID(int64(i))
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
