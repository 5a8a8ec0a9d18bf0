package alert

import (
	"testing"
	"time"

	"github.com/floralink/plant-companion/internal/hal"
)

func newTestEscalator(t *testing.T, clock *hal.FakeClock) *Escalator {
	t.Helper()
	e, err := New(Config{
		Delay:          time.Second,
		RepeatInterval: 10 * time.Second,
		SnoozeTime:     5 * time.Second,
		MaxRepeatCount: 3,
	}, clock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewRejectsZeroRepeatCount(t *testing.T) {
	if _, err := New(Config{MaxRepeatCount: 0}, hal.NewFakeClock()); err == nil {
		t.Error("expected error for zero max repeat count")
	}
}

func TestDelayedActivation(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var alerts []Info
	e.SetAlertHandler(func(info Info) { alerts = append(alerts, info) })

	e.ReportAbnormal(TypeNeedsWater, false, "soil dry")
	if e.Current().State != StatePending {
		t.Fatalf("state = %v, want pending", e.Current().State)
	}

	clock.Advance(999)
	e.Tick()
	if len(alerts) != 0 {
		t.Fatalf("alert fired %dms before delay elapsed", 1)
	}

	clock.Advance(1)
	e.Tick()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Type != TypeNeedsWater || alerts[0].State != StateActive {
		t.Errorf("alert = %+v, want active needs_water", alerts[0])
	}
}

func TestUrgentBypassesDelay(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var alerts int
	e.SetAlertHandler(func(Info) { alerts++ })

	e.ReportAbnormal(TypeCritical, true, "critically dry")
	e.Tick()
	if alerts != 1 {
		t.Errorf("alerts = %d, want 1 on the same tick", alerts)
	}
	if !e.HasActive() {
		t.Error("urgent alert should be active immediately")
	}
}

func TestRepeatBoundAndAutoAck(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var alerts, stops int
	e.SetAlertHandler(func(Info) { alerts++ })
	e.SetStopHandler(func(Info) { stops++ })

	e.ReportAbnormal(TypeNeedsWater, true, "")
	// One repeat interval per tick until the bound trips.
	for i := 0; i < 4; i++ {
		e.Tick()
		clock.Advance(10_000)
	}

	if alerts != 3 {
		t.Errorf("alerts = %d, want 3 (activation + 2 repeats)", alerts)
	}
	if stops != 1 {
		t.Errorf("stops = %d, want exactly 1", stops)
	}
	if e.Current().State != StateAcknowledged {
		t.Errorf("state = %v, want acknowledged", e.Current().State)
	}
	if e.Stats().AutoAcknowledged != 1 {
		t.Errorf("auto-acknowledged = %d, want 1", e.Stats().AutoAcknowledged)
	}
}

func TestAcknowledgeQuietsUntilSnoozeExpires(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var alerts, stops int
	e.SetAlertHandler(func(Info) { alerts++ })
	e.SetStopHandler(func(Info) { stops++ })

	e.ReportAbnormal(TypeNeedsWater, true, "")
	e.Tick()
	e.Acknowledge()

	if stops != 1 {
		t.Fatalf("stops = %d, want 1", stops)
	}
	if e.Stats().Acknowledged != 1 {
		t.Errorf("acknowledged = %d, want 1", e.Stats().Acknowledged)
	}

	// No alert activity while acknowledged.
	clock.Advance(5_000)
	e.Tick()
	if alerts != 1 {
		t.Fatalf("alerts = %d while acknowledged, want 1", alerts)
	}

	// Past the snooze window the episode re-arms and activates again
	// (urgency carries over, so activation is immediate).
	clock.Advance(1)
	e.Tick()
	if e.Current().State != StatePending {
		t.Fatalf("state = %v, want pending after snooze expiry", e.Current().State)
	}
	e.Tick()
	if alerts != 2 {
		t.Errorf("alerts = %d after re-arm, want 2", alerts)
	}
}

func TestAcknowledgeIgnoredWhenNotActive(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	e.Acknowledge()
	if e.Stats().Acknowledged != 0 {
		t.Error("acknowledge counted with no active alert")
	}

	e.ReportAbnormal(TypeNeedsWater, false, "")
	e.Acknowledge() // still pending
	if e.Current().State != StatePending {
		t.Errorf("state = %v, want pending", e.Current().State)
	}
}

func TestSnoozeSuppressesRepeats(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var stops int
	e.SetStopHandler(func(Info) { stops++ })

	e.ReportAbnormal(TypeNeedsWater, true, "")
	e.Tick()
	e.Snooze(0)

	if e.Current().State != StateSnoozed {
		t.Fatalf("state = %v, want snoozed", e.Current().State)
	}
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}

	clock.Advance(5_000)
	e.Tick()
	if e.Current().State != StateSnoozed {
		t.Errorf("state = %v, want still snoozed at snooze boundary", e.Current().State)
	}

	clock.Advance(1)
	e.Tick()
	if e.Current().State != StatePending {
		t.Errorf("state = %v, want pending after snooze", e.Current().State)
	}
}

func TestReportNormalClearsEpisode(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var stops int
	e.SetStopHandler(func(Info) { stops++ })

	e.ReportAbnormal(TypeNeedsLight, true, "")
	e.Tick()
	e.ReportNormal()

	if e.IsAlerting() {
		t.Error("alert still in progress after normal report")
	}
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	if e.Stats().Cleared != 1 {
		t.Errorf("cleared = %d, want 1", e.Stats().Cleared)
	}

	// Clearing an inactive escalator is a no-op.
	e.ReportNormal()
	if stops != 1 || e.Stats().Cleared != 1 {
		t.Error("second normal report changed counters")
	}
}

func TestDifferentTypeReplacesEpisode(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var stopped []Type
	e.SetStopHandler(func(info Info) { stopped = append(stopped, info.Type) })

	e.ReportAbnormal(TypeNeedsWater, true, "")
	e.Tick()
	e.ReportAbnormal(TypeCritical, true, "")

	if len(stopped) != 1 || stopped[0] != TypeNeedsWater {
		t.Errorf("stopped = %v, want [needs_water]", stopped)
	}
	if e.Current().Type != TypeCritical || e.Current().State != StatePending {
		t.Errorf("current = %+v, want pending critical", e.Current())
	}
}

func TestUrgencyPromotedNeverDemoted(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	e.ReportAbnormal(TypeNeedsWater, false, "")
	e.ReportAbnormal(TypeNeedsWater, true, "")
	if !e.Current().Urgent {
		t.Error("episode not promoted to urgent")
	}

	e.ReportAbnormal(TypeNeedsWater, false, "")
	if !e.Current().Urgent {
		t.Error("urgency demoted within episode")
	}
}

func TestDisableClearsAlert(t *testing.T) {
	clock := hal.NewFakeClock()
	e := newTestEscalator(t, clock)

	var stops int
	e.SetStopHandler(func(Info) { stops++ })

	e.ReportAbnormal(TypeNeedsWater, true, "")
	e.Tick()
	e.SetEnabled(false)

	if e.IsAlerting() {
		t.Error("alert survived disable")
	}
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}

	e.ReportAbnormal(TypeNeedsWater, true, "")
	if e.IsAlerting() {
		t.Error("disabled escalator accepted a report")
	}
}
