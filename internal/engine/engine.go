// Package engine wires every subsystem together and runs the cooperative
// tick loop. All component state is owned by the loop goroutine; the only
// crossings are the cloud read loop (bridged through a channel) and the
// public snapshot accessors.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/floralink/plant-companion/internal/alert"
	"github.com/floralink/plant-companion/internal/cloud"
	"github.com/floralink/plant-companion/internal/config"
	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/health"
	"github.com/floralink/plant-companion/internal/led"
	"github.com/floralink/plant-companion/internal/mediator"
	"github.com/floralink/plant-companion/internal/message"
	"github.com/floralink/plant-companion/internal/pipeline"
	"github.com/floralink/plant-companion/internal/power"
	"github.com/floralink/plant-companion/internal/protocol"
	"github.com/floralink/plant-companion/internal/sensor"
	"github.com/floralink/plant-companion/internal/sound"
	"github.com/floralink/plant-companion/internal/store"
	"github.com/floralink/plant-companion/internal/touch"
	"github.com/floralink/plant-companion/internal/wifi"
)

// Hardware groups the platform interfaces the engine needs.
type Hardware struct {
	Clock hal.Clock
	ADC   hal.ADC
	Probe hal.ClimateProbe
	Touch hal.TouchPad
	Strip hal.PixelStrip
	Tone  hal.ToneOutput
	CPU   hal.CPU
	USB   hal.USBSense
	Radio hal.Radio
	KV    hal.KeyValue
}

// Config holds engine configuration
type Config struct {
	TickInterval time.Duration

	Sensor    sensor.Config
	Sampling  pipeline.Config
	Alert     alert.Config
	Touch     touch.Config
	Power     power.Config
	PowerSave power.AdapterConfig
	Mediator  mediator.Config
	WiFi      wifi.Config
	Cloud     cloud.Config
	Messages  message.Config
	Persist   store.Config

	WiFiSSID     string
	WiFiPassword string

	FirmwareVersion string
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:    50 * time.Millisecond,
		Sensor:          sensor.DefaultConfig(),
		Sampling:        pipeline.DefaultConfig(),
		Alert:           alert.DefaultConfig(),
		Touch:           touch.DefaultConfig(),
		Power:           power.DefaultConfig(),
		PowerSave:       power.DefaultAdapterConfig(),
		Mediator:        mediator.DefaultConfig(),
		WiFi:            wifi.DefaultConfig(),
		Cloud:           cloud.DefaultConfig(),
		Messages:        message.DefaultConfig(),
		Persist:         store.DefaultConfig(),
		FirmwareVersion: "1.0.0",
	}
}

// Engine owns every subsystem and steps them in a fixed order each tick.
type Engine struct {
	config Config
	hw     Hardware
	clock  hal.Clock

	sensors    *sensor.Manager
	sampler    *pipeline.Collector
	classifier *health.Classifier
	escalator  *alert.Escalator
	leds       *led.Controller
	snd        *sound.Player
	med        *mediator.Mediator
	touch      *touch.Sensor
	battery    *power.Manager
	saver      *power.Adapter
	wifi       *wifi.Manager
	cloud      *cloud.Client
	messages   *message.Pipeline
	persister  *store.Persister
	profile    *config.Manager
	startup    *StartupSequence

	inbound  chan *protocol.Envelope
	stopChan chan struct{}
	wg       sync.WaitGroup
	startMs  int64
}

// New builds the full subsystem graph. Nothing runs until Start.
func New(cfg Config, hw Hardware) (*Engine, error) {
	e := &Engine{
		config:   cfg,
		hw:       hw,
		clock:    hw.Clock,
		inbound:  make(chan *protocol.Envelope, 32),
		stopChan: make(chan struct{}),
	}

	var err error
	e.sensors, err = sensor.New(cfg.Sensor, hw.ADC, hw.Probe, hw.Clock)
	if err != nil {
		return nil, fmt.Errorf("sensor manager: %w", err)
	}
	e.sampler, err = pipeline.New(cfg.Sampling, e.sensors, hw.Clock)
	if err != nil {
		return nil, fmt.Errorf("sample pipeline: %w", err)
	}
	e.classifier = health.New(hw.Clock)
	e.escalator, err = alert.New(cfg.Alert, hw.Clock)
	if err != nil {
		return nil, fmt.Errorf("alert escalator: %w", err)
	}
	e.leds = led.New(hw.Strip, hw.Clock)
	e.snd = sound.New(hw.Tone, hw.Clock)
	e.med = mediator.New(cfg.Mediator, e.leds, e.snd, hw.Clock)
	e.touch, err = touch.New(cfg.Touch, hw.Touch, hw.Clock)
	if err != nil {
		return nil, fmt.Errorf("touch sensor: %w", err)
	}
	e.battery, err = power.New(cfg.Power, hw.ADC, hw.USB, hw.Clock)
	if err != nil {
		return nil, fmt.Errorf("power manager: %w", err)
	}
	e.saver = power.NewAdapter(cfg.PowerSave, hw.CPU, hw.Clock)
	e.wifi = wifi.New(cfg.WiFi, hw.Radio, hw.KV, hw.Clock)
	e.persister = store.NewPersister(cfg.Persist, hw.KV, hw.Clock)

	e.profile, err = config.NewManager(hw.KV, hw.Clock)
	if err != nil {
		return nil, fmt.Errorf("device profile: %w", err)
	}

	cloudCfg := cfg.Cloud
	cloudCfg.DeviceID = e.profile.DeviceID()
	e.cloud = cloud.New(cloudCfg)

	msgCfg := cfg.Messages
	msgCfg.DeviceID = e.profile.DeviceID()
	e.messages, err = message.New(msgCfg,
		&wsTransport{e.cloud}, &restTransport{e.cloud}, hw.Clock)
	if err != nil {
		return nil, fmt.Errorf("message pipeline: %w", err)
	}

	e.startup = NewStartupSequence(e)
	e.wire()
	return e, nil
}

// wire connects the one-way event flow between components.
func (e *Engine) wire() {
	e.sampler.SetSampleHandler(e.handleSample)

	e.escalator.SetAlertHandler(func(info alert.Info) {
		e.med.OnAlert(info)
		e.publishAlert(info)
	})
	e.escalator.SetStopHandler(func(info alert.Info) {
		e.med.OnAlertStop()
		e.publishAlert(info)
	})

	e.touch.SetTouchHandler(func(ev touch.Event) {
		e.med.OnTouch(ev)
	})
	e.med.SetAcknowledgeHandler(func() {
		e.escalator.Acknowledge()
	})
	e.med.SetRecalibrateHandler(e.recalibrate)

	e.battery.SetLowBatteryHandler(func(s power.Status) {
		urgent := s.Percent <= e.config.Power.CriticalThreshold
		e.escalator.ReportAbnormal(alert.TypeLowBattery, urgent,
			fmt.Sprintf("battery at %.0f%%", s.Percent))
	})
	e.battery.SetModeChangeHandler(func(old, new power.Mode) {
		log.Printf("engine: power mode %s -> %s", old, new)
	})

	e.saver.SetSamplingIntervalHandler(func(d time.Duration) {
		e.sampler.SetInterval(d)
	})
	e.saver.SetLEDBrightnessHandler(func(v uint8) {
		e.leds.SetBrightness(v)
	})
	e.saver.SetSoundEnabledHandler(func(on bool) {
		e.snd.SetEnabled(on && e.profile.Profile().SoundEnabled)
	})
	e.saver.SetWiFiEnabledHandler(func(on bool) {
		e.wifi.SetEnabled(on)
	})

	e.wifi.SetOfflineHandler(func() {
		log.Printf("engine: connectivity lost, continuing standalone")
	})
	e.wifi.SetProvisionedHandler(func(ssid string) {
		e.med.Celebrate()
	})

	e.cloud.SetMessageCallback(func(env *protocol.Envelope) {
		select {
		case e.inbound <- env:
		default:
			log.Printf("engine: inbound queue full, dropping %s", env.MessageID)
		}
	})

	e.messages.SetHeartbeatSource(e.heartbeatSnapshot)
	e.messages.SetSyncSource(e.syncSnapshot)
	e.messages.SetCommandHandler(e.handleCommand)
	e.messages.SetConfigHandler(func(raw json.RawMessage) {
		if err := e.profile.ImportJSON(raw); err != nil {
			log.Printf("engine: config update: %v", err)
		}
	})

	e.persister.SetSnapshotSource(func() store.StateSnapshot {
		return store.StateSnapshot{
			Status:  e.classifier.CurrentStatus(),
			History: e.classifier.History(),
			Stats:   e.classifier.Stats(),
		}
	})

	e.profile.SetChangedHandler(func(p config.Profile) {
		e.leds.SetEnabled(p.LEDEnabled)
		e.snd.SetEnabled(p.SoundEnabled)
	})
}

// Start runs the startup sequence and launches the tick loop.
func (e *Engine) Start(ctx context.Context) error {
	e.startMs = e.clock.Millis()

	if err := e.startup.Run(); err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	if err := e.cloud.Start(ctx); err != nil {
		return fmt.Errorf("cloud client: %w", err)
	}

	e.sampler.Start(e.config.Sampling.Interval)

	e.wg.Add(1)
	go e.run(ctx)

	log.Println("Engine started")
	return nil
}

// Stop halts the loop, flushes state, and shuts the cloud link down.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	if err := e.persister.SaveState(store.StateSnapshot{
		Status:  e.classifier.CurrentStatus(),
		History: e.classifier.History(),
		Stats:   e.classifier.Stats(),
	}); err != nil {
		log.Printf("Error saving state: %v", err)
	}

	if err := e.cloud.Stop(); err != nil {
		log.Printf("Error stopping cloud client: %v", err)
	}
	e.med.EnterSleep()

	log.Println("Engine stopped")
	return nil
}

// run is the tick loop. Every subsystem is stepped in a fixed order so the
// data flow within one tick is always sensors -> classification -> alerts ->
// output -> messaging -> persistence.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// Tick runs one scheduler pass. Exported for the simulation harness.
func (e *Engine) Tick() {
	e.tick()
}

func (e *Engine) tick() {
	e.battery.Tick()
	e.saver.Tick(e.battery.Status())

	e.sampler.Tick()
	e.escalator.Tick()
	e.med.Tick()
	e.touch.Tick()
	e.wifi.Tick()

	e.drainInbound()
	e.messages.Tick(e.online())

	e.profile.Tick()
	e.persister.Tick()

	e.leds.Tick()
	e.snd.Tick()
}

func (e *Engine) online() bool {
	return e.wifi.IsConnected() && e.cloud.IsConnected()
}

func (e *Engine) drainInbound() {
	for {
		select {
		case env := <-e.inbound:
			e.messages.HandleInbound(env)
		default:
			return
		}
	}
}

// handleSample runs classification on each fresh sample and fans the result
// out to alerts and messaging.
func (e *Engine) handleSample(s sensor.Sample) {
	prev := e.classifier.CurrentStatus().State
	status := e.classifier.Evaluate(s)

	if err := e.messages.Publish(protocol.TypeSensorData, protocol.SensorDataPayload{
		SoilMoisture: s.SoilMoisture,
		AirHumidity:  s.AirHumidity,
		Temperature:  s.Temperature,
		Light:        s.Light,
		Timestamp:    s.Timestamp,
	}, false); err != nil {
		log.Printf("engine: publish sample: %v", err)
	}

	if status.State != prev {
		chs := e.classifier.History()
		if len(chs) > 0 {
			e.med.OnStateChange(chs[0])
			e.messages.Publish(protocol.TypeStateChange, protocol.StateChangePayload{
				Previous: prev.String(),
				Current:  status.State.String(),
				Score:    status.Score,
				Cause:    chs[0].Cause,
			}, status.State == health.StateCritical)
		}
	}

	if status.NeedsAttention {
		e.escalator.ReportAbnormal(alertTypeFor(status.State),
			status.State == health.StateCritical, status.Message)
	} else {
		e.escalator.ReportNormal()
	}

	if !e.sensors.IsWorking() {
		e.escalator.ReportAbnormal(alert.TypeSensorError, false, "sensor failure")
	}
}

func alertTypeFor(state health.PlantState) alert.Type {
	switch state {
	case health.StateNeedsWater:
		return alert.TypeNeedsWater
	case health.StateNeedsLight:
		return alert.TypeNeedsLight
	case health.StateCritical:
		return alert.TypeCritical
	default:
		return alert.TypeNone
	}
}

func (e *Engine) publishAlert(info alert.Info) {
	err := e.messages.Publish(protocol.TypeAlert, protocol.AlertPayload{
		AlertType:   info.Type.String(),
		State:       info.State.String(),
		Message:     info.Message,
		RepeatCount: info.RepeatCount,
		Urgent:      info.Urgent,
	}, true)
	if err != nil {
		log.Printf("engine: publish alert: %v", err)
	}
}

// recalibrate reruns touch and soil baselines after a long hold.
func (e *Engine) recalibrate() {
	if err := e.touch.Calibrate(); err != nil {
		log.Printf("engine: touch calibration: %v", err)
	}
	if err := e.sensors.AutoCalibrateSoil(true); err != nil {
		log.Printf("engine: soil calibration: %v", err)
	}
	if err := e.persister.SaveCalibration(e.sensors.Calibration()); err != nil {
		log.Printf("engine: save calibration: %v", err)
	}
}

func (e *Engine) heartbeatSnapshot() protocol.HeartbeatPayload {
	return protocol.HeartbeatPayload{
		UptimeMs:       e.clock.Millis() - e.startMs,
		BatteryPercent: e.battery.Status().Percent,
		WiFiRSSI:       e.wifi.SignalStrength(),
		PlantState:     e.classifier.CurrentStatus().State.String(),
		FreeQueueSlots: e.messages.FreeSlots(),
	}
}

func (e *Engine) syncSnapshot() protocol.SyncPayload {
	status := e.classifier.CurrentStatus()
	return protocol.SyncPayload{
		PlantState:  status.State.String(),
		HealthScore: status.Score,
		AlertActive: e.escalator.IsAlerting(),
		Battery:     e.battery.Status().Percent,
		SampleCount: e.sampler.Len(),
	}
}

// handleCommand executes service-side instructions.
func (e *Engine) handleCommand(cmd protocol.CommandPayload) {
	log.Printf("engine: command %q", cmd.Command)
	switch cmd.Command {
	case "acknowledge_alert":
		e.escalator.Acknowledge()
	case "snooze_alert":
		var args struct {
			Minutes int `json:"minutes"`
		}
		json.Unmarshal(cmd.Args, &args)
		e.escalator.Snooze(time.Duration(args.Minutes) * time.Minute)
	case "celebrate":
		e.med.Celebrate()
	case "calibrate":
		e.recalibrate()
	case "set_thresholds":
		var t health.Thresholds
		if err := json.Unmarshal(cmd.Args, &t); err != nil {
			log.Printf("engine: set_thresholds: %v", err)
			return
		}
		if err := e.classifier.SetThresholds(t); err != nil {
			log.Printf("engine: set_thresholds: %v", err)
			return
		}
		if err := e.persister.SaveThresholds(t); err != nil {
			log.Printf("engine: save thresholds: %v", err)
		}
	case "force_power_level":
		var args struct {
			Level int `json:"level"`
		}
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			log.Printf("engine: force_power_level: %v", err)
			return
		}
		e.saver.ForceLevel(power.Level(args.Level))
	case "exit_forced_power":
		e.saver.ExitForcedMode()
	case "force_sample":
		e.handleSample(e.sampler.Force())
	case "factory_reset":
		if err := e.persister.ClearAll(); err != nil {
			log.Printf("engine: factory reset: %v", err)
		}
		if err := e.profile.Reset(); err != nil {
			log.Printf("engine: factory reset: %v", err)
		}
	default:
		log.Printf("engine: unknown command %q", cmd.Command)
	}
}

// Health returns the current classification, for status surfaces.
func (e *Engine) Health() health.Status {
	return e.classifier.CurrentStatus()
}

// Battery returns the current battery snapshot.
func (e *Engine) Battery() power.Status {
	return e.battery.Status()
}

// wsTransport delivers envelopes over the WebSocket channel.
type wsTransport struct {
	client *cloud.Client
}

func (t *wsTransport) Send(env *protocol.Envelope) error {
	return t.client.SendWebSocket(env)
}

func (t *wsTransport) Name() string { return "websocket" }

// restTransport delivers envelopes over the REST API.
type restTransport struct {
	client *cloud.Client
}

func (t *restTransport) Send(env *protocol.Envelope) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return t.client.PostMessage(ctx, env)
}

func (t *restTransport) Name() string { return "rest" }
