// Plant Companion
// Main entry point for the plant-care device firmware running against the
// simulated hardware layer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/floralink/plant-companion/internal/engine"
	"github.com/floralink/plant-companion/internal/hal"
	"github.com/floralink/plant-companion/internal/store"
)

// Config represents the configuration file structure
type Config struct {
	Device struct {
		Name string `yaml:"name"`
	} `yaml:"device"`

	Cloud struct {
		BaseURL      string `yaml:"base_url"`
		WebSocketURL string `yaml:"websocket_url"`
		APIKey       string `yaml:"api_key"`
	} `yaml:"cloud"`

	WiFi struct {
		SSID     string `yaml:"ssid"`
		Password string `yaml:"password"`
	} `yaml:"wifi"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Timing struct {
		SampleInterval    int `yaml:"sample_interval"`
		HeartbeatInterval int `yaml:"heartbeat_interval"`
		SyncInterval      int `yaml:"sync_interval"`
		AutoSaveInterval  int `yaml:"auto_save_interval"`
	} `yaml:"timing"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "plant-companion",
		Short: "Plant Companion firmware",
		Long:  "Coordination firmware for the plant-care companion. Samples sensors, classifies plant health, and keeps the owner and cloud informed.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the device firmware",
		RunE:  runDevice,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Plant Companion v1.0.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/floralink/companion.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

func runDevice(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Cloud.APIKey == "" {
		return fmt.Errorf("cloud.api_key is required")
	}

	// Build engine config
	engineCfg := engine.DefaultConfig()
	engineCfg.Cloud.BaseURL = cfg.Cloud.BaseURL
	engineCfg.Cloud.WebSocketURL = cfg.Cloud.WebSocketURL
	engineCfg.Cloud.APIKey = cfg.Cloud.APIKey
	engineCfg.WiFiSSID = cfg.WiFi.SSID
	engineCfg.WiFiPassword = cfg.WiFi.Password

	if cfg.Timing.SampleInterval > 0 {
		engineCfg.Sampling.Interval = secondsToDuration(cfg.Timing.SampleInterval)
	}
	if cfg.Timing.HeartbeatInterval > 0 {
		engineCfg.Messages.HeartbeatInterval = secondsToDuration(cfg.Timing.HeartbeatInterval)
	}
	if cfg.Timing.SyncInterval > 0 {
		engineCfg.Messages.SyncInterval = secondsToDuration(cfg.Timing.SyncInterval)
	}
	if cfg.Timing.AutoSaveInterval > 0 {
		engineCfg.Persist.AutoSaveInterval = secondsToDuration(cfg.Timing.AutoSaveInterval)
	}

	// Open persistent storage
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "/var/lib/floralink/companion.db"
	}
	kv, err := store.OpenNVS(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer kv.Close()

	// Create engine against the simulated hardware layer
	eng, err := engine.New(engineCfg, simulatedHardware(kv))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// Set up signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start engine
	log.Printf("Starting Plant Companion %q", cfg.Device.Name)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Wait for shutdown signal
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	// Stop engine
	if err := eng.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// simulatedHardware wires the engine to the simulation HAL. A target build
// replaces this with the real peripherals.
func simulatedHardware(kv hal.KeyValue) engine.Hardware {
	clock := hal.NewSystemClock()
	adc := hal.NewSimADC()
	adc.SetCenter(34, 1960) // moist soil
	adc.SetCenter(35, 1990) // bright room
	adc.SetCenter(36, 2358) // ~3.8 V pack
	return engine.Hardware{
		Clock: clock,
		ADC:   adc,
		Probe: hal.NewSimClimateProbe(),
		Touch: hal.NewSimTouchPad(1200),
		Strip: hal.NewSimPixelStrip(12),
		Tone:  hal.NewSimTone(),
		CPU:   hal.NewSimCPU(),
		USB:   hal.NewSimUSB(true),
		Radio: hal.NewSimRadio(),
		KV:    kv,
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
