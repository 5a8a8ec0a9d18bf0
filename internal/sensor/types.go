// Package sensor reads the environmental peripherals: soil moisture and
// light through the ADC, temperature and humidity through the one-wire
// probe. Readings are median-filtered and validated; failing sensors
// degrade to carrying the last valid value through.
package sensor

// Valid ranges. A sample with any field outside these is invalid.
const (
	SoilMoistureMin = 0.0
	SoilMoistureMax = 100.0
	AirHumidityMin  = 0.0
	AirHumidityMax  = 100.0
	TemperatureMin  = -40.0
	TemperatureMax  = 80.0
	LightMin        = 0.0
	LightMax        = 50000.0
)

// Sample is one complete environmental reading.
type Sample struct {
	Timestamp    int64   `json:"timestamp"` // monotonic ms
	SoilMoisture float64 `json:"soil_moisture"`
	AirHumidity  float64 `json:"air_humidity"`
	Temperature  float64 `json:"temperature"`
	Light        float64 `json:"light"`
	Valid        bool    `json:"valid"`
}

// InRange reports whether every field is within its sensor range.
func (s Sample) InRange() bool {
	return s.SoilMoisture >= SoilMoistureMin && s.SoilMoisture <= SoilMoistureMax &&
		s.AirHumidity >= AirHumidityMin && s.AirHumidity <= AirHumidityMax &&
		s.Temperature >= TemperatureMin && s.Temperature <= TemperatureMax &&
		s.Light >= LightMin && s.Light <= LightMax
}

// Calibration holds per-sensor raw conversion anchors. For any sensor the
// upper raw anchor must be strictly greater than the lower one.
type Calibration struct {
	SoilWetRaw     int     `json:"soil_wet_raw"`  // raw value in water
	SoilDryRaw     int     `json:"soil_dry_raw"`  // raw value in air
	LightDarkRaw   int     `json:"light_dark_raw"`
	LightBrightRaw int     `json:"light_bright_raw"`
	MaxLux         float64 `json:"max_lux"` // lux at LightBrightRaw
	TempOffset     float64 `json:"temp_offset"`
	Calibrated     bool    `json:"calibrated"`
}

// DefaultCalibration returns factory anchors for an uncalibrated probe.
func DefaultCalibration() Calibration {
	return Calibration{
		SoilWetRaw:     1200,
		SoilDryRaw:     3100,
		LightDarkRaw:   80,
		LightBrightRaw: 3900,
		MaxLux:         50000,
		TempOffset:     0,
		Calibrated:     false,
	}
}

// Validate checks the strict ordering invariants.
func (c Calibration) Validate() error {
	if c.SoilDryRaw <= c.SoilWetRaw {
		return errOrdering("soil", c.SoilWetRaw, c.SoilDryRaw)
	}
	if c.LightBrightRaw <= c.LightDarkRaw {
		return errOrdering("light", c.LightDarkRaw, c.LightBrightRaw)
	}
	if c.MaxLux <= 0 {
		return errMaxLux(c.MaxLux)
	}
	return nil
}

// Status describes one sensor's health.
type Status int

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusError {
		return "error"
	}
	return "ok"
}

// Kind identifies one of the physical sensors.
type Kind int

const (
	KindSoil Kind = iota
	KindLight
	KindTemperature
	KindHumidity
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindSoil:
		return "soil"
	case KindLight:
		return "light"
	case KindTemperature:
		return "temperature"
	case KindHumidity:
		return "humidity"
	default:
		return "unknown"
	}
}
