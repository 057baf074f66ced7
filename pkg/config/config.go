package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Eviction policies for the calibration point table.
const (
	EvictReject = "reject"
	EvictOldest = "oldest"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Frontend    FrontendConfig    `yaml:"frontend"`
	Engine      EngineConfig      `yaml:"engine"`
	Population  PopulationConfig  `yaml:"population"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Profile     ProfileConfig     `yaml:"profile"`
	Mock        MockConfig        `yaml:"mock"`
	Monitor     MonitorConfig     `yaml:"monitor"`
}

// SerialConfig contains serial port configuration of the sensor bridge.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// FrontendConfig describes the analog front end feeding the ECG ADC.
type FrontendConfig struct {
	ECGVRef    float64 `yaml:"ecg_vref"`     // ADC reference (V)
	ECGGain    float64 `yaml:"ecg_gain"`     // Instrumentation amplifier gain
	ECGADCBits int     `yaml:"ecg_adc_bits"` // ADC resolution
}

func (f FrontendConfig) fullScale() float64 {
	return float64(uint32(1)<<f.ECGADCBits - 1)
}

func (f FrontendConfig) midScale() float64 {
	return float64(uint32(1) << (f.ECGADCBits - 1))
}

// Millivolts converts an ECG ADC reading to the electrode voltage in mV.
// Mid-scale is 0 mV.
func (f FrontendConfig) Millivolts(adc uint16) float64 {
	volts := (float64(adc) - f.midScale()) / f.fullScale() * f.ECGVRef
	return volts / f.ECGGain * 1000
}

// ADC converts an electrode voltage in mV to the ADC reading, clamped to the
// converter range.
func (f FrontendConfig) ADC(mv float64) uint16 {
	v := math.Round(f.midScale() + mv/1000*f.ECGGain/f.ECGVRef*f.fullScale())
	return uint16(math.Max(0, math.Min(v, f.fullScale())))
}

// MaxPPGRate bounds the PPG rate; buffers sized by rate are allocated for it
// once, so the rate can change later without allocating.
const MaxPPGRate = 1000 // Hz

// EngineConfig contains the signal processing parameters of the BP engine.
type EngineConfig struct {
	ECGRate   int `yaml:"ecg_rate"`   // Hz
	PPGRate   int `yaml:"ppg_rate"`   // Hz
	ECGBuffer int `yaml:"ecg_buffer"` // samples
	PPGBuffer int `yaml:"ppg_buffer"` // samples

	ECGRange [2]float64 `yaml:"ecg_range"` // accepted ECG values (mV)
	PPGRange [2]float64 `yaml:"ppg_range"` // accepted PPG values (counts)

	SmoothingTaps int `yaml:"smoothing_taps"`

	Adaptive          bool          `yaml:"adaptive"`
	AdaptInterval     time.Duration `yaml:"adapt_interval"`
	ECGThresholdRatio float64       `yaml:"ecg_threshold_ratio"`
	PPGSlopeRatio     float64       `yaml:"ppg_slope_ratio"`
	ECGThreshold      float64       `yaml:"ecg_threshold"` // fixed threshold when adaptive is off
	PPGSlope          float64       `yaml:"ppg_slope"`     // fixed slope threshold (units/ms) when adaptive is off

	ECGRefractory time.Duration `yaml:"ecg_refractory"`
	PPGRefractory time.Duration `yaml:"ppg_refractory"`
	QRSMaxWidth   time.Duration `yaml:"qrs_max_width"`
	FootLookback  time.Duration `yaml:"foot_lookback"`

	PTTMin          time.Duration `yaml:"ptt_min"`
	PTTMax          time.Duration `yaml:"ptt_max"`
	PTTAverageBeats int           `yaml:"ptt_average_beats"`

	MinMatchedBeats   int           `yaml:"min_matched_beats"`
	MinQuality        float64       `yaml:"min_quality"`
	MinCorrelation    float64       `yaml:"min_correlation"`
	IrregularCV       float64       `yaml:"irregular_cv"`
	CorrelationWindow time.Duration `yaml:"correlation_window"`
}

// PopulationConfig holds the default PTT to pressure mapping: BP = slope*PTT + intercept.
type PopulationConfig struct {
	SystolicSlope      float64 `yaml:"systolic_slope"`
	SystolicIntercept  float64 `yaml:"systolic_intercept"`
	DiastolicSlope     float64 `yaml:"diastolic_slope"`
	DiastolicIntercept float64 `yaml:"diastolic_intercept"`
}

// CalibrationConfig contains calibration parameters.
type CalibrationConfig struct {
	Eviction string `yaml:"eviction"` // "reject" or "oldest"
}

// ProfileConfig is the user profile used by compensation formulas.
type ProfileConfig struct {
	Age      int     `yaml:"age"`
	HeightCm float64 `yaml:"height_cm"`
	IsMale   bool    `yaml:"is_male"`
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	HeartRate    float64       `yaml:"heart_rate"`    // BPM
	PTT          time.Duration `yaml:"ptt"`           // Simulated pulse transit time
	ECGAmplitude float64       `yaml:"ecg_amplitude"` // R-wave amplitude (mV)
	PPGAmplitude float64       `yaml:"ppg_amplitude"` // Pulsatile PPG amplitude (counts)
	PPGBaseline  float64       `yaml:"ppg_baseline"`  // PPG DC level (counts)
	NoiseLevel   float64       `yaml:"noise_level"`   // Relative noise level
}

// MonitorConfig controls the estimation loop and its debug surface.
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Listen   string        `yaml:"listen"`
	LogLevel string        `yaml:"log_level"`
}

// Level parses LogLevel ("debug", "info", "warn", "error"). Unknown values
// fall back to info.
func (m MonitorConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(m.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
		},
		Frontend: FrontendConfig{
			ECGVRef:    3.3,
			ECGGain:    100, // AD8232 default gain
			ECGADCBits: 12,
		},
		Engine: EngineConfig{
			ECGRate:           200,
			PPGRate:           100,
			ECGBuffer:         2048,
			PPGBuffer:         1024,
			ECGRange:          [2]float64{-20, 20},
			PPGRange:          [2]float64{0, 262143}, // 18-bit PPG front end
			SmoothingTaps:     3,
			Adaptive:          true,
			AdaptInterval:     2 * time.Second,
			ECGThresholdRatio: 0.6,
			PPGSlopeRatio:     0.35,
			ECGThreshold:      0.5,
			PPGSlope:          5,
			ECGRefractory:     240 * time.Millisecond, // 250 BPM
			PPGRefractory:     240 * time.Millisecond,
			QRSMaxWidth:       150 * time.Millisecond,
			FootLookback:      200 * time.Millisecond,
			PTTMin:            50 * time.Millisecond,
			PTTMax:            400 * time.Millisecond,
			PTTAverageBeats:   8,
			MinMatchedBeats:   3,
			MinQuality:        60,
			MinCorrelation:    20,
			IrregularCV:       0.15,
			CorrelationWindow: 4 * time.Second,
		},
		Population: PopulationConfig{
			SystolicSlope:      -0.5,
			SystolicIntercept:  210,
			DiastolicSlope:     -0.3,
			DiastolicIntercept: 134,
		},
		Calibration: CalibrationConfig{
			Eviction: EvictReject,
		},
		Profile: ProfileConfig{
			Age:      30,
			HeightCm: 170,
			IsMale:   true,
		},
		Mock: MockConfig{
			HeartRate:    70,
			PTT:          180 * time.Millisecond,
			ECGAmplitude: 1.0,
			PPGAmplitude: 2000,
			PPGBaseline:  50000,
			NoiseLevel:   0.01,
		},
		Monitor: MonitorConfig{
			Interval: 5 * time.Second,
			Listen:   ":9102",
			LogLevel: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks relations between fields that defaults cannot repair.
func (c *Config) Validate() error {
	e := &c.Engine
	if e.PTTMin >= e.PTTMax {
		return fmt.Errorf("ptt_min (%v) must be below ptt_max (%v)", e.PTTMin, e.PTTMax)
	}
	if e.PPGRate > MaxPPGRate {
		return fmt.Errorf("ppg_rate %d Hz exceeds %d Hz", e.PPGRate, MaxPPGRate)
	}
	if e.ECGRange[0] >= e.ECGRange[1] {
		return fmt.Errorf("ecg_range is empty: %v", e.ECGRange)
	}
	if e.PPGRange[0] >= e.PPGRange[1] {
		return fmt.Errorf("ppg_range is empty: %v", e.PPGRange)
	}
	if e.SmoothingTaps%2 == 0 {
		return fmt.Errorf("smoothing_taps must be odd, got %d", e.SmoothingTaps)
	}
	switch c.Calibration.Eviction {
	case EvictReject, EvictOldest:
	default:
		return fmt.Errorf("unknown calibration eviction policy %q", c.Calibration.Eviction)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Frontend.ECGVRef == 0 {
		c.Frontend.ECGVRef = def.Frontend.ECGVRef
	}
	if c.Frontend.ECGGain == 0 {
		c.Frontend.ECGGain = def.Frontend.ECGGain
	}
	if c.Frontend.ECGADCBits == 0 {
		c.Frontend.ECGADCBits = def.Frontend.ECGADCBits
	}

	e, de := &c.Engine, &def.Engine
	if e.ECGRate <= 0 {
		e.ECGRate = de.ECGRate
	}
	if e.PPGRate <= 0 {
		e.PPGRate = de.PPGRate
	}
	if e.ECGBuffer <= 0 {
		e.ECGBuffer = de.ECGBuffer
	}
	if e.PPGBuffer <= 0 {
		e.PPGBuffer = de.PPGBuffer
	}
	if e.ECGRange == [2]float64{} {
		e.ECGRange = de.ECGRange
	}
	if e.PPGRange == [2]float64{} {
		e.PPGRange = de.PPGRange
	}
	if e.SmoothingTaps <= 0 {
		e.SmoothingTaps = de.SmoothingTaps
	}
	if e.AdaptInterval == 0 {
		e.AdaptInterval = de.AdaptInterval
	}
	if e.ECGThresholdRatio == 0 {
		e.ECGThresholdRatio = de.ECGThresholdRatio
	}
	if e.PPGSlopeRatio == 0 {
		e.PPGSlopeRatio = de.PPGSlopeRatio
	}
	if e.ECGThreshold == 0 {
		e.ECGThreshold = de.ECGThreshold
	}
	if e.PPGSlope == 0 {
		e.PPGSlope = de.PPGSlope
	}
	if e.ECGRefractory == 0 {
		e.ECGRefractory = de.ECGRefractory
	}
	if e.PPGRefractory == 0 {
		e.PPGRefractory = de.PPGRefractory
	}
	if e.QRSMaxWidth == 0 {
		e.QRSMaxWidth = de.QRSMaxWidth
	}
	if e.FootLookback == 0 {
		e.FootLookback = de.FootLookback
	}
	if e.PTTMin == 0 {
		e.PTTMin = de.PTTMin
	}
	if e.PTTMax == 0 {
		e.PTTMax = de.PTTMax
	}
	if e.PTTAverageBeats <= 0 {
		e.PTTAverageBeats = de.PTTAverageBeats
	}
	if e.MinMatchedBeats <= 0 {
		e.MinMatchedBeats = de.MinMatchedBeats
	}
	if e.MinQuality == 0 {
		e.MinQuality = de.MinQuality
	}
	if e.MinCorrelation == 0 {
		e.MinCorrelation = de.MinCorrelation
	}
	if e.IrregularCV == 0 {
		e.IrregularCV = de.IrregularCV
	}
	if e.CorrelationWindow == 0 {
		e.CorrelationWindow = de.CorrelationWindow
	}

	if c.Population == (PopulationConfig{}) {
		c.Population = def.Population
	}

	if c.Calibration.Eviction == "" {
		c.Calibration.Eviction = def.Calibration.Eviction
	}

	if c.Profile.Age == 0 {
		c.Profile.Age = def.Profile.Age
	}
	if c.Profile.HeightCm == 0 {
		c.Profile.HeightCm = def.Profile.HeightCm
	}

	if c.Mock.HeartRate == 0 {
		c.Mock.HeartRate = def.Mock.HeartRate
	}
	if c.Mock.PTT == 0 {
		c.Mock.PTT = def.Mock.PTT
	}
	if c.Mock.ECGAmplitude == 0 {
		c.Mock.ECGAmplitude = def.Mock.ECGAmplitude
	}
	if c.Mock.PPGAmplitude == 0 {
		c.Mock.PPGAmplitude = def.Mock.PPGAmplitude
	}
	if c.Mock.PPGBaseline == 0 {
		c.Mock.PPGBaseline = def.Mock.PPGBaseline
	}

	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = def.Monitor.Interval
	}
	if c.Monitor.Listen == "" {
		c.Monitor.Listen = def.Monitor.Listen
	}
	if c.Monitor.LogLevel == "" {
		c.Monitor.LogLevel = def.Monitor.LogLevel
	}
}
