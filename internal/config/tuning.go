package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Selection modes accepted by selection_mode.
const (
	ModePosition = "position"
	ModeVelocity = "velocity"
)

// TuningConfig represents the root configuration for gaze tuning parameters.
// The schema matches config/tuning.defaults.json, which LoadTuningConfig
// accepts whole or in part.
type TuningConfig struct {
	// Selection params
	SelectionMode  *string  `json:"selection_mode,omitempty"`
	VelocityCutoff *float64 `json:"velocity_cutoff,omitempty"` // screen px/s
	AngleThreshold *float64 `json:"angle_threshold,omitempty"` // radians

	// Kalman params
	MeasurementNoise  *float64 `json:"measurement_noise,omitempty"`
	ProcessNoiseVar   *float64 `json:"process_noise_var,omitempty"`
	InitialCovariance *float64 `json:"initial_covariance,omitempty"`

	// Calibration params
	MinTriangleSine        *float64 `json:"min_triangle_sine,omitempty"`
	CalibrationDotFraction *float64 `json:"calibration_dot_fraction,omitempty"`

	// Display params. Zero means "ask the caller" (flags or first frame).
	ScreenWidth  *int `json:"screen_width,omitempty"`
	ScreenHeight *int `json:"screen_height,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated from the
// built-in defaults. It mirrors config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		SelectionMode:          ptrString(c.GetSelectionMode()),
		VelocityCutoff:         ptrFloat64(c.GetVelocityCutoff()),
		AngleThreshold:         ptrFloat64(c.GetAngleThreshold()),
		MeasurementNoise:       ptrFloat64(c.GetMeasurementNoise()),
		ProcessNoiseVar:        ptrFloat64(c.GetProcessNoiseVar()),
		InitialCovariance:      ptrFloat64(c.GetInitialCovariance()),
		MinTriangleSine:        ptrFloat64(c.GetMinTriangleSine()),
		CalibrationDotFraction: ptrFloat64(c.GetCalibrationDotFraction()),
		ScreenWidth:            ptrInt(c.GetScreenWidth()),
		ScreenHeight:           ptrInt(c.GetScreenHeight()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/gazeselect/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SelectionMode != nil {
		switch strings.ToLower(*c.SelectionMode) {
		case ModePosition, ModeVelocity:
		default:
			return fmt.Errorf("selection_mode must be %q or %q, got %q", ModePosition, ModeVelocity, *c.SelectionMode)
		}
	}
	if c.VelocityCutoff != nil && *c.VelocityCutoff < 0 {
		return fmt.Errorf("velocity_cutoff must be non-negative, got %f", *c.VelocityCutoff)
	}
	if c.AngleThreshold != nil && (*c.AngleThreshold < 0 || *c.AngleThreshold > 3.15) {
		return fmt.Errorf("angle_threshold must be between 0 and pi, got %f", *c.AngleThreshold)
	}
	if c.MeasurementNoise != nil && *c.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %f", *c.MeasurementNoise)
	}
	if c.ProcessNoiseVar != nil && *c.ProcessNoiseVar < 0 {
		return fmt.Errorf("process_noise_var must be non-negative, got %f", *c.ProcessNoiseVar)
	}
	if c.InitialCovariance != nil && *c.InitialCovariance <= 0 {
		return fmt.Errorf("initial_covariance must be positive, got %f", *c.InitialCovariance)
	}
	if c.MinTriangleSine != nil && (*c.MinTriangleSine < 0 || *c.MinTriangleSine >= 1) {
		return fmt.Errorf("min_triangle_sine must be in [0, 1), got %f", *c.MinTriangleSine)
	}
	if c.CalibrationDotFraction != nil && (*c.CalibrationDotFraction <= 0 || *c.CalibrationDotFraction >= 0.5) {
		return fmt.Errorf("calibration_dot_fraction must be in (0, 0.5), got %f", *c.CalibrationDotFraction)
	}
	if c.ScreenWidth != nil && *c.ScreenWidth < 0 {
		return fmt.Errorf("screen_width must be non-negative, got %d", *c.ScreenWidth)
	}
	if c.ScreenHeight != nil && *c.ScreenHeight < 0 {
		return fmt.Errorf("screen_height must be non-negative, got %d", *c.ScreenHeight)
	}
	return nil
}

// GetSelectionMode returns the selection_mode value or the default.
func (c *TuningConfig) GetSelectionMode() string {
	if c.SelectionMode == nil || *c.SelectionMode == "" {
		return ModePosition
	}
	return strings.ToLower(*c.SelectionMode)
}

// GetVelocityCutoff returns the velocity_cutoff value or the default.
func (c *TuningConfig) GetVelocityCutoff() float64 {
	if c.VelocityCutoff == nil {
		return 50.0
	}
	return *c.VelocityCutoff
}

// GetAngleThreshold returns the angle_threshold value or the default.
func (c *TuningConfig) GetAngleThreshold() float64 {
	if c.AngleThreshold == nil {
		return 0.785 // ~45 degrees
	}
	return *c.AngleThreshold
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 10.0
	}
	return *c.MeasurementNoise
}

// GetProcessNoiseVar returns the process_noise_var value or the default.
func (c *TuningConfig) GetProcessNoiseVar() float64 {
	if c.ProcessNoiseVar == nil {
		return 0.1
	}
	return *c.ProcessNoiseVar
}

// GetInitialCovariance returns the initial_covariance value or the default.
func (c *TuningConfig) GetInitialCovariance() float64 {
	if c.InitialCovariance == nil {
		return 1000.0
	}
	return *c.InitialCovariance
}

// GetMinTriangleSine returns the min_triangle_sine value or the default.
func (c *TuningConfig) GetMinTriangleSine() float64 {
	if c.MinTriangleSine == nil {
		return 1e-6
	}
	return *c.MinTriangleSine
}

// GetCalibrationDotFraction returns the calibration_dot_fraction value or the default.
func (c *TuningConfig) GetCalibrationDotFraction() float64 {
	if c.CalibrationDotFraction == nil {
		return 0.01
	}
	return *c.CalibrationDotFraction
}

// GetScreenWidth returns the screen_width value or 0 when unset.
func (c *TuningConfig) GetScreenWidth() int {
	if c.ScreenWidth == nil {
		return 0
	}
	return *c.ScreenWidth
}

// GetScreenHeight returns the screen_height value or 0 when unset.
func (c *TuningConfig) GetScreenHeight() int {
	if c.ScreenHeight == nil {
		return 0
	}
	return *c.ScreenHeight
}
