// Package config loads the JSON configuration of a rig odometry run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/depthrig/internal/acquire"
	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/rig"
)

// ErrConfiguration reports a missing or invalid configuration value.
var ErrConfiguration = errors.New("configuration error")

// DefaultResultsDir is where trajectories are exported when save_results
// is set and results_dir is not.
const DefaultResultsDir = "odometry.results"

// maxFileSize bounds the config file read at load.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// CameraPose is a camera's pose on the rig. Positions are metres, angles
// are degrees. Every field is required.
type CameraPose struct {
	X     *float64 `json:"x,omitempty"`
	Y     *float64 `json:"y,omitempty"`
	Z     *float64 `json:"z,omitempty"`
	Yaw   *float64 `json:"yaw,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Roll  *float64 `json:"roll,omitempty"`
}

// missing returns the names of unset fields.
func (p CameraPose) missing() []string {
	var out []string
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"x", p.X}, {"y", p.Y}, {"z", p.Z},
		{"yaw", p.Yaw}, {"pitch", p.Pitch}, {"roll", p.Roll},
	} {
		if f.v == nil {
			out = append(out, f.name)
		}
	}
	return out
}

// RigConfig is the root configuration. Optional fields are pointers; the
// Get* accessors supply defaults for anything left out of the file.
type RigConfig struct {
	// Acquisition
	Filename    *string               `json:"filename,omitempty"`
	CameraOrder []string              `json:"camera_order,omitempty"`
	Cameras     map[string]CameraPose `json:"cameras,omitempty"`
	MaxDepth    *float64              `json:"max_depth,omitempty"`

	// Geometry
	CamMode      *int `json:"cam_mode,omitempty"` // 1: 640x480, 2: 320x240
	Downsample   *int `json:"downsample,omitempty"`
	Rows         *int `json:"rows,omitempty"`
	Cols         *int `json:"cols,omitempty"`
	CTFLevels    *int `json:"ctf_levels,omitempty"`
	SensorWidth  *int `json:"sensor_width,omitempty"`
	SensorHeight *int `json:"sensor_height,omitempty"`

	// Intrinsics
	FOVHDeg *float64 `json:"fovh_deg,omitempty"`
	FOVVDeg *float64 `json:"fovv_deg,omitempty"`

	// Output
	SaveResults  *bool   `json:"save_results,omitempty"`
	ResultsDir   *string `json:"results_dir,omitempty"`
	TrajectoryDB *string `json:"trajectory_db,omitempty"`
	PlotDir      *string `json:"plot_dir,omitempty"`

	Workers *int `json:"workers,omitempty"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// Ptr returns a pointer to v, for building configs in code.
func Ptr[T any](v T) *T { return &v }

// LoadRigConfig loads and validates a RigConfig from a JSON file. The file
// must have a .json extension and be under 1MB.
func LoadRigConfig(path string) (*RigConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", ErrConfiguration, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat config file: %w", ErrConfiguration, err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrConfiguration, fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %w", ErrConfiguration, err)
	}

	cfg := &RigConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config JSON: %w", ErrConfiguration, err)
	}
	cfg.dir = filepath.Dir(cleanPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func (c *RigConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Validate checks required fields and value ranges. Errors wrap
// ErrConfiguration.
func (c *RigConfig) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

func (c *RigConfig) validate() error {
	if c.Filename == nil || *c.Filename == "" {
		return errors.New("filename is required")
	}
	if len(c.CameraOrder) == 0 {
		return errors.New("camera_order is required")
	}
	seen := make(map[string]bool, len(c.CameraOrder))
	for _, label := range c.CameraOrder {
		if label == "" {
			return errors.New("camera_order contains an empty label")
		}
		if seen[label] {
			return fmt.Errorf("camera_order lists %q twice", label)
		}
		seen[label] = true

		pose, ok := c.Cameras[label]
		if !ok {
			return fmt.Errorf("cameras has no pose for %q", label)
		}
		if m := pose.missing(); len(m) > 0 {
			return fmt.Errorf("camera %q is missing %v", label, m)
		}
	}

	for _, f := range []struct {
		name string
		v    *int
		min  int
	}{
		{"cam_mode", c.CamMode, 1},
		{"downsample", c.Downsample, 1},
		{"rows", c.Rows, 1},
		{"cols", c.Cols, 1},
		{"ctf_levels", c.CTFLevels, 1},
		{"sensor_width", c.SensorWidth, 1},
		{"sensor_height", c.SensorHeight, 1},
		{"workers", c.Workers, 0},
	} {
		if f.v != nil && *f.v < f.min {
			return fmt.Errorf("%s must be >= %d, got %d", f.name, f.min, *f.v)
		}
	}

	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"fovh_deg", c.FOVHDeg},
		{"fovv_deg", c.FOVVDeg},
	} {
		if f.v != nil && !(*f.v > 0 && *f.v < 180) {
			return fmt.Errorf("%s must be in (0, 180), got %v", f.name, *f.v)
		}
	}

	if c.MaxDepth != nil && !(*c.MaxDepth > 0) {
		return fmt.Errorf("max_depth must be positive, got %v", *c.MaxDepth)
	}
	return nil
}

// resolve joins a relative path onto the config file's directory.
func (c *RigConfig) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// LogPath returns the sensor log path, resolved against the config file's
// directory when relative.
func (c *RigConfig) LogPath() string {
	if c.Filename == nil {
		return ""
	}
	return c.resolve(*c.Filename)
}

// GetCamMode returns the cam_mode value or the default.
func (c *RigConfig) GetCamMode() int {
	if c.CamMode == nil {
		return 2
	}
	return *c.CamMode
}

// GetDownsample returns the downsample value or the default.
func (c *RigConfig) GetDownsample() int {
	if c.Downsample == nil {
		return 1
	}
	return *c.Downsample
}

// GetRows returns the target rows or the default.
func (c *RigConfig) GetRows() int {
	if c.Rows == nil {
		return 240
	}
	return *c.Rows
}

// GetCols returns the target cols or the default.
func (c *RigConfig) GetCols() int {
	if c.Cols == nil {
		return 320
	}
	return *c.Cols
}

// GetCTFLevels returns the ctf_levels value or the default.
func (c *RigConfig) GetCTFLevels() int {
	if c.CTFLevels == nil {
		return 5
	}
	return *c.CTFLevels
}

// GetSensorWidth returns the sensor_width value or the default.
func (c *RigConfig) GetSensorWidth() int {
	if c.SensorWidth == nil {
		return pyramid.DefaultSensorCols
	}
	return *c.SensorWidth
}

// GetSensorHeight returns the sensor_height value or the default.
func (c *RigConfig) GetSensorHeight() int {
	if c.SensorHeight == nil {
		return pyramid.DefaultSensorRows
	}
	return *c.SensorHeight
}

// GetFOVHDeg returns the horizontal field of view in degrees.
func (c *RigConfig) GetFOVHDeg() float64 {
	if c.FOVHDeg == nil {
		return rig.DefaultFOVHDeg
	}
	return *c.FOVHDeg
}

// GetFOVVDeg returns the vertical field of view in degrees.
func (c *RigConfig) GetFOVVDeg() float64 {
	if c.FOVVDeg == nil {
		return rig.DefaultFOVVDeg
	}
	return *c.FOVVDeg
}

// GetMaxDepth returns the max_depth value or the default.
func (c *RigConfig) GetMaxDepth() float64 {
	if c.MaxDepth == nil {
		return acquire.DefaultMaxDepth
	}
	return *c.MaxDepth
}

// GetSaveResults returns the save_results value or the default.
func (c *RigConfig) GetSaveResults() bool {
	if c.SaveResults == nil {
		return false
	}
	return *c.SaveResults
}

// GetResultsDir returns the results directory, resolved against the
// config file's directory.
func (c *RigConfig) GetResultsDir() string {
	if c.ResultsDir == nil || *c.ResultsDir == "" {
		return c.resolve(DefaultResultsDir)
	}
	return c.resolve(*c.ResultsDir)
}

// GetTrajectoryDB returns the trajectory database path, or "" when
// persistence is disabled.
func (c *RigConfig) GetTrajectoryDB() string {
	if c.TrajectoryDB == nil {
		return ""
	}
	return c.resolve(*c.TrajectoryDB)
}

// GetPlotDir returns the plot output directory, or "" when plots are
// disabled.
func (c *RigConfig) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return c.resolve(*c.PlotDir)
}

// GetWorkers returns the projection worker bound; the default is one per
// camera.
func (c *RigConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return len(c.CameraOrder)
	}
	return *c.Workers
}

// GeometryConfig returns the pyramid inputs.
func (c *RigConfig) GeometryConfig() pyramid.GeometryConfig {
	return pyramid.GeometryConfig{
		SensorRows: c.GetSensorHeight(),
		SensorCols: c.GetSensorWidth(),
		CamMode:    c.GetCamMode(),
		Downsample: c.GetDownsample(),
		TargetRows: c.GetRows(),
		TargetCols: c.GetCols(),
		CTFLevels:  c.GetCTFLevels(),
	}
}

// Intrinsics returns the shared field of view in radians.
func (c *RigConfig) Intrinsics() rig.Intrinsics {
	return rig.Intrinsics{
		FOVH: degToRad(c.GetFOVHDeg()),
		FOVV: degToRad(c.GetFOVVDeg()),
	}
}

// Extrinsics converts every configured camera pose to radians. Call
// Validate first; unset fields read as zero.
func (c *RigConfig) Extrinsics() map[string]rig.Extrinsic {
	out := make(map[string]rig.Extrinsic, len(c.Cameras))
	for label, p := range c.Cameras {
		out[label] = rig.Extrinsic{
			X:     deref(p.X),
			Y:     deref(p.Y),
			Z:     deref(p.Z),
			Yaw:   degToRad(deref(p.Yaw)),
			Pitch: degToRad(deref(p.Pitch)),
			Roll:  degToRad(deref(p.Roll)),
		}
	}
	return out
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
