// Package pyramid owns the coarse-to-fine image pyramid of every camera:
// the level geometry derived from the sensor and target resolutions, and the
// per-level depth and coordinate buffers that are allocated once and
// overwritten in place each acquisition cycle.
//
// Level 0 is the finest level (the working resolution). Level i halves the
// resolution of level i-1. The representative level is the one matching the
// target resolution; it and every coarser level are consumed by the motion
// estimator.
package pyramid

import (
	"errors"
	"fmt"
	"math"
)

// ErrGeometry reports an inconsistent resolution/target/level combination.
var ErrGeometry = errors.New("inconsistent pyramid geometry")

// Default sensor resolution at cam_mode 1.
const (
	DefaultSensorRows = 480
	DefaultSensorCols = 640
)

// GeometryConfig holds every input the geometry depends on.
type GeometryConfig struct {
	SensorRows int // full sensor height at cam_mode 1
	SensorCols int // full sensor width at cam_mode 1
	CamMode    int // binning factor applied by the camera (1: 640x480, 2: 320x240)
	Downsample int // additional stride applied when reading the log
	TargetRows int
	TargetCols int
	CTFLevels  int // coarse-to-fine levels requested by the estimator
}

// Level describes one pyramid level.
type Level struct {
	Index int
	Rows  int
	Cols  int
	// Consumed marks levels the estimator iterates (cols <= target cols).
	Consumed bool
}

// Geometry is the immutable level layout of one camera's pyramid.
type Geometry struct {
	WorkingRows int
	WorkingCols int
	TargetRows  int
	TargetCols  int
	ReprLevel   int

	levels []Level
}

// ResolutionAt returns the resolution of level from a base resolution.
func ResolutionAt(baseRows, baseCols, level int) (rows, cols int) {
	s := 1 << uint(level)
	return baseRows / s, baseCols / s
}

// NewGeometry computes the pyramid layout. It is a pure function of cfg.
func NewGeometry(cfg GeometryConfig) (*Geometry, error) {
	if cfg.SensorRows <= 0 || cfg.SensorCols <= 0 {
		return nil, fmt.Errorf("%w: sensor resolution %dx%d", ErrGeometry, cfg.SensorRows, cfg.SensorCols)
	}
	if cfg.CamMode < 1 || cfg.Downsample < 1 {
		return nil, fmt.Errorf("%w: cam_mode %d and downsample %d must be >= 1", ErrGeometry, cfg.CamMode, cfg.Downsample)
	}
	if cfg.TargetRows <= 0 || cfg.TargetCols <= 0 {
		return nil, fmt.Errorf("%w: target resolution %dx%d", ErrGeometry, cfg.TargetRows, cfg.TargetCols)
	}
	if cfg.CTFLevels < 1 {
		return nil, fmt.Errorf("%w: ctf_levels %d must be >= 1", ErrGeometry, cfg.CTFLevels)
	}

	div := cfg.CamMode * cfg.Downsample
	g := &Geometry{
		WorkingRows: cfg.SensorRows / div,
		WorkingCols: cfg.SensorCols / div,
		TargetRows:  cfg.TargetRows,
		TargetCols:  cfg.TargetCols,
	}
	if g.WorkingRows == 0 || g.WorkingCols == 0 {
		return nil, fmt.Errorf("%w: working resolution collapses to %dx%d", ErrGeometry, g.WorkingRows, g.WorkingCols)
	}

	repr := math.Round(math.Log2(float64(g.WorkingCols) / float64(cfg.TargetCols)))
	if repr < 0 {
		return nil, fmt.Errorf("%w: target %dx%d is finer than working resolution %dx%d",
			ErrGeometry, cfg.TargetRows, cfg.TargetCols, g.WorkingRows, g.WorkingCols)
	}
	g.ReprLevel = int(repr)

	if r, c := ResolutionAt(g.WorkingRows, g.WorkingCols, g.ReprLevel); r != cfg.TargetRows || c != cfg.TargetCols {
		return nil, fmt.Errorf("%w: level %d is %dx%d, target is %dx%d",
			ErrGeometry, g.ReprLevel, r, c, cfg.TargetRows, cfg.TargetCols)
	}

	total := g.ReprLevel + cfg.CTFLevels
	g.levels = make([]Level, total)
	for i := 0; i < total; i++ {
		rows, cols := ResolutionAt(g.WorkingRows, g.WorkingCols, i)
		if rows == 0 || cols == 0 {
			return nil, fmt.Errorf("%w: level %d of %d collapses to %dx%d", ErrGeometry, i, total, rows, cols)
		}
		g.levels[i] = Level{
			Index:    i,
			Rows:     rows,
			Cols:     cols,
			Consumed: cols <= cfg.TargetCols,
		}
	}

	return g, nil
}

// NumLevels returns the total number of pyramid levels.
func (g *Geometry) NumLevels() int {
	return len(g.levels)
}

// Level returns level i.
func (g *Geometry) Level(i int) Level {
	return g.levels[i]
}

// Levels returns a copy of all levels, finest first.
func (g *Geometry) Levels() []Level {
	out := make([]Level, len(g.levels))
	copy(out, g.levels)
	return out
}

// ConsumedLevels returns the indices of the levels the estimator iterates,
// coarsest first.
func (g *Geometry) ConsumedLevels() []int {
	out := make([]int, 0, len(g.levels))
	for i := len(g.levels) - 1; i >= 0; i-- {
		if g.levels[i].Consumed {
			out = append(out, i)
		}
	}
	return out
}
