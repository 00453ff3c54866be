package acquire

import (
	"fmt"
	"math"

	"github.com/banshee-data/depthrig/internal/monitoring"
	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/sensorlog"
)

// DefaultMaxDepth is the range at and beyond which samples are invalid.
const DefaultMaxDepth = 4.5

// CycleStatus is the outcome of one synchronization cycle.
type CycleStatus int

const (
	// CycleComplete means every camera produced a fresh frame.
	CycleComplete CycleStatus = iota
	// CycleEndOfStream means the log ran out, possibly part-way through
	// the cycle. Nothing from the cycle is exposed.
	CycleEndOfStream
)

func (s CycleStatus) String() string {
	switch s {
	case CycleComplete:
		return "complete"
	case CycleEndOfStream:
		return "end_of_stream"
	default:
		return fmt.Sprintf("CycleStatus(%d)", int(s))
	}
}

// ClipDepth maps samples at or beyond maxDepth, and non-finite samples, to
// 0 (invalid). Everything else passes through unchanged.
func ClipDepth(z, maxDepth float32) float32 {
	f := float64(z)
	if math.IsNaN(f) || math.IsInf(f, 0) || z >= maxDepth {
		return 0
	}
	return z
}

// RawDepthFrame is one camera's clipped depth at working resolution.
type RawDepthFrame struct {
	Camera      int
	Label       string
	TimestampNs int64
	Depth       *pyramid.Grid
}

// SynchronizerConfig sizes the decoded frames.
type SynchronizerConfig struct {
	Rows       int // working rows
	Cols       int // working cols
	Downsample int // stride into the logged range image
	MaxDepth   float32
}

// SyncStats summarises synchronizer activity.
type SyncStats struct {
	Cycles          int
	AbortedCycles   int
	LabelMismatches int
	SkippedRecords  int
}

// Synchronizer pulls exactly one range scan per camera per cycle, in
// logical camera order.
type Synchronizer struct {
	cursor *Cursor
	labels []string
	cfg    SynchronizerConfig

	// frames is the last completed cycle; pending is decoded into and
	// swapped in only when the cycle completes.
	frames  []RawDepthFrame
	pending []RawDepthFrame

	stats SyncStats
}

// NewSynchronizer builds a synchronizer for cameras recording under labels,
// in logical order.
func NewSynchronizer(cursor *Cursor, labels []string, cfg SynchronizerConfig) (*Synchronizer, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("no cameras to synchronize")
	}
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.Downsample < 1 {
		return nil, fmt.Errorf("downsample %d must be >= 1", cfg.Downsample)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	s := &Synchronizer{
		cursor:  cursor,
		labels:  append([]string(nil), labels...),
		cfg:     cfg,
		frames:  make([]RawDepthFrame, len(labels)),
		pending: make([]RawDepthFrame, len(labels)),
	}
	for c, label := range labels {
		s.frames[c] = RawDepthFrame{Camera: c, Label: label, Depth: pyramid.NewGrid(cfg.Rows, cfg.Cols)}
		s.pending[c] = RawDepthFrame{Camera: c, Label: label, Depth: pyramid.NewGrid(cfg.Rows, cfg.Cols)}
	}
	return s, nil
}

// Acquire runs one synchronization cycle. On CycleComplete, Frames holds
// the new frames; on CycleEndOfStream, Frames still holds the previous
// cycle's. Errors are decode failures, not end-of-stream.
func (s *Synchronizer) Acquire() (CycleStatus, error) {
	for c := range s.pending {
		idx, ok := s.cursor.NextRelevant()
		if !ok {
			if c > 0 {
				s.stats.AbortedCycles++
				monitoring.Diagf("cycle %d aborted at camera %d of %d: end of stream", s.stats.Cycles+1, c, len(s.pending))
			}
			s.stats.SkippedRecords = s.cursor.Skipped()
			return CycleEndOfStream, nil
		}

		if err := s.decode(c, idx); err != nil {
			return CycleEndOfStream, err
		}
		s.cursor.Advance()
	}

	s.frames, s.pending = s.pending, s.frames
	s.stats.Cycles++
	s.stats.SkippedRecords = s.cursor.Skipped()
	return CycleComplete, nil
}

// decode loads record idx into pending[c] and releases the payload.
func (s *Synchronizer) decode(c, idx int) error {
	scan, err := s.cursor.Load()
	if err != nil {
		return fmt.Errorf("camera %d (%s): %w", c, s.labels[c], err)
	}
	defer scan.Release()

	frame := &s.pending[c]
	if scan.SensorLabel != "" && scan.SensorLabel != frame.Label {
		s.stats.LabelMismatches++
		monitoring.Diagf("record %d from %q assigned to camera %d (%s)", idx, scan.SensorLabel, c, frame.Label)
	}
	frame.TimestampNs = scan.TimestampNs

	if err := decodeMirrored(frame.Depth, scan, s.cfg.Downsample, s.cfg.MaxDepth); err != nil {
		return fmt.Errorf("camera %d (%s) record %d: %w", c, s.labels[c], idx, err)
	}
	monitoring.Tracef("camera %d decoded record %d (%dx%d) ts=%d", c, idx, scan.Rows, scan.Cols, scan.TimestampNs)
	return nil
}

// decodeMirrored fills dst from scan, reading rows and columns in reverse
// raster order with the given stride and clipping invalid range.
func decodeMirrored(dst *pyramid.Grid, scan *sensorlog.RangeScan, stride int, maxDepth float32) error {
	needRows := stride*(dst.Rows-1) + 1
	needCols := stride*(dst.Cols-1) + 1
	if scan.Rows < needRows || scan.Cols < needCols {
		return fmt.Errorf("range image %dx%d too small for %dx%d at stride %d",
			scan.Rows, scan.Cols, dst.Rows, dst.Cols, stride)
	}

	for i := 0; i < dst.Rows; i++ {
		srcRow := scan.Rows - stride*i - 1
		row := dst.Row(i)
		for j := range row {
			row[j] = ClipDepth(scan.At(srcRow, scan.Cols-stride*j-1), maxDepth)
		}
	}
	return nil
}

// Frames returns the frames of the last completed cycle, indexed by
// logical camera. The slice and grids are reused by the next cycle.
func (s *Synchronizer) Frames() []RawDepthFrame {
	return s.frames
}

// Stats returns counters since construction.
func (s *Synchronizer) Stats() SyncStats {
	return s.stats
}

// EndOfStream reports whether the underlying cursor is exhausted.
func (s *Synchronizer) EndOfStream() bool {
	return s.cursor.EndOfStream()
}
