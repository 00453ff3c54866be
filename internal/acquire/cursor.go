// Package acquire reads synchronized depth frames for every camera of the
// rig out of a heterogeneous sensor log.
//
// A Cursor walks the log one record at a time, skipping anything that is not
// a depth range scan. A Synchronizer pulls one scan per camera per cycle and
// only exposes a cycle once every camera has produced a frame.
package acquire

import (
	"github.com/banshee-data/depthrig/internal/sensorlog"
)

// Source is the part of a sensor log the cursor needs.
type Source interface {
	Len() int
	Kind(i int) sensorlog.Kind
	LoadRangeScan(i int) (*sensorlog.RangeScan, error)
}

// Cursor is the sequential read position in a Source. Position never
// decreases and end-of-stream, once set, stays set.
type Cursor struct {
	src     Source
	pos     int
	eos     bool
	skipped int
}

// NewCursor positions a cursor at the first record of src.
func NewCursor(src Source) *Cursor {
	return &Cursor{
		src: src,
		eos: src.Len() == 0,
	}
}

// Position returns the current record index.
func (c *Cursor) Position() int {
	return c.pos
}

// EndOfStream reports whether the log is exhausted.
func (c *Cursor) EndOfStream() bool {
	return c.eos
}

// Skipped returns how many non-depth records have been passed over.
func (c *Cursor) Skipped() int {
	return c.skipped
}

// NextRelevant moves forward to the next depth range scan, checking only
// the index kind tag, and returns its index without consuming it. It
// returns false, and sets end-of-stream, when the log runs out first.
func (c *Cursor) NextRelevant() (int, bool) {
	if c.eos {
		return c.pos, false
	}
	for c.src.Kind(c.pos) != sensorlog.KindRangeScan3D {
		c.pos++
		c.skipped++
		if c.pos >= c.src.Len() {
			c.eos = true
			return c.pos, false
		}
	}
	return c.pos, true
}

// Load decodes the record at the current position. The caller must Release
// the scan before calling Advance.
func (c *Cursor) Load() (*sensorlog.RangeScan, error) {
	return c.src.LoadRangeScan(c.pos)
}

// Advance consumes the current record. Reaching the end of the log sets
// end-of-stream.
func (c *Cursor) Advance() {
	if c.eos {
		return
	}
	c.pos++
	if c.pos >= c.src.Len() {
		c.eos = true
	}
}
