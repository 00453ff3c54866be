package sensorlog

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// rangeSlicePool reuses decoded range buffers.
// Sized for a 640x480 range image.
var rangeSlicePool = sync.Pool{
	New: func() interface{} {
		return make([]float32, 0, 640*480)
	},
}

func getRangeSlice(n int) []float32 {
	s := rangeSlicePool.Get().([]float32)
	if cap(s) < n {
		rangeSlicePool.Put(s)
		return make([]float32, n)
	}
	return s[:n]
}

func putRangeSlice(s []float32) {
	if cap(s) > 0 && cap(s) <= 4*640*480 {
		rangeSlicePool.Put(s[:0])
	}
}

// RangeScan is a depth camera range image. Range is row-major, Rows x Cols,
// in the row/column order the camera delivered it.
type RangeScan struct {
	SensorLabel string
	TimestampNs int64
	Rows        int
	Cols        int
	Range       []float32

	pooled bool
}

// NewRangeScan allocates an empty scan of the given size.
func NewRangeScan(label string, timestampNs int64, rows, cols int) *RangeScan {
	return &RangeScan{
		SensorLabel: label,
		TimestampNs: timestampNs,
		Rows:        rows,
		Cols:        cols,
		Range:       make([]float32, rows*cols),
	}
}

// At returns the range sample at (row, col).
func (s *RangeScan) At(row, col int) float32 {
	return s.Range[row*s.Cols+col]
}

// Set stores a range sample at (row, col).
func (s *RangeScan) Set(row, col int, v float32) {
	s.Range[row*s.Cols+col] = v
}

// Loaded reports whether the payload is still resident.
func (s *RangeScan) Loaded() bool {
	return s != nil && s.Range != nil
}

// Release drops the decoded payload. Scans produced by Log.LoadRangeScan
// return their buffer to a pool, so Range must not be used afterwards.
func (s *RangeScan) Release() {
	if s == nil || s.Range == nil {
		return
	}
	if s.pooled {
		putRangeSlice(s.Range)
	}
	s.Range = nil
}

// body layout: rows u32 | cols u32 | rows*cols float32
func (s *RangeScan) encodeBody() []byte {
	out := make([]byte, 8+4*len(s.Range))
	binary.LittleEndian.PutUint32(out[0:], uint32(s.Rows))
	binary.LittleEndian.PutUint32(out[4:], uint32(s.Cols))
	for i, v := range s.Range {
		binary.LittleEndian.PutUint32(out[8+4*i:], math.Float32bits(v))
	}
	return out
}

func decodeRangeScanBody(label string, timestampNs int64, body []byte) (*RangeScan, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("range scan body too short: %d bytes", len(body))
	}
	rows := int(binary.LittleEndian.Uint32(body[0:]))
	cols := int(binary.LittleEndian.Uint32(body[4:]))
	n := rows * cols
	if len(body) != 8+4*n {
		return nil, fmt.Errorf("range scan %dx%d expects %d bytes, got %d", rows, cols, 8+4*n, len(body))
	}

	scan := &RangeScan{
		SensorLabel: label,
		TimestampNs: timestampNs,
		Rows:        rows,
		Cols:        cols,
		Range:       getRangeSlice(n),
		pooled:      true,
	}
	for i := 0; i < n; i++ {
		scan.Range[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[8+4*i:]))
	}
	return scan, nil
}
