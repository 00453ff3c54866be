// Package sensorlog provides recording and replay of heterogeneous sensor
// logs: depth range scans interleaved with IMU, odometry, image and comment
// records from any number of sensors.
//
// On disk a log is a directory:
//
//	header.json               log metadata
//	index.bin                 one fixed-size entry per record (kind tag included)
//	records/chunk_0000.bin    length-prefixed zstd-compressed payloads
//
// The kind tag lives in the index so readers can filter records without
// decompressing payloads.
package sensorlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FileExtension is the conventional suffix for sensor log directories.
const FileExtension = ".rangelog"

// ChunkSize is the number of records per chunk file.
const ChunkSize = 1000

// FormatVersion is written into every header.
const FormatVersion = "1.0"

// ErrLogOpen is returned when a log cannot be opened or parsed.
var ErrLogOpen = errors.New("sensor log open failed")

// Kind is the record type discriminator stored in the index.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindRangeScan3D is a depth camera range image.
	KindRangeScan3D
	KindIMU
	KindOdometry
	KindImage
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindRangeScan3D:
		return "range_scan_3d"
	case KindIMU:
		return "imu"
	case KindOdometry:
		return "odometry"
	case KindImage:
		return "image"
	case KindComment:
		return "comment"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Header contains metadata about a recorded log.
type Header struct {
	Version      string   `json:"version"`
	CreatedNs    int64    `json:"created_ns"`
	TotalRecords uint64   `json:"total_records"`
	StartNs      int64    `json:"start_ns"`
	EndNs        int64    `json:"end_ns"`
	Sensors      []string `json:"sensors"`
}

// IndexEntry is an entry in the record index.
type IndexEntry struct {
	RecordID    uint64
	TimestampNs int64
	Kind        Kind
	ChunkID     uint32
	Offset      uint32
}

// indexEntrySize is the encoded size of one IndexEntry.
const indexEntrySize = 8 + 8 + 1 + 4 + 4

func (e IndexEntry) encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], e.RecordID)
	binary.LittleEndian.PutUint64(buf[8:], uint64(e.TimestampNs))
	buf[16] = byte(e.Kind)
	binary.LittleEndian.PutUint32(buf[17:], e.ChunkID)
	binary.LittleEndian.PutUint32(buf[21:], e.Offset)
}

func decodeIndexEntry(buf []byte) IndexEntry {
	return IndexEntry{
		RecordID:    binary.LittleEndian.Uint64(buf[0:]),
		TimestampNs: int64(binary.LittleEndian.Uint64(buf[8:])),
		Kind:        Kind(buf[16]),
		ChunkID:     binary.LittleEndian.Uint32(buf[17:]),
		Offset:      binary.LittleEndian.Uint32(buf[21:]),
	}
}

// readIndex reads entries until EOF. A trailing partial entry is an error.
func readIndex(r io.Reader, capacity uint64) ([]IndexEntry, error) {
	entries := make([]IndexEntry, 0, capacity)
	buf := make([]byte, indexEntrySize)
	for {
		_, err := io.ReadFull(r, buf)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("truncated index entry %d: %w", len(entries), err)
		}
		entries = append(entries, decodeIndexEntry(buf))
	}
}

// Observation is a decoded non-depth record. Data is opaque to this package.
type Observation struct {
	Kind        Kind
	SensorLabel string
	TimestampNs int64
	Data        []byte
}

// envelope layout: labelLen u16 | label | timestampNs i64 | body
func encodeEnvelope(label string, timestampNs int64, body []byte) []byte {
	out := make([]byte, 2+len(label)+8+len(body))
	binary.LittleEndian.PutUint16(out, uint16(len(label)))
	copy(out[2:], label)
	binary.LittleEndian.PutUint64(out[2+len(label):], uint64(timestampNs))
	copy(out[2+len(label)+8:], body)
	return out
}

func decodeEnvelope(data []byte) (label string, timestampNs int64, body []byte, err error) {
	if len(data) < 2 {
		return "", 0, nil, fmt.Errorf("envelope too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint16(data))
	if len(data) < 2+n+8 {
		return "", 0, nil, fmt.Errorf("envelope too short for label of %d bytes", n)
	}
	label = string(data[2 : 2+n])
	timestampNs = int64(binary.LittleEndian.Uint64(data[2+n:]))
	return label, timestampNs, data[2+n+8:], nil
}
