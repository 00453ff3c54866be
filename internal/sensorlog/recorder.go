package sensorlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Recorder appends records to a sensor log directory.
type Recorder struct {
	basePath string

	header       Header
	sensors      map[string]struct{}
	index        []IndexEntry
	currentChunk int
	chunkFile    *os.File
	chunkOffset  uint32

	encoder *zstd.Encoder

	recordCount uint64
	startNs     int64
	endNs       int64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder that writes to basePath.
// If basePath is empty, a timestamped directory is created in the temp dir.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), fmt.Sprintf("rangelog_%d%s", time.Now().Unix(), FileExtension))
	}

	if err := os.MkdirAll(filepath.Join(basePath, "records"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("could not create encoder: %w", err)
	}

	return &Recorder{
		basePath:     basePath,
		sensors:      make(map[string]struct{}),
		currentChunk: -1,
		index:        make([]IndexEntry, 0),
		encoder:      encoder,
		header: Header{
			Version:   FormatVersion,
			CreatedNs: time.Now().UnixNano(),
		},
	}, nil
}

// RecordRangeScan appends a depth range scan.
func (r *Recorder) RecordRangeScan(scan *RangeScan) error {
	if scan == nil || !scan.Loaded() {
		return fmt.Errorf("range scan has no payload")
	}
	if len(scan.Range) != scan.Rows*scan.Cols {
		return fmt.Errorf("range scan %dx%d has %d samples", scan.Rows, scan.Cols, len(scan.Range))
	}
	return r.write(KindRangeScan3D, scan.SensorLabel, scan.TimestampNs, scan.encodeBody())
}

// RecordObservation appends a non-depth record with an opaque payload.
func (r *Recorder) RecordObservation(obs *Observation) error {
	if obs == nil {
		return fmt.Errorf("observation is nil")
	}
	if obs.Kind == KindRangeScan3D {
		return fmt.Errorf("range scans must be written with RecordRangeScan")
	}
	return r.write(obs.Kind, obs.SensorLabel, obs.TimestampNs, obs.Data)
}

func (r *Recorder) write(kind Kind, label string, timestampNs int64, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	if r.startNs == 0 {
		r.startNs = timestampNs
	}
	r.endNs = timestampNs
	if label != "" {
		r.sensors[label] = struct{}{}
	}

	chunkIdx := int(r.recordCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data := r.encoder.EncodeAll(encodeEnvelope(label, timestampNs, body), nil)

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf); err != nil {
		return fmt.Errorf("failed to write record length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("failed to write record data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		RecordID:    r.recordCount,
		TimestampNs: timestampNs,
		Kind:        kind,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})

	r.chunkOffset += uint32(4 + len(data))
	r.recordCount++
	return nil
}

// rotateChunk closes the current chunk and opens a new one.
func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}

	f, err := os.Create(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to create chunk file: %w", err)
	}

	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	return nil
}

// Close finalises the log and writes the header and index.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.encoder.Close()

	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return fmt.Errorf("failed to close chunk %d: %w", r.currentChunk, err)
		}
	}

	r.header.TotalRecords = r.recordCount
	r.header.StartNs = r.startNs
	r.header.EndNs = r.endNs
	r.header.Sensors = make([]string, 0, len(r.sensors))
	for label := range r.sensors {
		r.header.Sensors = append(r.header.Sensors, label)
	}
	sort.Strings(r.header.Sensors)

	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	buf := make([]byte, indexEntrySize*len(r.index))
	for i, entry := range r.index {
		entry.encode(buf[i*indexEntrySize:])
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "index.bin"), buf, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	return nil
}

// Path returns the base path of the log.
func (r *Recorder) Path() string {
	return r.basePath
}

// RecordCount returns the number of records written.
func (r *Recorder) RecordCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordCount
}

func chunkPath(basePath string, chunkIdx int) string {
	return filepath.Join(basePath, "records", fmt.Sprintf("chunk_%04d.bin", chunkIdx))
}
