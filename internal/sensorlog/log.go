package sensorlog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Log is a read-only, random-access view of a recorded sensor log.
type Log struct {
	basePath string
	header   Header
	index    []IndexEntry

	decoder *zstd.Decoder

	// chunk cache
	currentChunk int
	chunkData    []byte

	mu sync.Mutex
}

// Open reads the header and index of the log at basePath. Errors wrap
// ErrLogOpen.
func Open(basePath string) (*Log, error) {
	l := &Log{
		basePath:     basePath,
		currentChunk: -1,
	}

	headerData, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", ErrLogOpen, err)
	}
	if err := json.Unmarshal(headerData, &l.header); err != nil {
		return nil, fmt.Errorf("%w: failed to parse header: %v", ErrLogOpen, err)
	}

	indexFile, err := os.Open(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open index: %v", ErrLogOpen, err)
	}
	defer indexFile.Close()

	l.index, err = readIndex(indexFile, l.header.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogOpen, err)
	}
	if uint64(len(l.index)) != l.header.TotalRecords {
		return nil, fmt.Errorf("%w: header lists %d records, index has %d",
			ErrLogOpen, l.header.TotalRecords, len(l.index))
	}

	l.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create decoder: %v", ErrLogOpen, err)
	}

	debugf("opened %s: %d records from %v", basePath, len(l.index), l.header.Sensors)
	return l, nil
}

// Header returns the log header.
func (l *Log) Header() Header {
	return l.header
}

// Len returns the number of records in the log.
func (l *Log) Len() int {
	return len(l.index)
}

// Entry returns the index entry of record i.
func (l *Log) Entry(i int) IndexEntry {
	return l.index[i]
}

// Kind returns the type tag of record i without touching its payload.
func (l *Log) Kind(i int) Kind {
	return l.index[i].Kind
}

// LoadRangeScan decodes record i, which must be a range scan. The caller
// owns the scan and must Release it.
func (l *Log) LoadRangeScan(i int) (*RangeScan, error) {
	if i < 0 || i >= len(l.index) {
		return nil, fmt.Errorf("record index out of range: %d not in [0, %d)", i, len(l.index))
	}
	if kind := l.index[i].Kind; kind != KindRangeScan3D {
		return nil, fmt.Errorf("record %d is %s, not %s", i, kind, KindRangeScan3D)
	}

	payload, err := l.readPayload(i)
	if err != nil {
		return nil, err
	}
	label, ts, body, err := decodeEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", i, err)
	}
	scan, err := decodeRangeScanBody(label, ts, body)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", i, err)
	}
	return scan, nil
}

// LoadObservation decodes record i as an opaque observation.
func (l *Log) LoadObservation(i int) (*Observation, error) {
	if i < 0 || i >= len(l.index) {
		return nil, fmt.Errorf("record index out of range: %d not in [0, %d)", i, len(l.index))
	}
	payload, err := l.readPayload(i)
	if err != nil {
		return nil, err
	}
	label, ts, body, err := decodeEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", i, err)
	}
	return &Observation{
		Kind:        l.index[i].Kind,
		SensorLabel: label,
		TimestampNs: ts,
		Data:        body,
	}, nil
}

// readPayload returns the decompressed payload of record i.
func (l *Log) readPayload(i int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.index[i]
	if int(entry.ChunkID) != l.currentChunk {
		if err := l.loadChunk(int(entry.ChunkID)); err != nil {
			return nil, err
		}
	}

	offset := entry.Offset
	if uint64(offset)+4 > uint64(len(l.chunkData)) {
		return nil, fmt.Errorf("invalid record offset %d in chunk %d", offset, entry.ChunkID)
	}
	n := binary.LittleEndian.Uint32(l.chunkData[offset:])
	offset += 4
	if uint64(offset)+uint64(n) > uint64(len(l.chunkData)) {
		return nil, fmt.Errorf("invalid record length %d in chunk %d", n, entry.ChunkID)
	}

	data, err := l.decoder.DecodeAll(l.chunkData[offset:offset+n], nil)
	if err != nil {
		return nil, fmt.Errorf("could not decode record %d: %w", i, err)
	}
	return data, nil
}

// loadChunk loads a chunk file into memory.
func (l *Log) loadChunk(chunkIdx int) error {
	data, err := os.ReadFile(chunkPath(l.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}
	l.chunkData = data
	l.currentChunk = chunkIdx
	return nil
}

// Close releases the decoder.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.decoder != nil {
		l.decoder.Close()
		l.decoder = nil
	}
	l.chunkData = nil
	return nil
}
