package sensorlog

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testScan(label string, ts int64, rows, cols int) *RangeScan {
	scan := NewRangeScan(label, ts, rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			scan.Set(r, c, float32(r)+float32(c)/100)
		}
	}
	return scan
}

func writeTestLog(t *testing.T) string {
	t.Helper()
	basePath := filepath.Join(t.TempDir(), "test"+FileExtension)

	rec, err := NewRecorder(basePath)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	if err := rec.RecordObservation(&Observation{Kind: KindComment, TimestampNs: 1, Data: []byte("start")}); err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}
	if err := rec.RecordRangeScan(testScan("RGBD_1", 10, 3, 4)); err != nil {
		t.Fatalf("RecordRangeScan() error = %v", err)
	}
	if err := rec.RecordObservation(&Observation{Kind: KindIMU, SensorLabel: "IMU", TimestampNs: 11, Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}
	if err := rec.RecordRangeScan(testScan("RGBD_2", 12, 3, 4)); err != nil {
		t.Fatalf("RecordRangeScan() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return basePath
}

func TestRecorderCreatesLayout(t *testing.T) {
	basePath := writeTestLog(t)

	for _, name := range []string{"header.json", "index.bin", filepath.Join("records", "chunk_0000.bin")} {
		if _, err := os.Stat(filepath.Join(basePath, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestLogRoundTrip(t *testing.T) {
	l, err := Open(writeTestLog(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	if l.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", l.Len())
	}
	wantKinds := []Kind{KindComment, KindRangeScan3D, KindIMU, KindRangeScan3D}
	for i, want := range wantKinds {
		if got := l.Kind(i); got != want {
			t.Errorf("Kind(%d) = %s, want %s", i, got, want)
		}
	}

	h := l.Header()
	if h.TotalRecords != 4 || h.StartNs != 1 || h.EndNs != 12 {
		t.Errorf("Header() = %+v", h)
	}
	if len(h.Sensors) != 3 || h.Sensors[0] != "IMU" {
		t.Errorf("Header().Sensors = %v, want sorted [IMU RGBD_1 RGBD_2]", h.Sensors)
	}

	scan, err := l.LoadRangeScan(3)
	if err != nil {
		t.Fatalf("LoadRangeScan(3) error = %v", err)
	}
	if scan.SensorLabel != "RGBD_2" || scan.TimestampNs != 12 {
		t.Errorf("scan metadata = %q/%d", scan.SensorLabel, scan.TimestampNs)
	}
	if scan.Rows != 3 || scan.Cols != 4 {
		t.Fatalf("scan size = %dx%d, want 3x4", scan.Rows, scan.Cols)
	}
	if got := scan.At(2, 3); math.Abs(float64(got)-2.03) > 1e-6 {
		t.Errorf("At(2,3) = %v, want 2.03", got)
	}

	scan.Release()
	if scan.Loaded() {
		t.Error("scan still loaded after Release()")
	}
	scan.Release() // idempotent

	obs, err := l.LoadObservation(2)
	if err != nil {
		t.Fatalf("LoadObservation(2) error = %v", err)
	}
	if obs.Kind != KindIMU || obs.SensorLabel != "IMU" || len(obs.Data) != 3 {
		t.Errorf("LoadObservation(2) = %+v", obs)
	}
}

func TestLoadRangeScanWrongKind(t *testing.T) {
	l, err := Open(writeTestLog(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	if _, err := l.LoadRangeScan(0); err == nil {
		t.Error("LoadRangeScan() on a comment record expected error")
	}
	if _, err := l.LoadRangeScan(99); err == nil {
		t.Error("LoadRangeScan() out of range expected error")
	}
}

func TestChunkRotation(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "big"+FileExtension)
	rec, err := NewRecorder(basePath)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	n := ChunkSize + 5
	for i := 0; i < n; i++ {
		if err := rec.RecordRangeScan(testScan("RGBD_1", int64(i+1), 1, 2)); err != nil {
			t.Fatalf("RecordRangeScan(%d) error = %v", i, err)
		}
	}
	if rec.RecordCount() != uint64(n) {
		t.Errorf("RecordCount() = %d, want %d", rec.RecordCount(), n)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	l, err := Open(basePath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer l.Close()

	if l.Entry(n-1).ChunkID != 1 {
		t.Errorf("last entry chunk = %d, want 1", l.Entry(n-1).ChunkID)
	}
	scan, err := l.LoadRangeScan(n - 1)
	if err != nil {
		t.Fatalf("LoadRangeScan() error = %v", err)
	}
	defer scan.Release()
	if scan.TimestampNs != int64(n) {
		t.Errorf("TimestampNs = %d, want %d", scan.TimestampNs, n)
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name:  "missing directory",
			setup: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
		},
		{
			name: "bad header",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				os.WriteFile(filepath.Join(dir, "header.json"), []byte("{"), 0644)
				return dir
			},
		},
		{
			name: "truncated index",
			setup: func(t *testing.T) string {
				dir := writeTestLog(t)
				idx := filepath.Join(dir, "index.bin")
				data, _ := os.ReadFile(idx)
				os.WriteFile(idx, data[:len(data)-3], 0644)
				return dir
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.setup(t))
			if !errors.Is(err, ErrLogOpen) {
				t.Errorf("Open() error = %v, want ErrLogOpen", err)
			}
		})
	}
}

func TestRecorderRejectsInvalidInput(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "x"))
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	if err := rec.RecordRangeScan(nil); err == nil {
		t.Error("RecordRangeScan(nil) expected error")
	}
	bad := NewRangeScan("RGBD_1", 1, 2, 2)
	bad.Range = bad.Range[:3]
	if err := rec.RecordRangeScan(bad); err == nil {
		t.Error("RecordRangeScan() with short payload expected error")
	}
	if err := rec.RecordObservation(&Observation{Kind: KindRangeScan3D}); err == nil {
		t.Error("RecordObservation() with range kind expected error")
	}

	rec.Close()
	if err := rec.RecordRangeScan(testScan("RGBD_1", 1, 1, 1)); err == nil {
		t.Error("RecordRangeScan() after Close expected error")
	}
}

func TestKindString(t *testing.T) {
	if KindRangeScan3D.String() != "range_scan_3d" {
		t.Errorf("KindRangeScan3D.String() = %q", KindRangeScan3D.String())
	}
	if Kind(42).String() != "unknown(42)" {
		t.Errorf("Kind(42).String() = %q", Kind(42).String())
	}
}

func TestRecorderCloseReportsChunkError(t *testing.T) {
	basePath := filepath.Join(t.TempDir(), "broken"+FileExtension)
	rec, err := NewRecorder(basePath)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	if err := rec.RecordRangeScan(testScan("RGBD_1", 1, 2, 2)); err != nil {
		t.Fatalf("RecordRangeScan() error = %v", err)
	}

	// Closing the chunk underneath the recorder makes the final close fail.
	rec.chunkFile.Close()
	if err := rec.Close(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("Close() error = %v, want os.ErrClosed", err)
	}
	if _, err := Open(basePath); !errors.Is(err, ErrLogOpen) {
		t.Errorf("Open() after failed close error = %v, want ErrLogOpen", err)
	}
}
