package results

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthrig/internal/fsutil"
	"github.com/banshee-data/depthrig/internal/rig"
)

func TestTUMPoseString(t *testing.T) {
	pose := rig.PoseFromValues(1, -2, 0.5, math.Pi/2, 0, 0)
	p := NewTUMPose(1_500_000_000, pose)

	fields := strings.Fields(p.String())
	require.Len(t, fields, 8)
	assert.Equal(t, "1.5000", fields[0])

	want := []float64{1, -2, 0.5, 0, 0, math.Sqrt2 / 2, math.Sqrt2 / 2}
	for i, w := range want {
		got, err := strconv.ParseFloat(fields[i+1], 64)
		require.NoError(t, err)
		assert.InDelta(t, w, got, 1e-6, "field %d", i+1)
	}
}

func TestTrajectoryWriterPicksFirstFreeName(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	dir := "/runs/odometry.results"
	mfs.WriteFile(filepath.Join(dir, "experiment_001.txt"), []byte("old\n"))
	mfs.WriteFile(filepath.Join(dir, "experiment_003.txt"), []byte("old\n"))

	w, err := NewTrajectoryWriter(mfs, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "experiment_002.txt"), w.Path())

	require.NoError(t, w.Write(NewTUMPose(0, rig.Identity())))
	require.NoError(t, w.Write(NewTUMPose(33_333_333, rig.PoseFromValues(0.1, 0, 0, 0, 0, 0))))
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Lines())

	data, err := mfs.ReadFile(w.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "0.0000 0.000000 0.000000 0.000000 0.000000 0.000000 0.000000 1.000000", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0.0333 0.100000 "), lines[1])

	// Existing experiments are untouched.
	old, _ := mfs.ReadFile(filepath.Join(dir, "experiment_001.txt"))
	assert.Equal(t, "old\n", string(old))

	next, err := NewTrajectoryWriter(mfs, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "experiment_004.txt"), next.Path())
}

func TestTrajectoryWriterOnDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "odometry.results")
	w, err := NewTrajectoryWriter(fsutil.OSFileSystem{}, dir)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, filepath.Join(dir, "experiment_001.txt"), w.Path())
	_, err = os.Stat(filepath.Join(dir, "experiment_000.txt"))
	assert.True(t, os.IsNotExist(err), "numbering starts at 001")
}

func TestTrajectoryWriterNoFreeName(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	for n := 0; n < maxExperiments; n++ {
		mfs.WriteFile(filepath.Join("/r", ExperimentName(n)), nil)
	}
	_, err := NewTrajectoryWriter(mfs, "/r")
	assert.True(t, errors.Is(err, ErrResultsFile), "got %v", err)
}

func openTestStore(t *testing.T) *TrajectoryStore {
	t.Helper()
	s, err := OpenTrajectoryStore(filepath.Join(t.TempDir(), "trajectory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTrajectoryStoreMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trajectory.db")
	s, err := OpenTrajectoryStore(path)
	require.NoError(t, err)

	version, dirty, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	require.NoError(t, s.Close())

	// Reopening an up-to-date database is a no-op.
	s, err = OpenTrajectoryStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestTrajectoryStoreRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	run := &Run{
		LogPath:     "/data/rig.rangelog",
		CameraOrder: []string{"RGBD_1", "RGBD_4", "RGBD_3", "RGBD_2"},
		ConfigJSON:  json.RawMessage(`{"rows":240}`),
	}
	require.NoError(t, s.StartRun(run))
	require.NotEmpty(t, run.RunID)
	require.NotZero(t, run.StartedAt)

	poses := []TUMPose{
		NewTUMPose(100, rig.Identity()),
		NewTUMPose(200, rig.PoseFromValues(0.2, 0, 0, 0.1, 0, 0)),
	}
	for i, p := range poses {
		require.NoError(t, s.AppendPose(run.RunID, i+1, p))
	}
	assert.Error(t, s.AppendPose(run.RunID, 1, poses[0]), "duplicate cycle")
	assert.Error(t, s.AppendPose("no-such-run", 1, poses[0]), "foreign key")

	require.NoError(t, s.FinishRun(run.RunID, 2, run.StartedAt+10))
	assert.Error(t, s.FinishRun("no-such-run", 0, 0))

	got, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.CameraOrder, got.CameraOrder)
	assert.JSONEq(t, `{"rows":240}`, string(got.ConfigJSON))
	assert.Equal(t, 2, got.Cycles)
	assert.Equal(t, run.StartedAt+10, got.FinishedAt)

	stored, err := s.ListPoses(run.RunID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for i, p := range stored {
		assert.Equal(t, i+1, p.Cycle)
		assert.Equal(t, poses[i], p.TUMPose)
	}

	_, err = s.GetRun("missing")
	assert.Error(t, err)
}
