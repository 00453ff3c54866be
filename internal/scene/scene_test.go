package scene

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthrig/internal/fsutil"
)

func translation(x, y, z float64) [16]float64 {
	return [16]float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	}
}

func publishLine(s *Scene, n int) {
	// First snapshot has no segment, as after priming.
	s.Publish(Snapshot{Cycle: 1, Pose: translation(0, 0, 0)})
	for i := 1; i <= n; i++ {
		from := Vec3{X: float64(i - 1)}
		to := Vec3{X: float64(i), Y: 0.5 * float64(i)}
		s.Publish(Snapshot{
			Cycle:   i + 1,
			Pose:    translation(to.X, to.Y, to.Z),
			Segment: &Segment{From: from, To: to},
			Cameras: []CameraView{
				{Label: "RGBD_1", Pose: translation(to.X+0.2, to.Y, 1)},
				{Label: "RGBD_2", Pose: translation(to.X-0.2, to.Y, 1)},
			},
		})
	}
}

func TestScenePublish(t *testing.T) {
	s := New()
	_, ok := s.Latest()
	assert.False(t, ok)
	assert.Nil(t, s.Trajectory())

	publishLine(s, 3)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 4, latest.Cycle)
	assert.Equal(t, Vec3{X: 3, Y: 1.5}, latest.Position())
	assert.Equal(t, Vec3{X: 3.2, Y: 1.5, Z: 1}, latest.Cameras[0].Position())
	assert.Equal(t, 4, s.Published())

	assert.Len(t, s.Segments(), 3)
	assert.Equal(t, []Vec3{{}, {X: 1, Y: 0.5}, {X: 2, Y: 1}, {X: 3, Y: 1.5}}, s.Trajectory())
}

func TestSceneSegmentsIsCopy(t *testing.T) {
	s := New()
	publishLine(s, 1)
	segs := s.Segments()
	segs[0].To.X = 99
	assert.Equal(t, 1.0, s.Segments()[0].To.X)
}

func TestSceneConcurrentPublish(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Publish(Snapshot{Segment: &Segment{}})
			s.Trajectory()
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Published())
	assert.Len(t, s.Segments(), 8)
}

func TestSinkFunc(t *testing.T) {
	var got []int
	var sink Sink = SinkFunc(func(s Snapshot) { got = append(got, s.Cycle) })
	sink.Publish(Snapshot{Cycle: 7})
	assert.Equal(t, []int{7}, got)
}

func TestWritePlot(t *testing.T) {
	s := New()
	mfs := fsutil.NewMemoryFileSystem()

	err := s.WritePlot(mfs, "/plots/trajectory.png")
	assert.True(t, errors.Is(err, ErrEmptyTrajectory))

	publishLine(s, 4)
	require.NoError(t, s.WritePlot(mfs, "/plots/trajectory.png"))

	data, err := mfs.ReadFile("/plots/trajectory.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "not a PNG")
}

func TestWriteChart(t *testing.T) {
	s := New()
	mfs := fsutil.NewMemoryFileSystem()

	assert.ErrorIs(t, s.WriteChart(mfs, "/plots/trajectory.html"), ErrEmptyTrajectory)

	publishLine(s, 2)
	require.NoError(t, s.WriteChart(mfs, "/plots/trajectory.html"))

	data, err := mfs.ReadFile("/plots/trajectory.html")
	require.NoError(t, err)
	html := string(data)
	assert.True(t, strings.Contains(html, "Rig position"))
	assert.True(t, strings.Contains(html, "Trajectory (top view)"))
}
