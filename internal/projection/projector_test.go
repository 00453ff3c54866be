package projection

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthrig/internal/acquire"
	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/rig"
)

// smallGeometry is 8x16 working, target 4x8, three levels.
func smallGeometry(t *testing.T) *pyramid.Geometry {
	t.Helper()
	g, err := pyramid.NewGeometry(pyramid.GeometryConfig{
		SensorRows: 8, SensorCols: 16,
		CamMode: 1, Downsample: 1,
		TargetRows: 4, TargetCols: 8,
		CTFLevels: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 3, g.NumLevels())
	return g
}

func rampFrames(g *pyramid.Geometry, n int) []acquire.RawDepthFrame {
	frames := make([]acquire.RawDepthFrame, n)
	for c := range frames {
		d := pyramid.NewGrid(g.WorkingRows, g.WorkingCols)
		for i := 0; i < d.Rows; i++ {
			for j := 0; j < d.Cols; j++ {
				d.Set(i, j, 0.5+float32(c)*0.25+float32(i*d.Cols+j)*0.01)
			}
		}
		frames[c] = acquire.RawDepthFrame{Camera: c, Depth: d}
	}
	return frames
}

func TestPinholeCentre(t *testing.T) {
	m := NewPinhole(rig.DefaultIntrinsics(), 240, 320)
	assert.InDelta(t, 159.5, m.Cu, 1e-12)
	assert.InDelta(t, 119.5, m.Cv, 1e-12)

	fx, fy := rig.DefaultIntrinsics().FocalLengths(240, 320)
	assert.InDelta(t, fx, m.Fx, 1e-12)
	assert.InDelta(t, fy, m.Fy, 1e-12)

	// Offsets grow with distance from the centre and flip sign across it.
	xl, _ := m.Project(120, 0, 2)
	xr, _ := m.Project(120, 319, 2)
	assert.Less(t, xl, float32(0))
	assert.InDelta(t, -xl, xr, 1e-5)
}

func TestProjectZeroDepth(t *testing.T) {
	m := NewPinhole(rig.DefaultIntrinsics(), 240, 320)
	x, y := m.Project(0, 0, 0)
	assert.Zero(t, x)
	assert.Zero(t, y)

	_, _, ok := m.Unproject(1, 1, 0)
	assert.False(t, ok)
}

func TestProjectRoundTrip(t *testing.T) {
	g := smallGeometry(t)
	p, err := NewProjector(rig.DefaultIntrinsics(), g, 2)
	require.NoError(t, err)

	store := pyramid.NewFrameStore(g, 2)
	require.NoError(t, p.Project(context.Background(), store, rampFrames(g, 2)))

	for c := 0; c < 2; c++ {
		for lvl := 0; lvl < g.NumLevels(); lvl++ {
			b := store.Level(c, lvl)
			for i := 0; i < b.Rows; i++ {
				for j := 0; j < b.Cols; j++ {
					z := b.Depth.At(i, j)
					ui, uj, ok := p.Unproject(lvl, b.X.At(i, j), b.Y.At(i, j), z)
					require.True(t, ok, "cam %d level %d (%d,%d)", c, lvl, i, j)
					assert.InDelta(t, float64(i), ui, 1e-3)
					assert.InDelta(t, float64(j), uj, 1e-3)
				}
			}
		}
	}
}

func TestProjectCoarseLevelsIgnoreInvalid(t *testing.T) {
	g := smallGeometry(t)
	p, err := NewProjector(rig.DefaultIntrinsics(), g, 1)
	require.NoError(t, err)

	frames := rampFrames(g, 1)
	d := frames[0].Depth
	// Top-left block: one valid sample.
	d.Set(0, 0, 0)
	d.Set(0, 1, 0)
	d.Set(1, 0, 0)
	d.Set(1, 1, 2)
	// Next block: none valid.
	d.Set(0, 2, 0)
	d.Set(0, 3, 0)
	d.Set(1, 2, 0)
	d.Set(1, 3, 0)
	// Next block: all valid.
	d.Set(0, 4, 1)
	d.Set(0, 5, 2)
	d.Set(1, 4, 3)
	d.Set(1, 5, 4)

	store := pyramid.NewFrameStore(g, 1)
	require.NoError(t, p.Project(context.Background(), store, frames))

	l1 := store.Level(0, 1)
	assert.Equal(t, float32(2), l1.Depth.At(0, 0))
	assert.Equal(t, float32(0), l1.Depth.At(0, 1))
	assert.Equal(t, float32(2.5), l1.Depth.At(0, 2))
	assert.Zero(t, l1.X.At(0, 1))
	assert.Zero(t, l1.Y.At(0, 1))

	// x/y use level 1's own model, not level 0's.
	x, y := p.Model(1).Project(0, 0, 2)
	assert.Equal(t, x, l1.X.At(0, 0))
	assert.Equal(t, y, l1.Y.At(0, 0))
}

func TestProjectSavesOld(t *testing.T) {
	g := smallGeometry(t)
	p, err := NewProjector(rig.DefaultIntrinsics(), g, 0)
	require.NoError(t, err)
	store := pyramid.NewFrameStore(g, 1)

	first := rampFrames(g, 1)
	require.NoError(t, p.Project(context.Background(), store, first))
	want := store.Level(0, 2).Depth.Clone()

	second := rampFrames(g, 1)
	second[0].Depth.Fill(1)
	require.NoError(t, p.Project(context.Background(), store, second))

	b := store.Level(0, 2)
	if diff := cmp.Diff(want.Data, b.DepthOld.Data); diff != "" {
		t.Errorf("old depth mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, float32(1), b.Depth.At(0, 0))
}

func TestProjectWorkerCountDoesNotChangeResult(t *testing.T) {
	g := smallGeometry(t)
	frames := rampFrames(g, 4)

	run := func(workers int) *pyramid.FrameStore {
		p, err := NewProjector(rig.DefaultIntrinsics(), g, workers)
		require.NoError(t, err)
		s := pyramid.NewFrameStore(g, 4)
		require.NoError(t, p.Project(context.Background(), s, frames))
		return s
	}
	serial, parallel := run(1), run(4)
	for c := 0; c < 4; c++ {
		for lvl := 0; lvl < g.NumLevels(); lvl++ {
			if diff := cmp.Diff(serial.Level(c, lvl), parallel.Level(c, lvl)); diff != "" {
				t.Errorf("cam %d level %d differs:\n%s", c, lvl, diff)
			}
		}
	}
}

func TestProjectErrors(t *testing.T) {
	g := smallGeometry(t)
	p, err := NewProjector(rig.DefaultIntrinsics(), g, 1)
	require.NoError(t, err)

	store := pyramid.NewFrameStore(g, 2)
	assert.Error(t, p.Project(context.Background(), store, rampFrames(g, 1)))

	bad := rampFrames(g, 2)
	bad[1].Depth = pyramid.NewGrid(3, 3)
	assert.Error(t, p.Project(context.Background(), store, bad))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Project(ctx, store, rampFrames(g, 2)), context.Canceled)

	_, err = NewProjector(rig.Intrinsics{FOVH: math.Pi, FOVV: 1}, g, 1)
	assert.Error(t, err)
}

func TestProjectCancelledLeavesEveryCameraUntouched(t *testing.T) {
	g := smallGeometry(t)
	p, err := NewProjector(rig.DefaultIntrinsics(), g, 2)
	require.NoError(t, err)
	store := pyramid.NewFrameStore(g, 4)
	require.NoError(t, p.Project(context.Background(), store, rampFrames(g, 4)))

	before := make([]pyramid.LevelBuffers, 4)
	for c := range before {
		b := store.Level(c, 0)
		before[c] = pyramid.LevelBuffers{Depth: b.Depth.Clone(), DepthOld: b.DepthOld.Clone()}
	}

	next := rampFrames(g, 4)
	for _, f := range next {
		f.Depth.Fill(3)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Project(ctx, store, next), context.Canceled)

	for c := range before {
		b := store.Level(c, 0)
		if diff := cmp.Diff(before[c].Depth.Data, b.Depth.Data); diff != "" {
			t.Errorf("cam %d depth changed (-want +got):\n%s", c, diff)
		}
		if diff := cmp.Diff(before[c].DepthOld.Data, b.DepthOld.Data); diff != "" {
			t.Errorf("cam %d old depth changed (-want +got):\n%s", c, diff)
		}
	}
}
