// Package projection turns clipped depth frames into the per-level depth and
// metric x/y grids of every camera's pyramid.
package projection

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/depthrig/internal/acquire"
	"github.com/banshee-data/depthrig/internal/monitoring"
	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/rig"
)

// Pinhole is the shared camera model evaluated at one image size.
type Pinhole struct {
	Fx, Fy float64
	Cu, Cv float64
}

// NewPinhole derives focal lengths and principal point for a rows x cols
// image.
func NewPinhole(in rig.Intrinsics, rows, cols int) Pinhole {
	fx, fy := in.FocalLengths(rows, cols)
	return Pinhole{
		Fx: fx,
		Fy: fy,
		Cu: 0.5 * float64(cols-1),
		Cv: 0.5 * float64(rows-1),
	}
}

// Project returns the metric lateral and vertical offsets of pixel (i, j)
// at depth z. Zero depth yields zero offsets.
func (p Pinhole) Project(i, j int, z float32) (x, y float32) {
	if z == 0 {
		return 0, 0
	}
	zf := float64(z)
	x = float32(zf * (float64(j) - p.Cu) / p.Fx)
	y = float32(zf * (float64(i) - p.Cv) / p.Fy)
	return x, y
}

// Unproject returns the pixel coordinates a point projects to. ok is false
// for zero depth, where the pixel cannot be recovered.
func (p Pinhole) Unproject(x, y, z float32) (i, j float64, ok bool) {
	if z == 0 {
		return 0, 0, false
	}
	zf := float64(z)
	j = float64(x)*p.Fx/zf + p.Cu
	i = float64(y)*p.Fy/zf + p.Cv
	return i, j, true
}

// Projector fills a FrameStore from one cycle of raw frames.
type Projector struct {
	geom    *pyramid.Geometry
	models  []Pinhole // per level
	workers int
}

// NewProjector precomputes the pinhole model of every level. workers
// bounds how many cameras are processed at once; values below 1 mean
// unbounded.
func NewProjector(in rig.Intrinsics, g *pyramid.Geometry, workers int) (*Projector, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p := &Projector{
		geom:    g,
		models:  make([]Pinhole, g.NumLevels()),
		workers: workers,
	}
	for i, lvl := range g.Levels() {
		p.models[i] = NewPinhole(in, lvl.Rows, lvl.Cols)
	}
	return p, nil
}

// Model returns the pinhole model used at level.
func (p *Projector) Model(level int) Pinhole {
	return p.models[level]
}

// Unproject maps a point stored at level back to its pixel coordinates.
func (p *Projector) Unproject(level int, x, y, z float32) (i, j float64, ok bool) {
	return p.models[level].Unproject(x, y, z)
}

// Project saves every camera's current pyramid into its old buffers, then
// rebuilds every level from frames. Cameras run concurrently and Project
// returns once all of them are done. A cancelled ctx is reported before
// any camera is touched.
func (p *Projector) Project(ctx context.Context, store *pyramid.FrameStore, frames []acquire.RawDepthFrame) error {
	if len(frames) != store.NumCameras() {
		return fmt.Errorf("got %d frames for %d cameras", len(frames), store.NumCameras())
	}
	for c := range frames {
		if d := frames[c].Depth; d.Rows != p.geom.WorkingRows || d.Cols != p.geom.WorkingCols {
			return fmt.Errorf("camera %d frame is %dx%d, want %dx%d",
				c, d.Rows, d.Cols, p.geom.WorkingRows, p.geom.WorkingCols)
		}
	}

	// Once any camera is rebuilt all of them must be, so cancellation is
	// only honoured before the fan-out.
	if err := ctx.Err(); err != nil {
		return err
	}
	var g errgroup.Group
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for c := range frames {
		g.Go(func() error {
			p.projectCamera(store, c, frames[c].Depth)
			return nil
		})
	}
	return g.Wait()
}

// projectCamera rebuilds one camera's pyramid, finest level first.
func (p *Projector) projectCamera(store *pyramid.FrameStore, cam int, depth *pyramid.Grid) {
	store.SaveOld(cam)

	base := store.Level(cam, 0)
	copy(base.Depth.Data, depth.Data)
	fillCoordinates(base, p.models[0])

	for i := 1; i < p.geom.NumLevels(); i++ {
		b := store.Level(cam, i)
		halveDepth(b.Depth, store.Level(cam, i-1).Depth)
		fillCoordinates(b, p.models[i])
	}
	monitoring.Tracef("camera %d projected %d levels", cam, p.geom.NumLevels())
}

// fillCoordinates computes x and y from depth for every pixel of a level.
func fillCoordinates(b *pyramid.LevelBuffers, m Pinhole) {
	for i := 0; i < b.Rows; i++ {
		zs := b.Depth.Row(i)
		xs := b.X.Row(i)
		ys := b.Y.Row(i)
		for j, z := range zs {
			xs[j], ys[j] = m.Project(i, j, z)
		}
	}
}

// halveDepth sets each dst pixel to the mean of the non-zero samples in the
// matching 2x2 block of src, or 0 when the block has none.
func halveDepth(dst, src *pyramid.Grid) {
	for i := 0; i < dst.Rows; i++ {
		top := src.Row(2 * i)
		bottom := src.Row(2*i + 1)
		out := dst.Row(i)
		for j := range out {
			var sum float32
			n := 0
			for _, z := range [4]float32{top[2*j], top[2*j+1], bottom[2*j], bottom[2*j+1]} {
				if z != 0 {
					sum += z
					n++
				}
			}
			if n == 0 {
				out[j] = 0
				continue
			}
			out[j] = sum / float32(n)
		}
	}
}
