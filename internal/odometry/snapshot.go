package odometry

import (
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/rig"
	"github.com/banshee-data/depthrig/internal/scene"
)

func flatten(m mat.Matrix) [16]float64 {
	var out [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[4*i+j] = m.At(i, j)
		}
	}
	return out
}

func position(m mat.Matrix) scene.Vec3 {
	x, y, z := rig.Translation(m)
	return scene.Vec3{X: x, Y: y, Z: z}
}

// publish hands a snapshot of the representation level to the sink.
// weights, when present, holds one grid per camera at that level.
func (p *Pipeline) publish(cycle int, stampNs int64, weights []*pyramid.Grid) {
	if p.sink == nil {
		return
	}
	p.sink.Publish(p.snapshot(cycle, stampNs, weights))
}

func (p *Pipeline) snapshot(cycle int, stampNs int64, weights []*pyramid.Grid) scene.Snapshot {
	snap := scene.Snapshot{
		Cycle:       cycle,
		TimestampNs: stampNs,
		Pose:        flatten(p.pose.Current),
		Covariance:  p.pose.PositionCovariance(),
		Cameras:     make([]scene.CameraView, p.rig.NumCameras()),
	}
	if p.pose.FirstPoseRecorded {
		snap.Segment = &scene.Segment{
			From: position(p.pose.Previous),
			To:   position(p.pose.Current),
		}
	}

	view := p.store.View()
	repr := p.geom.ReprLevel
	for c := range snap.Cameras {
		camPose := rig.Compose(p.pose.Current, p.calibrations[c])
		var w *pyramid.Grid
		if c < len(weights) {
			w = weights[c]
		}
		depth, xs, ys := view.Current(c, repr)
		snap.Cameras[c] = scene.CameraView{
			Label:  p.rig.Camera(c).Label,
			Pose:   flatten(camPose),
			Points: worldPoints(depth, xs, ys, w, camPose),
		}
	}
	return snap
}

// worldPoints maps every valid sample into the world frame. Depth runs
// along the camera's forward axis, x sideways and y up.
func worldPoints(depth, xs, ys, weights *pyramid.Grid, camPose mat.Matrix) []scene.Point {
	pts := make([]scene.Point, 0, len(depth.Data))
	useWeights := weights != nil && weights.Rows == depth.Rows && weights.Cols == depth.Cols
	for k, z := range depth.Data {
		if z <= 0 {
			continue
		}
		wx, wy, wz := rig.ApplyPose(float64(z), float64(xs.Data[k]), float64(ys.Data[k]), camPose)
		pt := scene.Point{X: float32(wx), Y: float32(wy), Z: float32(wz), Weight: 1}
		if useWeights {
			pt.Weight = weights.Data[k]
		}
		pts = append(pts, pt)
	}
	return pts
}
