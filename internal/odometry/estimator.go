package odometry

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/rig"
)

// Input is what the estimator sees for one cycle.
type Input struct {
	Cycle int
	// Frames is the pyramid of every camera. Current and old grids are
	// read-only; warped grids are scratch.
	Frames pyramid.View
	Rig    *rig.Rig
	// Pose is a copy of the current global pose.
	Pose *mat.Dense
	// TimestampsNs holds each camera's frame timestamp.
	TimestampsNs []int64
	// DeltaSeconds is the time since the previous cycle, from camera 0.
	DeltaSeconds float64
}

// Estimate is the estimator's answer for one cycle.
type Estimate struct {
	// Pose is the new global 4x4 pose.
	Pose *mat.Dense
	// Covariance is 6x6; nil keeps the previous one.
	Covariance *mat.SymDense
	// Weights holds per-camera weights at the representative level;
	// nil entries mean uniform weight.
	Weights []*pyramid.Grid
}

// Estimator computes rig motion between the old and current pyramids.
type Estimator interface {
	Estimate(ctx context.Context, in Input) (Estimate, error)
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(ctx context.Context, in Input) (Estimate, error)

// Estimate calls f.
func (f EstimatorFunc) Estimate(ctx context.Context, in Input) (Estimate, error) {
	return f(ctx, in)
}

// ZeroMotionEstimator reports no motion with zero covariance. It stands in
// when no dense estimator is linked.
type ZeroMotionEstimator struct{}

// Estimate returns the input pose.
func (ZeroMotionEstimator) Estimate(_ context.Context, in Input) (Estimate, error) {
	return Estimate{
		Pose:       mat.DenseCopyOf(in.Pose),
		Covariance: mat.NewSymDense(6, nil),
	}, nil
}
