package odometry

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/depthrig/internal/rig"
)

// GlobalPoseState is the rig's pose in the world frame.
type GlobalPoseState struct {
	// Current is the latest 4x4 pose.
	Current *mat.Dense
	// Previous is the pose before the latest estimate; the anchor
	// captured at priming until the first estimate.
	Previous *mat.Dense
	// Covariance is the 6x6 covariance of the latest estimate.
	Covariance *mat.SymDense
	// FirstPoseRecorded is set once an estimate has been applied.
	FirstPoseRecorded bool
}

// NewGlobalPoseState starts at the identity with zero covariance.
func NewGlobalPoseState() *GlobalPoseState {
	return &GlobalPoseState{
		Current:    rig.Identity(),
		Previous:   rig.Identity(),
		Covariance: mat.NewSymDense(6, nil),
	}
}

// anchor copies the current pose into the previous pose.
func (g *GlobalPoseState) anchor() {
	g.Previous.Copy(g.Current)
}

// Apply makes est the current pose and records the first pose.
func (g *GlobalPoseState) Apply(est Estimate) error {
	if est.Pose == nil || !rig.IsValidTransform(est.Pose) {
		return fmt.Errorf("estimator returned an invalid pose")
	}
	if est.Covariance != nil {
		if n := est.Covariance.SymmetricDim(); n != 6 {
			return fmt.Errorf("estimator returned a %dx%d covariance, want 6x6", n, n)
		}
	}
	g.anchor()
	g.Current.Copy(est.Pose)
	if est.Covariance != nil {
		g.Covariance.CopySym(est.Covariance)
	}
	g.FirstPoseRecorded = true
	return nil
}

// PositionCovariance returns the top-left 3x3 block of the covariance,
// row-major.
func (g *GlobalPoseState) PositionCovariance() [9]float64 {
	var out [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[3*i+j] = g.Covariance.At(i, j)
		}
	}
	return out
}
