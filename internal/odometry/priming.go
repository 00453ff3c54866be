package odometry

import "fmt"

// PrimingState is the one-way readiness of the pipeline. Motion needs two
// frames, so the first completed cycle only fills the pyramid.
type PrimingState int

const (
	// Unprimed means no cycle has completed yet.
	Unprimed PrimingState = iota
	// Primed means old buffers hold a real frame and estimation may run.
	Primed
)

func (s PrimingState) String() string {
	switch s {
	case Unprimed:
		return "unprimed"
	case Primed:
		return "primed"
	default:
		return fmt.Sprintf("PrimingState(%d)", int(s))
	}
}

// PrimingController gates estimation until the first cycle is in.
type PrimingController struct {
	state PrimingState
}

// State returns the current state.
func (p *PrimingController) State() PrimingState {
	return p.state
}

// CanEstimate reports whether the estimator may be invoked.
func (p *PrimingController) CanEstimate() bool {
	return p.state == Primed
}

// Prime moves Unprimed to Primed, anchoring pose's previous pose at its
// current pose. It reports whether a transition happened; once primed it
// is a no-op.
func (p *PrimingController) Prime(pose *GlobalPoseState) bool {
	if p.state == Primed {
		return false
	}
	pose.anchor()
	p.state = Primed
	return true
}
