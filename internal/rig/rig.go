// Package rig describes the rigidly mounted depth cameras: their logical
// processing order, the log label each one records under, their extrinsic
// pose on the rig and the pinhole model they share.
package rig

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Default shared field of view. Depth is registered with colour on the
// cameras this rig was built for, hence the wide angles.
const (
	DefaultFOVHDeg = 62.5
	DefaultFOVVDeg = 48.5
)

// Intrinsics is the pinhole model shared by every camera on the rig.
// Angles are in radians.
type Intrinsics struct {
	FOVH float64
	FOVV float64
}

// DefaultIntrinsics returns the default shared field of view.
func DefaultIntrinsics() Intrinsics {
	return Intrinsics{
		FOVH: DefaultFOVHDeg * math.Pi / 180,
		FOVV: DefaultFOVVDeg * math.Pi / 180,
	}
}

// FocalLengths returns the focal lengths in pixels for an image of the
// given size.
func (in Intrinsics) FocalLengths(rows, cols int) (fx, fy float64) {
	fx = float64(cols) / (2 * math.Tan(0.5*in.FOVH))
	fy = float64(rows) / (2 * math.Tan(0.5*in.FOVV))
	return fx, fy
}

// Validate checks both angles lie in (0, pi).
func (in Intrinsics) Validate() error {
	if !(in.FOVH > 0 && in.FOVH < math.Pi) {
		return fmt.Errorf("horizontal field of view %v rad out of range (0, pi)", in.FOVH)
	}
	if !(in.FOVV > 0 && in.FOVV < math.Pi) {
		return fmt.Errorf("vertical field of view %v rad out of range (0, pi)", in.FOVV)
	}
	return nil
}

// Extrinsic is a camera's pose on the rig. Angles are in radians, applied
// as yaw about Z, then pitch about Y, then roll about X.
type Extrinsic struct {
	X, Y, Z          float64
	Yaw, Pitch, Roll float64
}

// Transform returns the 4x4 homogeneous transform of the pose.
func (e Extrinsic) Transform() *mat.Dense {
	return PoseFromValues(e.X, e.Y, e.Z, e.Yaw, e.Pitch, e.Roll)
}

// CameraSpec is one camera on the rig. Immutable once the rig is built.
type CameraSpec struct {
	Index     int
	Label     string
	Extrinsic Extrinsic

	calibration *mat.Dense
}

// Calibration returns a copy of the camera's extrinsic transform.
func (c CameraSpec) Calibration() *mat.Dense {
	return mat.DenseCopyOf(c.calibration)
}

// Rig is the ordered set of cameras plus their shared intrinsics.
type Rig struct {
	cameras    []CameraSpec
	byLabel    map[string]int
	intrinsics Intrinsics
}

// NewRig builds a rig whose logical camera i records under order[i].
// Every label must appear exactly once in order and have an extrinsic.
func NewRig(order []string, extrinsics map[string]Extrinsic, in Intrinsics) (*Rig, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("camera order is empty")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	r := &Rig{
		cameras:    make([]CameraSpec, 0, len(order)),
		byLabel:    make(map[string]int, len(order)),
		intrinsics: in,
	}
	for i, label := range order {
		if label == "" {
			return nil, fmt.Errorf("camera %d has an empty label", i)
		}
		if prev, dup := r.byLabel[label]; dup {
			return nil, fmt.Errorf("camera label %q used by cameras %d and %d", label, prev, i)
		}
		ext, ok := extrinsics[label]
		if !ok {
			return nil, fmt.Errorf("no extrinsic calibration for camera %q", label)
		}
		r.byLabel[label] = i
		r.cameras = append(r.cameras, CameraSpec{
			Index:       i,
			Label:       label,
			Extrinsic:   ext,
			calibration: ext.Transform(),
		})
	}
	return r, nil
}

// NumCameras returns NC.
func (r *Rig) NumCameras() int {
	return len(r.cameras)
}

// Camera returns logical camera i.
func (r *Rig) Camera(i int) CameraSpec {
	return r.cameras[i]
}

// Labels returns the log labels in logical order.
func (r *Rig) Labels() []string {
	labels := make([]string, len(r.cameras))
	for i, c := range r.cameras {
		labels[i] = c.Label
	}
	return labels
}

// IndexOf returns the logical index of the camera recording under label.
func (r *Rig) IndexOf(label string) (int, bool) {
	i, ok := r.byLabel[label]
	return i, ok
}

// Intrinsics returns the shared pinhole model.
func (r *Rig) Intrinsics() Intrinsics {
	return r.intrinsics
}
