// Package scene receives immutable snapshots of the rig state after every
// cycle and keeps what a viewer needs: the latest per-camera point clouds
// and the accumulated trajectory.
package scene

import (
	"sync"
)

// Vec3 is a world-frame position in metres.
type Vec3 struct {
	X, Y, Z float64
}

// Point is a world-frame sample with the estimator's weight.
type Point struct {
	X, Y, Z float32
	Weight  float32
}

// CameraView is one camera's contribution to a snapshot.
type CameraView struct {
	Label string
	// Pose is the camera's world pose (global pose composed with its
	// extrinsic), row-major 4x4.
	Pose   [16]float64
	Points []Point
}

// Position returns the camera's world position.
func (c CameraView) Position() Vec3 {
	return Vec3{X: c.Pose[3], Y: c.Pose[7], Z: c.Pose[11]}
}

// Segment is the trajectory step of one cycle.
type Segment struct {
	From, To Vec3
}

// Snapshot is the rig state after one cycle. It shares no memory with the
// pipeline.
type Snapshot struct {
	Cycle       int
	TimestampNs int64
	// Pose is the global rig pose, row-major 4x4.
	Pose [16]float64
	// Covariance is the position block of the estimate covariance,
	// row-major 3x3.
	Covariance [9]float64
	Cameras    []CameraView
	// Segment is nil until the first pose has been recorded.
	Segment *Segment
}

// Position returns the rig's world position.
func (s Snapshot) Position() Vec3 {
	return Vec3{X: s.Pose[3], Y: s.Pose[7], Z: s.Pose[11]}
}

// Sink consumes snapshots.
type Sink interface {
	Publish(Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

// Publish calls f.
func (f SinkFunc) Publish(s Snapshot) { f(s) }

// Scene accumulates published snapshots. It is safe for concurrent use.
type Scene struct {
	mu        sync.RWMutex
	latest    Snapshot
	published int
	segments  []Segment
}

// New returns an empty scene.
func New() *Scene {
	return &Scene{}
}

// Publish records snap as the latest state and appends its trajectory
// segment, if any.
func (s *Scene) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.published++
	if snap.Segment != nil {
		s.segments = append(s.segments, *snap.Segment)
	}
}

// Latest returns the most recent snapshot and whether there is one.
func (s *Scene) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.published > 0
}

// Published returns how many snapshots have been received.
func (s *Scene) Published() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// Segments returns a copy of the accumulated trajectory segments.
func (s *Scene) Segments() []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Segment(nil), s.segments...)
}

// Trajectory returns the trajectory as a polyline: the start of the first
// segment followed by the end of every segment.
func (s *Scene) Trajectory() []Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.segments) == 0 {
		return nil
	}
	out := make([]Vec3, 0, len(s.segments)+1)
	out = append(out, s.segments[0].From)
	for _, seg := range s.segments {
		out = append(out, seg.To)
	}
	return out
}
