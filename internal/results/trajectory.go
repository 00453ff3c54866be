// Package results exports the estimated rig trajectory: as TUM text files
// for evaluation tools and as runs in a sqlite trajectory store.
package results

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/depthrig/internal/fsutil"
	"github.com/banshee-data/depthrig/internal/rig"
)

// ErrResultsFile reports that a trajectory file could not be created or
// written. Runs continue without export when it occurs.
var ErrResultsFile = errors.New("results file error")

// maxExperiments bounds the experiment_%03d.txt search.
const maxExperiments = 1000

// ExperimentName returns the file name of experiment n.
func ExperimentName(n int) string {
	return fmt.Sprintf("experiment_%03d.txt", n)
}

// TUMPose is one trajectory sample: timestamp, translation and unit
// quaternion of the rig pose.
type TUMPose struct {
	TimestampNs int64
	X, Y, Z     float64
	QX, QY, QZ  float64
	QW          float64
}

// NewTUMPose samples a 4x4 homogeneous pose.
func NewTUMPose(timestampNs int64, pose mat.Matrix) TUMPose {
	x, y, z := rig.Translation(pose)
	q := rig.Quaternion(pose)
	return TUMPose{
		TimestampNs: timestampNs,
		X:           x,
		Y:           y,
		Z:           z,
		QX:          q.Imag,
		QY:          q.Jmag,
		QZ:          q.Kmag,
		QW:          q.Real,
	}
}

// Seconds returns the timestamp in seconds.
func (p TUMPose) Seconds() float64 {
	return float64(p.TimestampNs) / 1e9
}

// String formats the pose as a TUM line without the newline.
func (p TUMPose) String() string {
	return fmt.Sprintf("%.4f %.6f %.6f %.6f %.6f %.6f %.6f %.6f",
		p.Seconds(), p.X, p.Y, p.Z, p.QX, p.QY, p.QZ, p.QW)
}

// TrajectoryWriter appends TUM lines to the first free experiment file of a
// results directory.
type TrajectoryWriter struct {
	path  string
	f     io.WriteCloser
	buf   *bufio.Writer
	lines int
}

// NewTrajectoryWriter creates dir if needed and claims the lowest-numbered
// experiment file, starting at experiment_001.txt, that does not exist yet.
func NewTrajectoryWriter(fsys fsutil.FileSystem, dir string) (*TrajectoryWriter, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrResultsFile, dir, err)
	}

	for n := 1; n < maxExperiments; n++ {
		path := filepath.Join(dir, ExperimentName(n))
		f, err := fsys.CreateNew(path)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrResultsFile, path, err)
		}
		return &TrajectoryWriter{path: path, f: f, buf: bufio.NewWriter(f)}, nil
	}
	return nil, fmt.Errorf("%w: no free experiment file in %s (max %d)", ErrResultsFile, dir, maxExperiments)
}

// Path returns the claimed file path.
func (w *TrajectoryWriter) Path() string {
	return w.path
}

// Lines returns the number of poses written.
func (w *TrajectoryWriter) Lines() int {
	return w.lines
}

// Write appends one pose.
func (w *TrajectoryWriter) Write(p TUMPose) error {
	if _, err := fmt.Fprintln(w.buf, p.String()); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrResultsFile, w.path, err)
	}
	w.lines++
	return nil
}

// Close flushes and closes the file.
func (w *TrajectoryWriter) Close() error {
	flushErr := w.buf.Flush()
	closeErr := w.f.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrResultsFile, w.path, err)
	}
	return nil
}
