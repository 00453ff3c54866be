// Package odometry drives the acquisition cycle of the rig: synchronize one
// frame per camera, rebuild the coordinate pyramids, and, once primed, hand
// the pyramids to the motion estimator and publish the result.
package odometry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/depthrig/internal/acquire"
	"github.com/banshee-data/depthrig/internal/config"
	"github.com/banshee-data/depthrig/internal/fsutil"
	"github.com/banshee-data/depthrig/internal/monitoring"
	"github.com/banshee-data/depthrig/internal/projection"
	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/results"
	"github.com/banshee-data/depthrig/internal/rig"
	"github.com/banshee-data/depthrig/internal/scene"
	"github.com/banshee-data/depthrig/internal/sensorlog"
	"github.com/banshee-data/depthrig/internal/timeutil"
)

// Options holds the optional collaborators of a Pipeline.
type Options struct {
	// Estimator defaults to ZeroMotionEstimator.
	Estimator Estimator
	// Sink receives a snapshot after every completed cycle.
	Sink scene.Sink
	// Clock times the cycle phases. Defaults to the real clock.
	Clock timeutil.Clock
	// FS is where trajectory files are written. Defaults to the OS.
	FS fsutil.FileSystem
}

// StepResult describes one call to Step.
type StepResult struct {
	Status acquire.CycleStatus
	// Cycle is the 1-based number of the completed cycle, 0 on end of
	// stream.
	Cycle int
	// Primed is set on the cycle that primed the pipeline.
	Primed bool
	// Estimated is set when the estimator ran.
	Estimated bool
}

// Stats summarises a run.
type Stats struct {
	Cycles        int
	Estimates     int
	ExportedPoses int
	Sync          acquire.SyncStats
	ProjectTime   time.Duration
	EstimateTime  time.Duration
}

// Pipeline owns every long-lived buffer of a run.
type Pipeline struct {
	cfg   *config.RigConfig
	rig   *rig.Rig
	geom  *pyramid.Geometry
	log   *sensorlog.Log
	sync  *acquire.Synchronizer
	store *pyramid.FrameStore
	proj  *projection.Projector

	priming PrimingController
	pose    *GlobalPoseState

	estimator Estimator
	sink      scene.Sink
	clock     timeutil.Clock

	calibrations []*mat.Dense

	trajectory *results.TrajectoryWriter
	db         *results.TrajectoryStore
	runID      string

	stats       Stats
	lastStampNs int64
}

// NewPipeline validates cfg, opens the sensor log and allocates the
// pyramids. Invalid configuration wraps config.ErrConfiguration; an
// unreadable log wraps sensorlog.ErrLogOpen. Failing to create the results
// file is logged and the run proceeds without it.
func NewPipeline(cfg *config.RigConfig, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r, err := rig.NewRig(cfg.CameraOrder, cfg.Extrinsics(), cfg.Intrinsics())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	geom, err := pyramid.NewGeometry(cfg.GeometryConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	proj, err := projection.NewProjector(r.Intrinsics(), geom, cfg.GetWorkers())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	p := &Pipeline{
		cfg:       cfg,
		rig:       r,
		geom:      geom,
		store:     pyramid.NewFrameStore(geom, r.NumCameras()),
		proj:      proj,
		pose:      NewGlobalPoseState(),
		estimator: opts.Estimator,
		sink:      opts.Sink,
		clock:     opts.Clock,
	}
	if p.estimator == nil {
		p.estimator = ZeroMotionEstimator{}
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	for c := 0; c < r.NumCameras(); c++ {
		p.calibrations = append(p.calibrations, r.Camera(c).Calibration())
	}

	p.log, err = sensorlog.Open(cfg.LogPath())
	if err != nil {
		return nil, err
	}
	p.warnMissingSensors()

	p.sync, err = acquire.NewSynchronizer(acquire.NewCursor(p.log), r.Labels(), acquire.SynchronizerConfig{
		Rows:       geom.WorkingRows,
		Cols:       geom.WorkingCols,
		Downsample: cfg.GetDownsample(),
		MaxDepth:   float32(cfg.GetMaxDepth()),
	})
	if err != nil {
		p.log.Close()
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	if cfg.GetSaveResults() {
		fsys := opts.FS
		if fsys == nil {
			fsys = fsutil.OSFileSystem{}
		}
		p.trajectory, err = results.NewTrajectoryWriter(fsys, cfg.GetResultsDir())
		if err != nil {
			monitoring.Opsf("trajectory export disabled: %v", err)
		} else {
			monitoring.Opsf("writing trajectory to %s", p.trajectory.Path())
		}
	}

	if path := cfg.GetTrajectoryDB(); path != "" {
		if err := p.openTrajectoryStore(path); err != nil {
			p.Close()
			return nil, err
		}
	}

	monitoring.Opsf("pipeline ready: %d cameras %v, working %dx%d, %d levels (repr %d), %d records",
		r.NumCameras(), r.Labels(), geom.WorkingCols, geom.WorkingRows, geom.NumLevels(), geom.ReprLevel, p.log.Len())
	return p, nil
}

// warnMissingSensors logs configured labels the log header never lists.
func (p *Pipeline) warnMissingSensors() {
	sensors := p.log.Header().Sensors
	if len(sensors) == 0 {
		return
	}
	present := make(map[string]bool, len(sensors))
	for _, s := range sensors {
		present[s] = true
	}
	for _, label := range p.rig.Labels() {
		if !present[label] {
			monitoring.Opsf("camera %q does not appear in log sensors %v", label, sensors)
		}
	}
}

func (p *Pipeline) openTrajectoryStore(path string) error {
	store, err := results.OpenTrajectoryStore(path)
	if err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(p.cfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	run := &results.Run{
		LogPath:     p.cfg.LogPath(),
		CameraOrder: p.rig.Labels(),
		ConfigJSON:  cfgJSON,
		StartedAt:   p.clock.Now().UnixNano(),
	}
	if err := store.StartRun(run); err != nil {
		store.Close()
		return err
	}
	p.db = store
	p.runID = run.RunID
	monitoring.Opsf("recording run %s in %s", run.RunID, path)
	return nil
}

// Rig returns the camera rig.
func (p *Pipeline) Rig() *rig.Rig { return p.rig }

// Geometry returns the pyramid layout.
func (p *Pipeline) Geometry() *pyramid.Geometry { return p.geom }

// Store returns the frame store. Callers must not write to it.
func (p *Pipeline) Store() *pyramid.FrameStore { return p.store }

// Pose returns the global pose state. Callers must not write to it.
func (p *Pipeline) Pose() *GlobalPoseState { return p.pose }

// Priming returns the priming state.
func (p *Pipeline) Priming() PrimingState { return p.priming.State() }

// RunID returns the trajectory store run id, or "".
func (p *Pipeline) RunID() string { return p.runID }

// ResultsPath returns the trajectory file path, or "" when not exporting.
func (p *Pipeline) ResultsPath() string {
	if p.trajectory == nil {
		return ""
	}
	return p.trajectory.Path()
}

// Stats returns counters for the run so far.
func (p *Pipeline) Stats() Stats {
	s := p.stats
	s.Sync = p.sync.Stats()
	return s
}

// Step runs one acquisition cycle. End of stream, including a cycle cut
// short by it, is reported as CycleEndOfStream with a nil error and leaves
// the frame store untouched.
func (p *Pipeline) Step(ctx context.Context) (StepResult, error) {
	status, err := p.sync.Acquire()
	if err != nil {
		return StepResult{Status: status}, fmt.Errorf("acquire: %w", err)
	}
	if status == acquire.CycleEndOfStream {
		return StepResult{Status: status}, nil
	}

	frames := p.sync.Frames()
	stamps := make([]int64, len(frames))
	for c, f := range frames {
		stamps[c] = f.TimestampNs
	}

	start := p.clock.Now()
	if err := p.proj.Project(ctx, p.store, frames); err != nil {
		return StepResult{Status: status}, fmt.Errorf("project: %w", err)
	}
	p.stats.ProjectTime += p.clock.Since(start)
	p.stats.Cycles++

	res := StepResult{Status: status, Cycle: p.stats.Cycles}
	if !p.priming.CanEstimate() {
		res.Primed = p.priming.Prime(p.pose)
		p.lastStampNs = stamps[0]
		monitoring.Diagf("cycle %d: primed at t=%d", res.Cycle, stamps[0])
		p.publish(res.Cycle, stamps[0], nil)
		return res, nil
	}

	in := Input{
		Cycle:        res.Cycle,
		Frames:       p.store.View(),
		Rig:          p.rig,
		Pose:         mat.DenseCopyOf(p.pose.Current),
		TimestampsNs: stamps,
		DeltaSeconds: float64(stamps[0]-p.lastStampNs) / 1e9,
	}
	start = p.clock.Now()
	est, err := p.estimator.Estimate(ctx, in)
	if err != nil {
		return res, fmt.Errorf("estimate cycle %d: %w", res.Cycle, err)
	}
	p.stats.EstimateTime += p.clock.Since(start)
	if err := p.pose.Apply(est); err != nil {
		return res, fmt.Errorf("cycle %d: %w", res.Cycle, err)
	}
	p.stats.Estimates++
	p.lastStampNs = stamps[0]
	res.Estimated = true

	x, y, z := rig.Translation(p.pose.Current)
	monitoring.Diagf("cycle %d: t=%d dt=%.3fs pose=(%.3f, %.3f, %.3f)", res.Cycle, stamps[0], in.DeltaSeconds, x, y, z)

	p.export(res.Cycle, stamps[0])
	p.publish(res.Cycle, stamps[0], est.Weights)
	return res, nil
}

// Run steps until the log is exhausted or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	for {
		if err := ctx.Err(); err != nil {
			return p.Stats(), err
		}
		res, err := p.Step(ctx)
		if err != nil {
			return p.Stats(), err
		}
		if res.Status == acquire.CycleEndOfStream {
			s := p.Stats()
			monitoring.Opsf("end of log: %d cycles, %d estimates, %d aborted, %d label mismatches",
				s.Cycles, s.Estimates, s.Sync.AbortedCycles, s.Sync.LabelMismatches)
			return s, nil
		}
	}
}

// export writes the current pose to the enabled trajectory outputs.
func (p *Pipeline) export(cycle int, stampNs int64) {
	if p.trajectory == nil && p.db == nil {
		return
	}
	tum := results.NewTUMPose(stampNs, p.pose.Current)

	if p.trajectory != nil {
		if err := p.trajectory.Write(tum); err != nil {
			monitoring.Opsf("trajectory export stopped: %v", err)
			p.trajectory.Close()
			p.trajectory = nil
		} else {
			p.stats.ExportedPoses++
		}
	}
	if p.db != nil {
		if err := p.db.AppendPose(p.runID, cycle, tum); err != nil {
			monitoring.Opsf("trajectory store: %v", err)
		}
	}
}

// Close releases the log and flushes the trajectory outputs.
func (p *Pipeline) Close() error {
	var errs []error
	if p.trajectory != nil {
		errs = append(errs, p.trajectory.Close())
		p.trajectory = nil
	}
	if p.db != nil {
		errs = append(errs, p.db.FinishRun(p.runID, p.stats.Cycles, p.clock.Now().UnixNano()))
		errs = append(errs, p.db.Close())
		p.db = nil
	}
	if p.log != nil {
		errs = append(errs, p.log.Close())
		p.log = nil
	}
	return errors.Join(errs...)
}
