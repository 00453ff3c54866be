// Command rigodo replays a multi-camera range log through the odometry
// pipeline and exports the estimated trajectory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/depthrig/internal/config"
	"github.com/banshee-data/depthrig/internal/fsutil"
	"github.com/banshee-data/depthrig/internal/monitoring"
	"github.com/banshee-data/depthrig/internal/odometry"
	"github.com/banshee-data/depthrig/internal/scene"
	"github.com/banshee-data/depthrig/internal/sensorlog"
	"github.com/banshee-data/depthrig/internal/version"
)

var (
	configPath = flag.String("config", "config/rig.example.json", "Path to the rig configuration file")
	logDiag    = flag.String("log-diag", "", "Diagnostic log destination: a file path, - for stderr, empty to disable")
	logTrace   = flag.String("log-trace", "", "Per-record trace log destination: a file path, - for stderr, empty to disable")
	logFormat  = flag.Bool("log-format-debug", false, "Log sensor log chunk loads to stderr")
	showVer    = flag.Bool("version", false, "Print the version and exit")
)

// openLogWriter maps a flag value to a writer. The returned closer is nil
// when there is nothing to close.
func openLogWriter(dest string) (io.Writer, io.Closer, error) {
	switch dest {
	case "":
		return nil, nil, nil
	case "-":
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println(version.String())
		return
	}

	diag, diagCloser, err := openLogWriter(*logDiag)
	if err != nil {
		log.Fatalf("failed to open diag log: %v", err)
	}
	if diagCloser != nil {
		defer diagCloser.Close()
	}
	trace, traceCloser, err := openLogWriter(*logTrace)
	if err != nil {
		log.Fatalf("failed to open trace log: %v", err)
	}
	if traceCloser != nil {
		defer traceCloser.Close()
	}
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
	if *logFormat {
		sensorlog.SetDebugLogger(os.Stderr)
	}

	monitoring.Opsf("rigodo %s", version.String())
	cfg, err := config.LoadRigConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sc := scene.New()
	fsys := fsutil.OSFileSystem{}
	p, err := odometry.NewPipeline(cfg, odometry.Options{Sink: sc, FS: fsys})
	if err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, runErr := p.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("run stopped: %v", runErr)
	}
	if err := p.Close(); err != nil {
		log.Printf("failed to close pipeline: %v", err)
	}

	if dir := cfg.GetPlotDir(); dir != "" {
		writePlots(sc, fsys, dir)
	}

	log.Printf("%d cycles, %d estimates, %d poses exported, %d aborted cycles, %d records skipped",
		stats.Cycles, stats.Estimates, stats.ExportedPoses, stats.Sync.AbortedCycles, stats.Sync.SkippedRecords)
	log.Printf("projection %v, estimation %v", stats.ProjectTime, stats.EstimateTime)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		os.Exit(1)
	}
}

func writePlots(sc *scene.Scene, fsys fsutil.FileSystem, dir string) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		log.Printf("failed to create plot dir: %v", err)
		return
	}
	png := filepath.Join(dir, "trajectory.png")
	if err := sc.WritePlot(fsys, png); err != nil {
		log.Printf("failed to write %s: %v", png, err)
	} else {
		log.Printf("wrote %s", png)
	}
	html := filepath.Join(dir, "trajectory.html")
	if err := sc.WriteChart(fsys, html); err != nil {
		log.Printf("failed to write %s: %v", html, err)
	} else {
		log.Printf("wrote %s", html)
	}
}
