// Command gen-rangelog generates a synthetic multi-camera range log and a
// matching rig configuration for replay with rigodo.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"time"

	"github.com/banshee-data/depthrig/internal/config"
	"github.com/banshee-data/depthrig/internal/pyramid"
	"github.com/banshee-data/depthrig/internal/sensorlog"
)

// Camera labels in logical order, with the yaw each one faces.
var cameras = []struct {
	label string
	yaw   float64
}{
	{"RGBD_1", 0},
	{"RGBD_4", -90},
	{"RGBD_3", 45},
	{"RGBD_2", -45},
}

func main() {
	output := flag.String("o", "sample"+sensorlog.FileExtension, "output log path")
	configOut := flag.String("config", "", "write a matching rig config to this path")
	cycles := flag.Int("n", 100, "number of acquisition cycles")
	camMode := flag.Int("cam-mode", 2, "camera binning (1: 640x480, 2: 320x240)")
	speed := flag.Float64("speed", 0.3, "forward speed in m/s")
	interleave := flag.Bool("interleave", true, "interleave IMU and comment records between range scans")
	flag.Parse()

	if *camMode < 1 {
		log.Fatalf("cam-mode must be >= 1, got %d", *camMode)
	}
	rows := pyramid.DefaultSensorRows / *camMode
	cols := pyramid.DefaultSensorCols / *camMode
	period := 33 * time.Millisecond

	rec, err := sensorlog.NewRecorder(*output)
	if err != nil {
		log.Fatalf("failed to create recorder: %v", err)
	}

	start := time.Now().UnixNano()
	if *interleave {
		if err := rec.RecordObservation(&sensorlog.Observation{
			Kind:        sensorlog.KindComment,
			TimestampNs: start,
			Data:        []byte(fmt.Sprintf("synthetic rig: %d cameras, %dx%d", len(cameras), cols, rows)),
		}); err != nil {
			log.Fatalf("failed to record comment: %v", err)
		}
	}

	for n := 0; n < *cycles; n++ {
		travelled := *speed * period.Seconds() * float64(n)
		for c, cam := range cameras {
			ts := start + int64(n)*int64(period) + int64(c)*int64(time.Millisecond)
			if *interleave {
				if err := rec.RecordObservation(&sensorlog.Observation{
					Kind:        sensorlog.KindIMU,
					SensorLabel: "IMU",
					TimestampNs: ts - 1,
					Data:        []byte{byte(n), byte(c)},
				}); err != nil {
					log.Fatalf("failed to record imu: %v", err)
				}
			}
			if err := rec.RecordRangeScan(wallScan(cam.label, ts, rows, cols, cam.yaw, travelled)); err != nil {
				log.Fatalf("failed to record scan: %v", err)
			}
		}
		if (n+1)%10 == 0 {
			log.Printf("%d/%d cycles", n+1, *cycles)
		}
	}
	if err := rec.Close(); err != nil {
		log.Fatalf("failed to close log: %v", err)
	}
	log.Printf("✓ Created: %s (%d records)", *output, rec.RecordCount())

	if *configOut != "" {
		if err := writeConfig(*configOut, *output, *camMode); err != nil {
			log.Fatalf("failed to write config: %v", err)
		}
		log.Printf("✓ Created: %s", *configOut)
	}
}

// wallScan renders a tilted wall in front of a camera that has moved
// travelled metres forward. The top rows fall beyond the clipping range.
func wallScan(label string, ts int64, rows, cols int, yawDeg, travelled float64) *sensorlog.RangeScan {
	scan := sensorlog.NewRangeScan(label, ts, rows, cols)
	dist := 3.0 - travelled*math.Cos(yawDeg*math.Pi/180)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := dist + 2.0*float64(rows-i)/float64(rows) + 0.2*float64(j)/float64(cols)
			scan.Set(i, j, float32(v))
		}
	}
	return scan
}

func writeConfig(path, logPath string, camMode int) error {
	rel, err := filepath.Rel(filepath.Dir(path), logPath)
	if err != nil {
		rel = logPath
	}
	cfg := &config.RigConfig{
		Filename: config.Ptr(rel),
		CamMode:  config.Ptr(camMode),
		Rows:     config.Ptr(pyramid.DefaultSensorRows / camMode),
		Cols:     config.Ptr(pyramid.DefaultSensorCols / camMode),
		Cameras:  make(map[string]config.CameraPose, len(cameras)),
	}
	for _, cam := range cameras {
		cfg.CameraOrder = append(cfg.CameraOrder, cam.label)
		cfg.Cameras[cam.label] = config.CameraPose{
			X:     config.Ptr(0.27),
			Y:     config.Ptr(0.0),
			Z:     config.Ptr(1.045),
			Yaw:   config.Ptr(cam.yaw),
			Pitch: config.Ptr(0.0),
			Roll:  config.Ptr(90.0),
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.Save(path)
}
