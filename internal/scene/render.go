package scene

import (
	"errors"
	"fmt"
	"image/color"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/depthrig/internal/fsutil"
)

// ErrEmptyTrajectory is returned when there is nothing to draw.
var ErrEmptyTrajectory = errors.New("no trajectory recorded")

// WritePlot renders a top view of the trajectory and the latest camera
// positions as a PNG.
func (s *Scene) WritePlot(fsys fsutil.FileSystem, path string) error {
	traj := s.Trajectory()
	if len(traj) == 0 {
		return ErrEmptyTrajectory
	}
	latest, _ := s.Latest()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Rig trajectory (%d segments)", len(traj)-1)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(traj))
	for i, v := range traj {
		pts[i] = plotter.XY{X: v.X, Y: v.Y}
	}
	line, scatter, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("trajectory line: %w", err)
	}
	line.Color = color.RGBA{G: 153, A: 255}
	line.Width = vg.Points(2)
	scatter.Color = color.RGBA{G: 153, A: 255}
	p.Add(line, scatter)
	p.Legend.Add("odometry", line)

	if len(latest.Cameras) > 0 {
		cams := make(plotter.XYs, len(latest.Cameras))
		for i, c := range latest.Cameras {
			pos := c.Position()
			cams[i] = plotter.XY{X: pos.X, Y: pos.Y}
		}
		camScatter, err := plotter.NewScatter(cams)
		if err != nil {
			return fmt.Errorf("camera positions: %w", err)
		}
		camScatter.Color = color.RGBA{R: 200, A: 255}
		p.Add(camScatter)
		p.Legend.Add("cameras", camScatter)
	}

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteChart renders an HTML page with the position of the rig against
// cycle and a top-view scatter of the trajectory.
func (s *Scene) WriteChart(fsys fsutil.FileSystem, path string) error {
	traj := s.Trajectory()
	if len(traj) == 0 {
		return ErrEmptyTrajectory
	}

	steps := make([]string, len(traj))
	xs := make([]opts.LineData, len(traj))
	ys := make([]opts.LineData, len(traj))
	zs := make([]opts.LineData, len(traj))
	top := make([]opts.ScatterData, len(traj))
	for i, v := range traj {
		steps[i] = strconv.Itoa(i)
		xs[i] = opts.LineData{Value: v.X}
		ys[i] = opts.LineData{Value: v.Y}
		zs[i] = opts.LineData{Value: v.Z}
		top[i] = opts.ScatterData{Value: []interface{}{v.X, v.Y}}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Rig odometry", Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Rig position", Subtitle: fmt.Sprintf("steps=%d", len(traj))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "m", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(steps).
		AddSeries("x", xs).
		AddSeries("y", ys).
		AddSeries("z", zs)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory (top view)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("odometry", top, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	page := components.NewPage()
	page.AddCharts(line, scatter)

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}
