package main

import (
	"bufio"
	"math"
	"os"
	"path/filepath"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/viam-modules/pm-stepper/fblin"
	"github.com/viam-modules/pm-stepper/sim"
)

// smoothingWindow is the number of ticks averaged into the smoothed tracking error.
const smoothingWindow = 50

// recording holds every control tick of a simulated run and the rig's sample log.
type recording struct {
	params  fblin.Params
	target  float64
	times   []float64
	angles  []float64
	desired []float64
	errs    []float64
	torques []float64
	ticks   int64

	samples []fblin.Sample
	reason  fblin.StopReason
	held    int
	dropped int
}

func newRecording(p fblin.Params, traj fblin.Trajectory) *recording {
	return &recording{params: p, target: traj.Angle(p.MissionDuration.Seconds())}
}

func (r *recording) onTick(res fblin.TickResult, _ sim.State) {
	r.ticks = res.Tick
	if res.State != fblin.Running {
		return
	}
	r.times = append(r.times, res.Elapsed)
	r.angles = append(r.angles, res.Shaft.Angle)
	r.desired = append(r.desired, res.Desired.Angle)
	r.errs = append(r.errs, res.Shaft.Angle-res.Desired.Angle)
	r.torques = append(r.torques, res.Output.Torque)
}

// summary is the outcome of a simulated run.
type summary struct {
	Reason       fblin.StopReason
	Ticks        int64
	FinalAngle   float64
	TargetAngle  float64
	MaxAbsError  float64
	MeanAbsError float64
	ErrorStdDev  float64
	Samples      int
	Dropped      int
}

func (r *recording) summarize() summary {
	s := summary{
		Reason:      r.reason,
		Ticks:       r.ticks,
		TargetAngle: r.target,
		Samples:     r.held,
		Dropped:     r.dropped,
	}
	if len(r.errs) == 0 {
		return s
	}
	abs := make([]float64, len(r.errs))
	for i, e := range r.errs {
		abs[i] = math.Abs(e)
	}
	s.FinalAngle = r.angles[len(r.angles)-1]
	s.MaxAbsError = floats.Max(abs)
	s.MeanAbsError = stat.Mean(abs, nil)
	s.ErrorStdDev = stat.StdDev(r.errs, nil)
	return s
}

// smoothedError is the rolling mean of the absolute tracking error.
func (r *recording) smoothedError() []float64 {
	ma := movingaverage.New(smoothingWindow)
	out := make([]float64, len(r.errs))
	for i, e := range r.errs {
		ma.Add(math.Abs(e))
		out[i] = ma.Avg()
	}
	return out
}

type series struct {
	name string
	ys   []float64
}

// writePlots renders the run into dir and returns the file names written.
func (r *recording) writePlots(dir string) ([]string, error) {
	if len(r.times) == 0 {
		return nil, errors.New("nothing to plot: the run stopped before its first control tick")
	}
	sampleTimes := make([]float64, len(r.samples))
	currentA := make([]float64, len(r.samples))
	currentB := make([]float64, len(r.samples))
	voltageA := make([]float64, len(r.samples))
	voltageB := make([]float64, len(r.samples))
	for i, s := range r.samples {
		sampleTimes[i] = s.Time
		currentA[i], currentB[i] = s.CurrentA, s.CurrentB
		voltageA[i], voltageB[i] = s.VoltageA, s.VoltageB
	}

	plots := []struct {
		file, title, ylabel string
		xs                  []float64
		lines               []series
	}{
		{"angle.png", "Shaft angle", "angle (rad)", r.times, []series{
			{"measured", r.angles}, {"desired", r.desired},
		}},
		{"tracking_error.png", "Tracking error", "error (rad)", r.times, []series{
			{"error", r.errs}, {"|error| rolling mean", r.smoothedError()},
		}},
		{"torque.png", "Commanded torque", "torque (N*m)", r.times, []series{
			{"torque", r.torques},
		}},
		{"currents.png", "Phase currents (logged)", "current (A)", sampleTimes, []series{
			{"phase A", currentA}, {"phase B", currentB},
		}},
		{"voltages.png", "Phase voltages (logged)", "voltage (V)", sampleTimes, []series{
			{"phase A", voltageA}, {"phase B", voltageB},
		}},
	}

	var written []string
	for _, p := range plots {
		if len(p.xs) == 0 {
			continue
		}
		if err := saveLinePlot(filepath.Join(dir, p.file), p.title, "time (s)", p.ylabel, p.xs, p.lines); err != nil {
			return written, errors.Wrapf(err, "cannot write %s", p.file)
		}
		written = append(written, p.file)
	}
	return written, nil
}

func saveLinePlot(filename, title, xlabel, ylabel string, xs []float64, lines []series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	for i, l := range lines {
		if len(l.ys) != len(xs) {
			return errors.Errorf("series %q has %d points, want %d", l.name, len(l.ys), len(xs))
		}
		pts := make(plotter.XYs, len(xs))
		for j := range xs {
			pts[j].X = xs[j]
			pts[j].Y = l.ys[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(l.name, line)
	}
	p.Legend.Top = true
	return savePlotPNG(p, 8, 5, filename)
}

func savePlotPNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return err
	}
	return bw.Flush()
}
