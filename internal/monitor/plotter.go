package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"trafficsim/internal/sim"
)

const speedBins = 20

// SpeedPlotter accumulates snapshots during a run and renders them as PNG
// charts afterwards.
type SpeedPlotter struct {
	mu       sync.Mutex
	samples  []Sample
	profiles map[string]plotter.XYs
	// speeds of the cars in the most recent snapshot
	speeds []float64
}

// NewSpeedPlotter returns an empty plotter.
func NewSpeedPlotter() *SpeedPlotter {
	return &SpeedPlotter{profiles: make(map[string]plotter.XYs)}
}

// Sample records one snapshot.
func (sp *SpeedPlotter) Sample(snap sim.Snapshot) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.samples = append(sp.samples, Sample{
		Time:         snap.Time,
		ActiveCars:   snap.ActiveCars,
		TotalSpawned: snap.TotalSpawned,
		MeanSpeed:    snap.MeanSpeed,
	})
	for name := range sp.profiles {
		if _, ok := snap.BehaviorCounts[name]; !ok {
			sp.profiles[name] = append(sp.profiles[name], plotter.XY{X: snap.Time})
		}
	}
	for name, n := range snap.BehaviorCounts {
		sp.profiles[name] = append(sp.profiles[name], plotter.XY{X: snap.Time, Y: float64(n)})
	}
	sp.speeds = sp.speeds[:0]
	for _, c := range snap.Cars {
		sp.speeds = append(sp.speeds, c.Speed)
	}
}

// GeneratePlots writes the charts into dir and returns how many were written.
func (sp *SpeedPlotter) GeneratePlots(dir string) (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if len(sp.samples) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	count := 0
	speed := make(plotter.XYs, len(sp.samples))
	active := make(plotter.XYs, len(sp.samples))
	for i, s := range sp.samples {
		speed[i] = plotter.XY{X: s.Time, Y: s.MeanSpeed}
		active[i] = plotter.XY{X: s.Time, Y: float64(s.ActiveCars)}
	}
	if err := saveLine(filepath.Join(dir, "mean_speed.png"), "Mean speed", "Speed (m/s)", speed); err != nil {
		return count, err
	}
	count++
	if err := saveLine(filepath.Join(dir, "active_cars.png"), "Active cars", "Cars", active); err != nil {
		return count, err
	}
	count++

	if len(sp.profiles) > 0 {
		if err := sp.saveProfiles(filepath.Join(dir, "behavior_counts.png")); err != nil {
			return count, err
		}
		count++
	}

	if len(sp.speeds) > 0 {
		h, err := plotter.NewHist(plotter.Values(sp.speeds), speedBins)
		if err != nil {
			return count, err
		}
		p := plot.New()
		p.Title.Text = "Final speed distribution"
		p.X.Label.Text = "Speed (m/s)"
		p.Y.Label.Text = "Cars"
		p.Add(h)
		if err := p.Save(8*vg.Inch, 5*vg.Inch, filepath.Join(dir, "speed_histogram.png")); err != nil {
			return count, fmt.Errorf("save histogram: %w", err)
		}
		count++
	}
	return count, nil
}

func saveLine(path, title, yLabel string, pts plotter.XYs) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Simulation time (s)"
	p.Y.Label.Text = yLabel

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (sp *SpeedPlotter) saveProfiles(path string) error {
	p := plot.New()
	p.Title.Text = "Cars per behaviour profile"
	p.X.Label.Text = "Simulation time (s)"
	p.Y.Label.Text = "Cars"

	names := make([]string, 0, len(sp.profiles))
	for name := range sp.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	colors := palette(len(names))
	for i, name := range names {
		line, err := plotter.NewLine(sp.profiles[name])
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}

// palette spreads n colours evenly around the hue circle.
func palette(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255), uint8(hueToRGB(p, q, h) * 255), uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
