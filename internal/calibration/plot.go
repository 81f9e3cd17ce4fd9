package calibration

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotResiduals renders the calibration targets and the mapped captures to
// an image file. The format follows the file extension (png, svg, pdf).
// Screen y grows downward, so the y axis is inverted to match the display.
func PlotResiduals(rec *Record, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Calibration %s", rec.Key)
	p.X.Label.Text = "screen x (px)"
	p.Y.Label.Text = "screen y (px)"
	p.X.Min, p.X.Max = 0, float64(rec.Key.ScreenWidth)
	p.Y.Min, p.Y.Max = 0, float64(rec.Key.ScreenHeight)
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}
	p.Add(plotter.NewGrid())

	res := rec.Residuals()
	targets := make(plotter.XYs, 0, len(res))
	mapped := make(plotter.XYs, 0, len(res))
	for _, r := range res {
		targets = append(targets, plotter.XY{X: r.Target.X, Y: r.Target.Y})
		mapped = append(mapped, plotter.XY{X: r.Mapped.X, Y: r.Mapped.Y})

		seg, err := plotter.NewLine(plotter.XYs{{X: r.Target.X, Y: r.Target.Y}, {X: r.Mapped.X, Y: r.Mapped.Y}})
		if err != nil {
			return fmt.Errorf("failed to create residual line: %w", err)
		}
		seg.Width = vg.Points(1)
		seg.Color = color.RGBA{R: 128, G: 128, B: 128, A: 255}
		p.Add(seg)
	}

	ts, err := plotter.NewScatter(targets)
	if err != nil {
		return fmt.Errorf("failed to create target scatter: %w", err)
	}
	ts.GlyphStyle.Color = color.RGBA{G: 160, A: 255}
	ts.GlyphStyle.Shape = draw.CircleGlyph{}
	ts.GlyphStyle.Radius = vg.Points(4)

	ms, err := plotter.NewScatter(mapped)
	if err != nil {
		return fmt.Errorf("failed to create mapped scatter: %w", err)
	}
	ms.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
	ms.GlyphStyle.Shape = draw.CrossGlyph{}
	ms.GlyphStyle.Radius = vg.Points(4)

	p.Add(ts, ms)
	p.Legend.Add("target", ts)
	p.Legend.Add("mapped capture", ms)

	if err := p.Save(8*vg.Inch, 4.5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save calibration plot: %w", err)
	}
	return nil
}
