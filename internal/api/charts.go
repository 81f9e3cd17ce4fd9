package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/gazeselect/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleCalibrationChart renders the current calibration as an HTML scatter
// of targets against where their captures map to. Y is in screen pixels and
// grows downwards.
func (s *Server) handleCalibrationChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rec := s.ctl.Record()
	if rec == nil {
		httputil.NotFound(w, "no calibration loaded")
		return
	}

	residuals := rec.Residuals()
	targets := make([]opts.ScatterData, 0, len(residuals))
	mapped := make([]opts.ScatterData, 0, len(residuals))
	var worst float64
	for _, res := range residuals {
		targets = append(targets, opts.ScatterData{Value: []interface{}{res.Target.X, res.Target.Y, res.Index}})
		mapped = append(mapped, opts.ScatterData{Value: []interface{}{res.Mapped.X, res.Mapped.Y, res.Error}})
		worst = max(worst, res.Error)
	}

	screen := rec.Key.Screen()
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze Calibration", Theme: "dark", Width: "960px", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Calibration Targets vs Mapped Captures", Subtitle: fmt.Sprintf("session=%s points=%d worst=%.2fpx", rec.SessionID, len(residuals), worst)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: screen.Width, Name: "X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: screen.Height, Name: "Y (px)", NameLocation: "middle", NameGap: 40}),
	)

	scatter.AddSeries("targets", targets, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	scatter.AddSeries("mapped", mapped, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render calibration chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
