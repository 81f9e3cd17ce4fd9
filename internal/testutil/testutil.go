// Package testutil provides shared test fixtures for calibration records and
// HTTP handlers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/gaze"
)

// Skewed is an affine transform with rotation, shear and offset, for tests
// that need more than a pure scale.
var Skewed = calibration.Affine{3, 0.1, -100, -0.05, 2.5, -40}

// RawFor returns the camera point that m maps exactly onto s.
func RawFor(m calibration.Affine, s gaze.ScreenPoint) gaze.RawPoint {
	det := m[0]*m[4] - m[1]*m[3]
	x, y := s.X-m[2], s.Y-m[5]
	return gaze.RawPoint{
		X: (m[4]*x - m[1]*y) / det,
		Y: (-m[3]*x + m[0]*y) / det,
	}
}

// Points returns noiseless correspondences for the default target layout of
// key's screen under m.
func Points(key calibration.ResolutionKey, m calibration.Affine) []calibration.Correspondence {
	targets := calibration.DefaultTargets(key.Screen(), 0.01)
	pts := make([]calibration.Correspondence, len(targets))
	for i, s := range targets {
		pts[i] = calibration.Correspondence{Index: i, Screen: s, Raw: RawFor(m, s)}
	}
	return pts
}

// Record fits pts with the default options and wraps the result in a record.
func Record(t testing.TB, key calibration.ResolutionKey, pts []calibration.Correspondence, created time.Time) *calibration.Record {
	t.Helper()
	res, err := calibration.Fit(pts, calibration.DefaultFitOptions())
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	set := &calibration.Set{Points: pts, Transform: res.Transform, Used: res.Used}
	for _, p := range pts {
		set.Targets = append(set.Targets, p.Screen)
	}
	return calibration.NewRecord(key, set, created)
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Do serves one request against h. A non-empty body is sent as JSON.
func Do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
