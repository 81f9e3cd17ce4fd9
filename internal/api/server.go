// Package api serves the runtime controls and state of a gaze selection
// session over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/db"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/httputil"
	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/pipeline"
	"github.com/banshee-data/gazeselect/internal/selection"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controller is the session surface the API drives. *pipeline.Session
// implements it.
type Controller interface {
	State() pipeline.State
	SetMode(selection.Mode) error
	RequestRecalibration() error
	Record() *calibration.Record
}

// AgentController moves agents on screen. *pipeline.AgentBoard implements it.
type AgentController interface {
	pipeline.AgentProvider
	Set(id selection.AgentID, p gaze.ScreenPoint) error
}

// History reads and prunes stored calibrations. *db.DB implements it.
type History interface {
	ListCalibrations(ctx context.Context) ([]db.SessionSummary, error)
	LoadSession(ctx context.Context, sessionID string) (*calibration.Record, error)
	DeleteCalibration(ctx context.Context, key calibration.ResolutionKey) error
}

type Server struct {
	ctl     Controller
	agents  AgentController
	history History
}

// NewServer builds a Server. history may be nil when no database is open.
func NewServer(ctl Controller, agents AgentController, history History) *Server {
	return &Server{
		ctl:     ctl,
		agents:  agents,
		history: history,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.showState)
	mux.HandleFunc("/api/mode", s.setMode)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/recalibrate", s.recalibrate)
	mux.HandleFunc("/api/calibrations", s.handleCalibrations)
	mux.HandleFunc("/api/calibrations/{id}", s.showCalibration)
	mux.HandleFunc("/charts/calibration", s.handleCalibrationChart)
	return mux
}

type stateResponse struct {
	pipeline.State
	Agents [2]selection.AgentSnapshot `json:"agents"`
}

func (s *Server) showState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	a1, a2 := s.agents.Agents()
	httputil.WriteJSONOK(w, stateResponse{
		State:  s.ctl.State(),
		Agents: [2]selection.AgentSnapshot{a1, a2},
	})
}

type modeRequest struct {
	Mode selection.Mode `json:"mode"`
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, modeRequest{Mode: s.ctl.State().Mode})
	case http.MethodPost:
		var req modeRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.ctl.SetMode(req.Mode); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, modeRequest{Mode: req.Mode})
	default:
		httputil.MethodNotAllowed(w)
	}
}

type agentRequest struct {
	Agent selection.AgentID `json:"agent"`
	X     *float64          `json:"x"`
	Y     *float64          `json:"y"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req agentRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.X == nil || req.Y == nil {
			httputil.BadRequest(w, "x and y are required")
			return
		}
		if err := s.agents.Set(req.Agent, gaze.ScreenPoint{X: *req.X, Y: *req.Y}); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	a1, a2 := s.agents.Agents()
	httputil.WriteJSONOK(w, []selection.AgentSnapshot{a1, a2})
}

func (s *Server) recalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	err := s.ctl.RequestRecalibration()
	if errors.Is(err, pipeline.ErrRecalibrationPending) {
		httputil.Conflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to request recalibration: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recalibrating"})
}

func (s *Server) handleCalibrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "calibration history not available")
		return
	}
	if r.Method == http.MethodDelete {
		s.deleteCalibration(w, r)
		return
	}
	sessions, err := s.history.ListCalibrations(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list calibrations: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.SessionSummary{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// deleteCalibration drops the stored calibration for the key given in the
// query, or for the live key when the query names none. The session keeps
// its current transform until the next recalibration.
func (s *Server) deleteCalibration(w http.ResponseWriter, r *http.Request) {
	key, err := s.keyFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	err = s.history.DeleteCalibration(r.Context(), key)
	if errors.Is(err, db.ErrCalibrationNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to delete calibration: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": key.String()})
}

func (s *Server) keyFromQuery(r *http.Request) (calibration.ResolutionKey, error) {
	q := r.URL.Query()
	if len(q) == 0 {
		rec := s.ctl.Record()
		if rec == nil {
			return calibration.ResolutionKey{}, errors.New("no live calibration; give screen_width, screen_height, camera_width and camera_height")
		}
		return rec.Key, nil
	}
	var key calibration.ResolutionKey
	for name, dst := range map[string]*int{
		"screen_width":  &key.ScreenWidth,
		"screen_height": &key.ScreenHeight,
		"camera_width":  &key.CameraWidth,
		"camera_height": &key.CameraHeight,
	} {
		v, err := strconv.Atoi(q.Get(name))
		if err != nil {
			return key, fmt.Errorf("invalid %s %q", name, q.Get(name))
		}
		*dst = v
	}
	return key, key.Validate()
}

type calibrationResponse struct {
	*calibration.Record
	Residuals []calibration.Residual `json:"residuals"`
}

func (s *Server) showCalibration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.history == nil {
		httputil.NotFound(w, "calibration history not available")
		return
	}
	rec, err := s.history.LoadSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrCalibrationNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load calibration: %v", err))
		return
	}
	httputil.WriteJSONOK(w, calibrationResponse{Record: rec, Residuals: rec.Residuals()})
}
