package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gazeselect/internal/fsutil"
	"github.com/banshee-data/gazeselect/internal/gaze"
)

// ErrInvalidResolutionKey is returned when a stored or imported record was
// made for a different screen or camera resolution than the live one.
var ErrInvalidResolutionKey = errors.New("calibration resolution key mismatch")

// ResolutionKey identifies the screen and camera resolutions a transform is valid for.
type ResolutionKey struct {
	ScreenWidth  int `json:"screen_width"`
	ScreenHeight int `json:"screen_height"`
	CameraWidth  int `json:"camera_width"`
	CameraHeight int `json:"camera_height"`
}

// NewResolutionKey builds a key from the live screen and reference camera sizes.
func NewResolutionKey(screen gaze.ScreenSize, camera gaze.FrameSize) ResolutionKey {
	return ResolutionKey{
		ScreenWidth:  screen.Width,
		ScreenHeight: screen.Height,
		CameraWidth:  camera.Width,
		CameraHeight: camera.Height,
	}
}

// Validate checks that every dimension is positive.
func (k ResolutionKey) Validate() error {
	if k.ScreenWidth <= 0 || k.ScreenHeight <= 0 || k.CameraWidth <= 0 || k.CameraHeight <= 0 {
		return fmt.Errorf("%w: non-positive dimension in %s", ErrInvalidResolutionKey, k)
	}
	return nil
}

func (k ResolutionKey) String() string {
	return fmt.Sprintf("screen %dx%d camera %dx%d", k.ScreenWidth, k.ScreenHeight, k.CameraWidth, k.CameraHeight)
}

// FileName is the export file name for records with this key.
func (k ResolutionKey) FileName() string {
	return fmt.Sprintf("s%d_s%d_w%d_w%d.json", k.ScreenWidth, k.ScreenHeight, k.CameraWidth, k.CameraHeight)
}

// Screen returns the screen half of the key.
func (k ResolutionKey) Screen() gaze.ScreenSize {
	return gaze.ScreenSize{Width: k.ScreenWidth, Height: k.ScreenHeight}
}

// Camera returns the camera half of the key.
func (k ResolutionKey) Camera() gaze.FrameSize {
	return gaze.FrameSize{Width: k.CameraWidth, Height: k.CameraHeight}
}

// Record is a persisted calibration: the correspondences it was fitted from
// and the resulting coefficients.
// Targets lists every screen target shown, including those whose capture
// failed and so have no entry in Points.
type Record struct {
	SessionID string             `json:"session_id"`
	Key       ResolutionKey      `json:"key"`
	Targets   []gaze.ScreenPoint `json:"targets,omitempty"`
	Points    []Correspondence   `json:"points"`
	Transform Affine             `json:"transform"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewRecord stamps a calibration set with a fresh session id.
func NewRecord(key ResolutionKey, set *Set, now time.Time) *Record {
	return &Record{
		SessionID: uuid.NewString(),
		Key:       key,
		Targets:   append([]gaze.ScreenPoint(nil), set.Targets...),
		Points:    append([]Correspondence(nil), set.Points...),
		Transform: set.Transform,
		CreatedAt: now.UTC(),
	}
}

// Renew gives the record a fresh session id, so storing it again creates a
// new session instead of colliding with the one it was exported from.
func (r *Record) Renew() {
	r.SessionID = uuid.NewString()
}

// CheckKey returns ErrInvalidResolutionKey unless the record was made for live.
func (r *Record) CheckKey(live ResolutionKey) error {
	if r.Key != live {
		return fmt.Errorf("%w: record is %s, live is %s", ErrInvalidResolutionKey, r.Key, live)
	}
	return nil
}

// Refit recomputes the transform from the stored correspondences.
func (r *Record) Refit(opts FitOptions) (Affine, error) {
	res, err := Fit(r.Points, opts)
	if err != nil {
		return Affine{}, err
	}
	return res.Transform, nil
}

// Residual compares a calibration target with where its capture maps to.
type Residual struct {
	Index  int              `json:"index"`
	Target gaze.ScreenPoint `json:"target"`
	Mapped gaze.ScreenPoint `json:"mapped"`
	Error  float64          `json:"error"`
}

// Residuals maps every stored capture through the transform.
func (r *Record) Residuals() []Residual {
	out := make([]Residual, 0, len(r.Points))
	for _, p := range r.Points {
		m := r.Transform.Apply(p.Raw)
		out = append(out, Residual{Index: p.Index, Target: p.Screen, Mapped: m, Error: m.Dist(p.Screen)})
	}
	return out
}

// ExportJSON writes rec to dir under its key's file name and returns the path.
func ExportJSON(fsys fsutil.FileSystem, dir string, rec *Record) (string, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode calibration: %w", err)
	}
	path := filepath.Join(dir, rec.Key.FileName())
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write calibration: %w", err)
	}
	return path, nil
}

// exportPattern matches the file names ExportJSON writes.
const exportPattern = "s*_s*_w*_w*.json"

// FindExport returns the export for live in dir. When dir holds exports only
// for other resolutions the error wraps ErrInvalidResolutionKey and names them.
func FindExport(fsys fsutil.FileSystem, dir string, live ResolutionKey) (string, error) {
	path := filepath.Join(dir, live.FileName())
	if fsys.Exists(path) {
		return path, nil
	}
	others, err := fsys.Glob(filepath.Join(dir, exportPattern))
	if err != nil {
		return "", fmt.Errorf("failed to list calibrations in %s: %w", dir, err)
	}
	if len(others) > 0 {
		names := make([]string, len(others))
		for i, o := range others {
			names[i] = filepath.Base(o)
		}
		return "", fmt.Errorf("%w: no %s in %s (found %s)", ErrInvalidResolutionKey, live.FileName(), dir, strings.Join(names, ", "))
	}
	return "", fmt.Errorf("no calibration exports in %s", dir)
}

// ResolveImport maps an import argument to a file: a .json path is used as
// is, anything else is taken as an export directory and searched for live.
func ResolveImport(fsys fsutil.FileSystem, path string, live ResolutionKey) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return path, nil
	}
	return FindExport(fsys, path, live)
}

// ImportJSON reads a record from path and checks it against the live key.
// A mismatched key yields ErrInvalidResolutionKey.
func ImportJSON(fsys fsutil.FileSystem, path string, live ResolutionKey) (*Record, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse calibration %s: %w", path, err)
	}
	if err := rec.CheckKey(live); err != nil {
		return nil, err
	}
	if len(rec.Points) < MinPoints {
		return nil, fmt.Errorf("calibration %s: %w", path, ErrTooFewPoints)
	}
	if !rec.Transform.Finite() {
		return nil, fmt.Errorf("calibration %s: %w: non-finite coefficients", path, ErrDegenerate)
	}
	if rec.SessionID == "" {
		rec.SessionID = uuid.NewString()
	}
	return &rec, nil
}
