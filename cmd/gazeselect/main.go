package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/gazeselect/internal/api"
	"github.com/banshee-data/gazeselect/internal/calibration"
	"github.com/banshee-data/gazeselect/internal/config"
	"github.com/banshee-data/gazeselect/internal/db"
	"github.com/banshee-data/gazeselect/internal/fsutil"
	"github.com/banshee-data/gazeselect/internal/gaze"
	"github.com/banshee-data/gazeselect/internal/monitoring"
	"github.com/banshee-data/gazeselect/internal/pipeline"
	"github.com/banshee-data/gazeselect/internal/selection"
	"github.com/banshee-data/gazeselect/internal/timeutil"
	"github.com/banshee-data/gazeselect/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to a JSON tuning config (default: built-in defaults)")
	dbFile       = flag.String("db", "gazeselect.db", "Path to the SQLite calibration database (empty disables persistence)")
	listen       = flag.String("listen", ":8090", "HTTP listen address (empty disables the API)")
	feedFlag     = flag.String("feed", "synthetic", "Landmark source: serial:<dev>, udp:<addr>, stdin, pcap:<file>:<port> or synthetic")
	baud         = flag.Int("baud", 115200, "Serial baud rate for serial: feeds")
	replaySpeed  = flag.Float64("replay-speed", 1.0, "Playback speed multiplier for pcap: feeds (0 = as fast as possible)")
	screenWidth  = flag.Int("screen-width", 0, "Screen width in pixels (default: tuning config, then 1920)")
	screenHeight = flag.Int("screen-height", 0, "Screen height in pixels (default: tuning config, then 1080)")
	cameraWidth  = flag.Int("camera-width", 640, "Reference camera width that landmarks are scaled to")
	cameraHeight = flag.Int("camera-height", 480, "Reference camera height that landmarks are scaled to")
	captureMode  = flag.String("capture", "enter", "Calibration capture: enter (press Enter per target) or timed")
	captureDelay = flag.Duration("capture-delay", 2*time.Second, "Dwell time per target for -capture=timed")
	recalibrate  = flag.Bool("recalibrate", false, "Recalibrate even when a stored calibration exists")
	reuse        = flag.Bool("reuse", false, "Reuse a stored calibration without asking (required with -feed=stdin)")
	importFile   = flag.String("import", "", "Import a calibration JSON file, or the file for this resolution from an export directory, instead of calibrating")
	exportDir    = flag.String("export", "", "Directory to export every new calibration to as JSON")
	plotFile     = flag.String("plot", "", "Write a PNG plot of calibration residuals to this path")
	trace        = flag.Bool("trace", false, "Log every gaze sample, velocity and selection")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

const (
	defaultScreenWidth  = 1920
	defaultScreenHeight = 1080
)

// screenSize resolves the screen dimensions from flags, then tuning, then defaults.
func screenSize(flagW, flagH int, tuning *config.TuningConfig) gaze.ScreenSize {
	s := gaze.ScreenSize{Width: flagW, Height: flagH}
	if s.Width <= 0 {
		s.Width = tuning.GetScreenWidth()
	}
	if s.Height <= 0 {
		s.Height = tuning.GetScreenHeight()
	}
	if s.Width <= 0 {
		s.Width = defaultScreenWidth
	}
	if s.Height <= 0 {
		s.Height = defaultScreenHeight
	}
	return s
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// runMigrate opens the database without migrating it and runs one migrate
// action against it.
func runMigrate(path string, args []string, out io.Writer) error {
	if path == "" {
		return errors.New("-db is required")
	}
	database, err := db.OpenDB(path)
	if err != nil {
		return err
	}
	defer database.Close()
	return db.RunMigrateCommand(database, args, out)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetTrace(*trace)

	if flag.Arg(0) == "migrate" {
		if err := runMigrate(*dbFile, flag.Args()[1:], os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	tuning, err := loadTuning(*configFile)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}
	spec, err := parseFeedSpec(*feedFlag)
	if err != nil {
		log.Fatalf("Invalid -feed: %v", err)
	}
	if *captureMode != "enter" && *captureMode != "timed" {
		log.Fatalf("Invalid -capture %q: want enter or timed", *captureMode)
	}
	if *reuse && *recalibrate {
		log.Fatal("-reuse and -recalibrate are mutually exclusive")
	}
	if spec.usesStdin() && *captureMode == "enter" {
		log.Fatal("-feed=stdin reads frames from stdin; use -capture=timed")
	}

	screen := screenSize(*screenWidth, *screenHeight, tuning)
	camera := gaze.FrameSize{Width: *cameraWidth, Height: *cameraHeight}
	key := calibration.NewResolutionKey(screen, camera)
	if err := key.Validate(); err != nil {
		log.Fatalf("Invalid resolution: %v", err)
	}
	log.Printf("%s starting: %s", version.String(), key)

	clock := timeutil.RealClock{}

	// Create a wait group for the HTTP server, feed monitor, and session routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed, err := openFeed(ctx, spec, *baud, camera, *replaySpeed, clock)
	if err != nil {
		log.Fatalf("Failed to open landmark feed: %v", err)
	}
	defer feed.Close()

	// run the monitor routine to read frames from the landmark source
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("landmark feed stopped: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	var (
		database *db.DB
		store    pipeline.Store
		history  api.History
	)
	if *dbFile != "" {
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		store, history = database, database
	}

	stdin := bufio.NewReader(os.Stdin)
	var capture calibration.CaptureFunc
	if *captureMode == "timed" {
		capture = pipeline.TimedCapture(os.Stdout, feed, camera, *captureDelay, clock)
	} else {
		capture = pipeline.PromptCapture(stdin, os.Stdout, feed, camera)
	}

	board := pipeline.NewAgentBoard(screen)
	session, err := pipeline.NewSession(pipeline.SessionConfig{
		Key:        key,
		Targets:    calibration.DefaultTargets(screen, tuning.GetCalibrationDotFraction()),
		FitOptions: calibration.FitOptionsFromTuning(tuning),
		Selection:  selection.ConfigFromTuning(tuning),
		Clock:      clock,
		Feed:       feed,
		Capture:    capture,
		Agents:     board,
		Store:      store,
		FS:         fsutil.OSFileSystem{},
		ExportDir:  *exportDir,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}

	var rec *calibration.Record
	switch {
	case *importFile != "":
		rec, err = session.ImportRecord(ctx, *importFile)
	case *recalibrate:
		rec, err = session.Calibrate(ctx)
	default:
		rec, err = session.LoadOrCalibrate(ctx, reuseDecision(*reuse, spec.usesStdin(), stdin, os.Stdout))
		if errors.Is(err, pipeline.ErrReuseUndecided) {
			err = fmt.Errorf("%w; stdin carries frames so it cannot prompt, pass -reuse or -recalibrate", err)
		}
	}
	if err != nil {
		stop()
		wg.Wait()
		log.Fatalf("Calibration failed: %v", err)
	}

	if *plotFile != "" {
		if err := calibration.PlotResiduals(rec, *plotFile); err != nil {
			log.Printf("failed to plot calibration: %v", err)
		} else {
			log.Printf("wrote calibration plot to %s", *plotFile)
		}
	}

	// session routine: runs the selection worker until shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(ctx); err != nil {
			log.Printf("session stopped: %v", err)
			stop()
		}
		log.Print("session routine terminated")
	}()

	// HTTP server goroutine
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := api.NewServer(session, board, history).ServeMux()
			feed.AttachAdminRoutes(mux)
			if database != nil {
				if err := database.AttachAdminRoutes(mux); err != nil {
					log.Printf("failed to attach db admin routes: %v", err)
				}
			}

			server := &http.Server{
				Addr:    *listen,
				Handler: api.LoggingMiddleware(mux),
			}

			// Start server in a goroutine so it doesn't block
			go func() {
				log.Printf("Starting HTTP server on %s", *listen)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("failed to start server: %v", err)
					stop()
				}
			}()

			// Wait for context cancellation to shut down server
			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				// Force close the server if graceful shutdown fails
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}

			log.Printf("HTTP server routine stopped")
		}()
	}

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
