package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spectro.cam/internal/api"
	"github.com/banshee-data/spectro.cam/internal/camera"
	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/db"
	"github.com/banshee-data/spectro.cam/internal/feed"
	"github.com/banshee-data/spectro.cam/internal/monitoring"
	"github.com/banshee-data/spectro.cam/internal/spectrometer"
	"github.com/banshee-data/spectro.cam/internal/timeutil"
	"github.com/banshee-data/spectro.cam/internal/version"
)

var (
	listen         = flag.String("listen", ":8080", "HTTP listen address")
	feedAddr       = flag.String("feed", "", "TCP spectrum feed address (overrides the config file)")
	grpcListen     = flag.String("grpc", "", "gRPC spectrum feed listen address, e.g. :50051 (empty disables)")
	configPath     = flag.String("config", config.DefaultConfigPath, "Path to the spectrometer JSON config")
	dbPath         = flag.String("db", "spectrometer.db", "SQLite database for recordings and reference curves (empty disables)")
	devMode        = flag.Bool("dev", false, "Use the synthetic camera instead of a real device")
	device         = flag.Int("device", -1, "Camera index (overrides the config file)")
	startStream    = flag.Bool("start", false, "Start streaming on launch")
	tick           = flag.Duration("tick", spectrometer.DefaultTick, "Host update interval")
	exportDir      = flag.String("export-dir", ".", "Directory for CSV export and reference import")
	mqttBroker     = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)")
	mqttTopic      = flag.String("mqtt-topic", "spectro.cam/spectrum", "MQTT topic for spectrum payloads")
	recordInterval = flag.Duration("record-interval", 0, "Store the spectrum in the database at this interval (0 disables)")
	debug          = flag.Bool("debug", false, "Enable per-frame debug logging")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads path, falling back to defaults when the file does not
// exist yet.
func loadConfig(path string) (*config.SpectrometerConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Printf("config %s not found, using defaults", path)
		return config.DefaultSpectrometerConfig(), nil
	}
	return config.LoadSpectrometerConfig(path)
}

// applyOverrides copies command-line overrides onto cfg.
func applyOverrides(cfg *config.SpectrometerConfig, device int, feed string) {
	if device >= 0 {
		cfg.CameraID = device
	}
	if feed != "" {
		cfg.Feed.Address = feed
	}
}

func selectOpener(dev bool) (camera.Opener, error) {
	if dev {
		return camera.SyntheticOpener{Clock: timeutil.RealClock{}}, nil
	}
	return camera.DefaultOpener()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyOverrides(cfg, *device, *feedAddr)

	opener, err := selectOpener(*devMode)
	if err != nil {
		log.Fatalf("failed to select camera backend: %v (use -dev for the synthetic camera)", err)
	}

	var store *db.DB
	opts := spectrometer.Options{
		Config:         cfg,
		ConfigPath:     *configPath,
		Opener:         opener,
		Tick:           *tick,
		RecordInterval: *recordInterval,
		ExportDir:      *exportDir,
		StartStream:    *startStream,
	}
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
		opts.Store = store
	}

	host, err := spectrometer.New(opts)
	if err != nil {
		log.Fatalf("failed to create spectrometer: %v", err)
	}

	feedServer, err := feed.Listen(cfg.Feed.Address, host.Broadcast())
	if err != nil {
		log.Fatalf("failed to listen for feed clients on %s: %v", cfg.Feed.Address, err)
	}
	log.Printf("feed listening on %s", feedServer.Addr())

	var grpcLn net.Listener
	if *grpcListen != "" {
		grpcLn, err = net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen for gRPC feed clients on %s: %v", *grpcListen, err)
		}
	}

	var sink *feed.MQTTSink
	if *mqttBroker != "" {
		sink, err = feed.NewMQTTSink(*mqttBroker, "spectro.cam-"+uuid.NewString()[:8], *mqttTopic)
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer sink.Close()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the host owns the camera and closes the broadcast channel on exit,
	// which also ends the feed server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := host.Run(ctx); err != nil {
			log.Printf("spectrometer host error: %v", err)
		}
		log.Print("host routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feedServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("feed server error: %v", err)
		}
		log.Print("feed routine terminated")
	}()

	if grpcLn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feedServer.ServeGRPC(ctx, grpcLn); err != nil {
				log.Printf("gRPC feed error: %v", err)
			}
			log.Print("grpc routine terminated")
		}()
	}

	if sink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Run(ctx, feedServer)
			log.Print("mqtt routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(host).ServeMux()

		// admin debugging routes, reachable from localhost or over Tailscale
		host.AttachAdminRoutes(mux)
		feedServer.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
