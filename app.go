package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/kwv/recicla/waste"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *waste.Config
	Catalog    *waste.Catalog
	Client     *waste.GeoFilterClient
	Locator    *waste.Locator
	Renderer   *waste.MapRenderer
	Classifier *waste.Classifier
	MQTTClient *waste.MQTTClient
	Publisher  *waste.Publisher
	Refresher  *waste.Refresher

	Out io.Writer
	Log logr.Logger

	closeOnce sync.Once

	// CLI options
	ConfigFile        string
	HttpMode          bool
	HttpPort          int
	MqttMode          bool
	Lookup            string
	Group             string
	WasteType         string
	ClassifyFile      string
	RenderFile        string
	Verbose           int
	ListNeighborhoods bool
}

// NewApp creates a new App writing user-facing output to out.
func NewApp(out io.Writer) *App {
	return &App{
		Out: out,
		Log: stdr.New(log.New(os.Stderr, "", log.LstdFlags)),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.HttpMode = opts.HttpMode
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.Lookup = opts.Lookup
	a.Group = opts.Group
	a.WasteType = opts.WasteType
	a.ClassifyFile = opts.Classify
	a.RenderFile = opts.Render
	a.Verbose = opts.Verbose
	a.ListNeighborhoods = opts.ListNeighborhoods
	stdr.SetVerbosity(opts.Verbose)
}

// loadConfig reads the config file. A missing file at the default path
// falls back to the built-in configuration; an explicit path must exist.
func (a *App) loadConfig() (*waste.Config, error) {
	cfg, err := waste.LoadConfig(a.ConfigFile)
	if err == nil {
		a.Log.Info("loaded config", "path", a.ConfigFile)
		return cfg, nil
	}
	if a.ConfigFile != defaultConfigFile {
		return nil, err
	}
	if _, statErr := os.Stat(a.ConfigFile); !errors.Is(statErr, os.ErrNotExist) {
		return nil, err
	}

	cfg = waste.DefaultConfig()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a.Log.Info("no config file found, using built-in defaults", "path", a.ConfigFile)
	return cfg, nil
}

// setup builds the component graph from the configuration. It is idempotent.
func (a *App) setup() error {
	if a.Locator != nil {
		return nil
	}
	if a.Config == nil {
		cfg, err := a.loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		a.Config = cfg
	}
	cfg := a.Config

	catalog, err := waste.NewCatalog(cfg.WasteTypes)
	if err != nil {
		return fmt.Errorf("building waste type catalog: %w", err)
	}
	a.Catalog = catalog

	client, err := waste.NewGeoFilterClient(cfg.OpenData, waste.WithLogger(a.Log))
	if err != nil {
		return err
	}
	a.Client = client

	builder := waste.NewMapViewBuilder(cfg.Map, catalog)
	a.Locator = waste.NewLocator(client, cfg.OpenData, builder, a.Log)
	a.Renderer = waste.NewMapRenderer(catalog, cfg.Map.WidthPixels)

	httpClient := &http.Client{Timeout: cfg.Classifier.Timeout}
	loader := waste.NewModelLoader(cfg.Classifier, httpClient, a.Log.WithName("model"))
	a.Classifier = waste.NewClassifier(cfg.Classifier, loader, waste.WithClassifierLogger(a.Log))
	return nil
}

func (a *App) close() {
	a.closeOnce.Do(func() {
		if a.Classifier != nil {
			if err := a.Classifier.Close(); err != nil {
				a.Log.Error(err, "closing classifier")
			}
		}
		if a.Client != nil {
			a.Client.Close()
		}
	})
}

// RunListNeighborhoods prints every neighborhood name.
func (a *App) RunListNeighborhoods() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.OpenData.Timeout)
	defer cancel()

	ns, err := a.Client.FetchNeighborhoods(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%d neighborhoods\n", len(ns))
	for _, n := range ns {
		fmt.Fprintf(a.Out, "  %s\n", n.Name)
	}
	return nil
}

// RunLookup prints the containers of one neighborhood and optionally renders
// the map to a file.
func (a *App) RunLookup() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*a.Config.OpenData.Timeout)
	defer cancel()

	res, err := a.Locator.Lookup(ctx, a.Lookup, a.Group, a.WasteType)
	if err != nil {
		return err
	}
	printLookup(a.Out, res)

	if a.RenderFile != "" {
		if err := a.renderToFile(res.View, a.RenderFile); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Map written to %s\n", a.RenderFile)
	}
	return nil
}

func printLookup(out io.Writer, res waste.LookupResult) {
	fmt.Fprintf(out, "=== %s ===\n", res.Neighborhood)
	fmt.Fprintf(out, "Group: %s  Type: %s\n", res.Group, res.Selection)
	fmt.Fprintf(out, "Center: %.5f, %.5f  Zoom: %d\n", res.View.Center.Lat(), res.View.Center.Lon(), res.View.Zoom)

	types := make([]string, 0, len(res.Counts))
	for t := range res.Counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(out, "  %-20s %d\n", t, res.Counts[t])
	}
	fmt.Fprintf(out, "Markers: %d\n", len(res.View.Markers))
	if res.Degraded {
		fmt.Fprintln(out, "Warning: open data source unavailable, results may be incomplete")
	}
}

func (a *App) renderToFile(view waste.MapView, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		err = a.Renderer.RenderSVG(f, view)
	case ".png":
		err = a.Renderer.RenderPNG(f, view)
	case ".geojson", ".json":
		err = json.NewEncoder(f).Encode(view.FeatureCollection())
	default:
		err = fmt.Errorf("unsupported render format %q (use .svg, .png or .geojson)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return f.Close()
}

// RunClassify classifies one image file and prints the result.
func (a *App) RunClassify() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	data, err := os.ReadFile(a.ClassifyFile)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := a.Classifier.ClassifyBytes(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Label: %s\n", res.Label)
	fmt.Fprintf(a.Out, "Confidence: %.1f%%\n", res.Confidence*100)
	fmt.Fprintf(a.Out, "%s\n", res.Message)
	if res.Container != "" {
		fmt.Fprintf(a.Out, "Container: %s\n", res.Container)
	}
	return nil
}

// RunService starts the HTTP surface, the scheduled refresh and, when
// enabled, MQTT publishing. It blocks until SIGINT or SIGTERM.
func (a *App) RunService() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !a.HttpMode && !a.MqttMode {
		a.HttpMode = true
	}

	if a.MqttMode {
		mqttClient, err := waste.NewMQTTClient(ctx, a.Config.MQTT, a.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = mqttClient
		a.Publisher = waste.NewPublisher(mqttClient.GetClient(), a.Config.MQTT.PublishPrefix, a.Log)
		defer mqttClient.Disconnect()
	}

	if schedule := a.Config.OpenData.RefreshSchedule; schedule != "" {
		r, err := waste.NewRefresher(a.Client, schedule, a.Config.OpenData.Timeout, a.Log)
		if err != nil {
			return err
		}
		a.Refresher = r
		r.Start()
		defer r.Stop()
		go func() { _ = r.RunOnce(ctx) }()
	}

	if a.MQTTClient != nil {
		a.MQTTClient.SetRefreshHandler(func() { a.refreshNow(ctx) })
	}

	// Load the model up front so an unusable artifact is reported at startup.
	go func() {
		if !a.Classifier.Available(ctx) {
			a.Log.Info("classification disabled: model unavailable")
		}
	}()

	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.serverDeps()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Log.Info("[HTTP] starting server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.Error(err, "[HTTP] server error")
				stop()
			}
		}()
	}

	a.printServiceInfo()

	<-ctx.Done()

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Log.Error(err, "[HTTP] shutdown")
		}
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

// refreshNow drops every cached open-data response and, when a schedule is
// configured, re-fetches the neighborhood list right away.
func (a *App) refreshNow(ctx context.Context) {
	a.Client.Invalidate()
	a.Log.Info("open data cache invalidated")
	if a.Refresher != nil {
		_ = a.Refresher.RunOnce(ctx)
	}
}

func (a *App) serverDeps() serverDeps {
	return serverDeps{
		Locator:    a.Locator,
		Client:     a.Client,
		Catalog:    a.Catalog,
		Renderer:   a.Renderer,
		Classifier: a.Classifier,
		Publisher:  a.Publisher,
		Refresher:  a.Refresher,
		Owner:      a.Config.Owner,
		Log:        a.Log.WithName("http"),
	}
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		prefix := a.Config.MQTT.PublishPrefix
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Classifications: %s/classifications\n", prefix)
		fmt.Fprintf(a.Out, "  Lookups:         %s/lookups\n", prefix)
		fmt.Fprintf(a.Out, "  Refresh command: %s\n", a.MQTTClient.RefreshTopic())
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET  /health                 - Health check")
		fmt.Fprintln(a.Out, "  GET  /api/neighborhoods      - Neighborhood list (?format=geojson)")
		fmt.Fprintln(a.Out, "  GET  /api/waste-types        - Waste type catalog and dataset groups")
		fmt.Fprintln(a.Out, "  GET  /api/containers         - Containers in a neighborhood")
		fmt.Fprintln(a.Out, "  GET  /api/containers.geojson - Same, as GeoJSON")
		fmt.Fprintln(a.Out, "  GET  /map.svg, /map.png      - Rendered neighborhood map")
		fmt.Fprintln(a.Out, "  POST /api/classify           - Classify an uploaded photo")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}
