package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tdewolff/canvas"
	"go.uber.org/zap"

	"github.com/kwv/crownmesh/crown"
)

// App encapsulates the application state and dependencies
type App struct {
	Config *crown.Config
	Logger *zap.SugaredLogger
	Out    io.Writer

	// ConnectMQTT opens the broker connection; replaced in tests.
	ConnectMQTT func(crown.MQTTConfig, *zap.SugaredLogger) (mqtt.Client, error)
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Out:         os.Stdout,
		ConnectMQTT: crown.ConnectMQTT,
	}
}

// ApplyOptions loads the configuration file, if any, and applies command
// line overrides on top of it.
func (a *App) ApplyOptions(opts AppOptions) error {
	cfg := crown.DefaultConfig()
	if opts.ConfigFile != "" {
		loaded, err := crown.LoadConfig(opts.ConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if opts.Input != "" {
		cfg.Input = opts.Input
	}
	if opts.Output != "" {
		cfg.Output = opts.Output
		cfg.Clip.Output = opts.Output
		cfg.Render.Output = opts.Output
	}
	if opts.Delimiter != "" {
		cfg.PointCloud.Delimiter = opts.Delimiter
	}
	if opts.Workers != nil {
		cfg.Workers = *opts.Workers
	}
	if opts.CRSEPSG != nil {
		cfg.CRSEPSG = *opts.CRSEPSG
	}
	if opts.AlphaDefault != nil {
		cfg.Alpha.Default = *opts.AlphaDefault
	}
	if opts.HeightMode != "" {
		cfg.Metrics.HeightMode = crown.HeightMode(opts.HeightMode)
	}
	if opts.Regularize != "" {
		cfg.Regularize.Mode = crown.RegularizeMode(opts.Regularize)
	}
	if opts.NoVolume3D {
		cfg.Metrics.Volume3D = false
	}
	if opts.StorePath != "" {
		cfg.Store.Path = opts.StorePath
	}
	if opts.RenderOutput != "" {
		cfg.Render.Output = opts.RenderOutput
	}
	if opts.PlotsFile != "" {
		cfg.Clip.Plots = opts.PlotsFile
	}
	if opts.PlotID != "" {
		cfg.Clip.PlotID = opts.PlotID
	}
	if opts.PlotField != "" {
		cfg.Clip.PlotField = opts.PlotField
	}
	if opts.MinFraction != nil {
		cfg.Clip.MinFraction = *opts.MinFraction
	}
	if opts.Format != "" {
		cfg.Render.Format = opts.Format
	}
	if opts.HeightClasses != "" {
		cfg.Render.HeightClasses = opts.HeightClasses
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := crown.NewLogger(opts.Debug)
	if err != nil {
		return err
	}
	a.Config = cfg
	a.Logger = logger
	return nil
}

// derivedPath replaces the extension of input with suffix.
func derivedPath(input, suffix string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + suffix
}

func (a *App) heightClasses() crown.HeightClassScheme {
	scheme, _ := crown.ParseHeightClassScheme(a.Config.Render.HeightClasses)
	return scheme
}

func (a *App) readPointCloud() (*crown.PointCloud, error) {
	if a.Config.Input == "" {
		return nil, fmt.Errorf("no input point cloud given")
	}
	delim, err := crown.ParseDelimiter(a.Config.PointCloud.Delimiter)
	if err != nil {
		return nil, err
	}
	return crown.ReadPointCloudFile(a.Config.Input, delim)
}

// publisher connects to MQTT when a broker is configured. A nil publisher
// means publishing is disabled.
func (a *App) publisher() (*crown.ResultPublisher, func()) {
	if a.ConnectMQTT == nil {
		return nil, func() {}
	}
	client, err := a.ConnectMQTT(a.Config.MQTT, a.Logger)
	if err != nil {
		a.Logger.Warnw("MQTT unavailable, results will not be published", "error", err)
		return nil, func() {}
	}
	if client == nil {
		return nil, func() {}
	}
	return crown.NewResultPublisher(client, a.Config.MQTT.PublishPrefix, a.Logger),
		func() { client.Disconnect(250) }
}

// RunMetrics delineates every tree of the input cloud and writes the crown
// collection, optionally recording, publishing and rendering the run.
func (a *App) RunMetrics(ctx context.Context) error {
	defer a.Logger.Sync()

	pc, err := a.readPointCloud()
	if err != nil {
		return err
	}

	records, summary, err := crown.NewProcessor(a.Config, a.Logger).Process(ctx, pc)
	if err != nil {
		return err
	}
	summary.Input = a.Config.Input

	output := a.Config.Output
	if output == "" {
		output = derivedPath(a.Config.Input, "_crowns.geojson")
	}
	if err := crown.WriteCrowns(output, records, a.Config.CRSEPSG, a.heightClasses()); err != nil {
		return err
	}
	a.Logger.Infow("Wrote crowns", "path", output, "crowns", len(records))

	if a.Config.Store.Path != "" {
		store, err := crown.NewMetricsStore(a.Config.Store.Path)
		if err != nil {
			return fmt.Errorf("opening metrics store: %w", err)
		}
		err = store.RecordRun(ctx, summary, records)
		store.Close()
		if err != nil {
			return err
		}
	}

	if pub, done := a.publisher(); pub != nil {
		if err := pub.PublishRun(summary, records); err != nil {
			a.Logger.Warnw("Publishing run failed", "run_id", summary.RunID, "error", err)
		}
		done()
	}

	if a.Config.Render.Output != "" && a.Config.Render.Output != output {
		if err := a.render(records, a.Config.Render.Output); err != nil {
			return err
		}
	}

	fmt.Fprintf(a.Out, "Delineated %d of %d trees (%d skipped), run %s\n",
		summary.Delineated, summary.Trees, summary.Skipped, summary.RunID)
	fmt.Fprintf(a.Out, "Crowns written to %s\n", output)
	return nil
}

// RunClip filters the input cloud to the trees inside the configured plot.
// Nothing is written when the clip fails.
func (a *App) RunClip(ctx context.Context) error {
	defer a.Logger.Sync()

	clip := a.Config.Clip
	if clip.Plots == "" {
		return fmt.Errorf("no plot file given")
	}
	if clip.PlotID == "" {
		return fmt.Errorf("no plot identifier given")
	}

	pc, err := a.readPointCloud()
	if err != nil {
		return err
	}
	plots, err := crown.ReadPlots(clip.Plots, clip.PlotField)
	if err != nil {
		return err
	}

	clipped, report, err := crown.ClipToPlot(ctx, pc, plots, crown.ClipOptions{
		PlotID:       clip.PlotID,
		PlotField:    clip.PlotField,
		MinFraction:  clip.MinFraction,
		Segmentation: a.Config.SegmentationOptions(true),
		Workers:      a.Config.Workers,
	}, a.Logger)
	if err != nil {
		return err
	}

	output := clip.Output
	if output == "" {
		output = derivedPath(a.Config.Input, "_clipped"+filepath.Ext(a.Config.Input))
	}
	delim, err := crown.ParseDelimiter(a.Config.PointCloud.Delimiter)
	if err != nil {
		return err
	}
	if err := crown.WritePointCloudFile(output, clipped, delim); err != nil {
		return err
	}

	if pub, done := a.publisher(); pub != nil {
		if err := pub.PublishClip(report); err != nil {
			a.Logger.Warnw("Publishing clip failed", "plot", report.PlotID, "error", err)
		}
		done()
	}

	if report.TreeField.Degraded {
		fmt.Fprintf(a.Out, "Warning: grouped by %q, no tree identifier attribute present\n", report.TreeField.Name)
	}
	fmt.Fprintf(a.Out, "Kept %d of %d trees (%d points) in plot %s\n",
		len(report.Retained), report.Trees, report.PointsIn, report.PlotID)
	fmt.Fprintf(a.Out, "Clipped cloud written to %s\n", output)
	return nil
}

// RunRender draws a crown collection as an SVG or PNG map.
func (a *App) RunRender(ctx context.Context) error {
	defer a.Logger.Sync()

	if a.Config.Input == "" {
		return fmt.Errorf("no crown collection given")
	}
	records, err := crown.ReadCrowns(a.Config.Input)
	if err != nil {
		return err
	}

	output := a.Config.Render.Output
	if output == "" {
		output = derivedPath(a.Config.Input, "."+a.Config.Render.Format)
	}
	if err := a.render(records, output); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Rendered %d crowns to %s\n", len(records), output)
	return nil
}

func (a *App) render(records []crown.CrownRecord, output string) error {
	r := crown.NewCrownMapRenderer(records, a.heightClasses())
	if a.Config.Render.DPI > 0 {
		r.Resolution = canvas.DPI(a.Config.Render.DPI)
	}
	format := a.Config.Render.Format
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), "."); ext == "svg" || ext == "png" {
		format = ext
	}
	if err := r.RenderToFile(output, format); err != nil {
		return err
	}
	a.Logger.Infow("Rendered crown map", "path", output, "format", format)
	return nil
}
