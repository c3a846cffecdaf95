package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries command line values. Pointer fields are only set when
// the flag was given, so they override the config file without masking it.
type AppOptions struct {
	ConfigFile string
	Debug      bool
	Input      string
	Output     string
	Delimiter  string
	Workers    *int
	CRSEPSG    *int

	// metrics
	AlphaDefault *float64
	HeightMode   string
	Regularize   string
	NoVolume3D   bool
	StorePath    string
	RenderOutput string

	// clip
	PlotsFile   string
	PlotID      string
	PlotField   string
	MinFraction *float64

	// render
	Format        string
	HeightClasses string
}

// Runner is implemented by App; tests substitute a mock.
type Runner interface {
	ApplyOptions(opts AppOptions) error
	RunMetrics(ctx context.Context) error
	RunClip(ctx context.Context) error
	RunRender(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, NewApp()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to the matching App method.
func run(ctx context.Context, args []string, out io.Writer, app Runner) error {
	root := newRootCmd(app)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(app Runner) *cobra.Command {
	var opts AppOptions

	root := &cobra.Command{
		Use:   "crownmesh",
		Short: "Tree crown delineation and metrics from segmented point clouds.",
		Long: `crownmesh fits crown outlines to the trees of a segmented point cloud,
measures crown area, diameters, height, depth and volume, and clips
multi-tree clouds to ground-truth plot boundaries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	pf.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	pf.StringVarP(&opts.Output, "output", "o", "", "output path")
	pf.StringVar(&opts.Delimiter, "delimiter", "", "point cloud delimiter: comma, semicolon, tab or space (default: detect)")
	pf.Int("workers", 0, "parallel workers (default: number of CPUs)")
	pf.Int("crs", 0, "EPSG code of the point cloud CRS (default 32633)")

	// apply copies flags into the options and hands them to the app.
	apply := func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			opts.Input = args[0]
		}
		flags := cmd.Flags()
		if flags.Changed("workers") {
			v, _ := flags.GetInt("workers")
			opts.Workers = &v
		}
		if flags.Changed("crs") {
			v, _ := flags.GetInt("crs")
			opts.CRSEPSG = &v
		}
		if flags.Lookup("alpha") != nil && flags.Changed("alpha") {
			v, _ := flags.GetFloat64("alpha")
			opts.AlphaDefault = &v
		}
		if flags.Lookup("min-fraction") != nil && flags.Changed("min-fraction") {
			v, _ := flags.GetFloat64("min-fraction")
			opts.MinFraction = &v
		}
		return app.ApplyOptions(opts)
	}

	metricsCmd := &cobra.Command{
		Use:   "metrics [point-cloud]",
		Short: "Delineate crowns and compute per-tree metrics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apply(cmd, args); err != nil {
				return err
			}
			return app.RunMetrics(cmd.Context())
		},
	}
	mf := metricsCmd.Flags()
	mf.Float64("alpha", 1.0, "alpha used for trees with fewer than four points")
	mf.StringVar(&opts.HeightMode, "height-mode", "", "tree height: absolute (max z) or relative (max z - min z)")
	mf.StringVar(&opts.Regularize, "regularize", "", "boundary regularization: simplify-buffer or opening")
	mf.BoolVar(&opts.NoVolume3D, "no-volume3d", false, "skip the 3D volume estimate")
	mf.StringVar(&opts.StorePath, "store", "", "SQLite database to record the run in")
	mf.StringVar(&opts.RenderOutput, "map", "", "also render a crown map to this file")

	clipCmd := &cobra.Command{
		Use:   "clip [point-cloud]",
		Short: "Keep the trees that substantially overlap a plot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apply(cmd, args); err != nil {
				return err
			}
			return app.RunClip(cmd.Context())
		},
	}
	cf := clipCmd.Flags()
	cf.StringVar(&opts.PlotsFile, "plots", "", "plot polygons (.shp or .geojson)")
	cf.StringVar(&opts.PlotID, "plot", "", "plot identifier to clip to")
	cf.StringVar(&opts.PlotField, "plot-field", "", "attribute holding the plot identifier (default \"Plot\")")
	cf.Float64("min-fraction", 0.5, "minimum share of a tree's points inside the plot")

	renderCmd := &cobra.Command{
		Use:   "render [crowns.geojson]",
		Short: "Render a crown map coloured by height class",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apply(cmd, args); err != nil {
				return err
			}
			return app.RunRender(cmd.Context())
		},
	}
	rf := renderCmd.Flags()
	rf.StringVar(&opts.Format, "format", "", "svg or png")
	rf.StringVar(&opts.HeightClasses, "height-classes", "", "werner or arbitrary")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of crownmesh",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crownmesh version: %s\n", Version)
		},
	}

	root.AddCommand(metricsCmd, clipCmd, renderCmd, versionCmd)
	return root
}
