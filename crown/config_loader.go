package crown

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults shared by the config file, the CLI and the library entry points.
const (
	DefaultCRSEPSG         = 32633
	DefaultAlpha           = 1.0
	DefaultAlphaScale      = 0.075
	DefaultAlphaMinPoints  = 4
	DefaultSimplifyTol     = 0.2
	DefaultBufferDistance  = 0.1
	DefaultOpeningDistance = 0.5
	DefaultQuadSegments    = 8
	DefaultBasePercentile  = 5.0
	DefaultPrecision       = 4
	DefaultMinFraction     = 0.5
	DefaultPlotField       = "Plot"
	DefaultFallbackField   = "classification"
)

// DefaultTreeIDFields is the tree identifier precedence: the custom
// segmentation dimension first, then the generic one.
var DefaultTreeIDFields = []string{"final_segs", "treeID"}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		CRSEPSG: DefaultCRSEPSG,
		Segmentation: SegmentationConfig{
			Fields:        append([]string(nil), DefaultTreeIDFields...),
			FallbackField: DefaultFallbackField,
		},
		Alpha: AlphaOptions{
			Default:   DefaultAlpha,
			Scale:     DefaultAlphaScale,
			MinPoints: DefaultAlphaMinPoints,
		},
		Regularize: RegularizeOptions{
			Mode:              RegularizeSimplifyBuffer,
			SimplifyTolerance: DefaultSimplifyTol,
			BufferDistance:    DefaultBufferDistance,
			OpeningDistance:   DefaultOpeningDistance,
			Segments:          DefaultQuadSegments,
		},
		Metrics: MetricsOptions{
			HeightMode:          HeightAbsolute,
			CrownBasePercentile: DefaultBasePercentile,
			Volume3D:            true,
			Precision:           DefaultPrecision,
		},
		Clip: ClipConfig{
			PlotField:   DefaultPlotField,
			MinFraction: DefaultMinFraction,
		},
		Render: RenderConfig{
			Format:        "svg",
			DPI:           300,
			HeightClasses: string(HeightClassesWerner),
		},
	}
}

// LoadConfig loads the configuration from a YAML file. Keys missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if len(c.Segmentation.Fields) == 0 {
		return fmt.Errorf("segmentation.fields must name at least one attribute")
	}
	for i, f := range c.Segmentation.Fields {
		if f == "" {
			return fmt.Errorf("segmentation.fields[%d] is empty", i)
		}
	}
	if c.Alpha.Default <= 0 {
		return fmt.Errorf("alpha.default must be positive, got %g", c.Alpha.Default)
	}
	if c.Alpha.Scale <= 0 {
		return fmt.Errorf("alpha.scale must be positive, got %g", c.Alpha.Scale)
	}
	switch c.Regularize.Mode {
	case RegularizeSimplifyBuffer, RegularizeOpening:
	default:
		return fmt.Errorf("regularize.mode %q is not one of %q, %q",
			c.Regularize.Mode, RegularizeSimplifyBuffer, RegularizeOpening)
	}
	if c.Regularize.SimplifyTolerance < 0 || c.Regularize.BufferDistance < 0 || c.Regularize.OpeningDistance < 0 {
		return fmt.Errorf("regularize distances must not be negative")
	}
	switch c.Metrics.HeightMode {
	case HeightAbsolute, HeightRelative:
	default:
		return fmt.Errorf("metrics.heightMode %q is not one of %q, %q",
			c.Metrics.HeightMode, HeightAbsolute, HeightRelative)
	}
	if c.Metrics.CrownBasePercentile < 0 || c.Metrics.CrownBasePercentile > 100 {
		return fmt.Errorf("metrics.crownBasePercentile must be within [0, 100], got %g", c.Metrics.CrownBasePercentile)
	}
	if c.Clip.MinFraction < 0 || c.Clip.MinFraction > 1 {
		return fmt.Errorf("clip.minFraction must be within [0, 1], got %g", c.Clip.MinFraction)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if _, err := ParseHeightClassScheme(c.Render.HeightClasses); err != nil {
		return fmt.Errorf("render.heightClasses: %w", err)
	}
	switch c.Render.Format {
	case "svg", "png":
	default:
		return fmt.Errorf("render.format %q is not svg or png", c.Render.Format)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// SegmentationOptions derives the tree identifier resolution options.
// Fallback is only allowed for the clipping workflow.
func (c *Config) SegmentationOptions(allowFallback bool) SegmentationOptions {
	return SegmentationOptions{
		Fields:        c.Segmentation.Fields,
		FallbackField: c.Segmentation.FallbackField,
		AllowFallback: allowFallback,
	}
}

// FitOptions derives the boundary fitting options.
func (c *Config) FitOptions() FitOptions {
	return FitOptions{Alpha: c.Alpha, Regularize: c.Regularize}
}
