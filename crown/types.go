package crown

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

// TreeID identifies an individual tree produced by the upstream
// segmentation step.
type TreeID int64

// Tree is the set of points sharing one tree identifier within a run.
// Trees are built once by GroupTrees and never mutated afterwards, so they
// can be handed to parallel workers without locking.
type Tree struct {
	ID      TreeID
	Indices []int       // row indices into the source PointCloud
	Points  []r3.Vector // coordinates in the same order as Indices
}

// Len returns the number of points in the tree.
func (t *Tree) Len() int {
	return len(t.Points)
}

// Footprint returns the planar projection of the tree's points.
func (t *Tree) Footprint() []orb.Point {
	pts := make([]orb.Point, len(t.Points))
	for i, p := range t.Points {
		pts[i] = orb.Point{p.X, p.Y}
	}
	return pts
}

// Elevations returns the z values of the tree's points.
func (t *Tree) Elevations() []float64 {
	zs := make([]float64, len(t.Points))
	for i, p := range t.Points {
		zs[i] = p.Z
	}
	return zs
}

// CrownMetrics holds the per-tree crown measurements. Lengths are in the
// units of the point cloud (metres for projected CRSs).
type CrownMetrics struct {
	TreeID      TreeID  `json:"treeId"`
	Area        float64 `json:"areaM2"`
	MaxDiameter float64 `json:"maxDiameterM"`
	AvgDiameter float64 `json:"avgDiameterM"`
	Height      float64 `json:"treeHeightM"`
	CrownDepth  float64 `json:"crownDepthM"`
	Volume2D    float64 `json:"volume2dM3"`
	Volume3D    float64 `json:"volume3dM3"`
	PointCount  int     `json:"pointCount"`
	Alpha       float64 `json:"alpha"`
}

// Rounded returns a copy with every measurement rounded to the given number
// of decimal places. A negative value leaves the metrics untouched.
func (m CrownMetrics) Rounded(places int) CrownMetrics {
	if places < 0 {
		return m
	}
	r := m
	r.Area = roundTo(m.Area, places)
	r.MaxDiameter = roundTo(m.MaxDiameter, places)
	r.AvgDiameter = roundTo(m.AvgDiameter, places)
	r.Height = roundTo(m.Height, places)
	r.CrownDepth = roundTo(m.CrownDepth, places)
	r.Volume2D = roundTo(m.Volume2D, places)
	r.Volume3D = roundTo(m.Volume3D, places)
	r.Alpha = roundTo(m.Alpha, places)
	return r
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// CrownRecord pairs a crown outline with the metrics derived from it.
type CrownRecord struct {
	TreeID  TreeID       `json:"treeId"`
	Polygon orb.Polygon  `json:"-"`
	Metrics CrownMetrics `json:"metrics"`
}

// Plot is a named ground-truth plot boundary.
type Plot struct {
	ID         string
	Geometry   orb.MultiPolygon
	Properties map[string]interface{}
}

// RunSummary describes one metrics run. It is what gets published and
// persisted next to the per-tree records.
type RunSummary struct {
	RunID      string `json:"runId"`
	Input      string `json:"input"`
	TreeField  string `json:"treeField"`
	Trees      int    `json:"trees"`
	Delineated int    `json:"delineated"`
	Skipped    int    `json:"skipped"`
	CRSEPSG    int    `json:"crsEpsg"`
	Timestamp  int64  `json:"timestamp"`
}

// Config represents the full configuration file
type Config struct {
	Input        string             `yaml:"input,omitempty" json:"input,omitempty"`
	Output       string             `yaml:"output,omitempty" json:"output,omitempty"`
	CRSEPSG      int                `yaml:"crsEpsg" json:"crsEpsg"`
	Workers      int                `yaml:"workers,omitempty" json:"workers,omitempty"` // 0 = GOMAXPROCS
	Segmentation SegmentationConfig `yaml:"segmentation" json:"segmentation"`
	Alpha        AlphaOptions       `yaml:"alpha" json:"alpha"`
	Regularize   RegularizeOptions  `yaml:"regularize" json:"regularize"`
	Metrics      MetricsOptions     `yaml:"metrics" json:"metrics"`
	Clip         ClipConfig         `yaml:"clip" json:"clip"`
	PointCloud   PointCloudConfig   `yaml:"pointcloud" json:"pointcloud"`
	Render       RenderConfig       `yaml:"render" json:"render"`
	MQTT         MQTTConfig         `yaml:"mqtt" json:"mqtt"`
	Store        StoreConfig        `yaml:"store" json:"store"`
}

// SegmentationConfig selects the per-point tree identifier attribute.
type SegmentationConfig struct {
	Fields        []string `yaml:"fields" json:"fields"`               // precedence order
	FallbackField string   `yaml:"fallbackField" json:"fallbackField"` // clip only
}

// AlphaOptions controls the adaptive alpha parameter.
type AlphaOptions struct {
	Default   float64 `yaml:"default" json:"default"` // used below MinPoints
	Scale     float64 `yaml:"scale" json:"scale"`     // multiplier on the larger bbox side
	MinPoints int     `yaml:"minPoints" json:"minPoints"`
}

// RegularizeMode names a boundary regularization strategy.
type RegularizeMode string

const (
	RegularizeSimplifyBuffer RegularizeMode = "simplify-buffer"
	RegularizeOpening        RegularizeMode = "opening"
)

// RegularizeOptions controls the clean-up applied to raw alpha shapes.
type RegularizeOptions struct {
	Mode              RegularizeMode `yaml:"mode" json:"mode"`
	SimplifyTolerance float64        `yaml:"simplifyTolerance" json:"simplifyTolerance"`
	BufferDistance    float64        `yaml:"bufferDistance" json:"bufferDistance"`
	OpeningDistance   float64        `yaml:"openingDistance" json:"openingDistance"`
	Segments          int            `yaml:"segments" json:"segments"` // per quarter circle
}

// HeightMode selects how tree height is reported.
type HeightMode string

const (
	// HeightAbsolute reports the elevation of the highest return.
	HeightAbsolute HeightMode = "absolute"
	// HeightRelative reports the range between the highest and lowest return.
	HeightRelative HeightMode = "relative"
)

// MetricsOptions controls metric computation.
type MetricsOptions struct {
	HeightMode          HeightMode `yaml:"heightMode" json:"heightMode"`
	CrownBasePercentile float64    `yaml:"crownBasePercentile" json:"crownBasePercentile"`
	Volume3D            bool       `yaml:"volume3d" json:"volume3d"`
	Precision           int        `yaml:"precision" json:"precision"`
}

// ClipConfig holds the plot clipping parameters.
type ClipConfig struct {
	Plots       string  `yaml:"plots,omitempty" json:"plots,omitempty"`
	PlotField   string  `yaml:"plotField" json:"plotField"`
	PlotID      string  `yaml:"plotId,omitempty" json:"plotId,omitempty"`
	MinFraction float64 `yaml:"minFraction" json:"minFraction"`
	Output      string  `yaml:"output,omitempty" json:"output,omitempty"`
}

// PointCloudConfig describes the delimited point cloud format.
type PointCloudConfig struct {
	Delimiter string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"` // empty = detect
}

// RenderConfig controls crown map rendering.
type RenderConfig struct {
	Output        string  `yaml:"output,omitempty" json:"output,omitempty"`
	Format        string  `yaml:"format" json:"format"` // svg or png
	DPI           float64 `yaml:"dpi" json:"dpi"`
	HeightClasses string  `yaml:"heightClasses" json:"heightClasses"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// StoreConfig enables the SQLite metrics store when Path is set.
type StoreConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}
