package crown

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	geomshp "github.com/ctessum/geom/encoding/shp"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// crownFields is the attribute layout of crown shapefiles. dBase limits
// names to ten characters.
var crownFields = []shp.Field{
	shp.NumberField("tree_id", 10),
	shp.FloatField("area_m2", 16, 4),
	shp.FloatField("max_diam_m", 16, 4),
	shp.FloatField("avg_diam_m", 16, 4),
	shp.FloatField("tree_ht_m", 16, 4),
	shp.FloatField("crown_ht_m", 16, 4),
	shp.FloatField("vol_2d_m3", 16, 4),
	shp.FloatField("vol_3d_m3", 16, 4),
	shp.NumberField("n_points", 10),
	shp.StringField("ht_class", 12),
}

// WriteCrowns writes crown records to a GeoJSON (.geojson, .json) or
// shapefile (.shp) collection. Each height is labelled with its class in
// the given scheme. Shapefiles get a .prj sidecar for epsg; codes without
// a known projection fail with *UnsupportedCRSError.
func WriteCrowns(path string, records []CrownRecord, epsg int, scheme HeightClassScheme) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return writeCrownsShapefile(path, records, epsg, scheme)
	case ".geojson", ".json":
		return writeCrownsGeoJSON(path, records, epsg, scheme)
	}
	return fmt.Errorf("unsupported crown output %s (want .shp or .geojson)", path)
}

func heightLabel(scheme HeightClassScheme, height float64) string {
	if c, ok := scheme.Classify(height); ok {
		return c.Label
	}
	return ""
}

// CrownFeatureCollection converts records into a GeoJSON feature collection
// tagged with a named EPSG CRS member.
func CrownFeatureCollection(records []CrownRecord, epsg int, scheme HeightClassScheme) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if epsg > 0 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]interface{}{
				"type": "name",
				"properties": map[string]interface{}{
					"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", epsg),
				},
			},
		}
	}
	for _, r := range records {
		f := geojson.NewFeature(r.Polygon)
		m := r.Metrics
		f.Properties["tree_id"] = int64(r.TreeID)
		f.Properties["area_m2"] = m.Area
		f.Properties["max_diam_m"] = m.MaxDiameter
		f.Properties["avg_diam_m"] = m.AvgDiameter
		f.Properties["tree_ht_m"] = m.Height
		f.Properties["crown_ht_m"] = m.CrownDepth
		f.Properties["volume_2d_m3"] = m.Volume2D
		f.Properties["volume_3d_m3"] = m.Volume3D
		f.Properties["n_points"] = m.PointCount
		f.Properties["ht_class"] = heightLabel(scheme, m.Height)
		fc.Append(f)
	}
	return fc
}

func writeCrownsGeoJSON(path string, records []CrownRecord, epsg int, scheme HeightClassScheme) error {
	data, err := CrownFeatureCollection(records, epsg, scheme).MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling crowns: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing crowns: %w", err)
	}
	return nil
}

// shapefilePolygon converts a crown to shapefile winding: outer ring
// clockwise, holes counter-clockwise.
func shapefilePolygon(p orb.Polygon) geom.Polygon {
	out := make(geom.Polygon, 0, len(p))
	for i, r := range p {
		ring := orientRing(closeRing(r.Clone()), i != 0)
		pts := make([]geom.Point, len(ring))
		for j, pt := range ring {
			pts[j] = geom.Point{X: pt[0], Y: pt[1]}
		}
		out = append(out, pts)
	}
	return out
}

func writeCrownsShapefile(path string, records []CrownRecord, epsg int, scheme HeightClassScheme) error {
	// An unknown CRS fails here, before any file is created.
	if err := writeProjection(path, epsg); err != nil {
		return err
	}

	e, err := geomshp.NewEncoderFromFields(path, shp.POLYGON, crownFields...)
	if err != nil {
		return fmt.Errorf("creating crown shapefile: %w", err)
	}
	defer e.Close()

	for _, r := range records {
		m := r.Metrics
		err := e.EncodeFields(shapefilePolygon(r.Polygon),
			int(r.TreeID), m.Area, m.MaxDiameter, m.AvgDiameter, m.Height,
			m.CrownDepth, m.Volume2D, m.Volume3D, m.PointCount, heightLabel(scheme, m.Height))
		if err != nil {
			return fmt.Errorf("writing tree %d: %w", r.TreeID, err)
		}
	}
	return nil
}

// ReadCrowns loads crown records from a GeoJSON collection written by
// WriteCrowns. Only the outline, tree ID and metric properties are read.
func ReadCrowns(path string) ([]CrownRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading crowns: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing crowns: %w", err)
	}

	records := make([]CrownRecord, 0, len(fc.Features))
	for i, f := range fc.Features {
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok {
			return nil, fmt.Errorf("crown feature %d: geometry %T is not a polygon", i, f.Geometry)
		}
		id := TreeID(f.Properties.MustInt("tree_id", 0))
		records = append(records, CrownRecord{
			TreeID:  id,
			Polygon: poly,
			Metrics: CrownMetrics{
				TreeID:      id,
				Area:        f.Properties.MustFloat64("area_m2", 0),
				MaxDiameter: f.Properties.MustFloat64("max_diam_m", 0),
				AvgDiameter: f.Properties.MustFloat64("avg_diam_m", 0),
				Height:      f.Properties.MustFloat64("tree_ht_m", 0),
				CrownDepth:  f.Properties.MustFloat64("crown_ht_m", 0),
				Volume2D:    f.Properties.MustFloat64("volume_2d_m3", 0),
				Volume3D:    f.Properties.MustFloat64("volume_3d_m3", 0),
				PointCount:  f.Properties.MustInt("n_points", 0),
			},
		})
	}
	return records, nil
}
