package crown

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ReadPlots loads plot polygons from a shapefile or a GeoJSON feature
// collection. idField names the attribute holding the plot identifier.
func ReadPlots(path, idField string) ([]Plot, error) {
	if idField == "" {
		idField = DefaultPlotField
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return readPlotsShapefile(path, idField)
	case ".geojson", ".json":
		return readPlotsGeoJSON(path, idField)
	}
	return nil, fmt.Errorf("unsupported plot file %s (want .shp or .geojson)", path)
}

func readPlotsShapefile(path, idField string) ([]Plot, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("opening plot shapefile: %w", err)
	}
	defer d.Close()

	var plots []Plot
	for row := 0; ; row++ {
		g, fields, more := d.DecodeRowFields(idField)
		if err := d.Error(); err != nil {
			return nil, fmt.Errorf("reading %s row %d: %w", path, row, err)
		}
		if !more {
			break
		}
		poly, ok := g.(geom.Polygon)
		if !ok {
			return nil, fmt.Errorf("reading %s row %d: geometry %T is not a polygon", path, row, g)
		}
		id := strings.Trim(fields[idField], " \x00")
		plots = append(plots, Plot{
			ID:         id,
			Geometry:   fromGeom(poly),
			Properties: map[string]interface{}{idField: id},
		})
	}
	return plots, nil
}

func readPlotsGeoJSON(path, idField string) ([]Plot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plot file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing plot GeoJSON: %w", err)
	}

	plots := make([]Plot, 0, len(fc.Features))
	for i, f := range fc.Features {
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			return nil, fmt.Errorf("plot feature %d: geometry %T is not a polygon", i, f.Geometry)
		}
		raw, ok := f.Properties[idField]
		if !ok {
			return nil, fmt.Errorf("plot feature %d has no %q property", i, idField)
		}
		plots = append(plots, Plot{
			ID:         propertyString(raw),
			Geometry:   mp,
			Properties: map[string]interface{}(f.Properties),
		})
	}
	return plots, nil
}

// propertyString renders a property value the way it is compared against
// the requested plot identifier. Whole numbers lose their decimal point.
func propertyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
