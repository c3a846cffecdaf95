package crown

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	gcsWGS84  = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
	gcsETRS89 = `GEOGCS["GCS_ETRS_1989",DATUM["D_ETRS_1989",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
)

// UnsupportedCRSError reports an EPSG code that has no ESRI projection
// string available for shapefile output.
type UnsupportedCRSError struct {
	EPSG int
}

func (e *UnsupportedCRSError) Error() string {
	return fmt.Sprintf("no projection definition for EPSG:%d (supported: 4326, 4258, 2180, 32601-32660, 32701-32760, 25828-25838)", e.EPSG)
}

func transverseMercator(name, gcs string, falseEasting, falseNorthing, centralMeridian, scale float64) string {
	num := func(v float64) string {
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	return `PROJCS["` + name + `",` + gcs +
		`,PROJECTION["Transverse_Mercator"]` +
		`,PARAMETER["False_Easting",` + num(falseEasting) + `]` +
		`,PARAMETER["False_Northing",` + num(falseNorthing) + `]` +
		`,PARAMETER["Central_Meridian",` + num(centralMeridian) + `]` +
		`,PARAMETER["Scale_Factor",` + num(scale) + `]` +
		`,PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`
}

func utmMeridian(zone int) float64 {
	return float64(6*zone - 183)
}

// ProjectionWKT returns the ESRI WKT written to a shapefile's .prj for an
// EPSG code.
func ProjectionWKT(epsg int) (string, error) {
	switch {
	case epsg == 4326:
		return gcsWGS84, nil
	case epsg == 4258:
		return gcsETRS89, nil
	case epsg == 2180:
		return transverseMercator("ETRS_1989_Poland_CS92", gcsETRS89, 500000, -5300000, 19, 0.9993), nil
	case epsg >= 32601 && epsg <= 32660:
		zone := epsg - 32600
		return transverseMercator(fmt.Sprintf("WGS_1984_UTM_Zone_%dN", zone), gcsWGS84, 500000, 0, utmMeridian(zone), 0.9996), nil
	case epsg >= 32701 && epsg <= 32760:
		zone := epsg - 32700
		return transverseMercator(fmt.Sprintf("WGS_1984_UTM_Zone_%dS", zone), gcsWGS84, 500000, 10000000, utmMeridian(zone), 0.9996), nil
	case epsg >= 25828 && epsg <= 25838:
		zone := epsg - 25800
		return transverseMercator(fmt.Sprintf("ETRS_1989_UTM_Zone_%dN", zone), gcsETRS89, 500000, 0, utmMeridian(zone), 0.9996), nil
	}
	return "", &UnsupportedCRSError{EPSG: epsg}
}

// writeProjection writes the .prj sidecar of the shapefile at shpPath.
func writeProjection(shpPath string, epsg int) error {
	wkt, err := ProjectionWKT(epsg)
	if err != nil {
		return err
	}
	path := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".prj"
	if err := os.WriteFile(path, []byte(wkt), 0644); err != nil {
		return fmt.Errorf("writing projection: %w", err)
	}
	return nil
}
