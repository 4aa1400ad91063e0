package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePointWKT parses a WKT POINT into (lat, lon).
//
// Upstream port data is inconsistent about axis order: most rows are the
// standard POINT(lon lat), but some arrive as POINT(lat lon). When the
// first coordinate cannot be a latitude (|a| > 90) the pair is read as
// lon/lat; when the second cannot be a latitude the pair is read as
// lat/lon. Pairs valid under both readings resolve as the standard
// lon/lat order.
func ParsePointWKT(wkt string) (lat, lon float64, err error) {
	s := strings.TrimSpace(wkt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POINT") {
		return 0, 0, fmt.Errorf("not a WKT point: %q", wkt)
	}
	open := strings.Index(s, "(")
	close := strings.LastIndex(s, ")")
	if open < 0 || close < open {
		return 0, 0, fmt.Errorf("malformed WKT point: %q", wkt)
	}
	fields := strings.Fields(s[open+1 : close])
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("WKT point needs 2 coordinates, got %d: %q", len(fields), wkt)
	}
	a, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad WKT coordinate %q: %w", fields[0], err)
	}
	b, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad WKT coordinate %q: %w", fields[1], err)
	}

	aLat := a >= -90 && a <= 90
	bLat := b >= -90 && b <= 90
	switch {
	case !aLat && bLat:
		lat, lon = b, a // standard lon lat, forced
	case aLat && !bLat:
		lat, lon = a, b // swapped source
	default:
		lat, lon = b, a // ambiguous: standard lon lat
	}
	if !ValidLatLon(lat, lon) {
		return 0, 0, fmt.Errorf("WKT point out of range: %q", wkt)
	}
	return lat, lon, nil
}

// ParsePolygonWKT parses the outer ring of a WKT POLYGON((lon lat, ...)).
// Polygon rings always use the standard lon/lat order; only point data
// suffers the swapped-axis problem.
func ParsePolygonWKT(wkt string) (Polygon, error) {
	s := strings.TrimSpace(wkt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POLYGON") {
		return Polygon{}, fmt.Errorf("not a WKT polygon: %q", wkt)
	}
	open := strings.Index(s, "((")
	close := strings.Index(s, ")")
	if open < 0 || close < open {
		return Polygon{}, fmt.Errorf("malformed WKT polygon: %q", wkt)
	}
	pairs := strings.Split(s[open+2:close], ",")
	if len(pairs) < 3 {
		return Polygon{}, fmt.Errorf("WKT polygon ring needs >= 3 vertices: %q", wkt)
	}
	lats := make([]float64, 0, len(pairs))
	lons := make([]float64, 0, len(pairs))
	for _, pair := range pairs {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) != 2 {
			return Polygon{}, fmt.Errorf("bad WKT vertex %q", pair)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Polygon{}, fmt.Errorf("bad WKT vertex %q: %w", pair, err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Polygon{}, fmt.Errorf("bad WKT vertex %q: %w", pair, err)
		}
		lats = append(lats, lat)
		lons = append(lons, lon)
	}
	// Drop a repeated closing vertex.
	n := len(lats)
	if n > 1 && lats[0] == lats[n-1] && lons[0] == lons[n-1] {
		lats = lats[:n-1]
		lons = lons[:n-1]
	}
	return NewPolygon(lats, lons), nil
}
