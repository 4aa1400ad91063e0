package geo

// BoundingBox is an axis-aligned lat/lon box. Boxes never wrap the
// antimeridian; corridor polygons in the configured theatres do not cross it.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether the point is inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Expand returns the box grown by tol degrees on every side.
func (b BoundingBox) Expand(tol float64) BoundingBox {
	return BoundingBox{
		MinLat: b.MinLat - tol,
		MinLon: b.MinLon - tol,
		MaxLat: b.MaxLat + tol,
		MaxLon: b.MaxLon + tol,
	}
}

// Intersects reports whether two boxes overlap.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat &&
		b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon
}

// IntersectsSegment reports whether the straight line between the two points
// could pass through the box. It is a conservative test: the segment's own
// bounding box is intersected with b, which is what the gap detector needs
// for corridor assignment with a tolerance already applied via Expand.
func (b BoundingBox) IntersectsSegment(lat1, lon1, lat2, lon2 float64) bool {
	seg := BoundingBox{
		MinLat: min(lat1, lat2),
		MaxLat: max(lat1, lat2),
		MinLon: min(lon1, lon2),
		MaxLon: max(lon1, lon2),
	}
	return b.Intersects(seg)
}

// Polygon is a closed ring of WGS-84 vertices with its precomputed bounding
// box. The ring need not repeat the first vertex.
type Polygon struct {
	Lats []float64
	Lons []float64
	BBox BoundingBox
}

// NewPolygon builds a polygon and precomputes its bounding box.
func NewPolygon(lats, lons []float64) Polygon {
	p := Polygon{Lats: lats, Lons: lons}
	if len(lats) == 0 {
		return p
	}
	p.BBox = BoundingBox{MinLat: lats[0], MaxLat: lats[0], MinLon: lons[0], MaxLon: lons[0]}
	for i := 1; i < len(lats); i++ {
		p.BBox.MinLat = min(p.BBox.MinLat, lats[i])
		p.BBox.MaxLat = max(p.BBox.MaxLat, lats[i])
		p.BBox.MinLon = min(p.BBox.MinLon, lons[i])
		p.BBox.MaxLon = max(p.BBox.MaxLon, lons[i])
	}
	return p
}

// Contains reports whether the point is inside the polygon (ray cast on
// longitude). Points on an edge may land on either side; corridor polygons
// are drawn with margin so this does not matter in practice.
func (p Polygon) Contains(lat, lon float64) bool {
	if !p.BBox.Contains(lat, lon) {
		return false
	}
	n := len(p.Lats)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		yi, xi := p.Lats[i], p.Lons[i]
		yj, xj := p.Lats[j], p.Lons[j]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}
