package tile_grid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"offlinetiles/internal/tile"
)

// Bounds is a geographic rectangle given by two opposite corners.
// Points are orb points, so index 0 is longitude and index 1 is latitude.
type Bounds struct {
	NorthEast orb.Point
	SouthWest orb.Point
}

// NewBounds builds Bounds from the four edges of a rectangle.
func NewBounds(north, south, east, west float64) Bounds {
	return Bounds{
		NorthEast: orb.Point{east, north},
		SouthWest: orb.Point{west, south},
	}
}

// Validate rejects corners that are not finite or lie outside the globe.
func (b Bounds) Validate() error {
	for _, p := range []orb.Point{b.NorthEast, b.SouthWest} {
		lon, lat := p.Lon(), p.Lat()
		if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
			return fmt.Errorf("corner %v is not a finite coordinate", p)
		}
		if lat < -90 || lat > 90 {
			return fmt.Errorf("latitude %v outside -90..90", lat)
		}
		if lon < -180 || lon > 180 {
			return fmt.Errorf("longitude %v outside -180..180", lon)
		}
	}
	return nil
}

// FromBound converts an orb.Bound into corner form.
func FromBound(b orb.Bound) Bounds {
	return Bounds{
		NorthEast: orb.Point{b.Right(), b.Top()},
		SouthWest: orb.Point{b.Left(), b.Bottom()},
	}
}

// Bound returns the normalized orb.Bound of the two corners.
func (b Bounds) Bound() orb.Bound {
	return orb.MultiPoint{b.NorthEast, b.SouthWest}.Bound()
}

type span struct {
	minX, maxX int
	minY, maxY int
}

// spanAt projects both corners at zoom z and orders them explicitly, so swapped
// or mislabelled corners still produce the west..east / north..south ranges.
func spanAt(northEast, southWest orb.Point, z int) span {
	west := math.Min(northEast.Lon(), southWest.Lon())
	east := math.Max(northEast.Lon(), southWest.Lon())
	north := math.Max(northEast.Lat(), southWest.Lat())
	south := math.Min(northEast.Lat(), southWest.Lat())

	nw := project(orb.Point{west, north}, z)
	se := project(orb.Point{east, south}, z)

	// north has the smaller row number
	return span{
		minX: nw.X, maxX: se.X,
		minY: nw.Y, maxY: se.Y,
	}
}

// project maps a point to its tile at zoom z using the Web-Mercator slippy formula.
// Longitudes are clamped to the antimeridian and the result to the grid edge.
func project(p orb.Point, z int) tile.Coord {
	lon := math.Max(-180, math.Min(180, p.Lon()))
	t := maptile.At(orb.Point{lon, p.Lat()}, maptile.Zoom(z))

	last := (1 << uint(z)) - 1
	x := int(t.X)
	y := int(t.Y)
	if x > last {
		x = last
	}
	if y > last {
		y = last
	}
	return tile.Coord{X: x, Y: y, Z: z}
}

// maxPrealloc caps the initial capacity of ForBounds. Callers bound the
// real size with Count first.
const maxPrealloc = 4096

// ForBounds returns every tile covering the rectangle for each zoom in
// [minZoom, maxZoom]. Order is zoom-major, then row (north to south), then
// column (west to east).
func ForBounds(northEast, southWest orb.Point, minZoom, maxZoom int) []tile.Coord {
	coords := make([]tile.Coord, 0, min(Count(northEast, southWest, minZoom, maxZoom), maxPrealloc))

	for z := minZoom; z <= maxZoom; z++ {
		s := spanAt(northEast, southWest, z)
		for y := s.minY; y <= s.maxY; y++ {
			for x := s.minX; x <= s.maxX; x++ {
				coords = append(coords, tile.Coord{X: x, Y: y, Z: z})
			}
		}
	}

	return coords
}

// Count returns len(ForBounds(...)) without building the list.
func Count(northEast, southWest orb.Point, minZoom, maxZoom int) int {
	total := 0
	for z := minZoom; z <= maxZoom; z++ {
		s := spanAt(northEast, southWest, z)
		total += (s.maxX - s.minX + 1) * (s.maxY - s.minY + 1)
	}
	return total
}

// Tiles is ForBounds over a Bounds value.
func (b Bounds) Tiles(zoom tile.ZoomRange) []tile.Coord {
	return ForBounds(b.NorthEast, b.SouthWest, zoom.Min, zoom.Max)
}

// Count is Count over a Bounds value.
func (b Bounds) Count(zoom tile.ZoomRange) int {
	return Count(b.NorthEast, b.SouthWest, zoom.Min, zoom.Max)
}
