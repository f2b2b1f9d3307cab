package tile

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord identifies one slippy-map tile.
type Coord struct {
	X int
	Y int
	Z int
}

// Key returns the storage key for a tile: "{z}/{x}/{y}".
// The codec does not validate; callers keep coordinates inside the grid.
func Key(c Coord) string {
	return strconv.Itoa(c.Z) + "/" + strconv.Itoa(c.X) + "/" + strconv.Itoa(c.Y)
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (Coord, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("invalid tile key %q: expected z/x/y", key)
	}

	values := make([]int, 3)
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return Coord{}, fmt.Errorf("invalid tile key %q: %w", key, err)
		}
		values[i] = v
	}

	return Coord{Z: values[0], X: values[1], Y: values[2]}, nil
}

func (c Coord) String() string {
	return Key(c)
}

// InGrid reports whether x and y fall inside the 2^z by 2^z grid of the zoom level.
func (c Coord) InGrid() bool {
	if c.Z < 0 || c.Z > MaxSupportedZoom || c.X < 0 || c.Y < 0 {
		return false
	}
	n := 1 << uint(c.Z)
	return c.X < n && c.Y < n
}

// MaxSupportedZoom keeps 1<<z inside an int32 grid.
const MaxSupportedZoom = 30

// ZoomRange is an inclusive range of zoom levels.
type ZoomRange struct {
	Min int
	Max int
}

func (r ZoomRange) Contains(z int) bool {
	return z >= r.Min && z <= r.Max
}

func (r ZoomRange) Validate() error {
	if r.Min < 0 || r.Max > MaxSupportedZoom {
		return fmt.Errorf("zoom range %d..%d outside 0..%d", r.Min, r.Max, MaxSupportedZoom)
	}
	if r.Min > r.Max {
		return fmt.Errorf("min zoom %d greater than max zoom %d", r.Min, r.Max)
	}
	return nil
}
