package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"ridelink/internal/types"
)

// StoredPrecision is the geohash length written on ride documents (~150m cells).
const StoredPrecision uint = 7

// kmPerDegree is the meridian arc length of one degree on the sphere used by
// DistanceKm.
const kmPerDegree = earthRadiusKm * math.Pi / 180

// cellSizeKm returns the exact height and equatorial width of a geohash cell.
// Longitude takes the extra bit when 5*precision is odd.
func cellSizeKm(precision uint) (height, width float64) {
	bits := 5 * precision
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	height = 180 / math.Ldexp(1, int(latBits)) * kmPerDegree
	width = 360 / math.Ldexp(1, int(lngBits)) * kmPerDegree
	return height, width
}

// Encode returns the geohash of p at the given precision.
func Encode(p types.Point, precision uint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
}

// PrecisionForRadius picks the finest precision whose cells are at least
// radiusKm across everywhere the circle reaches, so the 3x3 neighbourhood of
// the centre cell covers the whole circle. Zero means no precision is coarse
// enough.
func PrecisionForRadius(lat, radiusKm float64) uint {
	// Cells narrow towards the poles; size them at the circle's poleward edge.
	edge := math.Min(math.Abs(lat)+radiusKm/kmPerDegree, 89.9)
	shrink := math.Cos(degreesToRadians(edge))
	var best uint
	for p := uint(1); p <= maxPrecision; p++ {
		height, width := cellSizeKm(p)
		if math.Min(height, width*shrink) < radiusKm*coverMargin {
			break
		}
		best = p
	}
	return best
}

const (
	maxPrecision uint = 8
	// coverMargin absorbs float error and the slight poleward bulge of
	// great-circle paths between points at the circle's edge.
	coverMargin = 1.01
)

// Neighborhood returns the geohash cell containing center plus its eight
// neighbours, sized for radiusKm. A nil result means the radius is too large
// for a cell prefilter and callers must fall back to distance checks alone.
func Neighborhood(center types.Point, radiusKm float64) (cells map[string]struct{}, precision uint) {
	precision = PrecisionForRadius(center.Lat, radiusKm)
	if precision == 0 {
		return nil, 0
	}
	hash := Encode(center, precision)
	cells = map[string]struct{}{hash: {}}
	for _, n := range geohash.Neighbors(hash) {
		cells[n] = struct{}{}
	}
	return cells, precision
}

// InNeighborhood reports whether a stored geohash falls inside cells. Hashes
// shorter than the precision are never excluded.
func InNeighborhood(cells map[string]struct{}, precision uint, hash string) bool {
	if cells == nil || uint(len(hash)) < precision {
		return true
	}
	_, ok := cells[hash[:precision]]
	return ok
}
