package geo

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// Kilometres per linear unit for the units a projected CRS commonly uses.
const (
	MetreToKm     = 0.001
	KilometreToKm = 1.0
	FootToKm      = 0.0003048
	USFootToKm    = 1200.0 / 3937.0 / 1000.0
)

// UnitToKm maps a linear unit name to its kilometre factor.
// An empty name means metres.
func UnitToKm(unit string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "m", "metre", "meter", "metres", "meters":
		return MetreToKm, nil
	case "km", "kilometre", "kilometer":
		return KilometreToKm, nil
	case "ft", "foot", "feet":
		return FootToKm, nil
	case "us-ft", "us_survey_foot":
		return USFootToKm, nil
	default:
		return 0, fmt.Errorf("unknown linear unit %q", unit)
	}
}

// AreaKm2 converts a square of the given side, in CRS units, to km².
func AreaKm2(side, unitToKm float64) float64 {
	return side * side * unitToKm * unitToKm
}

// Square returns the axis-aligned square of half-width half centred on c.
func Square(c orb.Point, half float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{c[0] - half, c[1] - half},
		Max: orb.Point{c[0] + half, c[1] + half},
	}
}

// InWindow reports whether p lies in the closed window w.
func InWindow(w orb.Bound, p orb.Point) bool {
	return p[0] >= w.Min[0] && p[0] <= w.Max[0] &&
		p[1] >= w.Min[1] && p[1] <= w.Max[1]
}
