package geometry

import (
	"math"
)

// --- Geometry Helpers ---

// EarthRadiusNM is the mean Earth radius in nautical miles.
const EarthRadiusNM = 3440.06

func DistNM(lat1, lon1, lat2, lon2 float64) float64 {
	r1, r2 := lat1*math.Pi/180, lat2*math.Pi/180

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := wrapRadians((lon2 - lon1) * math.Pi / 180)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(r1)*math.Cos(r2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return EarthRadiusNM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// TrueCourse returns the course from the first point to the second measured
// on the Web-Mercator plane, i.e. the rhumb line a pilot reads off the chart.
// The result is in [0, 360). Coincident points give 90, east.
func TrueCourse(lat1, lon1, lat2, lon2 float64) float64 {
	dx := wrapRadians((lon2 - lon1) * math.Pi / 180)
	dy := mercatorY(lat2) - mercatorY(lat1)
	if dx == 0 && dy == 0 {
		return 90
	}

	angle := math.Atan2(dy, dx) * 180 / math.Pi
	return NormalizeHeading(90 - angle)
}

// NormalizeHeading folds any angle in degrees into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	// math.Mod can hand back -0 or a value that rounds to 360 after the add
	if h >= 360 {
		h -= 360
	}
	return h
}

// HeadingDifference returns the signed shortest turn from a to b, in (-180, 180].
func HeadingDifference(a, b float64) float64 {
	d := NormalizeHeading(b - a)
	if d > 180 {
		d -= 360
	}
	return d
}

// LerpHeading interpolates between two headings along the shortest arc.
func LerpHeading(t, a, b float64) float64 {
	return NormalizeHeading(a + t*HeadingDifference(a, b))
}

func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func mercatorY(lat float64) float64 {
	// clamp to the Web-Mercator limit so the poles stay finite
	lat = math.Max(-85.05112878, math.Min(85.05112878, lat))
	return math.Log(math.Tan(math.Pi/4 + Radians(lat)/2))
}

// --- handle dateline crossing ---
func wrapRadians(r float64) float64 {
	for r > math.Pi {
		r -= 2 * math.Pi
	}
	for r < -math.Pi {
		r += 2 * math.Pi
	}
	return r
}
