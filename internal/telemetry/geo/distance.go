package geo

import "math"

const (
	earthRadiusMeters = 6371e3

	// maxPlausibleStepMeters caps the distance between two consecutive GPS
	// fixes sampled ~1s apart. Anything above it would mean >250 km/h of
	// travel, which within a segment is a sensor glitch rather than motion.
	maxPlausibleStepMeters = 70
)

// Distance computes the great-circle distance in meters between two
// coordinates given in degrees, using the haversine formula.
//
// When plausibilityFilter is set, a result above 70 meters is returned as 0
// so defective fixes never contribute to distance totals.
func Distance(lat1, lon1, lat2, lon2 float64, plausibilityFilter bool) float64 {
	const degToRad = math.Pi / 180

	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := 0.5 - math.Cos(dLat)/2 +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*(1-math.Cos(dLon))/2

	meters := 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
	if plausibilityFilter && meters > maxPlausibleStepMeters {
		return 0
	}
	return meters
}
