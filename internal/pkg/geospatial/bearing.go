package geospatial

import "math"

// InitialBearing returns the great-circle initial bearing in degrees [0, 360)
// from the first point towards the second. 0 is north, clockwise.
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dLon := toRad(lon2 - lon1)

	x := math.Sin(dLon) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	return NormalizeDegrees(toDeg(math.Atan2(x, y)))
}

// TravelBearing returns the direction of travel at the origin given a
// reference point captured just before or just after it. When the reference
// was captured earlier the bearing towards it points backwards and is flipped.
func TravelBearing(lat, lon, refLat, refLon float64, refIsEarlier bool) float64 {
	b := InitialBearing(lat, lon, refLat, refLon)
	if refIsEarlier {
		b = NormalizeDegrees(b + 180)
	}
	return b
}

// SidewaysHeading returns the heading the camera faces. Cameras are mounted
// pointing left of the direction of travel.
func SidewaysHeading(travel float64) float64 {
	return NormalizeDegrees(travel - 90)
}

// CameraHeading combines TravelBearing and SidewaysHeading.
func CameraHeading(lat, lon, refLat, refLon float64, refIsEarlier bool) float64 {
	return SidewaysHeading(TravelBearing(lat, lon, refLat, refLon, refIsEarlier))
}
