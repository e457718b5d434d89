package geospatial

import "math"

// projectionRadiusKm is the Earth radius used when projecting crop positions.
const projectionRadiusKm = 6378.1

// Destination returns the point reached by travelling meters from (lat, lon)
// along headingDeg on a spherical Earth. Headings outside [0, 360) are fine.
func Destination(lat, lon, headingDeg, meters float64) (float64, float64) {
	brng := toRad(headingDeg)
	delta := (meters / 1000) / projectionRadiusKm

	phi1 := toRad(lat)
	lambda1 := toRad(lon)

	phi2 := math.Asin(clampUnit(
		math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(brng),
	))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(brng)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	return toDeg(phi2), normalizeLon(toDeg(lambda2))
}

// normalizeLon wraps a longitude into [-180, 180).
func normalizeLon(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	return NormalizeDegrees(lon+180) - 180
}
