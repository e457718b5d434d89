// Package geojson renders triangulated surveys as GeoJSON feature collections.
package geojson

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// Feature kinds written to the "kind" property.
const (
	KindCamera = "camera"
	KindCrop   = "crop"
)

// FromObservations builds one camera point per geotagged observation and one
// crop point per projected crop coordinate.
func FromObservations(obs []*domain.Observation) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, o := range obs {
		if o.Coordinate == nil {
			continue
		}
		cam := geojson.NewFeature(point(*o.Coordinate))
		cam.Properties["kind"] = KindCamera
		cam.Properties["image"] = o.Name
		cam.Properties["capture_time"] = o.CaptureTime
		if o.Bearing != nil {
			cam.Properties["heading"] = *o.Bearing
		}
		if len(o.CropCount) > 0 {
			cam.Properties["crop_count"] = o.CropCount
		}
		fc.Append(cam)

		for _, loc := range o.CropLocations() {
			fc.Append(cropFeature(loc))
		}
	}
	return fc
}

// FromLocations builds one point per stored crop location.
func FromLocations(locs []domain.CropLocation) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, loc := range locs {
		fc.Append(cropFeature(loc))
	}
	return fc
}

// Bounds returns the bounding box of every point in the collection.
func Bounds(fc *geojson.FeatureCollection) (domain.Bounds, bool) {
	if len(fc.Features) == 0 {
		return domain.Bounds{}, false
	}
	b := fc.Features[0].Geometry.Bound()
	for _, f := range fc.Features[1:] {
		b = b.Union(f.Geometry.Bound())
	}
	return domain.Bounds{
		MinLat: b.Min.Lat(), MinLon: b.Min.Lon(),
		MaxLat: b.Max.Lat(), MaxLon: b.Max.Lon(),
	}, true
}

func cropFeature(loc domain.CropLocation) *geojson.Feature {
	f := geojson.NewFeature(point(loc.Location))
	if loc.ID != "" {
		f.ID = loc.ID
	}
	f.Properties["kind"] = KindCrop
	f.Properties["image"] = loc.ObservationName
	f.Properties["crop"] = loc.Crop
	f.Properties["distance_m"] = loc.DistanceMeters
	f.Properties["heading"] = loc.HeadingDeg
	return f
}

func point(p domain.GeoPoint) orb.Point {
	return orb.Point{p.Lon, p.Lat}
}
