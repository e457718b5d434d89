package domain

import (
	"path"
	"sort"
	"strings"
	"time"
)

// CropLocation is one projected plant position, flattened out of an
// observation's crop_coord map for storage and spatial queries.
type CropLocation struct {
	ID              string    `json:"id"`
	SurveyID        string    `json:"survey_id"`
	ObservationName string    `json:"image"`
	Crop            string    `json:"crop"`
	Location        GeoPoint  `json:"location"`
	Camera          GeoPoint  `json:"camera"`
	DistanceMeters  float64   `json:"distance_m"`
	HeadingDeg      float64   `json:"heading"`
	CreatedAt       time.Time `json:"created_at"`
}

// CropLocations flattens the crop coordinates of a triangulated observation.
// IDs are left empty for the caller to assign.
func (o *Observation) CropLocations() []CropLocation {
	if o.Coordinate == nil || o.Bearing == nil {
		return nil
	}
	out := make([]CropLocation, 0, len(o.CropCoords))
	for _, crop := range sortedKeys(o.CropCoords) {
		out = append(out, CropLocation{
			SurveyID:        o.SurveyID,
			ObservationName: o.Name,
			Crop:            crop,
			Location:        o.CropCoords[crop],
			Camera:          *o.Coordinate,
			DistanceMeters:  o.Distances[crop],
			HeadingDeg:      *o.Bearing,
		})
	}
	return out
}

// SkippedImage records an image that could not become an observation.
type SkippedImage struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SurveyResult is the outcome of triangulating one survey or upload batch.
type SurveyResult struct {
	SurveyID     string         `json:"survey_id"`
	Observations []*Observation `json:"observations"`
	Locations    []CropLocation `json:"crop_locations"`
	Skipped      []SkippedImage `json:"skipped,omitempty"`
	Truncated    bool           `json:"truncated,omitempty"`
	CropsFound   bool           `json:"crops_found"`
}

// UploadEvent announces a new image in storage.
type UploadEvent struct {
	ID         string    `json:"id"`
	SurveyID   string    `json:"survey_id"`
	URI        string    `json:"uri"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DeletionEvent announces that an image was removed from storage.
type DeletionEvent struct {
	SurveyID string `json:"survey_id"`
	URI      string `json:"uri"`
}

// NameFromURI derives an observation name from a storage URI by dropping the
// scheme, the bucket (or host) and the extension, and joining the remaining
// path segments with dashes: gs://bucket/d1/d2/f.jpg becomes d1-d2-f.
// Plain paths keep every segment: a/b/c.jpg becomes a-b-c.
func NameFromURI(uri string) string {
	p := uri
	if i := strings.Index(p, "://"); i >= 0 {
		p = p[i+3:]
		if j := strings.Index(p, "/"); j >= 0 {
			p = p[j+1:]
		} else {
			p = ""
		}
	}
	p = strings.TrimSuffix(p, path.Ext(p))
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	return strings.Join(parts, "-")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
