package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// BoundingBox is a detection rectangle in image pixel coordinates.
type BoundingBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// PixelHeight is ymax - ymin. It is not clamped; callers decide what to do
// with non-positive heights.
func (b BoundingBox) PixelHeight() float64 {
	return b.YMax - b.YMin
}

// Detection is one object found by the detector. Class indexes the CropTable.
type Detection struct {
	Class      int     `json:"class"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	BoundingBox
}

// CaptureMetadata is what the metadata extractor reads from an image.
type CaptureMetadata struct {
	CaptureTime   time.Time `json:"capture_time"`
	Coordinate    *GeoPoint `json:"coord"`
	FocalLengthMM float64   `json:"focal_length"`
	PixelHeight   int       `json:"pixel_height"`
	PixelWidth    int       `json:"pixel_width,omitempty"`
}

// Validate reports the first missing or unusable field.
func (m CaptureMetadata) Validate() error {
	switch {
	case m.CaptureTime.IsZero():
		return &MetadataMissingError{Field: "capture_time"}
	case m.FocalLengthMM <= 0:
		return &MetadataMissingError{Field: "focal_length"}
	case m.PixelHeight <= 0:
		return &MetadataMissingError{Field: "pixel_height"}
	case m.Coordinate != nil && !m.Coordinate.Valid():
		return &MetadataMissingError{Field: "coord", Err: fmt.Errorf("invalid geotag %s", m.Coordinate)}
	}
	return nil
}

// Observation is one photograph: where and when it was taken, the camera
// parameters, and what the detector found in it. Distances, Bearing and
// CropCoords are derived during triangulation and cached.
type Observation struct {
	Name          string      `json:"name"`
	SurveyID      string      `json:"survey_id,omitempty"`
	SourceURI     string      `json:"input_img,omitempty"`
	CaptureTime   time.Time   `json:"capture_time"`
	Coordinate    *GeoPoint   `json:"coord"`
	FocalLengthMM float64     `json:"focal_length"`
	PixelHeight   int         `json:"pixel_height"`
	PixelWidth    int         `json:"pixel_width,omitempty"`
	Detections    []Detection `json:"results"`

	CropCount  map[string]int      `json:"crop_count,omitempty"`
	Distances  map[string]float64  `json:"distances,omitempty"`
	Bearing    *float64            `json:"bearing,omitempty"`
	Neighbor   string              `json:"neighbor,omitempty"`
	CropCoords map[string]GeoPoint `json:"crop_coord,omitempty"`

	// Issues holds per-detection warnings raised while deriving distances.
	Issues []error `json:"-"`

	distancesReady bool
}

// NewObservation validates the metadata and builds an observation. Detections
// are copied.
func NewObservation(name string, meta CaptureMetadata, detections []Detection) (*Observation, error) {
	if name == "" {
		return nil, fmt.Errorf("observation name is required")
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("observation %s: %w", name, err)
	}
	o := &Observation{
		Name:          name,
		CaptureTime:   meta.CaptureTime,
		FocalLengthMM: meta.FocalLengthMM,
		PixelHeight:   meta.PixelHeight,
		PixelWidth:    meta.PixelWidth,
		Detections:    append([]Detection(nil), detections...),
	}
	if meta.Coordinate != nil {
		c := *meta.Coordinate
		o.Coordinate = &c
	}
	return o, nil
}

// Metadata returns the capture fields of the observation.
func (o *Observation) Metadata() CaptureMetadata {
	return CaptureMetadata{
		CaptureTime:   o.CaptureTime,
		Coordinate:    o.Coordinate,
		FocalLengthMM: o.FocalLengthMM,
		PixelHeight:   o.PixelHeight,
		PixelWidth:    o.PixelWidth,
	}
}

// HasCoordinate reports whether the geotag is set.
func (o *Observation) HasCoordinate() bool { return o.Coordinate != nil }

// DistancesReady reports whether Distances has been computed (possibly empty).
func (o *Observation) DistancesReady() bool { return o.distancesReady }

// SetDistances caches derived distances and per-class counts.
func (o *Observation) SetDistances(distances map[string]float64, counts map[string]int, issues []error) {
	o.Distances = distances
	o.CropCount = counts
	o.Issues = issues
	o.distancesReady = true
}

// CropsFound is false for the legitimate "nothing detected" outcome.
func (o *Observation) CropsFound() bool { return len(o.Distances) > 0 }

// ToRecord converts the observation into a plain key-value record suitable for
// document storage. Issues and internal flags are not included.
func (o *Observation) ToRecord() (map[string]any, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode observation %s: %w", o.Name, err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode observation %s: %w", o.Name, err)
	}
	return rec, nil
}

// ObservationFromRecord rebuilds an observation from a record produced by
// ToRecord. A record that carries distances is treated as already derived.
func ObservationFromRecord(rec map[string]any) (*Observation, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var o Observation
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if o.Name == "" {
		return nil, fmt.Errorf("record has no name")
	}
	if err := o.Metadata().Validate(); err != nil {
		return nil, fmt.Errorf("record %s: %w", o.Name, err)
	}
	if _, ok := rec["distances"]; ok {
		o.distancesReady = true
	}
	return &o, nil
}
