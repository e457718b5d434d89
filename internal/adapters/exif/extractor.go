package exif

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// Extractor implements ports.MetadataExtractor by reading EXIF tags.
type Extractor struct {
	// Location is the zone capture timestamps are interpreted in. Cameras
	// record wall-clock time without an offset.
	Location *time.Location
}

// New creates an Extractor that reads timestamps as UTC.
func New() *Extractor {
	return &Extractor{Location: time.UTC}
}

// Extract reads capture time, focal length, image dimensions and the GPS
// position. A missing or unusable geotag leaves Coordinate nil; every other missing field
// is a *domain.MetadataMissingError.
func (e *Extractor) Extract(image []byte) (domain.CaptureMetadata, error) {
	var meta domain.CaptureMetadata

	x, err := exif.Decode(bytes.NewReader(image))
	if err != nil {
		return meta, &domain.MetadataMissingError{Field: "exif", Err: err}
	}

	if meta.CaptureTime, err = e.captureTime(x); err != nil {
		return meta, &domain.MetadataMissingError{Field: "capture_time", Err: err}
	}

	focal, err := rational(x, exif.FocalLength)
	if err != nil || focal <= 0 {
		return meta, &domain.MetadataMissingError{Field: "focal_length", Err: err}
	}
	meta.FocalLengthMM = focal

	height, err := firstInt(x, exif.PixelYDimension, exif.ImageLength)
	if err != nil || height <= 0 {
		return meta, &domain.MetadataMissingError{Field: "pixel_height", Err: err}
	}
	meta.PixelHeight = height

	if width, err := firstInt(x, exif.PixelXDimension, exif.ImageWidth); err == nil {
		meta.PixelWidth = width
	}

	if lat, lon, err := x.LatLong(); err == nil {
		if p := (domain.GeoPoint{Lat: lat, Lon: lon}); p.Valid() {
			meta.Coordinate = &p
		}
	}

	return meta, nil
}

func (e *Extractor) captureTime(x *exif.Exif) (time.Time, error) {
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	var lastErr error
	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTime} {
		tag, err := x.Get(name)
		if err != nil {
			lastErr = err
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			lastErr = err
			continue
		}
		ts, err := time.ParseInLocation(exifTimeLayout, strings.TrimRight(s, "\x00 "), loc)
		if err != nil {
			lastErr = err
			continue
		}
		return ts, nil
	}
	return time.Time{}, lastErr
}

func rational(x *exif.Exif, name exif.FieldName) (float64, error) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, err
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return 0, err
	}
	if den == 0 {
		return 0, fmt.Errorf("%s: zero denominator", name)
	}
	return float64(num) / float64(den), nil
}

func firstInt(x *exif.Exif, names ...exif.FieldName) (int, error) {
	var lastErr error
	for _, name := range names {
		tag, err := x.Get(name)
		if err != nil {
			lastErr = err
			continue
		}
		v, err := tag.Int(0)
		if err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	return 0, lastErr
}
