package triangulation

import (
	"fmt"
	"math"
	"sort"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// Estimator converts detection box heights into camera-to-plant distances
// with the pinhole camera model.
type Estimator struct {
	table          *domain.CropTable
	sensorHeightMM float64
}

// NewEstimator creates an Estimator. A non-positive sensor height falls back
// to domain.SensorHeightMM.
func NewEstimator(table *domain.CropTable, sensorHeightMM float64) *Estimator {
	if sensorHeightMM <= 0 {
		sensorHeightMM = domain.SensorHeightMM
	}
	return &Estimator{table: table, sensorHeightMM: sensorHeightMM}
}

// Table returns the reference table the estimator resolves classes against.
func (e *Estimator) Table() *domain.CropTable { return e.table }

// DetectionDistance returns the distance in meters to one plant of the given
// reference height that spans boxHeight pixels of an image pixelHeight tall.
// A box height that is not a positive finite number, or so small that the
// distance overflows, is degenerate.
func (e *Estimator) DetectionDistance(referenceHeightMM, focalLengthMM float64, pixelHeight int, boxHeight float64) (float64, error) {
	if !(boxHeight > 0) || math.IsInf(boxHeight, 1) {
		return 0, &domain.DegenerateDetectionError{PixelHeight: boxHeight}
	}
	numerator := focalLengthMM * referenceHeightMM * float64(pixelHeight)
	denominator := boxHeight * e.sensorHeightMM
	d := (numerator / denominator) / 1000
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, &domain.DegenerateDetectionError{PixelHeight: boxHeight}
	}
	return d, nil
}

// Estimate returns the mean distance over all boxes of one crop class.
// Degenerate boxes are skipped and returned as issues. ok is false when no
// box contributed.
func (e *Estimator) Estimate(crop domain.CropClass, boxes []domain.BoundingBox, focalLengthMM float64, pixelHeight int) (mean float64, ok bool, issues []error) {
	var sum float64
	var n int
	for _, b := range boxes {
		d, err := e.DetectionDistance(crop.ReferenceHeightMM, focalLengthMM, pixelHeight, b.PixelHeight())
		if err != nil {
			issues = append(issues, &domain.DegenerateDetectionError{Crop: crop.Name, PixelHeight: b.PixelHeight()})
			continue
		}
		sum += d
		n++
	}
	if n == 0 {
		return 0, false, issues
	}
	return sum / float64(n), true, issues
}

// Distances groups the observation's detections by crop class and returns the
// mean distance per class together with detection counts. Unknown classes and
// degenerate boxes become issues. Classes without a known reference height
// are counted but get no distance.
func (e *Estimator) Distances(o *domain.Observation) (map[string]float64, map[string]int, []error) {
	if o.FocalLengthMM <= 0 || o.PixelHeight <= 0 {
		return map[string]float64{}, map[string]int{}, []error{
			fmt.Errorf("observation %s: %w", o.Name, o.Metadata().Validate()),
		}
	}

	boxes := make(map[string][]domain.BoundingBox)
	classes := make(map[string]domain.CropClass)
	counts := make(map[string]int)
	var issues []error

	for _, det := range o.Detections {
		c, err := e.table.Class(det.Class)
		if err != nil {
			issues = append(issues, err)
			continue
		}
		classes[c.Name] = c
		counts[c.Name]++
		boxes[c.Name] = append(boxes[c.Name], det.BoundingBox)
	}

	names := make([]string, 0, len(boxes))
	for name := range boxes {
		names = append(names, name)
	}
	sort.Strings(names)

	distances := make(map[string]float64, len(names))
	for _, name := range names {
		c := classes[name]
		if c.ReferenceHeightMM <= 0 {
			continue
		}
		mean, ok, boxIssues := e.Estimate(c, boxes[name], o.FocalLengthMM, o.PixelHeight)
		issues = append(issues, boxIssues...)
		if ok {
			distances[name] = mean
		}
	}
	return distances, counts, issues
}

// Apply computes and caches distances on the observation unless they are
// already cached. It reports whether anything was computed.
func (e *Estimator) Apply(o *domain.Observation) bool {
	if o.DistancesReady() {
		return false
	}
	distances, counts, issues := e.Distances(o)
	o.SetDistances(distances, counts, issues)
	return true
}
