package triangulation

import (
	"fmt"
	"log/slog"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/pkg/geospatial"
)

// StationaryThresholdMeters is the camera displacement below which a bearing
// derived from two photos is considered unreliable.
const StationaryThresholdMeters = 0.5

// StationaryNeighborError is recorded on an observation whose neighbor was
// taken from practically the same spot. Projection still proceeds.
type StationaryNeighborError struct {
	Observation string
	Neighbor    string
	Meters      float64
}

func (e *StationaryNeighborError) Error() string {
	return fmt.Sprintf("observation %s: neighbor %s is only %.2fm away, bearing is unreliable",
		e.Observation, e.Neighbor, e.Meters)
}

// Triangulator projects crop coordinates for a batch of observations.
// It holds no per-batch state and is safe for concurrent use.
type Triangulator struct {
	estimator *Estimator
	logger    *slog.Logger
}

// NewTriangulator creates a Triangulator. A nil logger uses slog.Default().
func NewTriangulator(estimator *Estimator, logger *slog.Logger) *Triangulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Triangulator{estimator: estimator, logger: logger}
}

// Estimator returns the distance estimator used by the triangulator.
func (t *Triangulator) Estimator() *Estimator { return t.estimator }

// Triangulate derives distances, bearing and crop coordinates for every
// observation. The batch must hold at least two observations, all geotagged.
// Observations are returned in their input order; distances already cached on
// an observation are reused.
func (t *Triangulator) Triangulate(obs []*domain.Observation) ([]*domain.Observation, error) {
	if len(obs) < 2 {
		return nil, &domain.InsufficientBatchError{Count: len(obs)}
	}
	for _, o := range obs {
		if o == nil {
			return nil, fmt.Errorf("nil observation in batch")
		}
		if !o.HasCoordinate() {
			return nil, fmt.Errorf("observation %s: %w", o.Name, &domain.MetadataMissingError{Field: "coord"})
		}
	}

	sorted := SortByCaptureTime(obs)
	neighbors, err := ResolveNeighbors(sorted)
	if err != nil {
		return nil, err
	}

	for i, o := range sorted {
		if t.estimator.Apply(o) {
			t.logIssues(o)
		}

		nb := neighbors[i]
		ref := sorted[nb.Index]
		o.Neighbor = ref.Name

		if moved := geospatial.Haversine(o.Coordinate.Lat, o.Coordinate.Lon, ref.Coordinate.Lat, ref.Coordinate.Lon); moved < StationaryThresholdMeters {
			issue := &StationaryNeighborError{Observation: o.Name, Neighbor: ref.Name, Meters: moved}
			o.Issues = appendIssue(o.Issues, issue)
			t.logger.Warn("stationary neighbor",
				"observation", o.Name,
				"neighbor", ref.Name,
				"meters", moved,
			)
		}

		heading := geospatial.CameraHeading(o.Coordinate.Lat, o.Coordinate.Lon, ref.Coordinate.Lat, ref.Coordinate.Lon, nb.Earlier)
		o.Bearing = &heading
		o.CropCoords = project(*o.Coordinate, heading, o.Distances)
	}
	return obs, nil
}

// project computes one destination point per crop class.
func project(origin domain.GeoPoint, heading float64, distances map[string]float64) map[string]domain.GeoPoint {
	coords := make(map[string]domain.GeoPoint, len(distances))
	for crop, meters := range distances {
		lat, lon := geospatial.Destination(origin.Lat, origin.Lon, heading, meters)
		coords[crop] = domain.GeoPoint{Lat: lat, Lon: lon}
	}
	return coords
}

func (t *Triangulator) logIssues(o *domain.Observation) {
	for _, issue := range o.Issues {
		t.logger.Warn("detection dropped",
			"observation", o.Name,
			"reason", issue.Error(),
		)
	}
}

// appendIssue adds issue unless an identical message is already recorded, so
// repeated triangulation of the same batch does not grow the list.
func appendIssue(issues []error, issue error) []error {
	for _, existing := range issues {
		if existing.Error() == issue.Error() {
			return issues
		}
	}
	return append(issues, issue)
}
