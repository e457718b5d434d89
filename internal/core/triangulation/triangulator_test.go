package triangulation_test

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
)

func newTriangulator() *triangulation.Triangulator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return triangulation.NewTriangulator(triangulation.NewEstimator(domain.DefaultCropTable(), 0), logger)
}

func at(hms string) time.Time {
	ts, err := time.Parse("2006-01-02 15:04:05", "2021-07-12 "+hms)
	if err != nil {
		panic(err)
	}
	return ts
}

// sugarcaneAt returns a detection whose distance is exactly meters for the
// 3mm / 2028px camera used throughout these tests.
func sugarcaneAt(meters float64) domain.Detection {
	h := 3 * 4000 * 2028 / (meters * 1000 * domain.SensorHeightMM)
	return detection(sugarcane, 0, h)
}

func fixtureBatch(t *testing.T) []*domain.Observation {
	t.Helper()
	return []*domain.Observation{
		observation(t, "IMG_0001", at("08:42:54"), &domain.GeoPoint{Lat: 0.67526, Lon: 34.74915}, sugarcaneAt(20.397)),
		observation(t, "IMG_0002", at("08:45:35"), &domain.GeoPoint{Lat: 0.68052, Lon: 34.74907}, sugarcaneAt(14.173)),
		observation(t, "IMG_0003", at("08:45:41"), &domain.GeoPoint{Lat: 0.68072, Lon: 34.74908}, sugarcaneAt(15.826)),
	}
}

func TestTriangulate_Fixture(t *testing.T) {
	out, err := newTriangulator().Triangulate(fixtureBatch(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		neighbor string
		bearing  float64
		crop     domain.GeoPoint
	}{
		{"IMG_0001", "IMG_0002", 269.1287099320846, domain.GeoPoint{Lat: 0.6752572137406763, Lon: 34.748966778029754}},
		{"IMG_0002", "IMG_0003", 272.86220354384676, domain.GeoPoint{Lat: 0.6805263575563619, Lon: 34.74894283089476}},
		{"IMG_0003", "IMG_0002", 272.86220366263376, domain.GeoPoint{Lat: 0.6807270990395862, Lon: 34.74893799912912}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := out[i]
			if o.Name != tt.name {
				t.Fatalf("expected %s at position %d, got %s", tt.name, i, o.Name)
			}
			if o.Neighbor != tt.neighbor {
				t.Errorf("expected neighbor %s, got %s", tt.neighbor, o.Neighbor)
			}
			if o.Bearing == nil || math.Abs(*o.Bearing-tt.bearing) > 1e-6 {
				t.Errorf("expected bearing %v, got %v", tt.bearing, o.Bearing)
			}
			got, ok := o.CropCoords["sugarcane"]
			if !ok {
				t.Fatal("no sugarcane coordinate")
			}
			if math.Abs(got.Lat-tt.crop.Lat) > 1e-9 || math.Abs(got.Lon-tt.crop.Lon) > 1e-9 {
				t.Errorf("expected %+v, got %+v", tt.crop, got)
			}
		})
	}
}

func TestTriangulate_FixtureWithinFieldTolerance(t *testing.T) {
	out, err := newTriangulator().Triangulate(fixtureBatch(t))
	if err != nil {
		t.Fatal(err)
	}

	want := []domain.GeoPoint{
		{Lat: 0.67526, Lon: 34.74897},
		{Lat: 0.68052, Lon: 34.74894},
		{Lat: 0.68071, Lon: 34.74894},
	}
	for i, w := range want {
		got := out[i].CropCoords["sugarcane"]
		if math.Abs(got.Lat-w.Lat) > 1e-4 || math.Abs(got.Lon-w.Lon) > 1e-4 {
			t.Errorf("%s: expected near %+v, got %+v", out[i].Name, w, got)
		}
	}
}

func TestTriangulate_PreservesInputOrder(t *testing.T) {
	batch := fixtureBatch(t)
	shuffled := []*domain.Observation{batch[2], batch[0], batch[1]}

	out, err := newTriangulator().Triangulate(shuffled)
	if err != nil {
		t.Fatal(err)
	}
	for i := range shuffled {
		if out[i] != shuffled[i] {
			t.Errorf("position %d: expected %s, got %s", i, shuffled[i].Name, out[i].Name)
		}
	}
	if out[1].Neighbor != "IMG_0002" || out[0].Neighbor != "IMG_0002" || out[2].Neighbor != "IMG_0003" {
		t.Errorf("neighbors depend on input order: %s %s %s", out[0].Neighbor, out[1].Neighbor, out[2].Neighbor)
	}
}

func TestTriangulate_Deterministic(t *testing.T) {
	tri := newTriangulator()
	batch := fixtureBatch(t)

	first, err := tri.Triangulate(batch)
	if err != nil {
		t.Fatal(err)
	}
	snapshot := make([]map[string]domain.GeoPoint, len(first))
	for i, o := range first {
		snapshot[i] = o.CropCoords
	}

	second, err := tri.Triangulate(batch)
	if err != nil {
		t.Fatal(err)
	}
	for i, o := range second {
		for crop, p := range snapshot[i] {
			if o.CropCoords[crop] != p {
				t.Errorf("%s/%s: %+v != %+v", o.Name, crop, o.CropCoords[crop], p)
			}
		}
	}

	fresh, err := tri.Triangulate(fixtureBatch(t))
	if err != nil {
		t.Fatal(err)
	}
	for i, o := range fresh {
		if o.CropCoords["sugarcane"] != snapshot[i]["sugarcane"] {
			t.Errorf("%s: fresh batch differs", o.Name)
		}
	}
}

func TestTriangulate_SingleObservation(t *testing.T) {
	batch := fixtureBatch(t)[:1]

	_, err := newTriangulator().Triangulate(batch)
	var target *domain.InsufficientBatchError
	if !errors.As(err, &target) {
		t.Fatalf("expected InsufficientBatchError, got %v", err)
	}
	if target.Count != 1 {
		t.Errorf("expected count 1, got %d", target.Count)
	}
	if err.Error() != "need at least two observations, got 1" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestTriangulate_EmptyBatch(t *testing.T) {
	_, err := newTriangulator().Triangulate(nil)
	if !domain.IsInsufficientBatch(err) {
		t.Fatalf("expected InsufficientBatchError, got %v", err)
	}
}

func TestTriangulate_TwoObservations(t *testing.T) {
	batch := fixtureBatch(t)[1:]

	out, err := newTriangulator().Triangulate(batch)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Neighbor != "IMG_0003" || out[1].Neighbor != "IMG_0002" {
		t.Errorf("expected mutual neighbors, got %s and %s", out[0].Neighbor, out[1].Neighbor)
	}
	// Both photos see the same direction of travel.
	if math.Abs(*out[0].Bearing-*out[1].Bearing) > 1e-6 {
		t.Errorf("bearings disagree: %v vs %v", *out[0].Bearing, *out[1].Bearing)
	}
}

func TestTriangulate_MissingCoordinate(t *testing.T) {
	batch := fixtureBatch(t)
	batch[1].Coordinate = nil

	_, err := newTriangulator().Triangulate(batch)
	if !domain.IsMetadataMissing(err) {
		t.Fatalf("expected MetadataMissingError, got %v", err)
	}
}

func TestTriangulate_NoCropsFound(t *testing.T) {
	batch := []*domain.Observation{
		observation(t, "a", at("10:00:00"), &domain.GeoPoint{Lat: 1, Lon: 36}),
		observation(t, "b", at("10:00:05"), &domain.GeoPoint{Lat: 1.0001, Lon: 36}),
	}

	out, err := newTriangulator().Triangulate(batch)
	if err != nil {
		t.Fatalf("empty detections must not fail: %v", err)
	}
	for _, o := range out {
		if o.CropsFound() {
			t.Errorf("%s: expected no crops", o.Name)
		}
		if len(o.CropCoords) != 0 {
			t.Errorf("%s: expected no coordinates, got %v", o.Name, o.CropCoords)
		}
		if o.Bearing == nil {
			t.Errorf("%s: bearing should still be set", o.Name)
		}
	}
}

func TestTriangulate_ReusesCachedDistances(t *testing.T) {
	batch := fixtureBatch(t)
	batch[0].SetDistances(map[string]float64{"maize": 10}, map[string]int{"maize": 1}, nil)

	out, err := newTriangulator().Triangulate(batch)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out[0].CropCoords["sugarcane"]; ok {
		t.Error("cached distances were recomputed")
	}
	p, ok := out[0].CropCoords["maize"]
	if !ok {
		t.Fatal("expected maize coordinate from cached distance")
	}
	if math.Abs(p.Lat-0.67526) > 1e-4 {
		t.Errorf("unexpected maize coordinate %+v", p)
	}
}

func TestTriangulate_StationaryNeighbor(t *testing.T) {
	batch := []*domain.Observation{
		observation(t, "a", at("10:00:00"), &domain.GeoPoint{Lat: 1, Lon: 36}, sugarcaneAt(10)),
		observation(t, "b", at("10:00:05"), &domain.GeoPoint{Lat: 1, Lon: 36}, sugarcaneAt(10)),
	}

	tri := newTriangulator()
	out, err := tri.Triangulate(batch)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range out {
		var target *triangulation.StationaryNeighborError
		found := 0
		for _, issue := range o.Issues {
			if errors.As(issue, &target) {
				found++
			}
		}
		if found != 1 {
			t.Errorf("%s: expected one stationary issue, got %d", o.Name, found)
		}
		if _, ok := o.CropCoords["sugarcane"]; !ok {
			t.Errorf("%s: projection should still proceed", o.Name)
		}
	}

	if _, err := tri.Triangulate(batch); err != nil {
		t.Fatal(err)
	}
	if len(out[0].Issues) != 1 {
		t.Errorf("issues grew on re-run: %v", out[0].Issues)
	}
}

func TestTriangulate_UnknownClassDropped(t *testing.T) {
	batch := fixtureBatch(t)
	batch[0].Detections = append(batch[0].Detections, detection(99, 0, 100))

	out, err := newTriangulator().Triangulate(batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(out[0].Distances) != 1 {
		t.Errorf("expected only sugarcane, got %v", out[0].Distances)
	}
	var target *domain.UnknownCropClassError
	if len(out[0].Issues) != 1 || !errors.As(out[0].Issues[0], &target) {
		t.Errorf("expected one UnknownCropClassError issue, got %v", out[0].Issues)
	}
}

func TestTriangulate_NonFiniteBoxRecordedAsIssue(t *testing.T) {
	tests := []struct {
		name string
		det  domain.Detection
	}{
		{"nan", detection(sugarcane, math.NaN(), 10)},
		{"subnormal", detection(sugarcane, 0, 5e-324)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := fixtureBatch(t)
			batch[0].Detections = []domain.Detection{tt.det}

			out, err := newTriangulator().Triangulate(batch)
			if err != nil {
				t.Fatal(err)
			}
			if d, ok := out[0].Distances["sugarcane"]; ok {
				t.Errorf("expected no sugarcane distance, got %v", d)
			}
			if p, ok := out[0].CropCoords["sugarcane"]; ok {
				t.Errorf("expected no sugarcane coordinate, got %+v", p)
			}
			var target *domain.DegenerateDetectionError
			if len(out[0].Issues) != 1 || !errors.As(out[0].Issues[0], &target) {
				t.Errorf("expected one DegenerateDetectionError issue, got %v", out[0].Issues)
			}
			for _, o := range out[1:] {
				p := o.CropCoords["sugarcane"]
				if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
					t.Errorf("%s: coordinate is not finite: %+v", o.Name, p)
				}
			}
		})
	}
}
