package http_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
)

// ---- Mock ports ----

type mockObservationRepo struct {
	listBySurveyFn func(ctx context.Context, surveyID string) ([]*domain.Observation, error)
}

func (m *mockObservationRepo) Upsert(ctx context.Context, o *domain.Observation) error         { return nil }
func (m *mockObservationRepo) UpsertBatch(ctx context.Context, obs []*domain.Observation) error { return nil }
func (m *mockObservationRepo) Get(ctx context.Context, surveyID, name string) (*domain.Observation, error) {
	return nil, domain.ErrNotFound
}
func (m *mockObservationRepo) ListBySurvey(ctx context.Context, surveyID string) ([]*domain.Observation, error) {
	if m.listBySurveyFn != nil {
		return m.listBySurveyFn(ctx, surveyID)
	}
	return nil, nil
}
func (m *mockObservationRepo) Delete(ctx context.Context, surveyID, name string) error { return nil }

type mockCropLocationRepo struct {
	listBySurveyFn func(ctx context.Context, surveyID string) ([]domain.CropLocation, error)
	findNearbyFn   func(ctx context.Context, lat, lon, radius float64, crop string, limit int) ([]domain.CropLocation, error)
}

func (m *mockCropLocationRepo) ReplaceForSurvey(ctx context.Context, surveyID string, locs []domain.CropLocation) error {
	return nil
}
func (m *mockCropLocationRepo) ListBySurvey(ctx context.Context, surveyID string) ([]domain.CropLocation, error) {
	if m.listBySurveyFn != nil {
		return m.listBySurveyFn(ctx, surveyID)
	}
	return nil, nil
}
func (m *mockCropLocationRepo) FindNearby(ctx context.Context, lat, lon, radius float64, crop string, limit int) ([]domain.CropLocation, error) {
	if m.findNearbyFn != nil {
		return m.findNearbyFn(ctx, lat, lon, radius, crop, limit)
	}
	return nil, nil
}
func (m *mockCropLocationRepo) DeleteByObservation(ctx context.Context, surveyID, name string) error {
	return nil
}
func (m *mockCropLocationRepo) DeleteBySurvey(ctx context.Context, surveyID string) error { return nil }

// mockExtractor looks metadata up by the image bytes.
type mockExtractor struct{}

func (mockExtractor) Extract(image []byte) (domain.CaptureMetadata, error) {
	meta, ok := fixtureMeta()[string(image)]
	if !ok {
		return domain.CaptureMetadata{}, &domain.MetadataMissingError{Field: "exif", Err: errors.New("no exif block")}
	}
	return meta, nil
}

type mockDetector struct {
	detectFn func(ctx context.Context, image []byte) ([]domain.Detection, error)
}

func (m *mockDetector) Detect(ctx context.Context, image []byte) ([]domain.Detection, error) {
	if m.detectFn != nil {
		return m.detectFn(ctx, image)
	}
	return sugarcane(), nil
}

type mockWorkflows struct {
	started []string
}

func (m *mockWorkflows) StartSurveyTriangulation(ctx context.Context, surveyID string) error {
	m.started = append(m.started, surveyID)
	return nil
}

// ---- Fixtures ----

func newTriangulator() *triangulation.Triangulator {
	est := triangulation.NewEstimator(domain.DefaultCropTable(), 0)
	return triangulation.NewTriangulator(est, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fixtureMeta() map[string]domain.CaptureMetadata {
	meta := func(hms string, lat, lon float64) domain.CaptureMetadata {
		ts, _ := time.Parse("2006-01-02 15:04:05", "2021-07-12 "+hms)
		return domain.CaptureMetadata{
			CaptureTime:   ts,
			Coordinate:    &domain.GeoPoint{Lat: lat, Lon: lon},
			FocalLengthMM: 3,
			PixelHeight:   2028,
		}
	}
	return map[string]domain.CaptureMetadata{
		"IMG_0001": meta("08:42:54", 0.67526, 34.74915),
		"IMG_0002": meta("08:45:35", 0.68052, 34.74907),
		"IMG_0003": meta("08:45:41", 0.68072, 34.74908),
	}
}

func sugarcane() []domain.Detection {
	return []domain.Detection{{
		Class:       11,
		Confidence:  0.65,
		BoundingBox: domain.BoundingBox{XMin: 474.72, YMin: 834.8707885742188, XMax: 646.26, YMax: 1155.9974365234375},
	}}
}

// triangulatedSurvey returns the three fixture observations after triangulation.
func triangulatedSurvey(surveyID string) []*domain.Observation {
	var obs []*domain.Observation
	for _, name := range []string{"IMG_0001", "IMG_0002", "IMG_0003"} {
		o, err := domain.NewObservation(name, fixtureMeta()[name], sugarcane())
		if err != nil {
			panic(err)
		}
		o.SurveyID = surveyID
		obs = append(obs, o)
	}
	if _, err := newTriangulator().Triangulate(obs); err != nil {
		panic(err)
	}
	return obs
}

func surveyLocations(surveyID string) []domain.CropLocation {
	var locs []domain.CropLocation
	for _, o := range triangulatedSurvey(surveyID) {
		locs = append(locs, o.CropLocations()...)
	}
	for i := range locs {
		locs[i].ID = string(rune('a' + i))
	}
	return locs
}
