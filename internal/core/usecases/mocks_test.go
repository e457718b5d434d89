package usecases_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
)

// --- Mock ObservationRepository ---

type mockObservationRepo struct {
	upsertFn       func(ctx context.Context, o *domain.Observation) error
	upsertBatchFn  func(ctx context.Context, obs []*domain.Observation) error
	getFn          func(ctx context.Context, surveyID, name string) (*domain.Observation, error)
	listBySurveyFn func(ctx context.Context, surveyID string) ([]*domain.Observation, error)
	deleteFn       func(ctx context.Context, surveyID, name string) error
}

func (m *mockObservationRepo) Upsert(ctx context.Context, o *domain.Observation) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, o)
	}
	return nil
}

func (m *mockObservationRepo) UpsertBatch(ctx context.Context, obs []*domain.Observation) error {
	if m.upsertBatchFn != nil {
		return m.upsertBatchFn(ctx, obs)
	}
	return nil
}

func (m *mockObservationRepo) Get(ctx context.Context, surveyID, name string) (*domain.Observation, error) {
	if m.getFn != nil {
		return m.getFn(ctx, surveyID, name)
	}
	return nil, domain.ErrNotFound
}

func (m *mockObservationRepo) ListBySurvey(ctx context.Context, surveyID string) ([]*domain.Observation, error) {
	if m.listBySurveyFn != nil {
		return m.listBySurveyFn(ctx, surveyID)
	}
	return nil, nil
}

func (m *mockObservationRepo) Delete(ctx context.Context, surveyID, name string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, surveyID, name)
	}
	return nil
}

// --- Mock CropLocationRepository ---

type mockCropLocationRepo struct {
	replaceFn           func(ctx context.Context, surveyID string, locs []domain.CropLocation) error
	listBySurveyFn      func(ctx context.Context, surveyID string) ([]domain.CropLocation, error)
	findNearbyFn        func(ctx context.Context, lat, lon, radius float64, crop string, limit int) ([]domain.CropLocation, error)
	deleteBySurveyFn    func(ctx context.Context, surveyID string) error
	deleteByObservation func(ctx context.Context, surveyID, name string) error
}

func (m *mockCropLocationRepo) ReplaceForSurvey(ctx context.Context, surveyID string, locs []domain.CropLocation) error {
	if m.replaceFn != nil {
		return m.replaceFn(ctx, surveyID, locs)
	}
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
	if m.deleteByObservation != nil {
		return m.deleteByObservation(ctx, surveyID, name)
	}
	return nil
}

func (m *mockCropLocationRepo) DeleteBySurvey(ctx context.Context, surveyID string) error {
	if m.deleteBySurveyFn != nil {
		return m.deleteBySurveyFn(ctx, surveyID)
	}
	return nil
}

// --- Mock MetadataExtractor ---

// mockExtractor looks metadata up by the image bytes, which tests set to
// the image name.
type mockExtractor struct {
	meta map[string]domain.CaptureMetadata
}

func (m *mockExtractor) Extract(image []byte) (domain.CaptureMetadata, error) {
	meta, ok := m.meta[string(image)]
	if !ok {
		return domain.CaptureMetadata{}, &domain.MetadataMissingError{Field: "exif", Err: errors.New("no exif block")}
	}
	return meta, nil
}

// --- Mock Detector ---

type mockDetector struct {
	calls    int
	detectFn func(ctx context.Context, image []byte) ([]domain.Detection, error)
}

func (m *mockDetector) Detect(ctx context.Context, image []byte) ([]domain.Detection, error) {
	m.calls++
	if m.detectFn != nil {
		return m.detectFn(ctx, image)
	}
	return nil, nil
}

// --- Mock ImageSource ---

type mockImageSource struct {
	fetchFn func(ctx context.Context, uri string) ([]byte, error)
}

func (m *mockImageSource) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, uri)
	}
	return nil, domain.ErrNotFound
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	cropsFn func(ctx context.Context, surveyID string, locs []domain.CropLocation) error
}

func (m *mockPublisher) PublishUpload(ctx context.Context, event *domain.UploadEvent) error { return nil }
func (m *mockPublisher) PublishDeletion(ctx context.Context, event *domain.DeletionEvent) error {
	return nil
}

func (m *mockPublisher) PublishCropLocations(ctx context.Context, surveyID string, locs []domain.CropLocation) error {
	if m.cropsFn != nil {
		return m.cropsFn(ctx, surveyID, locs)
	}
	return nil
}

// --- Mock CacheService ---

type mockCache struct {
	data    map[string][]byte
	deleted []string
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.data[key] = value
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// --- Fixtures ---

func newEstimator() *triangulation.Estimator {
	return triangulation.NewEstimator(domain.DefaultCropTable(), 0)
}

func newTriangulator() *triangulation.Triangulator {
	return triangulation.NewTriangulator(newEstimator(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fixtureTime(hms string) time.Time {
	ts, err := time.Parse("2006-01-02 15:04:05", "2021-07-12 "+hms)
	if err != nil {
		panic(err)
	}
	return ts
}

// fixtureMeta is capture metadata for three photos taken along a road.
func fixtureMeta() map[string]domain.CaptureMetadata {
	meta := func(hms string, lat, lon float64) domain.CaptureMetadata {
		return domain.CaptureMetadata{
			CaptureTime:   fixtureTime(hms),
			Coordinate:    &domain.GeoPoint{Lat: lat, Lon: lon},
			FocalLengthMM: 3,
			PixelHeight:   2028,
			PixelWidth:    3040,
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
		Name:        "sugarcane",
		Confidence:  0.65,
		BoundingBox: domain.BoundingBox{XMin: 474.72, YMin: 834.8707885742188, XMax: 646.26, YMax: 1155.9974365234375},
	}}
}

func fixtureObservations(surveyID string) []*domain.Observation {
	var out []*domain.Observation
	for _, name := range []string{"IMG_0001", "IMG_0002", "IMG_0003"} {
		o, err := domain.NewObservation(name, fixtureMeta()[name], sugarcane())
		if err != nil {
			panic(err)
		}
		o.SurveyID = surveyID
		out = append(out, o)
	}
	return out
}
