package workflows_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
	"github.com/nasaharvest/street2sat/internal/workflows"
)

type stubObservations struct {
	obs []*domain.Observation
}

func (s *stubObservations) Upsert(ctx context.Context, o *domain.Observation) error         { return nil }
func (s *stubObservations) UpsertBatch(ctx context.Context, obs []*domain.Observation) error { return nil }
func (s *stubObservations) Get(ctx context.Context, surveyID, name string) (*domain.Observation, error) {
	return nil, domain.ErrNotFound
}
func (s *stubObservations) ListBySurvey(ctx context.Context, surveyID string) ([]*domain.Observation, error) {
	return s.obs, nil
}
func (s *stubObservations) Delete(ctx context.Context, surveyID, name string) error { return nil }

type stubLocations struct {
	replaced []domain.CropLocation
	cleared  bool
}

func (s *stubLocations) ReplaceForSurvey(ctx context.Context, surveyID string, locs []domain.CropLocation) error {
	s.replaced = locs
	return nil
}
func (s *stubLocations) ListBySurvey(ctx context.Context, surveyID string) ([]domain.CropLocation, error) {
	return s.replaced, nil
}
func (s *stubLocations) FindNearby(ctx context.Context, lat, lon, radius float64, crop string, limit int) ([]domain.CropLocation, error) {
	return nil, nil
}
func (s *stubLocations) DeleteByObservation(ctx context.Context, surveyID, name string) error {
	return nil
}
func (s *stubLocations) DeleteBySurvey(ctx context.Context, surveyID string) error {
	s.cleared = true
	return nil
}

func observation(t *testing.T, name, hms string, lat, lon float64) *domain.Observation {
	t.Helper()
	ts, err := time.Parse("15:04:05", hms)
	require.NoError(t, err)
	o, err := domain.NewObservation(name, domain.CaptureMetadata{
		CaptureTime:   ts,
		Coordinate:    &domain.GeoPoint{Lat: lat, Lon: lon},
		FocalLengthMM: 3,
		PixelHeight:   2028,
	}, []domain.Detection{{Class: 11, BoundingBox: domain.BoundingBox{YMin: 834.87, YMax: 1156}}})
	require.NoError(t, err)
	return o
}

func newActivities(obs []*domain.Observation, locs *stubLocations) *workflows.SurveyActivities {
	est := triangulation.NewEstimator(domain.DefaultCropTable(), 0)
	tri := triangulation.NewTriangulator(est, slog.New(slog.NewTextHandler(io.Discard, nil)))
	repo := &stubObservations{obs: obs}
	builder := usecases.NewObservationService(nil, nil, nil, repo, est)
	return &workflows.SurveyActivities{
		Surveys: usecases.NewSurveyService(repo, locs, nil, nil, builder, tri, 0),
	}
}

func TestTriangulateSurveyActivity(t *testing.T) {
	locs := &stubLocations{}
	acts := newActivities([]*domain.Observation{
		observation(t, "a", "08:45:35", 0.68052, 34.74907),
		observation(t, "b", "08:45:41", 0.68072, 34.74908),
	}, locs)

	summary, err := acts.TriangulateSurvey(context.Background(), "busia")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Observations)
	assert.Equal(t, 2, summary.CropLocations)
	assert.True(t, summary.CropsFound)
	assert.Len(t, locs.replaced, 2)
}

func TestTriangulateSurveyActivity_InsufficientBatch(t *testing.T) {
	acts := newActivities([]*domain.Observation{
		observation(t, "a", "08:45:35", 0.68052, 34.74907),
	}, &stubLocations{})

	_, err := acts.TriangulateSurvey(context.Background(), "busia")
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected an application error, got %v", err)
	assert.Equal(t, workflows.ErrTypeInsufficientBatch, appErr.Type())
	assert.True(t, appErr.NonRetryable())
}

func TestClearSurveyLocationsActivity(t *testing.T) {
	locs := &stubLocations{}
	acts := newActivities(nil, locs)

	require.NoError(t, acts.ClearSurveyLocations(context.Background(), "busia"))
	assert.True(t, locs.cleared)
}

func TestStarter_SignalWithStart(t *testing.T) {
	c := &mocks.Client{}
	c.On("SignalWithStartWorkflow",
		mock.Anything,
		"triangulate-survey-busia",
		workflows.UploadSignal,
		nil,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "triangulate-survey-busia" && o.TaskQueue == "triangulation-queue"
		}),
		mock.Anything,
		workflows.TriangulateSurveyInput{SurveyID: "busia", Settle: 30 * time.Second},
	).Return(&mocks.WorkflowRun{}, nil).Once()

	s := workflows.NewStarter(c, "triangulation-queue", 30*time.Second)
	require.NoError(t, s.StartSurveyTriangulation(context.Background(), "busia"))
	c.AssertExpectations(t)
}
