package ports

import (
	"context"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// ObservationRepository persists observations as documents keyed by survey
// and name.
type ObservationRepository interface {
	Upsert(ctx context.Context, obs *domain.Observation) error
	UpsertBatch(ctx context.Context, obs []*domain.Observation) error
	Get(ctx context.Context, surveyID, name string) (*domain.Observation, error)
	ListBySurvey(ctx context.Context, surveyID string) ([]*domain.Observation, error)
	Delete(ctx context.Context, surveyID, name string) error
}

// CropLocationRepository persists projected crop positions.
type CropLocationRepository interface {
	// ReplaceForSurvey atomically swaps every location of a survey.
	ReplaceForSurvey(ctx context.Context, surveyID string, locs []domain.CropLocation) error
	ListBySurvey(ctx context.Context, surveyID string) ([]domain.CropLocation, error)
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, crop string, limit int) ([]domain.CropLocation, error)
	DeleteByObservation(ctx context.Context, surveyID, name string) error
	DeleteBySurvey(ctx context.Context, surveyID string) error
}
