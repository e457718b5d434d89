package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
)

// ErrTypeInsufficientBatch is the application error type for surveys with
// fewer than two usable observations. It is not retried.
const ErrTypeInsufficientBatch = "InsufficientBatch"

// SurveySummary is what a triangulation run reports back to the workflow.
type SurveySummary struct {
	SurveyID      string
	Observations  int
	CropLocations int
	Skipped       int
	CropsFound    bool
}

// SurveyActivities holds the activity implementations for TriangulateSurveyWorkflow.
type SurveyActivities struct {
	Surveys *usecases.SurveyService
}

// TriangulateSurvey recomputes and stores the survey's crop locations.
func (a *SurveyActivities) TriangulateSurvey(ctx context.Context, surveyID string) (SurveySummary, error) {
	res, err := a.Surveys.Triangulate(ctx, surveyID)
	if domain.IsInsufficientBatch(err) {
		return SurveySummary{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInsufficientBatch, err)
	}
	if err != nil {
		return SurveySummary{}, fmt.Errorf("triangulate survey %s: %w", surveyID, err)
	}

	activity.GetLogger(ctx).Info("survey stored", "survey", surveyID, "cropLocations", len(res.Locations))
	return SurveySummary{
		SurveyID:      surveyID,
		Observations:  len(res.Observations),
		CropLocations: len(res.Locations),
		Skipped:       len(res.Skipped),
		CropsFound:    res.CropsFound,
	}, nil
}

// PublishCropLocations broadcasts the survey's stored crop locations.
func (a *SurveyActivities) PublishCropLocations(ctx context.Context, surveyID string) error {
	if err := a.Surveys.Publish(ctx, surveyID); err != nil {
		return fmt.Errorf("publish crop locations for %s: %w", surveyID, err)
	}
	return nil
}

// ClearSurveyLocations removes the survey's crop locations (saga compensation
// and the empty-survey case).
func (a *SurveyActivities) ClearSurveyLocations(ctx context.Context, surveyID string) error {
	return a.Surveys.ClearLocations(ctx, surveyID)
}
