package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/ports"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
	"github.com/nasaharvest/street2sat/internal/pkg/metrics"
	"github.com/nasaharvest/street2sat/internal/pkg/telemetry"
)

// DefaultMaxImagesPerRequest caps how many images one upload request may carry.
const DefaultMaxImagesPerRequest = 20

// UploadedImage is one file received by the upload endpoint.
type UploadedImage struct {
	Name string
	Data []byte
}

// SurveyService triangulates batches of observations and keeps the stored
// crop locations of each survey in sync.
type SurveyService struct {
	observations ports.ObservationRepository
	locations    ports.CropLocationRepository
	publisher    ports.EventPublisher
	cache        ports.CacheService
	builder      *ObservationService
	triangulator *triangulation.Triangulator
	maxImages    int
}

// NewSurveyService creates a new SurveyService. publisher and cache may be nil.
func NewSurveyService(
	observations ports.ObservationRepository,
	locations ports.CropLocationRepository,
	publisher ports.EventPublisher,
	cache ports.CacheService,
	builder *ObservationService,
	triangulator *triangulation.Triangulator,
	maxImages int,
) *SurveyService {
	if maxImages <= 0 {
		maxImages = DefaultMaxImagesPerRequest
	}
	return &SurveyService{
		observations: observations,
		locations:    locations,
		publisher:    publisher,
		cache:        cache,
		builder:      builder,
		triangulator: triangulator,
		maxImages:    maxImages,
	}
}

// TriangulateBatch triangulates observations held in memory. Nothing is
// persisted.
func (s *SurveyService) TriangulateBatch(ctx context.Context, obs []*domain.Observation) (*domain.SurveyResult, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanTriangulateBatch, telemetry.AttrBatchSize.Int(len(obs)))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	start := time.Now()
	out, err := s.triangulator.Triangulate(obs)
	metrics.TriangulationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Triangulations.WithLabelValues(triangulationOutcome(err)).Inc()
		return nil, err
	}
	metrics.Triangulations.WithLabelValues("ok").Inc()

	res := &domain.SurveyResult{Observations: out}
	for _, o := range out {
		res.Locations = append(res.Locations, o.CropLocations()...)
		if o.CropsFound() {
			res.CropsFound = true
		}
	}
	for _, l := range res.Locations {
		metrics.CropLocationsProduced.WithLabelValues(l.Crop).Inc()
	}
	span.SetAttributes(telemetry.AttrCropCount.Int(len(res.Locations)))
	return res, nil
}

// ProcessUploads runs detection on each uploaded image and triangulates the
// resulting observations. Images past the per-request cap are ignored and
// flagged. Images whose metadata or detection fails are skipped and reported;
// only the batch as a whole can fail.
func (s *SurveyService) ProcessUploads(ctx context.Context, images []UploadedImage) (*domain.SurveyResult, error) {
	truncated := false
	if len(images) > s.maxImages {
		images = images[:s.maxImages]
		truncated = true
	}

	var obs []*domain.Observation
	var skipped []domain.SkippedImage
	for _, img := range images {
		o, err := s.builder.Detect(ctx, img.Name, img.Data)
		if err != nil {
			slog.WarnContext(ctx, "image skipped", "image", img.Name, "error", err)
			skipped = append(skipped, domain.SkippedImage{Name: img.Name, Reason: err.Error()})
			continue
		}
		if !o.HasCoordinate() {
			skipped = append(skipped, domain.SkippedImage{Name: img.Name, Reason: "image has no GPS position"})
			continue
		}
		obs = append(obs, o)
	}

	res, err := s.TriangulateBatch(ctx, obs)
	if err != nil {
		return &domain.SurveyResult{Skipped: skipped, Truncated: truncated}, err
	}
	res.Skipped = skipped
	res.Truncated = truncated
	return res, nil
}

// Triangulate recomputes a stored survey: every observation is triangulated,
// derived fields are written back and the survey's crop locations are
// replaced.
func (s *SurveyService) Triangulate(ctx context.Context, surveyID string) (*domain.SurveyResult, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanTriangulateSurvey, telemetry.AttrSurveyID.String(surveyID))
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	stored, err := s.observations.ListBySurvey(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}

	var obs []*domain.Observation
	var skipped []domain.SkippedImage
	for _, o := range stored {
		if !o.HasCoordinate() {
			skipped = append(skipped, domain.SkippedImage{Name: o.Name, Reason: "image has no GPS position"})
			continue
		}
		obs = append(obs, o)
	}

	res, err := s.TriangulateBatch(ctx, obs)
	if err != nil {
		return nil, err
	}
	res.SurveyID = surveyID
	res.Skipped = skipped

	for i := range res.Locations {
		res.Locations[i].SurveyID = surveyID
		res.Locations[i].ID = uuid.NewString()
	}

	if err = s.observations.UpsertBatch(ctx, res.Observations); err != nil {
		return nil, fmt.Errorf("store observations: %w", err)
	}
	if err = s.locations.ReplaceForSurvey(ctx, surveyID, res.Locations); err != nil {
		return nil, fmt.Errorf("store crop locations: %w", err)
	}
	s.invalidate(ctx, surveyID)

	slog.InfoContext(ctx, "survey triangulated",
		"survey", surveyID,
		"observations", len(res.Observations),
		"crop_locations", len(res.Locations),
		"skipped", len(skipped),
	)
	return res, nil
}

// Publish broadcasts the survey's current crop locations.
func (s *SurveyService) Publish(ctx context.Context, surveyID string) error {
	if s.publisher == nil {
		return nil
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPublishCropUpdates, telemetry.AttrSurveyID.String(surveyID))
	locs, err := s.locations.ListBySurvey(ctx, surveyID)
	if err == nil {
		err = s.publisher.PublishCropLocations(ctx, surveyID, locs)
	}
	telemetry.EndSpan(span, err)
	return err
}

// ClearLocations removes the survey's stored crop locations. Observations
// are kept so the survey can be triangulated again.
func (s *SurveyService) ClearLocations(ctx context.Context, surveyID string) error {
	if err := s.locations.DeleteBySurvey(ctx, surveyID); err != nil {
		return fmt.Errorf("clear crop locations: %w", err)
	}
	s.invalidate(ctx, surveyID)
	return nil
}

// Get returns the stored state of a survey.
func (s *SurveyService) Get(ctx context.Context, surveyID string) (*domain.SurveyResult, error) {
	cacheKey := surveyCacheKey(surveyID)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var res domain.SurveyResult
			if err := json.Unmarshal(data, &res); err == nil {
				metrics.CacheHits.WithLabelValues("survey").Inc()
				return &res, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("survey").Inc()
	}

	obs, err := s.observations.ListBySurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, domain.ErrNotFound
	}
	locs, err := s.locations.ListBySurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	res := &domain.SurveyResult{SurveyID: surveyID, Observations: obs, Locations: locs}
	for _, o := range obs {
		if o.CropsFound() {
			res.CropsFound = true
			break
		}
	}

	// Cache for 5 minutes; triangulation invalidates it
	if s.cache != nil {
		if data, err := json.Marshal(res); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 300)
		}
	}
	return res, nil
}

// RemoveImage deletes one image's observation and re-triangulates what is
// left of the survey. A survey left with fewer than two geotagged images
// simply has no crop locations.
func (s *SurveyService) RemoveImage(ctx context.Context, event *domain.DeletionEvent) error {
	name, err := s.builder.Remove(ctx, event)
	if errors.Is(err, domain.ErrNotFound) {
		slog.InfoContext(ctx, "deleted image had no observation", "survey", event.SurveyID, "observation", name)
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.Triangulate(ctx, event.SurveyID); err != nil {
		if !domain.IsInsufficientBatch(err) {
			return err
		}
		if err := s.ClearLocations(ctx, event.SurveyID); err != nil {
			return err
		}
	}
	return s.Publish(ctx, event.SurveyID)
}

func (s *SurveyService) invalidate(ctx context.Context, surveyID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, surveyCacheKey(surveyID))
	}
}

func surveyCacheKey(surveyID string) string { return "survey:" + surveyID }

func triangulationOutcome(err error) string {
	switch {
	case domain.IsInsufficientBatch(err):
		return "insufficient_batch"
	case domain.IsMetadataMissing(err):
		return "metadata_missing"
	default:
		return "error"
	}
}
