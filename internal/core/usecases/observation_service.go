package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/ports"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
	"github.com/nasaharvest/street2sat/internal/pkg/metrics"
	"github.com/nasaharvest/street2sat/internal/pkg/telemetry"
)

// ObservationService turns images into observations.
type ObservationService struct {
	extractor    ports.MetadataExtractor
	detector     ports.Detector
	images       ports.ImageSource
	observations ports.ObservationRepository
	estimator    *triangulation.Estimator
}

// NewObservationService creates a new ObservationService. images and
// observations may be nil for callers that only build observations in memory.
func NewObservationService(
	extractor ports.MetadataExtractor,
	detector ports.Detector,
	images ports.ImageSource,
	observations ports.ObservationRepository,
	estimator *triangulation.Estimator,
) *ObservationService {
	return &ObservationService{
		extractor:    extractor,
		detector:     detector,
		images:       images,
		observations: observations,
		estimator:    estimator,
	}
}

// Build creates an observation from encoded image bytes and the detector's
// results for that image. Distances are derived immediately. A missing
// metadata field is returned as *domain.MetadataMissingError.
func (s *ObservationService) Build(ctx context.Context, name string, image []byte, detections []domain.Detection) (*domain.Observation, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanBuildObservation, telemetry.AttrObservation.String(name))
	defer span.End()

	meta, err := s.extractor.Extract(image)
	if err != nil {
		metrics.ObservationsBuilt.WithLabelValues("metadata_missing").Inc()
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	o, err := domain.NewObservation(name, meta, detections)
	if err != nil {
		metrics.ObservationsBuilt.WithLabelValues("metadata_missing").Inc()
		return nil, err
	}
	s.estimator.Apply(o)
	metrics.ObserveIssues(o.Issues)
	for _, issue := range o.Issues {
		slog.WarnContext(ctx, "detection dropped", "observation", name, "reason", issue.Error())
	}

	outcome := "crops_found"
	if !o.CropsFound() {
		outcome = "no_crops"
	}
	metrics.ObservationsBuilt.WithLabelValues(outcome).Inc()
	return o, nil
}

// Detect runs the detector on the image and builds the observation.
func (s *ObservationService) Detect(ctx context.Context, name string, image []byte) (*domain.Observation, error) {
	dets, err := s.detector.Detect(ctx, image)
	if err != nil {
		metrics.ObservationsBuilt.WithLabelValues("detector_error").Inc()
		return nil, fmt.Errorf("detect %s: %w", name, err)
	}
	return s.Build(ctx, name, image, dets)
}

// Ingest handles one uploaded image: fetch, detect, build, persist.
func (s *ObservationService) Ingest(ctx context.Context, event *domain.UploadEvent) (*domain.Observation, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanHandleUpload,
		telemetry.AttrSurveyID.String(event.SurveyID),
		telemetry.AttrImageURI.String(event.URI),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	name := domain.NameFromURI(event.URI)
	if name == "" {
		err = fmt.Errorf("cannot derive an image name from %q", event.URI)
		return nil, err
	}

	image, err := s.images.Fetch(ctx, event.URI)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", event.URI, err)
	}

	o, err := s.Detect(ctx, name, image)
	if err != nil {
		return nil, err
	}
	o.SurveyID = event.SurveyID
	o.SourceURI = event.URI

	if err = s.observations.Upsert(ctx, o); err != nil {
		return nil, fmt.Errorf("store observation %s: %w", name, err)
	}
	slog.InfoContext(ctx, "observation stored",
		"survey", event.SurveyID,
		"observation", name,
		"crops_found", o.CropsFound(),
	)
	return o, nil
}

// Remove deletes the observation that was built from uri, together with
// its crop locations. It returns the derived observation name.
func (s *ObservationService) Remove(ctx context.Context, event *domain.DeletionEvent) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanHandleDeletion,
		telemetry.AttrSurveyID.String(event.SurveyID),
		telemetry.AttrImageURI.String(event.URI),
	)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	name := domain.NameFromURI(event.URI)
	if name == "" {
		err = fmt.Errorf("cannot derive an image name from %q", event.URI)
		return "", err
	}
	if err = s.observations.Delete(ctx, event.SurveyID, name); err != nil {
		return name, fmt.Errorf("delete observation %s: %w", name, err)
	}
	return name, nil
}
