package main

import (
	"context"
	"log/slog"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/ports"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
	"github.com/nasaharvest/street2sat/internal/pkg/metrics"
)

// eventHandler turns storage events into observations and keeps each
// survey's crop locations current.
type eventHandler struct {
	observations *usecases.ObservationService
	surveys      *usecases.SurveyService
	workflows    ports.WorkflowStarter // nil: triangulate inline
}

// handleUpload builds and stores the uploaded image's observation, then
// schedules its survey for triangulation. Images that can never become an
// observation are acknowledged so they are not redelivered.
func (h *eventHandler) handleUpload(ctx context.Context, event *domain.UploadEvent) error {
	_, err := h.observations.Ingest(ctx, event)
	if domain.IsMetadataMissing(err) {
		slog.WarnContext(ctx, "upload skipped", "survey", event.SurveyID, "uri", event.URI, "reason", err.Error())
		metrics.UploadEventsHandled.WithLabelValues("upload", "skipped").Inc()
		return nil
	}
	if err != nil {
		metrics.UploadEventsHandled.WithLabelValues("upload", "error").Inc()
		return err
	}

	if err := h.triangulate(ctx, event.SurveyID); err != nil {
		metrics.UploadEventsHandled.WithLabelValues("upload", "error").Inc()
		return err
	}
	metrics.UploadEventsHandled.WithLabelValues("upload", "ok").Inc()
	return nil
}

func (h *eventHandler) handleDeletion(ctx context.Context, event *domain.DeletionEvent) error {
	if err := h.surveys.RemoveImage(ctx, event); err != nil {
		metrics.UploadEventsHandled.WithLabelValues("deletion", "error").Inc()
		return err
	}
	metrics.UploadEventsHandled.WithLabelValues("deletion", "ok").Inc()
	return nil
}

func (h *eventHandler) triangulate(ctx context.Context, surveyID string) error {
	if h.workflows != nil {
		return h.workflows.StartSurveyTriangulation(ctx, surveyID)
	}
	_, err := h.surveys.Triangulate(ctx, surveyID)
	if domain.IsInsufficientBatch(err) {
		// First image of a survey; wait for the next one.
		return nil
	}
	if err != nil {
		return err
	}
	return h.surveys.Publish(ctx, surveyID)
}
