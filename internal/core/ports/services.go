package ports

import (
	"context"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// Detector runs the object-detection model on one image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]domain.Detection, error)
}

// MetadataExtractor reads capture metadata from encoded image bytes. Missing
// fields are reported as *domain.MetadataMissingError.
type MetadataExtractor interface {
	Extract(image []byte) (domain.CaptureMetadata, error)
}

// ImageSource fetches raw image bytes by URI.
type ImageSource interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishUpload(ctx context.Context, event *domain.UploadEvent) error
	PublishDeletion(ctx context.Context, event *domain.DeletionEvent) error
	PublishCropLocations(ctx context.Context, surveyID string, locs []domain.CropLocation) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeUploads(ctx context.Context, handler func(ctx context.Context, event *domain.UploadEvent) error) error
	SubscribeDeletions(ctx context.Context, handler func(ctx context.Context, event *domain.DeletionEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// WorkflowStarter schedules the durable survey triangulation workflow.
type WorkflowStarter interface {
	StartSurveyTriangulation(ctx context.Context, surveyID string) error
}
