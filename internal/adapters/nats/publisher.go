package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStreams(js); err != nil {
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			Name:      "UPLOADS",
			Subjects:  []string{uploadsPrefix + ">"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "DELETIONS",
			Subjects:  []string{deletionsPrefix + ">"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "CROP_LOCATIONS",
			Subjects:  []string{CropUpdatesWildcard},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

func (p *Publisher) PublishUpload(ctx context.Context, event *domain.UploadEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// Dedupe redelivered uploads on the event ID.
	_, err = p.js.Publish(UploadSubject(event.SurveyID), data, nats.Context(ctx), nats.MsgId(event.ID))
	return err
}

func (p *Publisher) PublishDeletion(ctx context.Context, event *domain.DeletionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(DeletionSubject(event.SurveyID), data, nats.Context(ctx))
	return err
}

// CropUpdate is the payload broadcast when a survey's crop locations change.
type CropUpdate struct {
	SurveyID  string                `json:"survey_id"`
	Locations []domain.CropLocation `json:"crop_locations"`
	SentAt    time.Time             `json:"sent_at"`
}

func (p *Publisher) PublishCropLocations(ctx context.Context, surveyID string, locs []domain.CropLocation) error {
	data, err := json.Marshal(CropUpdate{SurveyID: surveyID, Locations: locs, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(CropSubject(surveyID), data, nats.Context(ctx))
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("street2sat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
