package usecases_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
)

func TestObservationService_Build(t *testing.T) {
	svc := usecases.NewObservationService(&mockExtractor{meta: fixtureMeta()}, &mockDetector{}, nil, nil, newEstimator())

	o, err := svc.Build(context.Background(), "IMG_0001", []byte("IMG_0001"), sugarcane())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.DistancesReady() {
		t.Fatal("distances should be derived on build")
	}
	if math.Abs(o.Distances["sugarcane"]-16.65564493862005) > 1e-9 {
		t.Errorf("unexpected distance %v", o.Distances["sugarcane"])
	}
	if o.CropCount["sugarcane"] != 1 {
		t.Errorf("unexpected crop count %v", o.CropCount)
	}
	if o.PixelWidth != 3040 {
		t.Errorf("pixel width not carried: %d", o.PixelWidth)
	}
}

func TestObservationService_Build_NoCrops(t *testing.T) {
	svc := usecases.NewObservationService(&mockExtractor{meta: fixtureMeta()}, &mockDetector{}, nil, nil, newEstimator())

	o, err := svc.Build(context.Background(), "IMG_0002", []byte("IMG_0002"), nil)
	if err != nil {
		t.Fatalf("no detections must not fail: %v", err)
	}
	if o.CropsFound() {
		t.Error("expected no crops")
	}
}

func TestObservationService_Build_MissingMetadata(t *testing.T) {
	svc := usecases.NewObservationService(&mockExtractor{}, &mockDetector{}, nil, nil, newEstimator())

	_, err := svc.Build(context.Background(), "screenshot", []byte("png"), sugarcane())
	if !domain.IsMetadataMissing(err) {
		t.Fatalf("expected MetadataMissingError, got %v", err)
	}
}

func TestObservationService_Detect_DetectorError(t *testing.T) {
	det := &mockDetector{detectFn: func(ctx context.Context, image []byte) ([]domain.Detection, error) {
		return nil, errors.New("model not loaded")
	}}
	svc := usecases.NewObservationService(&mockExtractor{meta: fixtureMeta()}, det, nil, nil, newEstimator())

	if _, err := svc.Detect(context.Background(), "IMG_0001", []byte("IMG_0001")); err == nil {
		t.Fatal("expected error")
	}
}

func TestObservationService_Ingest(t *testing.T) {
	var fetched string
	images := &mockImageSource{fetchFn: func(ctx context.Context, uri string) ([]byte, error) {
		fetched = uri
		return []byte("IMG_0001"), nil
	}}
	det := &mockDetector{detectFn: func(ctx context.Context, image []byte) ([]domain.Detection, error) {
		return sugarcane(), nil
	}}
	var stored *domain.Observation
	repo := &mockObservationRepo{upsertFn: func(ctx context.Context, o *domain.Observation) error {
		stored = o
		return nil
	}}
	svc := usecases.NewObservationService(&mockExtractor{meta: fixtureMeta()}, det, images, repo, newEstimator())

	event := &domain.UploadEvent{ID: "e1", SurveyID: "busia", URI: "gs://street2sat-uploaded/busia/day1/IMG_0001.jpg"}
	o, err := svc.Ingest(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched != event.URI {
		t.Errorf("fetched %s", fetched)
	}
	if o.Name != "busia-day1-IMG_0001" {
		t.Errorf("unexpected name %s", o.Name)
	}
	if stored != o || stored.SurveyID != "busia" || stored.SourceURI != event.URI {
		t.Errorf("observation not stored with survey and source: %+v", stored)
	}
}

func TestObservationService_Ingest_FetchFails(t *testing.T) {
	called := false
	repo := &mockObservationRepo{upsertFn: func(ctx context.Context, o *domain.Observation) error {
		called = true
		return nil
	}}
	svc := usecases.NewObservationService(&mockExtractor{}, &mockDetector{}, &mockImageSource{}, repo, newEstimator())

	_, err := svc.Ingest(context.Background(), &domain.UploadEvent{SurveyID: "s", URI: "gs://b/x.jpg"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if called {
		t.Error("nothing should be stored")
	}
}

func TestObservationService_Remove(t *testing.T) {
	var gotSurvey, gotName string
	repo := &mockObservationRepo{deleteFn: func(ctx context.Context, surveyID, name string) error {
		gotSurvey, gotName = surveyID, name
		return nil
	}}
	svc := usecases.NewObservationService(nil, nil, nil, repo, newEstimator())

	name, err := svc.Remove(context.Background(), &domain.DeletionEvent{SurveyID: "busia", URI: "gs://bucket/busia/day1/IMG_0003.JPG"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "busia-day1-IMG_0003" || gotName != name || gotSurvey != "busia" {
		t.Errorf("unexpected delete %s/%s (returned %s)", gotSurvey, gotName, name)
	}
}

func TestObservationService_Remove_BadURI(t *testing.T) {
	svc := usecases.NewObservationService(nil, nil, nil, &mockObservationRepo{}, newEstimator())
	if _, err := svc.Remove(context.Background(), &domain.DeletionEvent{URI: "gs://bucket"}); err == nil {
		t.Fatal("expected error")
	}
}
