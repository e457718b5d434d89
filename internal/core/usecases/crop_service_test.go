package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
)

func TestCropService_Classes(t *testing.T) {
	svc := usecases.NewCropService(domain.DefaultCropTable(), &mockCropLocationRepo{}, nil)

	classes := svc.Classes()
	if len(classes) != 12 {
		t.Fatalf("expected 12 classes, got %d", len(classes))
	}
	if classes[11].Name != "sugarcane" || classes[11].Index != 11 {
		t.Errorf("unexpected class 11: %+v", classes[11])
	}
	if svc.TableVersion() != domain.DefaultCropTableVersion {
		t.Errorf("unexpected version %s", svc.TableVersion())
	}
}

func TestCropService_FindNearby_Defaults(t *testing.T) {
	var gotRadius float64
	var gotLimit int
	repo := &mockCropLocationRepo{findNearbyFn: func(ctx context.Context, lat, lon, radius float64, crop string, limit int) ([]domain.CropLocation, error) {
		gotRadius, gotLimit = radius, limit
		return []domain.CropLocation{{ID: "1", Crop: "maize"}}, nil
	}}
	svc := usecases.NewCropService(domain.DefaultCropTable(), repo, nil)

	locs, err := svc.FindNearby(context.Background(), 0.68, 34.75, 0, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(locs) != 1 {
		t.Errorf("expected 1 location, got %d", len(locs))
	}
	if gotRadius != 1000 || gotLimit != 100 {
		t.Errorf("expected defaults 1000/100, got %v/%d", gotRadius, gotLimit)
	}
}

func TestCropService_FindNearby_Validation(t *testing.T) {
	svc := usecases.NewCropService(domain.DefaultCropTable(), &mockCropLocationRepo{}, nil)

	tests := []struct {
		name     string
		lat, lon float64
		crop     string
	}{
		{"latitude out of range", 91, 0, ""},
		{"longitude out of range", 0, -181, ""},
		{"unknown crop", 0, 0, "wheat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.FindNearby(context.Background(), tt.lat, tt.lon, 500, tt.crop, 10)
			if !errors.Is(err, usecases.ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestCropService_FindNearby_Cache(t *testing.T) {
	calls := 0
	repo := &mockCropLocationRepo{findNearbyFn: func(ctx context.Context, lat, lon, radius float64, crop string, limit int) ([]domain.CropLocation, error) {
		calls++
		if crop != "maize" {
			t.Errorf("unexpected crop filter %q", crop)
		}
		return []domain.CropLocation{{ID: "1", Crop: "maize"}}, nil
	}}
	svc := usecases.NewCropService(domain.DefaultCropTable(), repo, newMockCache())

	for i := 0; i < 2; i++ {
		locs, err := svc.FindNearby(context.Background(), 0.68, 34.75, 2000, "maize", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(locs) != 1 || locs[0].ID != "1" {
			t.Errorf("unexpected locations %+v", locs)
		}
	}
	if calls != 1 {
		t.Errorf("expected one repository call, got %d", calls)
	}
}
