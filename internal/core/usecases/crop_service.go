package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/ports"
	"github.com/nasaharvest/street2sat/internal/pkg/metrics"
)

// ErrInvalidQuery wraps every rejected search parameter.
var ErrInvalidQuery = errors.New("invalid query")

// CropService serves the crop taxonomy and stored crop locations.
type CropService struct {
	table     *domain.CropTable
	locations ports.CropLocationRepository
	cache     ports.CacheService
}

// NewCropService creates a new CropService.
func NewCropService(table *domain.CropTable, locations ports.CropLocationRepository, cache ports.CacheService) *CropService {
	return &CropService{table: table, locations: locations, cache: cache}
}

// Classes returns the crop taxonomy in detector index order.
func (s *CropService) Classes() []domain.CropClass {
	return s.table.Classes()
}

// TableVersion identifies the reference height table in use.
func (s *CropService) TableVersion() string {
	return s.table.Version()
}

// FindNearby returns crop locations within radiusMeters of a point. An empty
// crop matches all crops.
func (s *CropService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, crop string, limit int) ([]domain.CropLocation, error) {
	if p := (domain.GeoPoint{Lat: lat, Lon: lon}); !p.Valid() {
		return nil, fmt.Errorf("%w: coordinate out of range: %f, %f", ErrInvalidQuery, lat, lon)
	}
	if crop != "" {
		if _, ok := s.table.Lookup(crop); !ok {
			return nil, fmt.Errorf("%w: unknown crop %q", ErrInvalidQuery, crop)
		}
	}
	if radiusMeters <= 0 || radiusMeters > 50000 {
		radiusMeters = 1000
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	// Try cache
	cacheKey := fmt.Sprintf("crops:nearby:%.4f:%.4f:%.0f:%s:%d", lat, lon, radiusMeters, crop, limit)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var locs []domain.CropLocation
			if err := json.Unmarshal(data, &locs); err == nil {
				metrics.CacheHits.WithLabelValues("crops_nearby").Inc()
				return locs, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("crops_nearby").Inc()
	}

	locs, err := s.locations.FindNearby(ctx, lat, lon, radiusMeters, crop, limit)
	if err != nil {
		return nil, err
	}

	// Cache for 1 minute; new surveys land continuously
	if s.cache != nil {
		if data, err := json.Marshal(locs); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 60)
		}
	}
	return locs, nil
}

// SurveyLocations returns every stored crop location of a survey.
func (s *CropService) SurveyLocations(ctx context.Context, surveyID string) ([]domain.CropLocation, error) {
	return s.locations.ListBySurvey(ctx, surveyID)
}
