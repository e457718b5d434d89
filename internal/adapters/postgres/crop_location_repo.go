package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// CropLocationRepo implements ports.CropLocationRepository with PostGIS.
type CropLocationRepo struct {
	db *DB
}

// NewCropLocationRepo creates a new CropLocationRepo.
func NewCropLocationRepo(db *DB) *CropLocationRepo {
	return &CropLocationRepo{db: db}
}

const cropLocationColumns = `
	id, survey_id, observation_name, crop,
	ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lon,
	ST_Y(camera::geometry) AS camera_lat, ST_X(camera::geometry) AS camera_lon,
	distance_m, heading_deg, created_at
`

func scanCropLocation(row pgx.Row, l *domain.CropLocation) error {
	return row.Scan(
		&l.ID, &l.SurveyID, &l.ObservationName, &l.Crop,
		&l.Location.Lat, &l.Location.Lon,
		&l.Camera.Lat, &l.Camera.Lon,
		&l.DistanceMeters, &l.HeadingDeg, &l.CreatedAt,
	)
}

// ReplaceForSurvey deletes the survey's locations and inserts locs in one
// transaction. Missing IDs are generated.
func (r *CropLocationRepo) ReplaceForSurvey(ctx context.Context, surveyID string, locs []domain.CropLocation) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM crop_locations WHERE survey_id = $1`, surveyID); err != nil {
		return fmt.Errorf("clear survey %s: %w", surveyID, err)
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i := range locs {
		l := &locs[i]
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		batch.Queue(`
			INSERT INTO crop_locations
				(id, survey_id, observation_name, crop, location, camera, distance_m, heading_deg, created_at)
			VALUES ($1, $2, $3, $4,
			        ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography,
			        ST_SetSRID(ST_MakePoint($7, $8), 4326)::geography,
			        $9, $10, $11)
		`, l.ID, surveyID, l.ObservationName, l.Crop,
			l.Location.Lon, l.Location.Lat, l.Camera.Lon, l.Camera.Lat,
			l.DistanceMeters, l.HeadingDeg, l.CreatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for range locs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("batch close: %w", err)
	}

	return tx.Commit(ctx)
}

// ListBySurvey returns the survey's locations ordered by image and crop.
func (r *CropLocationRepo) ListBySurvey(ctx context.Context, surveyID string) ([]domain.CropLocation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+cropLocationColumns+`
		FROM crop_locations
		WHERE survey_id = $1
		ORDER BY observation_name, crop
	`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CropLocation
	for rows.Next() {
		var l domain.CropLocation
		if err := scanCropLocation(rows, &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// FindNearby returns locations within radiusMeters using PostGIS ST_DWithin,
// nearest first. An empty crop matches every crop.
func (r *CropLocationRepo) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, crop string, limit int) ([]domain.CropLocation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+cropLocationColumns+`
		FROM crop_locations
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		  AND ($4 = '' OR crop = $4)
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
		LIMIT $5
	`, lon, lat, radiusMeters, crop, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CropLocation
	for rows.Next() {
		var l domain.CropLocation
		if err := scanCropLocation(rows, &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DeleteByObservation removes the locations projected from one image.
func (r *CropLocationRepo) DeleteByObservation(ctx context.Context, surveyID, name string) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM crop_locations WHERE survey_id = $1 AND observation_name = $2
	`, surveyID, name)
	return err
}

// DeleteBySurvey removes every location of a survey.
func (r *CropLocationRepo) DeleteBySurvey(ctx context.Context, surveyID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM crop_locations WHERE survey_id = $1`, surveyID)
	return err
}
