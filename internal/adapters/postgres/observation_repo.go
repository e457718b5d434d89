package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// ObservationRepo implements ports.ObservationRepository with pgx. The full
// observation lives in a JSONB document; capture time and camera position are
// denormalised into columns for ordering and spatial queries.
type ObservationRepo struct {
	db *DB
}

// NewObservationRepo creates a new ObservationRepo.
func NewObservationRepo(db *DB) *ObservationRepo {
	return &ObservationRepo{db: db}
}

const upsertObservationSQL = `
	INSERT INTO observations (survey_id, name, captured_at, camera, crops_found, document)
	VALUES ($1, $2, $3,
	        CASE WHEN $4::float8 IS NULL THEN NULL
	             ELSE ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography END,
	        $6, $7)
	ON CONFLICT (survey_id, name) DO UPDATE
	SET captured_at = EXCLUDED.captured_at,
	    camera      = EXCLUDED.camera,
	    crops_found = EXCLUDED.crops_found,
	    document    = EXCLUDED.document,
	    updated_at  = now()
`

func observationArgs(o *domain.Observation) ([]any, error) {
	doc, err := o.ToRecord()
	if err != nil {
		return nil, err
	}
	var lon, lat *float64
	if o.Coordinate != nil {
		lon, lat = &o.Coordinate.Lon, &o.Coordinate.Lat
	}
	return []any{o.SurveyID, o.Name, o.CaptureTime, lon, lat, o.CropsFound(), doc}, nil
}

// Upsert inserts or replaces a single observation.
func (r *ObservationRepo) Upsert(ctx context.Context, o *domain.Observation) error {
	args, err := observationArgs(o)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, upsertObservationSQL, args...)
	return err
}

// UpsertBatch writes many observations using pgx.Batch.
func (r *ObservationRepo) UpsertBatch(ctx context.Context, obs []*domain.Observation) error {
	batch := &pgx.Batch{}
	for _, o := range obs {
		args, err := observationArgs(o)
		if err != nil {
			return err
		}
		batch.Queue(upsertObservationSQL, args...)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range obs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// Get returns one observation of a survey.
func (r *ObservationRepo) Get(ctx context.Context, surveyID, name string) (*domain.Observation, error) {
	var doc map[string]any
	err := r.db.Pool.QueryRow(ctx, `
		SELECT document FROM observations WHERE survey_id = $1 AND name = $2
	`, surveyID, name).Scan(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return domain.ObservationFromRecord(doc)
}

// ListBySurvey returns every observation of a survey in capture order.
func (r *ObservationRepo) ListBySurvey(ctx context.Context, surveyID string) ([]*domain.Observation, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT document FROM observations
		WHERE survey_id = $1
		ORDER BY captured_at, name
	`, surveyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Observation
	for rows.Next() {
		var doc map[string]any
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		o, err := domain.ObservationFromRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Delete removes an observation. Its crop locations go with it.
func (r *ObservationRepo) Delete(ctx context.Context, surveyID, name string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM observations WHERE survey_id = $1 AND name = $2
	`, surveyID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
