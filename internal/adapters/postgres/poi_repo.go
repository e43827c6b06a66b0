package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// POIRepo implements ports.POIRepository with pgx and PostGIS.
type POIRepo struct {
	db *DB
}

// NewPOIRepo creates a new POIRepo.
func NewPOIRepo(db *DB) *POIRepo {
	return &POIRepo{db: db}
}

const upsertPOI = `
	INSERT INTO pois (id, category, name, location, metadata, updated_at)
	VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, now())
	ON CONFLICT (id) DO UPDATE
	SET category = EXCLUDED.category, name = EXCLUDED.name,
	    location = EXCLUDED.location, metadata = EXCLUDED.metadata,
	    updated_at = now()
`

// UpsertBatch inserts or updates many POIs using pgx.Batch.
func (r *POIRepo) UpsertBatch(ctx context.Context, pois []domain.POI) error {
	if len(pois) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pois {
		batch.Queue(upsertPOI, p.ID, p.Category, p.Name, p.Location.Lon, p.Location.Lat, p.Metadata)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range pois {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// ReplaceRoutes sets the route scopes served by each POI in links,
// dropping scopes no longer listed.
func (r *POIRepo) ReplaceRoutes(ctx context.Context, links map[string][]string) error {
	if len(links) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		n := 0
		for poiID, scopes := range links {
			batch.Queue(`DELETE FROM poi_routes WHERE poi_id = $1`, poiID)
			n++
			for _, scope := range scopes {
				batch.Queue(`INSERT INTO poi_routes (poi_id, scope) VALUES ($1, $2) ON CONFLICT DO NOTHING`, poiID, scope)
				n++
			}
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for i := 0; i < n; i++ {
			if _, err := br.Exec(); err != nil {
				return fmt.Errorf("batch exec: %w", err)
			}
		}
		return nil
	})
}

// GetByID returns a POI by id.
func (r *POIRepo) GetByID(ctx context.Context, id string) (*domain.POI, error) {
	var p domain.POI
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, category, name,
		       ST_Y(location::geometry) as lat,
		       ST_X(location::geometry) as lon,
		       COALESCE(metadata, '{}')
		FROM pois WHERE id = $1
	`, id).Scan(&p.ID, &p.Category, &p.Name, &p.Location.Lat, &p.Location.Lon, &p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("poi %s: %w", id, notFound(err))
	}
	return &p, nil
}

// FindNearby returns POIs within radiusMeters using PostGIS ST_DWithin,
// nearest first. A non-empty scope keeps only POIs linked to that route
// scope.
func (r *POIRepo) FindNearby(
	ctx context.Context,
	lat, lon, radiusMeters float64,
	category domain.Category,
	scope string,
	limit int,
) ([]domain.POI, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT p.id, p.category, p.name,
		       ST_Y(p.location::geometry) as lat,
		       ST_X(p.location::geometry) as lon,
		       COALESCE(p.metadata, '{}'),
		       ST_Distance(p.location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) as distance
		FROM pois p
		WHERE p.category = $4
		  AND ST_DWithin(p.location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		  AND ($5 = '' OR EXISTS (
		      SELECT 1 FROM poi_routes pr WHERE pr.poi_id = p.id AND pr.scope = $5))
		ORDER BY distance
		LIMIT $6
	`, lon, lat, radiusMeters, category, scope, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pois []domain.POI
	for rows.Next() {
		var p domain.POI
		var dist float64
		if err := rows.Scan(
			&p.ID, &p.Category, &p.Name,
			&p.Location.Lat, &p.Location.Lon,
			&p.Metadata, &dist,
		); err != nil {
			return nil, err
		}
		p.Distance = &dist
		pois = append(pois, p)
	}
	return pois, rows.Err()
}
