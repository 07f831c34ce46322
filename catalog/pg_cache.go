package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// OpenPostgres opens and pings the scene cache database.
func OpenPostgres(dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxIdleConns(maxConns)
		db.SetMaxOpenConns(maxConns)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: %v", err)
	}
	return db, nil
}

// PGCache keeps scenes fetched from an upstream catalog in the scenes
// table. Entries older than maxAge are refetched.
type PGCache struct {
	db       *sql.DB
	upstream Catalog
	maxAge   time.Duration
	logger   zerolog.Logger
}

func NewPGCache(db *sql.DB, upstream Catalog, maxAge time.Duration, logger zerolog.Logger) *PGCache {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &PGCache{
		db:       db,
		upstream: upstream,
		maxAge:   maxAge,
		logger:   logger.With().Str("component", "pg_cache").Logger(),
	}
}

const selectScene = `SELECT item FROM scenes
	WHERE collection = $1 AND id = $2 AND fetched_at > $3`

const upsertScene = `INSERT INTO scenes (collection, id, item, acquired, cloud_cover, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (collection, id) DO UPDATE
	SET item = EXCLUDED.item, acquired = EXCLUDED.acquired,
		cloud_cover = EXCLUDED.cloud_cover, fetched_at = EXCLUDED.fetched_at`

func (c *PGCache) GetScene(ctx context.Context, collection, id string) (*Scene, error) {
	var raw []byte
	err := c.db.QueryRowContext(ctx, selectScene, collection, id, time.Now().Add(-c.maxAge)).Scan(&raw)
	switch {
	case err == nil:
		var s Scene
		if err = json.Unmarshal(raw, &s); err == nil {
			return &s, nil
		}
		c.logger.Warn().Err(err).Str("scene", id).Msg("discarding undecodable cached scene")
	case errors.Is(err, sql.ErrNoRows):
	default:
		c.logger.Warn().Err(err).Str("scene", id).Msg("scene cache lookup failed")
	}

	s, err := c.upstream.GetScene(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := c.put(ctx, s); err != nil {
		c.logger.Warn().Err(err).Str("scene", id).Msg("scene cache write failed")
	}
	return s, nil
}

func (c *PGCache) put(ctx context.Context, s *Scene) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var cloud sql.NullFloat64
	if s.CloudCover != nil {
		cloud = sql.NullFloat64{Float64: *s.CloudCover, Valid: true}
	}
	var acquired sql.NullTime
	if !s.Datetime.IsZero() {
		acquired = sql.NullTime{Time: s.Datetime, Valid: true}
	}
	_, err = c.db.ExecContext(ctx, upsertScene, s.Collection, s.ID, raw, acquired, cloud, time.Now())
	return err
}

// Search always goes upstream. Returned scenes are written to the cache.
func (c *PGCache) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	res, err := c.upstream.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, s := range res.Scenes {
		if err := c.put(ctx, s); err != nil {
			c.logger.Debug().Err(err).Str("scene", s.ID).Msg("scene cache write failed")
			break
		}
	}
	return res, nil
}

func (c *PGCache) Collections(ctx context.Context) ([]Collection, error) {
	return c.upstream.Collections(ctx)
}
