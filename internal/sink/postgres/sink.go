// Package postgres provides a Postgres-backed dataset sink.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapsight/places-crawler/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for place rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink appends place records as rows with the enrichment payloads stored
// as jsonb columns.
type Sink struct {
	pool  execCloser
	table string
}

// New creates a Postgres-backed sink using the provided config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "places"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: pool, table: table}, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "places"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Sink{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Append inserts one place row.
func (s *Sink) Append(ctx context.Context, record scrape.PlaceRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("sink is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}

	reviewsJSON, err := json.Marshal(record.Reviews)
	if err != nil {
		return fmt.Errorf("marshal reviews: %w", err)
	}
	photosJSON, err := json.Marshal(record.Photos)
	if err != nil {
		return fmt.Errorf("marshal photos: %w", err)
	}
	var contactJSON []byte
	if record.ContactInfo != nil {
		contactJSON, err = json.Marshal(record.ContactInfo)
		if err != nil {
			return fmt.Errorf("marshal contact info: %w", err)
		}
	}
	var lat, lng any
	if record.GPS != nil {
		lat, lng = record.GPS.Lat, record.GPS.Lng
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	address,
	phone,
	website,
	rating,
	review_count,
	latitude,
	longitude,
	place_url,
	reviews,
	photos,
	contact_info,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)`, s.table)

	args := []any{
		record.ID,
		record.Title,
		record.Address,
		record.Phone,
		record.Website,
		record.Rating,
		record.ReviewCount,
		lat,
		lng,
		record.URL,
		reviewsJSON,
		photosJSON,
		contactJSON,
		record.ScrapedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert place: %w", err)
	}
	return nil
}
