package geo

import (
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache keeps geocoded place names in SQLite, so a restart does not hit
// Nominatim again.
type Cache struct {
	db     *sql.DB
	maxAge time.Duration
}

// NewCache creates a geocache. Entries older than maxAge are treated as
// missing; zero keeps them forever.
func NewCache(db *sql.DB, maxAge time.Duration) *Cache {
	return &Cache{db: db, maxAge: maxAge}
}

// Get returns the cached location for a query.
func (c *Cache) Get(query string) (*Location, bool) {
	var loc Location
	var createdAt int64
	err := c.db.QueryRow(`
		SELECT display_name, latitude, longitude, created_at
		FROM geocache
		WHERE query = ?
	`, query).Scan(&loc.Name, &loc.Latitude, &loc.Longitude, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Failed to read geocache")
		return nil, false
	}

	if c.maxAge > 0 && time.Since(time.Unix(createdAt, 0)) > c.maxAge {
		log.Debug().Str("query", query).Msg("Geocache entry expired")
		return nil, false
	}

	return &loc, true
}

// Put stores a geocoded location, replacing any previous entry.
func (c *Cache) Put(query string, loc *Location) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO geocache (query, display_name, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, query, loc.Name, loc.Latitude, loc.Longitude, time.Now().Unix())
	if err != nil {
		return err
	}

	log.Debug().Str("query", query).Float64("lat", loc.Latitude).Float64("lon", loc.Longitude).Msg("Geocache stored")
	return nil
}
