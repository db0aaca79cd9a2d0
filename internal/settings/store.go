// Package settings is the preference store the daemon reads its schedule from.
// Values are JSON encoded in SQLite with a per-key version, so changes made by
// another process (the CLI) can be detected by comparing versions.
package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/config"
)

// Schedule is a read-only snapshot of the preferences that drive the
// trigger loop and the transition engine.
type Schedule struct {
	Enabled bool

	SunriseEnabled bool
	SunsetEnabled  bool
	SunriseTarget  int // max-brightness
	SunsetTarget   int // min-brightness

	SunriseHour   int
	SunriseMinute int
	SunsetHour    int
	SunsetMinute  int

	UseAutomaticLocation bool
	CachedSunrise        string
	CachedSunset         string

	CatchUpSunrise bool
	CatchUpSunset  bool

	StepDelay        time.Duration
	ResetOnExit      bool
	DisabledMonitors []string
}

// FixedSunriseMinute returns the configured sunrise as minute of day.
func (s Schedule) FixedSunriseMinute() int { return s.SunriseHour*60 + s.SunriseMinute }

// FixedSunsetMinute returns the configured sunset as minute of day.
func (s Schedule) FixedSunsetMinute() int { return s.SunsetHour*60 + s.SunsetMinute }

// Store provides versioned preference storage.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a preference store on an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Seed inserts default values for keys that are not stored yet.
// Existing values are never overwritten.
func (s *Store) Seed(defaults config.Defaults) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()
	for key, value := range defaultValues(defaults) {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal default for %s: %w", key, err)
		}
		if _, err := s.db.Exec(`
			INSERT OR IGNORE INTO settings (key, value, version, updated_at)
			VALUES (?, ?, 1, ?)
		`, key, string(data), now); err != nil {
			return fmt.Errorf("failed to seed %s: %w", key, err)
		}
	}
	return nil
}

// Set stores a value, incrementing the key's version.
func (s *Store) Set(key string, value any) error {
	if _, ok := keySpecs[key]; !ok {
		return fmt.Errorf("unknown key %q", key)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()
	_, err = s.db.Exec(`
		INSERT INTO settings (key, value, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = version + 1,
			updated_at = excluded.updated_at
		WHERE value != excluded.value
	`, key, string(data), now)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	log.Debug().Str("key", key).Str("value", string(data)).Msg("Setting stored")
	return nil
}

// Get returns the raw JSON value of key, or nil if unset.
func (s *Store) Get(key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return json.RawMessage(value), nil
}

// All returns every stored key with its raw JSON value.
func (s *Store) All() (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = json.RawMessage(value)
	}
	return values, rows.Err()
}

// Versions returns the current version of every stored key.
func (s *Store) Versions() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT key, version FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to read versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int64)
	for rows.Next() {
		var key string
		var version int64
		if err := rows.Scan(&key, &version); err != nil {
			return nil, err
		}
		versions[key] = version
	}
	return versions, rows.Err()
}

// Changed returns keys whose version differs from last, plus the current versions.
func (s *Store) Changed(last map[string]int64) ([]string, map[string]int64, error) {
	current, err := s.Versions()
	if err != nil {
		return nil, nil, err
	}

	var changed []string
	for key, version := range current {
		if version != last[key] {
			changed = append(changed, key)
		}
	}
	return changed, current, nil
}

// Snapshot decodes all preferences into a Schedule.
// Keys that are missing or fail to decode keep their zero value.
func (s *Store) Snapshot() (Schedule, error) {
	values, err := s.All()
	if err != nil {
		return Schedule{}, err
	}

	d := decoder{values: values}
	sched := Schedule{
		Enabled:              d.bool(KeyEnabled),
		SunriseEnabled:       d.bool(KeyAutoBrightenSunrise),
		SunsetEnabled:        d.bool(KeyAutoDimSunset),
		SunriseTarget:        d.int(KeyMaxBrightness),
		SunsetTarget:         d.int(KeyMinBrightness),
		SunriseHour:          d.int(KeySunriseHour),
		SunriseMinute:        d.int(KeySunriseMinute),
		SunsetHour:           d.int(KeySunsetHour),
		SunsetMinute:         d.int(KeySunsetMinute),
		UseAutomaticLocation: d.bool(KeyUseAutomaticLocation),
		CachedSunrise:        d.string(KeyCachedSunrise),
		CachedSunset:         d.string(KeyCachedSunset),
		CatchUpSunrise:       d.bool(KeyCatchUpSunrise),
		CatchUpSunset:        d.bool(KeyCatchUpSunset),
		ResetOnExit:          d.bool(KeyResetOnExit),
		DisabledMonitors:     d.strings(KeyDisabledMonitors),
	}

	delay := d.int(KeyStepDelay)
	if delay < 1 {
		delay = 1
	}
	sched.StepDelay = time.Duration(delay) * time.Second

	return sched, nil
}

// String returns a string preference, or "" on any error.
func (s *Store) String(key string) string {
	raw, err := s.Get(key)
	if err != nil || raw == nil {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

type decoder struct {
	values map[string]json.RawMessage
}

func (d decoder) decode(key string, into any) {
	raw, ok := d.values[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, into); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Ignoring malformed setting")
	}
}

func (d decoder) bool(key string) bool {
	var v bool
	d.decode(key, &v)
	return v
}

func (d decoder) int(key string) int {
	var v int
	d.decode(key, &v)
	return v
}

func (d decoder) string(key string) string {
	var v string
	d.decode(key, &v)
	return v
}

func (d decoder) strings(key string) []string {
	var v []string
	d.decode(key, &v)
	return v
}
