package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/config"
	"github.com/dokzlo13/sunddc/internal/db"
	"github.com/dokzlo13/sunddc/internal/ddc"
	"github.com/dokzlo13/sunddc/internal/geo"
	"github.com/dokzlo13/sunddc/internal/ledger"
	"github.com/dokzlo13/sunddc/internal/settings"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Settings *settings.Store

	// Brightness control
	Control   *ddc.Client
	Refresher *geo.Refresher

	// High-level services
	Daemon      *DaemonService
	Health      *HealthService
	Maintenance *MaintenanceService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	var recorder ledger.Recorder = ledger.Nop{}
	if cfg.Ledger.IsEnabled() {
		recorder = s.Ledger
	}

	s.Settings = settings.NewStore(database.DB)
	if err := s.Settings.Seed(cfg.Defaults); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	s.Control = ddc.New(cfg.DDC.Binary, cfg.DDC.MaxTries, ddc.ExecRunner{})

	tz, err := geo.LoadTimezone(cfg.Geo.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Geo.Timezone).Msg("Failed to load timezone, using local time")
		tz = nil
	}
	locator, provider, err := geo.FromConfig(cfg.Geo, geo.NewCache(database.DB, 0))
	if err != nil {
		s.Close()
		return nil, err
	}
	if locator == nil {
		log.Warn().Msg("No location configured (lat/lon, name or geoclue); automatic sun times will fail")
	}
	s.Refresher = geo.NewRefresher(locator, provider, s.Settings, recorder, tz)

	s.Daemon, err = NewDaemonService(cfg, s.Settings, s.Control, recorder, s.Refresher)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Health = NewHealthService(cfg, s.Daemon)
	s.Maintenance = NewMaintenanceService(cfg, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Daemon.Start(ctx); err != nil {
		return err
	}
	s.Health.Start(ctx)
	s.Maintenance.Start(ctx)
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Daemon != nil {
		s.Daemon.Stop()
	}
	if s.Maintenance != nil {
		s.Maintenance.Stop()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
