package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/sunddc/internal/config"
	"github.com/dokzlo13/sunddc/internal/ledger"
)

// MaintenanceService runs periodic housekeeping jobs.
type MaintenanceService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	cron   *cron.Cron
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(cfg *config.Config, l *ledger.Ledger) *MaintenanceService {
	return &MaintenanceService{cfg: cfg, ledger: l}
}

// Start schedules ledger cleanup, if the ledger is enabled.
func (s *MaintenanceService) Start(ctx context.Context) {
	if !s.cfg.Ledger.IsEnabled() {
		return
	}

	s.cron = cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.Recover(cronLogger{})))
	s.cron.Schedule(cron.Every(s.cfg.Ledger.CleanupInterval.Duration()), cron.FuncJob(s.cleanupLedger))
	s.cron.Start()

	// Do not wait a full interval after a long downtime
	go s.cleanupLedger()
}

// Stop halts the scheduler and waits for running jobs.
func (s *MaintenanceService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *MaintenanceService) cleanupLedger() {
	retention := s.cfg.Ledger.RetentionPeriod()
	deleted, err := s.ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
