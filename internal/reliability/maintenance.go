package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/modules/cache"
	"github.com/aristath/helmsman/internal/modules/history"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/settings"
)

// Per-step lock acquisition timeouts.
const (
	backupLockTimeout     = 300 * time.Second
	cleanupLockTimeout    = 60 * time.Second
	checkpointLockTimeout = 60 * time.Second
	integrityLockTimeout  = 600 * time.Second
)

// Maintenance runs the daily housekeeping chain and the weekly
// integrity check. Every step holds its own advisory lock so it never
// overlaps ad-hoc invocations of the same operation.
type Maintenance struct {
	locks     *lockfile.Manager
	backups   *BackupService
	prices    *history.Repository
	snapshots *portfolio.SnapshotRepository
	cache     *cache.Repository
	manager   *database.Manager
	settings  *settings.Repository
	bus       *events.Bus
	log       zerolog.Logger
}

// NewMaintenance creates the maintenance service.
func NewMaintenance(locks *lockfile.Manager, backups *BackupService, prices *history.Repository, snapshots *portfolio.SnapshotRepository, cacheRepo *cache.Repository, manager *database.Manager, settingsRepo *settings.Repository, bus *events.Bus, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		locks:     locks,
		backups:   backups,
		prices:    prices,
		snapshots: snapshots,
		cache:     cacheRepo,
		manager:   manager,
		settings:  settingsRepo,
		bus:       bus,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// RunDaily executes the daily chain in order: backup, price retention,
// snapshot retention, cache cleanup, WAL checkpoint. The first failing
// step aborts the remainder.
func (m *Maintenance) RunDaily(ctx context.Context) error {
	m.bus.EmitTyped(events.MaintenanceStart, "maintenance", &events.MaintenanceEventData{Task: "daily"})

	err := m.runDailySteps(ctx)

	m.bus.EmitTyped(events.MaintenanceComplete, "maintenance",
		&events.MaintenanceEventData{Task: "daily", Success: err == nil})
	if err != nil {
		m.bus.EmitTyped(events.ErrorOccurred, "maintenance", &events.ErrorEventData{
			Message: "BACKUP FAILED",
			Error:   err.Error(),
		})
		return err
	}
	m.log.Info().Msg("Daily maintenance complete")
	return nil
}

func (m *Maintenance) runDailySteps(ctx context.Context) error {
	m.bus.EmitTyped(events.BackupStart, "maintenance", &events.MaintenanceEventData{Task: "backup"})
	err := m.locks.WithLock("db_backup", backupLockTimeout, func() error {
		_, err := m.backups.Backup(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("backup step failed: %w", err)
	}
	m.bus.EmitTyped(events.BackupComplete, "maintenance", &events.MaintenanceEventData{Task: "backup", Success: true})

	priceDays, _ := m.settings.GetInt("daily_price_retention_days", 365)
	err = m.locks.WithLock("cleanup_prices", cleanupLockTimeout, func() error {
		n, err := m.prices.PruneDailyOlderThan(priceDays)
		if err == nil && n > 0 {
			m.log.Info().Int64("rows", n).Msg("Old daily prices pruned")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("price cleanup failed: %w", err)
	}

	snapshotDays, _ := m.settings.GetInt("snapshot_retention_days", 90)
	err = m.locks.WithLock("cleanup_snapshots", cleanupLockTimeout, func() error {
		n, err := m.snapshots.PruneOlderThan(snapshotDays)
		if err == nil && n > 0 {
			m.log.Info().Int64("rows", n).Msg("Old snapshots pruned")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("snapshot cleanup failed: %w", err)
	}

	m.bus.EmitTyped(events.CleanupStart, "maintenance", &events.MaintenanceEventData{Task: "cache"})
	err = m.locks.WithLock("cleanup_caches", cleanupLockTimeout, func() error {
		n, err := m.cache.CleanupExpired()
		if err == nil && n > 0 {
			m.log.Info().Int64("rows", n).Msg("Expired cache entries removed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("cache cleanup failed: %w", err)
	}
	m.bus.EmitTyped(events.CleanupComplete, "maintenance", &events.MaintenanceEventData{Task: "cache", Success: true})

	// Per-database checkpoint failures are logged inside the manager and
	// never abort the chain.
	err = m.locks.WithLock("wal_checkpoint", checkpointLockTimeout, func() error {
		m.manager.CheckpointAll("TRUNCATE")
		return nil
	})
	if err != nil {
		return fmt.Errorf("checkpoint step failed: %w", err)
	}
	return nil
}

// RunWeekly runs the full integrity check across every database.
func (m *Maintenance) RunWeekly(ctx context.Context) error {
	m.bus.EmitTyped(events.IntegrityCheckStart, "maintenance", &events.MaintenanceEventData{Task: "integrity"})

	err := m.locks.WithLock("integrity_check", integrityLockTimeout, func() error {
		return m.manager.HealthCheckAll(ctx)
	})

	m.bus.EmitTyped(events.IntegrityCheckComplete, "maintenance",
		&events.MaintenanceEventData{Task: "integrity", Success: err == nil})
	if err != nil {
		m.log.Error().Err(err).Msg("Integrity check failed")
		return err
	}
	m.log.Info().Msg("Weekly integrity check passed")
	return nil
}
