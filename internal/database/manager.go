package database

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Manager owns the full set of application databases.
type Manager struct {
	Universe  *DB
	Portfolio *DB
	Agents    *DB
	Ledger    *DB
	Config    *DB
	History   *DB
	Cache     *DB

	log zerolog.Logger
}

// NewManager opens every database under dataDir with its profile and
// applies schemas. On any failure the already-opened databases are closed.
func NewManager(dataDir string, log zerolog.Logger) (*Manager, error) {
	m := &Manager{log: log.With().Str("service", "database").Logger()}

	specs := []struct {
		target  **DB
		name    string
		profile DatabaseProfile
	}{
		{&m.Universe, "universe", ProfileStandard},
		{&m.Portfolio, "portfolio", ProfileStandard},
		{&m.Agents, "agents", ProfileStandard},
		{&m.Ledger, "ledger", ProfileLedger},
		{&m.Config, "config", ProfileStandard},
		{&m.History, "history", ProfileStandard},
		{&m.Cache, "cache", ProfileCache},
	}

	for _, spec := range specs {
		db, err := New(Config{
			Path:    filepath.Join(dataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to open %s database: %w", spec.name, err)
		}
		*spec.target = db
		m.log.Debug().Str("database", spec.name).Str("profile", string(spec.profile)).Msg("Database opened")
	}

	return m, nil
}

// All returns every open database, for maintenance fan-out.
func (m *Manager) All() []*DB {
	dbs := make([]*DB, 0, 7)
	for _, db := range []*DB{m.Universe, m.Portfolio, m.Agents, m.Ledger, m.Config, m.History, m.Cache} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// CheckpointAll runs a WAL checkpoint on every database. Per-database
// failures are logged and do not abort the sweep.
func (m *Manager) CheckpointAll(mode string) {
	for _, db := range m.All() {
		if err := db.WALCheckpoint(mode); err != nil {
			m.log.Error().Str("database", db.Name()).Err(err).Msg("WAL checkpoint failed")
		}
	}
}

// HealthCheckAll runs the full integrity check on every database and
// returns the first failure.
func (m *Manager) HealthCheckAll(ctx context.Context) error {
	for _, db := range m.All() {
		if err := db.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every open database.
func (m *Manager) Close() {
	for _, db := range m.All() {
		if err := db.Close(); err != nil {
			m.log.Error().Str("database", db.Name()).Err(err).Msg("Failed to close database")
		}
	}
}
