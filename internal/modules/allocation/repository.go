// Package allocation stores geography/industry target weights and the
// group maps that fold raw countries and industries into target groups.
package allocation

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Group types for allocation targets.
const (
	GroupGeography = "geography"
	GroupIndustry  = "industry"
)

// Repository persists allocation targets and security group maps in
// universe.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an allocation repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "allocation").Logger(),
	}
}

// GetTargets returns name → weight for one group type.
func (r *Repository) GetTargets(groupType string) (map[string]float64, error) {
	rows, err := r.db.Query(
		"SELECT group_name, target_weight FROM allocation_targets WHERE group_type = ?",
		groupType)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s targets: %w", groupType, err)
	}
	defer rows.Close()

	targets := make(map[string]float64)
	for rows.Next() {
		var name string
		var weight float64
		if err := rows.Scan(&name, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan allocation target: %w", err)
		}
		targets[name] = weight
	}
	return targets, rows.Err()
}

// SetTarget upserts one target weight.
func (r *Repository) SetTarget(groupType, groupName string, weight float64) error {
	_, err := r.db.Exec(`
		INSERT INTO allocation_targets (group_type, group_name, target_weight)
		VALUES (?, ?, ?)
		ON CONFLICT(group_type, group_name) DO UPDATE SET
			target_weight = excluded.target_weight`,
		groupType, groupName, weight)
	if err != nil {
		return fmt.Errorf("failed to set %s target %s: %w", groupType, groupName, err)
	}
	return nil
}

// GetGroupMap returns symbol → group name for one group type
// (e.g. country folded into a geography group).
func (r *Repository) GetGroupMap(groupType string) (map[string]string, error) {
	rows, err := r.db.Query(
		"SELECT symbol, group_name FROM security_groups WHERE group_type = ?",
		groupType)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s group map: %w", groupType, err)
	}
	defer rows.Close()

	groups := make(map[string]string)
	for rows.Next() {
		var symbol, group string
		if err := rows.Scan(&symbol, &group); err != nil {
			return nil, fmt.Errorf("failed to scan group map: %w", err)
		}
		groups[strings.ToUpper(symbol)] = group
	}
	return groups, rows.Err()
}

// SetGroup assigns a symbol to a group.
func (r *Repository) SetGroup(symbol, groupType, groupName string) error {
	_, err := r.db.Exec(`
		INSERT INTO security_groups (symbol, group_type, group_name)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol, group_type) DO UPDATE SET
			group_name = excluded.group_name`,
		strings.ToUpper(symbol), groupType, groupName)
	if err != nil {
		return fmt.Errorf("failed to set group for %s: %w", symbol, err)
	}
	return nil
}
