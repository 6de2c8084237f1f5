// Package reliability holds the safety-net machinery: database backups
// (local and R2), retention cleanup and the scheduled maintenance chains.
package reliability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
)

// BackupService copies the database files into timestamped snapshot
// directories under backups/ and keeps the newest N.
type BackupService struct {
	manager   *database.Manager
	backupDir string
	retention int
	log       zerolog.Logger
}

// NewBackupService creates a local backup service.
func NewBackupService(manager *database.Manager, backupDir string, retention int, log zerolog.Logger) *BackupService {
	if retention <= 0 {
		retention = 7
	}
	return &BackupService{
		manager:   manager,
		backupDir: backupDir,
		retention: retention,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Backup checkpoints every database and copies the files into a fresh
// snapshot directory. Returns the snapshot path.
func (s *BackupService) Backup(ctx context.Context) (string, error) {
	// Flush WAL contents into the main files so the copies are complete.
	s.manager.CheckpointAll("TRUNCATE")

	snapshotDir := filepath.Join(s.backupDir, time.Now().UTC().Format("20060102-150405"))
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	for _, db := range s.manager.All() {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		dst := filepath.Join(snapshotDir, filepath.Base(db.Path()))
		if err := copyFile(db.Path(), dst); err != nil {
			return "", fmt.Errorf("failed to back up %s: %w", db.Name(), err)
		}
	}

	if err := s.rotate(); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	s.log.Info().Str("path", snapshotDir).Msg("Backup created")
	return snapshotDir, nil
}

// rotate removes snapshot directories beyond the retention count,
// oldest first.
func (s *BackupService) rotate() error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return err
	}
	var snapshots []string
	for _, e := range entries {
		if e.IsDir() {
			snapshots = append(snapshots, e.Name())
		}
	}
	if len(snapshots) <= s.retention {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(snapshots)
	for _, name := range snapshots[:len(snapshots)-s.retention] {
		if err := os.RemoveAll(filepath.Join(s.backupDir, name)); err != nil {
			return err
		}
		s.log.Debug().Str("snapshot", name).Msg("Old backup removed")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
