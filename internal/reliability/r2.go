package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// R2Config carries the Cloudflare R2 credentials and target bucket.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	Retention       int
}

// Enabled reports whether R2 backups are configured.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Bucket != ""
}

// R2BackupService archives a local snapshot into a checksummed tar.gz
// and uploads it to R2, keeping the newest N remote archives.
type R2BackupService struct {
	client   *s3.Client
	uploader *s3manager.Uploader
	cfg      R2Config
	local    *BackupService
	log      zerolog.Logger
}

// NewR2BackupService creates an R2 backup service against the account's
// S3-compatible endpoint.
func NewR2BackupService(ctx context.Context, cfg R2Config, local *BackupService, log zerolog.Logger) (*R2BackupService, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = 7
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to configure R2 client: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})
	return &R2BackupService{
		client:   client,
		uploader: s3manager.NewUploader(client),
		cfg:      cfg,
		local:    local,
		log:      log.With().Str("service", "r2_backup").Logger(),
	}, nil
}

// Backup takes a fresh local snapshot, archives it and uploads it.
func (s *R2BackupService) Backup(ctx context.Context) error {
	snapshotDir, err := s.local.Backup(ctx)
	if err != nil {
		return err
	}

	archivePath := snapshotDir + ".tar.gz"
	digest, err := buildArchive(snapshotDir, archivePath)
	if err != nil {
		return fmt.Errorf("failed to build backup archive: %w", err)
	}
	defer os.Remove(archivePath)

	key := s.remoteKey(filepath.Base(archivePath))
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open backup archive: %w", err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.cfg.Bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: map[string]string{"sha256": digest},
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup to R2: %w", err)
	}
	s.log.Info().Str("key", key).Str("sha256", digest).Msg("Backup uploaded to R2")

	if err := s.rotateRemote(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Remote backup rotation failed")
	}
	return nil
}

// remoteKey joins the configured prefix with the archive name.
func (s *R2BackupService) remoteKey(name string) string {
	if s.cfg.Prefix == "" {
		return name
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + name
}

// rotateRemote deletes the oldest remote archives beyond retention.
// Timestamped keys sort chronologically.
func (s *R2BackupService) rotateRemote(ctx context.Context) error {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix),
	})
	if err != nil {
		return err
	}

	var keys []string
	for _, obj := range out.Contents {
		if obj.Key != nil && strings.HasSuffix(*obj.Key, ".tar.gz") {
			keys = append(keys, *obj.Key)
		}
	}
	if len(keys) <= s.cfg.Retention {
		return nil
	}

	sort.Strings(keys)
	for _, key := range keys[:len(keys)-s.cfg.Retention] {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		s.log.Debug().Str("key", key).Msg("Old remote backup removed")
	}
	return nil
}

// buildArchive writes a tar.gz of the snapshot directory including a
// checksums.txt manifest, and returns the archive's own sha256.
func buildArchive(srcDir, dstPath string) (string, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return "", err
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	archiveHash := sha256.New()
	gw := gzip.NewWriter(io.MultiWriter(out, archiveHash))
	tw := tar.NewWriter(gw)

	var manifest strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(srcDir, e.Name())
		digest, err := fileSHA256(path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&manifest, "%s  %s\n", digest, e.Name())

		if err := addFile(tw, path, e.Name()); err != nil {
			return "", err
		}
	}

	manifestBytes := []byte(manifest.String())
	if err := tw.WriteHeader(&tar.Header{
		Name:    "checksums.txt",
		Mode:    0644,
		Size:    int64(len(manifestBytes)),
		ModTime: time.Now(),
	}); err != nil {
		return "", err
	}
	if _, err := tw.Write(manifestBytes); err != nil {
		return "", err
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", err
	}
	if err := out.Sync(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", archiveHash.Sum(nil)), nil
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
