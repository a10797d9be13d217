// Package reliability handles database backups to an S3-compatible store.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaoq/stockwatch/internal/database"
)

const archivePrefix = "stockwatch-backup-"

// BackupService creates verified database snapshots and ships them to the
// configured object store.
type BackupService struct {
	db            *database.DB
	s3            *S3Client
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// BackupMetadata describes the contents of a backup archive.
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo represents a backup stored in the bucket.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// NewBackupService creates a backup service. dataDir is used for staging and
// must be writable.
func NewBackupService(db *database.DB, s3 *S3Client, dataDir string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:            db,
		s3:            s3,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("component", "backup").Logger(),
	}
}

// CreateAndUpload snapshots the database, archives it and uploads the
// archive. The staging directory is removed afterwards.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	dbCopy := filepath.Join(stagingDir, "stockwatch.db")
	if err := s.snapshotDatabase(dbCopy); err != nil {
		return err
	}
	if err := s.verifyBackup(dbCopy); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	info, err := os.Stat(dbCopy)
	if err != nil {
		return fmt.Errorf("failed to stat database copy: %w", err)
	}
	checksum, err := fileChecksum(dbCopy)
	if err != nil {
		return fmt.Errorf("failed to checksum database copy: %w", err)
	}

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
		Filename:  "stockwatch.db",
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := archivePrefix + time.Now().Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, []string{dbCopy, metadataPath}); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.s3.Upload(ctx, archiveName, archiveFile); err != nil {
		return err
	}

	archiveInfo, statErr := os.Stat(archivePath)
	sizeMB := int64(0)
	if statErr == nil {
		sizeMB = archiveInfo.Size() / 1024 / 1024
	}
	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_mb", sizeMB).
		Msg("Backup completed successfully")

	return nil
}

// ListBackups lists all archives in the bucket, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.s3.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		filename := *obj.Key
		if !strings.HasPrefix(filename, archivePrefix) || !strings.HasSuffix(filename, ".tar.gz") {
			continue
		}

		timestampStr := strings.TrimPrefix(filename, archivePrefix)
		timestampStr = strings.TrimSuffix(timestampStr, ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", timestampStr)
		if err != nil {
			s.log.Warn().Str("filename", filename).Msg("Failed to parse timestamp from filename")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		backups = append(backups, BackupInfo{
			Filename:  filename,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// RotateOldBackups deletes archives older than the retention period.
// A minimum of 3 backups is kept regardless of age; retention 0 keeps
// everything beyond the minimum.
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	const minBackupsToKeep = 3
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	var cutoff time.Time
	if s.retentionDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -s.retentionDays)
	}

	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || s.retentionDays == 0 {
			continue
		}
		if backup.Timestamp.Before(cutoff) {
			if err := s.s3.Delete(ctx, backup.Filename); err != nil {
				s.log.Error().Err(err).Str("filename", backup.Filename).Msg("Failed to delete old backup")
				continue
			}
			s.log.Info().Str("filename", backup.Filename).Msg("Deleted old backup")
			deleted++
		}
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")

	return nil
}

// snapshotDatabase copies the live database with VACUUM INTO. The copy is
// atomic and carries no WAL sidecar files.
func (s *BackupService) snapshotDatabase(destPath string) error {
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	return nil
}

// verifyBackup opens the copy and runs an integrity check.
func (s *BackupService) verifyBackup(backupPath string) error {
	backupDB, err := sql.Open("sqlite", backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer backupDB.Close()

	var result string
	if err := backupDB.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

func createArchive(archivePath string, files []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, path := range files {
		if err := addFileToArchive(tarWriter, path, filepath.Base(path)); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}

// BackupJob wraps BackupService for the scheduler.
type BackupJob struct {
	service *BackupService
	timeout time.Duration
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service, timeout: 15 * time.Minute}
}

// Name implements the scheduler Job interface.
func (j *BackupJob) Name() string { return "database_backup" }

// Run implements the scheduler Job interface.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.service.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.service.RotateOldBackups(ctx)
}
