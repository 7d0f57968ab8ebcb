package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-plan/pkg/models"
	"github.com/Sriram-PR/crawl-plan/pkg/utils"
)

// FileStore keeps the plan as a single JSON document on disk
type FileStore struct {
	path string
	log  *logrus.Entry
}

// NewFileStore returns a store for the plan document at path
func NewFileStore(path string, logger *logrus.Entry) *FileStore {
	return &FileStore{path: path, log: logger.WithField("plan_file", path)}
}

// Path returns the plan document location
func (s *FileStore) Path() string { return s.path }

// Load implements PlanStore
func (s *FileStore) Load(ctx context.Context) (*models.CrawlPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no plan file at '%s'", utils.ErrPlanNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading plan '%s': %w", utils.ErrFilesystem, s.path, err)
	}

	plan, err := models.ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("plan '%s': %w", s.path, err)
	}
	s.log.Debugf("Loaded plan with %d pages", plan.Len())
	return plan, nil
}

// Save implements PlanStore
// The document goes to a temp file in the same directory, is fsynced, then renamed over the target
func (s *FileStore) Save(ctx context.Context, plan *models.CrawlPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := plan.Document()
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(s.path, data, 0644); err != nil {
		return err
	}
	s.log.Debugf("Saved plan with %d pages (%d bytes)", plan.Len(), len(data))
	return nil
}

// ExportJSON implements Exporter by copying the current document to filePath
func (s *FileStore) ExportJSON(ctx context.Context, filePath string) error {
	plan, err := s.Load(ctx)
	if err != nil {
		return err
	}
	data, err := plan.Document()
	if err != nil {
		return err
	}
	return WriteFileAtomic(filePath, data, 0644)
}

// Close implements PlanStore
func (s *FileStore) Close() error { return nil }

// WriteFileAtomic replaces path with data via a temp file and rename
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating directory '%s': %w", utils.ErrFilesystem, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: syncing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("%w: chmod '%s': %w", utils.ErrFilesystem, tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: replacing '%s': %w", utils.ErrFilesystem, path, err)
	}
	return nil
}
