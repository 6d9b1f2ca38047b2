// Package firmware keeps device firmware binaries in object storage.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"nutribin-backend/internal/apperr"
	"nutribin-backend/internal/model"
	"nutribin-backend/internal/objstore"
)

var (
	versionRe  = regexp.MustCompile(`^v?\d+(\.\d+){0,3}([-+][0-9A-Za-z.-]+)?$`)
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Release is a firmware release with an optional download URL.
type Release struct {
	model.FirmwareRelease
	DownloadURL string `json:"download_url,omitempty"`
}

// Service manages firmware releases.
type Service struct {
	db        *gorm.DB
	store     objstore.Store
	bucket    string
	signedTTL time.Duration
	log       *zap.Logger
}

// NewService creates a firmware service. store may be nil when object
// storage is not configured; uploads then fail.
func NewService(db *gorm.DB, store objstore.Store, bucket string, signedTTL time.Duration, log *zap.Logger) *Service {
	return &Service{db: db, store: store, bucket: bucket, signedTTL: signedTTL, log: log}
}

// Upload stores the binary and records the release.
func (s *Service) Upload(ctx context.Context, version, notes, filename string, size int64, body io.Reader) (*model.FirmwareRelease, error) {
	version = strings.TrimSpace(version)
	if !versionRe.MatchString(version) {
		return nil, apperr.BadRequest("version must look like 1.2.3")
	}
	if s.store == nil {
		return nil, objstore.ErrNotConfigured
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&model.FirmwareRelease{}).Where("version = ?", version).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, apperr.Conflict("Firmware version already exists")
	}

	name := unsafeName.ReplaceAllString(path.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "firmware.bin"
	}
	key := fmt.Sprintf("firmware/%s/%s", version, name)
	if err := s.store.Put(ctx, s.bucket, key, "application/octet-stream", body); err != nil {
		return nil, err
	}

	rel := model.FirmwareRelease{Version: version, ObjectKey: key, Notes: strings.TrimSpace(notes), SizeBytes: size}
	if err := s.db.WithContext(ctx).Create(&rel).Error; err != nil {
		if derr := s.store.Delete(ctx, s.bucket, key); derr != nil {
			s.log.Warn("failed to remove orphaned firmware object", zap.String("key", key), zap.Error(derr))
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("Firmware version already exists")
		}
		return nil, err
	}
	s.log.Info("firmware uploaded", zap.String("version", version), zap.Int64("size_bytes", size))
	return &rel, nil
}

// List returns all releases, newest first.
func (s *Service) List(ctx context.Context) ([]model.FirmwareRelease, error) {
	var out []model.FirmwareRelease
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the newest release with a time-limited download URL.
func (s *Service) Latest(ctx context.Context) (*Release, error) {
	var rel model.FirmwareRelease
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").First(&rel).Error; err != nil {
		return nil, apperr.FromDB(err, "No firmware released yet")
	}
	out := &Release{FirmwareRelease: rel}
	if s.store != nil {
		url, err := s.store.SignedURL(ctx, s.bucket, rel.ObjectKey, s.signedTTL)
		if err != nil {
			return nil, err
		}
		out.DownloadURL = url
	}
	return out, nil
}
