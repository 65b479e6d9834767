package storage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("storage")

type Repository interface {
	GetFile(ctx context.Context, id string) (core.DriveFile, error)
	DeleteFile(ctx context.Context, id string) error
	ListCachedRemoteFiles(ctx context.Context, olderThan time.Time, limit int) ([]core.DriveFile, error)
	MarkAsLink(ctx context.Context, id string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) GetFile(ctx context.Context, id string) (core.DriveFile, error) {
	ctx, span := tracer.Start(ctx, "Storage.Repository.GetFile")
	defer span.End()

	var file core.DriveFile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	return file, err
}

func (r *repository) DeleteFile(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Storage.Repository.DeleteFile")
	defer span.End()

	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&core.DriveFile{}).Error
}

func (r *repository) ListCachedRemoteFiles(ctx context.Context, olderThan time.Time, limit int) ([]core.DriveFile, error) {
	ctx, span := tracer.Start(ctx, "Storage.Repository.ListCachedRemoteFiles")
	defer span.End()

	var files []core.DriveFile
	err := r.db.WithContext(ctx).
		Where("host <> '' AND is_link = ? AND c_date < ?", false, olderThan).
		Limit(limit).
		Find(&files).Error
	return files, err
}

// MarkAsLink drops the cached copy and keeps only the remote URL.
func (r *repository) MarkAsLink(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Storage.Repository.MarkAsLink")
	defer span.End()

	return r.db.WithContext(ctx).
		Model(&core.DriveFile{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_link": true, "content": "", "size": 0}).Error
}
