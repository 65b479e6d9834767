package kernel

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("kernel")

type Repository interface {
	GetFollowByURI(ctx context.Context, uri string) (core.Follow, error)
	CreateFollow(ctx context.Context, follow core.Follow) (core.Follow, error)
	RemoveFollowByURI(ctx context.Context, uri string) error
	RemoveFollowEdge(ctx context.Context, followerID, followeeID string) error

	CreateBlocking(ctx context.Context, blocking core.Blocking) (core.Blocking, error)
	RemoveBlockingEdge(ctx context.Context, blockerID, blockeeID string) error

	GetNoteByURI(ctx context.Context, uri string) (core.Note, error)
	CreateNote(ctx context.Context, note core.Note) (core.Note, error)
	UpdateNote(ctx context.Context, note core.Note) error
	DeleteNoteByURI(ctx context.Context, uri string) error
	SetNoteFeatured(ctx context.Context, uri string, featured bool) error

	CreateReaction(ctx context.Context, reaction core.Reaction) (core.Reaction, error)
	RemoveReactionByURI(ctx context.Context, uri string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) GetFollowByURI(ctx context.Context, uri string) (core.Follow, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.GetFollowByURI")
	defer span.End()

	var follow core.Follow
	err := r.db.WithContext(ctx).Where("uri = ?", uri).First(&follow).Error
	return follow, err
}

// CreateFollow is idempotent on the edge: a duplicate Follow delivery
// collapses into the existing row.
func (r *repository) CreateFollow(ctx context.Context, follow core.Follow) (core.Follow, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.CreateFollow")
	defer span.End()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "follower_id"}, {Name: "followee_id"}},
			DoNothing: true,
		}).
		Create(&follow).Error
	if err != nil {
		span.RecordError(err)
		return core.Follow{}, err
	}

	return follow, nil
}

func (r *repository) RemoveFollowByURI(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.RemoveFollowByURI")
	defer span.End()

	return r.db.WithContext(ctx).Where("uri = ?", uri).Delete(&core.Follow{}).Error
}

func (r *repository) RemoveFollowEdge(ctx context.Context, followerID, followeeID string) error {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.RemoveFollowEdge")
	defer span.End()

	return r.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&core.Follow{}).Error
}

func (r *repository) CreateBlocking(ctx context.Context, blocking core.Blocking) (core.Blocking, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.CreateBlocking")
	defer span.End()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blocker_id"}, {Name: "blockee_id"}},
			DoNothing: true,
		}).
		Create(&blocking).Error
	if err != nil {
		span.RecordError(err)
		return core.Blocking{}, err
	}

	return blocking, nil
}

func (r *repository) RemoveBlockingEdge(ctx context.Context, blockerID, blockeeID string) error {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.RemoveBlockingEdge")
	defer span.End()

	return r.db.WithContext(ctx).
		Where("blocker_id = ? AND blockee_id = ?", blockerID, blockeeID).
		Delete(&core.Blocking{}).Error
}

func (r *repository) GetNoteByURI(ctx context.Context, uri string) (core.Note, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.GetNoteByURI")
	defer span.End()

	var note core.Note
	err := r.db.WithContext(ctx).Where("uri = ?", uri).First(&note).Error
	return note, err
}

func (r *repository) CreateNote(ctx context.Context, note core.Note) (core.Note, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.CreateNote")
	defer span.End()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uri"}},
			DoNothing: true,
		}).
		Create(&note).Error
	if err != nil {
		span.RecordError(err)
		return core.Note{}, err
	}

	return note, nil
}

func (r *repository) UpdateNote(ctx context.Context, note core.Note) error {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.UpdateNote")
	defer span.End()

	return r.db.WithContext(ctx).Save(&note).Error
}

func (r *repository) DeleteNoteByURI(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.DeleteNoteByURI")
	defer span.End()

	return r.db.WithContext(ctx).Where("uri = ?", uri).Delete(&core.Note{}).Error
}

func (r *repository) SetNoteFeatured(ctx context.Context, uri string, featured bool) error {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.SetNoteFeatured")
	defer span.End()

	return r.db.WithContext(ctx).
		Model(&core.Note{}).
		Where("uri = ?", uri).
		Update("featured", featured).Error
}

func (r *repository) CreateReaction(ctx context.Context, reaction core.Reaction) (core.Reaction, error) {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.CreateReaction")
	defer span.End()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "note_id"}},
			DoNothing: true,
		}).
		Create(&reaction).Error
	if err != nil {
		span.RecordError(err)
		return core.Reaction{}, err
	}

	return reaction, nil
}

func (r *repository) RemoveReactionByURI(ctx context.Context, uri string) error {
	ctx, span := tracer.Start(ctx, "Kernel.Repository.RemoveReactionByURI")
	defer span.End()

	return r.db.WithContext(ctx).Where("uri = ?", uri).Delete(&core.Reaction{}).Error
}
