package gateway

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("gateway")

type Repository interface {
	GetNote(ctx context.Context, id string) (core.Note, error)
	CountNotesByAuthor(ctx context.Context, authorID string) (int64, error)
	GetFeaturedNotes(ctx context.Context, authorID string) ([]core.Note, error)

	CountFollowers(ctx context.Context, actorID string) (int64, error)
	CountFollowing(ctx context.Context, actorID string) (int64, error)

	GetReaction(ctx context.Context, id string) (core.Reaction, error)
	GetLocalEmoji(ctx context.Context, name string) (core.Emoji, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) GetNote(ctx context.Context, id string) (core.Note, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Repository.GetNote")
	defer span.End()

	var note core.Note
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&note).Error
	return note, err
}

func (r *repository) CountNotesByAuthor(ctx context.Context, authorID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Repository.CountNotesByAuthor")
	defer span.End()

	var count int64
	err := r.db.WithContext(ctx).Model(&core.Note{}).Where("author_id = ?", authorID).Count(&count).Error
	return count, err
}

func (r *repository) GetFeaturedNotes(ctx context.Context, authorID string) ([]core.Note, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Repository.GetFeaturedNotes")
	defer span.End()

	var notes []core.Note
	err := r.db.WithContext(ctx).
		Where("author_id = ? AND featured = ?", authorID, true).
		Order("c_date DESC").
		Limit(20).
		Find(&notes).Error
	return notes, err
}

func (r *repository) CountFollowers(ctx context.Context, actorID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Repository.CountFollowers")
	defer span.End()

	var count int64
	err := r.db.WithContext(ctx).Model(&core.Follow{}).Where("followee_id = ?", actorID).Count(&count).Error
	return count, err
}

func (r *repository) CountFollowing(ctx context.Context, actorID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Repository.CountFollowing")
	defer span.End()

	var count int64
	err := r.db.WithContext(ctx).Model(&core.Follow{}).Where("follower_id = ?", actorID).Count(&count).Error
	return count, err
}

func (r *repository) GetReaction(ctx context.Context, id string) (core.Reaction, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Repository.GetReaction")
	defer span.End()

	var reaction core.Reaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&reaction).Error
	return reaction, err
}

func (r *repository) GetLocalEmoji(ctx context.Context, name string) (core.Emoji, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Repository.GetLocalEmoji")
	defer span.End()

	var emoji core.Emoji
	err := r.db.WithContext(ctx).Where("name = ? AND host = ''", name).First(&emoji).Error
	return emoji, err
}
