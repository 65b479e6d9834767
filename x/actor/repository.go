package actor

import (
	"context"
	"encoding/json"

	"github.com/bradfitz/gomemcache/memcache"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("actor")

const cacheTTL = 300 // seconds

type Repository interface {
	Get(ctx context.Context, id string) (core.Actor, error)
	GetByURI(ctx context.Context, uri string) (core.Actor, error)
	GetByUsername(ctx context.Context, username string) (core.Actor, error)
	Upsert(ctx context.Context, actor core.Actor) (core.Actor, error)
	ListModerators(ctx context.Context) ([]core.Actor, error)
}

type repository struct {
	db *gorm.DB
	mc *memcache.Client
}

func NewRepository(db *gorm.DB, mc *memcache.Client) Repository {
	return &repository{db, mc}
}

func (r *repository) Get(ctx context.Context, id string) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Repository.Get")
	defer span.End()

	var actor core.Actor
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&actor).Error
	return actor, err
}

func (r *repository) GetByURI(ctx context.Context, uri string) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Repository.GetByURI")
	defer span.End()

	if item, err := r.mc.Get("actor:" + uri); err == nil {
		var cached core.Actor
		if json.Unmarshal(item.Value, &cached) == nil {
			return cached, nil
		}
	}

	var actor core.Actor
	err := r.db.WithContext(ctx).Where("uri = ?", uri).First(&actor).Error
	if err != nil {
		return core.Actor{}, err
	}

	if b, err := json.Marshal(actor); err == nil {
		r.mc.Set(&memcache.Item{Key: "actor:" + uri, Value: b, Expiration: cacheTTL})
	}

	return actor, nil
}

func (r *repository) GetByUsername(ctx context.Context, username string) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Repository.GetByUsername")
	defer span.End()

	var actor core.Actor
	err := r.db.WithContext(ctx).Where("username = ? AND host = ''", username).First(&actor).Error
	return actor, err
}

func (r *repository) Upsert(ctx context.Context, actor core.Actor) (core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Repository.Upsert")
	defer span.End()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "uri"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "host", "inbox", "shared_inbox", "name",
				"summary", "icon_url", "public_key_pem", "last_fetched",
			}),
		}).
		Create(&actor).Error
	if err != nil {
		span.RecordError(err)
		return core.Actor{}, err
	}

	r.mc.Delete("actor:" + actor.URI)

	return r.GetByURI(ctx, actor.URI)
}

func (r *repository) ListModerators(ctx context.Context) ([]core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Actor.Repository.ListModerators")
	defer span.End()

	var actors []core.Actor
	err := r.db.WithContext(ctx).
		Where("is_admin = true OR is_moderator = true").
		Find(&actors).Error
	return actors, err
}
