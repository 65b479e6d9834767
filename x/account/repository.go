package account

import (
	"context"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("account")

type Repository interface {
	ListNotes(ctx context.Context, authorID string) ([]core.Note, error)
	ListFollowing(ctx context.Context, actorID string) ([]core.Actor, error)
	ListMuted(ctx context.Context, actorID string) ([]core.Actor, error)
	ListBlocked(ctx context.Context, actorID string) ([]core.Actor, error)

	ListUserLists(ctx context.Context, ownerID string) ([]core.UserList, error)
	ListMembers(ctx context.Context, listID string) ([]core.Actor, error)
	FindOrCreateUserList(ctx context.Context, ownerID, name string, id string) (core.UserList, error)
	AddListMember(ctx context.Context, member core.UserListMember) error

	CreateMuting(ctx context.Context, muting core.Muting) error
	CreateBlocking(ctx context.Context, blocking core.Blocking) error
	CreateFollow(ctx context.Context, follow core.Follow) error

	CreateDriveFile(ctx context.Context, file core.DriveFile) (core.DriveFile, error)
	ListDriveFiles(ctx context.Context, actorID string) ([]core.DriveFile, error)

	DeleteAccountData(ctx context.Context, actorID string) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) ListNotes(ctx context.Context, authorID string) ([]core.Note, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListNotes")
	defer span.End()

	var notes []core.Note
	err := r.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("c_date ASC").
		Find(&notes).Error
	return notes, err
}

func (r *repository) ListFollowing(ctx context.Context, actorID string) ([]core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListFollowing")
	defer span.End()

	var actors []core.Actor
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&core.Follow{}).Select("followee_id").Where("follower_id = ?", actorID)).
		Find(&actors).Error
	return actors, err
}

func (r *repository) ListMuted(ctx context.Context, actorID string) ([]core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListMuted")
	defer span.End()

	var actors []core.Actor
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&core.Muting{}).Select("mutee_id").Where("muter_id = ?", actorID)).
		Find(&actors).Error
	return actors, err
}

func (r *repository) ListBlocked(ctx context.Context, actorID string) ([]core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListBlocked")
	defer span.End()

	var actors []core.Actor
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&core.Blocking{}).Select("blockee_id").Where("blocker_id = ?", actorID)).
		Find(&actors).Error
	return actors, err
}

func (r *repository) ListUserLists(ctx context.Context, ownerID string) ([]core.UserList, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListUserLists")
	defer span.End()

	var lists []core.UserList
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&lists).Error
	return lists, err
}

func (r *repository) ListMembers(ctx context.Context, listID string) ([]core.Actor, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListMembers")
	defer span.End()

	var actors []core.Actor
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&core.UserListMember{}).Select("member_id").Where("list_id = ?", listID)).
		Find(&actors).Error
	return actors, err
}

func (r *repository) FindOrCreateUserList(ctx context.Context, ownerID, name string, id string) (core.UserList, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.FindOrCreateUserList")
	defer span.End()

	var list core.UserList
	err := r.db.WithContext(ctx).
		Where(core.UserList{OwnerID: ownerID, Name: name}).
		Attrs(core.UserList{ID: id}).
		FirstOrCreate(&list).Error
	return list, err
}

func (r *repository) AddListMember(ctx context.Context, member core.UserListMember) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.AddListMember")
	defer span.End()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "list_id"}, {Name: "member_id"}},
			DoNothing: true,
		}).
		Create(&member).Error
}

func (r *repository) CreateMuting(ctx context.Context, muting core.Muting) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.CreateMuting")
	defer span.End()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "muter_id"}, {Name: "mutee_id"}},
			DoNothing: true,
		}).
		Create(&muting).Error
}

func (r *repository) CreateBlocking(ctx context.Context, blocking core.Blocking) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.CreateBlocking")
	defer span.End()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blocker_id"}, {Name: "blockee_id"}},
			DoNothing: true,
		}).
		Create(&blocking).Error
}

func (r *repository) CreateFollow(ctx context.Context, follow core.Follow) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.CreateFollow")
	defer span.End()

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "follower_id"}, {Name: "followee_id"}},
			DoNothing: true,
		}).
		Create(&follow).Error
}

func (r *repository) CreateDriveFile(ctx context.Context, file core.DriveFile) (core.DriveFile, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.CreateDriveFile")
	defer span.End()

	err := r.db.WithContext(ctx).Create(&file).Error
	if err != nil {
		span.RecordError(err)
		return core.DriveFile{}, err
	}
	return file, nil
}

func (r *repository) ListDriveFiles(ctx context.Context, actorID string) ([]core.DriveFile, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.ListDriveFiles")
	defer span.End()

	var files []core.DriveFile
	err := r.db.WithContext(ctx).Where("actor_id = ?", actorID).Find(&files).Error
	return files, err
}

// DeleteAccountData removes every row the actor owns, then the actor
// itself. One transaction so a crash cannot leave a half-deleted
// account behind.
func (r *repository) DeleteAccountData(ctx context.Context, actorID string) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.DeleteAccountData")
	defer span.End()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("author_id = ?", actorID).Delete(&core.Note{}).Error; err != nil {
			return err
		}
		if err := tx.Where("follower_id = ? OR followee_id = ?", actorID, actorID).Delete(&core.Follow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("actor_id = ?", actorID).Delete(&core.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("blocker_id = ? OR blockee_id = ?", actorID, actorID).Delete(&core.Blocking{}).Error; err != nil {
			return err
		}
		if err := tx.Where("muter_id = ? OR mutee_id = ?", actorID, actorID).Delete(&core.Muting{}).Error; err != nil {
			return err
		}
		if err := tx.Where("member_id = ?", actorID).Delete(&core.UserListMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("list_id IN (?)", tx.Model(&core.UserList{}).Select("id").Where("owner_id = ?", actorID)).
			Delete(&core.UserListMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", actorID).Delete(&core.UserList{}).Error; err != nil {
			return err
		}
		if err := tx.Where("actor_id = ?", actorID).Delete(&core.DriveFile{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", actorID).Delete(&core.Actor{}).Error
	})
}
