package account

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/internal/testutil"
	"github.com/hotaru-sns/hotaru/x/util"
)

type stubActorService struct {
	actors map[string]core.Actor
}

func (s *stubActorService) Get(ctx context.Context, id string) (core.Actor, error) {
	if actor, ok := s.actors[id]; ok {
		return actor, nil
	}
	return core.Actor{}, core.NewErrorNotFound()
}

func (s *stubActorService) GetByURI(ctx context.Context, uri string) (core.Actor, error) {
	for _, actor := range s.actors {
		if actor.URI == uri {
			return actor, nil
		}
	}
	return core.Actor{}, core.NewErrorNotFound()
}

func (s *stubActorService) GetByUsername(ctx context.Context, username string) (core.Actor, error) {
	return core.Actor{}, core.NewErrorNotFound()
}

func (s *stubActorService) ResolveOrFetch(ctx context.Context, uri string) (core.Actor, error) {
	return s.GetByURI(ctx, uri)
}

func (s *stubActorService) UpdateProfile(ctx context.Context, uri string, person *core.Document) (core.Actor, error) {
	return core.Actor{}, core.NewErrorNotFound()
}

func (s *stubActorService) ListModerators(ctx context.Context) ([]core.Actor, error) {
	return nil, nil
}

func TestImportLines(t *testing.T) {

	content := "https://remote.example/users/alice\n" +
		"\n" +
		"  https://remote.example/users/carol  \n" +
		"not a uri\n" +
		"ftp://remote.example/users/eve\n"

	assert.Equal(t, []string{
		"https://remote.example/users/alice",
		"https://remote.example/users/carol",
	}, importLines(content))
}

func TestExportAndImport(t *testing.T) {

	var ctx = context.Background()

	db, cleanup_db := testutil.CreateDB()
	defer cleanup_db()

	config := util.Config{}
	config.Federation.Host = "example.com"

	bob := core.Actor{ID: "bob", URI: "https://example.com/users/bob", Username: "bob"}
	carol := core.Actor{ID: "carol", URI: "https://example.com/users/carol", Username: "carol"}

	actors := &stubActorService{actors: map[string]core.Actor{"bob": bob, "carol": carol}}

	repo := NewRepository(db)
	service := NewService(repo, actors, nil, nil, config)

	db.Create(&core.Actor{ID: "bob", URI: bob.URI, Username: "bob"})
	db.Create(&core.Actor{ID: "carol", URI: carol.URI, Username: "carol"})
	db.Create(&core.Follow{ID: "f1", FollowerID: "bob", FolloweeID: "carol"})

	payload, _ := json.Marshal(JobPayload{UserID: "bob"})

	// the follow edge comes back as one line and lands in the drive
	result, err := service.ProcessExportFollowing(ctx, &core.Job{Payload: string(payload)})
	assert.NoError(t, err)
	assert.Equal(t, "exported 1 actors", result)

	files, err := repo.ListDriveFiles(ctx, "bob")
	if assert.NoError(t, err) && assert.Len(t, files, 1) {
		assert.Equal(t, "following.csv", files[0].Name)
		assert.Equal(t, carol.URI+"\n", files[0].Content)
	}

	// importing a local follow creates the edge directly
	importPayload, _ := json.Marshal(JobPayload{
		UserID:  "carol",
		Content: bob.URI + "\n",
	})
	result, err = service.ProcessImportFollowing(ctx, &core.Job{Payload: string(importPayload)})
	assert.NoError(t, err)
	assert.Equal(t, "requested 1 follows", result)

	var edgeCount int64
	db.Model(&core.Follow{}).Where("follower_id = ? AND followee_id = ?", "carol", "bob").Count(&edgeCount)
	assert.EqualValues(t, 1, edgeCount)

	// importing user lists groups members under the named list
	listPayload, _ := json.Marshal(JobPayload{
		UserID:  "bob",
		Content: "friends," + carol.URI + "\nfriends," + carol.URI + "\n",
	})
	result, err = service.ProcessImportUserLists(ctx, &core.Job{Payload: string(listPayload)})
	assert.NoError(t, err)
	assert.Equal(t, "imported 2 list entries", result)

	lists, err := repo.ListUserLists(ctx, "bob")
	if assert.NoError(t, err) && assert.Len(t, lists, 1) {
		members, err := repo.ListMembers(ctx, lists[0].ID)
		assert.NoError(t, err)
		assert.Len(t, members, 1) // duplicate membership collapses
	}

	// account deletion removes everything the actor owned
	deletePayload, _ := json.Marshal(JobPayload{UserID: "bob"})
	result, err = service.ProcessDeleteAccount(ctx, &core.Job{Payload: string(deletePayload)})
	assert.NoError(t, err)
	assert.Equal(t, "account deleted", result)

	var actorCount int64
	db.Model(&core.Actor{}).Where("id = ?", "bob").Count(&actorCount)
	assert.EqualValues(t, 0, actorCount)

	var fileCount int64
	db.Model(&core.DriveFile{}).Where("actor_id = ?", "bob").Count(&fileCount)
	assert.EqualValues(t, 0, fileCount)
}
