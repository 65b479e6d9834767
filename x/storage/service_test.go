package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/internal/testutil"
)

func TestService(t *testing.T) {

	var ctx = context.Background()

	db, cleanup_db := testutil.CreateDB()
	defer cleanup_db()

	service := NewService(NewRepository(db))

	stale := time.Now().Add(-30 * 24 * time.Hour)
	db.Create(&core.DriveFile{ID: "local1", ActorID: "bob", Name: "notes.json", Content: "[]", CDate: time.Now()})
	db.Create(&core.DriveFile{ID: "remote-old", ActorID: "alice", Host: "remote.example", Content: "blob", Size: 4, CDate: stale})
	db.Create(&core.DriveFile{ID: "remote-new", ActorID: "alice", Host: "remote.example", Content: "blob", Size: 4, CDate: time.Now()})

	// only stale remote caches are demoted to links
	result, err := service.ProcessCleanRemoteFiles(ctx, &core.Job{Payload: "{}"})
	assert.NoError(t, err)
	assert.Equal(t, "cleaned 1 remote files", result)

	var file core.DriveFile
	db.First(&file, "id = ?", "remote-old")
	assert.True(t, file.IsLink)
	assert.Empty(t, file.Content)

	db.First(&file, "id = ?", "remote-new")
	assert.False(t, file.IsLink)

	db.First(&file, "id = ?", "local1")
	assert.False(t, file.IsLink)

	// file deletion is idempotent
	result, err = service.ProcessDeleteFile(ctx, &core.Job{Payload: `{"fileId":"local1"}`})
	assert.NoError(t, err)
	assert.Equal(t, "file deleted", result)

	result, err = service.ProcessDeleteFile(ctx, &core.Job{Payload: `{"fileId":"local1"}`})
	assert.NoError(t, err)
	assert.Equal(t, "file already deleted", result)
}
