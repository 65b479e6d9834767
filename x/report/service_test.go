package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hotaru-sns/hotaru/core"
	"github.com/hotaru-sns/hotaru/internal/testutil"
	"github.com/hotaru-sns/hotaru/x/stream"
)

func TestCreatePublishesAfterInsert(t *testing.T) {

	var ctx = context.Background()

	db, cleanup_db := testutil.CreateDB()
	defer cleanup_db()

	rdb, cleanup_rdb := testutil.CreateRDB()
	defer cleanup_rdb()

	repo := NewRepository(db)
	service := NewService(repo, stream.NewService(rdb))

	pubsub := rdb.Subscribe(ctx, EventChannel)
	defer pubsub.Close()
	_, err := pubsub.Receive(ctx)
	assert.NoError(t, err)

	created, err := service.Create(ctx, core.AbuseReport{
		TargetUserID: "bob",
		ReporterID:   "alice",
		ReporterHost: "remote.example",
		Comment:      "spam",
	})
	if assert.NoError(t, err) {
		assert.NotEmpty(t, created.ID)
	}

	// the event must arrive, and only after the row is readable
	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := pubsub.ReceiveMessage(recvCtx)
	if assert.NoError(t, err) {
		var event core.AbuseReport
		assert.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, created.ID, event.ID)

		stored, err := repo.Get(ctx, event.ID)
		assert.NoError(t, err)
		assert.Equal(t, "spam", stored.Comment)
	}

	reports, err := repo.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, reports, 1)
}
