// Package stream publishes server events to the realtime fan-out
// collaborator over redis pubsub. The core only produces; connected
// clients are someone else's problem.
package stream

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/hotaru-sns/hotaru/core"
)

var tracer = otel.Tracer("stream")

// Well-known channels.
const (
	ChannelAdmin     = "adminStream"
	ChannelBroadcast = "broadcast"
)

type service struct {
	rdb *redis.Client
}

func NewService(rdb *redis.Client) core.Publisher {
	return &service{rdb}
}

func (s *service) Publish(ctx context.Context, channel string, payload any) error {
	ctx, span := tracer.Start(ctx, "Stream.Service.Publish")
	defer span.End()

	message, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		return err
	}

	return s.rdb.Publish(ctx, channel, message).Err()
}
