package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "video:"
	publishTimeout = 5 * time.Second
)

// RedisPubSub fans status events out across server and worker instances.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for video events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// Channel returns the Redis channel for a video.
func Channel(videoID uuid.UUID) string {
	return channelPrefix + videoID.String()
}

// Publish sends ev to the video's channel. Delivery is best effort.
func (r *RedisPubSub) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, Channel(ev.VideoID), body).Err(); err != nil {
		r.logger.Warn("publish video event failed", zap.String("video_id", ev.VideoID.String()), zap.Error(err))
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe calls handler for every event on the video's channel until ctx is done.
// It returns once the subscription is confirmed.
func (r *RedisPubSub) Subscribe(ctx context.Context, videoID uuid.UUID, handler func(Event)) error {
	pubsub := r.client.Subscribe(ctx, Channel(videoID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Debug("dropping malformed event", zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return nil
}
