// -----------------------------------------------------------------------
// Redis fan-out bridge - propagates job updates across service replicas
// -----------------------------------------------------------------------

package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courier/internal/common"
	"github.com/ternarybob/courier/internal/interfaces"
	"github.com/ternarybob/courier/internal/models"
)

// envelope wraps an update on the wire with the publishing instance id so a
// replica can skip its own messages (it already delivered them locally).
type envelope struct {
	Origin string           `json:"origin"`
	Update models.JobUpdate `json:"update"`
}

// RedisBridge wraps the local subscription registry's publisher with Redis
// pub/sub so updates ingested on one replica reach subscribers connected to
// another. With the bridge disabled (single replica) ingress publishes to the
// registry directly; the in-memory registry alone cannot span replicas.
type RedisBridge struct {
	local      interfaces.UpdatePublisher
	client     *redis.Client
	channel    string
	instanceID string
	logger     arbor.ILogger
	cancel     context.CancelFunc
}

// NewRedisBridge connects to Redis and starts the subscriber loop.
// instanceID identifies this replica; updates it published are not
// re-injected locally.
func NewRedisBridge(cfg common.RedisConfig, local interfaces.UpdatePublisher, instanceID string, logger arbor.ILogger) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		local:      local,
		client:     client,
		channel:    cfg.Channel,
		instanceID: instanceID,
		logger:     logger,
		cancel:     cancel,
	}

	go b.receive(ctx)

	logger.Info().
		Str("addr", cfg.Addr).
		Str("channel", cfg.Channel).
		Msg("Redis fan-out bridge connected")
	return b, nil
}

// Publish delivers the update to local subscribers and relays it to the
// other replicas. Redis failures degrade to local-only delivery; they never
// fail ingress.
func (b *RedisBridge) Publish(update models.JobUpdate) {
	b.local.Publish(update)

	data, err := json.Marshal(envelope{Origin: b.instanceID, Update: update})
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", update.JobID).Msg("Failed to encode update for relay")
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, data).Err(); err != nil {
		b.logger.Warn().Err(err).Str("job_id", update.JobID).Msg("Failed to relay update to redis")
	}
}

func (b *RedisBridge) receive(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn().Err(err).Msg("Redis subscription receive failed")
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Warn().Err(err).Msg("Malformed update relayed over redis")
			continue
		}
		if env.Origin == b.instanceID {
			continue
		}

		b.local.Publish(env.Update)
	}
}

// Close stops the subscriber loop and releases the connection.
func (b *RedisBridge) Close() error {
	b.cancel()
	return b.client.Close()
}
