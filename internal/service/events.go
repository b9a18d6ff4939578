package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisEventQueue pushes monitoring events onto the Redis list drained
// by the persistence worker. RPush keeps arrival order.
type RedisEventQueue struct {
	rdb *redis.Client
}

// NewRedisEventQueue creates a new RedisEventQueue.
func NewRedisEventQueue(rdb *redis.Client) *RedisEventQueue {
	return &RedisEventQueue{rdb: rdb}
}

func (q *RedisEventQueue) Enqueue(ctx context.Context, payload []byte) error {
	return q.rdb.RPush(ctx, config.WorkerKey.MonitoringEventsQueue, payload).Err()
}

// RedisBroadcaster publishes monitor events on the exam's Pub/Sub
// channel. Delivery is fire-and-forget; SSE subscribers that miss a
// message catch up on their next periodic refresh.
type RedisBroadcaster struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisBroadcaster creates a new RedisBroadcaster.
func NewRedisBroadcaster(rdb *redis.Client, log zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		rdb: rdb,
		log: log.With().Str("component", "broadcaster").Logger(),
	}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, examID uuid.UUID, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error().Err(err).Msg("Failed to marshal monitor event")
		return
	}
	channel := config.CacheKey.ExamMonitorChannel(examID.String())
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("Monitor broadcast failed")
	}
}
