package taskqueue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/newsfeed/config"
)

// New builds the backend selected by queue.backend.
func New(cfg config.QueueConfig, rdb *redis.Client) (Queue, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryQueue(cfg.Workers), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("queue backend redis needs a redis client")
		}
		return NewRedisQueue(rdb, RedisOptions{
			Stream:            cfg.Stream,
			Group:             cfg.Group,
			Workers:           cfg.Workers,
			ReadBatch:         cfg.ReadBatch,
			VisibilityTimeout: cfg.VisibilityTimeout,
		}), nil
	case "kafka":
		return NewKafkaQueue(KafkaOptions{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.Group,
			Workers: cfg.Workers,
		}), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
}
