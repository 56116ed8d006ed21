package events

import (
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Config selects and configures a publisher driver.
type Config struct {
	Driver string
	Kafka  KafkaConfig
	AMQP   AMQPConfig
	// RedisStream names the stream used by the redis driver.
	RedisStream string
	RedisMaxLen int64
}

// New builds the publisher named by cfg.Driver. The redis driver publishes
// through redisClient, which stays owned by the caller.
func New(cfg Config, redisClient redis.UniversalClient) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return NoopPublisher{}, nil
	case "memory":
		return NewMemoryPublisher(), nil
	case "kafka":
		publisher, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	case "amqp", "rabbitmq":
		publisher, err := NewAMQPPublisher(cfg.AMQP)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis events driver requires redis-addr")
		}
		publisher, err := NewRedisStreamPublisher(redisClient, cfg.RedisStream, cfg.RedisMaxLen, false)
		if err != nil {
			return nil, err
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Driver)
	}
}
