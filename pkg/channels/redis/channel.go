// Package redis creates the Redis client used by the Redis event bus.
package redis

import (
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

const DefaultAddr = "localhost:6379"

type Config struct {
	Addr     string
	Password string
	DB       string
}

// CreateClient returns a client for cfg. No connection is made until the
// first command.
func CreateClient(cfg Config) (*redis.Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	db := 0

	if cfg.DB != "" {
		var err error
		if db, err = strconv.Atoi(cfg.DB); err != nil {
			return nil, fmt.Errorf("invalid db value: %w", err)
		}
	}

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       db,
	}), nil
}
