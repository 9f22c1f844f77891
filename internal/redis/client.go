package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/controlled-anonymity/client-go/internal/config"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.RedisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// IdentityKey namespaces the device identifier key so several profiles can share one server.
func IdentityKey(profile string) string {
	if profile == "" {
		return fmt.Sprintf("identity:%s", config.IdentityStorageKey)
	}
	return fmt.Sprintf("identity:%s:%s", profile, config.IdentityStorageKey)
}
