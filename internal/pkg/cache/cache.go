package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/ManuelReschke/GhostRelay/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the redis compatible cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetInt("CACHE_DB", 0),
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache: %v", err)
	} else {
		log.Infof("[Cache] Successfully connected: %s", pong)
	}
}

// SetClient replaces the shared client, used by tests and by callers that
// manage their own connection.
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// NewStorage returns a fiber storage backed by the cache server, using a
// separate database so keys never collide with the cache.
func NewStorage(database int) *redisstorage.Storage {
	host, port := "127.0.0.1", 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if opts := GetClient().Options(); opts != nil {
		if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
			host = h
			if parsed, err := strconv.Atoi(p); err == nil {
				port = parsed
			}
		}
		if opts.Password != "" {
			password = opts.Password
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: database,
		Reset:    false,
	})
}
