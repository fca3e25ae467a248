//go:build integration

// Package tests hosts the alertmerge integration suite, adapted from the
// storage package's testcontainers helper.
package tests

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer wraps a disposable Redis instance for the alert-dedup
// table's integration tests.
type RedisContainer struct {
	Container testcontainers.Container
	Addr      string
	ctx       context.Context
	client    *redis.Client
}

// NewRedisContainer starts a Redis 7 container with persistence disabled.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		Cmd:          []string{"redis-server", "--save", "", "--appendonly", "no"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections").WithOccurrence(1),
			wait.ForListeningPort("6379/tcp"),
		).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Redis host: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "6379")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Redis port: %w", err)
	}

	port, err := strconv.Atoi(mappedPort.Port())
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to convert Redis port: %w", err)
	}

	rc := &RedisContainer{
		Container: container,
		Addr:      fmt.Sprintf("%s:%d", host, port),
		ctx:       ctx,
	}
	rc.client = redis.NewClient(&redis.Options{Addr: rc.Addr})

	if _, err := rc.client.Ping(ctx).Result(); err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return rc, nil
}

// Client returns the plain Redis client for the container.
func (rc *RedisContainer) Client() *redis.Client {
	return rc.client
}

// Cleanup tears the container down.
func (rc *RedisContainer) Cleanup() error {
	if rc.client != nil {
		rc.client.Close()
	}
	if rc.Container != nil {
		return rc.Container.Terminate(rc.ctx)
	}
	return nil
}
