// Package redistest starts a throwaway Redis container for integration tests.
package redistest

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Server is a running Redis container and a client connected to it.
type Server struct {
	Client    *redis.Client
	container testcontainers.Container
}

// Start launches redis:7-alpine. It returns an error (never panics) when
// Docker is not available so callers can skip.
func Start(ctx context.Context) (srv *Server, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("docker not available: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, err
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("container port: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Server{Client: client, container: c}, nil
}

// Close releases the client and the container.
func (s *Server) Close(ctx context.Context) {
	if s == nil {
		return
	}
	_ = s.Client.Close()
	_ = s.container.Terminate(ctx)
}
