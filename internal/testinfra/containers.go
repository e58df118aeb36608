// Package testinfra starts throwaway Postgres and Redis containers for
// integration tests. Every helper skips the test under -short.
package testinfra

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/redis"
)

const (
	pgUser     = "canon"
	pgPassword = "canon"
	pgName     = "canon"
)

// start runs req and registers its termination on t.
func start(t *testing.T, req testcontainers.ContainerRequest, port string) (string, int) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate %s: %v", req.Image, err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get %s host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get %s port: %v", req.Image, err)
	}
	return host, mapped.Int()
}

// Postgres starts postgres:15-alpine and returns a config pointing at it.
func Postgres(t *testing.T) database.Config {
	t.Helper()
	host, port := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       pgName,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")

	return database.Config{
		Host:     host,
		Port:     port,
		User:     pgUser,
		Password: pgPassword,
		Name:     pgName,
		SSLMode:  "disable",
	}
}

// Redis starts redis:7-alpine and returns a config pointing at it.
func Redis(t *testing.T) redis.Config {
	t.Helper()
	host, port := start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}, "6379")

	return redis.Config{Host: host, Port: port}
}
