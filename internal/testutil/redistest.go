package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisTest returns a client for REDIS_URL, or for a throwaway container when
// TESTCONTAINERS=1, and skips the test otherwise. The database is flushed
// when the test ends.
func RedisTest(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		if os.Getenv("TESTCONTAINERS") != "1" {
			t.Skip("REDIS_URL not set, skipping integration test")
		}
		url = startRedis(t)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("redistest: parse url: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("redistest: ping: %v", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(ctx).Err()
		_ = client.Close()
	})
	return client
}

func startRedis(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("redistest: start redis container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("redistest: container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redistest: mapped port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}
