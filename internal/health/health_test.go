package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry(0)
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", PingChecker("database", fakePinger{}))
	r.Register("redis", func(_ context.Context) Status {
		return Status{Name: "redis", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "database" || statuses[1].Name != "redis" {
		t.Fatalf("statuses out of registration order: %+v", statuses)
	}
}

func TestRegistryRequiredUnhealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", PingChecker("database", fakePinger{err: errors.New("connection refused")}))

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with failing required check should report unhealthy")
	}
	if statuses[0].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[0].Detail)
	}
}

func TestRegistryOptionalUnhealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", PingChecker("database", fakePinger{}))
	r.RegisterOptional("oracle", func(_ context.Context) Status {
		return Status{Healthy: false, Detail: "model not loaded"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("optional failure must not fail the registry")
	}
	if statuses[1].Name != "oracle" || !statuses[1].Optional {
		t.Fatalf("expected named optional status, got %+v", statuses[1])
	}
}

func TestRegistryChecksHonorTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Healthy: false, Detail: ctx.Err().Error()}
	})

	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed-out check should be unhealthy")
	}
	if time.Since(start) > time.Second {
		t.Fatal("CheckAll did not respect the registry timeout")
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry(time.Second)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Healthy: true}
			})
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
