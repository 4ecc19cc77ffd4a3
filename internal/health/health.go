// Package health provides a registry of named dependency checks used by the
// readiness endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health of a single dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	// Optional dependencies report unhealthy without failing readiness.
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Checker checks the health of a dependency.
type Checker func(ctx context.Context) Status

// Pinger is satisfied by *sql.DB and thin wrappers around other clients.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingChecker builds a Checker around a Pinger.
func PingChecker(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	optional bool
	check    Checker
}

// NewRegistry creates a registry whose checks each get timeout to finish.
// A non-positive timeout defaults to two seconds.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a required checker.
func (r *Registry) Register(name string, check Checker) {
	r.add(namedChecker{name: name, check: check})
}

// RegisterOptional adds a checker whose failure is reported but does not
// make the registry unhealthy.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(namedChecker{name: name, optional: true, check: check})
}

func (r *Registry) add(nc namedChecker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, nc)
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently and returns the aggregate health
// plus the individual results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func(i int, nc namedChecker) {
			defer wg.Done()
			st := nc.check(ctx)
			if st.Name == "" {
				st.Name = nc.name
			}
			st.Optional = nc.optional
			statuses[i] = st
		}(i, nc)
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if !st.Healthy && !st.Optional {
			healthy = false
		}
	}
	return healthy, statuses
}
