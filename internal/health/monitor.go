// Package health runs periodic probes against the service's backing
// dependencies and caches the results for the readiness endpoint.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/mongo"
)

// Status is the cached outcome of the most recent probe of one
// dependency
type Status struct {
	Component    string    `json:"component"`
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	FailureCount int       `json:"failure_count"`
	Message      string    `json:"message,omitempty"`
}

// Check is a named probe of one backing dependency
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// RedisCheck probes a Redis connection
func RedisCheck(client *redis.Client) Check {
	return Check{
		Name: "redis",
		Probe: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// MongoCheck probes a MongoDB connection
func MongoCheck(client *mongo.Client) Check {
	return Check{
		Name: "mongodb",
		Probe: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
	}
}

// Monitor probes all registered checks on an interval and serves the
// latest snapshot without touching the dependencies on the read path
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	checks   []Check

	mu       sync.RWMutex
	statuses map[string]Status

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor for the given checks. Interval and
// timeout fall back to 30s and 5s.
func NewMonitor(interval, timeout time.Duration, checks ...Check) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		checks:   checks,
		statuses: make(map[string]Status),
		stopChan: make(chan struct{}),
	}
}

// Start runs an immediate probe round and then keeps probing on the
// interval until Stop is called.
func (m *Monitor) Start() {
	log.Println("[Health] Starting dependency monitor...")
	m.probeAll()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probeAll()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop halts the probe loop
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// Healthy reports whether every dependency passed its last probe
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, status := range m.statuses {
		if !status.Healthy {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the latest probe results keyed by
// component name
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		out[name] = status
	}
	return out
}

func (m *Monitor) probeAll() {
	for _, check := range m.checks {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		err := check.Probe(ctx)
		cancel()
		m.record(check.Name, err)
	}
}

func (m *Monitor) record(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.statuses[name]
	status.Component = name
	status.LastCheck = time.Now().UTC()
	if err != nil {
		status.Healthy = false
		status.FailureCount++
		status.Message = err.Error()
		log.Printf("[Health] Probe %s failed (%d in a row): %v", name, status.FailureCount, err)
	} else {
		if !status.Healthy && status.FailureCount > 0 {
			log.Printf("[Health] Probe %s recovered after %d failure(s)", name, status.FailureCount)
		}
		status.Healthy = true
		status.FailureCount = 0
		status.Message = ""
	}
	m.statuses[name] = status
}

// String summarizes the snapshot for logs
func (m *Monitor) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	healthy := 0
	for _, status := range m.statuses {
		if status.Healthy {
			healthy++
		}
	}
	return fmt.Sprintf("%d/%d dependencies healthy", healthy, len(m.statuses))
}
