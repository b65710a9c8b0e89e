package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/contavoz/internal/ports"
)

// Status of one dependency or of the engine as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthResponse answers the liveness probe.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse answers the readiness probe with per-dependency detail.
type ReadyResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker probes one dependency.
type Checker func(ctx context.Context) CheckResult

// checkTimeout bounds every probe; a hung dependency must not hang the
// readiness endpoint.
const checkTimeout = 5 * time.Second

// Service aggregates the voice engine's dependency probes. Only the ledger
// database is fatal to readiness: sessions still run with the cache, the
// event bus or the AI upstream down, so those probes report Degraded.
type Service struct {
	version   string
	startTime time.Time
	log       *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewService(version string, log *zap.Logger) *Service {
	return &Service{
		version:   version,
		startTime: time.Now(),
		checkers:  make(map[string]Checker),
		log:       log,
	}
}

// RegisterChecker adds or replaces a named probe.
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
	s.log.Info("Registered health checker", zap.String("name", name))
}

// Health is the liveness answer: the process is up and knows its version.
func (s *Service) Health(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Version:   s.version,
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now(),
	}
}

// Ready runs every probe concurrently and aggregates. Any Unhealthy
// dependency fails readiness; Degraded keeps the engine ready but is
// surfaced in the overall status.
func (s *Service) Ready(ctx context.Context) *ReadyResponse {
	s.mu.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			res := checker(probeCtx)

			resultsMu.Lock()
			results[name] = res
			resultsMu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	ready := true
	for _, res := range results {
		switch res.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
			ready = false
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return &ReadyResponse{
		Ready:     ready,
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// finish stamps the shared bookkeeping of a completed probe.
func finish(name string, start time.Time, err error) CheckResult {
	res := CheckResult{
		Name:      name,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	} else {
		res.Status = StatusHealthy
		res.Message = "connection ok"
	}
	return res
}

// DatabaseChecker probes the ledger database. The ledger is the source of
// truth; losing it fails readiness.
func DatabaseChecker(db *sql.DB) Checker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		if db == nil {
			return finish("database", start, fmt.Errorf("database not configured"))
		}
		return finish("database", start, db.PingContext(ctx))
	}
}

// CacheChecker probes the learned-intent cache. Lookups fall through to the
// store on a miss, so a dead cache costs latency, not correctness.
func CacheChecker(c ports.Cache) Checker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		res := finish("cache", start, c.Ping())
		if res.Status == StatusUnhealthy {
			res.Status = StatusDegraded
		}
		return res
	}
}

// Pinger is the connection probe the queue adapters expose.
type Pinger interface {
	Ping() error
}

// QueueChecker probes the event bus. Session and ledger events are
// best-effort, so a dead bus degrades the engine without failing it.
func QueueChecker(p Pinger) Checker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		res := finish("queue", start, p.Ping())
		if res.Status == StatusUnhealthy {
			res.Status = StatusDegraded
		}
		return res
	}
}

// Availability is the AI client's circuit breaker view.
type Availability interface {
	Available() bool
}

// BreakerChecker reports the AI upstream through its breaker. While the
// breaker is open, recognition runs on the local layers only.
func BreakerChecker(a Availability) Checker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		res := CheckResult{Name: "ai", Timestamp: time.Now()}
		if a.Available() {
			res.Status = StatusHealthy
			res.Message = "breaker closed"
		} else {
			res.Status = StatusDegraded
			res.Message = "breaker open, llm fallback suspended"
		}
		res.Duration = time.Since(start)
		return res
	}
}
