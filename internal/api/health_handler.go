package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/poi-importer/internal/pkg/httputil"
	"github.com/ignite/poi-importer/internal/queue"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Check probes one dependency. Returning an error wrapping ErrDegraded marks
// the component degraded instead of down.
type Check func(ctx context.Context) error

// ErrDegraded marks a check result as degraded rather than down.
var ErrDegraded = errors.New("degraded")

type component struct {
	name     string
	critical bool
	check    Check
}

// HealthChecker runs the registered dependency checks (store, broker, queue
// backlog). Register everything before serving.
type HealthChecker struct {
	components  []component
	timeout     time.Duration
	slowLatency time.Duration
	startTime   time.Time
}

// NewHealthChecker creates a HealthChecker with no components.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		timeout:     3 * time.Second,
		slowLatency: time.Second,
		startTime:   time.Now(),
	}
}

// Register adds a component. A critical component that is down makes the
// service unhealthy; a nil check reports "not configured".
func (hc *HealthChecker) Register(name string, critical bool, check Check) {
	hc.components = append(hc.components, component{name: name, critical: critical, check: check})
}

const healthVersion = "1.0.0"

// HandleHealth returns the health of every component. Always 200; the
// status field conveys health.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	httputil.OK(w, HealthStatus{
		Status:  hc.determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 while a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := hc.determineOverallStatus(checks)

	ready := overall != "unhealthy"
	httpStatus := http.StatusOK
	if !ready {
		httpStatus = http.StatusServiceUnavailable
	}

	httputil.JSON(w, httpStatus, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

// ---------------------------------------------------------------------------
// Individual component checks
// ---------------------------------------------------------------------------

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, len(hc.components))

	// Run checks concurrently for minimal total latency.
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, len(hc.components))

	for _, c := range hc.components {
		c := c
		go func() { ch <- result{c.name, hc.runCheck(ctx, c.check)} }()
	}
	for range hc.components {
		r := <-ch
		checks[r.name] = r.check
	}

	return checks
}

func (hc *HealthChecker) runCheck(ctx context.Context, check Check) ComponentCheck {
	if check == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)
	latency := time.Since(start)

	switch {
	case errors.Is(err, ErrDegraded):
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: err.Error()}
	case err != nil:
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	case latency > hc.slowLatency:
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// DeadLetterCheck reports degraded while dead-lettered jobs wait for an
// operator to inspect or retry them.
func DeadLetterCheck(q queue.Queue) Check {
	return func(ctx context.Context) error {
		s, err := q.Stats(ctx)
		if err != nil {
			return err
		}
		if s.Dead > 0 {
			return fmt.Errorf("%w: %d dead-lettered jobs", ErrDegraded, s.Dead)
		}
		return nil
	}
}

// WorkerPoolCheck reports an embedded worker pool that is no longer
// consuming.
func WorkerPoolCheck(pool interface{ Running() bool }) Check {
	return func(ctx context.Context) error {
		if !pool.Running() {
			return errors.New("worker pool stopped")
		}
		return nil
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if a configured critical component is down
//   - "degraded"  if any check is degraded or a non-critical check is down
//   - "healthy"   otherwise
func (hc *HealthChecker) determineOverallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for _, c := range hc.components {
		res := checks[c.name]
		switch {
		case res.Status == "down" && res.Message == "not configured":
		case res.Status == "down" && c.critical:
			return "unhealthy"
		case res.Status != "up":
			overall = "degraded"
		}
	}
	return overall
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
