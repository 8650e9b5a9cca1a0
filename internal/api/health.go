package api

import (
	"context"
	"time"
)

// HealthStatus is the health report shape.
type HealthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the health of one dependency.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker probes the service's dependencies. Probes may be nil, which
// reports the component as not configured.
type HealthChecker struct {
	probes    map[string]func(ctx context.Context) error
	startTime time.Time
}

// NewHealthChecker creates a checker over named dependency probes.
func NewHealthChecker(probes map[string]func(ctx context.Context) error) *HealthChecker {
	return &HealthChecker{probes: probes, startTime: time.Now()}
}

// Check runs every probe with a short timeout and rolls the results up.
func (hc *HealthChecker) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status: "healthy",
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: make(map[string]ComponentCheck),
	}

	for name, probe := range hc.probes {
		if probe == nil {
			status.Checks[name] = ComponentCheck{Status: "not_configured"}
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		start := time.Now()
		err := probe(probeCtx)
		cancel()

		check := ComponentCheck{Status: "up", Latency: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			check.Status = "down"
			check.Message = err.Error()
			status.Status = "unhealthy"
		}
		status.Checks[name] = check
	}
	return status
}
