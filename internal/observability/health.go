package observability

import (
	"context"
	"log/slog"
	"time"
)

// readyProbeTimeout bounds the readiness probes as a group. The database
// ping is the only slow dependency in practice.
const readyProbeTimeout = 3 * time.Second

// HealthChecker backs the liveness and readiness endpoints. Liveness only
// reports that the process is up; readiness runs every registered probe.
type HealthChecker struct {
	logger *slog.Logger
	names  []string
	probes map[string]func(ctx context.Context) error
}

// HealthStatus is the JSON body served by the health endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single readiness probe.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no probes registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		logger: logger,
		probes: make(map[string]func(ctx context.Context) error),
	}
}

// AddCheck registers a named readiness probe. Registering the same name
// again replaces the earlier probe.
func (h *HealthChecker) AddCheck(name string, probe func(ctx context.Context) error) {
	if _, exists := h.probes[name]; !exists {
		h.names = append(h.names, name)
	}
	h.probes[name] = probe
}

// CheckHealth reports liveness. A running process is always "ok".
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs all probes under a shared deadline. Any failure degrades
// the aggregate status; the remaining probes still run so the response
// names every broken dependency.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: "ok"}
	if len(h.names) == 0 {
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, readyProbeTimeout)
	defer cancel()

	status.Checks = make(map[string]CheckResult, len(h.names))
	for _, name := range h.names {
		err := h.probes[name](probeCtx)
		if err == nil {
			status.Checks[name] = CheckResult{Status: "ok"}
			continue
		}
		status.Status = "degraded"
		status.Checks[name] = CheckResult{Status: "fail", Message: err.Error()}
		if h.logger != nil {
			h.logger.Warn("readiness probe failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
		}
	}

	return status
}
