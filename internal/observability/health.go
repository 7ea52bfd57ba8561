package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse represents the overall health check response.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthChecker performs health checks on system components.
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]HealthCheckFunc
}

// HealthCheckFunc defines a function that checks component health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// NewHealthChecker creates a new health checker.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck registers a health check for a component.
func (hc *HealthChecker) RegisterCheck(name string, checkFunc HealthCheckFunc) {
	hc.checks[name] = checkFunc
}

// Check performs all health checks.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	response := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}

	for name, checkFunc := range hc.checks {
		health := checkFunc(ctx)
		response.Checks[name] = health

		// Update overall status
		if health.Status == HealthStatusUnhealthy {
			response.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && response.Status != HealthStatusUnhealthy {
			response.Status = HealthStatusDegraded
		}
	}

	return response
}

// Handler returns an HTTP handler for health checks.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		// Set HTTP status based on health
		switch response.Status {
		case HealthStatusOK:
			w.WriteHeader(http.StatusOK)
		case HealthStatusDegraded:
			w.WriteHeader(http.StatusOK) // Still 200 but degraded
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}

// Common health check functions

// BackendReachableCheck probes the OTA backend server with a lightweight
// HTTP call and reports its latency.
func BackendReachableCheck(client *http.Client, url string) HealthCheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		resp, err := client.Do(req)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error(), LatencyMS: latency}
		}
		_ = resp.Body.Close()
		return ComponentHealth{
			Status:    HealthStatusOK,
			Message:   fmt.Sprintf("backend reachable at %s", url),
			LatencyMS: latency,
		}
	}
}

// QUICListenerCheck reports the remote gateway's configured QUIC listen
// address as OK; it does not probe whether the listener is bound.
func QUICListenerCheck(addr string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{
			Status:  HealthStatusOK,
			Message: fmt.Sprintf("QUIC listener on %s", addr),
		}
	}
}

// AuthTokenCheck reports whether the client currently holds a valid access
// token, i.e. whether it would skip re-authentication on the next command.
func AuthTokenCheck(hasToken func() bool) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if hasToken() {
			return ComponentHealth{Status: HealthStatusOK, Message: "authenticated"}
		}
		return ComponentHealth{Status: HealthStatusDegraded, Message: "not authenticated"}
	}
}

// PackageManagerCheck reports whether the configured package manager can
// currently enumerate installed packages.
func PackageManagerCheck(installedPackages func() error) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if err := installedPackages(); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: HealthStatusOK, Message: "package manager responsive"}
	}
}

// TransferStoreCheck reports whether the transfer scratch directory is
// writable.
func TransferStoreCheck(dir string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		probe := dir + "/.health"
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		_ = os.Remove(probe)
		return ComponentHealth{Status: HealthStatusOK, Message: fmt.Sprintf("%s writable", dir)}
	}
}
