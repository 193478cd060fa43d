package cinderlink

import (
	"net/http"
	"time"

	json "github.com/json-iterator/go"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`

	// Message provides additional context about the check result.
	Message string `json:"message,omitempty"`

	Duration time.Duration `json:"duration_ns,omitempty"`
}

// HealthStatus represents the overall health status of the client.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Checks    []CheckResult `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// IsHealthy reports whether the client is running. It is a quick check
// suitable for liveness probes.
func (c *Client) IsHealthy() bool {
	return c.State() == StateRunning && c.transport != nil
}

// ReadinessChecks performs detailed health checks and returns the results.
//
// Checks performed:
//   - client_running: whether the client is in the Running state
//   - server_connection: whether any server is connected
//   - identity: whether an identity root has been resolved or saved
//   - peers: how many peers are connected (informational)
func (c *Client) ReadinessChecks() HealthStatus {
	now := c.config.Clock.Now
	status := HealthStatus{
		Healthy:   true,
		Checks:    make([]CheckResult, 0, 4),
		Timestamp: now(),
	}
	check := func(name string, fn func() (bool, string), informational bool) {
		start := now()
		ok, msg := fn()
		status.Checks = append(status.Checks, CheckResult{
			Name:     name,
			Healthy:  ok || informational,
			Message:  msg,
			Duration: now().Sub(start),
		})
		if !ok && !informational {
			status.Healthy = false
		}
	}

	check("client_running", func() (bool, string) {
		state := c.State()
		return state == StateRunning, "client is " + state.String()
	}, false)

	check("server_connection", func() (bool, string) {
		ok := c.HasServerConnection()
		return ok, boolToMessage(ok, "connected to a server", "no server connected")
	}, len(c.config.BootstrapAddrs) == 0)

	check("identity", func() (bool, string) {
		ok := c.identity.CID().Defined()
		return ok, boolToMessage(ok, "identity root is known", "identity root not resolved")
	}, true)

	check("peers", func() (bool, string) {
		n := 0
		for _, p := range c.registry.ListPeers() {
			if p.Connected {
				n++
			}
		}
		return n > 0, boolToMessage(n > 0, "has connected peers", "no connected peers")
	}, true)

	return status
}

func boolToMessage(b bool, trueMsg, falseMsg string) string {
	if b {
		return trueMsg
	}
	return falseMsg
}

// HealthHandler returns an http.Handler that responds 200 with the
// readiness checks when the client is healthy and 503 otherwise.
//
//	http.Handle("/health", cinderlink.HealthHandler(client))
func HealthHandler(client *Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := client.ReadinessChecks()

		w.Header().Set("Content-Type", "application/json")
		if status.Healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}

// LivenessHandler returns an http.Handler that responds 200 while the
// client is running and 503 otherwise.
//
//	http.Handle("/live", cinderlink.LivenessHandler(client))
func LivenessHandler(client *Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if client.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"healthy":true}`))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"healthy":false}`))
		}
	})
}
