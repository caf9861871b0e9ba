package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/buildgrid/platform/shared/utils"
)

// WebhookClient forwards domain events to the configured third-party
// endpoint behind a circuit breaker, so a dead endpoint fails fast instead
// of tying up the consumer.
type WebhookClient struct {
	endpoint       string
	httpClient     *http.Client
	circuitBreaker *utils.CircuitBreaker
}

// NewWebhookClient builds the client from the environment. Breaker
// thresholds are deployment-specific: slow endpoints want a longer
// cooldown, flaky ones a higher failure budget.
func NewWebhookClient() *WebhookClient {
	endpoint := os.Getenv("WEBHOOK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:9090/events"
	}

	failThreshold := envInt("WEBHOOK_FAILURE_THRESHOLD", 5)
	cooldown := time.Duration(envInt("WEBHOOK_COOLDOWN_SECONDS", 30)) * time.Second

	return &WebhookClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		circuitBreaker: utils.NewCircuitBreaker(failThreshold, cooldown),
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// Deliver posts one serialized domain event. Tenant and type travel in
// headers so the receiver can route without parsing the body.
func (wc *WebhookClient) Deliver(tenantID, eventType string, payload []byte) error {
	return wc.circuitBreaker.Do(func() error {
		req, err := http.NewRequest("POST", wc.endpoint, bytes.NewBuffer(payload))
		if err != nil {
			return fmt.Errorf("failed to create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", tenantID)
		req.Header.Set("X-Event-Type", eventType)

		resp, err := wc.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook delivery failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}

// State exposes the circuit breaker state for the stats endpoint.
func (wc *WebhookClient) State() utils.CircuitState {
	return wc.circuitBreaker.State()
}
