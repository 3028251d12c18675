package sink

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/tracelight/crunch/internal/infrastructure/resilience"
)

// HTTP forwards finalized trace summaries to a remote endpoint as JSON.
// Transient failures are retried by the underlying transport; a persistently
// failing endpoint trips the circuit breaker so sweeps are not slowed down
// by a dead collector.
type HTTP struct {
	client  *resty.Client
	breaker *resilience.Breaker
	url     string
}

// summaryPayload is the forwarded wire format.
type summaryPayload struct {
	TraceID   string `json:"traceId"`
	Summary   string `json:"summary"`
	Timestamp int64  `json:"timestamp"`
}

// NewHTTP creates an HTTP forward sink posting to url.
func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", "crunchd/1.0").
		SetTransport(retryClient.HTTPClient.Transport)

	return &HTTP{
		client: client,
		url:    url,
		breaker: resilience.New("summary-forward", resilience.Settings{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		}),
	}
}

// Write posts one finalized summary.
func (h *HTTP) Write(traceID, line string) error {
	return h.breaker.Execute(func() error {
		resp, err := h.client.R().
			SetBody(summaryPayload{
				TraceID:   traceID,
				Summary:   line,
				Timestamp: time.Now().UnixMilli(),
			}).
			Post(h.url)
		if err != nil {
			return fmt.Errorf("forward summary for trace %s: %w", traceID, err)
		}
		if resp.StatusCode() >= http.StatusBadRequest {
			return fmt.Errorf("forward summary for trace %s: endpoint returned %d", traceID, resp.StatusCode())
		}
		return nil
	})
}

// Close is a no-op; the underlying transport has no persistent state worth
// tearing down.
func (h *HTTP) Close() error { return nil }
