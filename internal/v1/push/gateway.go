package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
)

// Gateway submits a multicast payload to the external push gateway.
type Gateway interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// Message is one multicast submission.
type Message struct {
	Tokens     []string          `json:"tokens"`
	Data       map[string]string `json:"data"`
	Priority   string            `json:"priority"`
	TTLSeconds int               `json:"ttl,omitempty"`
}

// SendResult reports per-token outcomes. FailedTokens maps a token to the
// gateway's error code; permanent codes feed token removal.
type SendResult struct {
	SuccessCount int
	FailedTokens map[string]string
}

// Gateway error codes that mean the token will never work again.
const (
	ErrCodeUnregistered = "UNREGISTERED"
	ErrCodeInvalidToken = "INVALID_ARGUMENT"
)

// IsPermanentFailure reports whether a per-token error code is permanent.
// The dispatcher never retries transient failures either; the distinction
// only controls token removal.
func IsPermanentFailure(code string) bool {
	return code == ErrCodeUnregistered || code == ErrCodeInvalidToken
}

// HTTPGateway talks to the push gateway over HTTP, behind a circuit breaker.
type HTTPGateway struct {
	url    string
	apiKey string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

// NewHTTPGateway builds a gateway client for the given endpoint.
func NewHTTPGateway(url, apiKey string) *HTTPGateway {
	st := gobreaker.Settings{
		Name:        "push-gateway",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("push_gateway").Set(stateVal)
		},
	}

	return &HTTPGateway{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

// gatewayResponse is the wire shape of the gateway's reply.
type gatewayResponse struct {
	Results []struct {
		Token string `json:"token"`
		Error string `json:"error,omitempty"`
	} `json:"results"`
}

// Send implements Gateway.
func (g *HTTPGateway) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		body, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal push payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build gateway request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("gateway request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read gateway response: %w", err)
		}

		var gr gatewayResponse
		if err := json.Unmarshal(raw, &gr); err != nil {
			return nil, fmt.Errorf("failed to parse gateway response: %w", err)
		}

		result := &SendResult{FailedTokens: map[string]string{}}
		for _, r := range gr.Results {
			if r.Error == "" {
				result.SuccessCount++
				continue
			}
			result.FailedTokens[r.Token] = r.Error
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*SendResult), nil
}
