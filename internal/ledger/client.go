// Package ledger implements the settlement capability: submitting one
// obligation's amount+fee transfer to the ledger program and awaiting its
// confirmation.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"settlement-engine/internal/model"
)

const (
	EndpointPrimary  = "primary"
	EndpointFallback = "fallback"
)

// settleRequest is the wire form of a settlement submission. The ledger
// program re-checks due-ness and active status itself as a second line of
// defense against stale off-chain reads.
type settleRequest struct {
	Network      string    `json:"network"`
	ObligationID string    `json:"obligationId"`
	Amount       int64     `json:"amount"`
	PayeeAddress string    `json:"payeeAddress"`
	Fee          int64     `json:"fee"`
	FeeRecipient string    `json:"feeRecipient"`
	FeeCurrency  string    `json:"feeCurrency,omitempty"`
	RequestedAt  time.Time `json:"requestedAt"`
}

type settleResponse struct {
	TxRef  string `json:"txRef"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// EndpointChecker reports whether a named endpoint should receive settlement
// submissions. *HealthMonitor is the production implementation.
type EndpointChecker interface {
	Usable(ctx context.Context, name string) bool
}

// Client submits settlements over HTTP, preferring the primary endpoint and
// falling back to the secondary when the primary is unhealthy or its breaker
// is open.
type Client struct {
	httpClient *http.Client
	monitor    EndpointChecker
	token      string
	endpoints  map[string]string
	breakers   map[string]*CircuitBreaker
}

func NewClient(primaryURL, fallbackURL, token string, timeout time.Duration, monitor EndpointChecker) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		monitor:    monitor,
		token:      token,
		endpoints: map[string]string{
			EndpointPrimary:  primaryURL,
			EndpointFallback: fallbackURL,
		},
		breakers: map[string]*CircuitBreaker{
			EndpointPrimary:  NewCircuitBreaker(EndpointPrimary, DefaultBreakerConfig),
			EndpointFallback: NewCircuitBreaker(EndpointFallback, DefaultBreakerConfig),
		},
	}
}

// Settle submits the obligation's settlement and awaits confirmation. Any
// error, including timeouts and open breakers on both endpoints, is an
// ordinary per-item settlement failure for the caller.
func (c *Client) Settle(ctx context.Context, o *model.Obligation) (string, error) {
	var lastErr error
	for _, name := range []string{EndpointPrimary, EndpointFallback} {
		breaker := c.breakers[name]
		if !c.monitor.Usable(ctx, name) && name != EndpointFallback {
			lastErr = fmt.Errorf("endpoint %s unavailable", name)
			continue
		}
		if !breaker.CanExecute() {
			lastErr = fmt.Errorf("circuit breaker open for %s", name)
			continue
		}

		txRef, err := c.submit(ctx, c.endpoints[name], o)
		if err != nil {
			breaker.RecordFailure()
			lastErr = err
			logrus.WithFields(logrus.Fields{
				"obligation": o.ID.String(),
				"endpoint":   name,
			}).WithError(err).Warn("settlement submission failed")
			continue
		}
		breaker.RecordSuccess()
		return txRef, nil
	}
	return "", fmt.Errorf("settlement failed on all endpoints: %w", lastErr)
}

func (c *Client) submit(ctx context.Context, baseURL string, o *model.Obligation) (string, error) {
	body, err := json.Marshal(settleRequest{
		Network:      o.ID.Network,
		ObligationID: o.ID.LedgerID,
		Amount:       o.Amount,
		PayeeAddress: o.PayeeAddress,
		Fee:          o.Fee,
		FeeRecipient: o.FeeRecipient,
		FeeCurrency:  o.FeeCurrency,
		RequestedAt:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/settlements", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("building settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submitting settlement: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading settlement response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ledger rejected settlement: status %d, body %s", resp.StatusCode, respBody)
	}

	var settleResp settleResponse
	if err := json.Unmarshal(respBody, &settleResp); err != nil {
		return "", fmt.Errorf("decoding settlement response: %w", err)
	}
	if settleResp.Error != "" {
		return "", fmt.Errorf("ledger reported failure: %s", settleResp.Error)
	}
	if settleResp.TxRef == "" {
		return "", fmt.Errorf("ledger returned no transaction reference")
	}
	return settleResp.TxRef, nil
}
