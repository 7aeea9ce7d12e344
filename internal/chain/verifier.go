package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/stakeladder/backend/internal/models"
)

// VerifyRequest asks the verifier whether txRef paid at least Amount to ToAddress.
type VerifyRequest struct {
	TxRef            string          `json:"txRef"`
	Network          models.Network  `json:"network"`
	ToAddress        string          `json:"toAddress"`
	Amount           decimal.Decimal `json:"amount"`
	MinConfirmations int             `json:"minConfirmations"`
}

type VerifyResult struct {
	Verified      bool            `json:"verified"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int             `json:"confirmations"`
	Error         string          `json:"error,omitempty"`
}

// Client calls the external transaction verifier. Calls are throttled and
// bounded by the HTTP client timeout; a timeout surfaces as an error and the
// caller retries on its next tick.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	limiter          *rate.Limiter
	minConfirmations map[models.Network]int
}

// NewClient returns a verifier client. minConfirmations lists every supported
// network with its required depth; rps <= 0 disables throttling.
func NewClient(baseURL string, timeout time.Duration, rps float64, minConfirmations map[models.Network]int) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       &http.Client{Timeout: timeout},
		limiter:          limiter,
		minConfirmations: minConfirmations,
	}
}

// Verify reports whether the transfer is verified at the network's required depth.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	depth, ok := c.minConfirmations[req.Network]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, req.Network)
	}
	req.MinConfirmations = depth

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("verifier call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("verifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verifier response: %w", err)
	}
	// Depth and amount are enforced here too, whatever the verifier claims.
	if out.Verified && (out.Confirmations < depth || out.Amount.LessThan(req.Amount)) {
		out.Verified = false
	}
	return &out, nil
}
