package payout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stakeladder/backend/internal/models"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

var (
	// ErrNotConfigured is returned when the provider URL or secret is missing.
	ErrNotConfigured = errors.New("payout provider not configured")
	// ErrRejected marks a non-2xx answer. Any other Submit error leaves the
	// outcome unknown and the payout may be resubmitted with the same TxID.
	ErrRejected = errors.New("payout rejected by provider")
)

// Request is the signed payout instruction. TxID doubles as the provider's idempotency key.
type Request struct {
	UserID      uuid.UUID               `json:"userId"`
	ToAddress   string                  `json:"toAddress"`
	Amount      decimal.Decimal         `json:"amount"`
	Network     models.Network          `json:"network"`
	Source      models.WithdrawalSource `json:"source"`
	TxID        uuid.UUID               `json:"txId"`
	RequestedAt time.Time               `json:"requestedAt"`
}

type Response struct {
	ProviderRequestID string `json:"providerRequestId"`
	Status            string `json:"status"`
}

// Client submits payouts to the external withdrawal provider.
type Client struct {
	url        string
	secret     []byte
	httpClient *http.Client
}

func NewClient(url, secret string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(url) == "" || secret == "" {
		return nil, ErrNotConfigured
	}
	return &Client{url: url, secret: []byte(secret), httpClient: &http.Client{Timeout: timeout}}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Submit sends one payout. A non-2xx status is an ErrRejected error. Any 2xx
// is an acceptance; when the body carries no providerRequestId the TxID
// stands in for it.
func (c *Client) Submit(ctx context.Context, p Request) (*Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(c.secret, body))
	req.Header.Set("Idempotency-Key", p.TxID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
	}

	var out Response
	if len(bytes.TrimSpace(raw)) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	if out.ProviderRequestID == "" {
		out.ProviderRequestID = p.TxID.String()
	}
	if out.Status == "" {
		out.Status = "accepted"
	}
	return &out, nil
}
