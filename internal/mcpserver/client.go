package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/sentinel/internal/circuitbreaker"
)

// CallerHeader carries the acting principal to the ledger API.
const CallerHeader = "X-Caller-Address"

// Config holds the configuration for connecting to the ledger API.
type Config struct {
	APIURL        string // Base URL, e.g. "http://localhost:8080"
	CallerAddress string // Acting principal, e.g. "0x..."
}

// SentinelClient is a pure HTTP client for the ledger API. Transport errors
// and 5xx responses trip a circuit breaker so an unreachable API fails fast;
// 4xx rejections do not.
type SentinelClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewSentinelClient creates a new client for the ledger API.
func NewSentinelClient(cfg Config) *SentinelClient {
	return &SentinelClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New("ledger_api", 5, 30*time.Second),
	}
}

// Caller returns the acting principal.
func (c *SentinelClient) Caller() string {
	return c.cfg.CallerAddress
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *SentinelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set(CallerHeader, c.cfg.CallerAddress)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var (
		status   int
		respBody []byte
	)
	err = c.breaker.Execute(func() (bool, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return true, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return true, fmt.Errorf("read response: %w", err)
		}
		return status >= 500, nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("ledger API unavailable: %w", err)
	}
	if err != nil {
		return nil, err
	}

	if status >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			if apiErr.Code != 0 {
				return nil, fmt.Errorf("API error (%d, code %d %s): %s", status, apiErr.Code, apiErr.Error, apiErr.Message)
			}
			return nil, fmt.Errorf("API error (%d): %s", status, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", status, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetBalance returns the balance of address.
func (c *SentinelClient) GetBalance(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+address+"/balance", nil, nil)
}

// Deposit credits the caller's own balance.
func (c *SentinelClient) Deposit(ctx context.Context, amount uint64) (json.RawMessage, error) {
	body := map[string]any{"amount": amount}
	return c.doRequest(ctx, http.MethodPost, "/v1/deposits", nil, body)
}

// SecurePayment transfers amount from the caller to recipient.
func (c *SentinelClient) SecurePayment(ctx context.Context, recipient string, amount uint64) (json.RawMessage, error) {
	body := map[string]any{
		"recipient": recipient,
		"amount":    amount,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/payments", nil, body)
}

// CreateEscrow locks amount from the caller for recipient under nonce.
func (c *SentinelClient) CreateEscrow(ctx context.Context, recipient string, amount, nonce uint64) (json.RawMessage, error) {
	body := map[string]any{
		"recipient": recipient,
		"amount":    amount,
		"nonce":     nonce,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escrows", nil, body)
}

// ReleaseEscrow pays a locked escrow out to its recipient.
func (c *SentinelClient) ReleaseEscrow(ctx context.Context, sender, recipient string, nonce uint64) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, escrowPath(sender, recipient, nonce)+"/release", nil, nil)
}

// GetEscrow returns the details of one escrow.
func (c *SentinelClient) GetEscrow(ctx context.Context, sender, recipient string, nonce uint64) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, escrowPath(sender, recipient, nonce), nil, nil)
}

// GetFraudScore previews the fraud score address would get for amount.
func (c *SentinelClient) GetFraudScore(ctx context.Context, address string, amount uint64) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("amount", strconv.FormatUint(amount, 10))
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+address+"/fraud-score", q, nil)
}

// GetDailyStats returns today's spend aggregate for address.
func (c *SentinelClient) GetDailyStats(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+address+"/daily-stats", nil, nil)
}

// IsFrozen reports whether address is frozen.
func (c *SentinelClient) IsFrozen(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+address+"/frozen", nil, nil)
}

// IsBlacklisted reports whether address is blacklisted.
func (c *SentinelClient) IsBlacklisted(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+address+"/blacklisted", nil, nil)
}

// GetSettings returns the contract settings.
func (c *SentinelClient) GetSettings(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/settings", nil, nil)
}

func escrowPath(sender, recipient string, nonce uint64) string {
	return "/v1/escrows/" + sender + "/" + recipient + "/" + strconv.FormatUint(nonce, 10)
}
