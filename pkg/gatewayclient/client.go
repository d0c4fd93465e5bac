/**
 * @description
 * This package provides a client for the payment gateway API. It encapsulates
 * authenticated HTTP requests for hosted payment links, tokenized charges and
 * transaction verification, with bounded timeouts on every call.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrChargeDeclined is returned when the gateway processed the charge request
// but the charge itself did not succeed. The declined response carries the
// provider's stated reason.
var ErrChargeDeclined = errors.New("charge declined by provider")

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new gateway client with a bounded request timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PaymentLinkRequest asks the gateway for a hosted checkout page.
type PaymentLinkRequest struct {
	TxRef         string `json:"tx_ref"`
	Amount        int64  `json:"amount"` // minor currency units
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
	CustomerName  string `json:"customer_name"`
	RedirectURL   string `json:"redirect_url"`
	Narration     string `json:"narration,omitempty"`
}

// PaymentLinkResponse carries the hosted checkout link.
type PaymentLinkResponse struct {
	Status string `json:"status"`
	Data   struct {
		Link string `json:"link"`
	} `json:"data"`
}

// TokenChargeRequest charges a previously tokenized payment method.
type TokenChargeRequest struct {
	Token         string `json:"token"`
	TxRef         string `json:"tx_ref"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"email"`
	Narration     string `json:"narration,omitempty"`
}

// ChargeResult is the outcome of a direct charge.
type ChargeResult struct {
	Status                string `json:"status"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	FailureReason         string `json:"failure_reason,omitempty"`
}

// VerifyResult is the gateway's authoritative record of one charge attempt,
// used by the client-driven verification fallback.
type VerifyResult struct {
	Status                string `json:"status"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	TxRef                 string `json:"tx_ref"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	FailureReason         string `json:"failure_reason,omitempty"`
}

// ErrorResponse represents an error body from the gateway API.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway api error: %s", e.Message)
	}
	return "unknown gateway api error"
}

// CreatePaymentLink requests a hosted checkout link for a pending transaction.
func (c *Client) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (*PaymentLinkResponse, error) {
	var resp PaymentLinkResponse
	if err := c.post(ctx, "/v3/payments", req, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Link == "" {
		return nil, fmt.Errorf("gateway returned no payment link for tx_ref %s", req.TxRef)
	}
	return &resp, nil
}

// ChargeToken charges a stored payment method. A processed-but-declined charge
// returns a result wrapping ErrChargeDeclined so callers can distinguish a
// decline from a transport failure.
func (c *Client) ChargeToken(ctx context.Context, req TokenChargeRequest) (*ChargeResult, error) {
	var raw struct {
		Status string `json:"status"`
		Data   struct {
			ID                int64  `json:"id"`
			Status            string `json:"status"`
			ProcessorResponse string `json:"processor_response"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/v3/tokenized-charges", req, &raw); err != nil {
		return nil, err
	}

	result := &ChargeResult{
		Status:                raw.Data.Status,
		ProviderTransactionID: fmt.Sprintf("%d", raw.Data.ID),
		FailureReason:         raw.Data.ProcessorResponse,
	}
	if raw.Data.Status != "successful" {
		return result, fmt.Errorf("%w: %s", ErrChargeDeclined, raw.Data.ProcessorResponse)
	}
	result.FailureReason = ""
	return result, nil
}

// VerifyByTxRef fetches the authoritative state of a charge by its reference.
func (c *Client) VerifyByTxRef(ctx context.Context, txRef string) (*VerifyResult, error) {
	var raw struct {
		Status string `json:"status"`
		Data   struct {
			ID                int64  `json:"id"`
			TxRef             string `json:"tx_ref"`
			Amount            int64  `json:"amount"`
			Currency          string `json:"currency"`
			Status            string `json:"status"`
			ProcessorResponse string `json:"processor_response"`
		} `json:"data"`
	}
	path := "/v3/transactions/verify_by_reference?tx_ref=" + txRef
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}

	return &VerifyResult{
		Status:                raw.Data.Status,
		Amount:                raw.Data.Amount,
		Currency:              raw.Data.Currency,
		TxRef:                 raw.Data.TxRef,
		ProviderTransactionID: fmt.Sprintf("%d", raw.Data.ID),
		FailureReason:         raw.Data.ProcessorResponse,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create gateway request: %w", err)
	}
	c.setHeaders(req)

	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create gateway request: %w", err)
	}
	c.setHeaders(req)

	return c.do(req, path, out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
}

func (c *Client) do(req *http.Request, path string, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Timeouts surface here; the caller treats them as retryable, never
		// as an implicit success.
		return fmt.Errorf("failed to execute gateway request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=gateway_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("gateway request failed (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=gateway_client path=%s status=%d message=%q", path, resp.StatusCode, errResp.Message)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
