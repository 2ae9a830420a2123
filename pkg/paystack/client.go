// Package paystack is a thin client for the Paystack REST API covering
// charges, transfers, recipients and subaccounts.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/towline/towline-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.paystack.co"
	defaultTimeout             = 15 * time.Second
	responseBodyReadLimit int64 = 1024
)

var errSecretKeyRequired = errors.New("paystack secret key is required")

// Client calls the Paystack API with the platform secret key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-call timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds a Paystack client for the given secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(secretKey)
	if trimmed == "" {
		return nil, errSecretKeyRequired
	}

	client := &Client{
		secretKey:  trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// SecretKey returns the key used to sign webhooks.
func (c *Client) SecretKey() string {
	return c.secretKey
}

// InitializeTransaction starts a hosted checkout for the given amount.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	var out InitializeResponse
	if err := c.do(ctx, http.MethodPost, "transaction/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyTransaction polls the charge state for a reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Charge, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	var out Charge
	if err := c.do(ctx, http.MethodGet, "transaction/verify/"+url.PathEscape(trimmed), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRecipient registers a payout destination.
func (c *Client) CreateRecipient(ctx context.Context, req RecipientRequest) (*Recipient, error) {
	if req.AccountNumber == "" || req.BankCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account number and bank code are required")
	}
	var out Recipient
	if err := c.do(ctx, http.MethodPost, "transferrecipient", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateTransfer moves funds from the platform balance to a recipient.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.Recipient == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient code is required")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if req.Source == "" {
		req.Source = "balance"
	}
	var out Transfer
	if err := c.do(ctx, http.MethodPost, "transfer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveAccount confirms account ownership and returns the holder name.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	if accountNumber == "" || bankCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account number and bank code are required")
	}
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)
	var out ResolvedAccount
	if err := c.do(ctx, http.MethodGet, "bank/resolve?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSubaccount registers a split-settlement subaccount.
func (c *Client) CreateSubaccount(ctx context.Context, req SubaccountRequest) (*Subaccount, error) {
	if strings.TrimSpace(req.BusinessName) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business name is required")
	}
	var out Subaccount
	if err := c.do(ctx, http.MethodPost, "subaccount", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// envelope is the wrapper every Paystack response uses.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal paystack request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paystack request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute paystack request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"paystack request failed").
			WithDetails(map[string]any{"endpoint": strings.SplitN(path, "?", 2)[0], "status": resp.StatusCode})
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paystack response")
	}
	if !env.Status {
		return pkgerrors.New(pkgerrors.CodeDependency, "paystack rejected request: "+env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paystack data")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
