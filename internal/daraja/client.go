// Package daraja provides a client for the Safaricom Daraja M-Pesa API.
package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config holds Daraja API configuration.
type Config struct {
	BaseURL         string        `envconfig:"DARAJA_BASE_URL" default:"https://sandbox.safaricom.co.ke"`
	ConsumerKey     string        `envconfig:"DARAJA_CONSUMER_KEY" required:"true"`
	ConsumerSecret  string        `envconfig:"DARAJA_CONSUMER_SECRET" required:"true"`
	Shortcode       string        `envconfig:"DARAJA_SHORTCODE" required:"true"`
	Passkey         string        `envconfig:"DARAJA_PASSKEY" required:"true"`
	CallbackURL     string        `envconfig:"DARAJA_CALLBACK_URL" required:"true"`
	AccountRef      string        `envconfig:"DARAJA_ACCOUNT_REF" default:"PAYCOLLECT"`
	TransactionDesc string        `envconfig:"DARAJA_TRANSACTION_DESC" default:"Payment"`
	Timeout         time.Duration `envconfig:"DARAJA_TIMEOUT" default:"30s"`
}

// Sentinel errors for the two failure classes callers care about.
var (
	// ErrGatewayUnavailable covers transport failures and 5xx responses.
	ErrGatewayUnavailable = errors.New("daraja unavailable")
	// ErrGatewayRejected covers 4xx responses and non-zero response codes.
	ErrGatewayRejected = errors.New("daraja rejected request")
)

// errCodeStillProcessing is returned by the query endpoint while the push
// is still awaiting the customer. It is not a failure.
const errCodeStillProcessing = "500.001.1001"

// APIError is a structured error response from the Daraja API.
type APIError struct {
	StatusCode   int
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Body         string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daraja api error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.ErrorMessage)
}

// Unwrap maps the HTTP status onto the sentinel taxonomy.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrGatewayUnavailable
	}
	return ErrGatewayRejected
}

// PushRequest is the STK push request body.
type PushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// PushResponse is the STK push response.
type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryRequest is the STK push status query body.
type QueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryResponse is the STK push status query response. ResultCode is a
// string here even though callbacks carry it as a number.
type QueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResponseDesc      string `json:"ResponseDescription"`
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// Client is the Daraja API client.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

// NewClient creates a new Daraja client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

// timestampLayout is Daraja's yyyymmddhhmmss format.
const timestampLayout = "20060102150405"

// password builds the API password: base64(shortcode + passkey + timestamp).
func (c *Client) password(timestamp string) string {
	raw := c.config.Shortcode + c.config.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// token returns a cached access token, fetching a fresh one when expired.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	url := c.config.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}

	credentials := base64.StdEncoding.EncodeToString(
		[]byte(c.config.ConsumerKey + ":" + c.config.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: token status=%d body=%s", ErrGatewayUnavailable, resp.StatusCode, body)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: token status=%d body=%s", ErrGatewayRejected, resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("%w: unmarshal token response: %v", ErrGatewayUnavailable, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrGatewayRejected)
	}

	// Daraja tokens live for ~1h; renew a minute early.
	ttl := time.Hour
	if secs, err := time.ParseDuration(tok.ExpiresIn + "s"); err == nil && secs > 0 {
		ttl = secs
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = c.now().Add(ttl - time.Minute)

	c.logger.Debug("daraja access token refreshed", "ttl", ttl)
	return c.accessToken, nil
}

// InitiatePush submits an STK push request prompting the customer's phone.
// amount is in whole shillings.
func (c *Client) InitiatePush(ctx context.Context, phone string, amount int64) (*PushResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(timestampLayout)
	req := PushRequest{
		BusinessShortCode: c.config.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.config.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.config.CallbackURL,
		AccountReference:  c.config.AccountRef,
		TransactionDesc:   c.config.TransactionDesc,
	}

	var resp PushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, req, &resp); err != nil {
		return nil, err
	}

	if resp.ResponseCode != "0" {
		return nil, fmt.Errorf("%w: response_code=%s desc=%s",
			ErrGatewayRejected, resp.ResponseCode, resp.ResponseDescription)
	}

	c.logger.Info("stk push initiated",
		"checkout_request_id", resp.CheckoutRequestID,
		"merchant_request_id", resp.MerchantRequestID,
	)

	return &resp, nil
}

// QueryStatus queries the current status of a previously initiated push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(timestampLayout)
	req := QueryRequest{
		BusinessShortCode: c.config.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp QueryResponse
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, req, &resp); err != nil {
		// The query endpoint reports an in-flight push as an error body.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == errCodeStillProcessing {
			return &QueryResponse{
				CheckoutRequestID: checkoutRequestID,
				ResultDesc:        apiErr.ErrorMessage,
			}, nil
		}
		return nil, err
	}

	return &resp, nil
}

func (c *Client) post(ctx context.Context, path, token string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	if httpResp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Body: string(respBytes)}
		_ = json.Unmarshal(respBytes, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(respBytes, respBody); err != nil {
		return fmt.Errorf("%w: unmarshal response: %v", ErrGatewayUnavailable, err)
	}

	return nil
}
