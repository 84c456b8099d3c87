package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/advance-ops/backoffice/internal/shared"
)

const (
	paymentsPath = "/api/v1/payments"
	maxReplySize = 64 << 10
)

// Recorder receives one observation per gateway call.
type Recorder interface {
	ObserveGatewayCall(outcome string, elapsed time.Duration)
}

// Config carries the gateway credentials and endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	SiteID  string
	Timeout time.Duration
	// HTTPClient overrides the default client; its Timeout is left as-is.
	HTTPClient *http.Client
	Recorder   Recorder
}

// Client wraps interactions with the payment gateway API.
type Client struct {
	baseURL    string
	apiKey     string
	siteID     string
	httpClient *http.Client
	recorder   Recorder
}

// NewClient constructs a new client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		siteID:     cfg.SiteID,
		httpClient: httpClient,
		recorder:   cfg.Recorder,
	}
}

type initiateBody struct {
	WebsiteID   string `json:"websiteid"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CallbackURL string `json:"callback_url"`
	ReturnURL   string `json:"return_url"`
}

// Initiate asks the gateway to open a payment. Failures are an
// *UnreachableError (retryable with a fresh call), a *RejectedError or a
// *ProtocolError.
func (c *Client) Initiate(ctx context.Context, req Request) (Success, error) {
	start := time.Now()
	outcome, err := c.initiate(ctx, req)
	c.observe(outcome, err, time.Since(start))
	if err != nil {
		return Success{}, err
	}
	switch o := outcome.(type) {
	case Success:
		return o, nil
	case Rejected:
		return Success{}, &RejectedError{Rejected: o}
	case Malformed:
		return Success{}, &ProtocolError{Malformed: o}
	default:
		return Success{}, fmt.Errorf("%w: unknown outcome %T", shared.ErrGatewayProtocol, outcome)
	}
}

func (c *Client) initiate(ctx context.Context, req Request) (Outcome, error) {
	payload, err := json.Marshal(initiateBody{
		WebsiteID:   c.siteID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CallbackURL: req.CallbackURL,
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+paymentsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Basic "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, unreachable(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, unreachable(fmt.Errorf("read reply: %w", err))
	}
	return Decode(resp.StatusCode, resp.Header.Get("Content-Type"), body), nil
}

type reply struct {
	Status     string          `json:"status"`
	PayID      string          `json:"pay_id"`
	PaymentURL string          `json:"payment_url"`
	Message    string          `json:"message"`
	Error      json.RawMessage `json:"error"`
	Code       json.RawMessage `json:"code"`
}

// Decode classifies a gateway reply. It never fails: anything it cannot
// understand becomes Malformed.
func Decode(statusCode int, contentType string, body []byte) Outcome {
	malformed := Malformed{StatusCode: statusCode, ContentType: contentType, RawBody: string(body)}
	if !isJSON(contentType) {
		return malformed
	}
	var r reply
	if err := json.Unmarshal(body, &r); err != nil {
		return malformed
	}
	message := firstNonEmpty(r.Message, rawText(r.Error))
	code := rawText(r.Code)

	switch {
	case statusCode >= 400:
		return Rejected{StatusCode: statusCode, Code: code, Message: message}
	case statusCode < 200 || statusCode >= 300:
		return malformed
	}

	status := strings.ToLower(strings.TrimSpace(r.Status))
	if status != "" && status != "success" && status != "ok" {
		return Rejected{StatusCode: statusCode, Code: firstNonEmpty(code, r.Status), Message: message}
	}
	if r.PayID == "" || r.PaymentURL == "" {
		return malformed
	}
	return Success{TransactionID: r.PayID, PaymentURL: r.PaymentURL}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// rawText renders a JSON scalar or object as text for error reporting.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func (c *Client) observe(outcome Outcome, err error, elapsed time.Duration) {
	if c.recorder == nil {
		return
	}
	label := "unreachable"
	switch outcome.(type) {
	case Success:
		label = "success"
	case Rejected:
		label = "rejected"
	case Malformed:
		label = "malformed"
	}
	var ue *UnreachableError
	if errors.As(err, &ue) && ue.Timeout {
		label = "timeout"
	}
	c.recorder.ObserveGatewayCall(label, elapsed)
}

func unreachable(err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &UnreachableError{Err: err, Timeout: timeout}
}
