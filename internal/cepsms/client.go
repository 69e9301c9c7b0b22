// Package cepsms implements the CepSMS HTTP gateway client: phone number
// normalization, the credential directory, message submission, and delivery
// report queries.
//
// The gateway's API is loose: field casing varies between deployments, some
// endpoints answer JSON requests with an HTML login page until re-asked as a
// form post, and the report endpoint path differs per panel version. The
// client absorbs all of that.
package cepsms

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilicc/kentsms-sub000/internal/logging"
	"github.com/kilicc/kentsms-sub000/internal/retry"
)

var (
	// ErrGatewayAuth means the gateway rejected the credentials. Never
	// retried.
	ErrGatewayAuth = errors.New("gateway authentication failed")

	// ErrGatewayRejected means the gateway refused the message for a
	// non-credential reason (no balance, bad sender name, malformed
	// request).
	ErrGatewayRejected = errors.New("gateway rejected message")
)

// DeliveryState is the gateway's report verdict for one recipient.
type DeliveryState string

const (
	StateDelivered     DeliveryState = "delivered"
	StateUndelivered   DeliveryState = "undelivered"
	StateTimedOut      DeliveryState = "timed_out"
	StatePendingReport DeliveryState = "pending_report"
)

// Client talks to the CepSMS panel API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithInsecureTLS disables certificate verification for panels serving an
// incomplete chain.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- explicit operator opt-in
		}
	}
}

// WithRetry overrides transient-failure retry behavior.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.retryDelay = baseDelay
	}
}

// NewClient creates a gateway client. timeout bounds each HTTP exchange.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: 3,
		retryDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendRequest struct {
	User    string   `json:"User"`
	Pass    string   `json:"Pass"`
	Message string   `json:"Message"`
	Numbers []string `json:"Numbers"`
	From    string   `json:"From,omitempty"`
}

// Send submits message to the given normalized numbers using acct's
// credentials. On success it returns the gateway message ID covering the
// whole submission.
//
// Authentication failures and gateway rejections are permanent; network
// errors and 5xx responses are retried with backoff.
func (c *Client) Send(ctx context.Context, acct Account, numbers []string, message string) (string, error) {
	if len(numbers) == 0 {
		return "", fmt.Errorf("%w: no recipients", ErrGatewayRejected)
	}

	payload := sendRequest{
		User:    acct.Username,
		Pass:    acct.Password,
		Message: message,
		Numbers: numbers,
		From:    acct.WireFrom(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode send request: %w", err)
	}

	var messageID string
	err = retry.Do(ctx, c.maxAttempts, c.retryDelay, func() error {
		id, serr := c.postSend(ctx, body)
		if serr != nil {
			return serr
		}
		messageID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

func (c *Client) postSend(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("build send request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", retry.Permanent(fmt.Errorf("%w: HTTP %d", ErrGatewayAuth, resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("gateway error: HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read gateway response: %w", err)
	}

	fields, err := parseLooseJSON(raw)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("%w: unparseable response", ErrGatewayRejected))
	}

	status := pickString(fields, "Status", "status", "statusCode")
	messageID := pickString(fields, "MessageId", "messageId", "id")
	gatewayMsg := pickString(fields, "Error", "error", "message")

	upper := strings.ToUpper(status)
	if (upper == "OK" || status == "200") && messageID != "" {
		return messageID, nil
	}

	if strings.Contains(upper, "UNAUTHORIZED") || strings.Contains(upper, "FORBIDDEN") ||
		status == "401" || status == "403" {
		return "", retry.Permanent(fmt.Errorf("%w: %s", ErrGatewayAuth, status))
	}

	if gatewayMsg == "" {
		gatewayMsg = "status " + status
	}
	return "", retry.Permanent(fmt.Errorf("%w: %s", ErrGatewayRejected, gatewayMsg))
}

// QueryStatus asks the gateway for the delivery report of messageID. When
// phone is non-empty, the report entry for that recipient is used; otherwise
// the first entry. A missing or not-yet-ready report maps to
// StatePendingReport with no error.
func (c *Client) QueryStatus(ctx context.Context, acct Account, messageID, phone string) (DeliveryState, string, error) {
	payload := map[string]string{
		"User":      acct.Username,
		"Pass":      acct.Password,
		"MessageId": messageID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return StatePendingReport, "", fmt.Errorf("encode report request: %w", err)
	}

	var lastErr error
	for _, endpoint := range c.reportEndpoints() {
		fields, qerr := c.postReport(ctx, endpoint, body, payload)
		if qerr != nil {
			lastErr = qerr
			logging.L(ctx).Debug("report endpoint failed",
				"endpoint", endpoint, "error", qerr)
			continue
		}

		status := strings.ToUpper(pickString(fields, "Status", "status"))
		if status == "ERROR" || status == "HATA" {
			return StatePendingReport, "", fmt.Errorf("%w: report error", ErrGatewayRejected)
		}

		entry, ok := findReportEntry(fields, phone)
		if !ok {
			// Submission known but no per-recipient report yet.
			return StatePendingReport, "", nil
		}

		state := pickString(entry, "State", "state", "status")
		network := pickString(entry, "Network", "network")
		return mapState(state), network, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no report endpoints configured")
	}
	return StatePendingReport, "", fmt.Errorf("query report: %w", lastErr)
}

// reportEndpoints returns candidate report URLs in preference order. Panel
// versions disagree on where the report API lives.
func (c *Client) reportEndpoints() []string {
	candidates := []string{
		c.baseURL,
		c.baseURL + "/report",
		strings.TrimSuffix(c.baseURL, "/smsapi") + "/report",
	}
	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, e := range candidates {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// postReport tries a JSON post first; if the panel answers with its HTML
// login page, retries the same endpoint form-encoded.
func (c *Client) postReport(ctx context.Context, endpoint string, jsonBody []byte, form map[string]string) (map[string]any, error) {
	raw, err := c.post(ctx, endpoint, "application/json", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	if looksLikeHTML(raw) {
		values := url.Values{}
		for k, v := range form {
			values.Set(k, v)
		}
		raw, err = c.post(ctx, endpoint, "application/x-www-form-urlencoded",
			strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
		if looksLikeHTML(raw) {
			return nil, fmt.Errorf("endpoint returned HTML")
		}
	}

	return parseLooseJSON(raw)
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway error: HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}

func looksLikeHTML(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "<!DOCTYPE") || strings.HasPrefix(trimmed, "<html") ||
		strings.Contains(trimmed, "<!DOCTYPE html>")
}

func parseLooseJSON(raw []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// pickString returns the first present key as a string, tolerating numeric
// JSON values.
func pickString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strings.TrimSuffix(fmt.Sprintf("%v", t), ".0")
		}
	}
	return ""
}

// findReportEntry locates the report row for phone (normalized or raw
// match), falling back to the first row when phone is empty.
func findReportEntry(fields map[string]any, phone string) (map[string]any, bool) {
	var report []any
	for _, key := range []string{"Report", "report"} {
		if v, ok := fields[key].([]any); ok {
			report = v
			break
		}
	}
	if len(report) == 0 {
		return nil, false
	}

	if phone != "" {
		normalized, err := Normalize(phone)
		for _, item := range report {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			gsm := pickString(entry, "GSM", "gsm", "phone")
			if gsm == phone || (err == nil && gsm == normalized) {
				return entry, true
			}
		}
	}

	entry, ok := report[0].(map[string]any)
	return entry, ok
}

// mapState converts the gateway's Turkish report states to DeliveryState.
// Matching is on the ASCII tail because Turkish dotted capital I does not
// round-trip through ToLower as a single rune.
func mapState(state string) DeliveryState {
	s := strings.ToLower(state)
	switch {
	case strings.Contains(s, "letilmedi"):
		return StateUndelivered
	case strings.Contains(s, "letildi"):
		return StateDelivered
	case strings.Contains(s, "zaman") || strings.Contains(s, "timeout"):
		return StateTimedOut
	default:
		return StatePendingReport
	}
}
