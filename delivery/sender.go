package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hypothesize-tech/courier/subscription"
)

const (
	maxResponseBody = 1024 // 1KB cap on response body storage
	maxRedirects    = 3

	// DefaultTimeout bounds an attempt when the subscription sets none.
	DefaultTimeout = 15 * time.Second
)

// Result is the raw outcome of one HTTP attempt, before classification.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	LatencyMs  int64
	Err        error
}

// Sender performs the HTTP POST for one delivery attempt.
type Sender struct {
	client  *http.Client
	headers *HeaderBuilder
}

// NewSender creates a sender. The client timeout is a ceiling; each
// attempt is further bounded by the subscription's own timeout.
func NewSender(headers *HeaderBuilder, maxTimeout time.Duration) *Sender {
	if maxTimeout <= 0 {
		maxTimeout = DefaultTimeout
	}
	return &Sender{
		client: &http.Client{
			Timeout: maxTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		headers: headers,
	}
}

// Send POSTs the delivery body to the subscription's URL and records the
// request and response snapshots on d. Any response, regardless of
// status, is captured with its body truncated to the storage cap.
func (s *Sender) Send(ctx context.Context, sub *subscription.Subscription, d *Delivery) Result {
	timeout := sub.Timeout
	if timeout <= 0 || timeout > s.client.Timeout {
		timeout = s.client.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(d.Body))
	if err != nil {
		return Result{Err: err}
	}

	headers := s.headers.Build(sub, d, d.Body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	d.Request = &RequestSnapshot{
		URL:     sub.URL,
		Method:  http.MethodPost,
		Headers: headers,
		Body:    string(d.Body),
		SentAt:  start,
	}

	resp, err := s.client.Do(req) //nolint:gosec // G704: the destination URL comes from the subscription
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{Err: err, LatencyMs: latency}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return Result{StatusCode: resp.StatusCode, Err: readErr, LatencyMs: latency}
	}

	res := Result{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       string(body),
		LatencyMs:  latency,
	}

	d.Response = &ResponseSnapshot{
		StatusCode:     res.StatusCode,
		Headers:        res.Headers,
		Body:           res.Body,
		ResponseTimeMs: latency,
		ReceivedAt:     time.Now(),
	}

	return res
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
