// Package fetch wraps a resty client in the retry and response-validation
// policy shared by every upstream JSON endpoint this backend talks to.
// Upstreams are flaky in characteristic ways: transient 5xx, rate-limit
// 429s, and 200s carrying an HTML error page instead of JSON.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dzr-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lib/fetch")

const maxAttempts = 5
const snippetLength = 200

// Error is returned once retries are exhausted or on a non-retryable
// response. Snippet holds the first bytes of the offending body so the
// failure can be diagnosed without replaying the request.
type Error struct {
	Url         string
	StatusCode  int
	ContentType string
	Snippet     string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("fetch %s: %s", e.Url, e.cause.Error())
	}
	if e.Snippet != "" {
		return fmt.Sprintf(
			"fetch %s: expected JSON but got status=%d content-type=%q, body starts with: %s",
			e.Url, e.StatusCode, e.ContentType, e.Snippet,
		)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.Url, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.cause
}

type Client struct {
	http    *resty.Client
	backoff time.Duration
}

type Option func(*Client)

// WithBackoff overrides the initial backoff interval, mainly so tests
// don't sleep.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

func NewClient(opts ...Option) *Client {
	client := resty.New()
	client.SetTimeout(time.Second * 20)
	telemetry.InstrumentResty(client, "lib/fetch")

	c := &Client{
		http:    client,
		backoff: time.Millisecond * 500,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch GETs a JSON resource, retrying transport errors, 429/5xx
// statuses and unparseable bodies with exponential backoff, up to 5
// attempts. A 204 or empty body yields (nil, nil). Other non-2xx
// statuses fail immediately.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string, params map[string]string) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	hdr := map[string]string{}
	for k, v := range headers {
		hdr[k] = v
	}
	if _, ok := hdr["Accept"]; !ok {
		hdr["Accept"] = "application/json, text/plain, */*"
	}
	if _, ok := hdr["User-Agent"]; !ok {
		hdr["User-Agent"] = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	}

	var lastErr error
	wait := c.backoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		payload, retryable, err := c.fetchOnce(ctx, url, hdr, params)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !retryable {
			span.RecordError(err)
			span.SetStatus(codes.Error, "non-retryable fetch failure")
			return nil, err
		}
		span.AddEvent("retrying", trace.WithAttributes(attribute.Int("attempt", attempt)))
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "retries exhausted")
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string, headers map[string]string, params map[string]string) (json.RawMessage, bool, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		return nil, true, &Error{Url: url, cause: err}
	}

	status := res.StatusCode()
	if status < 200 || status > 299 {
		retryable := status == 429 || status >= 500
		return nil, retryable, &Error{
			Url:        url,
			StatusCode: status,
			Snippet:    snippet(res.Body()),
		}
	}

	body := bytes.TrimSpace(res.Body())
	if status == 204 || len(body) == 0 {
		return nil, false, nil
	}

	contentType := strings.ToLower(res.Header().Get("Content-Type"))
	looksLikeJson := body[0] == '{' || body[0] == '['
	if strings.Contains(contentType, "application/json") || looksLikeJson {
		if !json.Valid(body) {
			return nil, true, &Error{
				Url:         url,
				StatusCode:  status,
				ContentType: contentType,
				Snippet:     snippet(body),
			}
		}
		return json.RawMessage(body), false, nil
	}

	// a 200 that is neither JSON-typed nor JSON-shaped is usually an
	// upstream error page; surface it instead of returning empty data
	return nil, true, &Error{
		Url:         url,
		StatusCode:  status,
		ContentType: contentType,
		Snippet:     snippet(body),
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLength {
		return s[:snippetLength]
	}
	return s
}
