// Package scorer talks to the typing-biometrics scoring API and adapts its
// replies into verification outcomes for the resolver.
package scorer

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxReplyBytes = 1 << 20

// VerifyReply is the body of a 2xx reply to POST /verify/{user}.
type VerifyReply struct {
	Message          string  `json:"message"`
	MessageCode      int     `json:"message_code"`
	Success          bool    `json:"success"`
	Result           bool    `json:"result"`
	Confidence       int     `json:"confidence"`
	NetScore         int     `json:"net_score"`
	DeviceSimilarity int     `json:"device_similarity"`
	Score            int     `json:"score"`
	Positions        []int   `json:"positions"`
	PreviousSamples  int     `json:"previous_samples"`
	ComparedSamples  int     `json:"compared_samples"`
	Status           int     `json:"status"`
	Action           string  `json:"action"`
	CustomField      *string `json:"custom_field"`
}

// AutoReply is the body of a 2xx reply to POST /auto/{user}.
type AutoReply struct {
	Status         int     `json:"status"`
	Message        string  `json:"message"`
	MessageCode    int     `json:"message_code"`
	Action         string  `json:"action"`
	Enrollment     bool    `json:"enrollment"`
	Result         bool    `json:"result"`
	HighConfidence bool    `json:"high_confidence"`
	CustomField    *string `json:"custom_field"`
}

// ErrorReply is the body of a non-2xx reply.
type ErrorReply struct {
	Name        string `json:"name"`
	Message     string `json:"message"`
	MessageCode int    `json:"message_code"`
	Status      int    `json:"status"`
}

type verifyRequest struct {
	TP      string `json:"tp"`
	Quality int    `json:"quality"`
}

type autoRequest struct {
	TP          string  `json:"tp"`
	CustomField *string `json:"custom_field,omitempty"`
}

// Client calls the scorer API with HTTP basic auth. Credentials are looked up
// per call by scorer key.
type Client struct {
	baseURL     string
	credentials map[string]string
	quality     int
	timeout     time.Duration
	httpClient  *http.Client
	tracer      trace.Tracer
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithQuality(q int) ClientOption {
	return func(cl *Client) {
		cl.quality = q
	}
}

// WithTimeout sets the per-call deadline. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func NewClient(baseURL string, credentials map[string]string, opts ...ClientOption) *Client {
	creds := make(map[string]string, len(credentials))
	for k, v := range credentials {
		creds[k] = v
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		credentials: creds,
		quality:     2,
		timeout:     5 * time.Second,
		httpClient:  &http.Client{},
		tracer:      otel.Tracer("visitorid/scorer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasKey reports whether credentials are configured for key.
func (c *Client) HasKey(key string) bool {
	_, ok := c.credentials[key]
	return ok
}

// Verify compares samples against the stored profile of user.
func (c *Client) Verify(ctx context.Context, key, user string, samples []string) (*VerifyReply, error) {
	var reply VerifyReply
	body := verifyRequest{TP: strings.Join(samples, ","), Quality: c.quality}
	if err := c.post(ctx, "verify", key, user, body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Auto runs the scorer's combined enroll-or-verify operation for user.
func (c *Client) Auto(ctx context.Context, key, user string, samples []string, customField *string) (*AutoReply, error) {
	var reply AutoReply
	body := autoRequest{TP: strings.Join(samples, ","), CustomField: customField}
	if err := c.post(ctx, "auto", key, user, body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) post(ctx context.Context, op, key, user string, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "scorer."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("scorer.user", user)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(GetCategory(err)))
		}
		span.End()
	}()

	secret, ok := c.credentials[key]
	if !ok {
		return newError(ErrorUnknownKey, fmt.Sprintf("no credentials for key %q", key), ErrUnknownKey)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return newError(ErrorInternal, "encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + op + "/" + url.PathEscape(user)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return newError(ErrorInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(key, secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return newError(ErrorTimeout, "scorer call timed out", err)
		}
		return newError(ErrorOutage, "scorer unreachable", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return newError(ErrorTimeout, "scorer reply timed out", err)
		}
		return newError(ErrorOutage, "read reply", err)
	}

	if resp.StatusCode/100 != 2 {
		return parseErrorReply(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(ErrorBadData, "decode reply", err)
	}
	return nil
}

func parseErrorReply(status int, raw []byte) error {
	var reply ErrorReply
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Name == "" {
		reply = ErrorReply{
			Name:    strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_")),
			Message: fmt.Sprintf("scorer replied %d", status),
			Status:  status,
		}
	}
	if reply.Status == 0 {
		reply.Status = status
	}
	return &Error{
		Category: categoryForStatus(status),
		Message:  reply.Message,
		Reply:    &reply,
	}
}
