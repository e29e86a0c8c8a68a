package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const apiKeyHeader = "xi-api-key"

// ClientOptions configures the HTTP client.
type ClientOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RatePerSecond and Burst bound outbound requests across all operations.
	RatePerSecond float64
	Burst         int
	Retry         RetryConfig
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client implements Provider over HTTP+JSON.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   RetryConfig
	log     *slog.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" || opts.APIKey == "" {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, eris.Wrap(err, "provider: parse base url")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:    base,
		apiKey:  opts.APIKey,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		retry:   opts.Retry,
		log:     log.With("component", "provider"),
	}, nil
}

func (c *Client) Name() string { return "voice-provider" }

func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := retryVal(ctx, c.retry, c.log, "health", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.doJSON(ctx, "health", http.MethodGet, "/v1/user", nil, nil)
	})
	return err
}

func (c *Client) SubmitBatch(ctx context.Context, req SubmitBatchRequest) (Batch, error) {
	if req.AgentID == "" || len(req.Recipients) == 0 {
		return Batch{}, ErrInvalidArgument
	}
	// Submission is not idempotent on the provider side, so it is attempted once.
	var out Batch
	if err := c.doJSON(ctx, "submit batch", http.MethodPost, "/v1/convai/batch-calling/submit", req, &out); err != nil {
		return Batch{}, err
	}
	return out, nil
}

func (c *Client) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	if batchID == "" {
		return Batch{}, ErrInvalidArgument
	}
	return retryVal(ctx, c.retry, c.log, "get batch", func(ctx context.Context) (Batch, error) {
		var out Batch
		err := c.doJSON(ctx, "get batch", http.MethodGet, "/v1/convai/batch-calling/"+url.PathEscape(batchID), nil, &out)
		return out, err
	})
}

func (c *Client) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if conversationID == "" {
		return Conversation{}, ErrInvalidArgument
	}
	return retryVal(ctx, c.retry, c.log, "get conversation", func(ctx context.Context) (Conversation, error) {
		var out Conversation
		err := c.doJSON(ctx, "get conversation", http.MethodGet, "/v1/convai/conversations/"+url.PathEscape(conversationID), nil, &out)
		return out, err
	})
}

func (c *Client) GetConversationAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error) {
	if conversationID == "" {
		return nil, "", ErrInvalidArgument
	}
	type audio struct {
		body        io.ReadCloser
		contentType string
	}
	a, err := retryVal(ctx, c.retry, c.log, "get audio", func(ctx context.Context) (audio, error) {
		resp, err := c.do(ctx, "get audio", http.MethodGet, "/v1/convai/conversations/"+url.PathEscape(conversationID)+"/audio", nil)
		if err != nil {
			return audio{}, err
		}
		ct := resp.Header.Get("Content-Type")
		if ct == "" {
			ct = "audio/mpeg"
		}
		return audio{body: resp.Body, contentType: ct}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return a.body, a.contentType, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return eris.Wrapf(err, "provider: %s: marshal", op)
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &IOError{Op: op, Err: eris.Wrap(err, "decode response")}
	}
	return nil
}

// do sends one rate-limited request. A non-2xx response is returned as an
// *IOError with the body closed; 404 also matches ErrNotFound.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "provider: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: %s: build request", op)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &IOError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	_ = resp.Body.Close()
	cause := errors.New(strings.TrimSpace(string(msg)))
	if resp.StatusCode == http.StatusNotFound {
		cause = ErrNotFound
	}
	return nil, &IOError{Op: op, StatusCode: resp.StatusCode, Err: cause}
}

// IsNotFound reports whether err is a 404 from the provider.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
