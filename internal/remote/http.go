package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vidfriends/mutualsync/internal/models"
)

const maxResponseBytes = 8 << 20

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL      string
	Token        string
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Pacer, when set, is waited on before every retry so retries share the
	// dispatch rate ceiling with first attempts.
	Pacer Pacer
}

// Pacer admits outgoing requests. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// HTTPClient talks JSON to the graph API:
//
//	GET  {base}/friends           -> {"friends":[Person...]}
//	GET  {base}/groups            -> {"groups":[Group...]}
//	POST {base}/memberships:batch <- BatchRequest -> {"groups":[{"groupId":..,"memberIds":[..]}]}
type HTTPClient struct {
	baseURL *url.URL
	token   string
	client  *retryablehttp.Client
	logger  *slog.Logger
}

// NewHTTPClient constructs a Service backed by the graph HTTP API.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("remote: base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Pacer != nil {
		pacer := cfg.Pacer
		client.PrepareRetry = func(req *http.Request) error {
			return pacer.Wait(req.Context())
		}
	}
	client.Logger = slogLeveled{inner: logger}
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		logger.Debug("graph response received", "url", resp.Request.URL.String(), "status", resp.StatusCode)
	}

	return &HTTPClient{baseURL: base, token: cfg.Token, client: client, logger: logger}, nil
}

// FetchFriends implements Service.
func (c *HTTPClient) FetchFriends(ctx context.Context) ([]models.Person, error) {
	var payload struct {
		Friends []models.Person `json:"friends"`
	}
	if err := c.do(ctx, "fetch friends", http.MethodGet, "/friends", nil, &payload); err != nil {
		return nil, err
	}
	for i, p := range payload.Friends {
		if strings.TrimSpace(p.ID) == "" {
			return nil, &ParseError{Op: "fetch friends", Err: fmt.Errorf("friend %d has no id", i)}
		}
	}
	return payload.Friends, nil
}

// FetchGroups implements Service.
func (c *HTTPClient) FetchGroups(ctx context.Context) ([]models.Group, error) {
	var payload struct {
		Groups []models.Group `json:"groups"`
	}
	if err := c.do(ctx, "fetch groups", http.MethodGet, "/groups", nil, &payload); err != nil {
		return nil, err
	}
	for i, g := range payload.Groups {
		if strings.TrimSpace(g.ID) == "" {
			return nil, &ParseError{Op: "fetch groups", Err: fmt.Errorf("group %d has no id", i)}
		}
	}
	return payload.Groups, nil
}

// FetchMembershipBatch implements Service.
func (c *HTTPClient) FetchMembershipBatch(ctx context.Context, req BatchRequest) (models.MembershipBatch, error) {
	var payload struct {
		Groups []struct {
			GroupID   string   `json:"groupId"`
			MemberIDs []string `json:"memberIds"`
		} `json:"groups"`
	}
	if err := c.do(ctx, "fetch membership batch", http.MethodPost, "/memberships:batch", req, &payload); err != nil {
		return nil, err
	}
	out := make(models.MembershipBatch, len(payload.Groups))
	for _, g := range payload.Groups {
		if g.GroupID == "" {
			return nil, &ParseError{Op: "fetch membership batch", Err: errors.New("group entry without id")}
		}
		out[g.GroupID] = append(out[g.GroupID], g.MemberIDs...)
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("remote %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Classify(op, fmt.Errorf("read body: %w", err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{Op: op, Err: err}
	}
	return nil
}

// slogLeveled adapts slog to retryablehttp.LeveledLogger.
type slogLeveled struct {
	inner *slog.Logger
}

func (l slogLeveled) Error(msg string, keysAndValues ...any) { l.inner.Error(msg, keysAndValues...) }
func (l slogLeveled) Info(msg string, keysAndValues ...any)  { l.inner.Info(msg, keysAndValues...) }
func (l slogLeveled) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }
func (l slogLeveled) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }

var _ Service = (*HTTPClient)(nil)
