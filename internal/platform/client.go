package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/weasel/comparator/pkg/requestid"
)

const (
	// DefaultRequestTimeout bounds every call made to the platform
	DefaultRequestTimeout = 30 * time.Second

	handshakePath  = "/platform"
	jobsPath       = "/cmp"
	messagePath    = "/cmp/message/"
	comparisonPath = "/cmp/job/"
)

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrNotReady      = errors.New("platform is not ready")
)

// Client is the set of platform operations the comparator depends on.
type Client interface {
	// Handshake checks that the platform is reachable and ready.
	Handshake(ctx context.Context) error
	// ListPendingJobs returns the comparison jobs waiting to be processed.
	ListPendingJobs(ctx context.Context) ([]ComparisonJob, error)
	// PublishArtifact submits the JSON representation of one message.
	PublishArtifact(ctx context.Context, messageID string, payload []byte) error
	// PublishComparison submits the JSON output of one comparison job.
	PublishComparison(ctx context.Context, jobID string, payload []byte) error
}

// Config holds the information needed to connect to the platform API.
type Config struct {
	// Server is the URL of the platform API
	Server string
	// Timeout bounds each request. Zero means DefaultRequestTimeout.
	Timeout time.Duration
}

var _ Client = (*httpClient)(nil)

type httpClient struct {
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
}

// NewFromConfig returns a platform client talking HTTP to cfg.Server.
func NewFromConfig(cfg Config) (Client, error) {
	u, err := url.Parse(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("NewFromConfig: parsing server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("NewFromConfig: server url %q must have a scheme and a host", cfg.Server)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &httpClient{
		baseURL: u,
		timeout: timeout,
		client:  NewHTTPClient(),
	}, nil
}

// NewHTTPClient returns the HTTP client used to reach the platform.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func (c *httpClient) Handshake(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, handshakePath, nil)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var reply handshakeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		// the platform answered, that is all a handshake requires
		return nil
	}
	if reply.Ready != nil && !*reply.Ready {
		return ErrNotReady
	}
	return nil
}

func (c *httpClient) ListPendingJobs(ctx context.Context) ([]ComparisonJob, error) {
	body, err := c.do(ctx, http.MethodGet, jobsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("list comparison jobs failed: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}
	var jobs []ComparisonJob
	if err := json.Unmarshal(body, &jobs); err != nil {
		return nil, fmt.Errorf("decoding comparison jobs: %w", err)
	}
	return jobs, nil
}

func (c *httpClient) PublishArtifact(ctx context.Context, messageID string, payload []byte) error {
	if _, err := c.do(ctx, http.MethodPatch, messagePath+url.PathEscape(messageID), payload); err != nil {
		return fmt.Errorf("submit message %s failed: %w", messageID, err)
	}
	return nil
}

func (c *httpClient) PublishComparison(ctx context.Context, jobID string, payload []byte) error {
	if _, err := c.do(ctx, http.MethodPatch, comparisonPath+url.PathEscape(jobID), payload); err != nil {
		return fmt.Errorf("submit comparison %s failed: %w", jobID, err)
	}
	return nil
}

func (c *httpClient) do(ctx context.Context, method, route string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(route), reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set(middleware.RequestIDHeader, requestid.FromContextOrNew(ctx))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return body, nil
}

func (c *httpClient) endpoint(route string) string {
	return strings.TrimSuffix(c.baseURL.String(), "/") + route
}
