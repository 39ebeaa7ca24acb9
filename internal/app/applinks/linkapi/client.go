package linkapi

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
	"runtime"
	"strconv"
	"strings"
	"time"

	"applinks.local/internal/app/applinks/deeplink"
	"applinks.local/internal/platform/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Version 写进 User-Agent。
const Version = "0.3.0"

const defaultTimeout = 10 * time.Second

// APIError 是解析服务返回的失败。
//
// Kind 是 deeplink 里的错误分类，errors.Is(err, deeplink.ErrNotFound) 这类判断通过 Unwrap 生效。
type APIError struct {
	Kind    error
	Status  int // 传输失败时为 0
	Message string
}

func (e *APIError) Error() string { return e.Message }
func (e *APIError) Unwrap() error { return e.Kind }

// Client 是远端解析服务的 HTTP/JSON 客户端。
//
// 不做重试、不做幂等键：每次调用都是一个新请求，超时交给 http.Client。
type Client struct {
	serverURL string
	apiKey    string
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

type Option func(*Client)

// WithHTTPClient 使用 hc 的浅拷贝，之后的 WithTimeout 不会改到调用方共享的 client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			return
		}
		cp := *hc
		c.http = &cp
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func New(serverURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: fmt.Sprintf("applinks-go/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RetrieveLink 根据完整 URL 取回链接详情：POST /api/v1/links/retrieve
func (c *Client) RetrieveLink(ctx context.Context, linkURL string) (Link, error) {
	c.logger.Debug("retrieving link", "url", linkURL)
	var out Link
	err := c.do(ctx, "retrieve", http.MethodPost, "/api/v1/links/retrieve", RetrieveLinkRequest{URL: linkURL}, "link", &out)
	return out, err
}

// FetchVisitDetails 查询一次 visit：GET /api/v1/visits/{id}
func (c *Client) FetchVisitDetails(ctx context.Context, visitID string) (Visit, error) {
	c.logger.Debug("fetching visit", "visit_id", visitID)
	var out Visit
	err := c.do(ctx, "visit", http.MethodGet, "/api/v1/visits/"+url.PathEscape(visitID), nil, "visit", &out)
	return out, err
}

// CreateLink 创建短链：POST /api/v1/links
func (c *Client) CreateLink(ctx context.Context, req CreateLinkRequest) (Link, error) {
	c.logger.Debug("creating link", "title", req.Link.Title, "domain", req.Domain)
	var out Link
	err := c.do(ctx, "create", http.MethodPost, "/api/v1/links", req, "link", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, resource string, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &APIError{Kind: deeplink.ErrValidation, Message: "marshal request: " + err.Error()}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return &APIError{Kind: deeplink.ErrNetwork, Message: "create request: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.APIRequests.WithLabelValues(op, "network").Inc()
		c.logger.Error("network error", "op", op, "err", err)
		return &APIError{Kind: deeplink.ErrNetwork, Message: "Network error: " + err.Error()}
	}
	defer resp.Body.Close()
	metrics.APIRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: deeplink.ErrNetwork, Status: resp.StatusCode, Message: "Network error: read response: " + err.Error()}
	}
	c.logger.Debug("response", "op", op, "status", resp.StatusCode)

	return decodeResponse(resp.StatusCode, respBody, resource, out)
}

// decodeResponse 把状态码和响应体映射成结果或 APIError。
func decodeResponse(status int, body []byte, resource string, out any) error {
	switch status {
	case http.StatusOK, http.StatusCreated:
		if len(bytes.TrimSpace(body)) == 0 {
			return &APIError{Kind: deeplink.ErrDecode, Status: status, Message: "Empty response body"}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &APIError{Kind: deeplink.ErrDecode, Status: status, Message: "Failed to parse response: " + err.Error()}
		}
		return nil
	case http.StatusBadRequest:
		msg := "Bad request"
		if m, ok := errorMessage(body); ok {
			msg = m
		}
		return &APIError{Kind: deeplink.ErrValidation, Status: status, Message: msg}
	case http.StatusUnauthorized:
		return &APIError{Kind: deeplink.ErrAuth, Status: status, Message: "Unauthorized: Invalid or missing API token"}
	case http.StatusForbidden:
		return &APIError{Kind: deeplink.ErrAuth, Status: status, Message: "Forbidden: Access denied"}
	case http.StatusNotFound:
		return &APIError{Kind: deeplink.ErrNotFound, Status: status, Message: capitalize(resource) + " not found"}
	default:
		msg := fmt.Sprintf("Server error: %d", status)
		if m, ok := errorMessage(body); ok {
			msg = m
		}
		return &APIError{Kind: deeplink.ErrServer, Status: status, Message: msg}
	}
}

func errorMessage(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Message == "" {
		return "", false
	}
	return er.Error.Message, true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// StatusOf 取出 APIError 的状态码，其他错误返回 0。
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
