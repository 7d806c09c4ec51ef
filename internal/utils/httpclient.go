package utils

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sony/gobreaker/v2"

	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/metrics"
)

// ErrHTTPNotFound 远端返回 404，调用方通常把它当成"查无此条"而不是故障
var ErrHTTPNotFound = errors.New("remote resource not found")

// maxBodySize 单个响应体上限
const maxBodySize = 16 << 20

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 medialib/1.0"

// HTTPStatusError 非 2xx 响应
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("请求失败，状态码: %d (%s)", e.StatusCode, e.URL)
}

// RequestOption 单次请求的附加设置
type RequestOption func(*http.Request)

// WithHeader 设置请求头
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithBearer 设置 Authorization: Bearer
func WithBearer(token string) RequestOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithToken 设置 Authorization: Token（Readwise、Paperless 用这种格式）
func WithToken(token string) RequestOption {
	return WithHeader("Authorization", "Token "+token)
}

// HTTPClient 外部 API 客户端，每个实例带一个独立熔断器
type HTTPClient struct {
	name       string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	userAgent  string
}

// NewHTTPClient 创建 HTTP 客户端，name 用作熔断器名称和指标标签
func NewHTTPClient(name string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 404 和调用方主动取消不算远端故障
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrHTTPNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[HTTP] 熔断器状态变化")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &HTTPClient{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		userAgent:  defaultUserAgent,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Name 客户端名称
func (c *HTTPClient) Name() string {
	return c.name
}

// Do 发送请求并返回响应体；熔断打开时直接返回 gobreaker.ErrOpenState
func (c *HTTPClient) Do(ctx context.Context, method, url string, body []byte, opts ...RequestOption) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("创建请求失败: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept-Encoding", "gzip, deflate")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for _, opt := range opts {
			opt(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrHTTPNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
		}
		return readBody(resp)
	})
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("创建gzip读取器失败: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	default:
		reader = resp.Body
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return data, nil
}

// GetJSON 发送 GET 请求并解析 JSON 响应
func (c *HTTPClient) GetJSON(ctx context.Context, url string, target interface{}, opts ...RequestOption) error {
	opts = append([]RequestOption{WithHeader("Accept", "application/json")}, opts...)
	body, err := c.Do(ctx, http.MethodGet, url, nil, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		logging.Debug().Err(err).Str("url", url).Bytes("body", truncate(body, 512)).Msg("[HTTP] 解析JSON失败")
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// PostJSON 发送 JSON 请求体，target 为 nil 时忽略响应
func (c *HTTPClient) PostJSON(ctx context.Context, url string, payload, target interface{}, opts ...RequestOption) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	opts = append([]RequestOption{WithHeader("Accept", "application/json")}, opts...)
	body, err := c.Do(ctx, http.MethodPost, url, data, opts...)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// GetBytes 原始响应体（RSS 等非 JSON 内容）
func (c *HTTPClient) GetBytes(ctx context.Context, url string, opts ...RequestOption) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, url, nil, opts...)
}

// GetDocument 抓取网页并解析为 goquery 文档
func (c *HTTPClient) GetDocument(ctx context.Context, url string, opts ...RequestOption) (*goquery.Document, error) {
	opts = append([]RequestOption{
		WithHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"),
		WithHeader("Accept-Language", "en-US,en;q=0.9,zh-CN;q=0.8"),
	}, opts...)
	body, err := c.Do(ctx, http.MethodGet, url, nil, opts...)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}
	return doc, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
