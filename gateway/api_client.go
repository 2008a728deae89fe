package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIClient 访问行情/账户 REST 接口；HTTPClient 可注入 httptest。
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

// NewAPIClient 创建带默认超时的客户端。
func NewAPIClient(baseURL string, timeout time.Duration, limiter RateLimiter) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Limiter:    limiter,
	}
}

const maxBodyBytes = 8 << 20

// get 发起 GET 请求并返回响应体。网络错误、非 2xx 状态都归为传输错误。
func (c *APIClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, transportErr("rate limit", err)
		}
	}
	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, transportErr("GET "+path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportErr("read "+path, err)
	}
	if resp.StatusCode >= 300 {
		return nil, transportErr("GET "+path, fmt.Errorf("status %d", resp.StatusCode))
	}
	return body, nil
}
