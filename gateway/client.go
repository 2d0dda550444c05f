// Package gateway gewe网关的HTTP客户端
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"gewe-hub/metrics"
)

const (
	tokenHeader  = "X-GEWE-TOKEN"
	PathGetToken = "/tools/getTokenId"
	retOK        = 200
)

type (
	// Response 网关统一返回结构
	Response struct {
		Ret  int             `json:"ret"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}

	Client struct {
		http        *resty.Client
		appID       string
		staticToken string
		downloadURL string
		limit       *rate.Limiter
		log         *slog.Logger

		mu    sync.RWMutex
		token string
	}

	Option = func(*Client)
)

// WithToken 使用固定token，刷新时不再请求网关
func WithToken(token string) Option {
	return func(c *Client) {
		c.staticToken = token
		c.token = token
	}
}

// WithDownloadURL 网关文件下载服务地址
func WithDownloadURL(url string) Option {
	return func(c *Client) {
		c.downloadURL = strings.TrimRight(url, "/")
	}
}

func WithLimit(r rate.Limit, b int) Option {
	return func(c *Client) {
		c.limit = rate.NewLimiter(r, b)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(timeout)
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func New(baseURL string, appID string, options ...Option) *Client {
	c := &Client{
		http:  resty.New().SetBaseURL(strings.TrimRight(baseURL, "/")).SetTimeout(30 * time.Second),
		appID: appID,
		log:   slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	if c.limit == nil {
		c.limit = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return c
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// RefreshToken 获取新的token，配置了固定token时直接使用
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	metrics.GatewayTokenRefresh.Inc()
	if c.staticToken != "" {
		return c.staticToken, nil
	}
	resp, err := c.post(ctx, PathGetToken, nil, "")
	if err != nil {
		return "", err
	}
	var token string
	if err := json.Unmarshal(resp.Data, &token); err != nil || token == "" {
		return "", &ActionFailed{Path: PathGetToken, Ret: resp.Ret, Msg: "获取token失败: " + resp.Msg}
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.log.Info("已刷新网关token")
	return token, nil
}

// Call 调用网关接口，失败时刷新token后重试一次
func (c *Client) Call(ctx context.Context, path string, body map[string]any) (Response, error) {
	body = c.withAppID(body)
	resp, err := c.post(ctx, path, body, c.Token())
	if err != nil || resp.Ret != retOK {
		c.log.Warn("调用网关失败，刷新token后重试", "path", path, "error", err, "ret", resp.Ret)
		if _, terr := c.RefreshToken(ctx); terr != nil {
			c.log.Error("刷新token失败", "error", terr)
		}
		resp, err = c.post(ctx, path, body, c.Token())
	}
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(path, "network_error").Inc()
		return Response{}, err
	}
	if resp.Ret != retOK {
		metrics.GatewayCalls.WithLabelValues(path, "action_failed").Inc()
		return resp, &ActionFailed{Path: path, Ret: resp.Ret, Msg: resp.Msg}
	}
	metrics.GatewayCalls.WithLabelValues(path, "ok").Inc()
	return resp, nil
}

// CallInto 调用并解析data字段
func (c *Client) CallInto(ctx context.Context, path string, body map[string]any, data any) error {
	resp, err := c.Call(ctx, path, body)
	if err != nil {
		return err
	}
	if data == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, data); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}

func (c *Client) withAppID(body map[string]any) map[string]any {
	out := make(map[string]any, len(body)+1)
	maps.Copy(out, body)
	if _, ok := out["appId"]; !ok && c.appID != "" {
		out["appId"] = c.appID
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, token string) (Response, error) {
	req := c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if token != "" {
		req.SetHeader(tokenHeader, token)
	}
	if body != nil {
		req.SetBody(body)
	}
	c.log.Debug("调用网关", "path", path)
	raw, err := req.Post(path)
	if err != nil {
		return Response{}, &NetworkError{Path: path, Err: err}
	}
	if raw.StatusCode() != http.StatusOK {
		return Response{}, &NetworkError{Path: path, Status: raw.StatusCode()}
	}
	var resp Response
	if err := json.Unmarshal(raw.Body(), &resp); err != nil {
		return Response{}, &NetworkError{Path: path, Status: raw.StatusCode(), Err: err}
	}
	return resp, nil
}

// wait 限流最大等待，超时后照常发送
func (c *Client) wait(ctx context.Context, n int, max time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()
	_ = c.limit.WaitN(ctx, n)
}

// Fetch 下载资源内容
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &NetworkError{Path: url, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &NetworkError{Path: url, Status: resp.StatusCode()}
	}
	return resp.Body(), nil
}

// IsRetryable 网络错误可以稍后重试，业务失败不应重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
