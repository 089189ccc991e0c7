// Package transport 设备 check-in 的 HTTP 传输
package transport

import (
	"context"
	"fmt"
	"time"

	"thinx-client/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterPath check-in 接口路径
const RegisterPath = "/device/register"

// Checkin check-in 传输契约：发送编码后的请求体，返回原始响应体
type Checkin interface {
	Send(ctx context.Context, apiKey string, body []byte) ([]byte, error)
}

// CheckinClient 基于 resty 的 check-in 客户端
type CheckinClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewCheckinClient 创建 check-in 客户端
func NewCheckinClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CheckinClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Origin", "device").
		SetHeader("User-Agent", "THiNX-Client")

	return &CheckinClient{
		httpClient: client,
		logger:     logger,
	}
}

// Send POST /device/register
// 非 2xx 响应体仍然返回给解码器：平台可能在错误状态码中携带 registration 报文。
func (c *CheckinClient) Send(ctx context.Context, apiKey string, body []byte) ([]byte, error) {
	requestID := uuid.New().String()

	c.logger.Debug("Sending check-in",
		zap.String("request_id", requestID),
		zap.Int("body_size", len(body)),
	)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Authentication", apiKey).
		SetHeader("X-Request-Id", requestID).
		SetBody(body).
		Post(RegisterPath)
	if err != nil {
		c.logger.Warn("Check-in request failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: check-in: %v", models.ErrTransport, err)
	}

	raw := resp.Body()
	if resp.IsError() {
		c.logger.Warn("Check-in returned error status",
			zap.String("request_id", requestID),
			zap.Int("status_code", resp.StatusCode()),
		)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty check-in response (status %d)", models.ErrTransport, resp.StatusCode())
	}

	c.logger.Debug("Check-in response received",
		zap.String("request_id", requestID),
		zap.Int("status_code", resp.StatusCode()),
		zap.Int("body_size", len(raw)),
	)
	return raw, nil
}
