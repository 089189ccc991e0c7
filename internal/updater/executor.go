// Package updater 执行固件更新：按 URL 下载或写入推送的二进制流。
package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"thinx-client/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Result 更新执行结果
type Result int

const (
	NoUpdate Result = iota
	Success
	Failed
)

func (r Result) String() string {
	switch r {
	case NoUpdate:
		return "no_update"
	case Success:
		return "success"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source 更新来源：URL 或带长度的数据流（二者取其一）
type Source struct {
	URL    string
	Reader io.Reader
	Length int64
}

// Executor 更新执行器契约
// 返回 Success 后调用方负责重启进程。
type Executor interface {
	Apply(ctx context.Context, src Source) (Result, error)
}

// Config 执行器配置
type Config struct {
	BaseURL      string        // 无 scheme 的目标按此地址解析
	FallbackURL  string        // 主下载失败后的备用地址，可为空
	FirmwarePath string        // 固件镜像写入位置
	Timeout      time.Duration // 单次下载超时
	Version      string        // 通过请求头告知服务端当前版本
}

// HTTPExecutor 基于 resty 的更新执行器
type HTTPExecutor struct {
	cfg        Config
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPExecutor 创建更新执行器
func NewHTTPExecutor(cfg Config, logger *zap.Logger) *HTTPExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "THiNX-Client").
		SetDoNotParseResponse(true)
	if cfg.Version != "" {
		client.SetHeader("X-Firmware-Version", cfg.Version)
	}

	return &HTTPExecutor{
		cfg:        cfg,
		httpClient: client,
		logger:     logger,
	}
}

// Apply 执行更新；失败时返回的错误包装 models.ErrUpdateFailed
func (e *HTTPExecutor) Apply(ctx context.Context, src Source) (Result, error) {
	if src.Reader != nil {
		return e.applyStream(src.Reader, src.Length)
	}
	if src.URL == "" {
		return NoUpdate, nil
	}

	target := e.Resolve(src.URL)
	res, err := e.download(ctx, target)
	if res == Success || e.cfg.FallbackURL == "" || e.cfg.FallbackURL == target {
		return res, err
	}

	e.logger.Warn("Primary firmware download did not succeed, trying fallback",
		zap.String("url", target),
		zap.String("fallback_url", e.cfg.FallbackURL),
		zap.String("result", res.String()),
		zap.Error(err),
	)
	return e.download(ctx, e.cfg.FallbackURL)
}

// Resolve 带 scheme 的 URL 原样使用，否则拼接到 BaseURL
func (e *HTTPExecutor) Resolve(target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	base := strings.TrimSuffix(e.cfg.BaseURL, "/")
	return base + "/" + strings.TrimPrefix(target, "/")
}

func (e *HTTPExecutor) download(ctx context.Context, url string) (Result, error) {
	e.logger.Info("Downloading firmware", zap.String("url", url))

	resp, err := e.httpClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return Failed, fmt.Errorf("%w: download %s: %v", models.ErrUpdateFailed, url, err)
	}
	body := resp.RawBody()
	defer body.Close()

	switch {
	case resp.StatusCode() == http.StatusNotModified || resp.StatusCode() == http.StatusNoContent:
		e.logger.Info("Server reports no update", zap.String("url", url), zap.Int("status_code", resp.StatusCode()))
		return NoUpdate, nil
	case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
		return Failed, fmt.Errorf("%w: download %s: status %d", models.ErrUpdateFailed, url, resp.StatusCode())
	}

	length := resp.RawResponse.ContentLength
	return e.applyStream(body, length)
}

// applyStream 写入临时文件，长度校验通过后替换固件镜像
func (e *HTTPExecutor) applyStream(r io.Reader, length int64) (Result, error) {
	dir := filepath.Dir(e.cfg.FirmwarePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Failed, fmt.Errorf("%w: %v", models.ErrUpdateFailed, err)
	}

	staging := e.cfg.FirmwarePath + ".new"
	f, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return Failed, fmt.Errorf("%w: open staging: %v", models.ErrUpdateFailed, err)
	}

	var written int64
	if length > 0 {
		written, err = io.CopyN(f, r, length)
	} else {
		written, err = io.Copy(f, r)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(staging)
		return Failed, fmt.Errorf("%w: write image: %v (%d bytes written)", models.ErrUpdateFailed, err, written)
	}
	if written == 0 {
		os.Remove(staging)
		return Failed, fmt.Errorf("%w: empty firmware image", models.ErrUpdateFailed)
	}

	if err := os.Rename(staging, e.cfg.FirmwarePath); err != nil {
		os.Remove(staging)
		return Failed, fmt.Errorf("%w: install image: %v", models.ErrUpdateFailed, err)
	}

	e.logger.Info("Firmware image installed",
		zap.String("path", e.cfg.FirmwarePath),
		zap.Int64("bytes", written),
	)
	return Success, nil
}
