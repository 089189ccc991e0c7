// Package classifier 将解码后的报文校验并转换为类型化记录。
package classifier

import (
	"fmt"
	"strings"

	"thinx-client/internal/models"
)

// Registration 状态值
const (
	StatusOK             = "OK"
	StatusFirmwareUpdate = "FIRMWARE_UPDATE"
)

// Record 类型化记录：*Registration / *Update / *Notification
type Record interface {
	Kind() models.EnvelopeKind
}

// Registration 注册/check-in 应答
type Registration struct {
	Success    bool
	HasSuccess bool
	Status     string
	Alias      string
	Owner      string
	UDID       string
	Commit     string
	Version    string
	URL        string
	MAC        string
}

// Update 更新推送
type Update struct {
	MAC     string
	Commit  string
	Version string
	URL     string
}

// Notification 用户对更新询问的回复
type Notification struct {
	ResponseType string
	Response     any
}

func (*Registration) Kind() models.EnvelopeKind { return models.KindRegistration }
func (*Update) Kind() models.EnvelopeKind       { return models.KindUpdate }
func (*Notification) Kind() models.EnvelopeKind { return models.KindNotification }

// Approval 解析通知中的回复：approved 表示同意，ok=false 表示无法识别
func (n *Notification) Approval() (approved bool, ok bool) {
	switch strings.ToLower(n.ResponseType) {
	case "bool", "boolean":
		switch v := n.Response.(type) {
		case bool:
			return v, true
		case string:
			return v == "true", v == "true" || v == "false"
		}
	case "string":
		if s, isString := n.Response.(string); isString {
			switch s {
			case "yes":
				return true, true
			case "no":
				return false, true
			}
		}
	}
	return false, false
}

func invalid(kind models.EnvelopeKind, reason string) error {
	return fmt.Errorf("%w: %w: %s envelope %s", models.ErrDecode, models.ErrValidation, kind, reason)
}

// Classify 校验报文并提取字段；可选字段缺失时取空值
func Classify(env models.Envelope) (Record, error) {
	switch env.Kind {
	case models.KindRegistration:
		if !env.Has("status") && !env.Has("success") {
			return nil, invalid(env.Kind, "missing success/status marker")
		}
		success, hasSuccess := env.Bool("success")
		return &Registration{
			Success:    success,
			HasSuccess: hasSuccess,
			Status:     env.String("status"),
			Alias:      env.String("alias"),
			Owner:      env.String("owner"),
			UDID:       env.String("udid"),
			Commit:     env.String("commit"),
			Version:    env.String("version"),
			URL:        env.String("url"),
			MAC:        env.String("mac"),
		}, nil

	case models.KindUpdate:
		return &Update{
			MAC:     env.String("mac"),
			Commit:  env.String("commit"),
			Version: env.String("version"),
			URL:     env.String("url"),
		}, nil

	case models.KindNotification:
		if !env.Has("response_type") || !env.Has("response") {
			return nil, invalid(env.Kind, "missing response_type/response")
		}
		return &Notification{
			ResponseType: env.String("response_type"),
			Response:     env.Fields["response"],
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown envelope kind %q", models.ErrDecode, env.Kind)
	}
}
