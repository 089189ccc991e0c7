package models

import "fmt"

// EnvelopeKind 报文根键类型
type EnvelopeKind string

const (
	KindUnknown      EnvelopeKind = "unknown"
	KindRegistration EnvelopeKind = "registration"
	KindUpdate       EnvelopeKind = "update"
	KindNotification EnvelopeKind = "notification"
)

// Envelope 解码后的报文：根键 + 字段表（string / bool / number）
type Envelope struct {
	Kind   EnvelopeKind
	Fields map[string]any
}

// String 读取字段并转为字符串；缺失返回 ""
func (e Envelope) String(key string) string {
	v, ok := e.Fields[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Bool 读取布尔字段；字符串 "true"/"yes"/"1" 视为 true
func (e Envelope) Bool(key string) (bool, bool) {
	v, ok := e.Fields[key]
	if !ok || v == nil {
		return false, false
	}
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		return val == "true" || val == "yes" || val == "1", true
	case float64:
		return val != 0, true
	default:
		return false, false
	}
}

// Has 字段是否存在
func (e Envelope) Has(key string) bool {
	_, ok := e.Fields[key]
	return ok
}

// UpdateSource 更新意图来源
type UpdateSource string

const (
	SourceHTTPResponse  UpdateSource = "http"
	SourceMessagingPush UpdateSource = "mqtt"
)

// UpdateIntent 可执行的更新意图，由更新执行器消费一次
type UpdateIntent struct {
	TargetURL       string
	ExpectedCommit  string
	ExpectedVersion string
	Source          UpdateSource
}

// CheckinRequest check-in 请求体 {"registration": {...}}
type CheckinRequest struct {
	Registration CheckinRegistration `json:"registration"`
}

// CheckinRegistration check-in 字段，字段名属于协议约定
type CheckinRegistration struct {
	MAC      string `json:"mac"`
	Firmware string `json:"firmware"`
	Version  string `json:"version"`
	Commit   string `json:"commit"`
	Owner    string `json:"owner"`
	Alias    string `json:"alias"`
	UDID     string `json:"udid,omitempty"`
	Platform string `json:"platform"`
}
