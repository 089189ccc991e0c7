// Package codec 负责 check-in 请求编码与入站报文解码。
package codec

import (
	"encoding/json"
	"fmt"
	"regexp"

	"thinx-client/internal/models"
)

// markerPattern 匹配报文根键，允许空白
var markerPattern = regexp.MustCompile(`\{\s*"(registration|update|notification)"\s*:`)

// Precedence 根键扫描顺序：后扫描的类型仅在其首次出现位置严格靠后时覆盖前者，
// 即多个根键并存时位置最靠后的一方胜出。
var Precedence = []models.EnvelopeKind{
	models.KindUpdate,
	models.KindRegistration,
	models.KindNotification,
}

// EncodeCheckin 构造 check-in 请求体
func EncodeCheckin(identity models.DeviceIdentity) ([]byte, error) {
	req := models.CheckinRequest{
		Registration: models.CheckinRegistration{
			MAC:      identity.MAC,
			Firmware: identity.FirmwareVersion,
			Version:  identity.VersionID,
			Commit:   identity.CommitID,
			Owner:    identity.Owner,
			Alias:    identity.Alias,
			Platform: identity.Platform,
		},
	}
	if identity.HasUDID() {
		req.Registration.UDID = identity.UDID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode check-in: %w", err)
	}
	return body, nil
}

// Locate 返回胜出的根键类型及其起始偏移；未找到返回 KindUnknown, -1
func Locate(payload []byte) (models.EnvelopeKind, int) {
	first := make(map[models.EnvelopeKind]int, len(Precedence))
	for _, m := range markerPattern.FindAllSubmatchIndex(payload, -1) {
		kind := models.EnvelopeKind(payload[m[2]:m[3]])
		if _, seen := first[kind]; !seen {
			first[kind] = m[0]
		}
	}

	kind, start := models.KindUnknown, -1
	for _, k := range Precedence {
		if idx, ok := first[k]; ok && idx > start {
			kind, start = k, idx
		}
	}
	return kind, start
}

// balancedSpan 从 start 处的 '{' 开始，返回到匹配 '}' 为止的最小片段
func balancedSpan(payload []byte, start int) ([]byte, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(payload); i++ {
		c := payload[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return payload[start : i+1], true
			}
		}
	}
	return nil, false
}

// Decode 从可能夹带日志行/HTTP 头的载荷中提取并解析报文
func Decode(payload []byte) (models.Envelope, error) {
	kind, start := Locate(payload)
	if start < 0 {
		return models.Envelope{Kind: models.KindUnknown}, fmt.Errorf("%w: no envelope marker found", models.ErrDecode)
	}

	span, ok := balancedSpan(payload, start)
	if !ok {
		return models.Envelope{Kind: kind}, fmt.Errorf("%w: unbalanced %s envelope", models.ErrDecode, kind)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(span, &root); err != nil {
		return models.Envelope{Kind: kind}, fmt.Errorf("%w: %s envelope: %v", models.ErrDecode, kind, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(root[string(kind)], &fields); err != nil || fields == nil {
		return models.Envelope{Kind: kind}, fmt.Errorf("%w: %s node is not an object", models.ErrDecode, kind)
	}

	return models.Envelope{Kind: kind, Fields: fields}, nil
}
