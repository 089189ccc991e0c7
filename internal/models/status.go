package models

import "encoding/json"

// StatusKind 状态频道消息类型
type StatusKind string

const (
	StatusConnected      StatusKind = "connected"
	StatusDisconnected   StatusKind = "disconnected"
	StatusRebooting      StatusKind = "rebooting"
	StatusUpdateQuestion StatusKind = "update_question"
	StatusUpdateSuccess  StatusKind = "update_success"
)

// StatusMessage 状态频道消息体
type StatusMessage struct {
	Status       string `json:"status,omitempty"`
	Title        string `json:"title,omitempty"`
	Body         string `json:"body,omitempty"`
	Type         string `json:"type,omitempty"`
	ResponseType string `json:"response_type,omitempty"`
}

var statusMessages = map[StatusKind]StatusMessage{
	StatusConnected:    {Status: "connected"},
	StatusDisconnected: {Status: "disconnected"},
	StatusRebooting:    {Status: "rebooting"},
	StatusUpdateQuestion: {
		Title:        "Update Available",
		Body:         "There is an update available for this device. Do you want to install it now?",
		Type:         "actionable",
		ResponseType: "bool",
	},
	StatusUpdateSuccess: {
		Title: "Update Successful",
		Body:  "The device has been successfully updated.",
		Type:  "success",
	},
}

// StatusPayload 返回状态消息的 JSON 编码
func StatusPayload(kind StatusKind) []byte {
	msg, ok := statusMessages[kind]
	if !ok {
		msg = StatusMessage{Status: string(kind)}
	}
	b, _ := json.Marshal(msg)
	return b
}
