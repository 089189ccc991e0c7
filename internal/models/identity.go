package models

import (
	"strings"
	"time"
)

// UpdateState 持久化的更新状态，与 PendingUpdateURL 一起保存
type UpdateState string

const (
	UpdateStateNone                 UpdateState = "none"
	UpdateStateAwaitingConfirmation UpdateState = "awaiting_confirmation"
	UpdateStateInProgress           UpdateState = "in_progress"
)

// DeviceIdentity 设备身份（内存中的完整视图）
// 固件标识（FirmwareVersion/VersionID/CommitID/Platform/MAC）来自编译期常量或配置，不写入存储。
type DeviceIdentity struct {
	Alias  string
	Owner  string
	APIKey string
	UDID   string
	MAC    string

	FirmwareVersion string // 完整版本串，check-in 的 "firmware"
	VersionID       string // 短版本，check-in 的 "version"，用于比较
	CommitID        string
	Platform        string

	PendingUpdateURL string
	UpdateState      UpdateState
	PendingSince     time.Time
}

// StoredIdentity 持久化记录（单条结构化文本）
type StoredIdentity struct {
	Alias        string      `json:"alias"`
	Owner        string      `json:"owner"`
	APIKey       string      `json:"apikey"`
	UDID         string      `json:"udid"`
	Update       string      `json:"update"`
	UpdateState  UpdateState `json:"update_state,omitempty"`
	PendingSince int64       `json:"pending_since,omitempty"`
}

// HasPendingUpdate 是否存在未完成的更新
func (d DeviceIdentity) HasPendingUpdate() bool {
	return d.UpdateState != UpdateStateNone && d.UpdateState != "" && len(d.PendingUpdateURL) > 4
}

// AwaitingConfirmation 是否在等待用户确认
func (d DeviceIdentity) AwaitingConfirmation() bool {
	return d.UpdateState == UpdateStateAwaitingConfirmation && len(d.PendingUpdateURL) > 4
}

// HasUDID 是否已获得平台分配的 UDID
func (d DeviceIdentity) HasUDID() bool {
	return len(d.UDID) > 4
}

// DeviceChannel 设备入站频道 /{owner}/{udid}
func (d DeviceIdentity) DeviceChannel() string {
	return "/" + d.Owner + "/" + d.UDID
}

// StatusChannel 状态频道 /{owner}/{udid}/status
func (d DeviceIdentity) StatusChannel() string {
	return d.DeviceChannel() + "/status"
}

// AssignUDID 仅在新值非空且不短于现有值时覆盖
func (d *DeviceIdentity) AssignUDID(udid string) bool {
	udid = strings.TrimSpace(udid)
	if len(udid) <= 4 || len(udid) < len(d.UDID) || udid == d.UDID {
		return false
	}
	d.UDID = udid
	return true
}

// SetPending 记录待处理的更新
func (d *DeviceIdentity) SetPending(url string, state UpdateState, now time.Time) {
	d.PendingUpdateURL = url
	d.UpdateState = state
	d.PendingSince = now
}

// ClearPending 清除待处理的更新
func (d *DeviceIdentity) ClearPending() {
	d.PendingUpdateURL = ""
	d.UpdateState = UpdateStateNone
	d.PendingSince = time.Time{}
}

// MaskedAPIKey 用于日志输出
func (d DeviceIdentity) MaskedAPIKey() string {
	if len(d.APIKey) <= 4 {
		return "****"
	}
	return "****" + d.APIKey[len(d.APIKey)-4:]
}

// Stored 转换为持久化记录
func (d DeviceIdentity) Stored() StoredIdentity {
	rec := StoredIdentity{
		Alias:       d.Alias,
		Owner:       d.Owner,
		APIKey:      d.APIKey,
		UDID:        d.UDID,
		Update:      d.PendingUpdateURL,
		UpdateState: d.UpdateState,
	}
	if !d.PendingSince.IsZero() {
		rec.PendingSince = d.PendingSince.Unix()
	}
	return rec
}

// Restore 合并持久化记录；过短的字段视为未设置
func (d *DeviceIdentity) Restore(rec StoredIdentity) {
	if len(rec.Alias) > 1 {
		d.Alias = rec.Alias
	}
	if len(rec.Owner) > 4 {
		d.Owner = rec.Owner
	}
	if len(rec.APIKey) > 8 {
		d.APIKey = rec.APIKey
	}
	// 本地记录优先于配置值，不受 AssignUDID 的不缩短规则约束
	if udid := strings.TrimSpace(rec.UDID); len(udid) > 4 {
		d.UDID = udid
	}

	if len(rec.Update) > 4 {
		d.PendingUpdateURL = rec.Update
		d.UpdateState = rec.UpdateState
		// 旧记录只有 URL：按崩溃前正在更新处理
		if d.UpdateState == "" || d.UpdateState == UpdateStateNone {
			d.UpdateState = UpdateStateInProgress
		}
		if rec.PendingSince > 0 {
			d.PendingSince = time.Unix(rec.PendingSince, 0)
		}
	} else {
		d.ClearPending()
	}
}
