// Package decision 根据 check-in / 推送结果与本地固件标识决定更新动作。
package decision

import (
	"fmt"
	"strings"
	"time"

	"thinx-client/internal/classifier"
	"thinx-client/internal/models"
)

// Outcome 决策结果
type Outcome int

const (
	NoAction Outcome = iota
	MarkInstalled
	AutoUpdate
	AskUser
	ForcedUpdate
)

func (o Outcome) String() string {
	switch o {
	case NoAction:
		return "no_action"
	case MarkInstalled:
		return "mark_installed"
	case AutoUpdate:
		return "auto_update"
	case AskUser:
		return "ask_user"
	case ForcedUpdate:
		return "forced_update"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decision 决策及其副作用描述；副作用由调用方执行
type Decision struct {
	Outcome  Outcome
	Intent   *models.UpdateIntent
	Identity models.DeviceIdentity // 决策后的身份
	Persist  bool                  // Identity 与输入不同，需要写入存储

	Anomalous   bool // 强制更新的 commit 与本地相同
	MACMismatch bool // update 报文指定了其他设备的 MAC
	Reason      string
}

// Executes 是否需要执行更新
func (d Decision) Executes() bool {
	return d.Intent != nil && (d.Outcome == AutoUpdate || d.Outcome == ForcedUpdate)
}

// StripTransportPrefix 去掉 URL 中的 http:// 前缀
func StripTransportPrefix(url string) string {
	return strings.TrimPrefix(url, "http://")
}

// ApplyInstalled 清除待处理更新；无待处理更新时原样返回 false
func ApplyInstalled(identity models.DeviceIdentity) (models.DeviceIdentity, bool) {
	if !identity.HasPendingUpdate() {
		return identity, false
	}
	identity.ClearPending()
	return identity, true
}

// Expire 等待确认超时后放弃待处理更新；timeout <= 0 表示不超时
func Expire(identity models.DeviceIdentity, now time.Time, timeout time.Duration) (models.DeviceIdentity, bool) {
	if timeout <= 0 || !identity.AwaitingConfirmation() || identity.PendingSince.IsZero() {
		return identity, false
	}
	if now.Sub(identity.PendingSince) < timeout {
		return identity, false
	}
	identity.ClearPending()
	return identity, true
}

// Decide 纯函数：(当前身份, 报文记录, 自动更新策略) → 决策
func Decide(identity models.DeviceIdentity, rec classifier.Record, autoUpdate bool, source models.UpdateSource, now time.Time) Decision {
	var d Decision
	switch r := rec.(type) {
	case *classifier.Registration:
		d = decideRegistration(identity, r, autoUpdate, source, now)
	case *classifier.Update:
		d = compareBuild(identity, r.Commit, r.Version, r.URL, autoUpdate, source, now)
		d.MACMismatch = r.MAC != "" && r.MAC != identity.MAC
	case *classifier.Notification:
		d = decideNotification(identity, r, source, now)
	default:
		d = Decision{Outcome: NoAction, Identity: identity, Reason: "unsupported record"}
	}
	d.Persist = d.Identity != identity
	return d
}

func decideRegistration(identity models.DeviceIdentity, r *classifier.Registration, autoUpdate bool, source models.UpdateSource, now time.Time) Decision {
	switch r.Status {
	case classifier.StatusOK:
		next := identity
		if r.Alias != "" {
			next.Alias = r.Alias
		}
		if r.Owner != "" {
			next.Owner = r.Owner
		}
		next.AssignUDID(r.UDID)
		return compareBuild(next, r.Commit, r.Version, r.URL, autoUpdate, source, now)

	case classifier.StatusFirmwareUpdate:
		if r.URL == "" {
			return Decision{Outcome: NoAction, Identity: identity, Reason: "forced update without url"}
		}
		next := identity
		next.SetPending(r.URL, models.UpdateStateInProgress, now)
		return Decision{
			Outcome:   ForcedUpdate,
			Identity:  next,
			Intent:    intent(r.URL, r.Commit, r.Version, source),
			Anomalous: r.Commit == identity.CommitID,
			Reason:    "server requested firmware update",
		}

	default:
		return Decision{
			Outcome:  NoAction,
			Identity: identity,
			Reason:   fmt.Sprintf("registration status %q", r.Status),
		}
	}
}

func compareBuild(next models.DeviceIdentity, commit, version, url string, autoUpdate bool, source models.UpdateSource, now time.Time) Decision {
	if commit == next.CommitID && version == next.VersionID {
		if installed, changed := ApplyInstalled(next); changed {
			return Decision{Outcome: MarkInstalled, Identity: installed, Reason: "pending firmware is now running"}
		}
		return Decision{Outcome: NoAction, Identity: next, Reason: "firmware is current"}
	}

	if url == "" {
		return Decision{Outcome: NoAction, Identity: next, Reason: "different build reported without url"}
	}

	if autoUpdate {
		next.SetPending(url, models.UpdateStateInProgress, now)
		return Decision{
			Outcome:  AutoUpdate,
			Identity: next,
			Intent:   intent(url, commit, version, source),
			Reason:   "different build available",
		}
	}

	since := now
	if next.AwaitingConfirmation() && next.PendingUpdateURL == url {
		since = next.PendingSince
	}
	next.SetPending(url, models.UpdateStateAwaitingConfirmation, since)
	return Decision{
		Outcome:  AskUser,
		Identity: next,
		Intent:   &models.UpdateIntent{TargetURL: url, ExpectedCommit: commit, ExpectedVersion: version, Source: source},
		Reason:   "different build available, automatic updates disabled",
	}
}

func decideNotification(identity models.DeviceIdentity, n *classifier.Notification, source models.UpdateSource, now time.Time) Decision {
	approved, ok := n.Approval()
	if !ok {
		return Decision{Outcome: NoAction, Identity: identity, Reason: "unrecognized notification response"}
	}

	if !identity.HasPendingUpdate() {
		return Decision{Outcome: NoAction, Identity: identity, Reason: "no pending update to confirm"}
	}

	next := identity
	if !approved {
		next.ClearPending()
		return Decision{Outcome: NoAction, Identity: next, Reason: "user declined update"}
	}

	next.SetPending(identity.PendingUpdateURL, models.UpdateStateInProgress, now)
	return Decision{
		Outcome:  AutoUpdate,
		Identity: next,
		Intent:   intent(identity.PendingUpdateURL, "", "", source),
		Reason:   "user approved update",
	}
}

func intent(url, commit, version string, source models.UpdateSource) *models.UpdateIntent {
	return &models.UpdateIntent{
		TargetURL:       StripTransportPrefix(url),
		ExpectedCommit:  commit,
		ExpectedVersion: version,
		Source:          source,
	}
}
