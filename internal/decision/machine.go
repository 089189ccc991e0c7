package decision

import (
	"sync"

	"thinx-client/internal/models"
)

// Phase 设备级更新状态机阶段
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingCheckinResponse
	PhaseAwaitingUserConfirmation
	PhaseUpdateInProgress
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingCheckinResponse:
		return "awaiting_checkin_response"
	case PhaseAwaitingUserConfirmation:
		return "awaiting_user_confirmation"
	case PhaseUpdateInProgress:
		return "update_in_progress"
	default:
		return "unknown"
	}
}

// Machine 跟踪当前阶段
// Idle → AwaitingCheckinResponse → (Idle | AwaitingUserConfirmation | UpdateInProgress)
// AwaitingUserConfirmation → (Idle | UpdateInProgress)，由通知或新一轮 check-in 驱动。
type Machine struct {
	mu    sync.Mutex
	phase Phase
	prev  Phase
}

// NewMachine 按持久化身份恢复阶段
func NewMachine(identity models.DeviceIdentity) *Machine {
	m := &Machine{}
	m.phase = restingPhase(identity)
	return m
}

func restingPhase(identity models.DeviceIdentity) Phase {
	if identity.AwaitingConfirmation() {
		return PhaseAwaitingUserConfirmation
	}
	return PhaseIdle
}

// Reset 按恢复后的身份重置阶段
func (m *Machine) Reset(identity models.DeviceIdentity) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = restingPhase(identity)
	m.prev = m.phase
	return m.phase
}

// Phase 当前阶段
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// BeginCheckin 发出 check-in 请求
func (m *Machine) BeginCheckin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prev = m.phase
	m.phase = PhaseAwaitingCheckinResponse
}

// CheckinFailed check-in 失败时回到请求前的阶段
func (m *Machine) CheckinFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseAwaitingCheckinResponse {
		m.phase = m.prev
	}
}

// Apply 根据决策迁移阶段并返回新阶段
func (m *Machine) Apply(d Decision) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case d.Executes():
		m.phase = PhaseUpdateInProgress
	case d.Outcome == AskUser:
		m.phase = PhaseAwaitingUserConfirmation
	default:
		m.phase = restingPhase(d.Identity)
	}
	return m.phase
}

// UpdateFinished 更新执行结束（失败或无更新）后回到静止阶段
func (m *Machine) UpdateFinished(identity models.DeviceIdentity) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = restingPhase(identity)
	return m.phase
}
