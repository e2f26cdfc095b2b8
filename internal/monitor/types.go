package monitor

import (
	"time"

	"futures-sentinel/internal/manager"
	"futures-sentinel/internal/position"
	"futures-sentinel/internal/signal"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventOpen     EventType = "position_open"
	EventCycle    EventType = "monitor_cycle"
	EventExit     EventType = "position_exit"
	EventScaleOut EventType = "scale_out"
	EventSignal   EventType = "entry_signal"
	EventError    EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OpenPayload 记录新建仓位。
type OpenPayload struct {
	Position position.Snapshot `json:"position"`
}

// CyclePayload 记录一轮监控循环的处置结果。
type CyclePayload struct {
	Results []manager.CycleResult `json:"results"`
}

// ExitPayload 记录平仓。
type ExitPayload struct {
	Result manager.CycleResult `json:"result"`
}

// ScaleOutPayload 记录分批止盈。
type ScaleOutPayload struct {
	Result manager.CycleResult `json:"result"`
}

// SignalPayload 记录模型给出的开仓建议。
type SignalPayload struct {
	Entries []signal.Entry `json:"entries"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
