package domain

type SessionID string
type TargetID string

// TargetKind 浏览器目标类型
type TargetKind string

const (
	TargetKindPage  TargetKind = "page"
	TargetKindTab   TargetKind = "tab"
	TargetKindOther TargetKind = "other"
)

// Handled 判断该类目标是否需要建立独立会话并挂载监听
func (k TargetKind) Handled() bool {
	return k == TargetKindPage || k == TargetKindTab
}

// TargetInfo 浏览器目标的快照信息
type TargetInfo struct {
	ID       TargetID   `json:"id"`
	Kind     TargetKind `json:"kind"`
	Title    string     `json:"title"`
	URL      string     `json:"url"`
	Attached bool       `json:"attached"`
}

// InterceptEvent 一次拦截处理的结果事件，供上层订阅与持久化
type InterceptEvent struct {
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	Class     string    `json:"class"`
	Action    string    `json:"action"`
	Command   string    `json:"command"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// 拦截结果枚举
const (
	OutcomeIssued  = "issued"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)
