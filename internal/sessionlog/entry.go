package sessionlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cdpflow/pkg/domain"
)

// Separator 日志条目之间的固定分隔
var Separator = "\n\n" + strings.Repeat("=", 100) + "\n\n"

// Entry 一条会话日志。构造后不可变，由所属目标的落盘任务消费一次。
type Entry struct {
	Target    domain.TargetID
	Level     string
	Message   string
	Timestamp time.Time
	Source    string
	Extra     map[string]any
}

// String 渲染为 key: value 文本块
func (e *Entry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "target: %s\n", e.Target)
	fmt.Fprintf(&b, "timestamp: %s\n", e.Timestamp.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "level: %s\n", e.Level)
	fmt.Fprintf(&b, "source: %s\n", e.Source)
	fmt.Fprintf(&b, "message: %s", e.Message)
	if len(e.Extra) > 0 {
		if raw, err := json.Marshal(e.Extra); err == nil {
			fmt.Fprintf(&b, "\nextra: %s", raw)
		}
	}
	return b.String()
}
