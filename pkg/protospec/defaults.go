package protospec

import (
	"strings"

	"cdpflow/pkg/domain"
)

// 内置行为名
const (
	ActionContinueRequest  = "continue_request"
	ActionFailRequest      = "fail_request"
	ActionFulfillRequest   = "fulfill_request"
	ActionContinueResponse = "continue_response"
	ActionContinueWithAuth = "continue_with_auth"
)

// DefaultCorrelationKey 事件载荷中相关 ID 的默认参数名
const DefaultCorrelationKey = "requestId"

// DefaultActions 未配置选择函数时的保底行为：
// 请求暂停事件直接放行，认证质询事件走默认认证流程。
func DefaultActions(class string) []string {
	switch {
	case strings.HasSuffix(class, "auth_required"):
		return []string{ActionContinueWithAuth}
	default:
		return []string{ActionContinueRequest}
	}
}

// DefaultChoose 返回固定保底行为的选择函数
func DefaultChoose(class string) SelectFunc {
	actions := DefaultActions(class)
	return func(*domain.Event) []string { return actions }
}
