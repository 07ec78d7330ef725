package transport

import (
	"context"

	"cdpflow/pkg/domain"
)

// Session 一条绑定到单个目标的协议通道。
// 命令与事件都经由它流动，由所属的目标管理任务独占持有。
type Session interface {
	// Execute 执行一条协议命令并等待应答，method 为配置中的点路径命令类
	Execute(ctx context.Context, method string, args any, reply any) error

	// Listen 打开一条有界事件接收通道，按事件类过滤。
	// 返回的通道在 stop 被调用或连接关闭后关闭；stop 可重复调用。
	Listen(ctx context.Context, bufferSize int, classes ...string) (<-chan *domain.Event, func(), error)

	// Close 释放会话资源
	Close() error
}

// Transport 远程调试端点的双工连接
type Transport interface {
	// Root 返回建连时选定的主目标快照
	Root() domain.TargetInfo

	// DefaultSession 返回主目标的默认会话
	DefaultSession() Session

	// OpenSession 为指定目标打开独立会话
	OpenSession(ctx context.Context, id domain.TargetID) (Session, error)

	// Close 关闭连接及全部派生会话
	Close() error
}

// Endpoint 驱动句柄：暴露调试端点地址，浏览器会话不存在时返回 NotReadyError
type Endpoint interface {
	DevToolsURL(ctx context.Context) (string, error)
}

// Dialer 建立 Transport 的函数，测试中可替换为假实现
type Dialer func(ctx context.Context, url string) (Transport, error)

// NotReadyError 表示底层浏览器调试会话尚未建立
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string {
	return "浏览器调试会话未就绪: " + e.Reason
}
