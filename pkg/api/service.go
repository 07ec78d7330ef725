package api

import (
	"context"

	"cdpflow/internal/logger"
	"cdpflow/internal/service"
	"cdpflow/internal/storage"
	"cdpflow/pkg/domain"
	"cdpflow/pkg/protospec"
)

// Service 服务接口
type Service interface {
	// Configure 注入各协议域的拦截配置，仅允许在非激活状态调用
	Configure(settings protospec.DomainsSettings) error

	// ConfigureTable 注入普通配置表形式的拦截配置
	ConfigureTable(table map[string]*protospec.DomainConfig) error

	// RemoveDomains 移除协议域配置
	RemoveDomains(names ...string)

	// Enter 激活拦截上下文
	Enter(ctx context.Context) error

	// Exit 退出拦截上下文，幂等
	Exit()

	// IsActive 判断拦截上下文是否激活
	IsActive() bool

	// Targets 当前跟踪中的目标快照
	Targets() []domain.TargetInfo

	// Events 订阅拦截结果事件
	Events() <-chan domain.InterceptEvent

	// Recent 查询最近落库的拦截结果
	Recent(ctx context.Context, limit int) ([]storage.CaptureRecord, error)
}

// Config 服务配置
type Config struct {
	DevToolsURL    string
	SessionLogPath string
	SqliteDSN      string
	SqlitePrefix   string
	EventBuffer    int
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger, cfg Config) Service {
	return service.New(service.Options{
		Logger:         l,
		DevToolsURL:    cfg.DevToolsURL,
		SessionLogPath: cfg.SessionLogPath,
		SqliteDSN:      cfg.SqliteDSN,
		SqlitePrefix:   cfg.SqlitePrefix,
		EventBuffer:    cfg.EventBuffer,
	})
}
