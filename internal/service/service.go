package service

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"cdpflow/internal/ctxkeys"
	"cdpflow/internal/devtools"
	"cdpflow/internal/logger"
	"cdpflow/internal/storage"
	"cdpflow/internal/transport"
	"cdpflow/pkg/domain"
	"cdpflow/pkg/protospec"
)

// Options 服务构造参数
type Options struct {
	Logger         logger.Logger
	DevToolsURL    string
	SessionLogPath string
	SqliteDSN      string
	SqlitePrefix   string
	EventBuffer    int
}

// Service 对外服务实现：组合监督器与持久层，
// 拦截结果事件一路落库、一路转发给订阅方。
type Service struct {
	log  logger.Logger
	opts Options
	sup  *devtools.Supervisor

	mu    sync.Mutex
	store *storage.Store
	stop  context.CancelFunc
	done  chan struct{}

	out chan domain.InterceptEvent
}

// New 创建服务实例
func New(opts Options) *Service {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	sup := devtools.New(devtools.Options{
		Logger:         l,
		Endpoint:       transport.HTTPEndpoint{URL: opts.DevToolsURL},
		SessionLogPath: opts.SessionLogPath,
		EventBuffer:    buffer,
	})
	return &Service{
		log:  l,
		opts: opts,
		sup:  sup,
		out:  make(chan domain.InterceptEvent, buffer),
	}
}

// Configure 注入各协议域的拦截配置，仅允许在非激活状态调用
func (s *Service) Configure(settings protospec.DomainsSettings) error {
	return s.sup.SetDomainHandlers(settings)
}

// ConfigureTable 注入普通配置表形式的拦截配置
func (s *Service) ConfigureTable(table map[string]*protospec.DomainConfig) error {
	return s.sup.SetDomainConfigs(table)
}

// RemoveDomains 移除协议域配置
func (s *Service) RemoveDomains(names ...string) {
	s.sup.RemoveDomainHandlers(names...)
}

// Enter 激活拦截上下文并启动落库任务
func (s *Service) Enter(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sup.Enter(ctx); err != nil {
		return err
	}

	store, err := storage.Open(s.opts.SqliteDSN, s.opts.SqlitePrefix, s.log)
	if err != nil {
		// 持久层是旁路能力，打不开只降级告警，不阻断拦截
		s.log.Err(err, "持久层打开失败，拦截结果不落库")
		store = nil
	}
	s.store = store

	pctx, cancel := context.WithCancel(
		context.WithValue(context.Background(), ctxkeys.TraceIDKey{}, uuid.NewString()),
	)
	s.stop = cancel
	s.done = make(chan struct{})
	go s.persistLoop(pctx, s.done)
	return nil
}

// Exit 退出拦截上下文并收尾落库任务，幂等
func (s *Service) Exit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sup.Exit()
	if s.stop != nil {
		s.stop()
		<-s.done
		s.stop = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Err(err, "持久层关闭失败")
		}
		s.store = nil
	}
}

// IsActive 判断拦截上下文是否激活
func (s *Service) IsActive() bool { return s.sup.IsActive() }

// Targets 当前跟踪中的目标快照
func (s *Service) Targets() []domain.TargetInfo { return s.sup.Targets() }

// Events 拦截结果事件的订阅通道
func (s *Service) Events() <-chan domain.InterceptEvent { return s.out }

// Recent 查询最近落库的拦截结果
func (s *Service) Recent(ctx context.Context, limit int) ([]storage.CaptureRecord, error) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return nil, nil
	}
	return store.Recent(ctx, s.sup.SessionID(), limit)
}

// persistLoop 消费监督器的拦截结果：先落库再转发，订阅方阻塞时丢弃转发
func (s *Service) persistLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	events := s.sup.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			if s.store != nil {
				if err := s.store.Record(ctx, evt); err != nil && ctx.Err() == nil {
					s.log.Err(err, "拦截结果落库失败", "class", evt.Class, "command", evt.Command)
				}
			}
			select {
			case s.out <- evt:
			default:
			}
		}
	}
}
