package devtools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cdpflow/internal/dispatch"
	"cdpflow/internal/logger"
	"cdpflow/internal/sessionlog"
	"cdpflow/internal/transport"
	"cdpflow/pkg/domain"
	"cdpflow/pkg/protospec"
)

// ErrAlreadyActive 重复进入 devtools 上下文
var ErrAlreadyActive = errors.New("devtools 上下文已激活")

// Options 监督器构造参数
type Options struct {
	Logger         logger.Logger
	Endpoint       transport.Endpoint
	Dialer         transport.Dialer // 为空时使用 CDP 实现，测试中可注入假传输
	SessionLogPath string
	EventBuffer    int
}

// Supervisor DevTools 事件拦截的总入口与总出口。
// 持有唯一的并发作用域（errgroup + 可取消上下文）与共享退出信号，
// 树上全部派生任务随 Exit 一并收尾。
type Supervisor struct {
	log      logger.Logger
	endpoint transport.Endpoint
	dialer   transport.Dialer
	logPath  string

	sessionID domain.SessionID

	// mu 仅保护 targets 表的检查插入/移除临界区，绝不跨阻塞调用持有
	mu      sync.Mutex
	targets map[domain.TargetID]*TargetRecord

	domains map[string]*protospec.DomainConfig

	active atomic.Bool

	group  *errgroup.Group
	cancel context.CancelFunc
	exitCh chan struct{}

	tr     transport.Transport
	sink   *sessionlog.Manager
	disp   *dispatch.Dispatcher
	events chan domain.InterceptEvent
}

// New 创建监督器，配置在 Enter 之前通过 SetDomainHandlers 注入
func New(opts Options) *Supervisor {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.NewDialer(l)
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	s := &Supervisor{
		log:      l,
		endpoint: opts.Endpoint,
		dialer:   dialer,
		logPath:  opts.SessionLogPath,
		targets:  make(map[domain.TargetID]*TargetRecord),
		domains:  make(map[string]*protospec.DomainConfig),
		events:   make(chan domain.InterceptEvent, buffer),
	}
	s.disp = dispatch.New(l, s.spawn, s.emitIntercept)
	return s
}

// IsActive 判断上下文是否处于激活状态
func (s *Supervisor) IsActive() bool { return s.active.Load() }

// SessionID 当前激活周期的会话标识
func (s *Supervisor) SessionID() domain.SessionID { return s.sessionID }

// Events 拦截结果事件的订阅通道，发布方非阻塞
func (s *Supervisor) Events() <-chan domain.InterceptEvent { return s.events }

// SetDomainHandlers 注入各协议域的结构化配置
func (s *Supervisor) SetDomainHandlers(settings protospec.DomainsSettings) error {
	return s.SetDomainConfigs(settings.Table())
}

// SetDomainConfigs 注入普通配置表。
// 未知协议域直接拒绝；激活期间调用只告警，不改动生效中的配置。
func (s *Supervisor) SetDomainConfigs(table map[string]*protospec.DomainConfig) error {
	if s.warnIfActive("SetDomainConfigs") {
		return nil
	}
	for name := range table {
		if !transport.KnownDomain(name) {
			return fmt.Errorf("%w: %s", transport.ErrUnknownDomain, name)
		}
	}
	for name, cfg := range table {
		if cfg == nil {
			continue
		}
		s.domains[name] = cfg
	}
	return nil
}

// RemoveDomainHandlers 移除协议域配置，仅允许在非激活状态调用
func (s *Supervisor) RemoveDomainHandlers(names ...string) {
	if s.warnIfActive("RemoveDomainHandlers") {
		return
	}
	for _, n := range names {
		delete(s.domains, n)
	}
}

func (s *Supervisor) warnIfActive(op string) bool {
	if s.active.Load() {
		s.log.Warn("devtools 激活期间禁止修改配置", "op", op)
		return true
	}
	return false
}

// Enter 激活 devtools 上下文。
// 要求底层浏览器会话已存在，否则返回 transport.NotReadyError；
// 返回时主目标的全部监听已确认就绪。
func (s *Supervisor) Enter(ctx context.Context) error {
	if s.active.Load() {
		return ErrAlreadyActive
	}
	if s.endpoint == nil {
		return &transport.NotReadyError{Reason: "未配置驱动句柄"}
	}

	url, err := s.endpoint.DevToolsURL(ctx)
	if err != nil {
		return err
	}
	tr, err := s.dialer(ctx, url)
	if err != nil {
		return err
	}

	// 作用域独立于调用方上下文，生命周期由 Exit 终结
	sctx, cancel := context.WithCancel(context.Background())
	s.tr = tr
	s.cancel = cancel
	s.group = new(errgroup.Group)
	s.exitCh = make(chan struct{})
	s.sessionID = domain.SessionID(uuid.NewString())
	s.sink = sessionlog.NewManager(s.logPath, s.log)
	s.targets = make(map[domain.TargetID]*TargetRecord)

	root := tr.Root()
	rec := newTargetRecord(root)
	rec.setSession(tr.DefaultSession())
	s.mu.Lock()
	s.targets[root.ID] = rec
	s.mu.Unlock()
	s.sink.Add(root.ID)
	s.logStep(rec.ID, "主目标会话初始化开始")

	if err := s.setupTarget(sctx, rec); err != nil {
		s.log.Err(err, "主目标初始化失败，回滚退出")
		s.teardown()
		return err
	}

	exitCh := s.exitCh
	s.group.Go(func() error {
		s.waitTarget(sctx, exitCh, rec)
		return nil
	})

	s.active.Store(true)
	s.log.Info("devtools 上下文激活", "session", string(s.sessionID), "rootTarget", string(root.ID))
	return nil
}

// Exit 退出上下文：幂等且尽力而为，收尾过程绝不向调用方抛错
func (s *Supervisor) Exit() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.log.Info("devtools 上下文开始退出", "session", string(s.sessionID))
	s.teardown()
	s.log.Info("devtools 上下文退出完成", "session", string(s.sessionID))
}

// teardown 每一步独立守护，任何一步失败不阻断后续步骤
func (s *Supervisor) teardown() {
	s.disableDomains()
	if s.exitCh != nil {
		select {
		case <-s.exitCh:
		default:
			close(s.exitCh)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		if err := s.group.Wait(); err != nil {
			s.log.Err(err, "并发作用域收尾异常")
		}
	}
	if s.tr != nil {
		if err := s.tr.Close(); err != nil {
			s.log.Err(err, "传输层关闭失败")
		}
		s.tr = nil
	}
	if s.sink != nil {
		s.sink.Close()
	}
}

// disableDomains 退出前尽力下发各协议域的停用命令，失败只告警
func (s *Supervisor) disableDomains() {
	if s.tr == nil {
		return
	}
	sess := s.tr.DefaultSession()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, name := range sortedKeys(s.domains) {
		dc := s.domains[name]
		if dc.Disable == "" {
			continue
		}
		if err := sess.Execute(ctx, dc.Disable, nil, nil); err != nil {
			s.log.Warn("协议域停用失败", "domain", name, "error", err.Error())
		}
	}
}

// Targets 当前跟踪中的目标快照
func (s *Supervisor) Targets() []domain.TargetInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TargetInfo, 0, len(s.targets))
	for _, rec := range s.targets {
		out = append(out, rec.Info())
	}
	return out
}

// spawn 向共享作用域提交即发即忘任务，不保留任务句柄。
// 任务边界统一恢复 panic 并记录，取消由作用域负责。
func (s *Supervisor) spawn(name string, fn func()) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("任务发生 panic", "task", name, "panic", fmt.Sprint(r))
			}
		}()
		fn()
	}
	g := s.group
	if g == nil {
		go run()
		return
	}
	g.Go(func() error {
		run()
		return nil
	})
}

func (s *Supervisor) emitIntercept(evt domain.InterceptEvent) {
	evt.Session = s.sessionID
	select {
	case s.events <- evt:
	default:
	}
}

func (s *Supervisor) logStep(target domain.TargetID, msg string) {
	if s.sink == nil {
		return
	}
	s.sink.Log(target, "INFO", sessionlog.CallerPath(1, 6), msg, nil)
}

func (s *Supervisor) logSessionErr(target domain.TargetID, err error, msg string) {
	s.log.Err(err, msg, "target", string(target))
	if s.sink != nil {
		s.sink.Log(target, "ERROR", sessionlog.CallerPath(1, 6), msg+": "+err.Error(), nil)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
