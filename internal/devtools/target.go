package devtools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cdpflow/internal/transport"
	"cdpflow/pkg/domain"
)

// TargetRecord 一个存活浏览器目标的记录。
// 会话句柄由所属的目标管理任务独占使用；其他任务只通过
// 监督器的跟踪表按目标 ID 读取快照。
type TargetRecord struct {
	ID domain.TargetID

	mu   sync.Mutex
	info domain.TargetInfo
	sess transport.Session
}

func newTargetRecord(info domain.TargetInfo) *TargetRecord {
	return &TargetRecord{ID: info.ID, info: info}
}

// Info 目标信息快照
func (r *TargetRecord) Info() domain.TargetInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

func (r *TargetRecord) updateInfo(info domain.TargetInfo) {
	r.mu.Lock()
	info.ID = r.ID
	r.info = info
	r.mu.Unlock()
}

// Session 目标的命令会话，未建立时为 nil
func (r *TargetRecord) Session() transport.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

func (r *TargetRecord) setSession(sess transport.Session) {
	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()
}

// trackTarget 原子地检查并插入目标记录。
// 已存在时仅就地刷新可变字段并返回 false，保证单目标不会重复拉起管理任务。
func (s *Supervisor) trackTarget(info domain.TargetInfo) (*TargetRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.targets[info.ID]; ok {
		rec.updateInfo(info)
		return rec, false
	}
	rec := newTargetRecord(info)
	s.targets[info.ID] = rec
	return rec, true
}

// untrackTarget 移除目标记录并停止其日志订阅，重复移除幂等
func (s *Supervisor) untrackTarget(id domain.TargetID) bool {
	s.mu.Lock()
	_, ok := s.targets[id]
	if ok {
		delete(s.targets, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if s.sink != nil {
		s.sink.Remove(id)
	}
	return true
}

// setupTarget 打开目标的事件监听体系：
// 先启用目标发现与自动附加，再逐域激活并拉起事件监听，
// 全部监听确认就绪后才放行等待调试器的目标。
func (s *Supervisor) setupTarget(ctx context.Context, rec *TargetRecord) error {
	sess := rec.Session()
	if sess == nil {
		return errors.New("目标会话未建立")
	}

	if err := s.enableTargetDiscovery(ctx, sess); err != nil {
		s.logSessionErr(rec.ID, err, "目标发现启用失败")
		return err
	}

	readies := make([]<-chan error, 0, len(s.domains)+1)

	newTargetReady := make(chan error, 1)
	readies = append(readies, newTargetReady)
	s.spawn("new-target-listener", func() { s.runNewTargetListener(ctx, rec, newTargetReady) })

	for _, name := range sortedKeys(s.domains) {
		dc := s.domains[name]
		if dc.Enable != "" {
			if err := sess.Execute(ctx, dc.Enable, dc.EnableArgs, nil); err != nil {
				s.logSessionErr(rec.ID, err, "协议域激活失败")
				return fmt.Errorf("协议域 %s 激活失败: %w", name, err)
			}
			s.logStep(rec.ID, fmt.Sprintf("协议域 %s 已激活", name))
		}
		ready := make(chan error, 1)
		readies = append(readies, ready)
		s.spawn("domain-listeners", func() { s.runDomainListeners(ctx, rec, dc, ready) })
	}

	for _, ready := range readies {
		select {
		case err := <-ready:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// 监听就绪后恢复因自动附加而挂起的目标，失败只记录不中断
	if err := sess.Execute(ctx, "runtime.run_if_waiting_for_debugger", nil, nil); err != nil {
		s.logSessionErr(rec.ID, err, "恢复等待调试器的目标失败")
	}

	s.logStep(rec.ID, "目标会话初始化完成")
	return nil
}

// enableTargetDiscovery 开启目标发现与自动附加，只关注 page 与 tab 两类目标
func (s *Supervisor) enableTargetDiscovery(ctx context.Context, sess transport.Session) error {
	filter := []map[string]any{
		{"type": "page", "exclude": false},
		{"type": "tab", "exclude": false},
		{"exclude": true},
	}
	if err := sess.Execute(ctx, "target.set_discover_targets", map[string]any{
		"discover": true,
		"filter":   filter,
	}, nil); err != nil {
		return err
	}
	return sess.Execute(ctx, "target.set_auto_attach", map[string]any{
		"autoAttach":             true,
		"waitForDebuggerOnStart": true,
		"flatten":                true,
		"filter":                 filter,
	}, nil)
}

// runChildTarget 子目标的管理任务：在任务作用域内获取并持有会话，
// 初始化完成后阻塞在共享退出信号上，无论哪条退出路径都释放会话并移除记录。
func (s *Supervisor) runChildTarget(ctx context.Context, rec *TargetRecord) {
	sess, err := s.tr.OpenSession(ctx, rec.ID)
	if err != nil {
		if !benign(ctx, err) {
			s.logSessionErr(rec.ID, err, "目标会话打开失败")
		}
		s.untrackTarget(rec.ID)
		return
	}
	defer sess.Close()
	rec.setSession(sess)

	if err := s.setupTarget(ctx, rec); err != nil {
		if !benign(ctx, err) {
			s.logSessionErr(rec.ID, err, "目标初始化失败")
		}
		s.untrackTarget(rec.ID)
		return
	}
	s.waitTarget(ctx, s.exitCh, rec)
}

// waitTarget 阻塞等待共享退出信号或作用域取消，随后收尾该目标
func (s *Supervisor) waitTarget(ctx context.Context, exitCh <-chan struct{}, rec *TargetRecord) {
	select {
	case <-exitCh:
	case <-ctx.Done():
	}
	s.logStep(rec.ID, "目标会话收尾")
	s.untrackTarget(rec.ID)
}

// benign 判断错误是否属于正常退出路径上的噪声
func benign(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}
