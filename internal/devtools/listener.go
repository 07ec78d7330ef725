package devtools

import (
	"context"
	"fmt"

	"cdpflow/pkg/domain"
	"cdpflow/pkg/protospec"
)

// 新目标事件通道的专用容量，目标类事件突发密集且不允许丢失
const newTargetBuffer = 1000

var targetEventClasses = []string{
	"target.target_created",
	"target.attached_to_target",
	"target.target_info_changed",
}

// runDomainListeners 为一个协议域拉起全部事件监听。
// 任一监听通道建立失败都向 ready 传播，调用方不会误以为监听已就绪。
func (s *Supervisor) runDomainListeners(ctx context.Context, rec *TargetRecord, dc *protospec.DomainConfig, ready chan<- error) {
	s.logStep(rec.ID, fmt.Sprintf("协议域 %s 监听装配开始", dc.Name))

	readies := make([]<-chan error, 0, len(dc.Events))
	for _, name := range sortedKeys(dc.Events) {
		ec := dc.Events[name]
		if ec == nil {
			continue
		}
		r := make(chan error, 1)
		readies = append(readies, r)
		s.spawn("event-listener", func() { s.runEventListener(ctx, rec, ec, r) })
	}

	for _, r := range readies {
		select {
		case err := <-r:
			if err != nil {
				ready <- err
				return
			}
		case <-ctx.Done():
			ready <- ctx.Err()
			return
		}
	}
	s.logStep(rec.ID, fmt.Sprintf("协议域 %s 监听装配完成", dc.Name))
	ready <- nil
}

// runEventListener 持有一条事件类接收通道并循环分发。
// 通道建立成功即宣告就绪；单条事件的处理错误由分发器消化，
// 不会终止监听循环，良性终止静默退出。
func (s *Supervisor) runEventListener(ctx context.Context, rec *TargetRecord, cfg *protospec.EventHandlerConfig, ready chan<- error) {
	sess := rec.Session()
	ch, stop, err := sess.Listen(ctx, cfg.BufferSize, cfg.Class)
	if err != nil {
		s.logSessionErr(rec.ID, err, "事件通道建立失败")
		ready <- err
		return
	}
	defer stop()
	ready <- nil
	s.logStep(rec.ID, fmt.Sprintf("事件监听 %s 已启动", cfg.Class))

	exitCh := s.exitCh
	for {
		select {
		case <-ctx.Done():
			return
		case <-exitCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.spawn("dispatch", func() { s.disp.Dispatch(ctx, sess, rec.ID, cfg, ev) })
		}
	}
}

// runNewTargetListener 监听目标类事件，驱动目标树的递归扩张
func (s *Supervisor) runNewTargetListener(ctx context.Context, rec *TargetRecord, ready chan<- error) {
	sess := rec.Session()
	ch, stop, err := sess.Listen(ctx, newTargetBuffer, targetEventClasses...)
	if err != nil {
		s.logSessionErr(rec.ID, err, "新目标监听通道建立失败")
		ready <- err
		return
	}
	defer stop()
	ready <- nil
	s.logStep(rec.ID, "新目标监听已启动")

	exitCh := s.exitCh
	for {
		select {
		case <-ctx.Done():
			return
		case <-exitCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.spawn("handle-new-target", func() { s.handleTargetEvent(ctx, rec, ev) })
		}
	}
}

// handleTargetEvent 处理一条目标类事件：非 page/tab 目标直接忽略；
// 首次出现的目标拉起独立管理任务，已知目标只刷新记录。
func (s *Supervisor) handleTargetEvent(ctx context.Context, parent *TargetRecord, ev *domain.Event) {
	info, ok := ev.TargetInfo()
	if !ok || info.ID == "" {
		return
	}
	if !info.Kind.Handled() {
		return
	}
	if info.ID == parent.ID {
		parent.updateInfo(info)
		return
	}
	rec, inserted := s.trackTarget(info)
	if !inserted {
		return
	}
	s.sink.Add(rec.ID)
	s.logStep(parent.ID, fmt.Sprintf("发现新目标 %s (%s)", rec.ID, info.Kind))
	s.spawn("target-manager", func() { s.runChildTarget(ctx, rec) })
}
