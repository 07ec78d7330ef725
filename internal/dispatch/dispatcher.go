package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"cdpflow/internal/logger"
	"cdpflow/pkg/domain"
	"cdpflow/pkg/protospec"
)

// EmitFunc 拦截结果事件的发布函数，实现必须非阻塞
type EmitFunc func(evt domain.InterceptEvent)

// SpawnFunc 向并发作用域提交即发即忘任务，由作用域负责取消
type SpawnFunc func(name string, fn func())

// Dispatcher 行为分发器：对一条事件执行选择函数，
// 依次构建并下发选中的协议命令，行为之间相互隔离。
type Dispatcher struct {
	log   logger.Logger
	spawn SpawnFunc
	emit  EmitFunc
}

func New(log logger.Logger, spawn SpawnFunc, emit EmitFunc) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	if spawn == nil {
		spawn = func(_ string, fn func()) { go fn() }
	}
	return &Dispatcher{log: log, spawn: spawn, emit: emit}
}

// Dispatch 处理一条拦截事件。
// 单个行为失败只影响自身：记录并回调后继续执行后续行为。
func (d *Dispatcher) Dispatch(ctx context.Context, exec protospec.CommandExecutor, target domain.TargetID, cfg *protospec.EventHandlerConfig, ev *domain.Event) {
	if cfg.Handle != nil {
		if err := cfg.Handle(ctx, exec, cfg, ev); err != nil {
			d.route(cfg, ev, err)
		}
		return
	}

	table := cfg.Actions
	var names []string
	if table != nil && table.Choose != nil {
		names = table.Choose(ev)
	} else {
		names = protospec.DefaultActions(cfg.Class)
	}
	if len(names) == 0 {
		d.publish(target, cfg.Class, "", "", domain.OutcomeSkipped, nil)
		return
	}

	for _, name := range names {
		var spec *protospec.ActionSpec
		if table != nil {
			spec = table.Actions[name]
		}
		if spec == nil {
			d.route(cfg, ev, fmt.Errorf("未知的行为 %q", name))
			continue
		}

		args, err := d.buildArgs(ctx, cfg, spec, ev)
		if err != nil {
			d.route(cfg, ev, err)
			d.publish(target, cfg.Class, name, spec.Command, domain.OutcomeFailed, err)
			continue
		}

		var result json.RawMessage
		if err := exec.Execute(ctx, spec.Command, args, &result); err != nil {
			d.route(cfg, ev, fmt.Errorf("命令 %s 执行失败: %w", spec.Command, err))
			d.publish(target, cfg.Class, name, spec.Command, domain.OutcomeFailed, err)
			continue
		}
		d.publish(target, cfg.Class, name, spec.Command, domain.OutcomeIssued, nil)

		if spec.OnResponse != nil {
			post := spec.OnResponse
			res := result
			d.spawn("action-post-process", func() { post(ctx, ev, res) })
		}
	}
}

// buildArgs 聚合参数处理器的产出。
// 以事件的相关 ID 作为种子参数，全部处理器并发执行，
// 任一处理器完成前绝不返回；任一失败则整个行为不下发命令。
func (d *Dispatcher) buildArgs(ctx context.Context, cfg *protospec.EventHandlerConfig, spec *protospec.ActionSpec, ev *domain.Event) (map[string]any, error) {
	args := protospec.NewArgMap()

	key := cfg.CorrelationKey
	if key == "" {
		key = protospec.DefaultCorrelationKey
	}
	path := cfg.CorrelationPath
	if path == "" {
		path = key
	}
	if v := ev.Get(path); v.Exists() {
		args.Set(key, v.Value())
	}

	g := new(errgroup.Group)
	for name, ph := range spec.Params {
		if ph == nil || ph.Func == nil {
			continue
		}
		name, ph := name, ph
		g.Go(func() error {
			if err := ph.Func(ctx, ev, ph.Instances, args); err != nil {
				return fmt.Errorf("参数处理器 %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return args.Map(), nil
}

func (d *Dispatcher) route(cfg *protospec.EventHandlerConfig, ev *domain.Event, err error) {
	if cfg.OnError != nil {
		cfg.OnError(ev, err)
		return
	}
	d.log.Err(err, "事件处理失败", "class", cfg.Class)
}

func (d *Dispatcher) publish(target domain.TargetID, class, action, command, outcome string, err error) {
	if d.emit == nil {
		return
	}
	evt := domain.InterceptEvent{
		Target:    target,
		Class:     class,
		Action:    action,
		Command:   command,
		Outcome:   outcome,
		Timestamp: time.Now().UnixMilli(),
	}
	if err != nil {
		evt.Error = err.Error()
	}
	d.emit(evt)
}
