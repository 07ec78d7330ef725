package protospec

import (
	"context"
	"sync"

	"cdpflow/pkg/domain"
)

// SelectFunc 行为选择函数：针对一条事件返回要执行的行为名列表（有序，可为空）
type SelectFunc func(ev *domain.Event) []string

// ErrorFunc 事件级错误回调，收到原始事件与错误
type ErrorFunc func(ev *domain.Event, err error)

// ResponseFunc 命令应答后处理器，以独立任务触发，不阻塞后续行为
type ResponseFunc func(ctx context.Context, ev *domain.Event, result []byte)

// HandlerFunc 参数处理函数：向共享参数表写入恰好一个键后返回。
// 不得假设与同级处理器之间的执行顺序。
type HandlerFunc func(ctx context.Context, ev *domain.Event, instances any, args *ArgMap) error

// ParameterHandler 计算一个命令参数的工作单元
type ParameterHandler struct {
	Func      HandlerFunc
	Instances any
}

// ActionSpec 一个候选行为：协议命令路径、按参数名组织的处理器表、
// 以及可选的应答后处理器。处理器表中的 nil 条目表示该参数缺省。
type ActionSpec struct {
	Command    string
	Params     map[string]*ParameterHandler
	OnResponse ResponseFunc
}

// ActionTable 行为名到 ActionSpec 的映射，外加选择函数
type ActionTable struct {
	Choose  SelectFunc
	Actions map[string]*ActionSpec
}

// DispatchFunc 自定义事件分发函数，配置后替代默认行为分发流水线
type DispatchFunc func(ctx context.Context, exec CommandExecutor, cfg *EventHandlerConfig, ev *domain.Event) error

// CommandExecutor 分发流水线可见的最小命令执行面
type CommandExecutor interface {
	Execute(ctx context.Context, method string, args any, reply any) error
}

// EventHandlerConfig 一类事件的静态配置。
// 在激活前构造，激活期间不允许变更。
type EventHandlerConfig struct {
	Class           string // 事件类点路径，如 "fetch.request_paused"
	BufferSize      int
	CorrelationKey  string // 种子参数名，默认 requestId
	CorrelationPath string // 事件载荷中相关 ID 的 gjson 路径，默认同 CorrelationKey
	Actions         *ActionTable
	OnError         ErrorFunc
	Handle          DispatchFunc
}

// DomainConfig 一个协议域的配置：启停命令及其参数、事件表
type DomainConfig struct {
	Name       string
	Enable     string
	EnableArgs map[string]any
	Disable    string
	Events     map[string]*EventHandlerConfig
}

// ArgMap 并发安全的命令参数表，参数处理器并发写入
type ArgMap struct {
	mu sync.Mutex
	m  map[string]any
}

func NewArgMap() *ArgMap {
	return &ArgMap{m: make(map[string]any)}
}

// Set 写入一个参数
func (a *ArgMap) Set(key string, value any) {
	a.mu.Lock()
	a.m[key] = value
	a.mu.Unlock()
}

// Get 读取一个参数
func (a *ArgMap) Get(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.m[key]
	return v, ok
}

// Len 当前参数个数
func (a *ArgMap) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.m)
}

// Map 返回参数表的副本
func (a *ArgMap) Map() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.m))
	for k, v := range a.m {
		out[k] = v
	}
	return out
}

// StaticParam 构造一个写入固定值的参数处理器
func StaticParam(key string, value any) *ParameterHandler {
	return &ParameterHandler{
		Func: func(_ context.Context, _ *domain.Event, instances any, args *ArgMap) error {
			args.Set(key, instances)
			return nil
		},
		Instances: value,
	}
}
