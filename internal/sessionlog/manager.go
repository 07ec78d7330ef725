package sessionlog

import (
	"sync"
	"time"

	"cdpflow/internal/logger"
	"cdpflow/pkg/domain"
)

const defaultQueueSize = 100

// Manager 会话日志管理器：每个活动目标一个落盘任务，
// 生产者非阻塞入队，队列满时丢弃条目并同步警告。
type Manager struct {
	path      string
	queueSize int
	log       logger.Logger

	mu     sync.Mutex
	sinks  map[domain.TargetID]chan *Entry
	closed bool
	wg     sync.WaitGroup
}

// NewManager 创建会话日志管理器，path 为空时仅排空不落盘
func NewManager(path string, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		path:      path,
		queueSize: defaultQueueSize,
		log:       l,
		sinks:     make(map[domain.TargetID]chan *Entry),
	}
}

// Add 为目标创建日志订阅，重复添加幂等
func (m *Manager) Add(target domain.TargetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.sinks[target]; ok {
		return
	}
	ch := make(chan *Entry, m.queueSize)
	m.sinks[target] = ch
	s := &sink{target: target, path: m.path, ch: ch, log: m.log}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.run()
	}()
}

// Remove 停止目标的日志订阅；目标不存在时返回 false
func (m *Manager) Remove(target domain.TargetID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.sinks[target]
	if !ok {
		return false
	}
	delete(m.sinks, target)
	close(ch)
	return true
}

// Log 构造条目并非阻塞入队
func (m *Manager) Log(target domain.TargetID, level, source, message string, extra map[string]any) {
	e := &Entry{
		Target:    target,
		Level:     level,
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
		Extra:     extra,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.sinks[target]
	if !ok {
		m.log.Warn("向不存在的会话写日志", "target", string(target), "message", message)
		return
	}
	select {
	case ch <- e:
	default:
		m.log.Warn("会话日志队列已满，条目被丢弃", "target", string(target), "message", message)
	}
}

// Close 关闭全部订阅并等待落盘任务退出，可重复调用
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, ch := range m.sinks {
		delete(m.sinks, id)
		close(ch)
	}
	m.mu.Unlock()
	m.wg.Wait()
}
