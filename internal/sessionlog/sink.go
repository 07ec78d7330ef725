package sessionlog

import (
	"os"

	"cdpflow/internal/logger"
	"cdpflow/pkg/domain"
)

// sink 单个目标的落盘任务，独占一个有界队列
type sink struct {
	target domain.TargetID
	path   string
	ch     chan *Entry
	log    logger.Logger
}

// run 持续将条目写入追加式日志文件。
// 日志绝不允许反过来拖垮被观测的会话：打开或写入失败
// 只记录应用日志，随后排空队列直到通道关闭。
func (s *sink) run() {
	if s.path == "" {
		s.drain()
		return
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Err(err, "会话日志文件打开失败", "target", string(s.target), "path", s.path)
		s.drain()
		return
	}
	defer f.Close()

	for e := range s.ch {
		if _, err := f.WriteString(e.String() + Separator); err != nil {
			s.log.Err(err, "会话日志写入失败", "target", string(s.target))
			s.drain()
			return
		}
	}
}

func (s *sink) drain() {
	for range s.ch {
	}
}
