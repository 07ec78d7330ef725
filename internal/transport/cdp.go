package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
	"github.com/mafredri/cdp/session"

	"cdpflow/internal/logger"
	"cdpflow/pkg/domain"
)

const defaultListenBuffer = 64

// HTTPEndpoint 通过 HTTP 调试端点暴露 WebSocket 地址的驱动句柄
type HTTPEndpoint struct {
	URL string
}

// DevToolsURL 探测端点可用性并返回地址，端点不可达时返回 NotReadyError
func (e HTTPEndpoint) DevToolsURL(ctx context.Context) (string, error) {
	if e.URL == "" {
		return "", &NotReadyError{Reason: "未配置调试端点地址"}
	}
	if _, err := devtool.New(e.URL).Version(ctx); err != nil {
		return "", &NotReadyError{Reason: err.Error()}
	}
	return e.URL, nil
}

type cdpTransport struct {
	log logger.Logger
	reg *Registry

	conn *rpcc.Conn
	mgr  *session.Manager
	root domain.TargetInfo
	def  Session

	closeOnce sync.Once
	closeErr  error
}

// NewDialer 返回基于 mafredri/cdp 的拨号实现
func NewDialer(l logger.Logger) Dialer {
	return func(ctx context.Context, url string) (Transport, error) {
		return dialCDP(ctx, url, l)
	}
}

func dialCDP(ctx context.Context, url string, l logger.Logger) (Transport, error) {
	dt := devtool.New(url)
	tgt, err := dt.Get(ctx, devtool.Page)
	if err != nil {
		tgt, err = dt.Create(ctx)
		if err != nil {
			return nil, err
		}
	}

	conn, err := rpcc.DialContext(ctx, tgt.WebSocketDebuggerURL)
	if err != nil {
		return nil, err
	}
	mgr, err := session.NewManager(cdp.NewClient(conn))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	reg := NewRegistry()
	t := &cdpTransport{
		log:  l,
		reg:  reg,
		conn: conn,
		mgr:  mgr,
		root: domain.TargetInfo{
			ID:       domain.TargetID(tgt.ID),
			Kind:     domain.TargetKindPage,
			Title:    tgt.Title,
			URL:      tgt.URL,
			Attached: true,
		},
	}
	t.def = &cdpSession{conn: conn, reg: reg, log: l}
	l.Info("调试端点连接建立", "url", url, "rootTarget", tgt.ID)
	return t, nil
}

func (t *cdpTransport) Root() domain.TargetInfo { return t.root }

func (t *cdpTransport) DefaultSession() Session { return t.def }

func (t *cdpTransport) OpenSession(ctx context.Context, id domain.TargetID) (Session, error) {
	conn, err := t.mgr.Dial(ctx, target.ID(id))
	if err != nil {
		return nil, err
	}
	return &cdpSession{conn: conn, reg: t.reg, log: t.log, ownsConn: true}, nil
}

func (t *cdpTransport) Close() error {
	t.closeOnce.Do(func() {
		if err := t.mgr.Close(); err != nil {
			t.closeErr = err
		}
		if err := t.conn.Close(); err != nil && t.closeErr == nil {
			t.closeErr = err
		}
	})
	return t.closeErr
}

// cdpSession 基于 rpcc 连接的会话实现。
// 主目标复用传输层连接，子目标持有 session.Manager 派生的独立连接。
type cdpSession struct {
	conn     *rpcc.Conn
	reg      *Registry
	log      logger.Logger
	ownsConn bool

	closeOnce sync.Once
	closeErr  error
}

func (s *cdpSession) Execute(ctx context.Context, method string, args any, reply any) error {
	wire, err := s.reg.Resolve(method)
	if err != nil {
		return err
	}
	if reply == nil {
		var raw json.RawMessage
		reply = &raw
	}
	return rpcc.Invoke(ctx, wire, args, reply, s.conn)
}

func (s *cdpSession) Listen(ctx context.Context, bufferSize int, classes ...string) (<-chan *domain.Event, func(), error) {
	if bufferSize <= 0 {
		bufferSize = defaultListenBuffer
	}

	lctx, cancel := context.WithCancel(ctx)
	streams := make([]rpcc.Stream, 0, len(classes))
	methods := make([]string, 0, len(classes))
	cleanup := func() {
		cancel()
		for _, st := range streams {
			_ = st.Close()
		}
	}

	for _, class := range classes {
		method, err := s.reg.Resolve(class)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		st, err := rpcc.NewStream(lctx, method, s.conn)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		streams = append(streams, st)
		methods = append(methods, method)
	}
	// 多事件类共用一条通道时按到达顺序同步
	if len(streams) > 1 {
		if err := rpcc.Sync(streams...); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	out := make(chan *domain.Event, bufferSize)
	var wg sync.WaitGroup
	for i, st := range streams {
		wg.Add(1)
		go func(class, method string, st rpcc.Stream) {
			defer wg.Done()
			for {
				var raw json.RawMessage
				if err := st.RecvMsg(&raw); err != nil {
					return
				}
				select {
				case out <- &domain.Event{Class: class, Method: method, Params: raw}:
				case <-lctx.Done():
					return
				}
			}
		}(classes[i], methods[i], st)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, cleanup, nil
}

func (s *cdpSession) Close() error {
	s.closeOnce.Do(func() {
		if s.ownsConn {
			s.closeErr = s.conn.Close()
		}
	})
	return s.closeErr
}
