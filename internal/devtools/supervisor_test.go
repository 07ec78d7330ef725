package devtools

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpflow/internal/transport"
	"cdpflow/pkg/domain"
	"cdpflow/pkg/protospec"
)

type fakeEndpoint struct{}

func (fakeEndpoint) DevToolsURL(context.Context) (string, error) { return "fake://devtools", nil }

type listenerReg struct {
	classes map[string]bool
	ch      chan *domain.Event
	closed  bool
}

type fakeSession struct {
	id domain.TargetID

	mu        sync.Mutex
	commands  []string
	listeners []*listenerReg
}

func (s *fakeSession) Execute(_ context.Context, method string, _ any, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, method)
	return nil
}

func (s *fakeSession) Listen(_ context.Context, bufferSize int, classes ...string) (<-chan *domain.Event, func(), error) {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	reg := &listenerReg{classes: make(map[string]bool, len(classes)), ch: make(chan *domain.Event, bufferSize)}
	for _, c := range classes {
		reg.classes[c] = true
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, reg)
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !reg.closed {
			reg.closed = true
			close(reg.ch)
		}
	}
	return reg.ch, stop, nil
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) push(ev *domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.listeners {
		if reg.closed || !reg.classes[ev.Class] {
			continue
		}
		select {
		case reg.ch <- ev:
		default:
		}
	}
}

func (s *fakeSession) issued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

type fakeTransport struct {
	mu       sync.Mutex
	root     *fakeSession
	rootInfo domain.TargetInfo
	sessions map[domain.TargetID]*fakeSession
	opens    map[domain.TargetID]int
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		root: &fakeSession{id: "ROOT"},
		rootInfo: domain.TargetInfo{
			ID:       "ROOT",
			Kind:     domain.TargetKindPage,
			URL:      "about:blank",
			Attached: true,
		},
		sessions: make(map[domain.TargetID]*fakeSession),
		opens:    make(map[domain.TargetID]int),
	}
}

func (t *fakeTransport) Root() domain.TargetInfo         { return t.rootInfo }
func (t *fakeTransport) DefaultSession() transport.Session { return t.root }

func (t *fakeTransport) OpenSession(_ context.Context, id domain.TargetID) (transport.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens[id]++
	sess := &fakeSession{id: id}
	t.sessions[id] = sess
	return sess, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) openCount(id domain.TargetID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens[id]
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	sup := New(Options{
		Endpoint: fakeEndpoint{},
		Dialer: func(context.Context, string) (transport.Transport, error) {
			return ft, nil
		},
	})
	return sup, ft
}

func targetEvent(class, id, kind string) *domain.Event {
	return &domain.Event{
		Class: class,
		Params: []byte(fmt.Sprintf(
			`{"targetInfo":{"targetId":%q,"type":%q,"url":"https://example.com","attached":true}}`,
			id, kind,
		)),
	}
}

func TestSupervisorEnterExit(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, ft := newTestSupervisor(t)
	require.NoError(t, sup.SetDomainHandlers(protospec.DomainsSettings{Fetch: &protospec.FetchSettings{}}))

	require.NoError(t, sup.Enter(context.Background()))
	assert.True(t, sup.IsActive())
	assert.NotEmpty(t, sup.SessionID())

	targets := sup.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, domain.TargetID("ROOT"), targets[0].ID)

	issued := ft.root.issued()
	require.NotEmpty(t, issued)
	assert.Equal(t, "target.set_discover_targets", issued[0])
	assert.Contains(t, issued, "target.set_auto_attach")
	assert.Contains(t, issued, "fetch.enable")
	assert.Equal(t, "runtime.run_if_waiting_for_debugger", issued[len(issued)-1])

	assert.ErrorIs(t, sup.Enter(context.Background()), ErrAlreadyActive)

	sup.Exit()
	assert.False(t, sup.IsActive())
	assert.Empty(t, sup.Targets())
	assert.True(t, ft.closed)

	sup.Exit()
}

func TestSupervisorTracksNewTargets(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, ft := newTestSupervisor(t)
	require.NoError(t, sup.SetDomainHandlers(protospec.DomainsSettings{Fetch: &protospec.FetchSettings{}}))
	require.NoError(t, sup.Enter(context.Background()))
	defer sup.Exit()

	ft.root.push(targetEvent("target.target_created", "T2", "page"))

	require.Eventually(t, func() bool {
		return len(sup.Targets()) == 2 && ft.openCount("T2") == 1
	}, time.Second, 5*time.Millisecond)

	// 子目标完成了与主目标相同的初始化序列
	require.Eventually(t, func() bool {
		ft.mu.Lock()
		sess := ft.sessions["T2"]
		ft.mu.Unlock()
		if sess == nil {
			return false
		}
		issued := sess.issued()
		return len(issued) > 0 && issued[len(issued)-1] == "runtime.run_if_waiting_for_debugger"
	}, time.Second, 5*time.Millisecond)

	// 同一目标的重复事件只刷新记录，不重复建会话
	ft.root.push(targetEvent("target.target_info_changed", "T2", "page"))
	ft.root.push(targetEvent("target.attached_to_target", "T2", "page"))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sup.Targets(), 2)
	assert.Equal(t, 1, ft.openCount("T2"))

	// 非 page/tab 目标被忽略
	ft.root.push(targetEvent("target.target_created", "W1", "service_worker"))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sup.Targets(), 2)
	assert.Equal(t, 0, ft.openCount("W1"))
}

func TestSupervisorDispatchesInterceptEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, ft := newTestSupervisor(t)
	require.NoError(t, sup.SetDomainHandlers(protospec.DomainsSettings{Fetch: &protospec.FetchSettings{}}))
	require.NoError(t, sup.Enter(context.Background()))
	defer sup.Exit()

	ft.root.push(&domain.Event{
		Class:  "fetch.request_paused",
		Params: []byte(`{"requestId":"r1","request":{"url":"https://example.com"}}`),
	})

	select {
	case evt := <-sup.Events():
		assert.Equal(t, sup.SessionID(), evt.Session)
		assert.Equal(t, domain.TargetID("ROOT"), evt.Target)
		assert.Equal(t, "fetch.request_paused", evt.Class)
		assert.Equal(t, protospec.ActionContinueRequest, evt.Action)
		assert.Equal(t, domain.OutcomeIssued, evt.Outcome)
	case <-time.After(time.Second):
		t.Fatal("未收到拦截结果事件")
	}

	require.Eventually(t, func() bool {
		for _, cmd := range ft.root.issued() {
			if cmd == "fetch.continue_request" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSupervisorConfigGuards(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup, _ := newTestSupervisor(t)

	err := sup.SetDomainConfigs(map[string]*protospec.DomainConfig{
		"bluetooth": {Name: "bluetooth"},
	})
	require.ErrorIs(t, err, transport.ErrUnknownDomain)

	require.NoError(t, sup.SetDomainHandlers(protospec.DomainsSettings{Fetch: &protospec.FetchSettings{}}))
	require.NoError(t, sup.Enter(context.Background()))

	// 激活期间的配置修改被拒绝但不报错
	assert.NoError(t, sup.SetDomainHandlers(protospec.DomainsSettings{Fetch: &protospec.FetchSettings{HandleAuth: true}}))
	sup.RemoveDomainHandlers("fetch")
	assert.Contains(t, sup.domains, "fetch")

	sup.Exit()
}

func TestSupervisorEnterNotReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	sup := New(Options{
		Endpoint: transport.HTTPEndpoint{},
		Dialer: func(context.Context, string) (transport.Transport, error) {
			t.Fatal("不应拨号")
			return nil, nil
		},
	})
	err := sup.Enter(context.Background())
	var nr *transport.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.False(t, sup.IsActive())
}
