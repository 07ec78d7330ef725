package protospec

import (
	"context"
	"encoding/base64"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"cdpflow/pkg/domain"
)

// HeaderInstruction 头部修改指令
type HeaderInstruction string

const (
	HeaderSet      HeaderInstruction = "set"       // 覆盖写入
	HeaderSetExist HeaderInstruction = "set_exist" // 仅在头部已存在时写入
	HeaderRemove   HeaderInstruction = "remove"    // 删除头部
)

// HeaderInstance 单个头部的修改说明
type HeaderInstance struct {
	Value       string
	Instruction HeaderInstruction
}

// RequestPattern Fetch 域的拦截模式
type RequestPattern struct {
	URLPattern string
	Stage      string // Request / Response
}

// ContinueRequestSettings continue_request 行为的参数配置。
// 未设置的字段不生成参数处理器，对应协议参数缺省。
type ContinueRequestSettings struct {
	URL               *string
	Method            *string
	PostData          *string        // 替换请求体原文，发送前做 base64 编码
	BodyPatch         map[string]any // 对请求体 JSON 的修补，键为 sjson 路径
	Headers           map[string]HeaderInstance
	InterceptResponse *bool
}

// FailRequestSettings fail_request 行为的参数配置
type FailRequestSettings struct {
	Reason string // 协议错误原因，默认 Failed
}

// FulfillRequestSettings fulfill_request 行为的参数配置
type FulfillRequestSettings struct {
	Status  int
	Headers map[string]string
	Body    []byte
	Phrase  string
}

// ContinueResponseSettings continue_response 行为的参数配置
type ContinueResponseSettings struct {
	Status  *int
	Phrase  *string
	Headers map[string]HeaderInstance
}

// 认证质询应答类别
const (
	AuthRespDefault     = "Default"
	AuthRespCancel      = "CancelAuth"
	AuthRespCredentials = "ProvideCredentials"
)

// ContinueWithAuthSettings continue_with_auth 行为的参数配置
type ContinueWithAuthSettings struct {
	Response string // 应答类别，默认 Default
	Username *string
	Password *string
}

// RequestPausedSettings fetch.request_paused 事件的结构化配置
type RequestPausedSettings struct {
	BufferSize int
	Choose     SelectFunc
	OnError    ErrorFunc

	ContinueRequest  *ContinueRequestSettings
	FailRequest      *FailRequestSettings
	FulfillRequest   *FulfillRequestSettings
	ContinueResponse *ContinueResponseSettings
}

// AuthRequiredSettings fetch.auth_required 事件的结构化配置
type AuthRequiredSettings struct {
	BufferSize int
	Choose     SelectFunc
	OnError    ErrorFunc

	ContinueWithAuth *ContinueWithAuthSettings
}

// FetchSettings Fetch 域的结构化配置，可转换为通用 DomainConfig
type FetchSettings struct {
	Patterns      []RequestPattern
	HandleAuth    bool
	RequestPaused *RequestPausedSettings
	AuthRequired  *AuthRequiredSettings
}

// DomainsSettings 各协议域结构化配置的集合
type DomainsSettings struct {
	Fetch *FetchSettings
}

// Table 转换为域名到 DomainConfig 的普通配置表
func (s DomainsSettings) Table() map[string]*DomainConfig {
	out := make(map[string]*DomainConfig)
	if s.Fetch != nil {
		out["fetch"] = s.Fetch.Domain()
	}
	return out
}

// Domain 构建 Fetch 域的通用配置
func (s *FetchSettings) Domain() *DomainConfig {
	patterns := s.Patterns
	if len(patterns) == 0 {
		patterns = []RequestPattern{{URLPattern: "*", Stage: "Request"}}
	}
	pats := make([]map[string]any, 0, len(patterns))
	for _, p := range patterns {
		m := map[string]any{"urlPattern": p.URLPattern}
		if p.Stage != "" {
			m["requestStage"] = p.Stage
		}
		pats = append(pats, m)
	}
	handleAuth := s.HandleAuth || s.AuthRequired != nil

	cfg := &DomainConfig{
		Name:   "fetch",
		Enable: "fetch.enable",
		EnableArgs: map[string]any{
			"patterns":           pats,
			"handleAuthRequests": handleAuth,
		},
		Disable: "fetch.disable",
		Events:  make(map[string]*EventHandlerConfig),
	}

	rp := s.RequestPaused
	if rp == nil {
		rp = &RequestPausedSettings{}
	}
	cfg.Events["request_paused"] = rp.eventConfig()

	if handleAuth {
		ar := s.AuthRequired
		if ar == nil {
			ar = &AuthRequiredSettings{}
		}
		cfg.Events["auth_required"] = ar.eventConfig()
	}
	return cfg
}

func (s *RequestPausedSettings) eventConfig() *EventHandlerConfig {
	table := &ActionTable{Choose: s.Choose, Actions: make(map[string]*ActionSpec)}
	table.Actions[ActionContinueRequest] = s.continueRequestSpec()
	table.Actions[ActionFailRequest] = s.failRequestSpec()
	table.Actions[ActionContinueResponse] = s.continueResponseSpec()
	if s.FulfillRequest != nil {
		table.Actions[ActionFulfillRequest] = s.FulfillRequest.spec()
	}

	buffer := s.BufferSize
	if buffer <= 0 {
		buffer = 100
	}
	return &EventHandlerConfig{
		Class:          "fetch.request_paused",
		BufferSize:     buffer,
		CorrelationKey: DefaultCorrelationKey,
		Actions:        table,
		OnError:        s.OnError,
	}
}

func (s *AuthRequiredSettings) eventConfig() *EventHandlerConfig {
	table := &ActionTable{Choose: s.Choose, Actions: make(map[string]*ActionSpec)}
	table.Actions[ActionContinueWithAuth] = authSpec(s.ContinueWithAuth)

	buffer := s.BufferSize
	if buffer <= 0 {
		buffer = 100
	}
	return &EventHandlerConfig{
		Class:          "fetch.auth_required",
		BufferSize:     buffer,
		CorrelationKey: DefaultCorrelationKey,
		Actions:        table,
		OnError:        s.OnError,
	}
}

func (s *RequestPausedSettings) continueRequestSpec() *ActionSpec {
	spec := &ActionSpec{Command: "fetch.continue_request", Params: make(map[string]*ParameterHandler)}
	cr := s.ContinueRequest
	if cr == nil {
		return spec
	}
	if cr.URL != nil {
		spec.Params["url"] = StaticParam("url", *cr.URL)
	}
	if cr.Method != nil {
		spec.Params["method"] = StaticParam("method", *cr.Method)
	}
	if cr.InterceptResponse != nil {
		spec.Params["interceptResponse"] = StaticParam("interceptResponse", *cr.InterceptResponse)
	}
	if len(cr.Headers) > 0 {
		spec.Params["headers"] = requestHeadersParam(cr.Headers)
	}
	if cr.PostData != nil || len(cr.BodyPatch) > 0 {
		spec.Params["postData"] = postDataParam(cr)
	}
	return spec
}

func (s *RequestPausedSettings) failRequestSpec() *ActionSpec {
	reason := "Failed"
	if s.FailRequest != nil && s.FailRequest.Reason != "" {
		reason = s.FailRequest.Reason
	}
	return &ActionSpec{
		Command: "fetch.fail_request",
		Params: map[string]*ParameterHandler{
			"errorReason": StaticParam("errorReason", reason),
		},
	}
}

func (s *RequestPausedSettings) continueResponseSpec() *ActionSpec {
	spec := &ActionSpec{Command: "fetch.continue_response", Params: make(map[string]*ParameterHandler)}
	cr := s.ContinueResponse
	if cr == nil {
		return spec
	}
	if cr.Status != nil {
		spec.Params["responseCode"] = StaticParam("responseCode", *cr.Status)
	}
	if cr.Phrase != nil {
		spec.Params["responsePhrase"] = StaticParam("responsePhrase", *cr.Phrase)
	}
	if len(cr.Headers) > 0 {
		spec.Params["responseHeaders"] = responseHeadersParam(cr.Headers)
	}
	return spec
}

func (f *FulfillRequestSettings) spec() *ActionSpec {
	spec := &ActionSpec{Command: "fetch.fulfill_request", Params: make(map[string]*ParameterHandler)}
	status := f.Status
	if status == 0 {
		status = 200
	}
	spec.Params["responseCode"] = StaticParam("responseCode", status)
	if len(f.Headers) > 0 {
		spec.Params["responseHeaders"] = StaticParam("responseHeaders", headerEntries(f.Headers))
	}
	if len(f.Body) > 0 {
		spec.Params["body"] = StaticParam("body", base64.StdEncoding.EncodeToString(f.Body))
	}
	if f.Phrase != "" {
		spec.Params["responsePhrase"] = StaticParam("responsePhrase", f.Phrase)
	}
	return spec
}

func authSpec(cfg *ContinueWithAuthSettings) *ActionSpec {
	response := AuthRespDefault
	payload := map[string]any{}
	if cfg != nil {
		if cfg.Response != "" {
			response = cfg.Response
		}
		if cfg.Username != nil {
			payload["username"] = *cfg.Username
		}
		if cfg.Password != nil {
			payload["password"] = *cfg.Password
		}
	}
	payload["response"] = response
	return &ActionSpec{
		Command: "fetch.continue_with_auth",
		Params: map[string]*ParameterHandler{
			"authChallengeResponse": StaticParam("authChallengeResponse", payload),
		},
	}
}

// requestHeadersParam 基于请求原始头部与修改指令计算 headers 参数
func requestHeadersParam(instances map[string]HeaderInstance) *ParameterHandler {
	return &ParameterHandler{
		Instances: instances,
		Func: func(_ context.Context, ev *domain.Event, inst any, args *ArgMap) error {
			rules := inst.(map[string]HeaderInstance)
			headers := make(map[string]string)
			ev.Get("request.headers").ForEach(func(k, v gjson.Result) bool {
				headers[k.String()] = v.String()
				return true
			})
			applyHeaderRules(headers, rules)
			args.Set("headers", headerEntries(headers))
			return nil
		},
	}
}

// responseHeadersParam 基于响应头条目与修改指令计算 responseHeaders 参数
func responseHeadersParam(instances map[string]HeaderInstance) *ParameterHandler {
	return &ParameterHandler{
		Instances: instances,
		Func: func(_ context.Context, ev *domain.Event, inst any, args *ArgMap) error {
			rules := inst.(map[string]HeaderInstance)
			headers := make(map[string]string)
			ev.Get("responseHeaders").ForEach(func(_, entry gjson.Result) bool {
				headers[entry.Get("name").String()] = entry.Get("value").String()
				return true
			})
			applyHeaderRules(headers, rules)
			args.Set("responseHeaders", headerEntries(headers))
			return nil
		},
	}
}

// postDataParam 计算 postData 参数：可整体替换原文，也可按路径修补 JSON
func postDataParam(cr *ContinueRequestSettings) *ParameterHandler {
	return &ParameterHandler{
		Instances: cr,
		Func: func(_ context.Context, ev *domain.Event, inst any, args *ArgMap) error {
			set := inst.(*ContinueRequestSettings)
			body := ev.Get("request.postData").String()
			if set.PostData != nil {
				body = *set.PostData
			}
			var err error
			for path, v := range set.BodyPatch {
				body, err = sjson.Set(body, path, v)
				if err != nil {
					return err
				}
			}
			args.Set("postData", base64.StdEncoding.EncodeToString([]byte(body)))
			return nil
		},
	}
}

func applyHeaderRules(headers map[string]string, rules map[string]HeaderInstance) {
	for name, r := range rules {
		switch r.Instruction {
		case HeaderSet, "":
			headers[name] = r.Value
		case HeaderSetExist:
			if _, ok := headers[name]; ok {
				headers[name] = r.Value
			}
		case HeaderRemove:
			delete(headers, name)
		}
	}
}

// headerEntries 转为协议要求的有序头部条目数组
func headerEntries(h map[string]string) []map[string]string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]map[string]string, 0, len(h))
	for _, name := range names {
		entries = append(entries, map[string]string{"name": name, "value": h[name]})
	}
	return entries
}
