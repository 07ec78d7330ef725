package domain

import "github.com/tidwall/gjson"

// Event 一条协议事件的原始载荷。
// Class 是配置中使用的点路径事件类（如 "fetch.request_paused"），
// Method 是线上协议方法名（如 "Fetch.requestPaused"），Params 为未解析的 JSON。
type Event struct {
	Class  string
	Method string
	Params []byte
}

// Get 按 gjson 路径读取事件载荷中的字段
func (e *Event) Get(path string) gjson.Result {
	if e == nil || len(e.Params) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(e.Params, path)
}

// TargetInfo 从目标类事件（targetCreated 等）中提取目标快照
func (e *Event) TargetInfo() (TargetInfo, bool) {
	info := e.Get("targetInfo")
	if !info.Exists() {
		return TargetInfo{}, false
	}
	kind := TargetKind(info.Get("type").String())
	if !kind.Handled() && kind != "" {
		kind = TargetKindOther
	}
	return TargetInfo{
		ID:       TargetID(info.Get("targetId").String()),
		Kind:     kind,
		Title:    info.Get("title").String(),
		URL:      info.Get("url").String(),
		Attached: info.Get("attached").Bool(),
	}, true
}
