package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownDomain 配置了不在注册表内的协议域
var ErrUnknownDomain = errors.New("未知的协议域")

// knownDomains 注册表收录的协议域，配置时据此拒绝未知域名
var knownDomains = map[string]string{
	"fetch":   "Fetch",
	"network": "Network",
	"target":  "Target",
	"runtime": "Runtime",
	"page":    "Page",
	"log":     "Log",
}

// Registry 点路径到协议方法名的显式查找表。
// 首次解析后缓存，如 "fetch.continue_request" 解析为 "Fetch.continueRequest"。
type Registry struct {
	mu    sync.RWMutex
	cache map[string]string
}

func NewRegistry() *Registry {
	return &Registry{cache: make(map[string]string)}
}

// KnownDomain 判断协议域是否被注册表收录
func KnownDomain(name string) bool {
	_, ok := knownDomains[name]
	return ok
}

// Resolve 将点路径命令/事件类解析为线上协议方法名
func (r *Registry) Resolve(path string) (string, error) {
	r.mu.RLock()
	method, ok := r.cache[path]
	r.mu.RUnlock()
	if ok {
		return method, nil
	}

	domainPart, rest, found := strings.Cut(path, ".")
	if !found || domainPart == "" || rest == "" {
		return "", fmt.Errorf("非法的协议路径 %q", path)
	}
	prefix, ok := knownDomains[domainPart]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDomain, domainPart)
	}
	method = prefix + "." + snakeToCamel(rest)

	r.mu.Lock()
	r.cache[path] = method
	r.mu.Unlock()
	return method, nil
}

// snakeToCamel 将 snake_case 段转为 lowerCamel
func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
