package sessionlog

import (
	"runtime"
	"strings"
)

// CallerPath 返回调用链的函数名摘要，形如 "inner <- outer <- main"。
// skip 为跳过的栈帧数（0 表示 CallerPath 的直接调用者）。
func CallerPath(skip, depth int) string {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var parts []string
	for {
		frame, more := frames.Next()
		name := frame.Function
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:]
		}
		parts = append(parts, name)
		if !more {
			break
		}
	}
	return strings.Join(parts, " <- ")
}
