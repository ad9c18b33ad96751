// 调度事件流的捕获实现。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/skillflow/dispatch"
)

// RecordingRecorder 捕获引擎发出的全部事件，供断言事件序列。
type RecordingRecorder struct {
	mu     sync.Mutex
	events []dispatch.Event
}

// NewRecordingRecorder 创建事件捕获器
func NewRecordingRecorder() *RecordingRecorder {
	return &RecordingRecorder{}
}

// Record 实现 dispatch.Recorder
func (r *RecordingRecorder) Record(_ context.Context, ev dispatch.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events 返回事件副本，按记录顺序。
func (r *RecordingRecorder) Events() []dispatch.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dispatch.Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByKind 返回指定类别的事件
func (r *RecordingRecorder) ByKind(kind dispatch.EventKind) []dispatch.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatch.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset 清空已捕获事件
func (r *RecordingRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
