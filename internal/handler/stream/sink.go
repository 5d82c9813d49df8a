package stream

import (
	"sync"

	"github.com/zhouzirui/eray/backend/internal/service/conversation"
)

const sinkBuffer = 128

// sink 把引擎事件交给连接的写循环。监听器在引擎锁内执行，所以这里
// 从不无限期阻塞：delta 在缓冲区满时直接丢弃（后续事件携带累计文本），
// 其余事件在连接关闭后放弃投递。
type sink struct {
	events        chan conversation.Event
	closed        chan struct{}
	once          sync.Once
	withSnapshots bool
}

func newSink(withSnapshots bool) *sink {
	return &sink{
		events:        make(chan conversation.Event, sinkBuffer),
		closed:        make(chan struct{}),
		withSnapshots: withSnapshots,
	}
}

func (s *sink) listen(event conversation.Event) {
	switch event.Type {
	case conversation.EventSnapshot:
		if !s.withSnapshots {
			return
		}
	case conversation.EventDelta:
		select {
		case s.events <- event:
		case <-s.closed:
		default:
		}
		return
	}

	select {
	case s.events <- event:
	case <-s.closed:
	}
}

func (s *sink) close() {
	s.once.Do(func() { close(s.closed) })
}

func isTerminal(t conversation.EventType) bool {
	switch t {
	case conversation.EventDone, conversation.EventError, conversation.EventCanceled:
		return true
	}
	return false
}
