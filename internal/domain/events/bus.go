package events

// Handler 事件处理器，返回的错误只记录日志，不会重投
type Handler interface {
	HandleEvent(event Event) error
}

// HandlerFunc 让普通函数充当 Handler
type HandlerFunc func(event Event) error

// HandleEvent 实现 Handler
func (f HandlerFunc) HandleEvent(event Event) error {
	return f(event)
}

// Publisher 事件发布方
// 协调器与派发器只需要发布能力
type Publisher interface {
	// Publish 异步投递事件，不保证处理顺序
	Publish(event Event)
}

// Subscriber 事件订阅方
type Subscriber interface {
	// Subscribe 订阅单一类型，返回取消订阅函数
	Subscribe(eventType EventType, handler Handler) (unsubscribe func())
	// SubscribeMultiple 用同一个处理器订阅多种类型
	SubscribeMultiple(eventTypes []EventType, handler Handler) (unsubscribe func())
}

// EventBus 进程内事件总线
type EventBus interface {
	Publisher
	Subscriber

	// Close 拒绝新事件并等待已投递事件处理完
	Close()
}
