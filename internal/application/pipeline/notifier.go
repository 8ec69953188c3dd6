package pipeline

import (
	"log/slog"
	"sync"

	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// 推送主题
const (
	TopicRecords  = "records"
	TopicInsights = "insights"
)

// Broadcaster 推送接口（定义在 application 层）
// 由 websocket Hub 实现
type Broadcaster interface {
	Broadcast(topic string, data interface{}) error
}

// StatusMessage 推送给看板的消息
type StatusMessage struct {
	Type events.EventType `json:"type"`
	Data events.Event     `json:"data"`
}

// StatusNotifier 将流水线状态事件推送给订阅者
type StatusNotifier struct {
	bus         events.EventBus
	broadcaster Broadcaster
	logger      *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewStatusNotifier 创建状态推送器
func NewStatusNotifier(bus events.EventBus, broadcaster Broadcaster) *StatusNotifier {
	return &StatusNotifier{
		bus:         bus,
		broadcaster: broadcaster,
		logger:      log.NewModuleLogger("pipeline", "notifier"),
	}
}

// Start 订阅状态事件
func (n *StatusNotifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unsubscribe != nil {
		return
	}
	n.unsubscribe = n.bus.SubscribeMultiple(
		[]events.EventType{events.RecordStateChanged, events.InsightJobFinished},
		n,
	)
}

// Stop 取消订阅
func (n *StatusNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.unsubscribe != nil {
		n.unsubscribe()
		n.unsubscribe = nil
	}
}

// HandleEvent 实现 events.Handler
func (n *StatusNotifier) HandleEvent(event events.Event) error {
	var topic string
	switch event.Type() {
	case events.RecordStateChanged:
		topic = TopicRecords
	case events.InsightJobFinished:
		topic = TopicInsights
	default:
		return nil
	}
	if err := n.broadcaster.Broadcast(topic, &StatusMessage{Type: event.Type(), Data: event}); err != nil {
		n.logger.Warn("Failed to broadcast status event", "topic", topic, "error", err)
		return err
	}
	return nil
}
