// Package watcher 提供数据目录监听和事件分发功能
package watcher

import (
	"log/slog"
	"sync"

	"github.com/shelfwatch/backend/internal/domain/events"
	"github.com/shelfwatch/backend/internal/infrastructure/log"
)

// subscription 一个订阅
type subscription struct {
	id      uint64
	handler events.Handler
}

// eventBusImpl EventBus 的实现
type eventBusImpl struct {
	// handlers 按事件类型存储的订阅列表
	handlers map[events.EventType][]subscription
	// nextID 订阅 ID 生成器
	nextID uint64
	// mu 保护 handlers 的互斥锁
	mu sync.RWMutex
	// logger 日志记录器
	logger *slog.Logger
	// closed 是否已关闭
	closed bool
	// wg 等待所有事件处理完成
	wg sync.WaitGroup
}

// NewEventBus 创建新的事件总线实例
func NewEventBus() events.EventBus {
	return &eventBusImpl{
		handlers: make(map[events.EventType][]subscription),
		logger:   log.NewModuleLogger("watcher", "event_bus"),
	}
}

// Subscribe 订阅特定类型的事件
func (b *eventBusImpl) Subscribe(eventType events.EventType, handler events.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	// 返回取消订阅函数
	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

// SubscribeMultiple 订阅多个类型的事件
func (b *eventBusImpl) SubscribeMultiple(eventTypes []events.EventType, handler events.Handler) func() {
	unsubscribers := make([]func(), 0, len(eventTypes))

	for _, eventType := range eventTypes {
		unsub := b.Subscribe(eventType, handler)
		unsubscribers = append(unsubscribers, unsub)
	}

	// 返回取消所有订阅的函数
	return func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}
}

// unsubscribe 按订阅 ID 取消订阅
func (b *eventBusImpl) unsubscribe(eventType events.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.handlers[eventType] = next
			break
		}
	}
}

// Publish 异步发布事件
func (b *eventBusImpl) Publish(event events.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	// 复制处理器列表，避免长时间持有锁
	subs := make([]subscription, len(b.handlers[event.Type()]))
	copy(subs, b.handlers[event.Type()])

	// 在读锁内登记，保证 Close 能等待到这些处理器
	b.wg.Add(len(subs))
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	b.logger.Debug("Publishing event",
		"type", event.Type(),
		"handlers_count", len(subs),
	)

	// 异步分发到所有处理器
	for _, s := range subs {
		go b.dispatchToHandler(event, s.handler)
	}
}

// dispatchToHandler 分发事件到单个处理器
func (b *eventBusImpl) dispatchToHandler(event events.Event, handler events.Handler) {
	defer b.wg.Done()

	// 捕获 panic，防止单个处理器崩溃影响其他处理器
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				"type", event.Type(),
				"panic", r,
			)
		}
	}()

	if err := handler.HandleEvent(event); err != nil {
		b.logger.Error("Handler returned error",
			"type", event.Type(),
			"error", err,
		)
	}
}

// Close 关闭事件总线
func (b *eventBusImpl) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	// 等待所有正在处理的事件完成
	b.wg.Wait()

	b.logger.Info("Event bus closed")
}
