package websocket

import (
	"encoding/json"
	"sync"
)

// 订阅主题
const (
	TopicAll      = ""
	TopicRecords  = "records"
	TopicInsights = "insights"
)

// Hub WebSocket 连接管理中心
type Hub struct {
	// 按主题分组的连接，TopicAll 接收所有主题
	topics map[string]map[*Connection]bool
	// 注册连接
	register chan *Connection
	// 注销连接
	unregister chan *Connection
	// 广播消息
	broadcast chan *Message
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.RWMutex
}

// Connection WebSocket 连接
type Connection struct {
	Topic string
	Send  chan []byte
}

// NewConnection 创建连接
func NewConnection(topic string) *Connection {
	return &Connection{Topic: topic, Send: make(chan []byte, 256)}
}

// Message 消息
type Message struct {
	Topic string
	Data  []byte
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *Message, 64),
		done:       make(chan struct{}),
	}
}

// Run 运行 Hub（需要在 goroutine 中运行），Stop 后返回
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.topics[conn.Topic] == nil {
				h.topics[conn.Topic] = make(map[*Connection]bool)
			}
			h.topics[conn.Topic][conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			h.remove(conn)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg.Topic, msg.Data)
			if msg.Topic != TopicAll {
				h.deliver(TopicAll, msg.Data)
			}
			h.mu.Unlock()
		}
	}
}

// deliver 发送给一个主题的连接，缓冲区满的连接被断开
func (h *Hub) deliver(topic string, data []byte) {
	for conn := range h.topics[topic] {
		select {
		case conn.Send <- data:
		default:
			h.remove(conn)
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	if conns, ok := h.topics[conn.Topic]; ok {
		if _, ok := conns[conn]; ok {
			delete(conns, conn)
			close(conn.Send)
			if len(conns) == 0 {
				delete(h.topics, conn.Topic)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, conns := range h.topics {
		for conn := range conns {
			close(conn.Send)
		}
		delete(h.topics, topic)
	}
}

// Start 启动 Hub（启动后台 goroutine）
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		go h.Run()
	})
}

// Stop 停止 Hub 并关闭所有连接
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Register 注册连接
func (h *Hub) Register(conn *Connection) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销连接
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.topics {
		n += len(conns)
	}
	return n
}

// Broadcast 向指定主题广播消息
func (h *Hub) Broadcast(topic string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &Message{Topic: topic, Data: jsonData}:
	case <-h.done:
	}
	return nil
}
