package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/bubblegumsoldier/liive/internal/metrics"
	"github.com/google/uuid"
)

// Hub 管理会话级别的子 Hub，实现延迟创建与并发安全。
type Hub struct {
	mu    sync.RWMutex
	chats map[uuid.UUID]*ChatHub
}

func NewHub() *Hub { return &Hub{chats: make(map[uuid.UUID]*ChatHub)} }

// GetChat 若会话 Hub 未初始化则懒加载一个。
func (h *Hub) GetChat(chatID uuid.UUID) *ChatHub {
	h.mu.RLock()
	ch := h.chats[chatID]
	h.mu.RUnlock()
	if ch != nil {
		return ch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch = h.chats[chatID]
	if ch != nil {
		return ch
	}
	ch = NewChatHub(chatID)
	h.chats[chatID] = ch
	go ch.run()
	return ch
}

func (h *Hub) Online(chatID uuid.UUID) int {
	h.mu.RLock()
	ch := h.chats[chatID]
	h.mu.RUnlock()
	if ch == nil {
		return 0
	}
	return ch.Online()
}

// Publish 把业务事件广播给会话内的在线成员。没有人在线时
// 不创建 Hub，事件直接丢弃。
func (h *Hub) Publish(chatID uuid.UUID, event any) {
	h.mu.RLock()
	ch := h.chats[chatID]
	h.mu.RUnlock()
	if ch == nil {
		return
	}
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case ch.broadcast <- b:
	default:
	}
}

type ChatHub struct {
	chatID     uuid.UUID
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func NewChatHub(chatID uuid.UUID) *ChatHub {
	return &ChatHub{
		chatID:     chatID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (ch *ChatHub) run() {
	for {
		select {
		case c := <-ch.register:
			ch.clients[c] = true
			atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
			metrics.WsConnections.Inc()
			ch.fanout(ch.presenceEvent("join", c))
		case c := <-ch.unregister:
			if _, ok := ch.clients[c]; ok {
				delete(ch.clients, c)
				close(c.send)
				atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
				metrics.WsConnections.Dec()
				ch.fanout(ch.presenceEvent("leave", c))
			}
		case msg := <-ch.broadcast:
			for c := range ch.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(ch.clients, c)
					metrics.WsConnections.Dec()
				}
			}
		}
	}
}

func (ch *ChatHub) presenceEvent(typ string, c *Client) []byte {
	evt := map[string]interface{}{
		"type":     typ,
		"chat_id":  ch.chatID,
		"user_id":  c.userID,
		"username": c.uname,
		"online":   int(atomic.LoadInt32(&ch.online)),
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return nil
	}
	return b
}

func (ch *ChatHub) fanout(msg []byte) {
	if msg == nil {
		return
	}
	for c := range ch.clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(ch.clients, c)
		}
	}
}

// Online 返回会话在线客户端数量，供 REST 接口复用。
func (ch *ChatHub) Online() int { return int(atomic.LoadInt32(&ch.online)) }
