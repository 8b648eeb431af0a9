package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub управляет всеми активными WebSocket соединениями
//
// Рассылает клиентам обновления OCO пар и уведомления ядра. Реализует
// bot.Broadcaster: ядро вызывает BroadcastPairUpdate/BroadcastNotification
// и никогда не ждёт на медленных клиентах.
//
// Правила:
// - Broadcast не блокирует: при переполнении очереди сообщение теряется
// - клиент, не успевающий читать, отключается
// - регистрация и рассылка идут в одной горутине Run
//
// Использование:
// 1. hub := NewHub(log)
// 2. go hub.Run(ctx)
// 3. notifier.SetBroadcaster(hub)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	dropped atomic.Int64
	log     *zap.Logger
}

// NewHub создает новый Hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("ws"),
	}
}

// Run - главный цикл Hub до отмены контекста
//
// Список клиентов копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Lock.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Int("clients", n))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("clients", n))
			}
		}
	}
}

// Broadcast сериализует сообщение и ставит в очередь рассылки без блокировки
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastPairUpdate отправляет снимок OCO пары
func (h *Hub) BroadcastPairUpdate(pair models.OCOPair) {
	h.Broadcast(NewPairUpdateMessage(pair))
}

// BroadcastNotification отправляет уведомление
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	if notif == nil {
		return
	}
	h.Broadcast(NewNotificationMessage(notif))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сообщений потеряно из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
