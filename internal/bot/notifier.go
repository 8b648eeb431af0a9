package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

// Broadcaster - рассылка событий подключённым клиентам (websocket.Hub)
type Broadcaster interface {
	BroadcastNotification(n *models.Notification)
	BroadcastPairUpdate(pair models.OCOPair)
}

// Notifier - очередь уведомлений ядра
//
// Ядро никогда не ждёт на уведомлениях: Notify кладёт событие в буферный
// канал без блокировки, при переполнении событие теряется и учитывается в
// метриках. Run разбирает канал: пишет в лог, хранит последние события в
// кольцевом буфере, сохраняет в журнал (если подключён) и рассылает клиентам.
type Notifier struct {
	ch chan *models.Notification

	mu     sync.RWMutex
	recent []*models.Notification
	keep   int

	seq atomic.Int64

	extMu        sync.RWMutex
	broadcaster  Broadcaster
	store        NotificationStore
	storeTimeout time.Duration

	log *zap.Logger
}

// NewNotifier создаёт очередь с буфером buffer и хранит keep последних событий
func NewNotifier(buffer, keep int, log *zap.Logger) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	if keep <= 0 {
		keep = 200
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		ch:           make(chan *models.Notification, buffer),
		keep:         keep,
		storeTimeout: 3 * time.Second,
		log:          log.Named("notify"),
	}
}

// SetBroadcaster подключает рассылку клиентам
func (n *Notifier) SetBroadcaster(b Broadcaster) {
	n.extMu.Lock()
	n.broadcaster = b
	n.extMu.Unlock()
}

// AttachStore подключает журнал уведомлений
func (n *Notifier) AttachStore(s NotificationStore, timeout time.Duration) {
	n.extMu.Lock()
	n.store = s
	if timeout > 0 {
		n.storeTimeout = timeout
	}
	n.extMu.Unlock()
}

// Notify ставит уведомление в очередь без блокировки
func (n *Notifier) Notify(notif *models.Notification) bool {
	if n == nil {
		return false
	}
	return tryEnqueueNotification(n.ch, notif)
}

// PairUpdated рассылает новое состояние пары клиентам
func (n *Notifier) PairUpdated(pair models.OCOPair) {
	if n == nil {
		return
	}
	n.extMu.RLock()
	b := n.broadcaster
	n.extMu.RUnlock()
	if b != nil {
		b.BroadcastPairUpdate(pair)
	}
}

// tryEnqueueNotification отправляет уведомление в канал с метриками переполнения.
// Возвращает true, если уведомление поставлено в очередь.
func tryEnqueueNotification(ch chan *models.Notification, notif *models.Notification) bool {
	if ch == nil || notif == nil {
		return false
	}

	select {
	case ch <- notif:
		return true
	default:
		RecordBufferOverflow("notification")
		RecordBufferBacklog("notification", cap(ch), len(ch))
		return false
	}
}

// Run разбирает очередь до отмены контекста
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// дописываем то, что уже в буфере
			for {
				select {
				case notif := <-n.ch:
					n.publish(context.Background(), notif)
				default:
					return
				}
			}
		case notif := <-n.ch:
			n.publish(ctx, notif)
		}
	}
}

func (n *Notifier) publish(ctx context.Context, notif *models.Notification) {
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}

	fields := []zap.Field{
		utils.String("type", notif.Type),
		utils.PositionID(notif.PositionID),
		utils.PairID(notif.PairID),
	}
	if len(notif.Meta) > 0 {
		fields = append(fields, utils.Any("meta", notif.Meta))
	}
	switch notif.Severity {
	case models.SeverityError:
		n.log.Error(notif.Message, fields...)
	case models.SeverityWarn:
		n.log.Warn(notif.Message, fields...)
	default:
		n.log.Info(notif.Message, fields...)
	}

	n.extMu.RLock()
	store, timeout, b := n.store, n.storeTimeout, n.broadcaster
	n.extMu.RUnlock()

	persisted := false
	if store != nil {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := store.Create(sctx, notif)
		cancel()
		if err != nil {
			StoreErrors.WithLabelValues("notification").Inc()
			n.log.Warn("failed to persist notification", utils.Err(err))
		} else {
			persisted = true
		}
	}
	if !persisted {
		notif.ID = n.seq.Add(1)
	}

	n.mu.Lock()
	n.recent = append(n.recent, notif)
	if len(n.recent) > n.keep {
		n.recent = n.recent[len(n.recent)-n.keep:]
	}
	n.mu.Unlock()

	if b != nil {
		b.BroadcastNotification(notif)
	}
}

// Recent возвращает до limit последних уведомлений, новые первыми
func (n *Notifier) Recent(limit int) []*models.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if limit <= 0 || limit > len(n.recent) {
		limit = len(n.recent)
	}
	out := make([]*models.Notification, 0, limit)
	for i := len(n.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, n.recent[i])
	}
	return out
}

// newNotification собирает уведомление
func newNotification(typ, severity, positionID, pairID, message string, meta map[string]interface{}) *models.Notification {
	return &models.Notification{
		Timestamp:  time.Now(),
		Type:       typ,
		Severity:   severity,
		PositionID: positionID,
		PairID:     pairID,
		Message:    message,
		Meta:       meta,
	}
}
