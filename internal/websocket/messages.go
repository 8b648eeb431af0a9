package websocket

import (
	"time"

	"ocobot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

const (
	// MessageTypePairUpdate - изменилось состояние OCO пары
	// (постановка, исполнение ноги, отмена)
	MessageTypePairUpdate MessageType = "pairUpdate"

	// MessageTypeNotification - новое уведомление ядра
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - общие поля всех сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// PairUpdateMessage - снимок OCO пары
type PairUpdateMessage struct {
	BaseMessage
	PairID string          `json:"pair_id"`
	Data   *PairUpdateData `json:"data"`
}

// PairUpdateData - данные пары для клиента
type PairUpdateData struct {
	PositionID   string    `json:"position_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	State        string    `json:"state"`
	FilledLeg    string    `json:"filled_leg,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
	Legs         []LegData `json:"legs"`
}

// LegData - одна нога пары
type LegData struct {
	Kind         string  `json:"kind"`
	OrderID      string  `json:"order_id"`
	TriggerPrice float64 `json:"trigger_price"`
	State        string  `json:"state"`
	FillPrice    float64 `json:"fill_price,omitempty"`
}

// NotificationMessage - уведомление для клиента
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	ID         int64                  `json:"id"`
	Type       string                 `json:"type"`
	Severity   string                 `json:"severity"`
	PositionID string                 `json:"position_id,omitempty"`
	PairID     string                 `json:"pair_id,omitempty"`
	Message    string                 `json:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// NewPairUpdateMessage создает сообщение обновления пары
func NewPairUpdateMessage(pair models.OCOPair) *PairUpdateMessage {
	data := &PairUpdateData{
		PositionID:   pair.PositionID,
		Symbol:       pair.Symbol,
		Side:         string(pair.Side),
		State:        string(pair.State),
		FilledLeg:    string(pair.FilledLeg),
		CancelReason: pair.CancelReason,
	}
	for _, leg := range pair.Legs() {
		data.Legs = append(data.Legs, LegData{
			Kind:         string(leg.Kind),
			OrderID:      leg.OrderID,
			TriggerPrice: leg.Price,
			State:        string(leg.State),
			FillPrice:    leg.AvgFillPrice,
		})
	}

	return &PairUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePairUpdate,
			Timestamp: time.Now(),
		},
		PairID: pair.ID,
		Data:   data,
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:         notif.ID,
			Type:       notif.Type,
			Severity:   notif.Severity,
			PositionID: notif.PositionID,
			PairID:     notif.PairID,
			Message:    notif.Message,
			Meta:       notif.Meta,
			Timestamp:  notif.Timestamp,
		},
	}
}
