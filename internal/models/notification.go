package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID         int64                  `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       string                 `json:"type"`     // OPEN, CLOSE, SL, TP, REJECTED, ANOMALY, RECONCILE, UNPROTECTED, ERROR
	Severity   string                 `json:"severity"` // info, warn, error
	PositionID string                 `json:"position_id,omitempty"`
	PairID     string                 `json:"pair_id,omitempty"`
	Message    string                 `json:"message"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Типы уведомлений
const (
	NotificationTypeOpen        = "OPEN"        // позиция открыта
	NotificationTypeClose       = "CLOSE"       // позиция закрыта вручную
	NotificationTypeSL          = "SL"          // сработал Stop Loss
	NotificationTypeTP          = "TP"          // сработал Take Profit
	NotificationTypeRejected    = "REJECTED"    // биржа отклонила защитный ордер
	NotificationTypeAnomaly     = "ANOMALY"     // нарушение инварианта OCO (обе ноги исполнены)
	NotificationTypeReconcile   = "RECONCILE"   // нужна ручная сверка с биржей
	NotificationTypeUnprotected = "UNPROTECTED" // позиция без защитных ордеров
	NotificationTypeError       = "ERROR"       // ошибка API/ордера/хранилища
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
