package repository

import (
	"context"
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"ocobot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NotificationRepository - журнал уведомлений в таблице notifications
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление; meta хранится как JSONB
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, position_id, pair_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var meta []byte
	if len(n.Meta) > 0 {
		var err error
		meta, err = json.Marshal(n.Meta)
		if err != nil {
			return err
		}
	}

	return r.db.QueryRowContext(ctx, query,
		n.Timestamp,
		n.Type,
		n.Severity,
		n.PositionID,
		n.PairID,
		n.Message,
		meta,
	).Scan(&n.ID)
}

// GetRecent возвращает последние N уведомлений (новые первыми)
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, position_id, pair_id, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var meta []byte
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &n.PositionID, &n.PairID, &n.Message, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, err
			}
		}
		result = append(result, n)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteOlderThan удаляет уведомления старше указанного времени
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE timestamp < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
