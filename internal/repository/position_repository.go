package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ocobot/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionExists   = errors.New("open position already exists for symbol and side")
)

// PositionRepository - работа с таблицей positions
//
// Реализует PositionStore для ядра: CreatePosition, UpdatePosition,
// GetOpenPositions. Уникальность незакрытой позиции на symbol+side
// дополнительно гарантирует частичный уникальный индекс positions_open_key.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `id, symbol, side, quantity, entry_price, stop_loss, take_profit, state,
		pair_id, entry_order_id, stop_loss_order_id, take_profit_order_id, signal_id, strategy_id,
		exit_price, close_reason, anomaly, opened_at, updated_at, closed_at`

// CreatePosition создает запись о позиции.
// Повторная вставка той же позиции (по id) - no-op, чтобы отложенные
// записи можно было безопасно переигрывать.
func (r *PositionRepository) CreatePosition(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO NOTHING`

	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.OpenedAt
	}

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Symbol,
		string(p.Side),
		p.Quantity,
		p.EntryPrice,
		p.StopLoss,
		p.TakeProfit,
		string(p.State),
		p.PairID,
		p.EntryOrderID,
		p.StopLossOrderID,
		p.TakeProfitOrderID,
		p.SignalID,
		p.StrategyID,
		p.ExitPrice,
		p.CloseReason,
		p.Anomaly,
		p.OpenedAt,
		p.UpdatedAt,
		p.ClosedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", p.Key(), ErrPositionExists)
		}
		return err
	}

	return nil
}

// UpdatePosition сохраняет изменяемые поля позиции
func (r *PositionRepository) UpdatePosition(ctx context.Context, p *models.Position) error {
	query := `
		UPDATE positions
		SET quantity = $2, entry_price = $3, stop_loss = $4, take_profit = $5, state = $6,
			pair_id = $7, stop_loss_order_id = $8, take_profit_order_id = $9,
			exit_price = $10, close_reason = $11, anomaly = $12, updated_at = $13, closed_at = $14
		WHERE id = $1`

	p.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Quantity,
		p.EntryPrice,
		p.StopLoss,
		p.TakeProfit,
		string(p.State),
		p.PairID,
		p.StopLossOrderID,
		p.TakeProfitOrderID,
		p.ExitPrice,
		p.CloseReason,
		p.Anomaly,
		p.UpdatedAt,
		p.ClosedAt,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPositionNotFound
	}

	return nil
}

// GetOpenPositions возвращает все незакрытые позиции (OPEN и CLOSING)
func (r *PositionRepository) GetOpenPositions(ctx context.Context) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE state <> $1
		ORDER BY opened_at`

	rows, err := r.db.QueryContext(ctx, query, string(models.PositionClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id string) (*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// Ping проверяет доступность БД
func (r *PositionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var side, state string
	err := row.Scan(
		&p.ID,
		&p.Symbol,
		&side,
		&p.Quantity,
		&p.EntryPrice,
		&p.StopLoss,
		&p.TakeProfit,
		&state,
		&p.PairID,
		&p.EntryOrderID,
		&p.StopLossOrderID,
		&p.TakeProfitOrderID,
		&p.SignalID,
		&p.StrategyID,
		&p.ExitPrice,
		&p.CloseReason,
		&p.Anomaly,
		&p.OpenedAt,
		&p.UpdatedAt,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Side = models.PositionSide(side)
	p.State = models.PositionState(state)
	return p, nil
}

// isUniqueViolation распознаёт SQLSTATE 23505 у lib/pq и pgx
func isUniqueViolation(err error) bool {
	var state interface{ SQLState() string }
	if errors.As(err, &state) {
		return state.SQLState() == "23505"
	}
	return false
}
