package bot

import (
	"fmt"

	"ocobot/internal/models"
)

// ValidTransitions определяет допустимые переходы состояний позиции
var ValidTransitions = map[models.PositionState][]models.PositionState{
	models.PositionOpen:    {models.PositionClosing, models.PositionClosed}, // Closed при исполнении SL/TP
	models.PositionClosing: {models.PositionClosed, models.PositionOpen},    // Open при отмене закрытия
	models.PositionClosed:  {},                                              // терминальное
}

// ValidPairTransitions определяет допустимые переходы OCO пары.
// Пара никогда не возвращается в ACTIVE.
var ValidPairTransitions = map[models.PairState][]models.PairState{
	models.PairActive:    {models.PairResolved, models.PairCancelled},
	models.PairResolved:  {},
	models.PairCancelled: {},
}

// CanTransition проверяет допустимость перехода позиции
func CanTransition(from, to models.PositionState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanPairTransition проверяет допустимость перехода пары
func CanPairTransition(from, to models.PairState) bool {
	for _, s := range ValidPairTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionPosition меняет состояние позиции или возвращает ErrInvariantViolation
func transitionPosition(p *models.Position, to models.PositionState) error {
	if !CanTransition(p.State, to) {
		return fmt.Errorf("%w: position %s %s -> %s", ErrInvariantViolation, p.ID, p.State, to)
	}
	p.State = to
	return nil
}

// transitionPair меняет состояние пары или возвращает ErrInvariantViolation
func transitionPair(p *models.OCOPair, to models.PairState) error {
	if !CanPairTransition(p.State, to) {
		return fmt.Errorf("%w: pair %s %s -> %s", ErrInvariantViolation, p.ID, p.State, to)
	}
	p.State = to
	return nil
}

// StateInfo возвращает описание состояния позиции для UI
func StateInfo(s models.PositionState) string {
	switch s {
	case models.PositionOpen:
		return "Позиция открыта"
	case models.PositionClosing:
		return "Закрытие позиции..."
	case models.PositionClosed:
		return "Позиция закрыта"
	default:
		return "Неизвестное состояние"
	}
}

// PairStateInfo возвращает описание состояния OCO пары для UI
func PairStateInfo(s models.PairState) string {
	switch s {
	case models.PairActive:
		return "Защитные ордера активны"
	case models.PairResolved:
		return "Сработала одна из ног, вторая отменена"
	case models.PairCancelled:
		return "Защитные ордера отменены"
	default:
		return "Неизвестное состояние"
	}
}
