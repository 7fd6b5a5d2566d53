// Package repository содержит реализации хранилища данных сервиса розыгрышей.
package repository

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrDrawNotFound возвращается, если розыгрыш не найден.
	ErrDrawNotFound = errors.New("draw not found")
	// ErrDrawNotOpen возвращается при покупке билета в розыгрыше, который не принимает участников.
	ErrDrawNotOpen = errors.New("draw is not accepting entries")
	// ErrInvalidPrice возвращается, если цена не входит в ценовые уровни розыгрыша.
	ErrInvalidPrice = errors.New("price is not a ticket price of the draw")
	// ErrNumberTaken возвращается, если номер билета уже занят в розыгрыше.
	ErrNumberTaken = errors.New("ticket number already taken")
	// ErrAlreadyEntered возвращается, если у пользователя уже есть билет в розыгрыше.
	ErrAlreadyEntered = errors.New("user already entered the draw")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBalanceOutOfRange возвращается, если сумма изменения баланса или итоговый баланс
	// не помещаются в допустимый диапазон.
	ErrBalanceOutOfRange = errors.New("balance change out of range")
)

// applyDelta прибавляет delta к балансу в центах. Сумма изменения ограничена
// model.MaxAmountCents, итог не может выйти за пределы int64 или стать отрицательным.
func applyDelta(balance int64, delta decimal.Decimal) (int64, error) {
	if delta.IsZero() || !validation.IsValidAmount(delta.Abs()) {
		return 0, ErrBalanceOutOfRange
	}
	cents := model.ToCents(delta)
	if cents > 0 && balance > math.MaxInt64-cents {
		return 0, ErrBalanceOutOfRange
	}
	next := balance + cents
	if next < 0 {
		return 0, ErrInsufficientBalance
	}
	return next, nil
}
