// Package model содержит доменные сущности сервиса розыгрышей.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// MinTicketNumber и MaxTicketNumber задают границы пула номеров билетов розыгрыша.
	MinTicketNumber = 1
	MaxTicketNumber = 100

	// MaxAmountCents ограничивает одну денежную операцию: цену билета, пополнение или списание.
	MaxAmountCents int64 = 1_000_000_000_00
)

// Role описывает роль пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User представляет зарегистрированного участника розыгрышей.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// DrawStatus описывает этап жизненного цикла розыгрыша.
type DrawStatus string

const (
	DrawStatusUpcoming  DrawStatus = "upcoming"
	DrawStatusActive    DrawStatus = "active"
	DrawStatusCompleted DrawStatus = "completed"
)

// ParseDrawStatus разбирает статус розыгрыша. Значение "open" считается синонимом "active".
func ParseDrawStatus(s string) (DrawStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(DrawStatusUpcoming):
		return DrawStatusUpcoming, nil
	case string(DrawStatusActive), "open":
		return DrawStatusActive, nil
	case string(DrawStatusCompleted):
		return DrawStatusCompleted, nil
	}
	return "", fmt.Errorf("unknown draw status %q", s)
}

// Rank возвращает порядковый номер статуса; статусы меняются только вперёд.
func (s DrawStatus) Rank() int {
	switch s {
	case DrawStatusUpcoming:
		return 0
	case DrawStatusActive:
		return 1
	case DrawStatusCompleted:
		return 2
	}
	return -1
}

// Draw описывает один розыгрыш с фиксированным пулом номеров и ценами участия.
type Draw struct {
	ID              uuid.UUID
	Title           string
	TicketPrices    []decimal.Decimal
	MaxParticipants int
	Status          DrawStatus
	Participants    int
	StartsAt        *time.Time
	EndsAt          *time.Time
	WinningNumber   *int
	CreatedAt       time.Time
}

// AcceptsEntries сообщает, принимает ли розыгрыш новые билеты.
func (d Draw) AcceptsEntries() bool {
	return d.Status == DrawStatusActive
}

// HasPrice проверяет, входит ли цена в список ценовых уровней розыгрыша.
func (d Draw) HasPrice(price decimal.Decimal) bool {
	for _, p := range d.TicketPrices {
		if p.Equal(price) {
			return true
		}
	}
	return false
}

// Ticket описывает купленный билет: номер закреплён за одним пользователем в рамках розыгрыша.
type Ticket struct {
	ID          int64
	DrawID      uuid.UUID
	UserID      int64
	Number      int
	Price       decimal.Decimal
	PurchasedAt time.Time
}

// Balance содержит текущий баланс кошелька пользователя.
type Balance struct {
	Current decimal.Decimal `json:"current"`
}

// RejectReason описывает машиночитаемую причину отказа в покупке билета.
type RejectReason string

const (
	ReasonNumberTaken         RejectReason = "number_taken"
	ReasonAlreadyEntered      RejectReason = "already_entered"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
	ReasonDrawClosed          RejectReason = "draw_closed"
	ReasonDrawNotFound        RejectReason = "draw_not_found"
	ReasonInvalidNumber       RejectReason = "invalid_number"
	ReasonInvalidPrice        RejectReason = "invalid_price"
)

// Known сообщает, является ли причина одной из известных.
func (r RejectReason) Known() bool {
	switch r {
	case ReasonNumberTaken, ReasonAlreadyEntered, ReasonInsufficientBalance, ReasonDrawClosed,
		ReasonDrawNotFound, ReasonInvalidNumber, ReasonInvalidPrice:
		return true
	}
	return false
}

// Message возвращает текст для пользователя.
func (r RejectReason) Message() string {
	switch r {
	case ReasonNumberTaken:
		return "this ticket number has just been taken, pick another one"
	case ReasonAlreadyEntered:
		return "you have already entered this draw"
	case ReasonInsufficientBalance:
		return "insufficient wallet balance"
	case ReasonDrawClosed:
		return "this draw is no longer accepting entries"
	case ReasonDrawNotFound:
		return "draw not found"
	case ReasonInvalidNumber:
		return "ticket number must be between 1 and 100"
	case ReasonInvalidPrice:
		return "price is not one of the draw's ticket prices"
	}
	return "purchase rejected"
}

// ToCents переводит денежную сумму в целые центы.
func ToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromCents переводит центы в денежную сумму.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
