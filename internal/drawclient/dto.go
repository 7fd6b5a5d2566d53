package drawclient

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

type drawDTO struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	TicketPrices    []decimal.Decimal `json:"ticket_prices"`
	MaxParticipants int               `json:"max_participants"`
	Status          string            `json:"status"`
	Participants    int               `json:"participants"`
	StartsAt        *time.Time        `json:"starts_at"`
	EndsAt          *time.Time        `json:"ends_at"`
	WinningNumber   *int              `json:"winning_number"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (d drawDTO) toModel() (model.Draw, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.Draw{}, fmt.Errorf("draw id: %w", err)
	}
	status, err := model.ParseDrawStatus(d.Status)
	if err != nil {
		return model.Draw{}, fmt.Errorf("draw %s: %w", id, err)
	}
	if err := validation.ValidateTicketPrices(d.TicketPrices); err != nil {
		return model.Draw{}, fmt.Errorf("draw %s: %w", id, err)
	}
	if d.MaxParticipants != model.MaxTicketNumber {
		return model.Draw{}, fmt.Errorf("draw %s: unsupported max participants %d", id, d.MaxParticipants)
	}
	if d.Participants < 0 || d.Participants > d.MaxParticipants {
		return model.Draw{}, fmt.Errorf("draw %s: participants %d out of range", id, d.Participants)
	}
	if d.WinningNumber != nil && !validation.IsValidTicketNumber(*d.WinningNumber) {
		return model.Draw{}, fmt.Errorf("draw %s: winning number %d out of range", id, *d.WinningNumber)
	}

	prices := slices.Clone(d.TicketPrices)
	slices.SortFunc(prices, func(a, b decimal.Decimal) int { return a.Cmp(b) })

	return model.Draw{
		ID:              id,
		Title:           d.Title,
		TicketPrices:    prices,
		MaxParticipants: d.MaxParticipants,
		Status:          status,
		Participants:    d.Participants,
		StartsAt:        d.StartsAt,
		EndsAt:          d.EndsAt,
		WinningNumber:   d.WinningNumber,
		CreatedAt:       d.CreatedAt,
	}, nil
}

type ticketDTO struct {
	ID          int64           `json:"id"`
	DrawID      string          `json:"draw_id"`
	UserID      int64           `json:"user_id"`
	Number      int             `json:"number"`
	Price       decimal.Decimal `json:"price"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

func (t ticketDTO) toModel() (model.Ticket, error) {
	drawID, err := uuid.Parse(t.DrawID)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("ticket draw id: %w", err)
	}
	if !validation.IsValidTicketNumber(t.Number) {
		return model.Ticket{}, fmt.Errorf("ticket number %d out of range", t.Number)
	}
	if !validation.IsValidAmount(t.Price) {
		return model.Ticket{}, fmt.Errorf("ticket price %s is invalid", t.Price)
	}
	return model.Ticket{
		ID:          t.ID,
		DrawID:      drawID,
		UserID:      t.UserID,
		Number:      t.Number,
		Price:       t.Price,
		PurchasedAt: t.PurchasedAt,
	}, nil
}

// checkTakenNumbers проверяет снимок занятых номеров и возвращает его отсортированную копию.
func checkTakenNumbers(numbers []int) ([]int, error) {
	if numbers == nil {
		return nil, errors.New("missing numbers")
	}
	res := slices.Clone(numbers)
	slices.Sort(res)
	for i, n := range res {
		if !validation.IsValidTicketNumber(n) {
			return nil, fmt.Errorf("ticket number %d out of range", n)
		}
		if i > 0 && res[i-1] == n {
			return nil, fmt.Errorf("duplicate ticket number %d", n)
		}
	}
	return res, nil
}
