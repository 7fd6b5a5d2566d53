// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drawwin-system/internal/model"
)

var (
	// ErrNoPrices возвращается для розыгрыша без ценовых уровней.
	ErrNoPrices = errors.New("draw must have at least one ticket price")
	// ErrBadPrice возвращается для неположительной цены или цены с долями цента.
	ErrBadPrice = errors.New("ticket price must be positive with at most two decimal places")
	// ErrDuplicatePrice возвращается при повторе ценового уровня.
	ErrDuplicatePrice = errors.New("duplicate ticket price")
)

// IsValidTicketNumber проверяет, что номер входит в пул [1, 100].
func IsValidTicketNumber(n int) bool {
	return n >= model.MinTicketNumber && n <= model.MaxTicketNumber
}

// ParseTicketNumber разбирает строку из одних цифр в номер билета из пула.
func ParseTicketNumber(s string) (int, bool) {
	if s == "" || len(s) > len(strconv.Itoa(model.MaxTicketNumber)) {
		return 0, false
	}
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || !IsValidTicketNumber(n) {
		return 0, false
	}
	return n, true
}

var maxAmount = model.FromCents(model.MaxAmountCents)

// IsValidAmount проверяет денежную сумму: положительна, не больше model.MaxAmountCents
// и не содержит долей цента.
func IsValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.LessThanOrEqual(maxAmount) && d.Equal(d.Truncate(2))
}

// ValidateTicketPrices проверяет набор ценовых уровней розыгрыша.
func ValidateTicketPrices(prices []decimal.Decimal) error {
	if len(prices) == 0 {
		return ErrNoPrices
	}
	seen := make(map[int64]struct{}, len(prices))
	for _, p := range prices {
		if !IsValidAmount(p) {
			return fmt.Errorf("%w: %s", ErrBadPrice, p)
		}
		c := model.ToCents(p)
		if _, ok := seen[c]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePrice, p)
		}
		seen[c] = struct{}{}
	}
	return nil
}
