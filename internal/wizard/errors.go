package wizard

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/drawwin-system/internal/model"
)

var (
	// ErrAlreadyEntered возвращается, если пользователь уже участвует в розыгрыше.
	// Сессия при этом переходит в терминальное состояние StatusAlreadyEntered.
	ErrAlreadyEntered = errors.New("wizard: user has already entered this draw")
	// ErrSubmissionInFlight возвращается на любое действие, пока покупка ожидает ответа.
	ErrSubmissionInFlight = errors.New("wizard: purchase submission in flight")
	// ErrSessionClosed возвращается после успешной покупки или отмены.
	ErrSessionClosed = errors.New("wizard: session closed")
	// ErrWrongStep возвращается при действии, недоступном на текущем шаге.
	ErrWrongStep = errors.New("wizard: action not available on current step")
	// ErrNotReady возвращается, пока данные сессии не загружены.
	ErrNotReady = errors.New("wizard: session is not ready")
	// ErrAlreadyOpened возвращается при повторном Open успешно открытой сессии.
	ErrAlreadyOpened = errors.New("wizard: session already opened")
	// ErrDrawNotActive возвращается при создании сессии для неактивного розыгрыша.
	ErrDrawNotActive = errors.New("wizard: draw does not accept entries")
)

// ValidationReason описывает причину локального отказа.
type ValidationReason string

const (
	NumberRequired    ValidationReason = "number_required"
	NumberOutOfRange  ValidationReason = "number_out_of_range"
	NumberTaken       ValidationReason = "number_taken"
	NumberUnavailable ValidationReason = "no_numbers_available"
	BandUnknown       ValidationReason = "unknown_band"
	PriceRequired     ValidationReason = "price_required"
	PriceNotOffered   ValidationReason = "price_not_offered"
	PriceUnaffordable ValidationReason = "price_unaffordable"
)

// ValidationError описывает локальную ошибку: переход запрещён, бэкенд не вызывается.
type ValidationError struct {
	Field  string
	Reason ValidationReason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wizard: invalid %s: %s", e.Field, e.Reason)
}

func numberError(reason ValidationReason) *ValidationError {
	return &ValidationError{Field: "number", Reason: reason}
}

func priceError(reason ValidationReason) *ValidationError {
	return &ValidationError{Field: "price", Reason: reason}
}

// SubmissionRejected описывает авторитетный отказ бэкенда в покупке.
// Сессия остаётся на шаге подтверждения, попытку можно повторить.
type SubmissionRejected struct {
	Reason model.RejectReason
}

func (e *SubmissionRejected) Error() string {
	return fmt.Sprintf("purchase rejected: %s", e.Reason.Message())
}

// TransportError описывает сбой связи с бэкендом или его некорректный ответ.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// asTransport оборачивает ошибку в TransportError, если это не типизированная ошибка мастера.
func asTransport(op string, err error) error {
	var rejected *SubmissionRejected
	if errors.As(err, &rejected) {
		return rejected
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport
	}
	return &TransportError{Op: op, Err: err}
}
