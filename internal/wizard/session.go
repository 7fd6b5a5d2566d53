// Package wizard реализует пошаговый мастер выбора номера билета и покупки участия в розыгрыше.
//
// Сессия проходит шаги number → price → confirm. Снимок занятых номеров загружается
// один раз при открытии и может устареть: уникальность номера гарантирует только
// бэкенд в момент покупки, локальная проверка лишь отсекает заведомо неудачные попытки.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

const defaultSubmitTimeout = 10 * time.Second

// Backend описывает операции бэкенда, которые использует мастер.
type Backend interface {
	UserEnteredDraw(ctx context.Context, drawID uuid.UUID, userID int64) (bool, error)
	TakenTicketNumbers(ctx context.Context, drawID uuid.UUID) ([]int, error)
	WalletBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	BuyTicket(ctx context.Context, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error)
}

// Step описывает шаг мастера.
type Step int

const (
	StepNumber Step = iota
	StepPrice
	StepConfirm
)

func (s Step) String() string {
	switch s {
	case StepNumber:
		return "number"
	case StepPrice:
		return "price"
	case StepConfirm:
		return "confirm"
	}
	return "unknown"
}

// Status описывает состояние жизненного цикла сессии.
type Status int

const (
	StatusLoading Status = iota
	StatusReady
	StatusAlreadyEntered
	StatusLoadFailed
	StatusSubmitting
	StatusClosedSuccess
	StatusClosedCancelled
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusAlreadyEntered:
		return "already_entered"
	case StatusLoadFailed:
		return "load_failed"
	case StatusSubmitting:
		return "submitting"
	case StatusClosedSuccess:
		return "closed_success"
	case StatusClosedCancelled:
		return "closed_cancelled"
	}
	return "unknown"
}

// Closed сообщает, завершена ли сессия.
func (s Status) Closed() bool {
	return s == StatusClosedSuccess || s == StatusClosedCancelled
}

// Option настраивает сессию.
type Option func(*Session)

// WithLogger задаёт логгер сессии.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRand задаёт источник случайности для PickRandom и PickLucky.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) {
		if r != nil {
			s.intn = r.IntN
		}
	}
}

// WithSubmitTimeout ограничивает время ожидания ответа на покупку.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.submitTimeout = d
	}
}

// Session хранит состояние одного открытого мастера. Безопасна для конкурентного использования.
type Session struct {
	backend       Backend
	draw          model.Draw
	userID        int64
	logger        *zap.Logger
	intn          func(int) int
	submitTimeout time.Duration

	mu       sync.Mutex
	status   Status
	opening  bool
	step     Step
	number   int
	price    *decimal.Decimal
	taken    map[int]struct{}
	balance  decimal.Decimal
	degraded bool
	query    string
	lastErr  error
	ticket   *model.Ticket
}

// NewSession создаёт сессию мастера для явно переданного розыгрыша.
func NewSession(backend Backend, draw model.Draw, userID int64, opts ...Option) (*Session, error) {
	if backend == nil {
		return nil, errors.New("wizard: backend is required")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("wizard: invalid user id %d", userID)
	}
	if !draw.AcceptsEntries() {
		return nil, fmt.Errorf("%w: status %s", ErrDrawNotActive, draw.Status)
	}
	if err := validation.ValidateTicketPrices(draw.TicketPrices); err != nil {
		return nil, fmt.Errorf("wizard: draw %s: %w", draw.ID, err)
	}

	draw.TicketPrices = slices.Clone(draw.TicketPrices)
	slices.SortFunc(draw.TicketPrices, func(a, b decimal.Decimal) int { return a.Cmp(b) })

	s := &Session{
		backend:       backend,
		draw:          draw,
		userID:        userID,
		logger:        zap.NewNop(),
		intn:          rand.IntN,
		submitTimeout: defaultSubmitTimeout,
		status:        StatusLoading,
		step:          StepNumber,
		taken:         make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("drawID", draw.ID.String()), zap.Int64("userID", userID))
	return s, nil
}

// Open загружает статус участия, занятые номера и баланс. Запросы выполняются параллельно,
// до их завершения переходы вперёд невозможны.
//
// Ошибки чтения занятых номеров и статуса участия не блокируют сессию: используется пустой
// набор и Degraded() возвращает true. Без баланса проверить доступность цены нельзя,
// поэтому его ошибка переводит сессию в StatusLoadFailed; Open можно вызвать повторно.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.status.Closed():
		s.mu.Unlock()
		return ErrSessionClosed
	case s.opening:
		s.mu.Unlock()
		return ErrNotReady
	case s.status != StatusLoading && s.status != StatusLoadFailed:
		s.mu.Unlock()
		return ErrAlreadyOpened
	}
	s.opening = true
	s.status = StatusLoading
	s.mu.Unlock()

	var (
		entered    bool
		enteredErr error
		taken      []int
		takenErr   error
		balance    decimal.Decimal
	)

	var g errgroup.Group
	g.Go(func() error {
		entered, enteredErr = s.backend.UserEnteredDraw(ctx, s.draw.ID, s.userID)
		return nil
	})
	g.Go(func() error {
		taken, takenErr = s.backend.TakenTicketNumbers(ctx, s.draw.ID)
		return nil
	})
	g.Go(func() error {
		var err error
		balance, err = s.backend.WalletBalance(ctx, s.userID)
		return err
	})
	balanceErr := g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false

	if s.status.Closed() {
		return ErrSessionClosed
	}

	if enteredErr == nil && entered {
		s.status = StatusAlreadyEntered
		s.logger.Info("user already entered draw")
		return ErrAlreadyEntered
	}

	if balanceErr != nil {
		s.status = StatusLoadFailed
		s.lastErr = asTransport("get wallet balance", balanceErr)
		s.logger.Warn("session open failed", zap.Error(balanceErr))
		return s.lastErr
	}

	s.degraded = false
	if enteredErr != nil {
		s.degraded = true
		s.logger.Warn("entry status unavailable, assuming not entered", zap.Error(enteredErr))
	}

	s.taken = make(map[int]struct{}, len(taken))
	if takenErr != nil {
		s.degraded = true
		s.logger.Warn("taken numbers unavailable, assuming none taken", zap.Error(takenErr))
	} else {
		for _, n := range taken {
			if validation.IsValidTicketNumber(n) {
				s.taken[n] = struct{}{}
			}
		}
	}

	s.balance = balance
	s.lastErr = nil
	s.status = StatusReady
	s.logger.Debug("session opened",
		zap.Int("taken", len(s.taken)),
		zap.String("balance", balance.String()),
		zap.Bool("degraded", s.degraded),
	)
	return nil
}

// interactive проверяет, что сессия принимает действия пользователя. Вызывается под мьютексом.
func (s *Session) interactive() error {
	switch s.status {
	case StatusReady:
		return nil
	case StatusSubmitting:
		return ErrSubmissionInFlight
	case StatusAlreadyEntered:
		return ErrAlreadyEntered
	case StatusClosedSuccess, StatusClosedCancelled:
		return ErrSessionClosed
	}
	return ErrNotReady
}

func (s *Session) onStep(step Step) error {
	if err := s.interactive(); err != nil {
		return err
	}
	if s.step != step {
		return ErrWrongStep
	}
	return nil
}

func (s *Session) isTaken(n int) bool {
	_, ok := s.taken[n]
	return ok
}

func (s *Session) available(n int) bool {
	return validation.IsValidTicketNumber(n) && !s.isTaken(n)
}

func (s *Session) checkNumber(n int) error {
	switch {
	case n == 0:
		return numberError(NumberRequired)
	case !validation.IsValidTicketNumber(n):
		return numberError(NumberOutOfRange)
	case s.isTaken(n):
		return numberError(NumberTaken)
	}
	return nil
}

func (s *Session) checkPrice(p *decimal.Decimal) error {
	switch {
	case p == nil:
		return priceError(PriceRequired)
	case !s.draw.HasPrice(*p):
		return priceError(PriceNotOffered)
	case p.GreaterThan(s.balance):
		return priceError(PriceUnaffordable)
	}
	return nil
}

// SelectNumber выбирает номер билета. Повторный выбор того же номера снимает выбор.
func (s *Session) SelectNumber(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.onStep(StepNumber); err != nil {
		return err
	}
	if n != 0 && n == s.number {
		s.number = 0
		return nil
	}
	if err := s.checkNumber(n); err != nil {
		return err
	}
	s.number = n
	return nil
}

// SelectPrice выбирает ценовой уровень. Повторный выбор той же цены снимает выбор.
func (s *Session) SelectPrice(p decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.onStep(StepPrice); err != nil {
		return err
	}
	if s.price != nil && s.price.Equal(p) {
		s.price = nil
		return nil
	}
	if err := s.checkPrice(&p); err != nil {
		return err
	}
	s.price = &p
	return nil
}

// Continue переходит к следующему шагу, если выбор на текущем шаге корректен.
func (s *Session) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.interactive(); err != nil {
		return err
	}

	switch s.step {
	case StepNumber:
		if err := s.checkNumber(s.number); err != nil {
			return err
		}
		s.query = ""
		s.step = StepPrice
	case StepPrice:
		if err := s.checkPrice(s.price); err != nil {
			return err
		}
		s.step = StepConfirm
	default:
		return ErrWrongStep
	}
	return nil
}

// Back возвращает на шаг назад. Уход с шага цены сбрасывает выбранную цену,
// возврат с подтверждения сохраняет выбор шага, на который возвращаемся.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.interactive(); err != nil {
		return err
	}

	switch s.step {
	case StepPrice:
		s.price = nil
		s.step = StepNumber
	case StepConfirm:
		s.step = StepPrice
	default:
		return ErrWrongStep
	}
	s.lastErr = nil
	return nil
}

// Cancel закрывает сессию без обращения к бэкенду.
// Во время отправки покупки отмена невозможна.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.status == StatusSubmitting:
		return ErrSubmissionInFlight
	case s.status.Closed():
		return ErrSessionClosed
	}
	s.status = StatusClosedCancelled
	s.logger.Debug("session cancelled", zap.Stringer("step", s.step))
	return nil
}

// Confirm отправляет покупку. Одновременно может выполняться только одна отправка.
// При отказе сессия остаётся на шаге подтверждения, ошибка доступна через LastError.
func (s *Session) Confirm(ctx context.Context) (*model.Ticket, error) {
	s.mu.Lock()
	if err := s.onStep(StepConfirm); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.checkNumber(s.number); err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return nil, err
	}
	if err := s.checkPrice(s.price); err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return nil, err
	}
	number, price := s.number, *s.price
	s.status = StatusSubmitting
	s.lastErr = nil
	s.mu.Unlock()

	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}

	ticket, err := s.backend.BuyTicket(ctx, s.draw.ID, number, price)
	if err == nil && ticket == nil {
		err = errors.New("empty purchase response")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		err = asTransport("buy ticket", err)
		s.status = StatusReady
		s.lastErr = err
		s.logger.Info("purchase failed",
			zap.Int("number", number),
			zap.String("price", price.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.status = StatusClosedSuccess
	s.ticket = ticket
	s.logger.Info("ticket purchased",
		zap.Int("number", ticket.Number),
		zap.String("price", ticket.Price.String()),
		zap.Int64("ticketID", ticket.ID),
	)
	return ticket, nil
}

// Status возвращает состояние сессии.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Step возвращает текущий шаг.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// SelectedNumber возвращает выбранный номер.
func (s *Session) SelectedNumber() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.number, s.number != 0
}

// SelectedPrice возвращает выбранную цену.
func (s *Session) SelectedPrice() (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.price == nil {
		return decimal.Zero, false
	}
	return *s.price, true
}

// Degraded сообщает, что часть данных при открытии не загрузилась и заменена значениями по умолчанию.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// LastError возвращает последнюю ошибку загрузки или покупки.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// PriceOption описывает ценовой уровень розыгрыша с признаками для отображения.
type PriceOption struct {
	Price      decimal.Decimal
	Affordable bool
	Selected   bool
}

// Snapshot содержит копию публичного состояния сессии для отображения.
type Snapshot struct {
	DrawID         uuid.UUID
	Title          string
	Status         Status
	Step           Step
	SelectedNumber int
	SelectedPrice  *decimal.Decimal
	Prices         []PriceOption
	Balance        decimal.Decimal
	Taken          []int
	Query          string
	Degraded       bool
	LastError      error
	Ticket         *model.Ticket
}

// Snapshot возвращает копию текущего состояния.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		DrawID:         s.draw.ID,
		Title:          s.draw.Title,
		Status:         s.status,
		Step:           s.step,
		SelectedNumber: s.number,
		Balance:        s.balance,
		Query:          s.query,
		Degraded:       s.degraded,
		LastError:      s.lastErr,
	}
	if s.price != nil {
		p := *s.price
		snap.SelectedPrice = &p
	}
	for _, p := range s.draw.TicketPrices {
		snap.Prices = append(snap.Prices, PriceOption{
			Price:      p,
			Affordable: p.LessThanOrEqual(s.balance),
			Selected:   s.price != nil && s.price.Equal(p),
		})
	}
	snap.Taken = make([]int, 0, len(s.taken))
	for n := range s.taken {
		snap.Taken = append(snap.Taken, n)
	}
	slices.Sort(snap.Taken)
	if s.ticket != nil {
		t := *s.ticket
		snap.Ticket = &t
	}
	return snap
}
