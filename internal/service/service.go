// Package service реализует бизнес-логику сервиса розыгрышей.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/repository"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidNumber возвращается для номера билета вне пула.
	ErrInvalidNumber = errors.New("ticket number out of range")
	// ErrInvalidAmount возвращается для некорректной денежной суммы.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidDraw возвращается при некорректных параметрах нового розыгрыша.
	ErrInvalidDraw = errors.New("invalid draw")
	// ErrStatusTransition возвращается при попытке вернуть розыгрыш к предыдущему статусу.
	ErrStatusTransition = errors.New("draw status can only move forward")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error)
	CreateDraw(ctx context.Context, d *model.Draw) error
	GetDraw(ctx context.Context, id uuid.UUID) (*model.Draw, error)
	ListDraws(ctx context.Context, status *model.DrawStatus) ([]model.Draw, error)
	ListDueDraws(ctx context.Context, now time.Time) ([]model.Draw, error)
	UpdateDrawStatus(ctx context.Context, id uuid.UUID, status model.DrawStatus) error
	CompleteDraw(ctx context.Context, id uuid.UUID, winningNumber *int) error
	HasTicket(ctx context.Context, drawID uuid.UUID, userID int64) (bool, error)
	TakenNumbers(ctx context.Context, drawID uuid.UUID) ([]int, error)
	BuyTicket(ctx context.Context, userID int64, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error)
	GetTicketsByUser(ctx context.Context, userID int64) ([]model.Ticket, error)
}

// Service содержит бизнес-логику сервиса розыгрышей.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
	pick   func(n int) int
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		pick:   rand.IntN,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с пустым кошельком.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	return s.repo.CreateUser(ctx, login, hashed, model.RoleUser)
}

// AuthenticateUser проверяет логин и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// EnsureAdmin создаёт учётную запись администратора, если её ещё нет.
func (s *Service) EnsureAdmin(ctx context.Context, login, password string) error {
	if login == "" || password == "" {
		return nil
	}

	_, err := s.repo.GetUserByLogin(ctx, login)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.repo.CreateUser(ctx, login, hashed, model.RoleAdmin); err != nil && !errors.Is(err, repository.ErrUserExists) {
		return err
	}
	s.logger.Info("admin account created", zap.String("login", login))
	return nil
}

// ListDraws возвращает каталог розыгрышей.
func (s *Service) ListDraws(ctx context.Context, status *model.DrawStatus) ([]model.Draw, error) {
	return s.repo.ListDraws(ctx, status)
}

// GetDraw возвращает розыгрыш по идентификатору.
func (s *Service) GetDraw(ctx context.Context, id uuid.UUID) (*model.Draw, error) {
	return s.repo.GetDraw(ctx, id)
}

// UserEnteredDraw сообщает, есть ли у пользователя билет в розыгрыше.
func (s *Service) UserEnteredDraw(ctx context.Context, drawID uuid.UUID, userID int64) (bool, error) {
	return s.repo.HasTicket(ctx, drawID, userID)
}

// TakenTicketNumbers возвращает снимок проданных номеров розыгрыша.
func (s *Service) TakenTicketNumbers(ctx context.Context, drawID uuid.UUID) ([]int, error) {
	if _, err := s.repo.GetDraw(ctx, drawID); err != nil {
		return nil, err
	}
	return s.repo.TakenNumbers(ctx, drawID)
}

// GetWalletBalance возвращает баланс кошелька пользователя.
func (s *Service) GetWalletBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	current, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{Current: current}, nil
}

// BuyTicket покупает билет с выбранным номером по одной из цен розыгрыша.
// Окончательные проверки занятости номера, повторного участия и баланса выполняет хранилище.
func (s *Service) BuyTicket(ctx context.Context, userID int64, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error) {
	if !validation.IsValidTicketNumber(number) {
		return nil, ErrInvalidNumber
	}
	if !validation.IsValidAmount(price) {
		return nil, repository.ErrInvalidPrice
	}

	t, err := s.repo.BuyTicket(ctx, userID, drawID, number, price)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket purchased",
		zap.Int64("userID", userID),
		zap.String("drawID", drawID.String()),
		zap.Int("number", number),
		zap.String("price", price.String()),
	)
	return t, nil
}

// RejectReason возвращает машиночитаемую причину отказа в покупке для ошибки BuyTicket.
func RejectReason(err error) (model.RejectReason, bool) {
	switch {
	case errors.Is(err, repository.ErrNumberTaken):
		return model.ReasonNumberTaken, true
	case errors.Is(err, repository.ErrAlreadyEntered):
		return model.ReasonAlreadyEntered, true
	case errors.Is(err, repository.ErrInsufficientBalance):
		return model.ReasonInsufficientBalance, true
	case errors.Is(err, repository.ErrDrawNotOpen):
		return model.ReasonDrawClosed, true
	case errors.Is(err, repository.ErrDrawNotFound):
		return model.ReasonDrawNotFound, true
	case errors.Is(err, ErrInvalidNumber):
		return model.ReasonInvalidNumber, true
	case errors.Is(err, repository.ErrInvalidPrice):
		return model.ReasonInvalidPrice, true
	}
	return "", false
}

// ListTicketsByUser возвращает билеты пользователя.
func (s *Service) ListTicketsByUser(ctx context.Context, userID int64) ([]model.Ticket, error) {
	return s.repo.GetTicketsByUser(ctx, userID)
}

// DrawInput содержит параметры нового розыгрыша.
type DrawInput struct {
	Title        string
	TicketPrices []decimal.Decimal
	Status       model.DrawStatus
	StartsAt     *time.Time
	EndsAt       *time.Time
}

// CreateDraw создаёт розыгрыш. Ценовые уровни сортируются по возрастанию.
func (s *Service) CreateDraw(ctx context.Context, in DrawInput) (*model.Draw, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidDraw)
	}
	if err := validation.ValidateTicketPrices(in.TicketPrices); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDraw, err)
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return nil, fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidDraw)
	}

	status := in.Status
	if status == "" {
		status = model.DrawStatusUpcoming
	}
	if status == model.DrawStatusCompleted {
		return nil, fmt.Errorf("%w: cannot create a completed draw", ErrInvalidDraw)
	}

	prices := slices.Clone(in.TicketPrices)
	slices.SortFunc(prices, func(a, b decimal.Decimal) int { return a.Cmp(b) })

	d := &model.Draw{
		ID:              uuid.New(),
		Title:           title,
		TicketPrices:    prices,
		MaxParticipants: model.MaxTicketNumber,
		Status:          status,
		StartsAt:        in.StartsAt,
		EndsAt:          in.EndsAt,
	}
	if err := s.repo.CreateDraw(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// SetDrawStatus переводит розыгрыш в следующий статус. При завершении выбирается выигрышный номер.
func (s *Service) SetDrawStatus(ctx context.Context, id uuid.UUID, status model.DrawStatus) (*model.Draw, error) {
	d, err := s.repo.GetDraw(ctx, id)
	if err != nil {
		return nil, err
	}

	if status.Rank() < 0 || status.Rank() < d.Status.Rank() {
		return nil, ErrStatusTransition
	}
	if status == d.Status {
		return d, nil
	}

	if status == model.DrawStatusCompleted {
		if err := s.completeDraw(ctx, id); err != nil {
			return nil, err
		}
	} else if err := s.repo.UpdateDrawStatus(ctx, id, status); err != nil {
		return nil, err
	}

	return s.repo.GetDraw(ctx, id)
}

func (s *Service) completeDraw(ctx context.Context, id uuid.UUID) error {
	taken, err := s.repo.TakenNumbers(ctx, id)
	if err != nil {
		return err
	}

	var winning *int
	if len(taken) > 0 {
		n := taken[s.pick(len(taken))]
		winning = &n
	}

	if err := s.repo.CompleteDraw(ctx, id, winning); err != nil {
		return err
	}

	fields := []zap.Field{zap.String("drawID", id.String()), zap.Int("tickets", len(taken))}
	if winning != nil {
		fields = append(fields, zap.Int("winningNumber", *winning))
	}
	s.logger.Info("draw completed", fields...)
	return nil
}

// TopUpBalance изменяет баланс пользователя на amount (отрицательная сумма списывает средства).
func (s *Service) TopUpBalance(ctx context.Context, userID int64, amount decimal.Decimal) (*model.Balance, error) {
	if amount.IsZero() || !validation.IsValidAmount(amount.Abs()) {
		return nil, ErrInvalidAmount
	}

	current, err := s.repo.AdjustBalance(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceOutOfRange) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
		}
		return nil, err
	}
	return &model.Balance{Current: current}, nil
}

// StartDrawUpdates периодически продвигает розыгрыши по расписанию до отмены контекста.
func (s *Service) StartDrawUpdates(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processDueDraws(ctx)
		}
	}
}

func (s *Service) processDueDraws(ctx context.Context) {
	draws, err := s.repo.ListDueDraws(ctx, s.now())
	if err != nil {
		s.logger.Error("list due draws", zap.Error(err))
		return
	}

	for _, d := range draws {
		switch d.Status {
		case model.DrawStatusUpcoming:
			err = s.repo.UpdateDrawStatus(ctx, d.ID, model.DrawStatusActive)
		case model.DrawStatusActive:
			err = s.completeDraw(ctx, d.ID)
		default:
			continue
		}
		if err != nil {
			s.logger.Error("advance draw status", zap.Error(err), zap.String("drawID", d.ID.String()))
		}
	}
}
