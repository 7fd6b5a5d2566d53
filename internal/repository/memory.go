package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

// MemoryRepository хранит данные в памяти процесса. Используется, когда БД не настроена.
type MemoryRepository struct {
	mu sync.Mutex

	nextUserID   int64
	nextTicketID int64

	users    map[int64]*model.User
	logins   map[string]int64
	balances map[int64]int64

	draws   map[uuid.UUID]*model.Draw
	tickets []model.Ticket
	// taken[drawID][number] = userID
	taken map[uuid.UUID]map[int]int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[int64]*model.User),
		logins:   make(map[string]int64),
		balances: make(map[int64]int64),
		draws:    make(map[uuid.UUID]*model.Draw),
		taken:    make(map[uuid.UUID]map[int]int64),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) CreateUser(_ context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.logins[login]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
	}

	r.nextUserID++
	id := r.nextUserID
	r.users[id] = &model.User{
		ID:           id,
		Login:        login,
		PasswordHash: slices.Clone(passwordHash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	r.logins[login] = id
	return id, nil
}

func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.logins[login]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *r.users[id]
	return &u, nil
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *MemoryRepository) GetBalance(_ context.Context, userID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return decimal.Zero, ErrUserNotFound
	}
	return model.FromCents(r.balances[userID]), nil
}

func (r *MemoryRepository) AdjustBalance(_ context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return decimal.Zero, ErrUserNotFound
	}

	balance, err := applyDelta(r.balances[userID], delta)
	if err != nil {
		return decimal.Zero, err
	}
	r.balances[userID] = balance
	return model.FromCents(balance), nil
}

func (r *MemoryRepository) CreateDraw(_ context.Context, d *model.Draw) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.draws[d.ID]; ok {
		return fmt.Errorf("insert draw: duplicate id %s", d.ID)
	}

	d.CreatedAt = time.Now().UTC()
	stored := *d
	stored.TicketPrices = slices.Clone(d.TicketPrices)
	r.draws[d.ID] = &stored
	return nil
}

// draw копирует розыгрыш вместе с текущим числом участников. Вызывается под мьютексом.
func (r *MemoryRepository) draw(id uuid.UUID) (model.Draw, bool) {
	d, ok := r.draws[id]
	if !ok {
		return model.Draw{}, false
	}
	c := *d
	c.TicketPrices = slices.Clone(d.TicketPrices)
	c.Participants = len(r.taken[id])
	return c, true
}

func (r *MemoryRepository) GetDraw(_ context.Context, id uuid.UUID) (*model.Draw, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.draw(id)
	if !ok {
		return nil, ErrDrawNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDraws(_ context.Context, status *model.DrawStatus) ([]model.Draw, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Draw
	for id := range r.draws {
		d, _ := r.draw(id)
		if status != nil && d.Status != *status {
			continue
		}
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (r *MemoryRepository) ListDueDraws(_ context.Context, now time.Time) ([]model.Draw, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Draw
	for id := range r.draws {
		d, _ := r.draw(id)
		switch {
		case d.Status == model.DrawStatusUpcoming && d.StartsAt != nil && !d.StartsAt.After(now):
		case d.Status == model.DrawStatusActive && d.EndsAt != nil && !d.EndsAt.After(now):
		default:
			continue
		}
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (r *MemoryRepository) UpdateDrawStatus(_ context.Context, id uuid.UUID, status model.DrawStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.draws[id]
	if !ok {
		return ErrDrawNotFound
	}
	d.Status = status
	return nil
}

func (r *MemoryRepository) CompleteDraw(_ context.Context, id uuid.UUID, winningNumber *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.draws[id]
	if !ok {
		return ErrDrawNotFound
	}
	d.Status = model.DrawStatusCompleted
	if winningNumber != nil {
		n := *winningNumber
		d.WinningNumber = &n
	}
	return nil
}

func (r *MemoryRepository) HasTicket(_ context.Context, drawID uuid.UUID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, owner := range r.taken[drawID] {
		if owner == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) TakenNumbers(_ context.Context, drawID uuid.UUID) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	numbers := make([]int, 0, len(r.taken[drawID]))
	for n := range r.taken[drawID] {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

// BuyTicket выполняет те же проверки, что и PostgresRepository.BuyTicket, под общим мьютексом.
func (r *MemoryRepository) BuyTicket(_ context.Context, userID int64, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.draws[drawID]
	if !ok {
		return nil, ErrDrawNotFound
	}
	if !d.AcceptsEntries() {
		return nil, ErrDrawNotOpen
	}
	if !validation.IsValidAmount(price) || !d.HasPrice(price) {
		return nil, ErrInvalidPrice
	}
	if _, ok := r.users[userID]; !ok {
		return nil, ErrUserNotFound
	}

	sold := r.taken[drawID]
	if _, ok := sold[number]; ok {
		return nil, ErrNumberTaken
	}
	for _, owner := range sold {
		if owner == userID {
			return nil, ErrAlreadyEntered
		}
	}

	priceCents := model.ToCents(price)
	if priceCents > r.balances[userID] {
		return nil, ErrInsufficientBalance
	}

	if sold == nil {
		sold = make(map[int]int64)
		r.taken[drawID] = sold
	}
	sold[number] = userID
	r.balances[userID] -= priceCents

	r.nextTicketID++
	t := model.Ticket{
		ID:          r.nextTicketID,
		DrawID:      drawID,
		UserID:      userID,
		Number:      number,
		Price:       model.FromCents(priceCents),
		PurchasedAt: time.Now().UTC(),
	}
	r.tickets = append(r.tickets, t)
	return &t, nil
}

func (r *MemoryRepository) GetTicketsByUser(_ context.Context, userID int64) ([]model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Ticket
	for i := len(r.tickets) - 1; i >= 0; i-- {
		if r.tickets[i].UserID == userID {
			res = append(res, r.tickets[i])
		}
	}
	return res, nil
}
