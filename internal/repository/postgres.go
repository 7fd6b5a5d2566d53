package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/validation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	constraintDrawNumber = "tickets_draw_number_key"
	constraintDrawUser   = "tickets_draw_user_key"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	// Конкурирующие покупки одного номера сериализуются уникальным индексом,
	// повторять имеет смысл только конфликты сериализации и разрывы соединения.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetBalance возвращает текущий баланс кошелька пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var cents int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&cents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("select balance: %w", err)
	}
	return model.FromCents(cents), nil
}

// AdjustBalance изменяет баланс пользователя на delta и возвращает новый баланс.
// Баланс не может стать отрицательным.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance int64
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var current int64
		err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		balance, err = applyDelta(current, delta)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, userID, balance); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return model.FromCents(balance), nil
}

// CreateDraw сохраняет новый розыгрыш.
func (r *PostgresRepository) CreateDraw(ctx context.Context, d *model.Draw) error {
	prices := make([]int64, 0, len(d.TicketPrices))
	for _, p := range d.TicketPrices {
		prices = append(prices, model.ToCents(p))
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO draws (id, title, ticket_prices, max_participants, status, starts_at, ends_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		d.ID, d.Title, prices, d.MaxParticipants, string(d.Status), d.StartsAt, d.EndsAt,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert draw: %w", err)
	}
	return nil
}

const selectDraw = `SELECT d.id, d.title, d.ticket_prices, d.max_participants, d.status,
		d.starts_at, d.ends_at, d.winning_number, d.created_at,
		(SELECT COUNT(*) FROM tickets t WHERE t.draw_id = d.id)
	 FROM draws d`

func scanDraw(row pgx.Row) (*model.Draw, error) {
	var (
		d      model.Draw
		prices []int64
		status string
		count  int64
	)
	err := row.Scan(&d.ID, &d.Title, &prices, &d.MaxParticipants, &status,
		&d.StartsAt, &d.EndsAt, &d.WinningNumber, &d.CreatedAt, &count)
	if err != nil {
		return nil, err
	}

	d.Status = model.DrawStatus(status)
	d.Participants = int(count)
	d.TicketPrices = make([]decimal.Decimal, 0, len(prices))
	for _, c := range prices {
		d.TicketPrices = append(d.TicketPrices, model.FromCents(c))
	}
	return &d, nil
}

// GetDraw возвращает розыгрыш вместе с числом проданных билетов.
func (r *PostgresRepository) GetDraw(ctx context.Context, id uuid.UUID) (*model.Draw, error) {
	d, err := scanDraw(r.pool.QueryRow(ctx, selectDraw+` WHERE d.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDrawNotFound
		}
		return nil, fmt.Errorf("get draw: %w", err)
	}
	return d, nil
}

// ListDraws возвращает розыгрыши, опционально отфильтрованные по статусу.
func (r *PostgresRepository) ListDraws(ctx context.Context, status *model.DrawStatus) ([]model.Draw, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		rows, err = r.pool.Query(ctx, selectDraw+` WHERE d.status = $1 ORDER BY d.created_at DESC`, string(*status))
	} else {
		rows, err = r.pool.Query(ctx, selectDraw+` ORDER BY d.created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("select draws: %w", err)
	}
	defer rows.Close()

	return collectDraws(rows)
}

func collectDraws(rows pgx.Rows) ([]model.Draw, error) {
	var draws []model.Draw
	for rows.Next() {
		d, err := scanDraw(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draw: %w", err)
		}
		draws = append(draws, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return draws, nil
}

// ListDueDraws возвращает розыгрыши, которым пора сменить статус:
// ожидающие с наступившим началом и активные с наступившим окончанием.
func (r *PostgresRepository) ListDueDraws(ctx context.Context, now time.Time) ([]model.Draw, error) {
	rows, err := r.pool.Query(ctx,
		selectDraw+` WHERE (d.status = $1 AND d.starts_at <= $3)
		    OR (d.status = $2 AND d.ends_at <= $3)
		 ORDER BY d.created_at`,
		string(model.DrawStatusUpcoming), string(model.DrawStatusActive), now,
	)
	if err != nil {
		return nil, fmt.Errorf("select due draws: %w", err)
	}
	defer rows.Close()

	return collectDraws(rows)
}

// UpdateDrawStatus меняет статус розыгрыша.
func (r *PostgresRepository) UpdateDrawStatus(ctx context.Context, id uuid.UUID, status model.DrawStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE draws SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update draw status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDrawNotFound
	}
	return nil
}

// CompleteDraw завершает розыгрыш и фиксирует выигрышный номер (nil, если билетов не было).
func (r *PostgresRepository) CompleteDraw(ctx context.Context, id uuid.UUID, winningNumber *int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE draws SET status = $2, winning_number = $3 WHERE id = $1`,
		id, string(model.DrawStatusCompleted), winningNumber,
	)
	if err != nil {
		return fmt.Errorf("complete draw: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDrawNotFound
	}
	return nil
}

// HasTicket сообщает, есть ли у пользователя билет в розыгрыше.
func (r *PostgresRepository) HasTicket(ctx context.Context, drawID uuid.UUID, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tickets WHERE draw_id = $1 AND user_id = $2)`,
		drawID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ticket: %w", err)
	}
	return exists, nil
}

// TakenNumbers возвращает проданные номера розыгрыша по возрастанию.
func (r *PostgresRepository) TakenNumbers(ctx context.Context, drawID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ticket_number FROM tickets WHERE draw_id = $1 ORDER BY ticket_number`,
		drawID,
	)
	if err != nil {
		return nil, fmt.Errorf("select taken numbers: %w", err)
	}
	defer rows.Close()

	numbers := make([]int, 0)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan ticket number: %w", err)
		}
		numbers = append(numbers, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return numbers, nil
}

// BuyTicket атомарно закрепляет номер за пользователем и списывает цену билета с кошелька.
// Строка розыгрыша блокируется на чтение, строка пользователя на запись; уникальные
// индексы tickets гарантируют, что конкурирующая покупка того же номера завершится ошибкой.
func (r *PostgresRepository) BuyTicket(ctx context.Context, userID int64, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error) {
	priceCents := model.ToCents(price)
	ticket := &model.Ticket{
		DrawID: drawID,
		UserID: userID,
		Number: number,
		Price:  model.FromCents(priceCents),
	}

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			status string
			prices []int64
		)
		err = tx.QueryRow(ctx,
			`SELECT status, ticket_prices FROM draws WHERE id = $1 FOR SHARE`,
			drawID,
		).Scan(&status, &prices)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrDrawNotFound
			}
			return fmt.Errorf("lock draw: %w", err)
		}

		if model.DrawStatus(status) != model.DrawStatusActive {
			return ErrDrawNotOpen
		}
		if !validation.IsValidAmount(price) || !containsCents(prices, priceCents) {
			return ErrInvalidPrice
		}

		var balance int64
		err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO tickets (draw_id, user_id, ticket_number, price)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, purchased_at`,
			drawID, userID, number, priceCents,
		).Scan(&ticket.ID, &ticket.PurchasedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				switch pgErr.ConstraintName {
				case constraintDrawNumber:
					return ErrNumberTaken
				case constraintDrawUser:
					return ErrAlreadyEntered
				}
			}
			return fmt.Errorf("insert ticket: %w", err)
		}

		// Проверка баланса после вставки: занятый номер важнее нехватки средств.
		if priceCents > balance {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET balance = balance - $2 WHERE id = $1`, userID, priceCents); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ticket, nil
}

func containsCents(prices []int64, cents int64) bool {
	for _, p := range prices {
		if p == cents {
			return true
		}
	}
	return false
}

// GetTicketsByUser возвращает билеты пользователя, новые первыми.
func (r *PostgresRepository) GetTicketsByUser(ctx context.Context, userID int64) ([]model.Ticket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, draw_id, user_id, ticket_number, price, purchased_at
		 FROM tickets
		 WHERE user_id = $1
		 ORDER BY purchased_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select tickets: %w", err)
	}
	defer rows.Close()

	var res []model.Ticket
	for rows.Next() {
		var (
			t          model.Ticket
			priceCents int64
		)
		if err := rows.Scan(&t.ID, &t.DrawID, &t.UserID, &t.Number, &priceCents, &t.PurchasedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.Price = model.FromCents(priceCents)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
