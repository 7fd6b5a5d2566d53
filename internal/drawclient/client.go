// Package drawclient предоставляет HTTP-клиент сервиса розыгрышей для мастера покупки билетов.
//
// Ответы сервера проверяются на границе: в мастер попадают только типизированные
// и согласованные данные. Любая сетевая ошибка, таймаут, неожиданный статус или
// некорректный ответ превращаются в *wizard.TransportError, а отказ в покупке
// с известной причиной в *wizard.SubmissionRejected.
package drawclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/wizard"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultRetryMax     = 3
	defaultRetryWaitMin = 100 * time.Millisecond
	defaultRetryWaitMax = time.Second
)

var (
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginTaken возвращается при регистрации с занятым логином.
	ErrLoginTaken = errors.New("login already taken")
	// ErrNotLoggedIn возвращается при запросе без предварительного входа.
	ErrNotLoggedIn = errors.New("not logged in")
)

// StatusError описывает неожиданный HTTP-статус ответа.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

var _ wizard.Backend = (*Client)(nil)

// Client инкапсулирует HTTP-взаимодействие с сервисом розыгрышей.
type Client struct {
	baseURL string
	reads   *retryablehttp.Client
	writes  *http.Client
	logger  *zap.Logger

	mu     sync.RWMutex
	token  string
	userID int64
	role   model.Role
}

// Option настраивает клиент.
type Option func(*Client)

// WithLogger задаёт логгер клиента.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryPolicy задаёт число повторов чтений и границы паузы между ними.
func WithRetryPolicy(retries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.reads.RetryMax = retries
		c.reads.RetryWaitMin = waitMin
		c.reads.RetryWaitMax = waitMax
	}
}

// NewClient создаёт клиент сервиса по указанному адресу.
// Чтения повторяются при сетевых ошибках и ответах 5xx, покупка не повторяется никогда.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	reads := retryablehttp.NewClient()
	reads.HTTPClient.Timeout = timeout
	reads.RetryMax = defaultRetryMax
	reads.RetryWaitMin = defaultRetryWaitMin
	reads.RetryWaitMax = defaultRetryWaitMax

	c := &Client{
		baseURL: base,
		reads:   reads,
		writes:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	reads.Logger = leveledLogger{s: c.logger.Sugar()}
	return c
}

// UserID возвращает идентификатор пользователя, выполнившего вход.
func (c *Client) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Role возвращает роль пользователя, выполнившего вход.
func (c *Client) Role() model.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

type credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenDTO struct {
	Token  string     `json:"token"`
	UserID int64      `json:"user_id"`
	Role   model.Role `json:"role"`
}

// Login выполняет вход и запоминает токен для последующих запросов.
func (c *Client) Login(ctx context.Context, login, password string) (int64, error) {
	return c.authenticate(ctx, "login", "/api/user/login", login, password)
}

// Register регистрирует пользователя и выполняет вход.
func (c *Client) Register(ctx context.Context, login, password string) (int64, error) {
	return c.authenticate(ctx, "register", "/api/user/register", login, password)
}

func (c *Client) authenticate(ctx context.Context, op, path, login, password string) (int64, error) {
	body, err := json.Marshal(credentials{Login: login, Password: password})
	if err != nil {
		return 0, fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, &wizard.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.writes.Do(req)
	if err != nil {
		return 0, &wizard.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return 0, ErrInvalidCredentials
	case http.StatusConflict:
		return 0, ErrLoginTaken
	default:
		return 0, &wizard.TransportError{Op: op, Err: &StatusError{Code: resp.StatusCode}}
	}

	var dto tokenDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return 0, &wizard.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if dto.Token == "" || dto.UserID <= 0 {
		return 0, &wizard.TransportError{Op: op, Err: errors.New("malformed token response")}
	}

	c.mu.Lock()
	c.token, c.userID, c.role = dto.Token, dto.UserID, dto.Role
	c.mu.Unlock()

	c.logger.Debug("logged in", zap.Int64("userID", dto.UserID), zap.String("role", string(dto.Role)))
	return dto.UserID, nil
}

func (c *Client) bearer() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", ErrNotLoggedIn
	}
	return "Bearer " + c.token, nil
}

// getJSON выполняет GET с повторами и декодирует тело ответа.
func (c *Client) getJSON(ctx context.Context, op, path string, dst any) error {
	auth, err := c.bearer()
	if err != nil {
		return &wizard.TransportError{Op: op, Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &wizard.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")

	resp, err := c.reads.Do(req)
	if err != nil {
		return &wizard.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &wizard.TransportError{Op: op, Err: &StatusError{Code: resp.StatusCode}}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &wizard.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// ListDraws возвращает каталог розыгрышей, при status != nil только с указанным статусом.
func (c *Client) ListDraws(ctx context.Context, status *model.DrawStatus) ([]model.Draw, error) {
	const op = "list draws"

	path := "/api/draws"
	if status != nil {
		path += "?status=" + url.QueryEscape(string(*status))
	}

	var dtos []drawDTO
	if err := c.getJSON(ctx, op, path, &dtos); err != nil {
		return nil, err
	}

	draws := make([]model.Draw, 0, len(dtos))
	for _, dto := range dtos {
		d, err := dto.toModel()
		if err != nil {
			return nil, &wizard.TransportError{Op: op, Err: err}
		}
		draws = append(draws, d)
	}
	return draws, nil
}

// GetDraw возвращает розыгрыш по идентификатору.
func (c *Client) GetDraw(ctx context.Context, id uuid.UUID) (*model.Draw, error) {
	const op = "get draw"

	var dto drawDTO
	if err := c.getJSON(ctx, op, "/api/draws/"+id.String(), &dto); err != nil {
		return nil, err
	}

	d, err := dto.toModel()
	if err != nil {
		return nil, &wizard.TransportError{Op: op, Err: err}
	}
	if d.ID != id {
		return nil, &wizard.TransportError{Op: op, Err: fmt.Errorf("response for draw %s, want %s", d.ID, id)}
	}
	return &d, nil
}

// UserEnteredDraw сообщает, есть ли у пользователя билет в розыгрыше.
func (c *Client) UserEnteredDraw(ctx context.Context, drawID uuid.UUID, userID int64) (bool, error) {
	var dto struct {
		Entered *bool `json:"entered"`
	}
	path := fmt.Sprintf("/api/draws/%s/entries/%s", drawID, strconv.FormatInt(userID, 10))
	if err := c.getJSON(ctx, "user entered draw", path, &dto); err != nil {
		return false, err
	}
	if dto.Entered == nil {
		return false, &wizard.TransportError{Op: "user entered draw", Err: errors.New("missing entered flag")}
	}
	return *dto.Entered, nil
}

// TakenTicketNumbers возвращает снимок проданных номеров розыгрыша.
func (c *Client) TakenTicketNumbers(ctx context.Context, drawID uuid.UUID) ([]int, error) {
	const op = "taken ticket numbers"

	var dto struct {
		Numbers []int `json:"numbers"`
	}
	if err := c.getJSON(ctx, op, "/api/draws/"+drawID.String()+"/taken", &dto); err != nil {
		return nil, err
	}

	numbers, err := checkTakenNumbers(dto.Numbers)
	if err != nil {
		return nil, &wizard.TransportError{Op: op, Err: err}
	}
	return numbers, nil
}

// WalletBalance возвращает баланс кошелька пользователя.
func (c *Client) WalletBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	const op = "wallet balance"

	var dto struct {
		Current *decimal.Decimal `json:"current"`
	}
	if err := c.getJSON(ctx, op, "/api/users/"+strconv.FormatInt(userID, 10)+"/balance", &dto); err != nil {
		return decimal.Zero, err
	}

	switch {
	case dto.Current == nil:
		return decimal.Zero, &wizard.TransportError{Op: op, Err: errors.New("missing balance")}
	case dto.Current.IsNegative():
		return decimal.Zero, &wizard.TransportError{Op: op, Err: fmt.Errorf("negative balance %s", dto.Current)}
	}
	return *dto.Current, nil
}

type buyTicketDTO struct {
	Number int             `json:"number"`
	Price  decimal.Decimal `json:"price"`
}

type rejectionDTO struct {
	Reason model.RejectReason `json:"reason"`
	Error  string             `json:"error"`
}

// BuyTicket отправляет покупку билета. Запрос выполняется ровно один раз.
func (c *Client) BuyTicket(ctx context.Context, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error) {
	const op = "buy ticket"

	auth, err := c.bearer()
	if err != nil {
		return nil, &wizard.TransportError{Op: op, Err: err}
	}

	body, err := json.Marshal(buyTicketDTO{Number: number, Price: price})
	if err != nil {
		return nil, &wizard.TransportError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/draws/"+drawID.String()+"/tickets", bytes.NewReader(body))
	if err != nil {
		return nil, &wizard.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)

	resp, err := c.writes.Do(req)
	if err != nil {
		return nil, &wizard.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusPaymentRequired, http.StatusUnprocessableEntity, http.StatusNotFound:
		return nil, decodeRejection(op, resp)
	default:
		return nil, &wizard.TransportError{Op: op, Err: &StatusError{Code: resp.StatusCode}}
	}

	var dto ticketDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, &wizard.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	ticket, err := dto.toModel()
	if err != nil {
		return nil, &wizard.TransportError{Op: op, Err: err}
	}
	if ticket.DrawID != drawID || ticket.Number != number {
		return nil, &wizard.TransportError{Op: op, Err: fmt.Errorf("ticket %d/%s does not match request", ticket.Number, ticket.DrawID)}
	}
	return &ticket, nil
}

func decodeRejection(op string, resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &wizard.TransportError{Op: op, Err: err}
	}

	var dto rejectionDTO
	if err := json.Unmarshal(data, &dto); err != nil || !dto.Reason.Known() {
		return &wizard.TransportError{Op: op, Err: &StatusError{Code: resp.StatusCode}}
	}
	return &wizard.SubmissionRejected{Reason: dto.Reason}
}

// leveledLogger направляет журнал повторов retryablehttp в zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
