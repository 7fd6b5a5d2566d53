// Package handler содержит HTTP-обработчики API сервиса розыгрышей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/drawwin-system/internal/middleware"
	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/repository"
	"github.com/mmeshcher/drawwin-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	ListDraws(ctx context.Context, status *model.DrawStatus) ([]model.Draw, error)
	GetDraw(ctx context.Context, id uuid.UUID) (*model.Draw, error)
	UserEnteredDraw(ctx context.Context, drawID uuid.UUID, userID int64) (bool, error)
	TakenTicketNumbers(ctx context.Context, drawID uuid.UUID) ([]int, error)
	GetWalletBalance(ctx context.Context, userID int64) (*model.Balance, error)
	BuyTicket(ctx context.Context, userID int64, drawID uuid.UUID, number int, price decimal.Decimal) (*model.Ticket, error)
	ListTicketsByUser(ctx context.Context, userID int64) ([]model.Ticket, error)
	CreateDraw(ctx context.Context, in service.DrawInput) (*model.Draw, error)
	SetDrawStatus(ctx context.Context, id uuid.UUID, status model.DrawStatus) (*model.Draw, error)
	TopUpBalance(ctx context.Context, userID int64, amount decimal.Decimal) (*model.Balance, error)
}

// Handler реализует HTTP-обработчики API сервиса розыгрышей.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token  string     `json:"token"`
	UserID int64      `json:"user_id"`
	Role   model.Role `json:"role"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.issueToken(w, userID, model.RoleUser)
}

// Login выполняет аутентификацию пользователя и выдаёт токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.issueToken(w, user.ID, user.Role)
}

func (h *Handler) issueToken(w http.ResponseWriter, userID int64, role model.Role) {
	token, err := h.authMiddleware.IssueToken(userID, role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, token)
	h.writeJSON(w, http.StatusOK, tokenResponse{Token: token, UserID: userID, Role: role})
}

type drawResponse struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	TicketPrices    []decimal.Decimal `json:"ticket_prices"`
	MaxParticipants int               `json:"max_participants"`
	Status          model.DrawStatus  `json:"status"`
	Participants    int               `json:"participants"`
	StartsAt        *time.Time        `json:"starts_at,omitempty"`
	EndsAt          *time.Time        `json:"ends_at,omitempty"`
	WinningNumber   *int              `json:"winning_number,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

func newDrawResponse(d model.Draw) drawResponse {
	return drawResponse{
		ID:              d.ID.String(),
		Title:           d.Title,
		TicketPrices:    d.TicketPrices,
		MaxParticipants: d.MaxParticipants,
		Status:          d.Status,
		Participants:    d.Participants,
		StartsAt:        d.StartsAt,
		EndsAt:          d.EndsAt,
		WinningNumber:   d.WinningNumber,
		CreatedAt:       d.CreatedAt.Format(time.RFC3339),
	}
}

// ListDraws возвращает каталог розыгрышей с необязательным фильтром по статусу.
func (h *Handler) ListDraws(w http.ResponseWriter, r *http.Request) {
	var filter *model.DrawStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := model.ParseDrawStatus(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter = &status
	}

	draws, err := h.service.ListDraws(r.Context(), filter)
	if err != nil {
		h.logger.Error("list draws error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]drawResponse, 0, len(draws))
	for _, d := range draws {
		resp = append(resp, newDrawResponse(d))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetDraw возвращает розыгрыш по идентификатору.
func (h *Handler) GetDraw(w http.ResponseWriter, r *http.Request) {
	drawID, ok := drawIDParam(w, r)
	if !ok {
		return
	}

	d, err := h.service.GetDraw(r.Context(), drawID)
	if err != nil {
		h.readError(w, "get draw error", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newDrawResponse(*d))
}

type takenResponse struct {
	Numbers []int `json:"numbers"`
}

// TakenNumbers возвращает снимок проданных номеров розыгрыша.
func (h *Handler) TakenNumbers(w http.ResponseWriter, r *http.Request) {
	drawID, ok := drawIDParam(w, r)
	if !ok {
		return
	}

	numbers, err := h.service.TakenTicketNumbers(r.Context(), drawID)
	if err != nil {
		h.readError(w, "taken numbers error", err)
		return
	}
	if numbers == nil {
		numbers = []int{}
	}
	h.writeJSON(w, http.StatusOK, takenResponse{Numbers: numbers})
}

type enteredResponse struct {
	Entered bool `json:"entered"`
}

// UserEntered сообщает, участвует ли пользователь в розыгрыше.
func (h *Handler) UserEntered(w http.ResponseWriter, r *http.Request) {
	drawID, ok := drawIDParam(w, r)
	if !ok {
		return
	}
	userID, ok := h.authorizeUser(w, r)
	if !ok {
		return
	}

	entered, err := h.service.UserEnteredDraw(r.Context(), drawID, userID)
	if err != nil {
		h.readError(w, "user entered error", err)
		return
	}
	h.writeJSON(w, http.StatusOK, enteredResponse{Entered: entered})
}

// GetBalance возвращает баланс кошелька пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUser(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetWalletBalance(r.Context(), userID)
	if err != nil {
		h.readError(w, "get balance error", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

type buyTicketRequest struct {
	Number int             `json:"number"`
	Price  decimal.Decimal `json:"price"`
}

type ticketResponse struct {
	ID          int64           `json:"id"`
	DrawID      string          `json:"draw_id"`
	UserID      int64           `json:"user_id"`
	Number      int             `json:"number"`
	Price       decimal.Decimal `json:"price"`
	PurchasedAt string          `json:"purchased_at"`
}

func newTicketResponse(t model.Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		DrawID:      t.DrawID.String(),
		UserID:      t.UserID,
		Number:      t.Number,
		Price:       t.Price,
		PurchasedAt: t.PurchasedAt.Format(time.RFC3339),
	}
}

type rejectionResponse struct {
	Reason model.RejectReason `json:"reason"`
	Error  string             `json:"error"`
}

// BuyTicket покупает билет с выбранным номером для текущего пользователя.
func (h *Handler) BuyTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	drawID, ok := drawIDParam(w, r)
	if !ok {
		return
	}

	var req buyTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ticket, err := h.service.BuyTicket(r.Context(), userID, drawID, req.Number, req.Price)
	if err != nil {
		if reason, ok := service.RejectReason(err); ok {
			h.writeJSON(w, rejectStatus(reason), rejectionResponse{Reason: reason, Error: reason.Message()})
			return
		}
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("buy ticket error", zap.Error(err), zap.Int64("userID", userID), zap.String("drawID", drawID.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, newTicketResponse(*ticket))
}

func rejectStatus(reason model.RejectReason) int {
	switch reason {
	case model.ReasonInsufficientBalance:
		return http.StatusPaymentRequired
	case model.ReasonInvalidNumber, model.ReasonInvalidPrice:
		return http.StatusUnprocessableEntity
	case model.ReasonDrawNotFound:
		return http.StatusNotFound
	}
	return http.StatusConflict
}

// GetTickets возвращает билеты текущего пользователя.
func (h *Handler) GetTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	tickets, err := h.service.ListTicketsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get tickets error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(tickets) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		resp = append(resp, newTicketResponse(t))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// authorizeUser разбирает {userID} и проверяет, что запрос делает сам пользователь или администратор.
func (h *Handler) authorizeUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	callerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return 0, false
	}

	userID, ok := userIDParam(w, r)
	if !ok {
		return 0, false
	}

	if role, _ := middleware.GetRoleFromContext(r.Context()); userID != callerID && role != model.RoleAdmin {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return 0, false
	}
	return userID, true
}

func drawIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "drawID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) readError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrDrawNotFound), errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
