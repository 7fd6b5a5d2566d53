package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/drawwin-system/internal/model"
	"github.com/mmeshcher/drawwin-system/internal/repository"
	"github.com/mmeshcher/drawwin-system/internal/service"
)

type createDrawRequest struct {
	Title        string            `json:"title"`
	TicketPrices []decimal.Decimal `json:"ticket_prices"`
	Status       string            `json:"status"`
	StartsAt     *time.Time        `json:"starts_at"`
	EndsAt       *time.Time        `json:"ends_at"`
}

// CreateDraw создаёт новый розыгрыш.
func (h *Handler) CreateDraw(w http.ResponseWriter, r *http.Request) {
	var req createDrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	in := service.DrawInput{
		Title:        req.Title,
		TicketPrices: req.TicketPrices,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
	}
	if req.Status != "" {
		status, err := model.ParseDrawStatus(req.Status)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		in.Status = status
	}

	d, err := h.service.CreateDraw(r.Context(), in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidDraw) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("create draw error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Info("draw created", zap.String("drawID", d.ID.String()), zap.String("status", string(d.Status)))
	h.writeJSON(w, http.StatusCreated, newDrawResponse(*d))
}

type drawStatusRequest struct {
	Status string `json:"status"`
}

// SetDrawStatus переводит розыгрыш в новый статус.
func (h *Handler) SetDrawStatus(w http.ResponseWriter, r *http.Request) {
	drawID, ok := drawIDParam(w, r)
	if !ok {
		return
	}

	var req drawStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	status, err := model.ParseDrawStatus(req.Status)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	d, err := h.service.SetDrawStatus(r.Context(), drawID, status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDrawNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrStatusTransition):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("set draw status error", zap.Error(err), zap.String("drawID", drawID.String()))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, newDrawResponse(*d))
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TopUpBalance пополняет или списывает баланс пользователя.
func (h *Handler) TopUpBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.TopUpBalance(r.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("top up balance error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.logger.Info("balance adjusted", zap.Int64("userID", userID), zap.String("amount", req.Amount.String()))
	h.writeJSON(w, http.StatusOK, balance)
}
