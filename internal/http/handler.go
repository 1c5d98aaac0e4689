package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"EddyMixer/internal/amounts"
	"EddyMixer/internal/ledger"
	"EddyMixer/internal/models"
	"EddyMixer/internal/monitor"
	"EddyMixer/internal/services"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Orders   services.OrderService
	Deposits monitor.Monitor
}

func NewHandler(orders services.OrderService, deposits monitor.Monitor) *Handler {
	return &Handler{Orders: orders, Deposits: deposits}
}

type createOrderRequest struct {
	Token            string `json:"token"`
	Amount           string `json:"amount"`
	AmountDecimal    string `json:"amountDecimal"`
	RecipientAddress string `json:"recipientAddress"`
	SenderAddress    string `json:"senderAddress"`
	SessionID        string `json:"sessionId"`
	WalletAddress    string `json:"walletAddress"`
}

// orderResponse is the public view of an order. Secret material and raw
// transaction bytes never appear here.
type orderResponse struct {
	OrderID           string `json:"orderId"`
	Token             string `json:"token"`
	Amount            string `json:"amount"`
	Status            string `json:"status"`
	DepositAddress    string `json:"depositAddress"`
	RecipientAddress  string `json:"recipientAddress"`
	SenderAddress     string `json:"senderAddress"`
	DepositedAmount   string `json:"depositedAmount,omitempty"`
	DepositedAt       string `json:"depositedAt,omitempty"`
	DepositTx         string `json:"depositTx,omitempty"`
	PayoutScheduledAt string `json:"payoutScheduledAt,omitempty"`
	PayoutTx          string `json:"payoutTx,omitempty"`
	PayoutExecutedAt  string `json:"payoutExecutedAt,omitempty"`
	ExpiresAt         string `json:"expiresAt"`
	SessionID         string `json:"sessionId,omitempty"`
	WalletAddress     string `json:"walletAddress,omitempty"`
	CreatedAt         string `json:"createdAt"`
}

type depositCheckResponse struct {
	orderResponse
	Funded  bool   `json:"funded"`
	Balance string `json:"balance,omitempty"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	params := services.CreateOrderParams{
		Token:            req.Token,
		Amount:           req.Amount,
		AmountDecimal:    req.AmountDecimal,
		RecipientAddress: req.RecipientAddress,
		SenderAddress:    req.SenderAddress,
	}
	if req.SessionID != "" {
		params.SessionID = &req.SessionID
	}
	if req.WalletAddress != "" {
		params.WalletAddress = &req.WalletAddress
	}

	order, err := h.Orders.CreateOrder(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBadToken),
			errors.Is(err, services.ErrBadRecipient),
			errors.Is(err, services.ErrBadSender),
			errors.Is(err, services.ErrMissingAmount),
			errors.Is(err, amounts.ErrBadAmount),
			errors.Is(err, amounts.ErrTooMuchScale),
			errors.Is(err, amounts.ErrNotBaseInteger):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "create order failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) CheckDeposit(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	res, err := h.Deposits.CheckDeposit(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "deposit check failed")
		return
	}

	resp := depositCheckResponse{
		orderResponse: toOrderResponse(res.Order),
		Funded:        res.Funded,
	}
	if res.Balance != nil {
		resp.Balance = res.Balance.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.Orders.CancelOrder(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, services.ErrPayoutInFlight):
			writeError(w, http.StatusConflict, "payout already submitted")
		case errors.Is(err, services.ErrAlreadyTerminal):
			writeError(w, http.StatusConflict, "order is already terminal")
		default:
			writeError(w, http.StatusInternalServerError, "cancel order failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var (
		orders []*models.MixOrder
		err    error
	)
	switch {
	case q.Get("session_id") != "":
		orders, err = h.Orders.ListOrdersBySession(r.Context(), q.Get("session_id"), limit)
	case q.Get("wallet") != "":
		orders, err = h.Orders.ListOrdersByWallet(r.Context(), q.Get("wallet"), limit)
	default:
		writeError(w, http.StatusBadRequest, "session_id or wallet is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list orders failed")
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, out)
}

func toOrderResponse(o *models.MixOrder) orderResponse {
	resp := orderResponse{
		OrderID:          o.OrderID,
		Token:            o.TokenHash,
		Amount:           o.Amount,
		Status:           string(o.Status),
		DepositAddress:   o.DepositAddress,
		RecipientAddress: o.RecipientAddress,
		SenderAddress:    o.SenderAddress,
		ExpiresAt:        o.ExpiresAt.Format(time.RFC3339),
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
	}
	if o.DepositedAmount != nil {
		resp.DepositedAmount = *o.DepositedAmount
	}
	if o.DepositedAt != nil {
		resp.DepositedAt = o.DepositedAt.Format(time.RFC3339)
	}
	if o.DepositTx != nil {
		resp.DepositTx = *o.DepositTx
	}
	if o.PayoutScheduledAt != nil {
		resp.PayoutScheduledAt = o.PayoutScheduledAt.Format(time.RFC3339)
	}
	if o.PayoutTx != nil {
		resp.PayoutTx = *o.PayoutTx
	}
	if o.PayoutExecutedAt != nil {
		resp.PayoutExecutedAt = o.PayoutExecutedAt.Format(time.RFC3339)
	}
	if o.SessionID != nil {
		resp.SessionID = *o.SessionID
	}
	if o.WalletAddress != nil {
		resp.WalletAddress = *o.WalletAddress
	}
	return resp
}
