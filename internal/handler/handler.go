package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/stellune/credits-service/internal/catalog"
	service "github.com/stellune/credits-service/internal/services"
	pkgerrors "github.com/stellune/credits-service/pkg/errors"
)

// Handler maps the credit service onto a thin JSON surface. Auth and rate
// limiting belong to the gateway in front of it.
type Handler struct {
	service service.CreditService
}

func NewHandler(s service.CreditService) *Handler {
	return &Handler{service: s}
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrEmptyUserKey),
		errors.Is(err, pkgerrors.ErrSameUser):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrUnauthorizedClaimer):
		status = http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrPurchaseNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInsufficientCredits),
		errors.Is(err, pkgerrors.ErrPurchaseRefunded),
		errors.Is(err, pkgerrors.ErrPurchaseCompleted):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error(), Retryable: pkgerrors.Retryable(err)})
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/users/{userKey}/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/users/{userKey}/credits/use", h.UseCredits).Methods("POST")
	r.HandleFunc("/users/{userKey}/transactions", h.GetTransactionHistory).Methods("GET")
	r.HandleFunc("/users/{userKey}/purchases", h.GetUserPurchases).Methods("GET")

	r.HandleFunc("/purchases/pending", h.GetPendingPurchases).Methods("GET")
	r.HandleFunc("/purchases", h.CreatePurchase).Methods("POST")
	r.HandleFunc("/purchases/{orderID}", h.GetPurchase).Methods("GET")
	r.HandleFunc("/purchases/{orderID}/complete", h.CompletePurchase).Methods("POST")
	r.HandleFunc("/purchases/{orderID}/refund", h.RefundPurchase).Methods("POST")

	r.HandleFunc("/rewards/streak/claim", h.ClaimStreakReward).Methods("POST")
	r.HandleFunc("/rewards/streak/{userKey}/today", h.HasClaimedStreakRewardToday).Methods("GET")
	r.HandleFunc("/rewards/streak/{userKey}/history", h.GetStreakRewardHistory).Methods("GET")
	r.HandleFunc("/rewards/streak/{userKey}/stats", h.GetStreakRewardStats).Methods("GET")

	r.HandleFunc("/rewards/referral/claim", h.ClaimReferralReward).Methods("POST")
	r.HandleFunc("/rewards/referral/status", h.GetReferralStatus).Methods("GET")
	r.HandleFunc("/rewards/referral/{userKey}/stats", h.GetReferralStats).Methods("GET")

	r.HandleFunc("/catalog/products", h.GetProducts).Methods("GET")
	r.HandleFunc("/catalog/actions", h.GetActionCosts).Methods("GET")
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.service.GetBalance(r.Context(), mux.Vars(r)["userKey"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bal)
}

func (h *Handler) UseCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	tx, err := h.service.UseCredits(r.Context(), mux.Vars(r)["userKey"], req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.GetTransactionHistory(r.Context(), mux.Vars(r)["userKey"], queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID    string `json:"order_id"`
		UserKey    string `json:"user_key"`
		SKU        string `json:"sku"`
		AmountPaid int64  `json:"amount_paid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	rec, err := h.service.CreatePurchase(r.Context(), req.OrderID, req.UserKey, req.SKU, req.AmountPaid)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) CompletePurchase(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CompletePurchase(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) RefundPurchase(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RefundPurchase(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetPurchase(r.Context(), mux.Vars(r)["orderID"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetUserPurchases(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.GetUserPurchases(r.Context(), mux.Vars(r)["userKey"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) GetPendingPurchases(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.GetPendingPurchases(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) ClaimStreakReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserKey string `json:"user_key"`
		DateKey string `json:"date_key"`
		Streak  int    `json:"streak"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	res, err := h.service.ClaimStreakReward(r.Context(), req.UserKey, req.DateKey, req.Streak)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HasClaimedStreakRewardToday(w http.ResponseWriter, r *http.Request) {
	claimed, err := h.service.HasClaimedStreakRewardToday(r.Context(), mux.Vars(r)["userKey"], r.URL.Query().Get("date_key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"claimed": claimed})
}

func (h *Handler) GetStreakRewardHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.GetStreakRewardHistory(r.Context(), mux.Vars(r)["userKey"], queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) GetStreakRewardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStreakRewardStats(r.Context(), mux.Vars(r)["userKey"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ClaimReferralReward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviterKey string `json:"inviter_key"`
		InviteeKey string `json:"invitee_key"`
		DateKey    string `json:"date_key"`
		ClaimerKey string `json:"claimer_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	res, err := h.service.ClaimReferralReward(r.Context(), req.InviterKey, req.InviteeKey, req.DateKey, req.ClaimerKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) GetReferralStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rec, err := h.service.GetReferralStatus(r.Context(), q.Get("inviter_key"), q.Get("invitee_key"), q.Get("date_key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetReferralStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetReferralStats(r.Context(), mux.Vars(r)["userKey"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, catalog.Products())
}

func (h *Handler) GetActionCosts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, catalog.ActionCosts())
}

func queryLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
