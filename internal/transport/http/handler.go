package http

import (
	"context"
	"encoding/json"
	"net/http"

	appErrors "cardledger/internal/errors"
	"cardledger/internal/model"
	"cardledger/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Money fields are parsed by the handlers, so a bad amount is INVALID_ARGUMENT
// on every transport.
type chargeRequest struct {
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id" validate:"omitempty,max=64"`
}

type createCardRequest struct {
	PartnerID   string `json:"partner_id" validate:"omitempty,max=64"`
	CreditLimit string `json:"credit_limit"`
}

type Handler struct {
	svc      service.LedgerService
	validate *validator.Validate
	log      *logrus.Logger
}

func NewHandler(svc service.LedgerService, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, validate: validator.New(), log: log}
}

// Register mounts the public health check on r and every card route behind auth.
func (h *Handler) Register(r *mux.Router, auth func(http.Handler) http.Handler) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	cards := r.PathPrefix("/cards").Subrouter()
	cards.Use(auth)
	cards.HandleFunc("", h.CreateCard).Methods(http.MethodPost)
	cards.HandleFunc("/{id}", h.GetCardState).Methods(http.MethodGet)
	cards.HandleFunc("/{id}", h.DeactivateCard).Methods(http.MethodDelete)
	cards.HandleFunc("/{id}/charges", h.ApplyCharge).Methods(http.MethodPost)
	cards.HandleFunc("/{id}/reversals", h.ReverseCharge).Methods(http.MethodPost)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// CreateCard creates a card owned by the authenticated caller.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if !h.decode(w, r, &req) {
		return
	}
	limit, err := decimal.NewFromString(req.CreditLimit)
	if err != nil {
		h.respondError(w, r, appErrors.NewInvalidArgument("credit_limit", "credit_limit must be a decimal"))
		return
	}

	in := model.CreateCardRequest{OwnerID: CallerID(r.Context()), CreditLimit: limit}
	if req.PartnerID != "" {
		in.PartnerID = &req.PartnerID
	}

	card, err := h.svc.CreateCard(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, card)
}

func (h *Handler) GetCardState(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.GetCardState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

func (h *Handler) ApplyCharge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.ApplyCharge)
}

func (h *Handler) ReverseCharge(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.svc.ReverseCharge)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, model.ChargeRequest) (*model.ChargeResult, error)) {
	var req chargeRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, r, appErrors.NewInvalidArgument("amount", "amount must be a decimal"))
		return
	}

	res, err := op(r.Context(), model.ChargeRequest{
		CardID:        mux.Vars(r)["id"],
		Amount:        amount,
		CallerID:      CallerID(r.Context()),
		TransactionID: req.TransactionID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) DeactivateCard(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateCard(r.Context(), mux.Vars(r)["id"], CallerID(r.Context())); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondError(w, r, appErrors.ErrBadRequest.WithMessage("invalid_json").WithError(err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondError(w, r, appErrors.ParseValidationErrors(err))
		return false
	}
	return true
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := appErrors.FromError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	respondAppError(w, appErr)
}

func respondAppError(w http.ResponseWriter, appErr *appErrors.AppError) {
	payload := map[string]interface{}{
		"error":   appErr.Code,
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		payload["details"] = appErr.Details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
