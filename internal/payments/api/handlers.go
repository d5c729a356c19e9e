package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"paycollect/internal/common/api"
	"paycollect/internal/common/database"
	"paycollect/internal/common/money"
	"paycollect/internal/daraja"
	"paycollect/internal/payments"
)

// Handler handles payment HTTP requests
type Handler struct {
	service *payments.Service
	logger  *slog.Logger
}

// NewHandler creates a new payments handler
func NewHandler(service *payments.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the payment API routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.InitiatePayment)
	r.Get("/", h.ListTransactions)
	r.Get("/{checkoutRequestID}", h.GetTransaction)
	r.Post("/{checkoutRequestID}/query", h.QueryStatus)

	return r
}

// InitiatePaymentRequest is the API request for starting a payment
type InitiatePaymentRequest struct {
	Phone  string  `json:"phone" validate:"required"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// InitiatePaymentResponse is returned when a push request is accepted
type InitiatePaymentResponse struct {
	TransactionID     string `json:"transaction_id"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Status            string `json:"payment_status"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

// InitiatePayment handles POST /payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	amount := money.NewFromMajor(req.Amount, money.KES)

	tx, customerMessage, err := h.service.InitiatePayment(r.Context(), req.Phone, amount)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidPhone), errors.Is(err, payments.ErrInvalidAmount):
			api.BadRequest(w, err.Error())
		case errors.Is(err, daraja.ErrGatewayRejected):
			api.BadGateway(w, api.ErrCodeGatewayReject, "payment gateway rejected the request")
		case errors.Is(err, daraja.ErrGatewayUnavailable):
			api.BadGateway(w, api.ErrCodeGatewayUnavail, "payment gateway is unavailable")
		default:
			h.logger.Error("initiate payment failed", "error", err)
			api.InternalError(w, "failed to initiate payment")
		}
		return
	}

	api.WriteData(w, http.StatusAccepted, InitiatePaymentResponse{
		TransactionID:     tx.ID,
		CheckoutRequestID: tx.CheckoutRequestID,
		Status:            string(tx.Status),
		CustomerMessage:   customerMessage,
	})
}

// ListTransactions handles GET /payments
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	txs, err := h.service.ListTransactions(r.Context(), limit)
	if err != nil {
		h.logger.Error("list transactions failed", "error", err)
		api.InternalError(w, "failed to list transactions")
		return
	}

	api.WriteData(w, http.StatusOK, txs)
}

// GetTransaction handles GET /payments/{checkoutRequestID}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutRequestID")
	if id == "" {
		api.BadRequest(w, "checkout request ID required")
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "transaction not found")
			return
		}
		h.logger.Error("get transaction failed", "error", err)
		api.InternalError(w, "failed to get transaction")
		return
	}

	api.WriteData(w, http.StatusOK, tx)
}

// QueryStatusResponse is returned from a manual status poll
type QueryStatusResponse struct {
	Transaction *payments.Transaction `json:"transaction"`
	Outcome     string                `json:"outcome"`
}

// QueryStatus handles POST /payments/{checkoutRequestID}/query
func (h *Handler) QueryStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutRequestID")
	if id == "" {
		api.BadRequest(w, "checkout request ID required")
		return
	}

	tx, outcome, err := h.service.PollStatus(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, daraja.ErrGatewayRejected):
			api.BadGateway(w, api.ErrCodeGatewayReject, "payment gateway rejected the query")
		case errors.Is(err, daraja.ErrGatewayUnavailable):
			api.BadGateway(w, api.ErrCodeGatewayUnavail, "payment gateway is unavailable")
		default:
			h.logger.Error("status poll failed", "error", err, "checkout_request_id", id)
			api.InternalError(w, "failed to query payment status")
		}
		return
	}

	if outcome.Kind == payments.OutcomeNotFound {
		api.NotFound(w, "transaction not found")
		return
	}

	api.WriteData(w, http.StatusOK, QueryStatusResponse{
		Transaction: tx,
		Outcome:     string(outcome.Kind),
	})
}

// callbackAck is the acknowledgment body the gateway expects. The
// gateway retries aggressively on anything else, so every processing
// outcome acks; only storage unavailability is surfaced.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Callback handles POST /callbacks/daraja
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read callback body", "error", err)
		api.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}
	defer r.Body.Close()

	sig, err := payments.ParseCallback(body)
	if err != nil {
		h.logger.Error("malformed callback", "error", err, "body", string(body))
		api.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}

	outcome, err := h.service.ApplySignal(r.Context(), sig)
	if err != nil {
		// Storage failure: no ack, let the gateway retry.
		h.logger.Error("callback processing failed",
			"error", err,
			"checkout_request_id", sig.CheckoutRequestID,
		)
		api.InternalError(w, "callback processing failed")
		return
	}

	h.logger.Info("callback processed",
		"checkout_request_id", sig.CheckoutRequestID,
		"result_code", sig.ResultCode,
		"outcome", outcome.String(),
	)

	api.WriteJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}
