package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/gateway"
	"github.com/ItsMoloy/Android-250/libs/httpx"
	"github.com/ItsMoloy/Android-250/services/payment-proxy/internal/email"
	"github.com/google/uuid"
)

// Handler exposes the gateway and email collaborators over the flat
// /create-payment, /execute-payment, /query-payment and /send-email API.
// Every gateway call acquires a fresh token.
type Handler struct {
	gw     gateway.Client
	mail   email.Sender
	logger *slog.Logger
}

func New(gw gateway.Client, mail email.Sender, logger *slog.Logger) *Handler {
	return &Handler{gw: gw, mail: mail, logger: logger}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/create-payment", h.CreatePayment)
	mux.HandleFunc("/execute-payment", h.ExecutePayment)
	mux.HandleFunc("/query-payment", h.QueryPayment)
	mux.HandleFunc("/send-email", h.SendEmail)
}

type createPaymentRequest struct {
	Amount        json.Number `json:"amount"`
	InvoiceNumber string      `json:"merchantInvoiceNumber"`
}

type createPaymentResponse struct {
	PaymentID         string `json:"paymentID"`
	CheckoutURL       string `json:"checkoutURL"`
	BkashURL          string `json:"bkashURL,omitempty"`
	TransactionStatus string `json:"transactionStatus,omitempty"`
}

type paymentIDRequest struct {
	PaymentID string `json:"paymentID"`
}

type messageBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, "create", "Failed to create payment", apperr.Wrap(apperr.InvalidArgument, "invalid json", err))
		return
	}
	amount, err := req.Amount.Int64()
	if err != nil || amount <= 0 {
		h.fail(w, "create", "Failed to create payment", apperr.New(apperr.InvalidArgument, "amount must be a positive whole number"))
		return
	}
	invoice := strings.TrimSpace(req.InvoiceNumber)
	if invoice == "" {
		invoice = "INV-" + uuid.NewString()
	}

	ctx := r.Context()
	tok, err := h.gw.AcquireToken(ctx)
	if err != nil {
		h.fail(w, "create", "Failed to create payment", err)
		return
	}
	sess, err := h.gw.CreateSession(ctx, tok, amount, invoice)
	if err != nil {
		h.fail(w, "create", "Failed to create payment", err)
		return
	}
	h.logger.Info("payment session created", "payment_id", sess.PaymentID, "invoice", invoice, "amount", amount)
	httpx.WriteJSON(w, http.StatusOK, createPaymentResponse{
		PaymentID:         sess.PaymentID,
		CheckoutURL:       sess.CheckoutURL,
		BkashURL:          sess.CheckoutURL,
		TransactionStatus: string(sess.Status),
	})
}

func (h *Handler) ExecutePayment(w http.ResponseWriter, r *http.Request) {
	h.paymentCall(w, r, "execute", "Failed to execute payment", h.gw.Execute)
}

func (h *Handler) QueryPayment(w http.ResponseWriter, r *http.Request) {
	h.paymentCall(w, r, "query", "Failed to query payment", h.gw.Query)
}

type paymentFunc func(ctx context.Context, tok gateway.Token, paymentID string) (gateway.Execution, error)

// paymentCall relays the gateway's own payload so callers see the provider
// fields (transactionStatus, trxID, ...) unchanged.
func (h *Handler) paymentCall(w http.ResponseWriter, r *http.Request, op, failMsg string, call paymentFunc) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req paymentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, op, failMsg, apperr.Wrap(apperr.InvalidArgument, "invalid json", err))
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		h.fail(w, op, failMsg, apperr.New(apperr.InvalidArgument, "paymentID is required"))
		return
	}

	ctx := r.Context()
	tok, err := h.gw.AcquireToken(ctx)
	if err != nil {
		h.fail(w, op, failMsg, err)
		return
	}
	exec, err := call(ctx, tok, req.PaymentID)
	if err != nil {
		h.fail(w, op, failMsg, err)
		return
	}
	h.logger.Info("payment "+op, "payment_id", exec.PaymentID, "status", exec.Status)
	if len(exec.Raw) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(exec.Raw)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"paymentID":         exec.PaymentID,
		"trxID":             exec.TransactionID,
		"transactionStatus": string(exec.Status),
	})
}

type sendEmailRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
}

func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	if !httpx.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req sendEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		http.Error(w, "Failed to send email", http.StatusInternalServerError)
		return
	}
	msg := email.Confirmation(req.Email, req.Username)
	if req.Subject != "" {
		msg.Subject = req.Subject
	}
	if req.Message != "" {
		msg.Body = req.Message
	}
	if err := h.mail.Send(r.Context(), msg); err != nil {
		h.logger.Error("email sending failed", "to", req.Email, "err", err)
		http.Error(w, "Failed to send email", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Email sent successfully"))
}

// fail keeps the flat {message} failure shape and logs the taxonomy code.
func (h *Handler) fail(w http.ResponseWriter, op, msg string, err error) {
	code := apperr.CodeOf(err)
	h.logger.Error("gateway "+op+" failed", "code", code, "err", err)
	httpx.WriteJSON(w, http.StatusInternalServerError, messageBody{Message: msg, Code: string(code)})
}
