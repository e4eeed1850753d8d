package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/offline"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
	walletRecent   = 10
	maxRequestBody = 64 << 10
)

type Handler struct {
	ledger    store.Ledger
	transfers *service.TransferService
	queue     *offline.Queue
}

func NewHandler(ledger store.Ledger, transfers *service.TransferService, queue *offline.Queue) *Handler {
	return &Handler{ledger: ledger, transfers: transfers, queue: queue}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports whether the ledger store is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "ledger store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createAccountRequest struct {
	Owner string `json:"owner"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Owner == "" {
		respondError(w, http.StatusUnprocessableEntity, "owner is required")
		return
	}
	acc, err := h.ledger.CreateAccount(r.Context(), req.Owner, decimal.Zero)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+acc.ID.String())
	respondJSON(w, http.StatusCreated, acc)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	if id != caller {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	acc, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, acc)
}

type walletEntry struct {
	domain.Transaction
	Direction string `json:"direction"`
}

// transactionList is a TransactionPage with each row tagged sent or received.
type transactionList struct {
	Transactions []walletEntry `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	TotalPages   int           `json:"total_pages"`
}

type walletResponse struct {
	Account      *domain.Account `json:"account"`
	Transactions []walletEntry   `json:"recent_transactions"`
}

// Wallet returns the caller's balance with their most recent activity.
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	acc, err := h.ledger.GetAccount(r.Context(), caller)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	page, err := h.ledger.ListTransactions(r.Context(), domain.ListQuery{AccountID: caller, Page: 1, PerPage: walletRecent})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	entries := make([]walletEntry, 0, len(page.Transactions))
	for _, tx := range page.Transactions {
		entries = append(entries, walletEntry{Transaction: tx, Direction: tx.Direction(caller)})
	}
	respondJSON(w, http.StatusOK, walletResponse{Account: acc, Transactions: entries})
}

type transferRequest struct {
	ReceiverID  uuid.UUID       `json:"receiver_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.transfers.Execute(r.Context(), service.Intent{
		SenderID:    callerID(r),
		ReceiverID:  req.ReceiverID,
		Amount:      req.Amount,
		Kind:        domain.KindTransfer,
		Description: req.Description,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/transactions/"+res.Transaction.ID.String())
	respondJSON(w, http.StatusCreated, res)
}

type referenceRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// CreatePaymentReference issues a payment code that pays the caller.
func (h *Handler) CreatePaymentReference(w http.ResponseWriter, r *http.Request) {
	var req referenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ref, err := h.transfers.IssueReference(r.Context(), callerID(r), req.Amount, req.Description)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"payment_reference": ref})
}

type qrPaymentRequest struct {
	Reference   string `json:"payment_reference"`
	Description string `json:"description"`
}

func (h *Handler) PayQR(w http.ResponseWriter, r *http.Request) {
	var req qrPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.transfers.Pay(r.Context(), callerID(r), req.Reference, req.Description)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/transactions/"+res.Transaction.ID.String())
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	q.AccountID = callerID(r)
	page, err := h.ledger.ListTransactions(r.Context(), q)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	entries := make([]walletEntry, 0, len(page.Transactions))
	for _, tx := range page.Transactions {
		entries = append(entries, walletEntry{Transaction: tx, Direction: tx.Direction(q.AccountID)})
	}
	respondJSON(w, http.StatusOK, transactionList{
		Transactions: entries,
		Total:        page.Total,
		Page:         page.Page,
		PerPage:      page.PerPage,
		TotalPages:   page.TotalPages,
	})
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	tx, err := h.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	// Other parties' records are indistinguishable from missing ones.
	if tx.SenderID != caller && tx.ReceiverID != caller {
		respondDomainError(w, domain.ErrTransferNotFound)
		return
	}
	respondJSON(w, http.StatusOK, walletEntry{Transaction: *tx, Direction: tx.Direction(caller)})
}

type offlineIntentRequest struct {
	ReceiverID  uuid.UUID       `json:"receiver_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"payment_reference"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (h *Handler) CreateOfflineIntent(w http.ResponseWriter, r *http.Request) {
	var req offlineIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	intent, err := h.queue.Enqueue(r.Context(), offline.EnqueueRequest{
		SenderID:    callerID(r),
		ReceiverID:  req.ReceiverID,
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, intent)
}

func (h *Handler) ListOfflineIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.queue.List(r.Context(), callerID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"intents": intents})
}

func (h *Handler) SyncOfflineIntents(w http.ResponseWriter, r *http.Request) {
	res, err := h.queue.Drain(r.Context(), callerID(r))
	if err != nil && res == nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func parseListQuery(r *http.Request) (domain.ListQuery, error) {
	v := r.URL.Query()
	q := domain.ListQuery{Page: 1, PerPage: defaultPerPage}

	var err error
	if s := v.Get("page"); s != "" {
		if q.Page, err = strconv.Atoi(s); err != nil || q.Page < 1 {
			return q, &domain.ValidationError{Field: "page", Err: errors.New("must be a positive integer")}
		}
	}
	if s := v.Get("per_page"); s != "" {
		if q.PerPage, err = strconv.Atoi(s); err != nil || q.PerPage < 1 {
			return q, &domain.ValidationError{Field: "per_page", Err: errors.New("must be a positive integer")}
		}
		if q.PerPage > maxPerPage {
			q.PerPage = maxPerPage
		}
	}
	if q.Page-1 > math.MaxInt/q.PerPage {
		return q, &domain.ValidationError{Field: "page", Err: errors.New("out of range")}
	}
	if s := v.Get("status"); s != "" {
		q.Status = domain.TransactionStatus(s)
		if !q.Status.Valid() {
			return q, &domain.ValidationError{Field: "status", Err: errors.New("unknown status")}
		}
	}
	if s := v.Get("kind"); s != "" {
		q.Kind = domain.TransactionKind(s)
		if !q.Kind.Valid() {
			return q, &domain.ValidationError{Field: "kind", Err: errors.New("unknown kind")}
		}
	}
	return q, nil
}

func callerID(r *http.Request) uuid.UUID {
	id, _ := auth.AccountID(r.Context())
	return id
}

// decodeBody reads a JSON request body, answering 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

// Helpers
func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}

// respondDomainError maps engine and store errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var fraudErr *domain.FraudRejectedError
	switch {
	case errors.As(err, &fraudErr):
		respondJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":      domain.ErrFlaggedFraudulent.Error(),
			"reason":     fraudErr.Reason,
			"confidence": fraudErr.Confidence,
		})
	case domain.IsValidation(err):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrReceiverNotFound):
		respondError(w, http.StatusNotFound, "receiver not found")
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransferNotFound),
		errors.Is(err, domain.ErrIntentNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInsufficientFunds):
		respondError(w, http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, domain.ErrDuplicateOwner):
		respondError(w, http.StatusConflict, "owner already has an account")
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, "concurrent update, retry the request")
	case errors.Is(err, domain.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
