/*
handlers.go - HTTP handlers for the wallet API

PURPOSE:
  Exposes the wallet engine over REST. Handlers parse and validate the
  transport shape, delegate to wallet.Service, and map the engine's error
  taxonomy onto status codes.

ENDPOINTS:
  POST /api/wallet/topup                     Move treasury credits to a user
  POST /api/wallet/bonus                     Move bonus-pool credits to a user
  POST /api/wallet/purchase                  Move user credits to revenue
  GET  /api/wallet/{userID}/balance          All balances, or one via ?asset=
  GET  /api/wallet/{userID}/transactions     Paged history (?limit=&offset=)
  POST /api/wallet/accounts                  Provision a user wallet (demo)
  GET  /healthz

ERROR MAPPING:
  ValidationError     -> 400
  NotFound            -> 404
  Conflict            -> 409
  InsufficientFunds   -> 422
  anything else       -> 500 with an opaque correlation id

IDEMPOTENCY:
  The key is taken from the request body, falling back to the
  Idempotency-Key header. Missing keys are a validation error - retries
  without a key cannot be made safe.

SEE ALSO:
  - server.go: Router and middleware
  - wallet/service.go: The operations behind these handlers
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/wallet-engine/ledger"
	"github.com/warp/wallet-engine/wallet"
)

// AccountProvisioner creates user wallets on demand. Implemented by the
// postgres and memory stores; optional for deployments that provision
// wallets out-of-band.
type AccountProvisioner interface {
	EnsureUserAccount(ctx context.Context, userID, name string) (ledger.Account, error)
}

// Handler holds the handler dependencies.
type Handler struct {
	Service     *wallet.Service
	Provisioner AccountProvisioner
	Log         *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(service *wallet.Service, provisioner AccountProvisioner, log *zap.Logger) *Handler {
	return &Handler{Service: service, Provisioner: provisioner, Log: log}
}

// =============================================================================
// WRITE ENDPOINTS
// =============================================================================

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Service.TopUp)
}

func (h *Handler) Bonus(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Service.IssueBonus)
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, h.Service.Purchase)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request,
	op func(context.Context, wallet.MovementRequest) (*wallet.MovementResult, error)) {

	var dto MovementRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.writeError(w, &ledger.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if dto.IdempotencyKey == "" {
		dto.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := op(r.Context(), wallet.MovementRequest{
		UserID:         dto.UserID,
		AssetCode:      dto.AssetCode,
		Amount:         dto.Amount,
		IdempotencyKey: dto.IdempotencyKey,
		Metadata:       dto.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if asset := r.URL.Query().Get("asset"); asset != "" {
		view, err := h.Service.GetBalance(r.Context(), userID, asset)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, BalanceDTO{
			AssetCode: view.AssetCode,
			AssetName: view.AssetName,
			Balance:   view.Balance,
		})
		return
	}

	views, err := h.Service.GetAllBalances(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]BalanceDTO, 0, len(views))
	for _, v := range views {
		dtos = append(dtos, BalanceDTO{AssetCode: v.AssetCode, AssetName: v.AssetName, Balance: v.Balance})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, &ledger.ValidationError{Field: "limit", Reason: "must be an integer"})
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, &ledger.ValidationError{Field: "offset", Reason: "must be an integer"})
		return
	}

	entries, err := h.Service.GetHistory(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	dtos := make([]HistoryEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, historyDTO(e))
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{
		UserID:  userID,
		Limit:   limit,
		Offset:  offset,
		Entries: dtos,
	})
}

// =============================================================================
// PROVISIONING & HEALTH
// =============================================================================

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if h.Provisioner == nil {
		h.writeJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error: "account provisioning is not enabled", Kind: "not_implemented",
		})
		return
	}
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, &ledger.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	if req.UserID == "" {
		h.writeError(w, &ledger.ValidationError{Field: "userId", Reason: "must not be empty"})
		return
	}
	account, err := h.Provisioner.EnsureUserAccount(r.Context(), req.UserID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, AccountDTO{
		ID:     account.ID.String(),
		UserID: account.UserID,
		Name:   account.Name,
	})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Log.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "validation"})
	case errors.Is(err, ledger.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, ledger.ErrConflict):
		h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: "conflict"})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: "insufficient_funds"})
	default:
		correlationID := uuid.NewString()
		h.Log.Error("internal error", zap.String("correlation_id", correlationID), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:         "internal error",
			Kind:          "internal",
			CorrelationID: correlationID,
		})
	}
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
