package valuation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockval/internal/platform/httpx"
	"github.com/odyssey-erp/stockval/internal/shared"
)

type valuationService interface {
	GetProductAccounts(ctx context.Context, productID, locationID int64) (Accounts, error)
	ChangeStandardPrice(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error)
	ValuationAccountGroups(ctx context.Context, productIDs []int64) (map[int64][]int64, error)
}

// PriceChangeEnqueuer hands a price change to the background worker.
type PriceChangeEnqueuer interface {
	EnqueueStandardPriceChange(ctx context.Context, in ChangePriceInput) (string, error)
}

// HandlerConfig groups optional handler settings.
type HandlerConfig struct {
	Enqueuer PriceChangeEnqueuer
	// Idempotency claims Idempotency-Key before a change is queued, sharing
	// the key space of the inline path.
	Idempotency IdempotencyPort
	// AsyncThreshold sends batches larger than this to the worker; zero disables.
	AsyncThreshold int
}

// Handler exposes valuation operations as JSON endpoints.
type Handler struct {
	logger      *slog.Logger
	service     valuationService
	enqueuer    PriceChangeEnqueuer
	idempotency IdempotencyPort
	asyncMin    int
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service valuationService, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		enqueuer:    cfg.Enqueuer,
		idempotency: cfg.Idempotency,
		asyncMin:    cfg.AsyncThreshold,
	}
}

// MountRoutes attaches valuation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{id}/accounts", h.getProductAccounts)
	r.Post("/standard-price", h.changeStandardPrice)
	r.Post("/account-groups", h.accountGroups)
}

type missingConfigProblem struct {
	httpx.ProblemDetail
	ProductID int64    `json:"product_id"`
	Missing   []string `json:"missing"`
	Resolved  Accounts `json:"resolved"`
}

func (h *Handler) getProductAccounts(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Product", "product id must be a positive integer")
		return
	}
	var locationID int64
	if raw := r.URL.Query().Get("location_id"); raw != "" {
		locationID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || locationID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Location", "location_id must be a positive integer")
			return
		}
	}
	accounts, err := h.service.GetProductAccounts(r.Context(), productID, locationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

type changePriceRequest struct {
	ProductIDs    []int64          `json:"product_ids"`
	NewPrice      *decimal.Decimal `json:"new_price"`
	Date          string           `json:"date,omitempty"`
	PeriodID      *int64           `json:"period_id,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	ForceQuantity bool             `json:"force_quantity,omitempty"`
	Async         bool             `json:"async,omitempty"`
}

type enqueuedResponse struct {
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id"`
}

func (h *Handler) changeStandardPrice(w http.ResponseWriter, r *http.Request) {
	actorID := shared.ActorFromContext(r.Context())
	if actorID == 0 {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req changePriceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if req.NewPrice == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "new_price is required")
		return
	}
	in := ChangePriceInput{
		ProductIDs:     req.ProductIDs,
		NewPrice:       *req.NewPrice,
		ActorID:        actorID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Options: PostingOptions{
			PeriodID:      req.PeriodID,
			Reference:     req.Reference,
			ForceQuantity: req.ForceQuantity,
		},
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be formatted as YYYY-MM-DD")
			return
		}
		in.Options.Date = &date
	}

	if h.enqueuer != nil && (req.Async || (h.asyncMin > 0 && len(req.ProductIDs) > h.asyncMin)) {
		if err := validateStruct(in); err != nil {
			h.writeError(w, r, err)
			return
		}
		in.RequestID = requestID(r)
		h.enqueue(w, r, in)
		return
	}

	result, err := h.service.ChangeStandardPrice(r.Context(), in)
	if err != nil && len(result.Products) == 0 {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	switch failed := result.Failed(); {
	case failed == len(result.Products) && failed > 0:
		status = http.StatusUnprocessableEntity
	case failed > 0:
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, in ChangePriceInput) {
	claimed := false
	if h.idempotency != nil && in.IdempotencyKey != "" {
		if err := h.idempotency.CheckAndInsert(r.Context(), in.IdempotencyKey, idempotencyModule); err != nil {
			h.writeError(w, r, err)
			return
		}
		claimed = true
	}
	taskID, err := h.enqueuer.EnqueueStandardPriceChange(r.Context(), in)
	if err != nil {
		if claimed && !errors.Is(err, shared.ErrIdempotencyConflict) {
			if delErr := h.idempotency.Delete(r.Context(), in.IdempotencyKey); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", in.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, enqueuedResponse{TaskID: taskID, RequestID: in.RequestID})
}

type accountGroupsRequest struct {
	ProductIDs []int64 `json:"product_ids"`
}

func (h *Handler) accountGroups(w http.ResponseWriter, r *http.Request) {
	var req accountGroupsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	groups, err := h.service.ValuationAccountGroups(r.Context(), req.ProductIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, groups)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *MissingAccountingConfigurationError
	switch {
	case errors.As(err, &missing):
		httpx.JSON(w, http.StatusUnprocessableEntity, missingConfigProblem{
			ProblemDetail: httpx.ProblemDetail{
				Title:  "Missing Accounting Configuration",
				Status: http.StatusUnprocessableEntity,
				Detail: missing.Error(),
			},
			ProductID: missing.ProductID,
			Missing:   missing.Missing,
			Resolved:  missing.Resolved,
		})
	case errors.Is(err, ErrMissingExpenseAccount):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Missing Expense Account", err.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLocationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrActorRequired):
		httpx.RespondError(w, httpx.ErrUnauthorized)
	case errors.Is(err, ErrCompanyNotFound):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("valuation request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
