package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockval/internal/shared"
)

type stubService struct {
	accountsFn func(ctx context.Context, productID, locationID int64) (Accounts, error)
	changeFn   func(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error)
	groupsFn   func(ctx context.Context, productIDs []int64) (map[int64][]int64, error)
}

func (s *stubService) GetProductAccounts(ctx context.Context, productID, locationID int64) (Accounts, error) {
	return s.accountsFn(ctx, productID, locationID)
}

func (s *stubService) ChangeStandardPrice(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error) {
	return s.changeFn(ctx, in)
}

func (s *stubService) ValuationAccountGroups(ctx context.Context, productIDs []int64) (map[int64][]int64, error) {
	return s.groupsFn(ctx, productIDs)
}

type stubEnqueuer struct {
	captured ChangePriceInput
	calls    int
	err      error
}

func (e *stubEnqueuer) EnqueueStandardPriceChange(ctx context.Context, in ChangePriceInput) (string, error) {
	e.captured = in
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return "task-1", nil
}

func newTestRouter(svc valuationService, cfg HandlerConfig) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	NewHandler(logger, svc, cfg).MountRoutes(r)
	return r
}

func doRequest(h http.Handler, method, target, body string, actorID int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actorID != 0 {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actorID))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGetProductAccountsEndpoint(t *testing.T) {
	svc := &stubService{accountsFn: func(ctx context.Context, productID, locationID int64) (Accounts, error) {
		if productID != 10 || locationID != 2 {
			return Accounts{}, fmt.Errorf("unexpected ids %d/%d", productID, locationID)
		}
		return Accounts{InputAccountID: 1, OutputAccountID: 2, ValuationAccountID: 3, JournalID: 4}, nil
	}}
	rr := doRequest(newTestRouter(svc, HandlerConfig{}), http.MethodGet, "/products/10/accounts?location_id=2", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"stock_input_account_id":1,"stock_output_account_id":2,"stock_valuation_account_id":3,"stock_journal_id":4}`, rr.Body.String())

	rr = doRequest(newTestRouter(svc, HandlerConfig{}), http.MethodGet, "/products/abc/accounts", "", 0)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestGetProductAccountsMissingConfiguration(t *testing.T) {
	svc := &stubService{accountsFn: func(ctx context.Context, productID, locationID int64) (Accounts, error) {
		p := widget()
		p.Category.JournalID = 0
		return ResolveAccounts(p, nil)
	}}
	rr := doRequest(newTestRouter(svc, HandlerConfig{}), http.MethodGet, "/products/10/accounts", "", 0)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var body struct {
		Title     string   `json:"title"`
		ProductID int64    `json:"product_id"`
		Missing   []string `json:"missing"`
		Resolved  Accounts `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "Missing Accounting Configuration", body.Title)
	require.Equal(t, int64(10), body.ProductID)
	require.Equal(t, []string{FieldJournal}, body.Missing)
	require.Equal(t, int64(1100), body.Resolved.ValuationAccountID)
}

func TestChangeStandardPriceEndpointStatuses(t *testing.T) {
	ok := ProductOutcome{ProductID: 10, NewPrice: decimal.NewFromInt(90), Entries: []PostedEntry{}}
	bad := ProductOutcome{ProductID: 11, Error: "missing expense", Entries: []PostedEntry{}}
	cases := []struct {
		name     string
		products []ProductOutcome
		want     int
	}{
		{"all succeeded", []ProductOutcome{ok}, http.StatusOK},
		{"partial", []ProductOutcome{ok, bad}, http.StatusMultiStatus},
		{"all failed", []ProductOutcome{bad}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured ChangePriceInput
			svc := &stubService{changeFn: func(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error) {
				captured = in
				return ChangePriceResult{RequestID: "r", Products: tc.products}, nil
			}}
			rr := doRequest(newTestRouter(svc, HandlerConfig{}), http.MethodPost, "/standard-price",
				`{"product_ids":[10,11],"new_price":"90.5","date":"2026-02-01","reference":"Q1"}`, 7)
			require.Equal(t, tc.want, rr.Code)
			require.Equal(t, int64(7), captured.ActorID)
			require.Equal(t, "90.5", captured.NewPrice.String())
			require.Equal(t, "2026-02-01", captured.Options.Date.Format("2006-01-02"))
			require.Equal(t, "Q1", captured.Options.Reference)
		})
	}
}

func TestChangeStandardPriceEndpointRejectsBadRequests(t *testing.T) {
	svc := &stubService{changeFn: func(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error) {
		return ChangePriceResult{}, fmt.Errorf("%w: newprice failed nonnegative_decimal", ErrInvalidInput)
	}}
	h := newTestRouter(svc, HandlerConfig{})

	rr := doRequest(h, http.MethodPost, "/standard-price", `{"product_ids":[10],"new_price":"1"}`, 0)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(h, http.MethodPost, "/standard-price", `{"product_ids":[10],"unknown":true}`, 7)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(h, http.MethodPost, "/standard-price", `{"product_ids":[10],"new_price":"1","date":"01/02/2026"}`, 7)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(h, http.MethodPost, "/standard-price", `{"product_ids":[10],"new_price":"-1"}`, 7)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChangeStandardPriceEndpointRequiresNewPrice(t *testing.T) {
	repo := newMemoryRepo()
	repo.products[10] = widget()
	repo.locations = []Location{warehouse(1)}
	repo.setQty(100, 1, "5")
	svc, _ := newTestService(repo, ServiceConfig{})
	enq := &stubEnqueuer{}
	h := newTestRouter(svc, HandlerConfig{Enqueuer: enq})

	for _, body := range []string{`{"product_ids":[10]}`, `{"product_ids":[10],"new_price":null}`, `{"product_ids":[10],"async":true}`} {
		rr := doRequest(h, http.MethodPost, "/standard-price", body, 7)
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
		require.Contains(t, rr.Body.String(), "new_price is required")
	}
	require.Empty(t, enq.captured.ProductIDs)
	require.True(t, repo.products[10].StandardPrice.Equal(decimal.NewFromInt(100)))
	require.Empty(t, repo.lines)
	require.Empty(t, repo.updates)
}

func TestChangeStandardPriceEndpointConflict(t *testing.T) {
	svc := &stubService{changeFn: func(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error) {
		require.Equal(t, "k-1", in.IdempotencyKey)
		return ChangePriceResult{}, shared.ErrIdempotencyConflict
	}}
	req := httptest.NewRequest(http.MethodPost, "/standard-price", strings.NewReader(`{"product_ids":[10],"new_price":"1"}`))
	req.Header.Set("Idempotency-Key", "k-1")
	req = req.WithContext(shared.ContextWithActor(req.Context(), 7))
	rr := httptest.NewRecorder()
	newTestRouter(svc, HandlerConfig{}).ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestChangeStandardPriceEndpointEnqueuesLargeBatches(t *testing.T) {
	svc := &stubService{changeFn: func(ctx context.Context, in ChangePriceInput) (ChangePriceResult, error) {
		t.Fatal("large batch must not run inline")
		return ChangePriceResult{}, nil
	}}
	enq := &stubEnqueuer{}
	h := newTestRouter(svc, HandlerConfig{Enqueuer: enq, AsyncThreshold: 2})

	rr := doRequest(h, http.MethodPost, "/standard-price", `{"product_ids":[1,2,3],"new_price":"5"}`, 7)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []int64{1, 2, 3}, enq.captured.ProductIDs)
	require.NotEmpty(t, enq.captured.RequestID)

	var body enqueuedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "task-1", body.TaskID)
	require.Equal(t, enq.captured.RequestID, body.RequestID)

	rr = doRequest(h, http.MethodPost, "/standard-price", `{"product_ids":[1],"new_price":"-5","async":true}`, 7)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAccountGroupsEndpoint(t *testing.T) {
	svc := &stubService{groupsFn: func(ctx context.Context, productIDs []int64) (map[int64][]int64, error) {
		return map[int64][]int64{1100: productIDs}, nil
	}}
	rr := doRequest(newTestRouter(svc, HandlerConfig{}), http.MethodPost, "/account-groups", `{"product_ids":[1,2]}`, 0)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"1100":[1,2]}`, rr.Body.String())
}

func TestUnknownErrorsDoNotLeak(t *testing.T) {
	svc := &stubService{accountsFn: func(ctx context.Context, productID, locationID int64) (Accounts, error) {
		return Accounts{}, fmt.Errorf("dial tcp 10.0.0.1:5432: refused")
	}}
	rr := doRequest(newTestRouter(svc, HandlerConfig{}), http.MethodGet, "/products/10/accounts", "", 0)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "10.0.0.1")
}

func TestQueuedPriceChangeClaimsIdempotencyKey(t *testing.T) {
	idem := &memoryIdempotency{}
	enq := &stubEnqueuer{}
	repo := newMemoryRepo()
	repo.products[10] = widget()
	repo.locations = []Location{warehouse(1)}
	svc, _ := newTestService(repo, ServiceConfig{Idempotency: idem})
	h := newTestRouter(svc, HandlerConfig{Enqueuer: enq, Idempotency: idem})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/standard-price", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "k-async")
		req = req.WithContext(shared.ContextWithActor(req.Context(), 7))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusAccepted, post(`{"product_ids":[10],"new_price":"90","async":true}`).Code)
	require.Equal(t, "valuation", idem.keys["k-async"])

	// Replays on either path are rejected once the queued change holds the key.
	require.Equal(t, http.StatusConflict, post(`{"product_ids":[10],"new_price":"90","async":true}`).Code)
	require.Equal(t, http.StatusConflict, post(`{"product_ids":[10],"new_price":"90"}`).Code)
	require.Equal(t, 1, enq.calls)
	require.Empty(t, repo.updates)
}

func TestQueuedPriceChangeReleasesKeyWhenEnqueueFails(t *testing.T) {
	idem := &memoryIdempotency{}
	enq := &stubEnqueuer{err: errors.New("redis down")}
	h := newTestRouter(&stubService{}, HandlerConfig{Enqueuer: enq, Idempotency: idem})

	req := httptest.NewRequest(http.MethodPost, "/standard-price", strings.NewReader(`{"product_ids":[10],"new_price":"90","async":true}`))
	req.Header.Set("Idempotency-Key", "k-retry")
	req = req.WithContext(shared.ContextWithActor(req.Context(), 7))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, idem.keys, "k-retry")
}
