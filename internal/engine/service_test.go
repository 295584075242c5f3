package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/alloc"
	"github.com/OasisDEX/xDex-sub000/internal/engine"
	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
	"github.com/OasisDEX/xDex-sub000/internal/planner"
	"github.com/OasisDEX/xDex-sub000/internal/position"
	"github.com/OasisDEX/xDex-sub000/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with an in-memory store, a fixed
// annealing seed, and the production routes.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := engine.NewService(ms, nil, planner.DefaultConfig(), alloc.DefaultConfig(), 42)

	r := chi.NewRouter()
	r.Put("/api/v1/accounts/{owner}", svc.PutAccount)
	r.Put("/api/v1/orderbooks/{base}/{quote}", svc.PutOrderBook)
	r.Put("/api/v1/accounts/{owner}/assets/{asset}/events", svc.PutHistoryEvents)
	r.Get("/api/v1/accounts/{owner}/positions", svc.GetPositions)
	r.Get("/api/v1/accounts/{owner}/assets/{asset}/history", svc.GetAssetHistory)
	r.Post("/api/v1/accounts/{owner}/plans", svc.PostPlan)
	r.Post("/api/v1/allocations", svc.PostAllocation)

	return ms, r
}

// seedAccount stores a set-up two-asset account and its WETH/DAI book.
func seedAccount(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	account := &model.MarginAccount{
		Owner: "0xabc",
		Setup: true,
		Cash:  model.CashAsset{Balance: d(5000)},
		Collaterals: []model.CollateralAssetCore{
			{
				Name:           "WETH",
				Balance:        d(100),
				Debt:           d(2000),
				ReferencePrice: d(200),
				MinCollRatio:   d(1.5),
				SafeCollRatio:  d(2),
				Precision:      2,
				Volatility:     0.3,
			},
			{
				Name:           "DGX",
				Balance:        d(500),
				ReferencePrice: d(5),
				MinCollRatio:   d(1.5),
				SafeCollRatio:  d(2),
				Precision:      2,
				Volatility:     0.2,
			},
		},
	}
	if err := ms.SaveAccount(ctx, account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}

	book := orderbook.Book{
		Buy:  []orderbook.Offer{{BaseAmount: d(100), QuoteAmount: d(20000)}},
		Sell: []orderbook.Offer{{BaseAmount: d(1000), QuoteAmount: d(200000)}},
	}
	if err := ms.SaveOrderBook(ctx, "WETH/DAI", book); err != nil {
		t.Fatalf("failed to seed book: %v", err)
	}
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Snapshot ingestion ---

func TestPutAccount_StoresSnapshot(t *testing.T) {
	ms, router := newTestEnv(t)

	w := do(t, router, "PUT", "/api/v1/accounts/0xabc", map[string]any{
		"setup": true,
		"collaterals": []map[string]any{
			{"name": "WETH", "balance": "100", "debt": "2000", "reference_price": "200",
				"min_coll_ratio": "1.5", "safe_coll_ratio": "2", "precision": 2},
		},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	got, err := ms.GetAccount(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("snapshot not stored: %v", err)
	}
	if got.Owner != "0xabc" || !got.TotalDebt().Equal(d(2000)) {
		t.Errorf("bad stored snapshot: %+v", got)
	}
}

func TestPutAccount_BadBody(t *testing.T) {
	_, router := newTestEnv(t)
	req := httptest.NewRequest("PUT", "/api/v1/accounts/0xabc", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestPutOrderBook_StoresBook(t *testing.T) {
	ms, router := newTestEnv(t)

	w := do(t, router, "PUT", "/api/v1/orderbooks/WETH/DAI", orderbook.Book{
		Sell: []orderbook.Offer{{BaseAmount: d(10), QuoteAmount: d(2000)}},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := ms.GetOrderBook(context.Background(), "WETH/DAI"); err != nil {
		t.Errorf("book not stored: %v", err)
	}
}

func TestPutOrderBook_RejectsZeroAmountLevel(t *testing.T) {
	ms, router := newTestEnv(t)

	// A level without a base amount has no unit price; storing it would
	// blow up later price computations.
	w := do(t, router, "PUT", "/api/v1/orderbooks/WETH/DAI", orderbook.Book{
		Sell: []orderbook.Offer{{BaseAmount: d(0), QuoteAmount: d(2000)}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := ms.GetOrderBook(context.Background(), "WETH/DAI"); err == nil {
		t.Error("malformed book must not be stored")
	}
}

// --- Derived queries ---

func TestGetPositions(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	w := do(t, router, "GET", "/api/v1/accounts/0xabc/positions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var summary position.AccountSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if summary.Owner != "0xabc" || len(summary.Assets) != 2 {
		t.Errorf("bad summary: %+v", summary)
	}
	if !summary.TotalDebt.Equal(d(2000)) {
		t.Errorf("expected total debt 2000, got %s", summary.TotalDebt)
	}
	for _, a := range summary.Assets {
		if a.Name == "WETH" && !a.MaxDebt.Equal(d(10000)) {
			t.Errorf("WETH max debt should be 10000, got %s", a.MaxDebt)
		}
	}
}

func TestGetPositions_UnknownOwner(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "GET", "/api/v1/accounts/0xmissing/positions", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := do(t, router, "PUT", "/api/v1/accounts/0xabc/assets/WETH/events", []model.RawHistoryEvent{
		{Kind: model.EventFund, Timestamp: ts, Amount: d(100)},
		{Kind: model.EventBorrow, Timestamp: ts.Add(time.Minute), DAIAmount: d(2000)},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "GET", "/api/v1/accounts/0xabc/assets/WETH/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var entries []struct {
		Balance decimal.Decimal `json:"balance"`
		Debt    decimal.Decimal `json:"debt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[1].Balance.Equal(d(100)) || !entries[1].Debt.Equal(d(2000)) {
		t.Errorf("bad final position: %+v", entries[1])
	}
}

func TestGetAssetHistory_EmptyIsArray(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	w := do(t, router, "GET", "/api/v1/accounts/0xabc/assets/DGX/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != "[]" {
		t.Errorf("empty history should be [], got %s", got)
	}
}

// --- Planning ---

type planResponse struct {
	ID         string           `json:"id"`
	Action     string           `json:"action"`
	Operations []map[string]any `json:"operations"`
	GasCall    planner.GasCall  `json:"gas_call"`
}

func TestPostPlan_Fund(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	w := do(t, router, "POST", "/api/v1/accounts/0xabc/plans", engine.PlanRequest{
		Action: "fund",
		Name:   "WETH",
		Amount: d(10),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp planResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.ID == "" || resp.Action != "fund" {
		t.Errorf("bad plan envelope: %+v", resp)
	}
	if len(resp.Operations) != 1 || resp.Operations[0]["kind"] != "fundCollateral" {
		t.Errorf("expected one fundCollateral, got %+v", resp.Operations)
	}
	if resp.GasCall.Method != "executeOperations" || resp.GasCall.PlanID != resp.ID {
		t.Errorf("bad gas call: %+v", resp.GasCall)
	}
}

func TestPostPlan_BuyWithExplicitDeltas(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	w := do(t, router, "POST", "/api/v1/accounts/0xabc/plans", engine.PlanRequest{
		Action: "buy",
		Name:   "WETH",
		Amount: d(10),
		Total:  d(2000),
		Deltas: []model.DebtDelta{
			{Name: "WETH", Delta: d(900)},
			{Name: "DGX", Delta: d(100)},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp planResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	want := []string{"adjustDebt", "adjustDebt", "buyRecursive"}
	if len(resp.Operations) != len(want) {
		t.Fatalf("expected %d operations, got %+v", len(want), resp.Operations)
	}
	for i, k := range want {
		if resp.Operations[i]["kind"] != k {
			t.Errorf("operation %d should be %s, got %v", i, k, resp.Operations[i]["kind"])
		}
	}
}

func TestPostPlan_BuyDecidesDeltasWhenOmitted(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	w := do(t, router, "POST", "/api/v1/accounts/0xabc/plans", engine.PlanRequest{
		Action: "buy",
		Name:   "WETH",
		Amount: d(10),
		Total:  d(2500),
	})
	if w.Code != http.StatusCreated && w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 201 or a typed rejection, got %d: %s", w.Code, w.Body.String())
	}
	if w.Code == http.StatusCreated {
		var resp planResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		found := false
		for _, op := range resp.Operations {
			if op["kind"] == "buyRecursive" {
				found = true
			}
		}
		if !found {
			t.Errorf("plan should contain the buy itself: %+v", resp.Operations)
		}
	}
}

func TestPostPlan_InfeasibleIs422(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	// The book's achievable cost for 10 WETH is 2000; a 1500 cap is a
	// stale quote.
	w := do(t, router, "POST", "/api/v1/accounts/0xabc/plans", engine.PlanRequest{
		Action: "buy",
		Name:   "WETH",
		Amount: d(10),
		Total:  d(1500),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["error"] != "price too high" {
		t.Errorf("expected the verbatim reason, got %q", resp["error"])
	}
}

func TestPostPlan_UnknownOwner(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/accounts/0xmissing/plans", engine.PlanRequest{
		Action: "fund", Name: "WETH", Amount: d(10),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPostPlan_UnknownAction(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	w := do(t, router, "POST", "/api/v1/accounts/0xabc/plans", engine.PlanRequest{
		Action: "teleport",
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for an unknown action, got %d", w.Code)
	}
}

// --- Allocation ---

func TestPostAllocation(t *testing.T) {
	ms, router := newTestEnv(t)
	seedAccount(t, ms)

	w := do(t, router, "POST", "/api/v1/allocations", engine.AllocationRequestBody{
		Owner:      "0xabc",
		TargetDebt: d(2000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Allocation alloc.Allocation `json:"allocation"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	sum := decimal.Zero
	for _, ad := range resp.Allocation.Debts {
		sum = sum.Add(ad.Debt)
	}
	if !sum.Equal(d(2000)) {
		t.Errorf("allocated debts must sum to the target, got %s", sum)
	}
}

func TestPostAllocation_UnknownOwner(t *testing.T) {
	_, router := newTestEnv(t)
	w := do(t, router, "POST", "/api/v1/allocations", engine.AllocationRequestBody{
		Owner: "0xmissing", TargetDebt: d(2000),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
