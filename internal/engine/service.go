// Package engine provides the HTTP handlers gluing the pure calculation
// components to the outside world: external collaborators push account,
// order-book, and history snapshots in; the dashboard reads derived
// positions and requests operation plans out. Every computation runs
// against the latest stored snapshot, discarding prior results.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/alloc"
	"github.com/OasisDEX/xDex-sub000/internal/feasible"
	"github.com/OasisDEX/xDex-sub000/internal/history"
	"github.com/OasisDEX/xDex-sub000/internal/metrics"
	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
	"github.com/OasisDEX/xDex-sub000/internal/planner"
	"github.com/OasisDEX/xDex-sub000/internal/position"
	"github.com/OasisDEX/xDex-sub000/internal/store"
)

// Service exposes the margin engine over HTTP.
type Service struct {
	store     store.Store
	hub       *WSHub // optional; nil disables broadcasting
	cfg       planner.Config
	annealCfg alloc.Config
	seed      int64 // fixed RNG seed; 0 seeds from the clock per run
}

// NewService creates a new engine service. Pass nil for hub if WebSocket
// broadcasting is not needed; seed 0 uses clock-based annealing seeds.
func NewService(st store.Store, hub *WSHub, cfg planner.Config, annealCfg alloc.Config, seed int64) *Service {
	return &Service{
		store:     st,
		hub:       hub,
		cfg:       cfg,
		annealCfg: annealCfg,
		seed:      seed,
	}
}

func (s *Service) rng() *rand.Rand {
	seed := s.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// bookPair names the order-book pair for a collateral asset.
func bookPair(asset string) string { return asset + "/" + model.CashName }

// books loads the order book for every collateral asset of the account;
// assets without a stored book get an empty one.
func (s *Service) books(r *http.Request, account *model.MarginAccount) map[string]orderbook.Book {
	books := make(map[string]orderbook.Book, len(account.Collaterals))
	for _, c := range account.Collaterals {
		book, err := s.store.GetOrderBook(r.Context(), bookPair(c.Name))
		if err != nil {
			continue
		}
		books[c.Name] = book
	}
	return books
}

// --- Snapshot ingestion ---

// PutAccount handles PUT /api/v1/accounts/{owner}.
// The chain-state collaborator pushes a fresh decoded snapshot; derived
// positions are recomputed and broadcast.
func (s *Service) PutAccount(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var account model.MarginAccount
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	account.Owner = owner

	if err := s.store.SaveAccount(r.Context(), &account); err != nil {
		writeError(w, "failed to store account snapshot", http.StatusInternalServerError)
		return
	}

	slog.Info("account snapshot stored",
		"owner", owner,
		"collaterals", len(account.Collaterals),
		"total_debt", account.TotalDebt().String(),
	)

	s.broadcastPositions(r, &account)
	w.WriteHeader(http.StatusNoContent)
}

// PutOrderBook handles PUT /api/v1/orderbooks/{base}/{quote}.
func (s *Service) PutOrderBook(w http.ResponseWriter, r *http.Request) {
	pair := chi.URLParam(r, "base") + "/" + chi.URLParam(r, "quote")

	var book orderbook.Book
	if err := json.NewDecoder(r.Body).Decode(&book); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := book.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.SaveOrderBook(r.Context(), pair, book); err != nil {
		writeError(w, "failed to store order book", http.StatusInternalServerError)
		return
	}

	slog.Info("order book stored", "pair", pair,
		"buy_levels", len(book.Buy), "sell_levels", len(book.Sell))
	w.WriteHeader(http.StatusNoContent)
}

// PutHistoryEvents handles PUT /api/v1/accounts/{owner}/assets/{asset}/events.
func (s *Service) PutHistoryEvents(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asset := chi.URLParam(r, "asset")

	var events []model.RawHistoryEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.AppendHistoryEvents(r.Context(), owner, asset, events); err != nil {
		writeError(w, "failed to store history events", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Derived queries ---

// GetPositions handles GET /api/v1/accounts/{owner}/positions.
// Derived values are always recomputed from the stored core snapshot.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	account, err := s.store.GetAccount(r.Context(), owner)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	summary := position.Summarize(account, s.books(r, account), s.cfg.Position)
	metrics.PositionRecomputes.Inc()

	writeJSON(w, http.StatusOK, summary)
}

// GetAssetHistory handles GET /api/v1/accounts/{owner}/assets/{asset}/history.
func (s *Service) GetAssetHistory(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asset := chi.URLParam(r, "asset")

	events, err := s.store.GetHistoryEvents(r.Context(), owner, asset)
	if err != nil {
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	entries := history.Replay(events)
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Allocation ---

// AllocationRequestBody is the JSON body for POST /api/v1/allocations.
type AllocationRequestBody struct {
	Owner      string          `json:"owner"`
	TargetDebt decimal.Decimal `json:"target_debt"`
}

// PostAllocation handles POST /api/v1/allocations: run the risk-parity
// optimizer against the owner's stored collateral set.
func (s *Service) PostAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.store.GetAccount(r.Context(), req.Owner)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	prep, err := planner.PrepareReallocate(account)
	if err != nil {
		writeInfeasible(w, "allocate", err)
		return
	}
	prep.TargetDebt = req.TargetDebt

	allocation, err := s.solve(prep)
	if err != nil && !feasible.Is(err) {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{"allocation": allocation}
	if feasible.Is(err) {
		// Non-convergence still reports the best-found split.
		resp["warning"] = feasible.Reason(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// solve runs the annealing optimizer with metrics instrumentation.
func (s *Service) solve(req *planner.AllocationRequest) (alloc.Allocation, error) {
	start := time.Now()
	allocation, err := alloc.Solve(req.Assets, req.TargetDebt, s.rng(), s.annealCfg)
	metrics.AllocationDuration.Observe(time.Since(start).Seconds())
	metrics.AllocationLoss.Observe(allocation.Loss)
	return allocation, err
}

// --- Planning ---

// PlanRequest is the JSON body for POST /api/v1/accounts/{owner}/plans.
// Deltas may be omitted for buy/sell/reallocate, in which case the
// optimizer fills them in.
type PlanRequest struct {
	Action string            `json:"action"` // buy, sell, fund, draw, drawCash, reallocate
	Name   string            `json:"name"`
	Ilk    string            `json:"ilk,omitempty"`
	Amount decimal.Decimal   `json:"amount"`
	Total  decimal.Decimal   `json:"total"` // cost cap (buy) / proceeds floor (sell)
	Deltas []model.DebtDelta `json:"deltas,omitempty"`
}

// PostPlan handles POST /api/v1/accounts/{owner}/plans.
func (s *Service) PostPlan(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.store.GetAccount(r.Context(), owner)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	plan, err := s.buildPlan(r, account, req)
	if err != nil {
		if feasible.Is(err) {
			writeInfeasible(w, req.Action, err)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.PlansTotal.WithLabelValues(req.Action).Inc()
	slog.Info("plan created",
		"plan_id", plan.ID,
		"owner", owner,
		"action", req.Action,
		"operations", len(plan.Operations),
	)

	ops := make([]map[string]any, len(plan.Operations))
	for i, op := range plan.Operations {
		ops[i] = planner.Encode(op)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         plan.ID,
		"action":     plan.Action,
		"created_at": plan.CreatedAt,
		"operations": ops,
		"gas_call":   plan.GasCall(),
	})
}

func (s *Service) buildPlan(r *http.Request, account *model.MarginAccount, req PlanRequest) (*planner.Plan, error) {
	switch req.Action {
	case "fund":
		return planner.PlanFund(account, req.Name, req.Amount)

	case "draw":
		return planner.PlanDrawCollateral(account, req.Name, req.Amount)

	case "drawCash":
		return planner.PlanDrawCash(account, req.Ilk, req.Amount)

	case "buy":
		book, err := s.store.GetOrderBook(r.Context(), bookPair(req.Name))
		if err != nil {
			return nil, feasible.New(feasible.ReasonOrderbookTooShallow)
		}
		deltas := req.Deltas
		if deltas == nil {
			prep, err := planner.PrepareBuy(account, req.Name, req.Amount, req.Total, book, s.cfg)
			if err != nil {
				return nil, err
			}
			allocation, err := s.solve(prep)
			if err != nil {
				return nil, err
			}
			deltas = prep.Deltas(account, allocation)
		}
		return planner.PlanBuy(account, req.Name, req.Amount, req.Total, deltas)

	case "sell":
		book, err := s.store.GetOrderBook(r.Context(), bookPair(req.Name))
		if err != nil {
			return nil, feasible.New(feasible.ReasonOrderbookTooShallow)
		}
		deltas := req.Deltas
		if deltas == nil {
			prep, err := planner.PrepareSell(account, req.Name, req.Amount, req.Total, book, s.cfg)
			if err != nil {
				return nil, err
			}
			allocation, err := s.solve(prep)
			if err != nil {
				return nil, err
			}
			deltas = prep.Deltas(account, allocation)
		}
		return planner.PlanSell(account, req.Name, req.Amount, req.Total, deltas)

	case "reallocate":
		deltas := req.Deltas
		if deltas == nil {
			prep, err := planner.PrepareReallocate(account)
			if err != nil {
				return nil, err
			}
			allocation, err := s.solve(prep)
			if err != nil {
				return nil, err
			}
			deltas = prep.Deltas(account, allocation)
		}
		return planner.PlanReallocate(account, deltas)

	default:
		return nil, errors.New("unknown plan action: " + req.Action)
	}
}

// --- Broadcasting ---

func (s *Service) broadcastPositions(r *http.Request, account *model.MarginAccount) {
	if s.hub == nil {
		return
	}
	summary := position.Summarize(account, s.books(r, account), s.cfg.Position)
	metrics.PositionRecomputes.Inc()

	for _, asset := range summary.Assets {
		s.hub.Broadcast(WSMessage{
			Type:             "position_updated",
			Owner:            account.Owner,
			Asset:            asset.Name,
			CollRatio:        asset.CollRatio.String(),
			LiquidationPrice: asset.LiquidationPrice.String(),
			PurchasingPower:  asset.PurchasingPower.String(),
			Safe:             asset.Safe,
			LiquidationState: string(asset.LiquidationState),
		})
	}
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeInfeasible reports an expected business-rule rejection. The reason
// string is surfaced verbatim for the dashboard to display.
func writeInfeasible(w http.ResponseWriter, action string, err error) {
	reason := feasible.Reason(err)
	metrics.InfeasibleTotal.WithLabelValues(action, reason).Inc()
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": reason})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
