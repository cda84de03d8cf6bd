// Package engine provides the HTTP handlers and business logic for account
// signup, order execution, portfolio queries, and the milestone → reward
// pipeline hooks.
//
// All monetary values use shopspring/decimal — never float64 for money.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/ledger"
	"github.com/cryptoedu/paper-engine/internal/metrics"
	"github.com/cryptoedu/paper-engine/internal/milestone"
	"github.com/cryptoedu/paper-engine/internal/model"
	"github.com/cryptoedu/paper-engine/internal/quote"
	"github.com/cryptoedu/paper-engine/internal/reward"
	"github.com/cryptoedu/paper-engine/internal/store"
)

// Config holds the engine's fixed parameters.
type Config struct {
	// StartingBalance is credited to every new account at signup.
	StartingBalance decimal.Decimal

	// Costing carries the fee and tax-estimate rates.
	Costing ledger.Costing

	// QuoteMaxAge is the staleness threshold: a quote older than this
	// fails the order with QuoteUnavailable instead of pricing it.
	QuoteMaxAge time.Duration

	// CourseXPReward / CourseCurrencyReward are credited once per
	// (user, course) completion reported by the course subsystem.
	CourseXPReward       int64
	CourseCurrencyReward decimal.Decimal
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		StartingBalance:      decimal.NewFromInt(100000),
		Costing:              ledger.DefaultCosting(),
		QuoteMaxAge:          30 * time.Second,
		CourseXPReward:       400,
		CourseCurrencyReward: decimal.NewFromInt(25000),
	}
}

// Service handles account, order, and reward-pipeline operations. Order
// execution is serialized per user; different users proceed in parallel.
type Service struct {
	store   store.Store
	quotes  quote.Provider
	rewards *reward.Engine
	tracker *milestone.Tracker
	cfg     Config
	locks   *userLocks
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates the engine service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, quotes quote.Provider, rewards *reward.Engine, tracker *milestone.Tracker, cfg Config, hub *WSHub) *Service {
	s := &Service{
		store:   st,
		quotes:  quotes,
		rewards: rewards,
		tracker: tracker,
		cfg:     cfg,
		locks:   newUserLocks(),
		wsHub:   hub,
	}

	if hub != nil {
		rewards.OnGrant(func(userID string, def model.AchievementDefinition) {
			hub.Broadcast(WSMessage{
				Type:          "achievement_unlocked",
				UserID:        userID,
				AchievementID: def.ID,
				Achievement:   def.Name,
				XPReward:      def.XPReward,
			})
		})
	}
	return s
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	UserID string `json:"user_id"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID   string          `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"` // "buy" or "sell"
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderResponse is the JSON body returned from POST /orders.
type OrderResponse struct {
	Trade    model.Trade                   `json:"trade"`
	Balance  decimal.Decimal               `json:"balance"`
	Position model.Position                `json:"position"`
	Unlocked []model.AchievementDefinition `json:"unlocked,omitempty"`
}

// StatEventRequest is the JSON body for the /events hooks invoked by the
// login and course subsystems.
type StatEventRequest struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id,omitempty"`
}

// StatEventResponse reports the stat mutation plus any rewards it unlocked.
type StatEventResponse struct {
	Stats    model.UserStats               `json:"stats"`
	Applied  bool                          `json:"applied"`
	Unlocked []model.AchievementDefinition `json:"unlocked,omitempty"`
}

// --- Core execution ---

// ExecuteOrder validates, prices, and applies one order as a single atomic
// unit, then runs the milestone → reward pipeline. On any error no state is
// mutated; validation and state-conflict errors are never retried here.
func (s *Service) ExecuteOrder(ctx context.Context, userID, symbol, side string, quantity decimal.Decimal) (*OrderResponse, error) {
	start := time.Now()

	unlock := s.locks.Lock(userID)
	defer unlock()

	q, err := s.fetchQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	pos, err := s.store.GetPosition(ctx, userID, symbol)
	if errors.Is(err, store.ErrNotFound) {
		pos = &model.Position{UserID: userID, Symbol: symbol}
	} else if err != nil {
		return nil, err
	}

	app, err := ledger.Plan(*acct, *pos, q, side, quantity, s.cfg.Costing)
	if err != nil {
		return nil, err
	}

	trade := &model.Trade{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      symbol,
		Side:        app.Side,
		Quantity:    app.Quantity,
		Price:       app.Price,
		Fee:         app.Fee,
		Total:       app.Total,
		TaxEstimate: app.TaxEstimate,
		Timestamp:   time.Now().UTC(),
	}

	newBalance, err := s.store.ApplyTrade(ctx, &store.TradeApplication{
		Trade:         trade,
		BalanceDelta:  app.BalanceDelta,
		NewPosition:   app.NewPosition,
		RealizedDelta: app.RealizedDelta,
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues(app.Side).Inc()
	metrics.OrderLatency.WithLabelValues(app.Side).Observe(time.Since(start).Seconds())

	slog.Info("order executed",
		"trade_id", trade.ID,
		"user", userID,
		"symbol", symbol,
		"side", app.Side,
		"qty", app.Quantity.String(),
		"price", app.Price.String(),
		"fee", app.Fee.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			UserID:   userID,
			Symbol:   symbol,
			Side:     app.Side,
			Quantity: app.Quantity.String(),
			Price:    app.Price.String(),
		})
	}

	unlocked := s.OnTradeExecuted(ctx, userID)

	return &OrderResponse{
		Trade:    *trade,
		Balance:  newBalance,
		Position: app.NewPosition,
		Unlocked: unlocked,
	}, nil
}

// OnTradeExecuted re-evaluates milestones after a trade and grants any newly
// unlocked rewards. Pipeline failures are logged, never fatal to the trade:
// the trade is already committed and evaluation is safe to repeat later.
func (s *Service) OnTradeExecuted(ctx context.Context, userID string) []model.AchievementDefinition {
	return s.runRewardPipeline(ctx, userID)
}

// OnStatUpdated is the hook the course/quiz/social subsystems invoke after
// mutating their statistics.
func (s *Service) OnStatUpdated(ctx context.Context, userID string) []model.AchievementDefinition {
	return s.runRewardPipeline(ctx, userID)
}

func (s *Service) runRewardPipeline(ctx context.Context, userID string) []model.AchievementDefinition {
	unlocked, err := s.rewards.EvaluateAndGrant(ctx, userID)
	if err != nil {
		slog.Error("reward pipeline failed", "user", userID, "err", err)
	}
	return unlocked
}

func (s *Service) fetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	start := time.Now()
	q, err := s.quotes.GetQuote(ctx, symbol)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.QuoteFetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return model.Quote{}, err
	}

	if quote.IsStale(q, s.cfg.QuoteMaxAge, time.Now().UTC()) {
		return model.Quote{}, quoteStaleError(symbol, q.AsOf)
	}
	return q, nil
}

func quoteStaleError(symbol string, asOf time.Time) error {
	return &staleQuoteError{symbol: symbol, asOf: asOf}
}

type staleQuoteError struct {
	symbol string
	asOf   time.Time
}

func (e *staleQuoteError) Error() string {
	return "quote for " + e.symbol + " is stale (as of " + e.asOf.Format(time.RFC3339) + ")"
}

func (e *staleQuoteError) Unwrap() error { return quote.ErrUnavailable }

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	acct := &model.Account{
		UserID:    req.UserID,
		Balance:   s.cfg.StartingBalance,
		CreatedAt: time.Now().UTC(),
	}
	stats := &model.UserStats{UserID: req.UserID, TotalProfit: decimal.Zero}

	if err := s.store.CreateAccount(r.Context(), acct, stats); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			writeError(w, "account already exists", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("account created", "user", req.UserID, "balance", acct.Balance.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(acct)
}

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	resp, err := s.ExecuteOrder(r.Context(), req.UserID, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		metrics.OrderRejections.WithLabelValues(rejectionReason(err)).Inc()
		writeError(w, err.Error(), errorStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns the account and all open positions, enriched with live unrealized
// P&L from the quote provider. Valuation is read-side only, never persisted.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	acct, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	positions, err := s.store.GetUserPositions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	stats, err := s.store.GetUserStats(ctx, userID)
	if err != nil {
		writeError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	portfolio := model.Portfolio{
		UserID:        userID,
		Balance:       acct.Balance,
		Positions:     []model.PositionView{},
		TotalValue:    acct.Balance,
		UnrealizedPnL: decimal.Zero,
		RealizedPnL:   decimal.Zero,
		Level:         stats.Level(),
		TotalXP:       stats.TotalXP,
	}

	for _, p := range positions {
		portfolio.RealizedPnL = portfolio.RealizedPnL.Add(p.RealizedPnL)
		if p.Quantity.IsZero() {
			continue // closed positions contribute realized P&L only
		}

		view := model.PositionView{Position: p}
		if q, err := s.quotes.GetQuote(ctx, p.Symbol); err == nil {
			view.CurrentPrice = q.Reference
			view.CurrentValue = p.Quantity.Mul(q.Reference)
			view.UnrealizedPnL = ledger.UnrealizedPnL(p, q.Reference)
		} else {
			slog.Warn("portfolio valuation skipped", "symbol", p.Symbol, "err", err)
		}

		portfolio.Positions = append(portfolio.Positions, view)
		portfolio.TotalValue = portfolio.TotalValue.Add(view.CurrentValue)
		portfolio.UnrealizedPnL = portfolio.UnrealizedPnL.Add(view.UnrealizedPnL)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// GetTradeHistory handles GET /api/v1/trades/{userID}
// Returns the immutable trade records in execution order.
func (s *Service) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	trades, err := s.store.GetTradesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetAchievements handles GET /api/v1/achievements/{userID}
// Returns progress for the full catalogue, with unlocked achievements
// pinned at 100%.
func (s *Service) GetAchievements(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	report, err := s.tracker.Report(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to evaluate achievements", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	q, err := s.quotes.GetQuote(r.Context(), symbol)
	if err != nil {
		writeError(w, err.Error(), errorStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// RecordLogin handles POST /api/v1/events/login
// Applies the login-streak rule and runs the reward pipeline. Safe to call
// repeatedly: a same-day login leaves the streak unchanged.
func (s *Service) RecordLogin(w http.ResponseWriter, r *http.Request) {
	var req StatEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	stats, err := s.store.RecordLogin(r.Context(), req.UserID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	unlocked := s.OnStatUpdated(r.Context(), req.UserID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatEventResponse{Stats: *stats, Applied: true, Unlocked: unlocked})
}

// CompleteCourse handles POST /api/v1/events/course-completed
// Credits the fixed course rewards at most once per (user, course), then
// runs the reward pipeline.
func (s *Service) CompleteCourse(w http.ResponseWriter, r *http.Request) {
	var req StatEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.CourseID == "" {
		writeError(w, "user_id and course_id are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	completed, err := s.store.CompleteCourse(ctx, req.UserID, req.CourseID,
		s.cfg.CourseXPReward, s.cfg.CourseCurrencyReward)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if completed {
		slog.Info("course completed",
			"user", req.UserID,
			"course", req.CourseID,
			"xp", s.cfg.CourseXPReward,
		)
	}

	unlocked := s.OnStatUpdated(ctx, req.UserID)

	stats, err := s.store.GetUserStats(ctx, req.UserID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatEventResponse{Stats: *stats, Applied: completed, Unlocked: unlocked})
}

// --- Error mapping ---

// errorStatus maps the engine's error taxonomy to HTTP status codes:
// validation → 400, state conflicts → 409, transient infrastructure → 503.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, quote.ErrUnknownInstrument):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientPosition):
		return http.StatusConflict
	case errors.Is(err, quote.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ledger.ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInsufficientPosition):
		return "insufficient_position"
	case errors.Is(err, quote.ErrUnknownInstrument):
		return "unknown_instrument"
	case errors.Is(err, quote.ErrUnavailable):
		return "quote_unavailable"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
