package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/ledger"
	"github.com/cryptoedu/paper-engine/internal/milestone"
	"github.com/cryptoedu/paper-engine/internal/model"
	"github.com/cryptoedu/paper-engine/internal/quote"
	"github.com/cryptoedu/paper-engine/internal/reward"
	"github.com/cryptoedu/paper-engine/internal/store"
)

type testEnv struct {
	ms     *store.MemoryStore
	prices *quote.FixedProvider
	svc    *Service
	srv    *httptest.Server
}

// newTestEnv wires a service over the in-memory store with fixed prices:
// bitcoin at 50000 and ethereum at 2000 reference, 0.1% spread.
func newTestEnv(t *testing.T, defs []model.AchievementDefinition) *testEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	if len(defs) > 0 {
		if err := ms.SeedAchievementDefinitions(context.Background(), defs); err != nil {
			t.Fatalf("seed definitions: %v", err)
		}
	}

	prices := quote.NewFixedProvider(decimal.NewFromFloat(0.001), map[string]decimal.Decimal{
		"bitcoin":  decimal.NewFromInt(50000),
		"ethereum": decimal.NewFromInt(2000),
	})

	tracker := milestone.NewTracker(ms)
	rewards := reward.NewEngine(ms, tracker)
	svc := NewService(ms, prices, rewards, tracker, DefaultConfig(), nil)

	r := chi.NewRouter()
	r.Post("/api/v1/accounts", svc.CreateAccount)
	r.Post("/api/v1/orders", svc.PlaceOrder)
	r.Get("/api/v1/portfolio/{userID}", svc.GetPortfolio)
	r.Get("/api/v1/trades/{userID}", svc.GetTradeHistory)
	r.Get("/api/v1/achievements/{userID}", svc.GetAchievements)
	r.Get("/api/v1/quotes/{symbol}", svc.GetQuote)
	r.Post("/api/v1/events/login", svc.RecordLogin)
	r.Post("/api/v1/events/course-completed", svc.CompleteCourse)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{ms: ms, prices: prices, svc: svc, srv: srv}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) createAccount(t *testing.T, userID string) {
	t.Helper()
	resp := e.post(t, "/api/v1/accounts", fmt.Sprintf(`{"user_id":%q}`, userID))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account %s: status %d", userID, resp.StatusCode)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestCreateAccount(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.post(t, "/api/v1/accounts", `{"user_id":"alice"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	acct := decodeJSON[model.Account](t, resp)
	if !acct.Balance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("starting balance = %s, want 100000", acct.Balance)
	}

	// Duplicate signup conflicts and does not reset the balance.
	resp = env.post(t, "/api/v1/accounts", `{"user_id":"alice"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate signup: expected 409, got %d", resp.StatusCode)
	}

	resp = env.post(t, "/api/v1/accounts", `{"user_id":""}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty user_id: expected 400, got %d", resp.StatusCode)
	}
}

func TestBuyOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeJSON[OrderResponse](t, resp)

	// Buys execute at the ask: 50000 * 1.001 = 50050.
	if !out.Trade.Price.Equal(mustDecimal(t, "50050")) {
		t.Errorf("price = %s, want 50050", out.Trade.Price)
	}
	// Fee is 0.25% of the total: 50050 * 0.0025 = 125.125.
	if !out.Trade.Fee.Equal(mustDecimal(t, "125.125")) {
		t.Errorf("fee = %s, want 125.125", out.Trade.Fee)
	}
	if !out.Trade.TaxEstimate.IsZero() {
		t.Errorf("buy carries tax estimate %s, want 0", out.Trade.TaxEstimate)
	}
	// Balance debited by total + fee.
	if !out.Balance.Equal(mustDecimal(t, "49824.875")) {
		t.Errorf("balance = %s, want 49824.875", out.Balance)
	}
	if !out.Position.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("position qty = %s, want 1", out.Position.Quantity)
	}
	if !out.Position.AverageCost.Equal(mustDecimal(t, "50050")) {
		t.Errorf("avg cost = %s, want 50050", out.Position.AverageCost)
	}
}

func TestSellOrderRealizesLoss(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buy: expected 200, got %d", resp.StatusCode)
	}

	// Sells execute at the bid: 50000 * 0.999 = 49950. Crossing the spread
	// immediately realizes the round-trip loss.
	resp = env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"sell","quantity":"1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sell: expected 200, got %d", resp.StatusCode)
	}
	out := decodeJSON[OrderResponse](t, resp)

	if !out.Trade.Price.Equal(mustDecimal(t, "49950")) {
		t.Errorf("price = %s, want 49950", out.Trade.Price)
	}
	// Tax estimate is display-only: (49950 - 3000) * 0.20 = 9390.
	if !out.Trade.TaxEstimate.Equal(mustDecimal(t, "9390")) {
		t.Errorf("tax estimate = %s, want 9390", out.Trade.TaxEstimate)
	}
	// Credit is total minus fee; tax is never deducted.
	// 49824.875 + 49950 - 124.875 = 99650.
	if !out.Balance.Equal(mustDecimal(t, "99650")) {
		t.Errorf("balance = %s, want 99650", out.Balance)
	}
	// Position closed: quantity and average cost reset, realized P&L kept.
	if !out.Position.Quantity.IsZero() || !out.Position.AverageCost.IsZero() {
		t.Errorf("position not cleared: qty=%s avg=%s", out.Position.Quantity, out.Position.AverageCost)
	}
	if !out.Position.RealizedPnL.Equal(mustDecimal(t, "-100")) {
		t.Errorf("realized pnl = %s, want -100", out.Position.RealizedPnL)
	}
}

func TestInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	// 10 BTC at the ask costs ~501751 with fee — well over the balance.
	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"10"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	acct, err := env.ms.GetAccount(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("balance mutated on rejection: %s", acct.Balance)
	}
	trades, _ := env.ms.GetTradesByUser(context.Background(), "alice")
	if len(trades) != 0 {
		t.Errorf("rejected order recorded %d trades", len(trades))
	}
	if _, err := env.ms.GetPosition(context.Background(), "alice", "bitcoin"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rejected order created a position: %v", err)
	}
}

func TestSellWithoutHoldings(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"sell","quantity":"1"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
}

func TestOrderValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	cases := []struct {
		name string
		body string
		want int
	}{
		{"zero quantity", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"0"}`, http.StatusBadRequest},
		{"negative quantity", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"-1"}`, http.StatusBadRequest},
		{"bad side", `{"user_id":"alice","symbol":"bitcoin","side":"hold","quantity":"1"}`, http.StatusBadRequest},
		{"unknown instrument", `{"user_id":"alice","symbol":"dogecoin","side":"buy","quantity":"1"}`, http.StatusBadRequest},
		{"missing user", `{"symbol":"bitcoin","side":"buy","quantity":"1"}`, http.StatusBadRequest},
		{"missing symbol", `{"user_id":"alice","side":"buy","quantity":"1"}`, http.StatusBadRequest},
		{"unknown user", `{"user_id":"nobody","symbol":"bitcoin","side":"buy","quantity":"1"}`, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.post(t, "/api/v1/orders", tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestQuoteUnavailableFailsOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	env.prices.Err = quote.ErrUnavailable
	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("provider down: expected 503, got %d", resp.StatusCode)
	}
	env.prices.Err = nil

	// A quote older than the staleness threshold must not price an order.
	env.prices.AsOf = time.Now().UTC().Add(-time.Minute)
	resp = env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("stale quote: expected 503, got %d", resp.StatusCode)
	}

	acct, _ := env.ms.GetAccount(context.Background(), "alice")
	if !acct.Balance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("balance mutated on quote failure: %s", acct.Balance)
	}
}

func TestApplyFailureLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	env.ms.FailNextApply = errors.New("injected write failure")
	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}

	acct, _ := env.ms.GetAccount(context.Background(), "alice")
	if !acct.Balance.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("balance mutated on apply failure: %s", acct.Balance)
	}
	trades, _ := env.ms.GetTradesByUser(context.Background(), "alice")
	if len(trades) != 0 {
		t.Errorf("failed apply recorded %d trades", len(trades))
	}
	stats, _ := env.ms.GetUserStats(context.Background(), "alice")
	if stats.TradesCount != 0 {
		t.Errorf("failed apply counted %d trades", stats.TradesCount)
	}
}

func TestGetPortfolio(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	resp.Body.Close()

	resp = env.get(t, "/api/v1/portfolio/alice")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	pf := decodeJSON[model.Portfolio](t, resp)

	if len(pf.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(pf.Positions))
	}
	p := pf.Positions[0]
	if !p.CurrentPrice.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("current price = %s, want 50000", p.CurrentPrice)
	}
	// Valued at reference, bought at ask: unrealized = 50000 - 50050 = -50.
	if !p.UnrealizedPnL.Equal(mustDecimal(t, "-50")) {
		t.Errorf("unrealized = %s, want -50", p.UnrealizedPnL)
	}
	// Total value = cash + holdings: 49824.875 + 50000.
	if !pf.TotalValue.Equal(mustDecimal(t, "99824.875")) {
		t.Errorf("total value = %s, want 99824.875", pf.TotalValue)
	}

	// Closing the position drops it from the view but keeps its realized P&L.
	resp = env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"sell","quantity":"1"}`)
	resp.Body.Close()

	pf = decodeJSON[model.Portfolio](t, env.get(t, "/api/v1/portfolio/alice"))
	if len(pf.Positions) != 0 {
		t.Errorf("closed position still listed: %d", len(pf.Positions))
	}
	if !pf.RealizedPnL.Equal(mustDecimal(t, "-100")) {
		t.Errorf("realized = %s, want -100", pf.RealizedPnL)
	}

	resp = env.get(t, "/api/v1/portfolio/nobody")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", resp.StatusCode)
	}
}

func TestGetTradeHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	for _, body := range []string{
		`{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"0.5"}`,
		`{"user_id":"alice","symbol":"ethereum","side":"buy","quantity":"2"}`,
	} {
		resp := env.post(t, "/api/v1/orders", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("order failed: %d", resp.StatusCode)
		}
	}

	trades := decodeJSON[[]model.Trade](t, env.get(t, "/api/v1/trades/alice"))
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].Symbol != "bitcoin" || trades[1].Symbol != "ethereum" {
		t.Errorf("trades out of execution order: %s, %s", trades[0].Symbol, trades[1].Symbol)
	}

	// Empty history returns [], not null.
	env.createAccount(t, "bob")
	trades = decodeJSON[[]model.Trade](t, env.get(t, "/api/v1/trades/bob"))
	if trades == nil || len(trades) != 0 {
		t.Errorf("empty history = %v, want []", trades)
	}
}

func TestFirstTradeUnlocksAchievement(t *testing.T) {
	env := newTestEnv(t, reward.DefaultCatalogue())
	env.createAccount(t, "alice")

	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decodeJSON[OrderResponse](t, resp)

	found := false
	for _, def := range out.Unlocked {
		if def.ID == "first-trade" {
			found = true
		}
	}
	if !found {
		t.Fatalf("first trade did not unlock first-trade: %v", out.Unlocked)
	}

	// Reward credited exactly once, on top of the post-trade balance.
	acct, _ := env.ms.GetAccount(context.Background(), "alice")
	if !acct.Balance.Equal(mustDecimal(t, "74824.875")) {
		t.Errorf("balance = %s, want 74824.875 (49824.875 + 25000 reward)", acct.Balance)
	}
	stats, _ := env.ms.GetUserStats(context.Background(), "alice")
	if stats.TotalXP != 400 {
		t.Errorf("xp = %d, want 400", stats.TotalXP)
	}

	// A second trade unlocks nothing new.
	resp = env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"ethereum","side":"buy","quantity":"1"}`)
	out = decodeJSON[OrderResponse](t, resp)
	if len(out.Unlocked) != 0 {
		t.Errorf("second trade unlocked %v", out.Unlocked)
	}
}

func TestGetAchievements(t *testing.T) {
	env := newTestEnv(t, reward.DefaultCatalogue())
	env.createAccount(t, "alice")

	resp := env.post(t, "/api/v1/orders", `{"user_id":"alice","symbol":"bitcoin","side":"buy","quantity":"1"}`)
	resp.Body.Close()

	report := decodeJSON[[]milestone.Progress](t, env.get(t, "/api/v1/achievements/alice"))
	if len(report) != len(reward.DefaultCatalogue()) {
		t.Fatalf("report covers %d definitions, want %d", len(report), len(reward.DefaultCatalogue()))
	}
	for _, p := range report {
		if p.Definition.ID == "first-trade" {
			if !p.Granted || p.Percent != 100 {
				t.Errorf("first-trade: granted=%v percent=%d, want granted at 100%%", p.Granted, p.Percent)
			}
		}
		if p.Definition.ID == "scholar" && p.Percent != 0 {
			t.Errorf("scholar percent = %d, want 0", p.Percent)
		}
	}
}

func TestRecordLoginIdempotentSameDay(t *testing.T) {
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	out := decodeJSON[StatEventResponse](t, env.post(t, "/api/v1/events/login", `{"user_id":"alice"}`))
	if out.Stats.StreakCount != 1 {
		t.Errorf("first login streak = %d, want 1", out.Stats.StreakCount)
	}

	// Second login the same calendar day leaves the streak unchanged.
	out = decodeJSON[StatEventResponse](t, env.post(t, "/api/v1/events/login", `{"user_id":"alice"}`))
	if out.Stats.StreakCount != 1 {
		t.Errorf("same-day login streak = %d, want 1", out.Stats.StreakCount)
	}

	resp := env.post(t, "/api/v1/events/login", `{"user_id":"nobody"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", resp.StatusCode)
	}
}

func TestCompleteCourseOncePerCourse(t *testing.T) {
	env := newTestEnv(t, reward.DefaultCatalogue())
	env.createAccount(t, "alice")

	out := decodeJSON[StatEventResponse](t, env.post(t, "/api/v1/events/course-completed",
		`{"user_id":"alice","course_id":"crypto-basics"}`))
	if !out.Applied {
		t.Fatal("first completion not applied")
	}
	if out.Stats.CoursesCompleted != 1 {
		t.Errorf("courses = %d, want 1", out.Stats.CoursesCompleted)
	}
	// 400 XP from the course plus 400 from the quick-learner unlock.
	if out.Stats.TotalXP != 800 {
		t.Errorf("xp = %d, want 800", out.Stats.TotalXP)
	}
	unlockedQuickLearner := false
	for _, def := range out.Unlocked {
		if def.ID == "quick-learner" {
			unlockedQuickLearner = true
		}
	}
	if !unlockedQuickLearner {
		t.Errorf("quick-learner not unlocked: %v", out.Unlocked)
	}

	// Course currency (25000) plus achievement currency (25000).
	acct, _ := env.ms.GetAccount(context.Background(), "alice")
	if !acct.Balance.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("balance = %s, want 150000", acct.Balance)
	}

	// Repeating the same course credits nothing.
	out = decodeJSON[StatEventResponse](t, env.post(t, "/api/v1/events/course-completed",
		`{"user_id":"alice","course_id":"crypto-basics"}`))
	if out.Applied {
		t.Error("duplicate completion applied")
	}
	if out.Stats.TotalXP != 800 {
		t.Errorf("duplicate completion changed xp to %d", out.Stats.TotalXP)
	}

	// Unknown users are rejected, never reported as applied.
	resp := env.post(t, "/api/v1/events/course-completed",
		`{"user_id":"nobody","course_id":"crypto-basics"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", resp.StatusCode)
	}
}

func TestConcurrentOrdersSpendBalanceOnce(t *testing.T) {
	// No catalogue: reward credits must not top the balance back up
	// mid-test. 1.6 BTC at the ask costs 80280.2 with fee, so the starting
	// 100000 covers exactly one order.
	env := newTestEnv(t, nil)
	env.createAccount(t, "alice")

	const n = 8
	qty := mustDecimal(t, "1.6")
	var wg sync.WaitGroup
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ExecuteOrder(context.Background(),
				"alice", "bitcoin", model.SideBuy, qty)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientBalance):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != n-1 {
		t.Errorf("ok=%d rejected=%d, want 1 and %d", ok, rejected, n-1)
	}

	acct, _ := env.ms.GetAccount(context.Background(), "alice")
	if acct.Balance.IsNegative() {
		t.Errorf("balance went negative: %s", acct.Balance)
	}
	trades, _ := env.ms.GetTradesByUser(context.Background(), "alice")
	if len(trades) != 1 {
		t.Errorf("trades = %d, want 1", len(trades))
	}
}

// creditingStore commits a course credit after the engine has planned the
// order but before the trade write, standing in for a reward landing
// mid-order from another request.
type creditingStore struct {
	store.Store
	once sync.Once
}

func (s *creditingStore) ApplyTrade(ctx context.Context, app *store.TradeApplication) (decimal.Decimal, error) {
	s.once.Do(func() {
		s.Store.CompleteCourse(ctx, app.Trade.UserID, "crypto-basics", 400, decimal.NewFromInt(25000))
	})
	return s.Store.ApplyTrade(ctx, app)
}

func TestOrderPreservesInterleavedCredit(t *testing.T) {
	ms := store.NewMemoryStore()
	cs := &creditingStore{Store: ms}
	prices := quote.NewFixedProvider(decimal.NewFromFloat(0.001), map[string]decimal.Decimal{
		"bitcoin": decimal.NewFromInt(50000),
	})
	tracker := milestone.NewTracker(cs)
	rewards := reward.NewEngine(cs, tracker)
	svc := NewService(cs, prices, rewards, tracker, DefaultConfig(), nil)

	ctx := context.Background()
	acct := &model.Account{UserID: "alice", Balance: decimal.NewFromInt(100000), CreatedAt: time.Now().UTC()}
	if err := ms.CreateAccount(ctx, acct, &model.UserStats{UserID: "alice", TotalProfit: decimal.Zero}); err != nil {
		t.Fatalf("create account: %v", err)
	}

	resp, err := svc.ExecuteOrder(ctx, "alice", "bitcoin", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("order: %v", err)
	}

	// 100000 + 25000 course credit - 50175.125 debit. The debit is applied
	// relatively, so the mid-order credit survives.
	want := mustDecimal(t, "74824.875")
	if !resp.Balance.Equal(want) {
		t.Errorf("response balance = %s, want %s", resp.Balance, want)
	}
	stored, _ := ms.GetAccount(ctx, "alice")
	if !stored.Balance.Equal(want) {
		t.Errorf("stored balance = %s, want %s", stored.Balance, want)
	}
	stats, _ := ms.GetUserStats(ctx, "alice")
	if stats.CoursesCompleted != 1 || stats.TotalXP != 400 {
		t.Errorf("course credit lost: courses=%d xp=%d", stats.CoursesCompleted, stats.TotalXP)
	}
}

func TestGetQuoteEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	q := decodeJSON[model.Quote](t, env.get(t, "/api/v1/quotes/bitcoin"))
	if !q.Bid.Equal(mustDecimal(t, "49950")) || !q.Ask.Equal(mustDecimal(t, "50050")) {
		t.Errorf("bid/ask = %s/%s, want 49950/50050", q.Bid, q.Ask)
	}

	resp := env.get(t, "/api/v1/quotes/dogecoin")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown instrument: expected 400, got %d", resp.StatusCode)
	}
}
