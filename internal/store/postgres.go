package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/ledger"
	"github.com/cryptoedu/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Multi-row mutations run in one transaction with row-level locking, so a
// user's concurrent orders cannot interleave.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *model.Account, stats *model.UserStats) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, created_at)
		 VALUES ($1, $2::NUMERIC, $3)`,
		acct.UserID, acct.Balance.String(), acct.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", acct.UserID, ErrAlreadyExists)
		}
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_stats (user_id, trades_count, total_profit, total_xp, streak_count, courses_completed, last_login_date)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)`,
		stats.UserID, stats.TradesCount, stats.TotalProfit.String(),
		stats.TotalXP, stats.StreakCount, stats.CoursesCompleted, stats.LastLoginDate,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance::TEXT, created_at FROM accounts WHERE user_id = $1`,
		userID).Scan(&a.UserID, &balance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, app *TradeApplication) (decimal.Decimal, error) {
	if app.NewPosition.Quantity.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: user %s qty %s", ErrCorrupt,
			app.Trade.UserID, app.NewPosition.Quantity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer tx.Rollback(ctx)

	t := app.Trade

	// Lock the account row for the duration of the transaction so two
	// concurrent trades for the same user serialize here.
	var current string
	if err := tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`,
		t.UserID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, fmt.Errorf("account %s: %w", t.UserID, ErrNotFound)
		}
		return decimal.Decimal{}, err
	}

	balance, err := decimal.NewFromString(current)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse balance for %s: %w", t.UserID, err)
	}

	// The delta is applied to the locked balance, not a value computed from
	// an earlier read, so credits committed since planning are preserved.
	newBalance := balance.Add(app.BalanceDelta)
	if newBalance.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("apply trade for %s: %w", t.UserID, ledger.ErrInsufficientBalance)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE user_id = $1`,
		t.UserID, newBalance.String()); err != nil {
		return decimal.Decimal{}, err
	}

	p := app.NewPosition
	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, quantity, average_cost, realized_pnl)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET
		   quantity = EXCLUDED.quantity,
		   average_cost = EXCLUDED.average_cost,
		   realized_pnl = EXCLUDED.realized_pnl`,
		p.UserID, p.Symbol, p.Quantity.String(), p.AverageCost.String(), p.RealizedPnL.String()); err != nil {
		return decimal.Decimal{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, side, quantity, price, fee, total, tax_estimate, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.UserID, t.Symbol, t.Side,
		t.Quantity.String(), t.Price.String(), t.Fee.String(), t.Total.String(), t.TaxEstimate.String(),
		t.Timestamp); err != nil {
		return decimal.Decimal{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE user_stats
		 SET trades_count = trades_count + 1,
		     total_profit = total_profit + $2::NUMERIC
		 WHERE user_id = $1`,
		t.UserID, app.RealizedDelta.String()); err != nil {
		return decimal.Decimal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, err
	}
	return newBalance, nil
}

func (s *PostgresStore) GetTradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, side,
		        quantity::TEXT, price::TEXT, fee::TEXT, total::TEXT, tax_estimate::TEXT, timestamp
		 FROM trades WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price, fee, total, tax string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side,
			&qty, &price, &fee, &total, &tax, &t.Timestamp); err != nil {
			return nil, err
		}

		t.Quantity, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		t.Fee, _ = decimal.NewFromString(fee)
		t.Total, _ = decimal.NewFromString(total)
		t.TaxEstimate, _ = decimal.NewFromString(tax)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	var p model.Position
	var qty, avg, pnl string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, symbol, quantity::TEXT, average_cost::TEXT, realized_pnl::TEXT
		 FROM positions WHERE user_id = $1 AND symbol = $2`,
		userID, symbol).Scan(&p.UserID, &p.Symbol, &qty, &avg, &pnl)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("position %s/%s: %w", userID, symbol, ErrNotFound)
		}
		return nil, err
	}

	p.Quantity, _ = decimal.NewFromString(qty)
	p.AverageCost, _ = decimal.NewFromString(avg)
	p.RealizedPnL, _ = decimal.NewFromString(pnl)
	return &p, nil
}

func (s *PostgresStore) GetUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, quantity::TEXT, average_cost::TEXT, realized_pnl::TEXT
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, avg, pnl string

		if err := rows.Scan(&p.UserID, &p.Symbol, &qty, &avg, &pnl); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qty)
		p.AverageCost, _ = decimal.NewFromString(avg)
		p.RealizedPnL, _ = decimal.NewFromString(pnl)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetUserStats(ctx context.Context, userID string) (*model.UserStats, error) {
	st, err := scanStats(s.pool.QueryRow(ctx,
		`SELECT user_id, trades_count, total_profit::TEXT, total_xp, streak_count, courses_completed, last_login_date
		 FROM user_stats WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stats %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) RecordLogin(ctx context.Context, userID string, at time.Time) (*model.UserStats, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	st, err := scanStats(tx.QueryRow(ctx,
		`SELECT user_id, trades_count, total_profit::TEXT, total_xp, streak_count, courses_completed, last_login_date
		 FROM user_stats WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stats %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}

	st.StreakCount = nextStreak(st.StreakCount, st.LastLoginDate, at)
	st.LastLoginDate = at

	if _, err := tx.Exec(ctx,
		`UPDATE user_stats SET streak_count = $2, last_login_date = $3 WHERE user_id = $1`,
		userID, st.StreakCount, st.LastLoginDate); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) CompleteCourse(ctx context.Context, userID, courseID string, xpReward int64, currencyReward decimal.Decimal) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// Insert-if-absent makes repeated completion calls no-ops.
	tag, err := tx.Exec(ctx,
		`INSERT INTO course_completions (user_id, course_id, completed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id, course_id) DO NOTHING`,
		userID, courseID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// Zero rows updated means the user was never signed up; rolling back
	// also removes the completion row inserted above.
	statsTag, err := tx.Exec(ctx,
		`UPDATE user_stats
		 SET courses_completed = courses_completed + 1, total_xp = total_xp + $2
		 WHERE user_id = $1`,
		userID, xpReward)
	if err != nil {
		return false, err
	}
	if statsTag.RowsAffected() == 0 {
		return false, fmt.Errorf("stats %s: %w", userID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC WHERE user_id = $1`,
		userID, currencyReward.String()); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) SeedAchievementDefinitions(ctx context.Context, defs []model.AchievementDefinition) error {
	for _, def := range defs {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO achievement_definitions (id, name, description, requirement_type, requirement_value, xp_reward, currency_reward)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC)
			 ON CONFLICT (id) DO NOTHING`,
			def.ID, def.Name, def.Description, def.RequirementType,
			def.RequirementValue.String(), def.XPReward, def.CurrencyReward.String())
		if err != nil {
			return fmt.Errorf("seed achievement %s: %w", def.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListAchievementDefinitions(ctx context.Context) ([]model.AchievementDefinition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, requirement_type, requirement_value::TEXT, xp_reward, currency_reward::TEXT
		 FROM achievement_definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []model.AchievementDefinition
	for rows.Next() {
		var def model.AchievementDefinition
		var reqVal, curReward string

		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &def.RequirementType,
			&reqVal, &def.XPReward, &curReward); err != nil {
			return nil, err
		}
		def.RequirementValue, _ = decimal.NewFromString(reqVal)
		def.CurrencyReward, _ = decimal.NewFromString(curReward)
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) ListGrants(ctx context.Context, userID string) ([]model.AchievementGrant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, achievement_id, granted_at
		 FROM achievement_grants WHERE user_id = $1 ORDER BY granted_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []model.AchievementGrant
	for rows.Next() {
		var g model.AchievementGrant
		if err := rows.Scan(&g.ID, &g.UserID, &g.AchievementID, &g.GrantedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *PostgresStore) GrantAchievement(ctx context.Context, grant *model.AchievementGrant, xpReward int64, currencyReward decimal.Decimal) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// Atomic insert-if-absent on the (user_id, achievement_id) unique
	// constraint. A lost race surfaces as zero rows affected (or a unique
	// violation under weaker isolation); both mean "already granted".
	tag, err := tx.Exec(ctx,
		`INSERT INTO achievement_grants (id, user_id, achievement_id, granted_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		grant.ID, grant.UserID, grant.AchievementID, grant.GrantedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	statsTag, err := tx.Exec(ctx,
		`UPDATE user_stats SET total_xp = total_xp + $2 WHERE user_id = $1`,
		grant.UserID, xpReward)
	if err != nil {
		return false, err
	}
	if statsTag.RowsAffected() == 0 {
		return false, fmt.Errorf("stats %s: %w", grant.UserID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC WHERE user_id = $1`,
		grant.UserID, currencyReward.String()); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// scanStats reads one user_stats row.
func scanStats(row pgx.Row) (*model.UserStats, error) {
	var st model.UserStats
	var profit string

	if err := row.Scan(&st.UserID, &st.TradesCount, &profit,
		&st.TotalXP, &st.StreakCount, &st.CoursesCompleted, &st.LastLoginDate); err != nil {
		return nil, err
	}
	st.TotalProfit, _ = decimal.NewFromString(profit)
	return &st, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
