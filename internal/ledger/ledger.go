// Package ledger implements the account and position bookkeeping math:
// order validation, fee and tax-estimate computation, weighted-average cost
// on buys, and proportional realized P&L on sells.
//
// Everything here is pure computation over decimals. Plan produces the full
// post-trade state; persisting it atomically is the store's job.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned when the order quantity is zero or
	// negative.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")

	// ErrInvalidSide is returned when the order side is not "buy" or "sell".
	ErrInvalidSide = errors.New(`ledger: side must be "buy" or "sell"`)

	// ErrInsufficientBalance is returned when a buy would overdraw the
	// account. Expected business outcome, not an infrastructure failure.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientPosition is returned when a sell exceeds held quantity.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")
)

// Costing holds the deterministic rate configuration applied to every order.
type Costing struct {
	// FeeRate is the trading fee as a fraction of the order total.
	FeeRate decimal.Decimal

	// TaxFreeAllowance and TaxRate parameterize the illustrative capital
	// gains estimate shown on sells. The estimate is display-only and is
	// never debited.
	TaxFreeAllowance decimal.Decimal
	TaxRate          decimal.Decimal
}

// DefaultCosting returns the production rates: 0.25% trading fee and the
// simplified UK CGT figures (3000 annual allowance, 20% higher rate).
func DefaultCosting() Costing {
	return Costing{
		FeeRate:          decimal.NewFromFloat(0.0025),
		TaxFreeAllowance: decimal.NewFromInt(3000),
		TaxRate:          decimal.NewFromFloat(0.20),
	}
}

// Application is the fully computed effect of one order: the trade's
// monetary fields plus the balance and position mutations. The store persists
// an Application as a single atomic unit.
//
// BalanceDelta is a signed relative amount, not an absolute balance: credits
// from reward grants or course completions can commit between the planning
// read and the trade write, and must not be overwritten by it.
type Application struct {
	Side        string
	Symbol      string
	Quantity    decimal.Decimal
	Price       decimal.Decimal // ask for buys, bid for sells
	Total       decimal.Decimal // quantity * price
	Fee         decimal.Decimal
	TaxEstimate decimal.Decimal // sells only, illustrative

	BalanceDelta  decimal.Decimal // -(total+fee) for buys, total-fee for sells
	NewPosition   model.Position
	RealizedDelta decimal.Decimal // realized P&L locked in by this trade (sells)
}

// Plan validates an order against the current account/position state and a
// live quote, and computes the resulting mutation. No state is touched;
// a non-nil error means the order must be rejected with no effect.
func Plan(acct model.Account, pos model.Position, quote model.Quote, side string, quantity decimal.Decimal, c Costing) (Application, error) {
	if quantity.LessThanOrEqual(decimal.Zero) {
		return Application{}, ErrInvalidQuantity
	}

	switch side {
	case model.SideBuy:
		return planBuy(acct, pos, quote, quantity, c)
	case model.SideSell:
		return planSell(acct, pos, quote, quantity, c)
	default:
		return Application{}, ErrInvalidSide
	}
}

func planBuy(acct model.Account, pos model.Position, quote model.Quote, quantity decimal.Decimal, c Costing) (Application, error) {
	price := quote.Ask
	total := quantity.Mul(price)
	fee := total.Mul(c.FeeRate)
	required := total.Add(fee)

	// Snapshot check for early rejection; the store re-checks the balance
	// under its own lock before committing the debit.
	if acct.Balance.LessThan(required) {
		return Application{}, ErrInsufficientBalance
	}

	newQty := pos.Quantity.Add(quantity)
	// Weighted-average cost: (oldQty*oldAvg + qty*price) / (oldQty+qty).
	newAvg := pos.Quantity.Mul(pos.AverageCost).Add(total).Div(newQty)

	return Application{
		Side:         model.SideBuy,
		Symbol:       quote.Symbol,
		Quantity:     quantity,
		Price:        price,
		Total:        total,
		Fee:          fee,
		BalanceDelta: required.Neg(),
		NewPosition: model.Position{
			UserID:      acct.UserID,
			Symbol:      quote.Symbol,
			Quantity:    newQty,
			AverageCost: newAvg,
			RealizedPnL: pos.RealizedPnL,
		},
		RealizedDelta: decimal.Zero,
	}, nil
}

func planSell(acct model.Account, pos model.Position, quote model.Quote, quantity decimal.Decimal, c Costing) (Application, error) {
	if pos.Quantity.LessThan(quantity) {
		return Application{}, ErrInsufficientPosition
	}

	price := quote.Bid
	total := quantity.Mul(price)
	fee := total.Mul(c.FeeRate)

	realized := quantity.Mul(price.Sub(pos.AverageCost))
	newQty := pos.Quantity.Sub(quantity)

	newAvg := pos.AverageCost
	if newQty.IsZero() {
		// Average cost is undefined until the next buy. Realized P&L
		// persists across the zero crossing.
		newAvg = decimal.Zero
	}

	return Application{
		Side:         model.SideSell,
		Symbol:       quote.Symbol,
		Quantity:     quantity,
		Price:        price,
		Total:        total,
		Fee:          fee,
		TaxEstimate:  TaxEstimate(total, c),
		BalanceDelta: total.Sub(fee),
		NewPosition: model.Position{
			UserID:      acct.UserID,
			Symbol:      quote.Symbol,
			Quantity:    newQty,
			AverageCost: newAvg,
			RealizedPnL: pos.RealizedPnL.Add(realized),
		},
		RealizedDelta: realized,
	}, nil
}

// TaxEstimate computes the illustrative capital-gains figure for a sell of
// the given proceeds: (proceeds - allowance) * rate, floored at zero.
func TaxEstimate(proceeds decimal.Decimal, c Costing) decimal.Decimal {
	taxable := proceeds.Sub(c.TaxFreeAllowance)
	if taxable.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return taxable.Mul(c.TaxRate)
}

// UnrealizedPnL is the read-side paper profit for a position at the given
// price: quantity * (price - averageCost). Recomputed on every portfolio
// view; never persisted.
func UnrealizedPnL(pos model.Position, price decimal.Decimal) decimal.Decimal {
	if pos.Quantity.IsZero() {
		return decimal.Zero
	}
	return pos.Quantity.Mul(price.Sub(pos.AverageCost))
}
