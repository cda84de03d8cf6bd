// Package quote supplies reference prices per instrument and derives the
// bid/ask pair the execution engine prices orders at. Quotes are volatile
// inputs: re-fetched per order, never persisted as authoritative state.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/model"
)

var (
	// ErrUnavailable is returned when the provider cannot produce a fresh
	// quote (timeout, upstream failure). Safe for the caller to retry; the
	// engine itself never retries.
	ErrUnavailable = errors.New("quote: provider unavailable")

	// ErrUnknownInstrument is returned when the symbol does not resolve to
	// a live quote.
	ErrUnknownInstrument = errors.New("quote: unknown instrument")
)

// Provider returns the current reference price for an instrument.
// Implementations must respect ctx cancellation and deadlines.
type Provider interface {
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)
}

// Derive builds a full quote from a reference price by applying the spread
// fraction on both sides: bid = ref - ref*spread, ask = ref + ref*spread.
func Derive(symbol string, reference decimal.Decimal, asOf time.Time, spread decimal.Decimal) model.Quote {
	delta := reference.Mul(spread)
	return model.Quote{
		Symbol:    symbol,
		Reference: reference,
		Bid:       reference.Sub(delta),
		Ask:       reference.Add(delta),
		AsOf:      asOf,
	}
}

// IsStale reports whether a quote is older than maxAge at the given instant.
func IsStale(q model.Quote, maxAge time.Duration, now time.Time) bool {
	return now.Sub(q.AsOf) > maxAge
}

// HTTPProvider fetches reference prices from a CoinGecko-style simple-price
// endpoint: GET {base}/simple/price?ids=<symbol>&vs_currencies=usd
// returning {"<symbol>": {"usd": <price>}}.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	spread  decimal.Decimal
}

// NewHTTPProvider creates a provider against the given base URL with a hard
// per-request timeout. On timeout the order fails fast with ErrUnavailable.
func NewHTTPProvider(baseURL string, spread decimal.Decimal, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		spread:  spread,
	}
}

func (p *HTTPProvider) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	id := strings.ToLower(symbol)
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", p.baseURL, url.QueryEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	// json.Number end to end so the price survives as an exact decimal.
	var body map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return model.Quote{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	prices, ok := body[id]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	raw, ok := prices["usd"]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s has no usd price", ErrUnknownInstrument, symbol)
	}

	ref, err := decimal.NewFromString(raw.String())
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: bad price %q", ErrUnavailable, raw)
	}

	return Derive(symbol, ref, time.Now().UTC(), p.spread), nil
}

// FixedProvider serves quotes from a static price table. Used for tests and
// local development. The zero value is unusable; use NewFixedProvider.
type FixedProvider struct {
	spread decimal.Decimal
	prices map[string]decimal.Decimal

	// AsOf, when set, stamps every quote; otherwise quotes carry time.Now.
	// Tests use it to simulate staleness.
	AsOf time.Time

	// Err, when set, is returned from every GetQuote call.
	Err error
}

// NewFixedProvider creates a provider over the given symbol → reference
// price table.
func NewFixedProvider(spread decimal.Decimal, prices map[string]decimal.Decimal) *FixedProvider {
	return &FixedProvider{spread: spread, prices: prices}
}

// SetPrice updates one instrument's reference price.
func (p *FixedProvider) SetPrice(symbol string, ref decimal.Decimal) {
	p.prices[symbol] = ref
}

func (p *FixedProvider) GetQuote(_ context.Context, symbol string) (model.Quote, error) {
	if p.Err != nil {
		return model.Quote{}, p.Err
	}
	ref, ok := p.prices[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}
	asOf := p.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	return Derive(symbol, ref, asOf, p.spread), nil
}
