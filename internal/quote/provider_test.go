package quote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/quote"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestDerive_SpreadOnBothSides(t *testing.T) {
	q := quote.Derive("BTC", d(100), time.Now(), d(0.001))
	if !q.Bid.Equal(d(99.9)) {
		t.Errorf("bid = %s, want 99.9", q.Bid)
	}
	if !q.Ask.Equal(d(100.1)) {
		t.Errorf("ask = %s, want 100.1", q.Ask)
	}
	if !q.Reference.Equal(d(100)) {
		t.Errorf("reference = %s, want 100", q.Reference)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now().UTC()
	q := quote.Derive("BTC", d(100), now.Add(-time.Minute), d(0.001))
	if !quote.IsStale(q, 30*time.Second, now) {
		t.Error("minute-old quote should be stale at a 30s threshold")
	}
	if quote.IsStale(q, 2*time.Minute, now) {
		t.Error("minute-old quote should be fresh at a 2m threshold")
	}
}

func TestHTTPProvider_ParsesSimplePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "bitcoin" {
			t.Errorf("ids = %q, want bitcoin", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin":{"usd":64250.37}}`))
	}))
	defer srv.Close()

	p := quote.NewHTTPProvider(srv.URL, d(0.001), 2*time.Second)
	q, err := p.GetQuote(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Reference.Equal(d(64250.37)) {
		t.Errorf("reference = %s, want 64250.37", q.Reference)
	}
	if !q.Ask.GreaterThan(q.Bid) {
		t.Errorf("ask %s should exceed bid %s", q.Ask, q.Bid)
	}
}

func TestHTTPProvider_UnknownInstrument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := quote.NewHTTPProvider(srv.URL, d(0.001), 2*time.Second)
	_, err := p.GetQuote(context.Background(), "notacoin")
	if !errors.Is(err, quote.ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestHTTPProvider_UpstreamErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := quote.NewHTTPProvider(srv.URL, d(0.001), 2*time.Second)
	_, err := p.GetQuote(context.Background(), "bitcoin")
	if !errors.Is(err, quote.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPProvider_TimeoutFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"bitcoin":{"usd":1}}`))
	}))
	defer srv.Close()

	p := quote.NewHTTPProvider(srv.URL, d(0.001), 20*time.Millisecond)
	_, err := p.GetQuote(context.Background(), "bitcoin")
	if !errors.Is(err, quote.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on timeout, got %v", err)
	}
}

func TestFixedProvider(t *testing.T) {
	p := quote.NewFixedProvider(d(0.001), map[string]decimal.Decimal{"BTC": d(50000)})

	q, err := p.GetQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.Reference.Equal(d(50000)) {
		t.Errorf("reference = %s, want 50000", q.Reference)
	}

	if _, err := p.GetQuote(context.Background(), "ETH"); !errors.Is(err, quote.ErrUnknownInstrument) {
		t.Errorf("expected ErrUnknownInstrument for unlisted symbol, got %v", err)
	}
}
