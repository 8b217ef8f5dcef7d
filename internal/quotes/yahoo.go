package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// YahooSource quotes symbols from Yahoo Finance.
type YahooSource struct {
	cache *Cache
}

func NewYahooSource(cache *Cache) *YahooSource {
	return &YahooSource{cache: cache}
}

func (s *YahooSource) Name() string { return "yahoo" }

func (s *YahooSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := s.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

func (s *YahooSource) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	var cached Quote
	if s.cache.Get("yahoo", "quote", symbol, &cached) {
		return &cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q, err := quote.Get(symbol)
	if err != nil {
		return nil, fmt.Errorf("yahoo quote %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return nil, fmt.Errorf("yahoo quote %s: %w", symbol, ErrUnavailable)
	}

	result := &Quote{
		Symbol:    symbol,
		Name:      q.ShortName,
		Price:     decimal.NewFromFloat(q.RegularMarketPrice),
		ChangePct: decimal.NewFromFloat(q.RegularMarketChangePercent),
		Volume:    int64(q.RegularMarketVolume),
		Currency:  q.CurrencyID,
		Exchange:  q.FullExchangeName,
		FetchedAt: time.Now().UTC(),
	}
	s.cache.Set("yahoo", "quote", symbol, result)
	return result, nil
}
