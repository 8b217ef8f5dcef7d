package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	lpquote "github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"
)

// LongportConfig carries the Longport OpenAPI credentials.
type LongportConfig struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

// LongportSource quotes symbols through the Longport OpenAPI.
type LongportSource struct {
	quoteCtx *lpquote.QuoteContext
}

func NewLongportSource(cfg LongportConfig) (*LongportSource, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" || cfg.AccessToken == "" {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.AppKey, cfg.AppSecret, cfg.AccessToken))
	if err != nil {
		return nil, err
	}
	quoteCtx, err := lpquote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}
	return &LongportSource{quoteCtx: quoteCtx}, nil
}

func (s *LongportSource) Name() string { return "longport" }

func (s *LongportSource) Close() error {
	if s.quoteCtx != nil {
		s.quoteCtx.Close()
	}
	return nil
}

func (s *LongportSource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := s.Quote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

func (s *LongportSource) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if s.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	symbol = NormalizeSymbol(symbol)

	securities, err := s.quoteCtx.Quote(ctx, []string{toLongportSymbol(symbol)})
	if err != nil {
		return nil, fmt.Errorf("longport quote %s: %w", symbol, err)
	}
	if len(securities) == 0 || securities[0] == nil || securities[0].LastDone == nil {
		return nil, fmt.Errorf("longport quote %s: %w", symbol, ErrUnavailable)
	}

	sec := securities[0]
	result := &Quote{
		Symbol:    symbol,
		Price:     *sec.LastDone,
		Volume:    sec.Volume,
		FetchedAt: time.Now().UTC(),
	}
	if sec.PrevClose != nil && sec.PrevClose.IsPositive() {
		result.ChangePct = sec.LastDone.Sub(*sec.PrevClose).
			Div(*sec.PrevClose).
			Mul(decimal.NewFromInt(100))
	}
	return result, nil
}

// toLongportSymbol appends the US market suffix Longport expects for bare
// tickers.
func toLongportSymbol(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + ".US"
}
