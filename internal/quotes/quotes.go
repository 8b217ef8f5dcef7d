// Package quotes provides reference prices for valuing snapshots. Sources
// here only annotate views; execution pricing always comes from the broker
// gateway.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
)

// ErrUnavailable reports that a source could not produce a usable quote.
var ErrUnavailable = errors.New("quote unavailable")

// Quote is one symbol's market view at fetch time.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name,omitempty"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Volume    int64           `json:"volume"`
	Currency  string          `json:"currency,omitempty"`
	Exchange  string          `json:"exchange,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Source produces quotes for one provider.
type Source interface {
	Name() string
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// NormalizeSymbol converts a symbol to standard format.
func NormalizeSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}

// ValidateSymbol checks that a symbol looks like a ticker.
func ValidateSymbol(symbol string) error {
	symbol = NormalizeSymbol(symbol)
	if len(symbol) == 0 {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(symbol) > 10 {
		return fmt.Errorf("symbol too long: %s", symbol)
	}
	return nil
}

// GatewaySource prices symbols through the broker gateway itself.
type GatewaySource struct {
	gw broker.Gateway
}

func NewGatewaySource(gw broker.Gateway) *GatewaySource {
	return &GatewaySource{gw: gw}
}

func (s *GatewaySource) Name() string { return "kis" }

func (s *GatewaySource) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := s.gw.GetPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, broker.ErrPriceUnavailable) {
			return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrUnavailable)
		}
		return decimal.Zero, err
	}
	return price, nil
}

func (s *GatewaySource) Quote(ctx context.Context, symbol string) (*Quote, error) {
	price, err := s.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Symbol:    NormalizeSymbol(symbol),
		Price:     price,
		FetchedAt: time.Now().UTC(),
	}, nil
}
