package decision

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
)

// PriceFunc resolves a reference price for a symbol.
type PriceFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// ResolvedPlan carries priced orders, sells before buys.
type ResolvedPlan struct {
	Orders  []broker.Order `json:"orders"`
	Skipped []Skipped      `json:"skipped,omitempty"`
	Summary string         `json:"summary,omitempty"`
}

// Resolve prices the plan: sell intents become sell orders at the current
// price, buy budgets become whole-share buy orders. An unavailable price or
// a budget below one share skips the intent, never fails the plan. Prices
// for distinct symbols are fetched concurrently and joined before any order
// is built.
func Resolve(ctx context.Context, plan Plan, priceOf PriceFunc) ResolvedPlan {
	resolved := ResolvedPlan{
		Summary: plan.Summary,
		Skipped: append([]Skipped(nil), plan.Skipped...),
	}

	symbols := map[string]struct{}{}
	for _, s := range plan.Sells {
		symbols[s.Symbol] = struct{}{}
	}
	for _, b := range plan.Buys {
		symbols[b.Symbol] = struct{}{}
	}
	prices := fetchPrices(ctx, symbols, priceOf)

	for _, s := range plan.Sells {
		price, ok := prices[s.Symbol]
		if !ok {
			resolved.Skipped = append(resolved.Skipped, Skipped{Symbol: s.Symbol, Reason: "price unavailable"})
			continue
		}
		resolved.Orders = append(resolved.Orders, broker.Order{
			Symbol:    s.Symbol,
			Side:      broker.SideSell,
			Quantity:  s.Quantity,
			Price:     price,
			ClientKey: uuid.NewString(),
		})
	}

	for _, b := range plan.Buys {
		price, ok := prices[b.Symbol]
		if !ok {
			resolved.Skipped = append(resolved.Skipped, Skipped{Symbol: b.Symbol, Reason: "price unavailable"})
			continue
		}
		qty := BuyQuantity(b.TargetAmount, price)
		if !qty.IsPositive() {
			resolved.Skipped = append(resolved.Skipped, Skipped{Symbol: b.Symbol, Reason: "target amount below one share"})
			continue
		}
		resolved.Orders = append(resolved.Orders, broker.Order{
			Symbol:    b.Symbol,
			Side:      broker.SideBuy,
			Quantity:  qty,
			Price:     price,
			ClientKey: uuid.NewString(),
		})
	}

	return resolved
}

// BuyQuantity converts a dollar budget into whole shares. The ratio is
// rounded to cent precision before flooring, so a budget missing a share
// boundary by a fraction of a cent still buys it: 1000 at 333.34 buys 3.
func BuyQuantity(amount, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return amount.Div(price).Round(2).Floor()
}

func fetchPrices(ctx context.Context, symbols map[string]struct{}, priceOf PriceFunc) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	if priceOf == nil || len(symbols) == 0 {
		return prices
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			price, err := priceOf(ctx, symbol)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("price unavailable, intent will be skipped")
				return
			}
			if !price.IsPositive() {
				return
			}
			mu.Lock()
			prices[symbol] = price
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return prices
}
