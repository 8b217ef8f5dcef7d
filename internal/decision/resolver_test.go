package decision

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
)

func staticPrices(prices map[string]string) PriceFunc {
	return func(_ context.Context, symbol string) (decimal.Decimal, error) {
		if p, ok := prices[symbol]; ok {
			return dec(p), nil
		}
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, broker.ErrPriceUnavailable)
	}
}

func TestBuyQuantityCentRounding(t *testing.T) {
	cases := []struct {
		amount, price, want string
	}{
		{"1000", "333.34", "3"},  // 2.99994 rounds to 3.00 before flooring
		{"3700", "250.5", "14"},  // 14.77 floors to 14
		{"1000", "400", "2"},     // 2.50 floors to 2
		{"100", "101", "0"},      // below one share
		{"500", "0", "0"},        // no price, no quantity
		{"1000.02", "333.34", "3"},
	}
	for _, tc := range cases {
		got := BuyQuantity(dec(tc.amount), decOrZero(tc.price))
		if !got.Equal(dec(tc.want)) {
			t.Errorf("BuyQuantity(%s, %s) = %s, want %s", tc.amount, tc.price, got, tc.want)
		}
	}
}

func decOrZero(s string) decimal.Decimal {
	if s == "0" {
		return decimal.Zero
	}
	return dec(s)
}

func TestResolveOrdersSellsBeforeBuys(t *testing.T) {
	plan := Plan{
		Buys: []BuyIntent{
			{Symbol: "TSLA", TargetAmount: dec("3700")},
		},
		Sells: []SellIntent{
			{Symbol: "AAPL", Quantity: dec("5")},
		},
		Summary: "rotate",
	}

	resolved := Resolve(context.Background(), plan, staticPrices(map[string]string{
		"AAPL": "180.00",
		"TSLA": "250.5",
	}))

	if len(resolved.Orders) != 2 {
		t.Fatalf("orders = %+v", resolved.Orders)
	}
	sell, buy := resolved.Orders[0], resolved.Orders[1]
	if sell.Side != broker.SideSell || sell.Symbol != "AAPL" {
		t.Errorf("first order = %+v, sells must come first", sell)
	}
	if !sell.Quantity.Equal(dec("5")) || !sell.Price.Equal(dec("180.00")) {
		t.Errorf("sell order = %+v", sell)
	}
	if buy.Side != broker.SideBuy || buy.Symbol != "TSLA" {
		t.Errorf("second order = %+v", buy)
	}
	if !buy.Quantity.Equal(dec("14")) {
		t.Errorf("buy quantity = %s, want 14", buy.Quantity)
	}
	if sell.ClientKey == "" || buy.ClientKey == "" || sell.ClientKey == buy.ClientKey {
		t.Error("orders must carry distinct client keys")
	}
	if resolved.Summary != "rotate" {
		t.Errorf("summary = %q", resolved.Summary)
	}
}

func TestResolveBudgetExample(t *testing.T) {
	plan := Plan{Buys: []BuyIntent{{Symbol: "AAPL", TargetAmount: dec("1000")}}}

	resolved := Resolve(context.Background(), plan, staticPrices(map[string]string{"AAPL": "333.34"}))

	if len(resolved.Orders) != 1 {
		t.Fatalf("orders = %+v", resolved.Orders)
	}
	order := resolved.Orders[0]
	if !order.Quantity.Equal(dec("3")) {
		t.Errorf("quantity = %s, want 3", order.Quantity)
	}
	if !order.Value().Equal(dec("1000.02")) {
		t.Errorf("order value = %s, want 1000.02", order.Value())
	}
}

func TestResolveSkipsUnpricedAndDustIntents(t *testing.T) {
	plan := Plan{
		Sells: []SellIntent{{Symbol: "DARK", Quantity: dec("2")}},
		Buys: []BuyIntent{
			{Symbol: "AAPL", TargetAmount: dec("50")}, // below one share at 180
			{Symbol: "MIST", TargetAmount: dec("1000")},
		},
	}

	resolved := Resolve(context.Background(), plan, staticPrices(map[string]string{"AAPL": "180.00"}))

	if len(resolved.Orders) != 0 {
		t.Fatalf("orders = %+v, want none", resolved.Orders)
	}
	reasons := map[string]string{}
	for _, s := range resolved.Skipped {
		reasons[s.Symbol] = s.Reason
	}
	if reasons["DARK"] != "price unavailable" {
		t.Errorf("DARK skip = %q", reasons["DARK"])
	}
	if reasons["MIST"] != "price unavailable" {
		t.Errorf("MIST skip = %q", reasons["MIST"])
	}
	if reasons["AAPL"] != "target amount below one share" {
		t.Errorf("AAPL skip = %q", reasons["AAPL"])
	}
}

func TestResolveCarriesParseSkips(t *testing.T) {
	plan := Plan{Skipped: []Skipped{{Symbol: "NVDA", Reason: "sell without an explicit quantity"}}}
	resolved := Resolve(context.Background(), plan, staticPrices(nil))
	if len(resolved.Skipped) != 1 || resolved.Skipped[0].Symbol != "NVDA" {
		t.Errorf("skipped = %+v", resolved.Skipped)
	}
}
