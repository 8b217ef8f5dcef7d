package trading

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/config"
	"github.com/hayoon/kistrade/internal/broker"
	"github.com/hayoon/kistrade/internal/engine"
	"github.com/hayoon/kistrade/internal/quotes"
	"github.com/hayoon/kistrade/internal/session"
)

type fakeGateway struct {
	prices    map[string]decimal.Decimal
	cash      decimal.Decimal
	positions []broker.Position
	submitted []broker.Order
}

func (g *fakeGateway) Authenticate(ctx context.Context) error { return nil }

func (g *fakeGateway) FetchPositions(ctx context.Context) ([]broker.Position, error) {
	return g.positions, nil
}

func (g *fakeGateway) FetchCash(ctx context.Context) (decimal.Decimal, error) {
	return g.cash, nil
}

func (g *fakeGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := g.prices[symbol]; ok {
		return price, nil
	}
	return decimal.Zero, broker.ErrPriceUnavailable
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, order broker.Order) (broker.OrderOutcome, error) {
	g.submitted = append(g.submitted, order)
	return broker.OrderOutcome{Ack: &broker.OrderAck{
		OrderID:       fmt.Sprintf("ord-%d", len(g.submitted)),
		ExecutedPrice: order.Price,
	}}, nil
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:            filepath.Join(dir, "data"),
		CacheDir:           filepath.Join(dir, "cache"),
		ResultsDir:         filepath.Join(dir, "results"),
		ExchangeSegments:   []string{"NASD"},
		TradeCurrency:      "USD",
		MaxOrderValue:      10000,
		MaxPositionPct:     0.30,
		MinCashReserve:     0,
		InitialCash:        1000,
		QuoteSource:        "kis",
		CacheTTLMinutes:    15,
		HTTPTimeoutSeconds: 5,
		BrokerRateLimit:    100,
		BrokerRateBurst:    10,
		SessionTTLMinutes:  60,
		ScreenerTopN:       5,
		LogLevel:           "info",
	}
}

func newTestApp(t *testing.T, gw *fakeGateway) *App {
	t.Helper()
	app, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { app.Close() })

	app.gateway = gw
	app.source = quotes.NewGatewaySource(gw)
	return app
}

func writePlanFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write plan file: %v", err)
	}
	return path
}

func TestProposeAndExecuteRoundTrip(t *testing.T) {
	gw := &fakeGateway{prices: map[string]decimal.Decimal{
		"AAPL": dec(150),
		"MSFT": dec(200),
	}}
	app := newTestApp(t, gw)
	if err := app.book.ApplyBuy("AAPL", dec(5), dec(100)); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	planFile := writePlanFile(t, `{
		"sells": [{"symbol": "AAPL", "action": "sell", "quantity": 2, "reason": "trim"}],
		"buys": [{"symbol": "MSFT", "target_amount": 400, "reason": "add"}],
		"summary": "trim AAPL, add MSFT"
	}`)

	ctx := context.Background()
	proposal, err := app.Propose(ctx, ProposeOptions{PlanFile: planFile})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposal.SessionID == "" {
		t.Fatal("proposal did not create a session")
	}
	if len(proposal.Plan.Orders) != 2 {
		t.Fatalf("got %d orders, want 2: %+v", len(proposal.Plan.Orders), proposal.Plan.Orders)
	}
	if !proposal.Validation.Valid {
		t.Fatalf("validation failed: %+v", proposal.Validation)
	}
	if proposal.Source != "file" {
		t.Fatalf("source = %q, want file", proposal.Source)
	}

	orders, err := app.store.ListOrders(ctx, proposal.SessionID)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 2 || orders[0].State != engine.StatePending {
		t.Fatalf("journal after propose = %+v", orders)
	}
	if orders[0].Symbol != "AAPL" || orders[0].Side != "SELL" {
		t.Fatalf("seq 1 = %+v, want the AAPL sell first", orders[0])
	}

	report, err := app.Execute(ctx, ExecuteOptions{SkipSync: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Filled != 2 || report.Submitted != 2 {
		t.Fatalf("report = %+v, want 2 submitted and filled", report)
	}

	// Sell 2 AAPL at 150, then buy 2 MSFT at 200: 500 + 300 - 400.
	if !app.book.Cash().Equal(dec(400)) {
		t.Fatalf("cash = %s, want 400", app.book.Cash())
	}
	if !app.book.HeldShares("MSFT").Equal(dec(2)) {
		t.Fatalf("MSFT shares = %s, want 2", app.book.HeldShares("MSFT"))
	}
	if !app.book.HeldShares("AAPL").Equal(dec(3)) {
		t.Fatalf("AAPL shares = %s, want 3", app.book.HeldShares("AAPL"))
	}

	rec, err := app.store.GetSession(ctx, proposal.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Status != session.StatusExecuted {
		t.Fatalf("session status = %s, want executed", rec.Status)
	}

	journal, err := app.store.ListOrders(ctx, proposal.SessionID)
	if err != nil {
		t.Fatalf("ListOrders after execute: %v", err)
	}
	for _, rec := range journal {
		if rec.State != engine.StateFilled || rec.OrderID == "" {
			t.Fatalf("journal entry = %+v, want FILLED with an order id", rec)
		}
	}

	if _, err := app.Execute(ctx, ExecuteOptions{SkipSync: true}); err == nil {
		t.Fatal("second execute should fail, the session is consumed")
	}
}

func TestProposeNothingActionable(t *testing.T) {
	gw := &fakeGateway{prices: map[string]decimal.Decimal{}}
	app := newTestApp(t, gw)

	planFile := writePlanFile(t, `{"sells": [], "buys": [], "summary": "hold everything"}`)

	proposal, err := app.Propose(context.Background(), ProposeOptions{PlanFile: planFile})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposal.SessionID != "" {
		t.Fatalf("empty plan created session %s", proposal.SessionID)
	}

	pending, err := app.store.LatestPending(context.Background())
	if err != nil {
		t.Fatalf("LatestPending: %v", err)
	}
	if pending != nil {
		t.Fatalf("unexpected pending session: %+v", pending)
	}
}

func TestProposeSkipsUnheldSell(t *testing.T) {
	gw := &fakeGateway{prices: map[string]decimal.Decimal{"TSLA": dec(250)}}
	app := newTestApp(t, gw)

	planFile := writePlanFile(t, `{
		"sells": [{"symbol": "TSLA", "action": "sell", "quantity": 3, "reason": "never held"}],
		"buys": [],
		"summary": "phantom sell"
	}`)

	proposal, err := app.Propose(context.Background(), ProposeOptions{PlanFile: planFile})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposal.SessionID != "" {
		t.Fatal("skipped-only plan should not create a session")
	}
	if len(proposal.Plan.Skipped) != 1 {
		t.Fatalf("skipped = %+v, want one entry", proposal.Plan.Skipped)
	}
	if !strings.Contains(proposal.Plan.Skipped[0].Reason, "not held") {
		t.Fatalf("skip reason = %q", proposal.Plan.Skipped[0].Reason)
	}
}

func TestExecuteWithoutPendingSession(t *testing.T) {
	app := newTestApp(t, &fakeGateway{})

	_, err := app.Execute(context.Background(), ExecuteOptions{})
	if err == nil || !strings.Contains(err.Error(), "no pending session") {
		t.Fatalf("err = %v, want no pending session", err)
	}
}

func TestSyncReplacesBook(t *testing.T) {
	gw := &fakeGateway{
		cash: dec(2500),
		positions: []broker.Position{
			{Symbol: "GOOG", Shares: dec(4), AvgPrice: dec(120)},
		},
		prices: map[string]decimal.Decimal{"GOOG": dec(130)},
	}
	app := newTestApp(t, gw)
	if err := app.book.ApplyBuy("AAPL", dec(2), dec(100)); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	report, err := app.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if report.Positions != 1 || !report.Cash.Equal(dec(2500)) {
		t.Fatalf("report = %+v", report)
	}
	if !app.book.HeldShares("AAPL").IsZero() {
		t.Fatal("AAPL should be gone after sync")
	}
	if !app.book.HeldShares("GOOG").Equal(dec(4)) {
		t.Fatalf("GOOG shares = %s, want 4", app.book.HeldShares("GOOG"))
	}
}

func TestStatusReportsPendingSession(t *testing.T) {
	gw := &fakeGateway{prices: map[string]decimal.Decimal{"AAPL": dec(150)}}
	app := newTestApp(t, gw)
	if err := app.book.ApplyBuy("AAPL", dec(5), dec(100)); err != nil {
		t.Fatalf("seed book: %v", err)
	}

	planFile := writePlanFile(t, `{
		"sells": [{"symbol": "AAPL", "action": "sell", "quantity": 1, "reason": "trim"}],
		"buys": [],
		"summary": "small trim"
	}`)
	ctx := context.Background()
	proposal, err := app.Propose(ctx, ProposeOptions{PlanFile: planFile})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	status, err := app.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Pending == nil || status.Pending.ID != proposal.SessionID {
		t.Fatalf("status pending = %+v, want session %s", status.Pending, proposal.SessionID)
	}
	if len(status.Snapshot.Positions) != 1 || status.Snapshot.Positions[0].Symbol != "AAPL" {
		t.Fatalf("snapshot positions = %+v", status.Snapshot.Positions)
	}
	if status.Risk.Score == 0 {
		t.Fatal("single-position book should carry a non-zero risk score")
	}
}
