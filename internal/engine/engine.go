// Package engine drives order batches through validation, submission, and
// ledger settlement. Orders advance through a fixed state machine; FILLED,
// REJECTED, and ERROR are terminal.
package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
	"github.com/hayoon/kistrade/internal/guard"
	"github.com/hayoon/kistrade/internal/ledger"
	"github.com/hayoon/kistrade/internal/reconcile"
	"github.com/hayoon/kistrade/internal/session"
)

const (
	StatePending   = "PENDING"
	StateValidated = "VALIDATED"
	StateSubmitted = "SUBMITTED"
	StateFilled    = "FILLED"
	StateRejected  = "REJECTED"
	StateError     = "ERROR"
)

// OrderResult is one order's final journal entry.
type OrderResult struct {
	Order    broker.Order
	Seq      int
	State    string
	OrderID  string
	Message  string
	Warnings []guard.Issue
}

// Report summarizes one executed batch.
type Report struct {
	SessionID   string
	Orders      []OrderResult
	Submitted   int
	Filled      int
	Rejected    int
	Errors      int
	TotalBought decimal.Decimal
	TotalSold   decimal.Decimal
	Synced      bool
	SyncError   string
}

// Config wires an Engine. Journal is optional; without it transitions are
// not persisted. SkipSync suppresses the post-batch broker reconciliation.
type Config struct {
	Gateway  broker.Gateway
	Ledger   *ledger.Ledger
	Rails    guard.Guardrails
	Journal  *session.Store
	SkipSync bool
}

type Engine struct {
	gateway  broker.Gateway
	book     *ledger.Ledger
	rails    guard.Guardrails
	journal  *session.Store
	skipSync bool
}

func New(cfg Config) *Engine {
	return &Engine{
		gateway:  cfg.Gateway,
		book:     cfg.Ledger,
		rails:    cfg.Rails,
		journal:  cfg.Journal,
		skipSync: cfg.SkipSync,
	}
}

// Execute runs a batch: sells first, then buys, each order isolated. Every
// order is re-validated against the live book just before submission, so
// sell proceeds fund later buys and a rejected order never blocks the rest.
// A batch-level cash violation rejects the whole batch before anything is
// submitted. Fills settle into the ledger immediately; after the batch the
// book is reconciled against the broker unless SkipSync is set.
//
// Execute returns an error only for a missing gateway or ledger, or a
// cancelled context; rejected and errored orders are reported, not returned.
func (e *Engine) Execute(ctx context.Context, sessionID string, orders []broker.Order) (*Report, error) {
	report := &Report{
		SessionID:   sessionID,
		TotalBought: decimal.Zero,
		TotalSold:   decimal.Zero,
	}
	if len(orders) == 0 {
		return report, nil
	}
	if e.gateway == nil || e.book == nil {
		return nil, fmt.Errorf("engine needs a gateway and a ledger")
	}

	sorted := make([]broker.Order, len(orders))
	copy(sorted, orders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sideRank(sorted[i].Side) < sideRank(sorted[j].Side)
	})

	results := make([]OrderResult, len(sorted))
	for i, order := range sorted {
		results[i] = OrderResult{Order: order, Seq: i + 1, State: StatePending}
		e.record(ctx, sessionID, results[i])
	}
	report.Orders = results

	batch := guard.ValidateBatch(sorted, e.bookView(), e.rails)
	if !batch.Valid {
		msg := batch.BatchIssues[0].Message
		log.Warn().Str("session", sessionID).Str("reason", msg).Msg("batch rejected, nothing submitted")
		for i := range results {
			results[i].State = StateRejected
			results[i].Message = msg
			e.record(ctx, sessionID, results[i])
		}
		report.Rejected = len(results)
		return report, nil
	}

	for i := range results {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		e.executeOne(ctx, sessionID, &results[i], report)
	}

	if report.Submitted > 0 && !e.skipSync {
		if _, err := reconcile.Sync(ctx, e.gateway, e.book); err != nil {
			report.SyncError = err.Error()
			log.Warn().Err(err).Msg("post-batch sync failed, book may drift until the next sync")
		} else {
			report.Synced = true
		}
	}

	log.Info().
		Str("session", sessionID).
		Int("filled", report.Filled).
		Int("rejected", report.Rejected).
		Int("errors", report.Errors).
		Str("bought", report.TotalBought.StringFixed(2)).
		Str("sold", report.TotalSold.StringFixed(2)).
		Msg("batch complete")
	return report, nil
}

func (e *Engine) executeOne(ctx context.Context, sessionID string, res *OrderResult, report *Report) {
	check := guard.Validate(res.Order, e.bookView(), e.rails)
	if !check.Valid {
		res.State = StateRejected
		res.Message = check.HardIssues[0].Message
		e.record(ctx, sessionID, *res)
		report.Rejected++
		return
	}
	res.State = StateValidated
	res.Warnings = check.Warnings
	e.record(ctx, sessionID, *res)

	res.State = StateSubmitted
	e.record(ctx, sessionID, *res)
	report.Submitted++

	outcome, err := e.gateway.SubmitOrder(ctx, res.Order)
	if err != nil {
		res.State = StateError
		res.Message = err.Error()
		e.record(ctx, sessionID, *res)
		report.Errors++
		return
	}
	if !outcome.Filled() {
		res.State = StateRejected
		res.Message = fmt.Sprintf("%s: %s", outcome.Reject.Code, outcome.Reject.Message)
		e.record(ctx, sessionID, *res)
		report.Rejected++
		return
	}

	res.OrderID = outcome.Ack.OrderID
	price := outcome.Ack.ExecutedPrice
	if price.IsZero() {
		price = res.Order.Price
	}
	if err := e.settle(res.Order, price); err != nil {
		// The broker accepted the order but the local book could not
		// follow; the next sync heals the drift.
		res.State = StateError
		res.Message = fmt.Sprintf("filled as %s but book update failed: %v", res.OrderID, err)
		log.Error().Err(err).
			Str("symbol", res.Order.Symbol).
			Str("order_id", res.OrderID).
			Msg("fill accepted but ledger update failed")
		e.record(ctx, sessionID, *res)
		report.Errors++
		return
	}

	res.State = StateFilled
	e.record(ctx, sessionID, *res)
	report.Filled++
	value := res.Order.Quantity.Mul(price)
	if res.Order.Side == broker.SideBuy {
		report.TotalBought = report.TotalBought.Add(value)
	} else {
		report.TotalSold = report.TotalSold.Add(value)
	}
}

func (e *Engine) settle(order broker.Order, price decimal.Decimal) error {
	switch order.Side {
	case broker.SideBuy:
		return e.book.ApplyBuy(order.Symbol, order.Quantity, price)
	case broker.SideSell:
		_, err := e.book.ApplySell(order.Symbol, order.Quantity, price)
		return err
	}
	return fmt.Errorf("unknown order side %q", order.Side)
}

// bookView values positions at cost basis: execution-time checks need cash
// and share counts to be exact, concentration stays advisory.
func (e *Engine) bookView() guard.Book {
	holdings := e.book.Holdings()
	view := guard.Book{
		Cash:           e.book.Cash(),
		PositionValues: make(map[string]decimal.Decimal, len(holdings)),
		HeldShares:     make(map[string]decimal.Decimal, len(holdings)),
	}
	total := view.Cash
	for symbol, h := range holdings {
		view.PositionValues[symbol] = h.TotalCost
		view.HeldShares[symbol] = h.Shares
		total = total.Add(h.TotalCost)
	}
	view.TotalValue = total
	return view
}

func (e *Engine) record(ctx context.Context, sessionID string, res OrderResult) {
	if e.journal == nil || sessionID == "" {
		return
	}
	rec := session.OrderRecord{
		SessionID: sessionID,
		Seq:       res.Seq,
		Symbol:    res.Order.Symbol,
		Side:      string(res.Order.Side),
		Quantity:  res.Order.Quantity,
		Price:     res.Order.Price,
		State:     res.State,
		OrderID:   res.OrderID,
		Message:   res.Message,
	}
	if err := e.journal.SaveOrderState(ctx, rec); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Int("seq", res.Seq).Msg("journal write failed")
	}
}

func sideRank(side broker.Side) int {
	if side == broker.SideSell {
		return 0
	}
	return 1
}
