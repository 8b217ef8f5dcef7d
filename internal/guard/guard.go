// Package guard checks orders against account state and risk guardrails.
// Hard issues block submission; warnings inform but never block.
package guard

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
)

// Guardrails bound what a single order and a batch may do.
type Guardrails struct {
	// MaxOrderValue is the per-order notional ceiling.
	MaxOrderValue decimal.Decimal
	// MaxPositionPct is the concentration ceiling as a fraction (0.30 = 30%).
	MaxPositionPct decimal.Decimal
	// MinCashReserve is the cash floor a buy should not dip under.
	MinCashReserve decimal.Decimal
}

// DefaultGuardrails returns the stock limits.
func DefaultGuardrails() Guardrails {
	return Guardrails{
		MaxOrderValue:  decimal.NewFromInt(10000),
		MaxPositionPct: decimal.NewFromFloat(0.30),
		MinCashReserve: decimal.NewFromInt(100),
	}
}

// Book is the account state checks run against, valued at validation time.
type Book struct {
	Cash decimal.Decimal
	// TotalValue is holdings market value plus cash.
	TotalValue decimal.Decimal
	// PositionValues holds the current market value per held symbol.
	PositionValues map[string]decimal.Decimal
	// HeldShares holds the share count per held symbol.
	HeldShares map[string]decimal.Decimal
}

// Issue is one finding about an order.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeMaxOrderValue        = "max_order_value"
	CodeInsufficientCash     = "insufficient_cash"
	CodeCashReserve          = "cash_reserve"
	CodeConcentration        = "concentration"
	CodeInsufficientHoldings = "insufficient_holdings"
	CodeBatchCash            = "batch_cash"
)

// Result reports one order's validation. Valid is true exactly when there
// are no hard issues; warnings never flip it.
type Result struct {
	Valid      bool            `json:"valid"`
	HardIssues []Issue         `json:"hard_issues,omitempty"`
	Warnings   []Issue         `json:"warnings,omitempty"`
	OrderValue decimal.Decimal `json:"order_value"`
}

// Validate checks one order in fixed sequence: notional ceiling, then cash
// sufficiency and reserve for buys, then concentration for buys, then held
// shares for sells. All findings are collected, not short-circuited.
func Validate(order broker.Order, book Book, rails Guardrails) Result {
	res := Result{OrderValue: order.Value()}

	if res.OrderValue.GreaterThan(rails.MaxOrderValue) {
		res.HardIssues = append(res.HardIssues, Issue{
			Code: CodeMaxOrderValue,
			Message: fmt.Sprintf("order value %s exceeds the %s per-order ceiling",
				res.OrderValue.StringFixed(2), rails.MaxOrderValue.StringFixed(2)),
		})
	}

	switch order.Side {
	case broker.SideBuy:
		if res.OrderValue.GreaterThan(book.Cash) {
			res.HardIssues = append(res.HardIssues, Issue{
				Code: CodeInsufficientCash,
				Message: fmt.Sprintf("order value %s exceeds available cash %s",
					res.OrderValue.StringFixed(2), book.Cash.StringFixed(2)),
			})
		} else if book.Cash.Sub(res.OrderValue).LessThan(rails.MinCashReserve) {
			res.Warnings = append(res.Warnings, Issue{
				Code: CodeCashReserve,
				Message: fmt.Sprintf("cash after trade %s is below the %s reserve",
					book.Cash.Sub(res.OrderValue).StringFixed(2), rails.MinCashReserve.StringFixed(2)),
			})
		}

		if book.TotalValue.IsPositive() {
			existing := book.PositionValues[order.Symbol]
			weight := existing.Add(res.OrderValue).Div(book.TotalValue)
			if weight.GreaterThan(rails.MaxPositionPct) {
				res.Warnings = append(res.Warnings, Issue{
					Code: CodeConcentration,
					Message: fmt.Sprintf("%s would be %s%% of the account, above the %s%% ceiling",
						order.Symbol,
						weight.Mul(decimal.NewFromInt(100)).StringFixed(1),
						rails.MaxPositionPct.Mul(decimal.NewFromInt(100)).StringFixed(0)),
				})
			}
		}

	case broker.SideSell:
		held := book.HeldShares[order.Symbol]
		if order.Quantity.GreaterThan(held) {
			res.HardIssues = append(res.HardIssues, Issue{
				Code: CodeInsufficientHoldings,
				Message: fmt.Sprintf("insufficient holdings: have %s, need %s",
					held.String(), order.Quantity.String()),
			})
		}
	}

	res.Valid = len(res.HardIssues) == 0
	return res
}

// BatchResult reports a whole batch: per-order results in input order plus
// the batch-level cash rule.
type BatchResult struct {
	Orders      []Result        `json:"orders"`
	BatchIssues []Issue         `json:"batch_issues,omitempty"`
	Valid       bool            `json:"valid"`
	BuyTotal    decimal.Decimal `json:"buy_total"`
	Investable  decimal.Decimal `json:"investable"`
}

// ValidateBatch validates every order and applies the batch rule: the sum of
// valid buy order values must not exceed investable cash, current cash plus
// the expected proceeds of the batch's valid sells. Buys are checked against
// that investable figure, mirroring sells-first execution. A batch rule
// violation is a batch-level hard failure; the caller submits nothing.
func ValidateBatch(orders []broker.Order, book Book, rails Guardrails) BatchResult {
	batch := BatchResult{
		Orders:     make([]Result, len(orders)),
		Investable: book.Cash,
	}

	for i, order := range orders {
		if order.Side != broker.SideSell {
			continue
		}
		res := Validate(order, book, rails)
		batch.Orders[i] = res
		if res.Valid {
			batch.Investable = batch.Investable.Add(res.OrderValue)
		}
	}

	buyBook := book
	buyBook.Cash = batch.Investable
	for i, order := range orders {
		if order.Side == broker.SideSell {
			continue
		}
		res := Validate(order, buyBook, rails)
		batch.Orders[i] = res
		if res.Valid && order.Side == broker.SideBuy {
			batch.BuyTotal = batch.BuyTotal.Add(res.OrderValue)
		}
	}

	if batch.BuyTotal.GreaterThan(batch.Investable) {
		batch.BatchIssues = append(batch.BatchIssues, Issue{
			Code: CodeBatchCash,
			Message: fmt.Sprintf("batch buy total %s exceeds investable cash %s",
				batch.BuyTotal.StringFixed(2), batch.Investable.StringFixed(2)),
		})
	}

	batch.Valid = len(batch.BatchIssues) == 0
	return batch
}
