// Package reconcile replaces the local book with the broker's authoritative
// cash and holdings.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
	"github.com/hayoon/kistrade/internal/ledger"
)

// Report describes what a sync changed.
type Report struct {
	Cash      decimal.Decimal `json:"cash"`
	Positions int             `json:"positions"`
	Added     []string        `json:"added,omitempty"`
	Removed   []string        `json:"removed,omitempty"`
	Changed   []string        `json:"changed,omitempty"`
	SyncedAt  time.Time       `json:"synced_at"`
}

// Sync fetches positions and cash concurrently, joins, then swaps both into
// the book in one step. Holdings present only locally disappear; holdings
// present only at the broker appear; transaction history is untouched.
// Either fetch failing leaves the book unmodified.
func Sync(ctx context.Context, gw broker.Gateway, book *ledger.Ledger) (*Report, error) {
	var (
		wg        sync.WaitGroup
		positions []broker.Position
		posErr    error
		cash      decimal.Decimal
		cashErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		positions, posErr = gw.FetchPositions(ctx)
	}()
	go func() {
		defer wg.Done()
		cash, cashErr = gw.FetchCash(ctx)
	}()
	wg.Wait()

	if posErr != nil {
		return nil, fmt.Errorf("fetch positions: %w", posErr)
	}
	if cashErr != nil {
		return nil, fmt.Errorf("fetch cash: %w", cashErr)
	}

	before := book.Holdings()
	now := time.Now().UTC()

	holdings := make(map[string]ledger.Holding, len(positions))
	for _, pos := range positions {
		h := ledger.Holding{
			Shares:    pos.Shares,
			AvgPrice:  pos.AvgPrice,
			TotalCost: pos.Shares.Mul(pos.AvgPrice),
		}
		// The broker does not report acquisition dates; keep what the book
		// already knows for surviving symbols.
		if prev, ok := before[pos.Symbol]; ok {
			h.FirstPurchase = prev.FirstPurchase
		}
		holdings[pos.Symbol] = h
	}

	if err := book.ReplaceAll(cash, holdings, now); err != nil {
		return nil, fmt.Errorf("replace book: %w", err)
	}

	report := &Report{Cash: cash, Positions: len(holdings), SyncedAt: now}
	for symbol, h := range holdings {
		prev, ok := before[symbol]
		if !ok {
			report.Added = append(report.Added, symbol)
			continue
		}
		if !prev.Shares.Equal(h.Shares) || !prev.AvgPrice.Equal(h.AvgPrice) {
			report.Changed = append(report.Changed, symbol)
		}
	}
	for symbol := range before {
		if _, ok := holdings[symbol]; !ok {
			report.Removed = append(report.Removed, symbol)
		}
	}
	sort.Strings(report.Added)
	sort.Strings(report.Removed)
	sort.Strings(report.Changed)

	log.Info().
		Str("cash", cash.StringFixed(2)).
		Int("positions", report.Positions).
		Strs("added", report.Added).
		Strs("removed", report.Removed).
		Strs("changed", report.Changed).
		Msg("book reconciled with broker")

	return report, nil
}
