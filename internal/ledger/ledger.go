package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCash rejects a buy whose cost exceeds available cash.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientHoldings rejects a sell of more shares than held.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// Holding is one position in the book. Shares may be fractional: KIS reports
// overseas balances with fractional quantities.
type Holding struct {
	Shares        decimal.Decimal `json:"shares"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	FirstPurchase time.Time       `json:"first_purchase"`
}

// Transaction is one append-only record of a book mutation.
type Transaction struct {
	Type     string          `json:"type"`
	Symbol   string          `json:"symbol"`
	Shares   decimal.Decimal `json:"shares"`
	Price    decimal.Decimal `json:"price"`
	Cost     decimal.Decimal `json:"cost"`
	Proceeds decimal.Decimal `json:"proceeds"`
	Profit   decimal.Decimal `json:"profit"`
	Date     time.Time       `json:"date"`
}

const (
	TxnBuy  = "BUY"
	TxnSell = "SELL"
)

type book struct {
	Cash         decimal.Decimal     `json:"cash"`
	Holdings     map[string]*Holding `json:"holdings"`
	Transactions []Transaction       `json:"transactions"`
	CreatedAt    time.Time           `json:"created_at"`
	SyncedAt     time.Time           `json:"synced_at"`
}

// Ledger is the file-backed cash-and-holdings book. All operations are safe
// for concurrent callers; the file on disk is replaced atomically.
type Ledger struct {
	mu          sync.Mutex
	path        string
	initialCash decimal.Decimal
	book        book
}

// Load opens the book at path. A missing file starts a fresh book with
// initialCash; so does an unreadable or undecodable one, with a warning.
// Load never fails: a broken file must not strand the trading day.
func Load(path string, initialCash decimal.Decimal) *Ledger {
	l := &Ledger{
		path:        path,
		initialCash: initialCash,
		book: book{
			Cash:      initialCash,
			Holdings:  map[string]*Holding{},
			CreatedAt: time.Now().UTC(),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("portfolio file unreadable, starting empty")
		}
		return l
	}

	var b book
	if err := json.Unmarshal(data, &b); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("portfolio file corrupt, starting empty")
		return l
	}
	if b.Holdings == nil {
		b.Holdings = map[string]*Holding{}
	}
	for symbol, h := range b.Holdings {
		if h == nil || !h.Shares.IsPositive() {
			log.Warn().Str("symbol", symbol).Msg("dropping empty holding from portfolio file")
			delete(b.Holdings, symbol)
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	l.book = b
	return l
}

// Path returns the backing file location.
func (l *Ledger) Path() string { return l.path }

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.book.Cash
}

// Holdings returns a copy of the current holdings keyed by symbol.
func (l *Ledger) Holdings() map[string]Holding {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Holding, len(l.book.Holdings))
	for symbol, h := range l.book.Holdings {
		out[symbol] = *h
	}
	return out
}

// HeldShares returns the share count for symbol, zero when not held.
func (l *Ledger) HeldShares(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.book.Holdings[symbol]; ok {
		return h.Shares
	}
	return decimal.Zero
}

// Transactions returns a copy of the transaction history, oldest first.
func (l *Ledger) Transactions() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.book.Transactions))
	copy(out, l.book.Transactions)
	return out
}

// SyncedAt returns the last reconcile time, zero when never synced.
func (l *Ledger) SyncedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.book.SyncedAt
}

// ApplyBuy records a validated purchase: weighted-average price update, cash
// decrement, BUY transaction. A cost above available cash fails with
// ErrInsufficientCash and mutates nothing.
func (l *Ledger) ApplyBuy(symbol string, shares, price decimal.Decimal) error {
	if !shares.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("buy %s: shares and price must be positive", symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cost := shares.Mul(price)
	if cost.GreaterThan(l.book.Cash) {
		return fmt.Errorf("buy %s for %s with cash %s: %w",
			symbol, cost.StringFixed(2), l.book.Cash.StringFixed(2), ErrInsufficientCash)
	}

	now := time.Now().UTC()
	if h, ok := l.book.Holdings[symbol]; ok {
		h.Shares = h.Shares.Add(shares)
		h.TotalCost = h.TotalCost.Add(cost)
		h.AvgPrice = h.TotalCost.Div(h.Shares)
	} else {
		l.book.Holdings[symbol] = &Holding{
			Shares:        shares,
			AvgPrice:      price,
			TotalCost:     cost,
			FirstPurchase: now,
		}
	}
	l.book.Cash = l.book.Cash.Sub(cost)
	l.book.Transactions = append(l.book.Transactions, Transaction{
		Type:   TxnBuy,
		Symbol: symbol,
		Shares: shares,
		Price:  price,
		Cost:   cost,
		Date:   now,
	})

	return l.persistLocked()
}

// ApplySell records a validated sale and returns the realized profit,
// shares × (price − avg price). Selling more than held fails with
// ErrInsufficientHoldings and mutates nothing; a position sold to zero is
// removed from the book.
func (l *Ledger) ApplySell(symbol string, shares, price decimal.Decimal) (decimal.Decimal, error) {
	if !shares.IsPositive() || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("sell %s: shares and price must be positive", symbol)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.book.Holdings[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("sell %s: not held: %w", symbol, ErrInsufficientHoldings)
	}
	if shares.GreaterThan(h.Shares) {
		return decimal.Zero, fmt.Errorf("sell %s: have %s, need %s: %w",
			symbol, h.Shares.String(), shares.String(), ErrInsufficientHoldings)
	}

	proceeds := shares.Mul(price)
	costBasis := shares.Mul(h.AvgPrice)
	profit := proceeds.Sub(costBasis)

	h.Shares = h.Shares.Sub(shares)
	h.TotalCost = h.TotalCost.Sub(costBasis)
	if !h.Shares.IsPositive() {
		delete(l.book.Holdings, symbol)
	}
	l.book.Cash = l.book.Cash.Add(proceeds)
	l.book.Transactions = append(l.book.Transactions, Transaction{
		Type:     TxnSell,
		Symbol:   symbol,
		Shares:   shares,
		Price:    price,
		Proceeds: proceeds,
		Profit:   profit,
		Date:     time.Now().UTC(),
	})

	if err := l.persistLocked(); err != nil {
		return profit, err
	}
	return profit, nil
}

// ReplaceAll swaps in the broker's authoritative cash and holdings in one
// step and stamps the sync time. Transaction history and creation time are
// untouched. Entries with non-positive shares are dropped.
func (l *Ledger) ReplaceAll(cash decimal.Decimal, holdings map[string]Holding, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]*Holding, len(holdings))
	for symbol, h := range holdings {
		if !h.Shares.IsPositive() {
			continue
		}
		cp := h
		if cp.FirstPurchase.IsZero() {
			cp.FirstPurchase = at
		}
		next[symbol] = &cp
	}

	l.book.Cash = cash
	l.book.Holdings = next
	l.book.SyncedAt = at

	return l.persistLocked()
}

func (l *Ledger) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), "ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.book); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

// PositionView is a holding annotated with market data at snapshot time.
type PositionView struct {
	Symbol        string          `json:"symbol"`
	Shares        decimal.Decimal `json:"shares"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	LastPrice     decimal.Decimal `json:"last_price"`
	PriceKnown    bool            `json:"price_known"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	Profit        decimal.Decimal `json:"profit"`
	ProfitPct     decimal.Decimal `json:"profit_pct"`
	FirstPurchase time.Time       `json:"first_purchase"`
}

// Snapshot is a consistent valuation of the whole book.
type Snapshot struct {
	Cash       decimal.Decimal `json:"cash"`
	Positions  []PositionView  `json:"positions"`
	StockValue decimal.Decimal `json:"stock_value"`
	TotalValue decimal.Decimal `json:"total_value"`
	CashPct    decimal.Decimal `json:"cash_pct"`
	StockPct   decimal.Decimal `json:"stock_pct"`
	SyncedAt   time.Time       `json:"synced_at"`
	TakenAt    time.Time       `json:"taken_at"`
}

// PriceFunc resolves the current price for a symbol. An error marks the
// price unavailable; the position is then valued at cost, never at zero.
type PriceFunc func(ctx context.Context, symbol string) (decimal.Decimal, error)

// Snapshot values the book with priceOf. Lookups for distinct symbols run
// concurrently and all complete before the snapshot is assembled.
func (l *Ledger) Snapshot(ctx context.Context, priceOf PriceFunc) Snapshot {
	l.mu.Lock()
	cash := l.book.Cash
	syncedAt := l.book.SyncedAt
	holdings := make(map[string]Holding, len(l.book.Holdings))
	for symbol, h := range l.book.Holdings {
		holdings[symbol] = *h
	}
	l.mu.Unlock()

	symbols := make([]string, 0, len(holdings))
	for symbol := range holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	type priced struct {
		price decimal.Decimal
		known bool
	}
	prices := make([]priced, len(symbols))
	if priceOf != nil {
		var wg sync.WaitGroup
		for i, symbol := range symbols {
			wg.Add(1)
			go func(i int, symbol string) {
				defer wg.Done()
				price, err := priceOf(ctx, symbol)
				if err != nil || !price.IsPositive() {
					if err != nil {
						log.Debug().Err(err).Str("symbol", symbol).Msg("price unavailable, valuing at cost")
					}
					return
				}
				prices[i] = priced{price: price, known: true}
			}(i, symbol)
		}
		wg.Wait()
	}

	snap := Snapshot{
		Cash:     cash,
		SyncedAt: syncedAt,
		TakenAt:  time.Now().UTC(),
	}
	for i, symbol := range symbols {
		h := holdings[symbol]
		pv := PositionView{
			Symbol:        symbol,
			Shares:        h.Shares,
			AvgPrice:      h.AvgPrice,
			CostBasis:     h.TotalCost,
			FirstPurchase: h.FirstPurchase,
		}
		if prices[i].known {
			pv.LastPrice = prices[i].price
			pv.PriceKnown = true
			pv.CurrentValue = h.Shares.Mul(prices[i].price)
			pv.Profit = pv.CurrentValue.Sub(pv.CostBasis)
			if pv.CostBasis.IsPositive() {
				pv.ProfitPct = pv.Profit.Div(pv.CostBasis).Mul(decimal.NewFromInt(100))
			}
		} else {
			pv.CurrentValue = pv.CostBasis
		}
		snap.StockValue = snap.StockValue.Add(pv.CurrentValue)
		snap.Positions = append(snap.Positions, pv)
	}

	snap.TotalValue = snap.Cash.Add(snap.StockValue)
	if snap.TotalValue.IsPositive() {
		hundred := decimal.NewFromInt(100)
		snap.CashPct = snap.Cash.Div(snap.TotalValue).Mul(hundred)
		snap.StockPct = snap.StockValue.Div(snap.TotalValue).Mul(hundred)
	}
	return snap
}

// HoldingPerf names a holding with its return at snapshot time.
type HoldingPerf struct {
	Symbol    string          `json:"symbol"`
	Profit    decimal.Decimal `json:"profit"`
	ProfitPct decimal.Decimal `json:"profit_pct"`
}

// Performance summarizes the book against its initial funding.
type Performance struct {
	TotalValue   decimal.Decimal `json:"total_value"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	ProfitPct    decimal.Decimal `json:"profit_pct"`
	Best         *HoldingPerf    `json:"best,omitempty"`
	Worst        *HoldingPerf    `json:"worst,omitempty"`
	Transactions int             `json:"transactions"`
}

// Performance computes overall return from an already-taken snapshot.
// Best and worst consider only positions with a known price.
func (l *Ledger) Performance(snap Snapshot) Performance {
	l.mu.Lock()
	initial := l.initialCash
	txns := len(l.book.Transactions)
	l.mu.Unlock()

	perf := Performance{
		TotalValue:   snap.TotalValue,
		TotalProfit:  snap.TotalValue.Sub(initial),
		Transactions: txns,
	}
	if initial.IsPositive() {
		perf.ProfitPct = perf.TotalProfit.Div(initial).Mul(decimal.NewFromInt(100))
	}

	for _, pv := range snap.Positions {
		if !pv.PriceKnown {
			continue
		}
		hp := HoldingPerf{Symbol: pv.Symbol, Profit: pv.Profit, ProfitPct: pv.ProfitPct}
		if perf.Best == nil || hp.ProfitPct.GreaterThan(perf.Best.ProfitPct) {
			b := hp
			perf.Best = &b
		}
		if perf.Worst == nil || hp.ProfitPct.LessThan(perf.Worst.ProfitPct) {
			w := hp
			perf.Worst = &w
		}
	}
	return perf
}
