// Package screener ranks candidate symbols with simple factor models over
// Yahoo quote fundamentals. Scores run 0-100 per strategy; anything under 60
// is dropped and the rest is trimmed to the top picks.
package screener

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/equity"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/hayoon/kistrade/internal/quotes"
)

// Strategy selects one of the factor models.
type Strategy string

const (
	StrategyMomentum Strategy = "momentum"
	StrategyValue    Strategy = "value"
	StrategyGrowth   Strategy = "growth"
)

const keepScore = 60

// Candidate is one symbol that cleared a strategy's bar.
type Candidate struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Strategy Strategy        `json:"strategy"`
	Score    int             `json:"score"`
	Price    decimal.Decimal `json:"price"`
	Reasons  []string        `json:"reasons"`
}

// String renders the one-line form fed to the committee prompt.
func (c Candidate) String() string {
	if len(c.Reasons) == 0 {
		return fmt.Sprintf("%s [%s %d]", c.Symbol, c.Strategy, c.Score)
	}
	return fmt.Sprintf("%s [%s %d] %s", c.Symbol, c.Strategy, c.Score, strings.Join(c.Reasons, ", "))
}

// Static universes per strategy. Symbol discovery APIs need paid keys, so the
// lists stay fixed the same way the symbol search fallback does.
var universes = map[Strategy][]string{
	StrategyMomentum: {
		"AAPL", "MSFT", "NVDA", "META", "TSLA", "AMZN",
		"GOOGL", "AMD", "AVGO", "NFLX", "CRM", "ORCL",
	},
	StrategyValue: {
		"JPM", "BAC", "WFC", "C", "GS", "VZ",
		"T", "PFE", "CVX", "XOM", "KO", "INTC",
	},
	StrategyGrowth: {
		"NVDA", "AMD", "CRM", "NOW", "SHOP", "PLTR",
		"SNOW", "NET", "CRWD", "DDOG", "PANW", "UBER",
	},
}

// Strategies returns the scan order.
func Strategies() []Strategy {
	return []Strategy{StrategyMomentum, StrategyValue, StrategyGrowth}
}

// Screener fetches quote fundamentals for each universe symbol and scores
// them. Fetches are paced by a shared limiter so a full scan stays inside
// Yahoo's unauthenticated tolerance.
type Screener struct {
	cache   *quotes.Cache
	limiter *rate.Limiter
	topN    int
	fetch   func(symbol string) (*finance.Equity, error)
}

// New builds a screener with the default pacing of five fetches a second.
func New(cache *quotes.Cache) *Screener {
	return &Screener{
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		topN:    5,
		fetch:   equity.Get,
	}
}

// SetTopN overrides how many candidates each strategy keeps.
func (s *Screener) SetTopN(n int) {
	if n > 0 {
		s.topN = n
	}
}

// Scan runs one strategy over its universe and returns the kept candidates,
// best first.
func (s *Screener) Scan(ctx context.Context, strategy Strategy) ([]Candidate, error) {
	symbols, ok := universes[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy: %s", strategy)
	}

	var cached []Candidate
	if s.cache.Get("screener", "scan", string(strategy), &cached) {
		return cached, nil
	}

	kept := make([]Candidate, 0, s.topN)
	for _, symbol := range symbols {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		eq, err := s.fetch(symbol)
		if err != nil || eq == nil {
			log.Debug().Str("symbol", symbol).Err(err).Msg("screener skipping symbol")
			continue
		}
		c := scoreEquity(strategy, eq)
		if c.Score >= keepScore {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Symbol < kept[j].Symbol
	})
	if len(kept) > s.topN {
		kept = kept[:s.topN]
	}

	s.cache.Set("screener", "scan", string(strategy), kept)
	return kept, nil
}

// ScanAll runs every strategy in order and keys the results by strategy.
func (s *Screener) ScanAll(ctx context.Context) (map[Strategy][]Candidate, error) {
	results := make(map[Strategy][]Candidate, len(universes))
	for _, strategy := range Strategies() {
		picks, err := s.Scan(ctx, strategy)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", strategy, err)
		}
		results[strategy] = picks
	}
	return results, nil
}

func scoreEquity(strategy Strategy, eq *finance.Equity) Candidate {
	c := Candidate{
		Symbol:   eq.Symbol,
		Name:     eq.ShortName,
		Strategy: strategy,
		Price:    decimal.NewFromFloat(eq.RegularMarketPrice),
	}
	switch strategy {
	case StrategyMomentum:
		c.Score, c.Reasons = scoreMomentum(eq)
	case StrategyValue:
		c.Score, c.Reasons = scoreValue(eq)
	case StrategyGrowth:
		c.Score, c.Reasons = scoreGrowth(eq)
	}
	return c
}
