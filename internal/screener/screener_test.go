package screener

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"golang.org/x/time/rate"

	"github.com/hayoon/kistrade/internal/quotes"
)

func strongMomentum(symbol string) *finance.Equity {
	return &finance.Equity{
		Quote: finance.Quote{
			Symbol:                     symbol,
			ShortName:                  symbol + " Inc.",
			RegularMarketPrice:         99,
			RegularMarketChangePercent: 12,
			FiftyTwoWeekHigh:           100,
			FiftyTwoWeekLow:            45,
		},
	}
}

func newTestScreener(t *testing.T, fetch func(string) (*finance.Equity, error)) *Screener {
	t.Helper()
	s := New(quotes.NewCache(t.TempDir(), time.Minute, false))
	s.limiter = rate.NewLimiter(rate.Inf, 1)
	s.fetch = fetch
	return s
}

func TestScoreMomentum(t *testing.T) {
	score, reasons := scoreMomentum(strongMomentum("NVDA"))
	if score != 100 {
		t.Fatalf("score = %d, want 100", score)
	}
	joined := strings.Join(reasons, ", ")
	for _, want := range []string{"up 12.0% today", "near its 52-week high"} {
		if !strings.Contains(joined, want) {
			t.Errorf("reasons %q missing %q", joined, want)
		}
	}
}

func TestScoreMomentumQuietStock(t *testing.T) {
	eq := &finance.Equity{Quote: finance.Quote{
		RegularMarketPrice:         50,
		RegularMarketChangePercent: 0.5,
		FiftyTwoWeekHigh:           80,
		FiftyTwoWeekLow:            45,
	}}
	score, _ := scoreMomentum(eq)
	// Only the yearly range band fires: (80-45)/45 is roughly 78%.
	if score != 15 {
		t.Fatalf("score = %d, want 15", score)
	}
}

func TestScoreValue(t *testing.T) {
	eq := &finance.Equity{
		Quote:                       finance.Quote{RegularMarketPrice: 100},
		PriceToBook:                 0.8,
		TrailingPE:                  8,
		TrailingAnnualDividendYield: 0.05,
		EpsTrailingTwelveMonths:     10,
	}
	score, reasons := scoreValue(eq)
	if score != 100 {
		t.Fatalf("score = %d, want 100", score)
	}
	joined := strings.Join(reasons, ", ")
	for _, want := range []string{"below book value", "P/E 8.0", "dividend 5.0%", "earnings yield 10.0%"} {
		if !strings.Contains(joined, want) {
			t.Errorf("reasons %q missing %q", joined, want)
		}
	}
}

func TestScoreValueIgnoresMissingFundamentals(t *testing.T) {
	eq := &finance.Equity{Quote: finance.Quote{RegularMarketPrice: 100}}
	if score, _ := scoreValue(eq); score != 0 {
		t.Fatalf("score = %d, want 0 with no fundamentals", score)
	}
}

func TestScoreGrowth(t *testing.T) {
	eq := &finance.Equity{
		Quote: finance.Quote{
			RegularMarketPrice:   125,
			FiftyDayAverage:      115,
			TwoHundredDayAverage: 100,
		},
		EpsTrailingTwelveMonths: 10,
		EpsForward:              13,
	}
	score, _ := scoreGrowth(eq)
	if score != 100 {
		t.Fatalf("score = %d, want 100", score)
	}
}

func TestScanFiltersAndRanks(t *testing.T) {
	fetch := func(symbol string) (*finance.Equity, error) {
		switch symbol {
		case "NVDA":
			return strongMomentum(symbol), nil
		case "AAPL":
			// Two bands at 30 each: just over the keep line.
			return &finance.Equity{Quote: finance.Quote{
				Symbol:                     symbol,
				RegularMarketPrice:         92,
				RegularMarketChangePercent: 6,
				FiftyTwoWeekHigh:           100,
			}}, nil
		default:
			return nil, errors.New("quote unavailable")
		}
	}

	picks, err := newTestScreener(t, fetch).Scan(context.Background(), StrategyMomentum)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(picks) != 2 {
		t.Fatalf("got %d picks, want 2: %v", len(picks), picks)
	}
	if picks[0].Symbol != "NVDA" || picks[0].Score != 100 {
		t.Fatalf("top pick = %+v, want NVDA at 100", picks[0])
	}
	if picks[1].Symbol != "AAPL" || picks[1].Score != 60 {
		t.Fatalf("second pick = %+v, want AAPL at 60", picks[1])
	}
}

func TestScanTrimsToTopN(t *testing.T) {
	fetch := func(symbol string) (*finance.Equity, error) {
		return strongMomentum(symbol), nil
	}

	picks, err := newTestScreener(t, fetch).Scan(context.Background(), StrategyMomentum)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(picks) != 5 {
		t.Fatalf("got %d picks, want 5", len(picks))
	}
	// Ties break on symbol, so the alphabetical head of the universe leads.
	if picks[0].Symbol != "AAPL" {
		t.Fatalf("first pick = %s, want AAPL", picks[0].Symbol)
	}
}

func TestScanUnknownStrategy(t *testing.T) {
	s := newTestScreener(t, func(string) (*finance.Equity, error) {
		return nil, errors.New("unreachable")
	})
	if _, err := s.Scan(context.Background(), Strategy("sentiment")); err == nil {
		t.Fatal("expected an error for an unknown strategy")
	}
}

func TestScanHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScreener(t, func(string) (*finance.Equity, error) {
		return strongMomentum("NVDA"), nil
	})
	if _, err := s.Scan(ctx, StrategyMomentum); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestCandidateString(t *testing.T) {
	c := Candidate{Symbol: "NVDA", Strategy: StrategyMomentum, Score: 80, Reasons: []string{"up 4.2% today"}}
	got := c.String()
	if got != "NVDA [momentum 80] up 4.2% today" {
		t.Fatalf("String() = %q", got)
	}
}
