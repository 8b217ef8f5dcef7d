package committee

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/ledger"
)

func pos(symbol string, value, profitPct float64) ledger.PositionView {
	return ledger.PositionView{
		Symbol:       symbol,
		PriceKnown:   true,
		CurrentValue: decimal.NewFromFloat(value),
		ProfitPct:    decimal.NewFromFloat(profitPct),
	}
}

func snap(cash float64, positions ...ledger.PositionView) ledger.Snapshot {
	s := ledger.Snapshot{
		Cash:      decimal.NewFromFloat(cash),
		Positions: positions,
	}
	for _, pv := range positions {
		s.StockValue = s.StockValue.Add(pv.CurrentValue)
	}
	s.TotalValue = s.Cash.Add(s.StockValue)
	return s
}

func hasRisk(t *testing.T, risks []string, want string) {
	t.Helper()
	for _, r := range risks {
		if strings.Contains(r, want) {
			return
		}
	}
	t.Fatalf("risk %q not found in %v", want, risks)
}

func TestAssessRiskEmptyBook(t *testing.T) {
	a := AssessRisk(snap(1000))
	if a.Score != 0 {
		t.Fatalf("empty book score = %d, want 0", a.Score)
	}
	hasRisk(t, a.MainRisks, "no holdings")
}

func TestAssessRiskSinglePosition(t *testing.T) {
	a := AssessRisk(snap(4000, pos("AAPL", 4000, 0)))

	// 40 concentration + 0 volatility + 20 diversification.
	if a.Score != 60 {
		t.Fatalf("score = %d, want 60", a.Score)
	}
	if a.MaxWeightSymbol != "AAPL" || !a.MaxWeightPct.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("max weight = %s %s", a.MaxWeightSymbol, a.MaxWeightPct)
	}
	hasRisk(t, a.MainRisks, "extreme concentration in AAPL (100%)")
	hasRisk(t, a.MainRisks, "insufficient diversification")
	hasRisk(t, a.Recommendations, "elevated risk, review rebalancing")
	hasRisk(t, a.Recommendations, "spread position weights")
	hasRisk(t, a.Recommendations, "add more names")
}

func TestAssessRiskBalancedBook(t *testing.T) {
	a := AssessRisk(snap(1000,
		pos("AAPL", 1000, 2),
		pos("MSFT", 1000, -1),
		pos("GOOG", 1000, 3),
		pos("AMZN", 1000, 1),
		pos("NVDA", 1000, -2),
	))

	// 5 concentration (20% equal weights) + 0 volatility + 0 diversification.
	if a.Score != 5 {
		t.Fatalf("balanced book score = %d, want 5", a.Score)
	}
	if !a.Top3WeightPct.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("top3 weight = %s, want 60", a.Top3WeightPct)
	}
	if len(a.MainRisks) != 1 || a.MainRisks[0] != "risk profile acceptable" {
		t.Fatalf("risks = %v", a.MainRisks)
	}
	if len(a.Recommendations) != 1 || a.Recommendations[0] != "risk profile acceptable" {
		t.Fatalf("recommendations = %v", a.Recommendations)
	}
}

func TestAssessRiskLosingPosition(t *testing.T) {
	a := AssessRisk(snap(5000,
		pos("AAPL", 1000, -25),
		pos("MSFT", 1000, 0),
		pos("GOOG", 1000, 0),
		pos("AMZN", 1000, 0),
	))

	// 15 concentration (25% weight) + 5 volatility (avg 6.25) + 10 thin spread.
	if a.Score != 30 {
		t.Fatalf("score = %d, want 30", a.Score)
	}
	if !a.MaxLossPct.Equal(decimal.NewFromInt(-25)) {
		t.Fatalf("max loss = %s, want -25", a.MaxLossPct)
	}
	if !a.MaxGainPct.IsZero() {
		t.Fatalf("max gain = %s, want 0", a.MaxGainPct)
	}
	hasRisk(t, a.MainRisks, "deep losing position (-25%)")
	hasRisk(t, a.Recommendations, "review stop-loss levels")
	hasRisk(t, a.Recommendations, "risk profile acceptable")
}

func TestAssessRiskLowCashBuffer(t *testing.T) {
	a := AssessRisk(snap(100,
		pos("AAPL", 1000, 0),
		pos("MSFT", 1000, 0),
		pos("GOOG", 1000, 0),
		pos("AMZN", 1000, 0),
		pos("NVDA", 1000, 0),
	))

	hasRisk(t, a.MainRisks, "low cash buffer")
	hasRisk(t, a.Recommendations, "raise the cash reserve")
}

func TestAssessRiskScoreCaps(t *testing.T) {
	a := AssessRisk(snap(10000, pos("TSLA", 2000, -50)))

	if a.Score != 100 {
		t.Fatalf("score = %d, want 100", a.Score)
	}
	hasRisk(t, a.MainRisks, "extreme concentration in TSLA (100%)")
	hasRisk(t, a.MainRisks, "deep losing position (-50%)")
	hasRisk(t, a.Recommendations, "high risk, rebalance now")
}

func TestScoreBands(t *testing.T) {
	cases := []struct {
		weight float64
		want   int
	}{
		{55, 40},
		{35, 25},
		{25, 15},
		{15, 5},
		{10, 0},
	}
	for _, tc := range cases {
		if got := concentrationScore(decimal.NewFromFloat(tc.weight)); got != tc.want {
			t.Errorf("concentrationScore(%v) = %d, want %d", tc.weight, got, tc.want)
		}
	}
	if got := diversificationScore(1); got != 20 {
		t.Errorf("diversificationScore(1) = %d, want 20", got)
	}
	if got := diversificationScore(5); got != 0 {
		t.Errorf("diversificationScore(5) = %d, want 0", got)
	}
	if got := volatilityScore(decimal.NewFromInt(21)); got != 25 {
		t.Errorf("volatilityScore(21) = %d, want 25", got)
	}
}

func TestBuildPromptIncludesSections(t *testing.T) {
	s := snap(500, pos("AAPL", 1500, 12.5))
	in := Input{
		Snapshot:   s,
		Risk:       AssessRisk(s),
		Candidates: []string{"MSFT momentum 72"},
		Headlines:  []string{"Fed holds rates steady"},
	}
	got := buildPrompt(in)

	for _, want := range []string{"AAPL", "Screener candidates", "MSFT momentum 72", "Fed holds rates steady", "score:"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}
