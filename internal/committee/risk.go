package committee

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/ledger"
)

// Assessment is the deterministic risk read of a snapshot. Score runs 0-100:
// up to 40 points each for concentration and volatility, 20 for thin
// diversification.
type Assessment struct {
	Score           int             `json:"score"`
	MaxWeightSymbol string          `json:"max_weight_symbol,omitempty"`
	MaxWeightPct    decimal.Decimal `json:"max_weight_pct"`
	Top3WeightPct   decimal.Decimal `json:"top3_weight_pct"`
	Positions       int             `json:"positions"`
	AvgVolatility   decimal.Decimal `json:"avg_volatility"`
	MaxLossPct      decimal.Decimal `json:"max_loss_pct"`
	MaxGainPct      decimal.Decimal `json:"max_gain_pct"`
	MainRisks       []string        `json:"main_risks"`
	Recommendations []string        `json:"recommendations"`
}

// AssessRisk scores the snapshot without any external calls. Positions
// without a known price carry a zero profit percentage and damp the
// volatility figure rather than inflating it.
func AssessRisk(snap ledger.Snapshot) Assessment {
	a := Assessment{Positions: len(snap.Positions)}
	if len(snap.Positions) == 0 || !snap.StockValue.IsPositive() {
		a.MainRisks = []string{"no holdings"}
		a.Recommendations = []string{"risk profile acceptable"}
		return a
	}

	hundred := decimal.NewFromInt(100)
	values := make([]decimal.Decimal, 0, len(snap.Positions))
	var absSum decimal.Decimal
	for i, pv := range snap.Positions {
		weight := pv.CurrentValue.Div(snap.StockValue).Mul(hundred)
		if weight.GreaterThan(a.MaxWeightPct) {
			a.MaxWeightPct = weight
			a.MaxWeightSymbol = pv.Symbol
		}
		values = append(values, pv.CurrentValue)
		absSum = absSum.Add(pv.ProfitPct.Abs())
		if i == 0 || pv.ProfitPct.LessThan(a.MaxLossPct) {
			a.MaxLossPct = pv.ProfitPct
		}
		if i == 0 || pv.ProfitPct.GreaterThan(a.MaxGainPct) {
			a.MaxGainPct = pv.ProfitPct
		}
	}
	a.AvgVolatility = absSum.Div(decimal.NewFromInt(int64(len(snap.Positions))))

	sort.Slice(values, func(i, j int) bool { return values[i].GreaterThan(values[j]) })
	var top3 decimal.Decimal
	for i, v := range values {
		if i == 3 {
			break
		}
		top3 = top3.Add(v)
	}
	a.Top3WeightPct = top3.Div(snap.StockValue).Mul(hundred)

	a.Score = concentrationScore(a.MaxWeightPct) +
		volatilityScore(a.AvgVolatility) +
		diversificationScore(a.Positions)
	if a.Score > 100 {
		a.Score = 100
	}

	a.MainRisks, a.Recommendations = describeRisks(a, snap)
	return a
}

func concentrationScore(maxWeight decimal.Decimal) int {
	switch {
	case maxWeight.GreaterThan(decimal.NewFromInt(50)):
		return 40
	case maxWeight.GreaterThan(decimal.NewFromInt(30)):
		return 25
	case maxWeight.GreaterThan(decimal.NewFromInt(20)):
		return 15
	case maxWeight.GreaterThan(decimal.NewFromInt(10)):
		return 5
	}
	return 0
}

func volatilityScore(avgVol decimal.Decimal) int {
	switch {
	case avgVol.GreaterThan(decimal.NewFromInt(30)):
		return 40
	case avgVol.GreaterThan(decimal.NewFromInt(20)):
		return 25
	case avgVol.GreaterThan(decimal.NewFromInt(10)):
		return 15
	case avgVol.GreaterThan(decimal.NewFromInt(5)):
		return 5
	}
	return 0
}

func diversificationScore(positions int) int {
	switch {
	case positions == 1:
		return 20
	case positions == 2:
		return 15
	case positions < 5:
		return 10
	}
	return 0
}

func describeRisks(a Assessment, snap ledger.Snapshot) (risks, recs []string) {
	var concentrated, thin, losing, lowCash bool

	switch {
	case a.MaxWeightPct.GreaterThan(decimal.NewFromInt(50)):
		concentrated = true
		risks = append(risks, fmt.Sprintf("extreme concentration in %s (%s%%)",
			a.MaxWeightSymbol, a.MaxWeightPct.StringFixed(0)))
	case a.MaxWeightPct.GreaterThan(decimal.NewFromInt(30)):
		concentrated = true
		risks = append(risks, fmt.Sprintf("high concentration in %s (%s%%)",
			a.MaxWeightSymbol, a.MaxWeightPct.StringFixed(0)))
	}

	if a.Positions < 3 {
		thin = true
		risks = append(risks, "insufficient diversification")
	}

	switch {
	case a.MaxLossPct.LessThan(decimal.NewFromInt(-20)):
		losing = true
		risks = append(risks, fmt.Sprintf("deep losing position (%s%%)", a.MaxLossPct.StringFixed(0)))
	case a.MaxLossPct.LessThan(decimal.NewFromInt(-10)):
		losing = true
		risks = append(risks, fmt.Sprintf("losing position (%s%%)", a.MaxLossPct.StringFixed(0)))
	}

	if snap.TotalValue.IsPositive() &&
		snap.Cash.LessThan(snap.TotalValue.Mul(decimal.NewFromFloat(0.05))) {
		lowCash = true
		risks = append(risks, "low cash buffer")
	}

	if len(risks) == 0 {
		risks = append(risks, "risk profile acceptable")
	}

	switch {
	case a.Score > 70:
		recs = append(recs, "high risk, rebalance now")
	case a.Score > 50:
		recs = append(recs, "elevated risk, review rebalancing")
	default:
		recs = append(recs, "risk profile acceptable")
	}
	if concentrated {
		recs = append(recs, "spread position weights")
	}
	if thin {
		recs = append(recs, "add more names")
	}
	if losing {
		recs = append(recs, "review stop-loss levels")
	}
	if lowCash {
		recs = append(recs, "raise the cash reserve")
	}
	return risks, recs
}
