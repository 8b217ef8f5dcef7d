package screener

import (
	"fmt"

	finance "github.com/piquette/finance-go"
)

// Momentum in the O'Neil style: today's move, distance to the 52-week high,
// and how far the yearly range has carried.
func scoreMomentum(eq *finance.Equity) (int, []string) {
	score := 0
	var reasons []string

	change := eq.RegularMarketChangePercent
	switch {
	case change > 10:
		score += 40
		reasons = append(reasons, fmt.Sprintf("up %.1f%% today", change))
	case change > 5:
		score += 30
		reasons = append(reasons, fmt.Sprintf("up %.1f%% today", change))
	case change > 2:
		score += 20
	}

	if eq.FiftyTwoWeekHigh > 0 {
		proximity := eq.RegularMarketPrice / eq.FiftyTwoWeekHigh * 100
		switch {
		case proximity > 95:
			score += 40
			reasons = append(reasons, "near its 52-week high")
		case proximity > 90:
			score += 30
		case proximity > 85:
			score += 20
		}
	}

	if eq.FiftyTwoWeekHigh > 0 && eq.FiftyTwoWeekLow > 0 {
		yearRange := (eq.FiftyTwoWeekHigh - eq.FiftyTwoWeekLow) / eq.FiftyTwoWeekLow * 100
		switch {
		case yearRange > 100:
			score += 20
			reasons = append(reasons, fmt.Sprintf("%.0f%% yearly range", yearRange))
		case yearRange > 50:
			score += 15
		case yearRange > 30:
			score += 10
		}
	}

	return score, reasons
}

// Value in the Graham style: book multiple, earnings multiple, dividend, and
// the raw earnings yield as a quality backstop.
func scoreValue(eq *finance.Equity) (int, []string) {
	score := 0
	var reasons []string

	if pb := eq.PriceToBook; pb > 0 {
		switch {
		case pb < 1:
			score += 30
			reasons = append(reasons, fmt.Sprintf("below book value (P/B %.2f)", pb))
		case pb < 1.5:
			score += 20
			reasons = append(reasons, fmt.Sprintf("P/B %.2f", pb))
		case pb < 2:
			score += 10
		}
	}

	if pe := eq.TrailingPE; pe > 0 {
		switch {
		case pe < 10:
			score += 30
			reasons = append(reasons, fmt.Sprintf("P/E %.1f", pe))
		case pe < 15:
			score += 20
			reasons = append(reasons, fmt.Sprintf("P/E %.1f", pe))
		case pe < 20:
			score += 10
		}
	}

	if dy := eq.TrailingAnnualDividendYield * 100; dy > 0 {
		switch {
		case dy > 4:
			score += 20
			reasons = append(reasons, fmt.Sprintf("dividend %.1f%%", dy))
		case dy > 2:
			score += 10
		}
	}

	if eq.RegularMarketPrice > 0 && eq.EpsTrailingTwelveMonths > 0 {
		ey := eq.EpsTrailingTwelveMonths / eq.RegularMarketPrice * 100
		if ey > 8 {
			score += 20
			reasons = append(reasons, fmt.Sprintf("earnings yield %.1f%%", ey))
		}
	}

	return score, reasons
}

// Growth: forward EPS against trailing, price strength over the 200-day
// average, and the 50-day average leading the 200-day.
func scoreGrowth(eq *finance.Equity) (int, []string) {
	score := 0
	var reasons []string

	if eq.EpsTrailingTwelveMonths > 0 && eq.EpsForward > 0 {
		growth := (eq.EpsForward - eq.EpsTrailingTwelveMonths) / eq.EpsTrailingTwelveMonths * 100
		switch {
		case growth > 20:
			score += 35
			reasons = append(reasons, fmt.Sprintf("EPS growth %.0f%% ahead", growth))
		case growth > 10:
			score += 25
			reasons = append(reasons, fmt.Sprintf("EPS growth %.0f%% ahead", growth))
		case growth > 5:
			score += 15
		}
	}

	if eq.TwoHundredDayAverage > 0 {
		trend := (eq.RegularMarketPrice/eq.TwoHundredDayAverage - 1) * 100
		switch {
		case trend > 20:
			score += 35
			reasons = append(reasons, fmt.Sprintf("%.0f%% above the 200-day average", trend))
		case trend > 10:
			score += 25
		case trend > 0:
			score += 15
		}
	}

	if eq.FiftyDayAverage > 0 && eq.TwoHundredDayAverage > 0 {
		cross := (eq.FiftyDayAverage/eq.TwoHundredDayAverage - 1) * 100
		switch {
		case cross > 10:
			score += 30
			reasons = append(reasons, "50-day average leading")
		case cross > 5:
			score += 20
		case cross > 0:
			score += 10
		}
	}

	return score, reasons
}
