// Package decision turns committee output into executable orders: parsing
// explicit trade statements, then resolving buy budgets into share counts at
// live prices.
package decision

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SellIntent is an explicit instruction to sell a share count.
type SellIntent struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason,omitempty"`
}

// BuyIntent is an explicit instruction to deploy a dollar budget.
type BuyIntent struct {
	Symbol       string          `json:"symbol"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	Reason       string          `json:"reason,omitempty"`
}

// Skipped records an intent that was dropped and why. Nothing is guessed:
// a statement either parses completely or lands here.
type Skipped struct {
	Symbol string `json:"symbol,omitempty"`
	Reason string `json:"reason"`
}

// Plan is the parsed, not yet priced, trade plan.
type Plan struct {
	Sells   []SellIntent `json:"sells"`
	Buys    []BuyIntent  `json:"buys"`
	Summary string       `json:"summary,omitempty"`
	Skipped []Skipped    `json:"skipped,omitempty"`
}

// Empty reports whether the plan carries no actionable intent.
func (p Plan) Empty() bool { return len(p.Sells) == 0 && len(p.Buys) == 0 }

type planDoc struct {
	Sells []struct {
		Symbol   string           `json:"symbol"`
		Action   string           `json:"action"`
		Quantity *decimal.Decimal `json:"quantity"`
		Reason   string           `json:"reason"`
	} `json:"sells"`
	Buys []struct {
		Symbol       string           `json:"symbol"`
		TargetAmount *decimal.Decimal `json:"target_amount"`
		Reason       string           `json:"reason"`
	} `json:"buys"`
	Summary string `json:"summary"`
}

// ParsePlan extracts explicit trade statements from committee output. The
// text may be a JSON document (optionally inside a markdown fence) or plain
// narrative lines. Hold statements produce nothing; ambiguous or
// quantity-less statements are dropped into Skipped. held is the current
// book, used to drop sells of symbols not held at all.
func ParsePlan(text string, held map[string]decimal.Decimal) Plan {
	body := stripFences(text)
	if strings.HasPrefix(body, "{") {
		var doc planDoc
		err := json.Unmarshal([]byte(body), &doc)
		if err == nil {
			return fromDoc(doc, held)
		}
		log.Warn().Err(err).Msg("plan document is not valid json, falling back to line rules")
	}
	return fromLines(body, held)
}

// stripFences unwraps the first markdown code fence, tolerating a language
// tag after the opening backticks.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return strings.TrimSpace(text)
	}
	parts := strings.Split(text, "```")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return strings.TrimSpace(text)
	}
	body := strings.TrimSpace(parts[1])
	body = strings.TrimPrefix(body, "json")
	return strings.TrimSpace(body)
}

func fromDoc(doc planDoc, held map[string]decimal.Decimal) Plan {
	plan := Plan{Summary: strings.TrimSpace(doc.Summary)}

	for _, s := range doc.Sells {
		symbol := normalizeSymbol(s.Symbol)
		if symbol == "" {
			continue
		}
		if strings.Contains(strings.ToLower(s.Action), "hold") {
			continue
		}
		if s.Quantity == nil || !s.Quantity.IsPositive() {
			plan.Skipped = append(plan.Skipped, Skipped{Symbol: symbol, Reason: "sell without an explicit quantity"})
			continue
		}
		if _, ok := held[symbol]; !ok {
			plan.Skipped = append(plan.Skipped, Skipped{Symbol: symbol, Reason: "sell of a symbol not held"})
			continue
		}
		plan.Sells = append(plan.Sells, SellIntent{Symbol: symbol, Quantity: *s.Quantity, Reason: strings.TrimSpace(s.Reason)})
	}

	for _, b := range doc.Buys {
		symbol := normalizeSymbol(b.Symbol)
		if symbol == "" {
			continue
		}
		if b.TargetAmount == nil || !b.TargetAmount.IsPositive() {
			plan.Skipped = append(plan.Skipped, Skipped{Symbol: symbol, Reason: "buy without a target amount"})
			continue
		}
		plan.Buys = append(plan.Buys, BuyIntent{Symbol: symbol, TargetAmount: *b.TargetAmount, Reason: strings.TrimSpace(b.Reason)})
	}

	return plan
}

var (
	sellAllRe      = regexp.MustCompile(`(?i)^\W*sell\s+all\s+(?:of\s+)?\$?([A-Za-z][A-Za-z.]{0,9})\b`)
	sellQtyFirstRe = regexp.MustCompile(`(?i)^\W*sell\s+([0-9]+(?:\.[0-9]+)?)\s+(?:shares?\s+(?:of\s+)?)?\$?([A-Za-z][A-Za-z.]{0,9})\b`)
	sellSymFirstRe = regexp.MustCompile(`(?i)^\W*sell\s+\$?([A-Za-z][A-Za-z.]{0,9})\s*[:,]?\s+([0-9]+(?:\.[0-9]+)?)\s*(?:shares?)?\b`)
	buyAmtFirstRe  = regexp.MustCompile(`(?i)^\W*buy\s+\$?([0-9][0-9,]*(?:\.[0-9]+)?)\s+(?:worth\s+)?(?:of\s+)?\$?([A-Za-z][A-Za-z.]{0,9})\b`)
	buySymFirstRe  = regexp.MustCompile(`(?i)^\W*buy\s+\$?([A-Za-z][A-Za-z.]{0,9})\s*[:,]?\s+\$?([0-9][0-9,]*(?:\.[0-9]+)?)\b`)
	holdRe         = regexp.MustCompile(`(?i)\bhold(ing)?\b`)
	mentionRe      = regexp.MustCompile(`(?i)\b(sell|selling|sold|buy|buying|bought)\b`)
	symbolGuessRe  = regexp.MustCompile(`\b[A-Z][A-Z.]{0,5}\b`)
)

var symbolStopwords = map[string]bool{
	"SELL": true, "BUY": true, "HOLD": true, "ALL": true, "OF": true,
	"USD": true, "THE": true, "AND": true, "AT": true, "TO": true,
}

func fromLines(text string, held map[string]decimal.Decimal) Plan {
	var plan Plan

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if holdRe.MatchString(line) {
			continue
		}

		if m := sellAllRe.FindStringSubmatch(line); m != nil {
			symbol := normalizeSymbol(m[1])
			qty, ok := held[symbol]
			if !ok || !qty.IsPositive() {
				plan.Skipped = append(plan.Skipped, Skipped{Symbol: symbol, Reason: "sell of a symbol not held"})
				continue
			}
			plan.Sells = append(plan.Sells, SellIntent{Symbol: symbol, Quantity: qty, Reason: line})
			continue
		}
		if m := sellQtyFirstRe.FindStringSubmatch(line); m != nil {
			plan.appendSell(m[2], m[1], line, held)
			continue
		}
		if m := sellSymFirstRe.FindStringSubmatch(line); m != nil {
			plan.appendSell(m[1], m[2], line, held)
			continue
		}
		if m := buyAmtFirstRe.FindStringSubmatch(line); m != nil {
			plan.appendBuy(m[2], m[1], line)
			continue
		}
		if m := buySymFirstRe.FindStringSubmatch(line); m != nil {
			plan.appendBuy(m[1], m[2], line)
			continue
		}

		if mentionRe.MatchString(line) {
			plan.Skipped = append(plan.Skipped, Skipped{Symbol: guessSymbol(line), Reason: "ambiguous statement"})
		}
	}

	return plan
}

func (p *Plan) appendSell(symbol, qty, line string, held map[string]decimal.Decimal) {
	sym := normalizeSymbol(symbol)
	quantity, err := decimal.NewFromString(qty)
	if err != nil || !quantity.IsPositive() {
		p.Skipped = append(p.Skipped, Skipped{Symbol: sym, Reason: "sell without an explicit quantity"})
		return
	}
	if _, ok := held[sym]; !ok {
		p.Skipped = append(p.Skipped, Skipped{Symbol: sym, Reason: "sell of a symbol not held"})
		return
	}
	p.Sells = append(p.Sells, SellIntent{Symbol: sym, Quantity: quantity, Reason: line})
}

func (p *Plan) appendBuy(symbol, amount, line string) {
	sym := normalizeSymbol(symbol)
	target, err := decimal.NewFromString(strings.ReplaceAll(amount, ",", ""))
	if err != nil || !target.IsPositive() {
		p.Skipped = append(p.Skipped, Skipped{Symbol: sym, Reason: "buy without a target amount"})
		return
	}
	p.Buys = append(p.Buys, BuyIntent{Symbol: sym, TargetAmount: target, Reason: line})
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func guessSymbol(line string) string {
	for _, candidate := range symbolGuessRe.FindAllString(line, -1) {
		if !symbolStopwords[candidate] {
			return candidate
		}
	}
	return ""
}
