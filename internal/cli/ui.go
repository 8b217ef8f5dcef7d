package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
	"github.com/hayoon/kistrade/internal/committee"
	"github.com/hayoon/kistrade/internal/decision"
	"github.com/hayoon/kistrade/internal/engine"
	"github.com/hayoon/kistrade/internal/guard"
	"github.com/hayoon/kistrade/internal/ledger"
	"github.com/hayoon/kistrade/internal/reconcile"
	"github.com/hayoon/kistrade/internal/screener"
	"github.com/hayoon/kistrade/internal/session"
	"github.com/hayoon/kistrade/internal/trading"
)

// UI styles
var (
	// Base styles
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(1, 2).
		Width(80)

	// Row styles
	gainStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	lossStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444"))

	buyStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981"))

	sellStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F59E0B"))

	// Status styles
	warnStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F59E0B")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444")).
		Bold(true)

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280"))
)

// DisplayHeader shows a section title
func DisplayHeader(text string) {
	fmt.Println(titleStyle.Render(text))
}

// DisplaySnapshot shows the valued book
func DisplaySnapshot(snap ledger.Snapshot, currency string) {
	var content strings.Builder

	content.WriteString("💼 Portfolio\n\n")
	content.WriteString(fmt.Sprintf("Cash:        %14s %s (%s%%)\n",
		snap.Cash.StringFixed(2), currency, snap.CashPct.StringFixed(1)))
	content.WriteString(fmt.Sprintf("Stock value: %14s %s (%s%%)\n",
		snap.StockValue.StringFixed(2), currency, snap.StockPct.StringFixed(1)))
	content.WriteString(fmt.Sprintf("Total value: %14s %s\n",
		snap.TotalValue.StringFixed(2), currency))
	if !snap.SyncedAt.IsZero() {
		content.WriteString(fmt.Sprintf("Last sync:   %s\n",
			snap.SyncedAt.Local().Format("2006-01-02 15:04:05")))
	}

	if len(snap.Positions) == 0 {
		content.WriteString("\nNo holdings.")
		fmt.Println(panelStyle.Render(content.String()))
		return
	}

	content.WriteString(fmt.Sprintf("\n%-8s %10s %12s %12s %14s %9s\n",
		"SYMBOL", "SHARES", "AVG", "PRICE", "VALUE", "P/L%"))
	content.WriteString(strings.Repeat("─", 70) + "\n")

	for _, pv := range snap.Positions {
		price := pv.LastPrice.StringFixed(2)
		if !pv.PriceKnown {
			price = "n/a"
		}
		line := fmt.Sprintf("%-8s %10s %12s %12s %14s %9s",
			pv.Symbol,
			pv.Shares.String(),
			pv.AvgPrice.StringFixed(2),
			price,
			pv.CurrentValue.StringFixed(2),
			signedPct(pv.ProfitPct),
		)
		content.WriteString(profitStyleFor(pv.ProfitPct).Render(line) + "\n")
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplayRisk shows the risk assessment
func DisplayRisk(a committee.Assessment) {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("⚖️  Risk score: %s\n",
		riskStyleFor(a.Score).Render(fmt.Sprintf("%d/100", a.Score))))
	if a.MaxWeightSymbol != "" {
		content.WriteString(fmt.Sprintf("\nLargest position: %s at %s%% | top 3: %s%% | positions: %d\n",
			a.MaxWeightSymbol, a.MaxWeightPct.StringFixed(1), a.Top3WeightPct.StringFixed(1), a.Positions))
	}

	content.WriteString("\nMain risks:\n")
	for _, risk := range a.MainRisks {
		content.WriteString(fmt.Sprintf("  • %s\n", risk))
	}
	content.WriteString("\nRecommendations:\n")
	for _, rec := range a.Recommendations {
		content.WriteString(fmt.Sprintf("  • %s\n", rec))
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplayProposal shows a freshly stored proposal with its validation verdict
func DisplayProposal(p *trading.Proposal, currency string) {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("🧮 Proposal (%s)\n", p.Source))
	if p.Plan.Summary != "" {
		content.WriteString(fmt.Sprintf("\n%s\n", p.Plan.Summary))
	}
	content.WriteString("\n")

	writeOrdersTable(&content, p.Plan.Orders)
	writeSkipped(&content, p.Plan.Skipped)
	writeValidation(&content, p.Validation, currency)

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplayPlan shows a stored session plan before execution
func DisplayPlan(rec *session.Record, plan *decision.ResolvedPlan) {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("📋 Session %s\n", rec.ID))
	content.WriteString(fmt.Sprintf("Created %s | expires %s\n",
		rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		rec.ExpiresAt.Local().Format("2006-01-02 15:04:05")))
	if rec.Summary != "" {
		content.WriteString(fmt.Sprintf("\n%s\n", rec.Summary))
	}
	content.WriteString("\n")

	writeOrdersTable(&content, plan.Orders)
	writeSkipped(&content, plan.Skipped)

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplayExecutionReport shows the outcome of one executed batch
func DisplayExecutionReport(report *engine.Report) {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("🚀 Execution %s\n\n", report.SessionID))
	for _, res := range report.Orders {
		icon, style := stateBadge(res.State)
		line := fmt.Sprintf("%s #%d %-4s %-8s %s @ %s  %s",
			icon, res.Seq, res.Order.Side, res.Order.Symbol,
			res.Order.Quantity.String(), res.Order.Price.StringFixed(2), res.State)
		if res.OrderID != "" {
			line += fmt.Sprintf(" (order %s)", res.OrderID)
		}
		if res.Message != "" {
			line += " " + res.Message
		}
		content.WriteString(style.Render(line) + "\n")
	}

	content.WriteString(fmt.Sprintf("\nSubmitted %d | filled %d | rejected %d | errors %d\n",
		report.Submitted, report.Filled, report.Rejected, report.Errors))
	content.WriteString(fmt.Sprintf("Bought %s | sold %s\n",
		report.TotalBought.StringFixed(2), report.TotalSold.StringFixed(2)))
	switch {
	case report.Synced:
		content.WriteString("Book re-synced with the broker.\n")
	case report.SyncError != "":
		content.WriteString(warnStyle.Render(
			fmt.Sprintf("⚠️  Post-batch sync failed: %s; run 'kistrade sync'", report.SyncError)) + "\n")
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplaySyncReport shows what changed on a broker sync
func DisplaySyncReport(report *reconcile.Report, currency string) {
	var content strings.Builder

	content.WriteString("🔄 Book synced\n\n")
	content.WriteString(fmt.Sprintf("Cash:      %s %s\n", report.Cash.StringFixed(2), currency))
	content.WriteString(fmt.Sprintf("Positions: %d\n", report.Positions))
	if len(report.Added) > 0 {
		content.WriteString(fmt.Sprintf("Added:     %s\n", strings.Join(report.Added, ", ")))
	}
	if len(report.Removed) > 0 {
		content.WriteString(fmt.Sprintf("Removed:   %s\n", strings.Join(report.Removed, ", ")))
	}
	if len(report.Changed) > 0 {
		content.WriteString(fmt.Sprintf("Changed:   %s\n", strings.Join(report.Changed, ", ")))
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplayCandidates shows screener results grouped by strategy
func DisplayCandidates(results map[screener.Strategy][]screener.Candidate) {
	var content strings.Builder

	content.WriteString("🔍 Screener candidates\n")
	for _, strategy := range screener.Strategies() {
		candidates, ok := results[strategy]
		if !ok {
			continue
		}
		content.WriteString(fmt.Sprintf("\n📈 %s:\n", strategy))
		if len(candidates) == 0 {
			content.WriteString(mutedStyle.Render("  nothing above the bar today") + "\n")
			continue
		}
		for _, c := range candidates {
			content.WriteString(fmt.Sprintf("  %-8s %3d  %10s  %s\n",
				c.Symbol, c.Score, c.Price.StringFixed(2), strings.Join(c.Reasons, ", ")))
		}
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplayPerformance shows overall returns and recent sessions
func DisplayPerformance(report *trading.PerformanceReport, currency string) {
	var content strings.Builder

	perf := report.Performance
	content.WriteString("📊 Performance\n\n")
	content.WriteString(fmt.Sprintf("Total value:  %s %s\n", perf.TotalValue.StringFixed(2), currency))
	profitLine := fmt.Sprintf("Total profit: %s %s (%s)",
		perf.TotalProfit.StringFixed(2), currency, signedPct(perf.ProfitPct))
	content.WriteString(profitStyleFor(perf.TotalProfit).Render(profitLine) + "\n")
	content.WriteString(fmt.Sprintf("Transactions: %d\n", perf.Transactions))
	if perf.Best != nil {
		content.WriteString(fmt.Sprintf("Best:         %s %s (%s)\n",
			perf.Best.Symbol, perf.Best.Profit.StringFixed(2), signedPct(perf.Best.ProfitPct)))
	}
	if perf.Worst != nil {
		content.WriteString(fmt.Sprintf("Worst:        %s %s (%s)\n",
			perf.Worst.Symbol, perf.Worst.Profit.StringFixed(2), signedPct(perf.Worst.ProfitPct)))
	}

	if len(report.Sessions) > 0 {
		content.WriteString("\n🗂  Recent sessions:\n")
		for _, rec := range report.Sessions {
			content.WriteString(fmt.Sprintf("  %s  %-9s %s  %s\n",
				rec.CreatedAt.Local().Format("01-02 15:04"),
				rec.Status,
				shortID(rec.ID),
				truncateString(rec.Summary, 38)))
		}
	}

	fmt.Println(panelStyle.Render(strings.TrimRight(content.String(), "\n")))
}

// DisplayPendingSession points at the open session, if any
func DisplayPendingSession(rec *session.Record) {
	if rec == nil {
		fmt.Println(mutedStyle.Render("No pending session. Run 'kistrade propose' to create one."))
		return
	}
	msg := fmt.Sprintf("⏳ Pending session %s expires %s. Run 'kistrade execute' to submit it.",
		shortID(rec.ID), rec.ExpiresAt.Local().Format("15:04:05"))
	fmt.Println(warnStyle.Render(msg))
}

// DisplayError shows an error message
func DisplayError(err error) {
	errorMsg := fmt.Sprintf("❌ Error: %s", err.Error())
	fmt.Println(errorStyle.Render(errorMsg))
}

// DisplayInfo shows an info message
func DisplayInfo(message string) {
	infoMsg := fmt.Sprintf("ℹ️  %s", message)
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")).Render(infoMsg))
}

// DisplaySuccess shows a success message
func DisplaySuccess(message string) {
	successMsg := fmt.Sprintf("✅ %s", message)
	fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Render(successMsg))
}

// Helper functions

func writeOrdersTable(content *strings.Builder, orders []broker.Order) {
	if len(orders) == 0 {
		content.WriteString("No orders.\n")
		return
	}

	content.WriteString(fmt.Sprintf("%-4s %-5s %-8s %10s %12s %14s\n",
		"#", "SIDE", "SYMBOL", "QTY", "PRICE", "VALUE"))
	content.WriteString(strings.Repeat("─", 58) + "\n")
	for i, ord := range orders {
		line := fmt.Sprintf("%-4d %-5s %-8s %10s %12s %14s",
			i+1, ord.Side, ord.Symbol, ord.Quantity.String(),
			ord.Price.StringFixed(2), ord.Value().StringFixed(2))
		content.WriteString(sideStyleFor(ord.Side).Render(line) + "\n")
	}
}

func writeSkipped(content *strings.Builder, skipped []decision.Skipped) {
	if len(skipped) == 0 {
		return
	}
	content.WriteString("\nSkipped intents:\n")
	for _, sk := range skipped {
		if sk.Symbol != "" {
			content.WriteString(mutedStyle.Render(fmt.Sprintf("  • %s: %s", sk.Symbol, sk.Reason)) + "\n")
		} else {
			content.WriteString(mutedStyle.Render("  • "+sk.Reason) + "\n")
		}
	}
}

func writeValidation(content *strings.Builder, batch guard.BatchResult, currency string) {
	if len(batch.Orders) == 0 {
		return
	}

	flagged := 0
	for _, res := range batch.Orders {
		if !res.Valid {
			flagged++
		}
	}

	content.WriteString("\n")
	switch {
	case !batch.Valid:
		content.WriteString(errorStyle.Render("❌ Batch cash rule violated; execute would reject the whole batch") + "\n")
	case flagged > 0:
		content.WriteString(errorStyle.Render(fmt.Sprintf("❌ %d order(s) have hard issues; execute rejects those and submits the rest", flagged)) + "\n")
	default:
		content.WriteString(gainStyle.Render("✅ All orders pass the guardrails") + "\n")
	}
	content.WriteString(fmt.Sprintf("Buy total %s %s against investable %s %s\n",
		batch.BuyTotal.StringFixed(2), currency, batch.Investable.StringFixed(2), currency))

	for _, issue := range batch.BatchIssues {
		content.WriteString(errorStyle.Render("  ❌ [batch] "+issue.Message) + "\n")
	}
	for i, res := range batch.Orders {
		for _, issue := range res.HardIssues {
			content.WriteString(errorStyle.Render(fmt.Sprintf("  ❌ [#%d] %s", i+1, issue.Message)) + "\n")
		}
		for _, issue := range res.Warnings {
			content.WriteString(warnStyle.Render(fmt.Sprintf("  ⚠️  [#%d] %s", i+1, issue.Message)) + "\n")
		}
	}
}

func profitStyleFor(value decimal.Decimal) lipgloss.Style {
	switch {
	case value.IsPositive():
		return gainStyle
	case value.IsNegative():
		return lossStyle
	default:
		return lipgloss.NewStyle()
	}
}

func riskStyleFor(score int) lipgloss.Style {
	switch {
	case score > 70:
		return errorStyle
	case score > 50:
		return warnStyle
	default:
		return gainStyle
	}
}

func sideStyleFor(side broker.Side) lipgloss.Style {
	if side == broker.SideSell {
		return sellStyle
	}
	return buyStyle
}

func stateBadge(state string) (string, lipgloss.Style) {
	switch state {
	case engine.StateFilled:
		return "✅", gainStyle
	case engine.StateRejected, engine.StateError:
		return "❌", errorStyle
	case engine.StateSubmitted:
		return "🔄", warnStyle
	default:
		return "⏳", mutedStyle
	}
}

func signedPct(pct decimal.Decimal) string {
	if pct.IsPositive() {
		return "+" + pct.StringFixed(1) + "%"
	}
	return pct.StringFixed(1) + "%"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
