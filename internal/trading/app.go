// Package trading wires the configuration into a working application and
// exposes one method per command verb. Argument parsing and output formatting
// stay in the CLI; everything here takes typed inputs and returns typed
// reports.
package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/hayoon/kistrade/config"
	"github.com/hayoon/kistrade/internal/broker"
	"github.com/hayoon/kistrade/internal/broker/kis"
	"github.com/hayoon/kistrade/internal/committee"
	"github.com/hayoon/kistrade/internal/decision"
	"github.com/hayoon/kistrade/internal/engine"
	"github.com/hayoon/kistrade/internal/guard"
	"github.com/hayoon/kistrade/internal/ledger"
	"github.com/hayoon/kistrade/internal/newsfeed"
	"github.com/hayoon/kistrade/internal/notify"
	"github.com/hayoon/kistrade/internal/quotes"
	"github.com/hayoon/kistrade/internal/reconcile"
	"github.com/hayoon/kistrade/internal/screener"
	"github.com/hayoon/kistrade/internal/session"
)

// App holds the wired collaborators behind the command verbs.
type App struct {
	cfg      *config.Config
	gateway  broker.Gateway
	book     *ledger.Ledger
	store    *session.Store
	source   quotes.Source
	notifier notify.Notifier
	closers  []func() error
}

// New wires an application from the configuration. The session store opens
// immediately; broker and quote clients are cheap until first use.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	gw := kis.New(kis.Config{
		AppKey:      cfg.KISAppKey,
		AppSecret:   cfg.KISAppSecret,
		AccountNo:   cfg.KISAccountNo,
		AccountCode: cfg.KISAccountCode,
		BaseURL:     cfg.KISBaseURL,
		Segments:    cfg.ExchangeSegments,
		Currency:    cfg.TradeCurrency,
		Timeout:     time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		RateLimit:   rate.Limit(cfg.BrokerRateLimit),
		RateBurst:   cfg.BrokerRateBurst,
	})

	book := ledger.Load(cfg.LedgerPath(), decimal.NewFromFloat(cfg.InitialCash))

	store, err := session.Open(cfg.SessionDBPath())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	app := &App{
		cfg:      cfg,
		gateway:  gw,
		book:     book,
		store:    store,
		notifier: notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID),
	}
	app.closers = append(app.closers, store.Close)

	source, err := app.newQuoteSource(gw)
	if err != nil {
		store.Close()
		return nil, err
	}
	app.source = source

	return app, nil
}

// Close releases held resources, newest first.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) newQuoteSource(gw broker.Gateway) (quotes.Source, error) {
	switch a.cfg.QuoteSource {
	case "", "kis":
		return quotes.NewGatewaySource(gw), nil
	case "yahoo":
		return quotes.NewYahooSource(a.quoteCache("yahoo")), nil
	case "longport":
		src, err := quotes.NewLongportSource(quotes.LongportConfig{
			AppKey:      a.cfg.LongportAppKey,
			AppSecret:   a.cfg.LongportAppSecret,
			AccessToken: a.cfg.LongportAccessToken,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, src.Close)
		return src, nil
	default:
		return nil, fmt.Errorf("unknown quote source %q", a.cfg.QuoteSource)
	}
}

func (a *App) quoteCache(name string) *quotes.Cache {
	ttl := time.Duration(a.cfg.CacheTTLMinutes) * time.Minute
	return quotes.NewCache(filepath.Join(a.cfg.CacheDir, name), ttl, a.cfg.CacheEnabled)
}

func (a *App) rails() guard.Guardrails {
	return guard.Guardrails{
		MaxOrderValue:  decimal.NewFromFloat(a.cfg.MaxOrderValue),
		MaxPositionPct: decimal.NewFromFloat(a.cfg.MaxPositionPct),
		MinCashReserve: decimal.NewFromFloat(a.cfg.MinCashReserve),
	}
}

// snapshotPrice annotates views with the configured quote source; execution
// pricing always goes through the broker gateway instead.
func (a *App) snapshotPrice() ledger.PriceFunc {
	return func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		return a.source.Price(ctx, symbol)
	}
}

// Sync replaces the local book with the broker's cash and holdings.
func (a *App) Sync(ctx context.Context) (*reconcile.Report, error) {
	report, err := reconcile.Sync(ctx, a.gateway, a.book)
	if err != nil {
		return nil, err
	}
	a.notifyBestEffort(ctx, "Book synced", fmt.Sprintf(
		"cash %s %s, %d positions", report.Cash.StringFixed(2), a.cfg.TradeCurrency, report.Positions))
	return report, nil
}

// ProposeOptions tunes one proposal round.
type ProposeOptions struct {
	// PlanFile bypasses the committee with a prepared plan document.
	PlanFile string
	// NoScreen and NoNews drop the optional context fetches.
	NoScreen bool
	NoNews   bool
}

// Proposal is the stored, validated output of one propose round. SessionID is
// empty when the plan resolved to nothing actionable.
type Proposal struct {
	SessionID  string
	ExpiresAt  time.Time
	Source     string
	Snapshot   ledger.Snapshot
	Risk       committee.Assessment
	Plan       decision.ResolvedPlan
	Validation guard.BatchResult
}

// Propose turns the committee's decision (or a plan file) into priced,
// validated orders and stores them as a pending session for execute.
// Validation issues do not block the proposal; execute re-validates against
// fresh state and has the final word.
func (a *App) Propose(ctx context.Context, opts ProposeOptions) (*Proposal, error) {
	snap := a.book.Snapshot(ctx, a.snapshotPrice())
	risk := committee.AssessRisk(snap)

	raw, source, err := a.planText(ctx, snap, risk, opts)
	if err != nil {
		return nil, err
	}

	plan := decision.ParsePlan(raw, a.heldShares())
	resolved := decision.Resolve(ctx, plan, a.gateway.GetPrice)

	proposal := &Proposal{
		Source:     source,
		Snapshot:   snap,
		Risk:       risk,
		Plan:       resolved,
		Validation: guard.ValidateBatch(resolved.Orders, proposalBook(snap), a.rails()),
	}
	if len(resolved.Orders) == 0 {
		log.Info().Str("source", source).Msg("plan resolved to no actionable orders")
		return proposal, nil
	}

	planJSON, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}

	ttl := time.Duration(a.cfg.SessionTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	rec := session.Record{
		ID:        uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(ttl),
		Status:    session.StatusPending,
		Plan:      string(planJSON),
		Summary:   resolved.Summary,
	}
	if err := a.store.CreateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	for i, ord := range resolved.Orders {
		if err := a.store.SaveOrderState(ctx, session.OrderRecord{
			SessionID: rec.ID,
			Seq:       i + 1,
			Symbol:    ord.Symbol,
			Side:      string(ord.Side),
			Quantity:  ord.Quantity,
			Price:     ord.Price,
			State:     engine.StatePending,
		}); err != nil {
			return nil, fmt.Errorf("journal order: %w", err)
		}
	}

	proposal.SessionID = rec.ID
	proposal.ExpiresAt = rec.ExpiresAt
	log.Info().
		Str("session", rec.ID).
		Int("orders", len(resolved.Orders)).
		Str("source", source).
		Msg("proposal stored")
	return proposal, nil
}

func (a *App) planText(ctx context.Context, snap ledger.Snapshot, risk committee.Assessment, opts ProposeOptions) (string, string, error) {
	if opts.PlanFile != "" {
		data, err := os.ReadFile(opts.PlanFile)
		if err != nil {
			return "", "", fmt.Errorf("read plan file: %w", err)
		}
		return string(data), "file", nil
	}

	com, err := committee.New(ctx, a.cfg)
	if errors.Is(err, committee.ErrNoModel) {
		return "", "", fmt.Errorf("no language model configured; pass a plan file instead: %w", err)
	}
	if err != nil {
		return "", "", err
	}

	input := committee.Input{Snapshot: snap, Risk: risk}
	if !opts.NoScreen {
		input.Candidates = a.candidateLines(ctx)
	}
	if !opts.NoNews {
		input.Headlines = a.headlineLines(ctx, snap)
	}

	raw, err := com.Deliberate(ctx, input)
	if err != nil {
		return "", "", err
	}
	return raw, "committee", nil
}

// candidateLines runs the screener for committee context. Failures degrade to
// an empty list; candidates are advisory.
func (a *App) candidateLines(ctx context.Context) []string {
	scr := screener.New(a.quoteCache("screener"))
	scr.SetTopN(a.cfg.ScreenerTopN)

	results, err := scr.ScanAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("screener unavailable for this proposal")
		return nil
	}

	var lines []string
	for _, strategy := range screener.Strategies() {
		for _, c := range results[strategy] {
			lines = append(lines, c.String())
		}
	}
	return lines
}

// headlineLines pulls news for the three largest positions.
func (a *App) headlineLines(ctx context.Context, snap ledger.Snapshot) []string {
	positions := append([]ledger.PositionView(nil), snap.Positions...)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CurrentValue.GreaterThan(positions[j].CurrentValue)
	})
	if len(positions) > 3 {
		positions = positions[:3]
	}

	feed := newsfeed.New(a.quoteCache("news"))
	var lines []string
	for _, pv := range positions {
		headlines, err := feed.Headlines(ctx, pv.Symbol+" stock")
		if err != nil {
			log.Warn().Err(err).Str("symbol", pv.Symbol).Msg("headlines unavailable")
			continue
		}
		lines = append(lines, newsfeed.Titles(headlines)...)
	}
	if len(lines) > 10 {
		lines = lines[:10]
	}
	return lines
}

func (a *App) heldShares() map[string]decimal.Decimal {
	holdings := a.book.Holdings()
	held := make(map[string]decimal.Decimal, len(holdings))
	for symbol, h := range holdings {
		held[symbol] = h.Shares
	}
	return held
}

// proposalBook values positions at market where known, at cost otherwise.
func proposalBook(snap ledger.Snapshot) guard.Book {
	values := make(map[string]decimal.Decimal, len(snap.Positions))
	held := make(map[string]decimal.Decimal, len(snap.Positions))
	for _, pv := range snap.Positions {
		values[pv.Symbol] = pv.CurrentValue
		held[pv.Symbol] = pv.Shares
	}
	return guard.Book{
		Cash:           snap.Cash,
		TotalValue:     snap.TotalValue,
		PositionValues: values,
		HeldShares:     held,
	}
}

// LoadSession fetches a pending session, latest first when id is empty, and
// decodes its stored plan.
func (a *App) LoadSession(ctx context.Context, sessionID string) (*session.Record, *decision.ResolvedPlan, error) {
	var rec *session.Record
	var err error
	if sessionID != "" {
		rec, err = a.store.GetSession(ctx, sessionID)
	} else {
		rec, err = a.store.LatestPending(ctx)
	}
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, fmt.Errorf("no pending session found; run propose first")
	}
	if rec.Status != session.StatusPending {
		return nil, nil, fmt.Errorf("session %s is %s, not pending", rec.ID, rec.Status)
	}

	var plan decision.ResolvedPlan
	if err := json.Unmarshal([]byte(rec.Plan), &plan); err != nil {
		return nil, nil, fmt.Errorf("decode stored plan for session %s: %w", rec.ID, err)
	}
	return rec, &plan, nil
}

// ExecuteOptions tunes one execution run.
type ExecuteOptions struct {
	// SessionID picks a session; empty means the latest pending one.
	SessionID string
	// SkipSync suppresses the post-batch reconcile.
	SkipSync bool
}

// Execute runs a stored pending session against the broker. The session is
// consumed either way: a fresh proposal is always cheaper than re-running a
// stale one.
func (a *App) Execute(ctx context.Context, opts ExecuteOptions) (*engine.Report, error) {
	rec, plan, err := a.LoadSession(ctx, opts.SessionID)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Config{
		Gateway:  a.gateway,
		Ledger:   a.book,
		Rails:    a.rails(),
		Journal:  a.store,
		SkipSync: opts.SkipSync,
	})
	report, err := eng.Execute(ctx, rec.ID, plan.Orders)
	if err != nil {
		return report, err
	}

	if err := a.store.MarkSessionStatus(ctx, rec.ID, session.StatusExecuted); err != nil {
		log.Warn().Err(err).Str("session", rec.ID).Msg("session status update failed")
	}

	a.notifyBestEffort(ctx, "Orders executed", fmt.Sprintf(
		"%d submitted, %d filled, %d rejected, %d errors\nbought %s, sold %s",
		report.Submitted, report.Filled, report.Rejected, report.Errors,
		report.TotalBought.StringFixed(2), report.TotalSold.StringFixed(2)))
	return report, nil
}

// Status is the account view for the status verb.
type Status struct {
	Snapshot ledger.Snapshot
	Risk     committee.Assessment
	Pending  *session.Record
}

// Status values the book and reports the latest pending session, if any.
func (a *App) Status(ctx context.Context) (*Status, error) {
	snap := a.book.Snapshot(ctx, a.snapshotPrice())

	pending, err := a.store.LatestPending(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		Snapshot: snap,
		Risk:     committee.AssessRisk(snap),
		Pending:  pending,
	}, nil
}

// Screen runs one screener strategy, or all of them when only is empty.
func (a *App) Screen(ctx context.Context, only screener.Strategy) (map[screener.Strategy][]screener.Candidate, error) {
	scr := screener.New(a.quoteCache("screener"))
	scr.SetTopN(a.cfg.ScreenerTopN)

	if only != "" {
		candidates, err := scr.Scan(ctx, only)
		if err != nil {
			return nil, err
		}
		return map[screener.Strategy][]screener.Candidate{only: candidates}, nil
	}
	return scr.ScanAll(ctx)
}

// PerformanceReport is the output of the report verb.
type PerformanceReport struct {
	Snapshot    ledger.Snapshot
	Performance ledger.Performance
	Sessions    []session.Record
}

// Report values the book and summarizes returns plus recent sessions.
func (a *App) Report(ctx context.Context) (*PerformanceReport, error) {
	snap := a.book.Snapshot(ctx, a.snapshotPrice())

	sessions, err := a.store.ListSessions(ctx, 10)
	if err != nil {
		return nil, err
	}

	return &PerformanceReport{
		Snapshot:    snap,
		Performance: a.book.Performance(snap),
		Sessions:    sessions,
	}, nil
}

func (a *App) notifyBestEffort(ctx context.Context, title, message string) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Send(ctx, title, message); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("notification failed")
	}
}
