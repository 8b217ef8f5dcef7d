// Package committee turns a portfolio snapshot into a rebalancing plan. The
// risk read is deterministic and always available; the plan itself comes from
// a chat model, so a committee only exists when an API key is configured.
package committee

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/devops"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/hayoon/kistrade/config"
	"github.com/hayoon/kistrade/internal/ledger"
)

// ErrNoModel means no LLM provider is configured; callers fall back to
// plan files.
var ErrNoModel = errors.New("no language model configured")

var devopsOnce sync.Once

// Input is everything the committee sees before deciding.
type Input struct {
	Snapshot   ledger.Snapshot
	Risk       Assessment
	Candidates []string
	Headlines  []string
}

// Committee wraps a single chat model behind Deliberate.
type Committee struct {
	model model.BaseChatModel
}

// New builds a committee from the configured provider. Returns ErrNoModel
// when no API key is present so callers can branch without string matching.
func New(ctx context.Context, cfg *config.Config) (*Committee, error) {
	if !cfg.HasLLM() {
		return nil, ErrNoModel
	}
	if cfg.DebugEnabled {
		devopsOnce.Do(func() {
			if err := devops.Init(ctx); err != nil {
				log.Warn().Err(err).Msg("eino devops inspector failed to start")
			} else {
				log.Info().Int("port", cfg.DebugPort).Msg("eino devops inspector listening")
			}
		})
	}
	m, err := newChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return &Committee{model: m}, nil
}

func newChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	switch cfg.LLMProvider {
	case "deepseek":
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			APIKey:    cfg.DeepSeekAPIKey,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.MaxTokens,
		})
	case "openai":
		maxTokens := cfg.MaxTokens
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.LLMModel,
			MaxTokens: &maxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLMProvider)
	}
}

const systemPrompt = `You are the investment committee for a US stock account. Given the
account snapshot, a risk assessment, screener candidates and recent
headlines, decide which holdings to trim and which candidates to buy.

Respond with a single JSON object and nothing else:

{
  "sells": [{"symbol": "AAPL", "action": "sell", "quantity": 3, "reason": "..."}],
  "buys": [{"symbol": "MSFT", "target_amount": 1500.0, "reason": "..."}],
  "summary": "one or two sentences on the overall intent"
}

Rules:
- Every sell needs an explicit integer quantity no larger than the shares held.
- Every buy needs a target_amount in dollars; buys are funded by cash plus sell proceeds.
- Use "hold" as the action for positions you considered but left alone.
- Empty "sells" and "buys" arrays are a valid answer when no change is warranted.`

// Deliberate runs one round with the model and returns its raw reply. The
// caller parses it; a malformed reply is the parser's problem, not ours.
func (c *Committee) Deliberate(ctx context.Context, in Input) (string, error) {
	msg, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildPrompt(in)),
	})
	if err != nil {
		return "", fmt.Errorf("committee deliberation: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", errors.New("committee returned an empty decision")
	}
	return msg.Content, nil
}

func buildPrompt(in Input) string {
	var b strings.Builder

	snap := in.Snapshot
	fmt.Fprintf(&b, "Account snapshot (%s):\n", snap.TakenAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "  cash: %s USD (%s%%)\n", snap.Cash.StringFixed(2), snap.CashPct.StringFixed(1))
	for _, pv := range snap.Positions {
		if !pv.PriceKnown {
			fmt.Fprintf(&b, "  %s: %s shares @ avg %s, price unavailable\n",
				pv.Symbol, pv.Shares.String(), pv.AvgPrice.StringFixed(2))
			continue
		}
		fmt.Fprintf(&b, "  %s: %s shares @ avg %s, last %s, value %s, P/L %s%%\n",
			pv.Symbol, pv.Shares.String(), pv.AvgPrice.StringFixed(2),
			pv.LastPrice.StringFixed(2), pv.CurrentValue.StringFixed(2),
			pv.ProfitPct.StringFixed(1))
	}
	fmt.Fprintf(&b, "  total value: %s USD\n\n", snap.TotalValue.StringFixed(2))

	r := in.Risk
	fmt.Fprintf(&b, "Risk assessment:\n")
	fmt.Fprintf(&b, "  score: %d/100\n", r.Score)
	if r.MaxWeightSymbol != "" {
		fmt.Fprintf(&b, "  largest weight: %s at %s%%\n", r.MaxWeightSymbol, r.MaxWeightPct.StringFixed(1))
	}
	fmt.Fprintf(&b, "  risks: %s\n", strings.Join(r.MainRisks, "; "))
	fmt.Fprintf(&b, "  recommendations: %s\n\n", strings.Join(r.Recommendations, "; "))

	if len(in.Candidates) > 0 {
		b.WriteString("Screener candidates:\n")
		for _, c := range in.Candidates {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
		b.WriteString("\n")
	}
	if len(in.Headlines) > 0 {
		b.WriteString("Recent headlines:\n")
		for _, h := range in.Headlines {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
		b.WriteString("\n")
	}

	b.WriteString("Decide the rebalancing actions.")
	return b.String()
}
