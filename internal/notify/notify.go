// Package notify delivers run summaries to Telegram. Without a configured
// token the notifier degrades to a no-op, so call sites fire unconditionally.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Notifier delivers a titled message to an external channel.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}

// Telegram posts Markdown messages through the Bot API.
type Telegram struct {
	token  string
	chatID string
	api    string
	http   *resty.Client
}

// NewTelegram builds a notifier. Missing credentials yield a disabled
// instance whose Send always succeeds without doing anything.
func NewTelegram(token, chatID string) *Telegram {
	if token == "" || chatID == "" {
		log.Debug().Msg("telegram notifier disabled, no token configured")
		return &Telegram{}
	}

	client := resty.New()
	client.SetTimeout(10 * time.Second)

	return &Telegram{
		token:  token,
		chatID: chatID,
		api:    "https://api.telegram.org",
		http:   client,
	}
}

// Enabled reports whether Send will actually post.
func (t *Telegram) Enabled() bool {
	return t != nil && t.http != nil
}

// Send posts one message. The title lands bold above the body.
func (t *Telegram) Send(ctx context.Context, title, message string) error {
	if !t.Enabled() {
		return nil
	}

	text := fmt.Sprintf("*%s*\n\n%s", title, message)
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post(fmt.Sprintf("%s/bot%s/sendMessage", t.api, t.token))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("telegram send: HTTP %d", resp.StatusCode())
	}

	log.Debug().Str("title", title).Msg("telegram notification sent")
	return nil
}
