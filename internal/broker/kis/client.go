// Package kis implements the broker gateway against the KIS (Korea
// Investment & Securities) OpenAPI for overseas stock accounts.
package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hayoon/kistrade/internal/broker"
)

const (
	defaultBaseURL = "https://openapi.koreainvestment.com:9443"

	trBalance        = "TTTS3012R"
	trPresentBalance = "CTRP6504R"
	trPrice          = "HHDFS00000300"
	trOrderBuy       = "TTTT1002U"
	trOrderSell      = "TTTT1006U"
)

// The cached token is renewed once this share of its validity has elapsed,
// so a long-running process never trades on a token about to expire.
const (
	tokenSafetyNum = 23
	tokenSafetyDen = 24
)

// Config carries credentials and transport tuning for the KIS client.
type Config struct {
	AppKey      string
	AppSecret   string
	AccountNo   string
	AccountCode string
	BaseURL     string
	// Segments are the exchange codes queried for balances.
	Segments []string
	Currency string
	Timeout  time.Duration
	// RateLimit paces all calls; KIS throttles per second.
	RateLimit rate.Limit
	RateBurst int
	Retry     *broker.RetryConfig
}

// Client talks to the KIS OpenAPI. It caches the OAuth token, paces every
// call through a shared limiter and remembers which venue answers for each
// symbol.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
	retry   *broker.RetryConfig
	now     func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
	validity time.Duration

	venueMu sync.Mutex
	venues  map[string]string // symbol → quote exchange code (NAS, NYS, AMS)
}

// New builds a client. Zero-valued tuning fields get working defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Segments) == 0 {
		cfg.Segments = []string{"NASD", "NYSE", "AMEX"}
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	retry := cfg.Retry
	if retry == nil {
		retry = broker.DefaultRetryConfig()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("content-type", "application/json; charset=utf-8")

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		retry:   retry,
		now:     time.Now,
		venues:  map[string]string{},
	}
}

// Authenticate obtains (or refreshes) the OAuth bearer token.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.accessToken(ctx)
	return err
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Sub(c.issuedAt) < c.validity/tokenSafetyDen*tokenSafetyNum {
		return c.token, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     c.cfg.AppKey,
			"appsecret":  c.cfg.AppSecret,
		}).
		Post("/oauth2/tokenP")
	if err != nil {
		return "", &broker.TransportError{Op: "token", Err: err, Retryable: true}
	}
	if resp.StatusCode() != 200 {
		return "", &broker.TransportError{
			Op:        "token",
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())),
			Retryable: resp.StatusCode() >= 500,
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return "", &broker.TransportError{Op: "token", Err: fmt.Errorf("decode response: %w", err)}
	}
	if tok.AccessToken == "" {
		return "", &broker.TransportError{Op: "token", Err: fmt.Errorf("empty access token")}
	}

	c.token = tok.AccessToken
	c.issuedAt = c.now()
	c.validity = time.Duration(tok.ExpiresIn) * time.Second
	if c.validity <= 0 {
		c.validity = 24 * time.Hour
	}
	log.Debug().Dur("validity", c.validity).Msg("kis access token issued")

	return c.token, nil
}

func (c *Client) tradeHeaders(token, trID string) map[string]string {
	return map[string]string{
		"authorization": "Bearer " + token,
		"appkey":        c.cfg.AppKey,
		"appsecret":     c.cfg.AppSecret,
		"tr_id":         trID,
		"custtype":      "P",
	}
}

func (c *Client) rememberVenue(symbol, venue string) {
	c.venueMu.Lock()
	defer c.venueMu.Unlock()
	c.venues[symbol] = venue
}

func (c *Client) knownVenue(symbol string) (string, bool) {
	c.venueMu.Lock()
	defer c.venueMu.Unlock()
	v, ok := c.venues[symbol]
	return v, ok
}
