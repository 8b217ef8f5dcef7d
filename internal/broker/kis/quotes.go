package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
)

// segmentVenues maps trading segments to the quote API's exchange codes.
var segmentVenues = map[string]string{
	"NASD": "NAS",
	"NYSE": "NYS",
	"AMEX": "AMS",
}

type priceResponse struct {
	RtCd   string `json:"rt_cd"`
	Output struct {
		Last string `json:"last"`
	} `json:"output"`
}

// GetPrice returns the current price for symbol. The quote API needs a venue
// code, so unknown symbols are probed across venues; a hit is remembered for
// subsequent lookups and order routing. No venue answering means
// ErrPriceUnavailable, never zero.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("symbol is required")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	for _, venue := range c.venueProbeOrder(symbol) {
		var price decimal.Decimal
		err := broker.WithRetry(ctx, c.retry, func() error {
			p, err := c.fetchPrice(ctx, token, venue, symbol)
			if err != nil {
				return err
			}
			price = p
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return decimal.Zero, ctx.Err()
			}
			log.Debug().Err(err).Str("symbol", symbol).Str("venue", venue).Msg("price probe failed")
			continue
		}
		if price.IsPositive() {
			c.rememberVenue(symbol, venue)
			return price, nil
		}
	}

	return decimal.Zero, fmt.Errorf("%s: %w", symbol, broker.ErrPriceUnavailable)
}

// venueProbeOrder lists quote venues with any remembered hit first.
func (c *Client) venueProbeOrder(symbol string) []string {
	order := make([]string, 0, 3)
	if hint, ok := c.knownVenue(symbol); ok {
		order = append(order, hint)
	}
	for _, venue := range []string{"NAS", "NYS", "AMS"} {
		if len(order) > 0 && order[0] == venue {
			continue
		}
		order = append(order, venue)
	}
	return order
}

// fetchPrice asks one venue. A venue that does not know the symbol returns a
// zero price with no error; only transport problems are errors.
func (c *Client) fetchPrice(ctx context.Context, token, venue, symbol string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.tradeHeaders(token, trPrice)).
		SetQueryParams(map[string]string{
			"AUTH": "",
			"EXCD": venue,
			"SYMB": symbol,
		}).
		Get("/uapi/overseas-price/v1/quotations/price")
	if err != nil {
		return decimal.Zero, &broker.TransportError{Op: "price " + symbol, Err: err, Retryable: true}
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, &broker.TransportError{
			Op:        "price " + symbol,
			Err:       fmt.Errorf("status %d", resp.StatusCode()),
			Retryable: resp.StatusCode() >= 500,
		}
	}

	var out priceResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return decimal.Zero, &broker.TransportError{Op: "price " + symbol, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.RtCd != "0" || strings.TrimSpace(out.Output.Last) == "" {
		return decimal.Zero, nil
	}

	price, err := parseDecimal(out.Output.Last)
	if err != nil {
		log.Debug().Str("symbol", symbol).Str("venue", venue).Str("last", out.Output.Last).
			Msg("unparsable quote, treating venue as empty")
		return decimal.Zero, nil
	}
	return price, nil
}
