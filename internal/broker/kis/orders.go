package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hayoon/kistrade/internal/broker"
)

type orderResponse struct {
	RtCd   string `json:"rt_cd"`
	MsgCd  string `json:"msg_cd"`
	Msg1   string `json:"msg1"`
	Output struct {
		OrderNo string `json:"ODNO"`
	} `json:"output"`
}

// SubmitOrder places one limit order at the reference price. Every failure,
// transport included, comes back as a structured Reject; the call is made at
// most once. The error return fires only on malformed input.
func (c *Client) SubmitOrder(ctx context.Context, order broker.Order) (broker.OrderOutcome, error) {
	symbol := strings.TrimSpace(strings.ToUpper(order.Symbol))
	if symbol == "" {
		return broker.OrderOutcome{}, fmt.Errorf("order symbol is required")
	}
	if order.Side != broker.SideBuy && order.Side != broker.SideSell {
		return broker.OrderOutcome{}, fmt.Errorf("order side %q is invalid", order.Side)
	}
	if !order.Quantity.IsPositive() || !order.Price.IsPositive() {
		return broker.OrderOutcome{}, fmt.Errorf("order quantity and price must be positive")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return reject(broker.RejectCodeTransport, err.Error()), nil
	}

	trID := trOrderBuy
	if order.Side == broker.SideSell {
		trID = trOrderSell
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return reject(broker.RejectCodeTransport, err.Error()), nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.tradeHeaders(token, trID)).
		SetBody(map[string]string{
			"CANO":            c.cfg.AccountNo,
			"ACNT_PRDT_CD":    c.cfg.AccountCode,
			"OVRS_EXCG_CD":    c.orderSegment(order, symbol),
			"PDNO":            symbol,
			"ORD_QTY":         order.Quantity.String(),
			"OVRS_ORD_UNPR":   order.Price.String(),
			"ORD_SVR_DVSN_CD": "0",
			"ORD_DVSN":        "00",
		}).
		Post("/uapi/overseas-stock/v1/trading/order")
	if err != nil {
		return reject(broker.RejectCodeTransport, err.Error()), nil
	}
	if resp.StatusCode() != 200 {
		return reject(broker.RejectCodeTransport,
			fmt.Sprintf("status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))), nil
	}

	var out orderResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return reject(broker.RejectCodeTransport, "decode response: "+err.Error()), nil
	}
	if out.RtCd != "0" {
		return reject(out.MsgCd, strings.TrimSpace(out.Msg1)), nil
	}

	log.Info().Str("symbol", symbol).Str("side", string(order.Side)).
		Str("qty", order.Quantity.String()).Str("price", order.Price.String()).
		Str("order_id", out.Output.OrderNo).Msg("kis order accepted")

	return broker.OrderOutcome{
		Ack: &broker.OrderAck{OrderID: out.Output.OrderNo, ExecutedPrice: order.Price},
	}, nil
}

// orderSegment resolves the trading segment for an order: explicit hint,
// then remembered venue, then the NASDAQ default.
func (c *Client) orderSegment(order broker.Order, symbol string) string {
	if order.Exchange != "" {
		return order.Exchange
	}
	if venue, ok := c.knownVenue(symbol); ok {
		for segment, v := range segmentVenues {
			if v == venue {
				return segment
			}
		}
	}
	return "NASD"
}

func reject(code, message string) broker.OrderOutcome {
	return broker.OrderOutcome{Reject: &broker.OrderReject{Code: code, Message: message}}
}
