package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hayoon/kistrade/internal/broker"
)

type balanceResponse struct {
	RtCd    string       `json:"rt_cd"`
	MsgCd   string       `json:"msg_cd"`
	Msg1    string       `json:"msg1"`
	Output1 []balanceRow `json:"output1"`
}

type balanceRow struct {
	Symbol    string `json:"ovrs_pdno"`
	Name      string `json:"ovrs_item_name"`
	Quantity  string `json:"ovrs_cblc_qty"`
	AvgPrice  string `json:"pchs_avg_pric"`
	LastPrice string `json:"now_pric2"`
	Exchange  string `json:"ovrs_excg_cd"`
}

// FetchPositions queries every configured exchange segment and aggregates
// the rows by symbol: share counts are summed, price metadata takes the last
// observed row. A failed segment is skipped; only all segments failing is an
// error. Zero-share and unparsable rows are dropped.
func (c *Client) FetchPositions(ctx context.Context) ([]broker.Position, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	type segmentResult struct {
		segment string
		rows    []balanceRow
		err     error
	}
	results := make([]segmentResult, len(c.cfg.Segments))

	var wg sync.WaitGroup
	for i, segment := range c.cfg.Segments {
		wg.Add(1)
		go func(i int, segment string) {
			defer wg.Done()
			var rows []balanceRow
			err := broker.WithRetry(ctx, c.retry, func() error {
				var ferr error
				rows, ferr = c.fetchSegment(ctx, token, segment)
				return ferr
			})
			results[i] = segmentResult{segment: segment, rows: rows, err: err}
		}(i, segment)
	}
	wg.Wait()

	merged := map[string]*broker.Position{}
	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			log.Warn().Err(res.err).Str("segment", res.segment).Msg("balance segment failed, skipping")
			continue
		}
		for _, row := range res.rows {
			symbol := strings.TrimSpace(row.Symbol)
			if symbol == "" {
				continue
			}
			shares, err := parseDecimal(row.Quantity)
			if err != nil {
				log.Warn().Str("segment", res.segment).Str("symbol", symbol).
					Str("qty", row.Quantity).Msg("unparsable balance quantity, dropping row")
				continue
			}
			if !shares.IsPositive() {
				continue
			}
			avg, err := parseDecimal(row.AvgPrice)
			if err != nil {
				log.Warn().Str("segment", res.segment).Str("symbol", symbol).
					Str("avg_price", row.AvgPrice).Msg("unparsable balance price, dropping row")
				continue
			}
			last, _ := parseDecimal(row.LastPrice)

			if pos, ok := merged[symbol]; ok {
				pos.Shares = pos.Shares.Add(shares)
				pos.Name = row.Name
				pos.AvgPrice = avg
				pos.LastPrice = last
				pos.Exchange = res.segment
			} else {
				merged[symbol] = &broker.Position{
					Symbol:    symbol,
					Name:      row.Name,
					Shares:    shares,
					AvgPrice:  avg,
					LastPrice: last,
					Exchange:  res.segment,
				}
			}
			if venue, ok := segmentVenues[res.segment]; ok {
				c.rememberVenue(symbol, venue)
			}
		}
	}

	if failed > 0 && failed == len(c.cfg.Segments) {
		return nil, &broker.TransportError{
			Op:        "balance",
			Err:       fmt.Errorf("all %d segments failed", failed),
			Retryable: true,
		}
	}

	positions := make([]broker.Position, 0, len(merged))
	for _, pos := range merged {
		if pos.LastPrice.IsPositive() {
			pos.Value = pos.Shares.Mul(pos.LastPrice)
		} else {
			pos.Value = pos.Shares.Mul(pos.AvgPrice)
		}
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	return positions, nil
}

func (c *Client) fetchSegment(ctx context.Context, token, segment string) ([]balanceRow, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.tradeHeaders(token, trBalance)).
		SetQueryParams(map[string]string{
			"CANO":           c.cfg.AccountNo,
			"ACNT_PRDT_CD":   c.cfg.AccountCode,
			"OVRS_EXCG_CD":   segment,
			"TR_CRCY_CD":     c.cfg.Currency,
			"CTX_AREA_FK200": "",
			"CTX_AREA_NK200": "",
		}).
		Get("/uapi/overseas-stock/v1/trading/inquire-balance")
	if err != nil {
		return nil, &broker.TransportError{Op: "balance " + segment, Err: err, Retryable: true}
	}
	if resp.StatusCode() != 200 {
		return nil, &broker.TransportError{
			Op:        "balance " + segment,
			Err:       fmt.Errorf("status %d", resp.StatusCode()),
			Retryable: resp.StatusCode() >= 500,
		}
	}

	var out balanceResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &broker.TransportError{Op: "balance " + segment, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.RtCd != "0" {
		return nil, &broker.TransportError{
			Op:  "balance " + segment,
			Err: fmt.Errorf("%s: %s", out.MsgCd, strings.TrimSpace(out.Msg1)),
		}
	}
	return out.Output1, nil
}

type presentBalanceResponse struct {
	RtCd    string              `json:"rt_cd"`
	MsgCd   string              `json:"msg_cd"`
	Msg1    string              `json:"msg1"`
	Output2 []presentBalanceRow `json:"output2"`
}

type presentBalanceRow struct {
	Currency     string `json:"crcy_cd"`
	Withdrawable string `json:"frcr_drwg_psbl_amt_1"`
}

// FetchCash returns the settled withdrawable balance in the trade currency.
func (c *Client) FetchCash(ctx context.Context) (decimal.Decimal, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	var cash decimal.Decimal
	err = broker.WithRetry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.tradeHeaders(token, trPresentBalance)).
			SetQueryParams(map[string]string{
				"CANO":              c.cfg.AccountNo,
				"ACNT_PRDT_CD":      c.cfg.AccountCode,
				"WCRC_FRCR_DVSN_CD": "02",
				"NATN_CD":           "840",
				"TR_MKET_CD":        "00",
				"INQR_DVSN_CD":      "00",
			}).
			Get("/uapi/overseas-stock/v1/trading/inquire-present-balance")
		if err != nil {
			return &broker.TransportError{Op: "present balance", Err: err, Retryable: true}
		}
		if resp.StatusCode() != 200 {
			return &broker.TransportError{
				Op:        "present balance",
				Err:       fmt.Errorf("status %d", resp.StatusCode()),
				Retryable: resp.StatusCode() >= 500,
			}
		}

		var out presentBalanceResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return &broker.TransportError{Op: "present balance", Err: fmt.Errorf("decode response: %w", err)}
		}
		if out.RtCd != "0" {
			return &broker.TransportError{
				Op:  "present balance",
				Err: fmt.Errorf("%s: %s", out.MsgCd, strings.TrimSpace(out.Msg1)),
			}
		}

		for _, row := range out.Output2 {
			if !strings.EqualFold(strings.TrimSpace(row.Currency), c.cfg.Currency) {
				continue
			}
			v, err := parseDecimal(row.Withdrawable)
			if err != nil {
				return fmt.Errorf("present balance: parse %s amount %q: %w", c.cfg.Currency, row.Withdrawable, err)
			}
			cash = v
			return nil
		}
		return fmt.Errorf("present balance: no %s currency row", c.cfg.Currency)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return cash, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric field")
	}
	return decimal.NewFromString(s)
}
