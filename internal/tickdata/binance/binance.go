// Package binance downloads aggregated trades from the Binance spot REST API
// into the canonical tick table.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"go.uber.org/zap"
)

const (
	baseURL = "https://api.binance.com"

	// pageLimit is the largest page aggTrades serves.
	pageLimit = 1000
	// window is the longest startTime/endTime span aggTrades accepts.
	window = time.Hour
)

// Client fetches trades from Binance.
type Client struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// New creates a new Binance client
func New(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// NewWithBaseURL creates a client with custom base URL (for testing)
func NewWithBaseURL(url string, logger *zap.Logger) *Client {
	c := New(logger)
	c.baseURL = url
	return c
}

// aggTrade is one element of the /api/v3/aggTrades response.
type aggTrade struct {
	ID           int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	Time         int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// FetchTrades returns every aggregated trade of symbol in [start, end), in
// exchange order. The aggressor side is derived from the maker flag.
func (c *Client) FetchTrades(ctx context.Context, symbol string, start, end time.Time) ([]core.Tick, error) {
	if !end.After(start) {
		return nil, core.Errorf(core.ErrConfigInvalid, "empty range %s to %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var ticks []core.Tick
	for from := start; from.Before(end); from = from.Add(window) {
		to := from.Add(window)
		if to.After(end) {
			to = end
		}

		q := url.Values{}
		q.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(to.UnixMilli()-1, 10))
		page, err := c.page(ctx, symbol, q)
		if err != nil {
			return nil, err
		}

		// a full page means the window holds more trades; continue by id
		for len(page) == pageLimit {
			if ticks, err = appendTicks(ticks, page, to); err != nil {
				return nil, err
			}
			last := page[len(page)-1]
			if last.Time >= to.UnixMilli() {
				page = nil
				break
			}
			q := url.Values{}
			q.Set("fromId", strconv.FormatInt(last.ID+1, 10))
			if page, err = c.page(ctx, symbol, q); err != nil {
				return nil, err
			}
		}
		if ticks, err = appendTicks(ticks, page, to); err != nil {
			return nil, err
		}
	}

	c.logger.Info("fetched trades",
		zap.String("symbol", symbol),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("ticks", len(ticks)),
	)
	return ticks, nil
}

func (c *Client) page(ctx context.Context, symbol string, q url.Values) ([]aggTrade, error) {
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(pageLimit))
	u := fmt.Sprintf("%s/api/v3/aggTrades?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching trades: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var trades []aggTrade
	if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	c.logger.Debug("aggTrades page", zap.String("symbol", symbol), zap.Int("trades", len(trades)))
	return trades, nil
}

// appendTicks converts trades before the window end.
func appendTicks(ticks []core.Tick, page []aggTrade, end time.Time) ([]core.Tick, error) {
	for _, tr := range page {
		if tr.Time >= end.UnixMilli() {
			break
		}
		price, err := strconv.ParseFloat(tr.Price, 64)
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedInput, fmt.Errorf("trade %d price: %w", tr.ID, err))
		}
		qty, err := strconv.ParseFloat(tr.Quantity, 64)
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedInput, fmt.Errorf("trade %d quantity: %w", tr.ID, err))
		}
		side := core.SideBuy
		if tr.IsBuyerMaker {
			side = core.SideSell
		}
		ticks = append(ticks, core.Tick{
			Time:  time.UnixMilli(tr.Time).UTC(),
			Price: price,
			Size:  qty,
			Side:  side,
		})
	}
	return ticks, nil
}
