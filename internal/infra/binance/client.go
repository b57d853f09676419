package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trigger_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Client is the Binance futures REST client. It covers exactly the two
// surfaces the trigger loop needs: user-stream listen keys and kline
// history for detector warmup.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a REST client against the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(fmt.Sprintf("binance %s %s", method, path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}

// NewListenKey opens a user data stream and returns its listen key.
func (c *Client) NewListenKey(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("listen key decode: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listen key")
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the listen key's validity.
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPut, "/fapi/v1/listenKey", nil)
	return err
}

// CloseListenKey closes the user data stream.
func (c *Client) CloseListenKey(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/fapi/v1/listenKey", nil)
	return err
}

// Klines fetches closed candle history for detector warmup. The
// exchange returns candles as positional arrays, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/klines", q)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("klines decode: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKlineRow(symbol, interval, row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// parseKlineRow decodes one positional kline row:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...]
func parseKlineRow(symbol, interval string, row []json.RawMessage) (domain.Candle, error) {
	if len(row) < 8 {
		return domain.Candle{}, fmt.Errorf("kline row has %d fields, want at least 8", len(row))
	}

	var openTime, closeTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return domain.Candle{}, fmt.Errorf("kline open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeTime); err != nil {
		return domain.Candle{}, fmt.Errorf("kline close time: %w", err)
	}

	nums := make([]decimal.Decimal, 0, 6)
	for _, idx := range []int{1, 2, 3, 4, 5, 7} {
		var s string
		if err := json.Unmarshal(row[idx], &s); err != nil {
			return domain.Candle{}, fmt.Errorf("kline field %d: %w", idx, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("kline field %d %q: %w", idx, s, err)
		}
		nums = append(nums, d)
	}

	return domain.Candle{
		Symbol:      symbol,
		Interval:    interval,
		Open:        nums[0],
		High:        nums[1],
		Low:         nums[2],
		Close:       nums[3],
		Volume:      nums[4],
		QuoteVolume: nums[5],
		OpenTime:    msToTime(openTime),
		CloseTime:   msToTime(closeTime),
		Closed:      true,
	}, nil
}
