package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"trigger_go/internal/event"

	"github.com/shopspring/decimal"
)

const (
	baseDelay    = 1 * time.Second
	maxDelay     = 60 * time.Second
	pingInterval = 3 * time.Minute
	readTimeout  = 10 * time.Minute

	// Listen keys expire after 60 minutes without a keepalive.
	keepaliveInterval = 30 * time.Minute
)

// RetryPolicy bounds the reconnect delay of a stream worker. The delay
// doubles after every failed dial and resets once a read loop exits
// normally.
type RetryPolicy struct {
	base time.Duration
	max  time.Duration
}

// NewRetryPolicy builds a policy from config seconds, falling back to
// the package defaults for non-positive values.
func NewRetryPolicy(baseSec, maxSec int) RetryPolicy {
	p := RetryPolicy{base: baseDelay, max: maxDelay}
	if baseSec > 0 {
		p.base = time.Duration(baseSec) * time.Second
	}
	if maxSec > 0 {
		p.max = time.Duration(maxSec) * time.Second
	}
	return p
}

// subscribeRequest Structure
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// combinedFrame wraps every message on a combined-stream connection.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type markPricePayload struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

type klinePayload struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime    int64  `json:"t"`
		CloseTime   int64  `json:"T"`
		Interval    string `json:"i"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Close       string `json:"c"`
		Volume      string `json:"v"`
		QuoteVolume string `json:"q"`
		Closed      bool   `json:"x"`
	} `json:"k"`
}

// orderUpdatePayload is the futures user-stream ORDER_TRADE_UPDATE
// frame. TransactTime orders events per order on the exchange side.
type orderUpdatePayload struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	TransactTime int64  `json:"T"`
	Order        struct {
		Symbol       string `json:"s"`
		OrderID      int64  `json:"i"`
		Side         string `json:"S"`
		Status       string `json:"X"`
		OrigQty      string `json:"q"`
		CumFilledQty string `json:"z"`
		AvgPrice     string `json:"ap"`
		LastFillQty  string `json:"l"`
	} `json:"o"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// eventTypeProbe extracts the "e" field so user-stream frames can be
// routed before full decoding.
type eventTypeProbe struct {
	EventType string `json:"e"`
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// parseMarkPrice decodes a markPriceUpdate payload into a pooled event.
func parseMarkPrice(data []byte) (*event.MarkPriceEvent, error) {
	var p markPricePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("mark price decode: %w", err)
	}
	price, err := decimal.NewFromString(p.MarkPrice)
	if err != nil {
		return nil, fmt.Errorf("mark price %q: %w", p.MarkPrice, err)
	}

	ev := event.AcquireMarkPriceEvent()
	ev.Symbol = p.Symbol
	ev.Price = price
	ev.Ts = msToTime(p.EventTime)
	return ev, nil
}

// parseKline decodes a kline payload.
func parseKline(data []byte) (*event.KlineEvent, error) {
	var p klinePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("kline decode: %w", err)
	}

	fields := map[string]string{
		"open": p.Kline.Open, "high": p.Kline.High, "low": p.Kline.Low,
		"close": p.Kline.Close, "volume": p.Kline.Volume, "quote volume": p.Kline.QuoteVolume,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for name, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("kline %s %q: %w", name, raw, err)
		}
		parsed[name] = d
	}

	return &event.KlineEvent{
		Symbol:      p.Symbol,
		Interval:    p.Kline.Interval,
		Open:        parsed["open"],
		High:        parsed["high"],
		Low:         parsed["low"],
		Close:       parsed["close"],
		Volume:      parsed["volume"],
		QuoteVolume: parsed["quote volume"],
		IsClosed:    p.Kline.Closed,
		OpenTime:    msToTime(p.Kline.OpenTime),
		Ts:          msToTime(p.EventTime),
	}, nil
}

// parseOrderUpdate decodes an ORDER_TRADE_UPDATE payload. The exchange
// transaction time doubles as the per-order sequence.
func parseOrderUpdate(data []byte) (*event.AccountOrderEvent, error) {
	var p orderUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("order update decode: %w", err)
	}
	if p.Order.OrderID == 0 {
		return nil, fmt.Errorf("order update missing order id")
	}

	filled, err := decimal.NewFromString(p.Order.CumFilledQty)
	if err != nil {
		return nil, fmt.Errorf("filled qty %q: %w", p.Order.CumFilledQty, err)
	}
	requested, err := decimal.NewFromString(p.Order.OrigQty)
	if err != nil {
		return nil, fmt.Errorf("orig qty %q: %w", p.Order.OrigQty, err)
	}
	avg, err := decimal.NewFromString(p.Order.AvgPrice)
	if err != nil {
		return nil, fmt.Errorf("avg price %q: %w", p.Order.AvgPrice, err)
	}
	lastFill, err := decimal.NewFromString(p.Order.LastFillQty)
	if err != nil {
		return nil, fmt.Errorf("last fill qty %q: %w", p.Order.LastFillQty, err)
	}

	return &event.AccountOrderEvent{
		Symbol:       p.Order.Symbol,
		OrderID:      strconv.FormatInt(p.Order.OrderID, 10),
		Status:       p.Order.Status,
		Side:         p.Order.Side,
		RequestedQty: requested,
		FilledQty:    filled,
		LastFillQty:  lastFill,
		AvgPrice:     avg,
		Sequence:     p.TransactTime,
		Ts:           msToTime(p.EventTime),
	}, nil
}
