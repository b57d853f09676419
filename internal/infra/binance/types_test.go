package binance

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMarkPrice(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		data := []byte(`{"e":"markPriceUpdate","E":1700000000123,"s":"ETHUSDT","p":"3021.50000000"}`)
		ev, err := parseMarkPrice(data)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if ev.Symbol != "ETHUSDT" {
			t.Errorf("symbol = %s", ev.Symbol)
		}
		if !ev.Price.Equal(decimal.RequireFromString("3021.5")) {
			t.Errorf("price = %s, want 3021.5", ev.Price)
		}
		if ev.Ts.UnixMilli() != 1700000000123 {
			t.Errorf("ts = %d", ev.Ts.UnixMilli())
		}
	})

	t.Run("non-numeric price", func(t *testing.T) {
		data := []byte(`{"e":"markPriceUpdate","E":1,"s":"ETHUSDT","p":"garbage"}`)
		if _, err := parseMarkPrice(data); err == nil {
			t.Error("garbage price must be rejected")
		}
	})
}

func TestParseKline(t *testing.T) {
	data := []byte(`{"e":"kline","E":1700000060000,"s":"ETHUSDT","k":{
		"t":1700000000000,"T":1700000059999,"i":"1m",
		"o":"3000.0","h":"3050.0","l":"2990.0","c":"3040.0",
		"v":"120.5","q":"364000.25","x":true}}`)

	ev, err := parseKline(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev.Symbol != "ETHUSDT" || ev.Interval != "1m" {
		t.Errorf("identity = %s/%s", ev.Symbol, ev.Interval)
	}
	if !ev.IsClosed {
		t.Error("candle should be closed")
	}
	if !ev.High.Equal(decimal.RequireFromString("3050")) || !ev.Low.Equal(decimal.RequireFromString("2990")) {
		t.Errorf("range = %s/%s", ev.High, ev.Low)
	}
	if !ev.QuoteVolume.Equal(decimal.RequireFromString("364000.25")) {
		t.Errorf("quote volume = %s", ev.QuoteVolume)
	}
	if ev.OpenTime.UnixMilli() != 1700000000000 {
		t.Errorf("open time = %d", ev.OpenTime.UnixMilli())
	}

	c := ev.Candle()
	if !c.RangePct().Equal(decimal.RequireFromString("60").Div(decimal.RequireFromString("2990"))) {
		t.Errorf("range pct = %s", c.RangePct())
	}
}

func TestParseOrderUpdate(t *testing.T) {
	t.Run("partial fill", func(t *testing.T) {
		data := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1700000000500,"T":1700000000499,"o":{
			"s":"ETHUSDT","i":8886774,"S":"BUY","X":"PARTIALLY_FILLED",
			"q":"10","z":"4","ap":"3000.5","l":"4"}}`)

		ev, err := parseOrderUpdate(data)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if ev.OrderID != "8886774" {
			t.Errorf("order id = %s", ev.OrderID)
		}
		if ev.Status != "PARTIALLY_FILLED" || ev.Side != "BUY" {
			t.Errorf("status/side = %s/%s", ev.Status, ev.Side)
		}
		if !ev.FilledQty.Equal(decimal.NewFromInt(4)) {
			t.Errorf("filled = %s", ev.FilledQty)
		}
		if ev.Sequence != 1700000000499 {
			t.Errorf("sequence = %d, want the transaction time", ev.Sequence)
		}
	})

	t.Run("missing order id", func(t *testing.T) {
		data := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1,"T":1,"o":{"s":"ETHUSDT","q":"1","z":"0","ap":"0","l":"0"}}`)
		if _, err := parseOrderUpdate(data); err == nil {
			t.Error("frame without an order id must be rejected")
		}
	})
}

func TestParseKlineRow(t *testing.T) {
	t.Run("valid row", func(t *testing.T) {
		raw := []byte(`[1700000000000,"3000.0","3050.0","2990.0","3040.0","120.5",1700000059999,"364000.25",100,"60.2","182000.1","0"]`)
		var row []json.RawMessage
		if err := json.Unmarshal(raw, &row); err != nil {
			t.Fatal(err)
		}

		c, err := parseKlineRow("ETHUSDT", "1m", row)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if !c.Closed {
			t.Error("history candles are always closed")
		}
		if !c.Close.Equal(decimal.RequireFromString("3040")) {
			t.Errorf("close = %s", c.Close)
		}
		if c.OpenTime.UnixMilli() != 1700000000000 || c.CloseTime.UnixMilli() != 1700000059999 {
			t.Errorf("times = %d/%d", c.OpenTime.UnixMilli(), c.CloseTime.UnixMilli())
		}
	})

	t.Run("short row", func(t *testing.T) {
		var row []json.RawMessage
		json.Unmarshal([]byte(`[1700000000000,"3000.0"]`), &row)
		if _, err := parseKlineRow("ETHUSDT", "1m", row); err == nil {
			t.Error("truncated row must be rejected")
		}
	})
}
